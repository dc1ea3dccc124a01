package wal

import (
	"fmt"
	"testing"
	"time"
)

func TestRecoveryCommittedRecords(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)
	for i := 0; i < 3; i++ {
		if _, err := w.Append([]byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("value-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	w.Close()

	w2 := openTestWAL(t, dir)
	defer w2.Close()

	var replayed []string
	stats, err := NewRecovery(w2).Recover(
		func(snapshot []byte) error {
			t.Error("no snapshot expected")
			return nil
		},
		func(key, value []byte) error {
			replayed = append(replayed, string(key)+"="+string(value))
			return nil
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	if len(replayed) != 3 {
		t.Fatalf("expected 3 replayed records, got %d", len(replayed))
	}
	for i, got := range replayed {
		want := fmt.Sprintf("key-%d=value-%d", i, i)
		if got != want {
			t.Errorf("record %d: expected %s, got %s", i, want, got)
		}
	}
	if stats.CommittedTxns != 3 || stats.ReplayedRecords != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestRecoveryUncommittedRecords(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)

	if _, err := w.Append([]byte("step"), []byte("committed")); err != nil {
		t.Fatal(err)
	}

	// A record whose commit marker never made it to disk
	lsn := w.NextLSN()
	w.Write(Entry{LSN: lsn, TxnID: lsn, OpType: OpRecord, Key: []byte("step"), Value: []byte("lost"), Timestamp: time.Now()})
	w.Fsync()
	w.Close()

	w2 := openTestWAL(t, dir)
	defer w2.Close()

	var replayed []string
	stats, err := NewRecovery(w2).Recover(
		func([]byte) error { return nil },
		func(key, value []byte) error {
			replayed = append(replayed, string(value))
			return nil
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	if len(replayed) != 1 || replayed[0] != "committed" {
		t.Errorf("expected only the committed record, got %v", replayed)
	}
	if stats.UncommittedTxns != 1 {
		t.Errorf("expected 1 uncommitted txn, got %d", stats.UncommittedTxns)
	}
}

func TestRecoveryAfterSnapshot(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)

	w.Append([]byte("step"), []byte("before-1"))
	w.Append([]byte("step"), []byte("before-2"))
	snapLSN, err := w.Snapshot([]byte("image"))
	if err != nil {
		t.Fatal(err)
	}
	w.Append([]byte("step"), []byte("after-1"))
	w.Close()

	w2 := openTestWAL(t, dir)
	defer w2.Close()

	var restored string
	var replayed []string
	stats, err := NewRecovery(w2).Recover(
		func(snapshot []byte) error {
			restored = string(snapshot)
			return nil
		},
		func(key, value []byte) error {
			replayed = append(replayed, string(value))
			return nil
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	if restored != "image" {
		t.Errorf("expected snapshot image, got %q", restored)
	}
	if len(replayed) != 1 || replayed[0] != "after-1" {
		t.Errorf("expected only post-snapshot records, got %v", replayed)
	}
	if !stats.HasSnapshot || stats.SnapshotLSN != snapLSN {
		t.Errorf("unexpected snapshot stats: %+v (want LSN %d)", stats, snapLSN)
	}
}

func TestRecoverySnapshotRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	w := &WAL{Path: dir + "/test.wal", MaxFileSize: 512}
	if err := w.Open(); err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	for i := 0; i < 10; i++ {
		w.Append([]byte("step"), make([]byte, 100))
	}
	before, _ := w.Files()
	if len(before) < 2 {
		t.Fatalf("expected rotation before snapshot, got %d files", len(before))
	}

	if _, err := w.Snapshot([]byte("image")); err != nil {
		t.Fatal(err)
	}

	after, _ := w.Files()
	if len(after) != 1 {
		t.Fatalf("expected a single file after snapshot, got %d", len(after))
	}
	entries, err := ReadAll(after)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].OpType != OpSnapshot {
		t.Errorf("expected the snapshot to open the new file, got %v", entries)
	}
}

func TestRecoveryReplayError(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)
	w.Append([]byte("step"), []byte("bad"))
	w.Close()

	w2 := openTestWAL(t, dir)
	defer w2.Close()

	_, err := NewRecovery(w2).Recover(
		func([]byte) error { return nil },
		func(key, value []byte) error { return fmt.Errorf("cannot apply %s", value) },
	)
	if err == nil {
		t.Error("expected replay error to propagate")
	}
}

func TestRecoveryEmptyWAL(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)
	defer w.Close()

	calls := 0
	stats, err := NewRecovery(w).Recover(
		func([]byte) error { calls++; return nil },
		func(key, value []byte) error { calls++; return nil },
	)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 || stats.TotalEntries != 0 || stats.HasSnapshot {
		t.Errorf("expected nothing to recover, got calls=%d stats=%+v", calls, stats)
	}
}
