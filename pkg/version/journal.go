// ABOUTME: Durable session journal on top of the write-ahead log
// ABOUTME: Encodes store events and snapshots as record payloads

package version

import (
	"errors"
	"fmt"
	"time"

	"github.com/kosaladathapththu/Code-Evolution-Tracker/pkg/record"
	"github.com/kosaladathapththu/Code-Evolution-Tracker/pkg/wal"
)

// JournalObserver is told about every journal write
type JournalObserver func(operation string, duration time.Duration, err error)

// WALJournal persists store events in a WAL
type WALJournal struct {
	wal     *wal.WAL
	observe JournalObserver
}

// JournalOption configures a WALJournal
type JournalOption func(*WALJournal)

// WithJournalObserver reports write durations and failures
func WithJournalObserver(fn JournalObserver) JournalOption {
	return func(j *WALJournal) { j.observe = fn }
}

// WithMaxFileSize sets the WAL rotation size
func WithMaxFileSize(n int64) JournalOption {
	return func(j *WALJournal) { j.wal.MaxFileSize = n }
}

// OpenWALJournal opens or creates the journal at path
func OpenWALJournal(path string, opts ...JournalOption) (*WALJournal, error) {
	j := &WALJournal{
		wal:     &wal.WAL{Path: path},
		observe: func(string, time.Duration, error) {},
	}
	for _, opt := range opts {
		opt(j)
	}

	if err := j.wal.Open(); err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return j, nil
}

// Append writes one event durably
func (j *WALJournal) Append(ev Event) error {
	start := time.Now()
	value, err := encodeEvent(ev)
	if err == nil {
		_, err = j.wal.Append([]byte(ev.Op), value)
	}
	j.observe(string(ev.Op), time.Since(start), err)
	return err
}

// Checkpoint writes a snapshot and drops the entries it supersedes. A
// snapshot above the WAL entry limit fails and the journal keeps growing.
func (j *WALJournal) Checkpoint(snap Snapshot) error {
	start := time.Now()
	data := encodeSnapshot(snap)
	_, err := j.wal.Snapshot(data)
	if errors.Is(err, wal.ErrEntryTooLarge) {
		err = fmt.Errorf("snapshot of %d versions is %d bytes: %w", len(snap.Versions), len(data), err)
	}
	j.observe("snapshot", time.Since(start), err)
	return err
}

// Files lists the journal's log files
func (j *WALJournal) Files() ([]string, error) {
	return j.wal.Files()
}

// Close flushes and closes the journal
func (j *WALJournal) Close() error {
	return j.wal.Close()
}

// Recover rebuilds a session from the journal and attaches the journal to
// it. A journal without a snapshot is sealed with one so the session id
// survives restarts.
func Recover(j *WALJournal, opts ...Option) (*VersionStore, *wal.RecoveryStats, error) {
	s := NewVersionStore(opts...)

	stats, err := wal.NewRecovery(j.wal).Recover(
		func(data []byte) error {
			snap, err := decodeSnapshot(data)
			if err != nil {
				return err
			}
			return s.restore(snap)
		},
		func(key, value []byte) error {
			ev, err := decodeEvent(EventOp(key), value)
			if err != nil {
				return err
			}
			return s.apply(ev)
		},
	)
	if err != nil {
		return nil, stats, fmt.Errorf("recover session: %w", err)
	}

	s.journal = j
	if !stats.HasSnapshot {
		if err := s.Compact(); err != nil {
			return nil, stats, err
		}
	}

	s.log.Info().
		Str("session_id", s.sessionID).
		Int("versions", len(s.versions)).
		Int("replayed", stats.ReplayedRecords).
		Bool("torn_tail", stats.TornTail).
		Msg("session recovered")

	return s, stats, nil
}

func versionValues(v *Version) []record.Value {
	return []record.Value{
		record.NewInt64Value(v.VersionID),
		record.NewTimeValue(v.Timestamp),
		record.NewStringValue(v.CodeText),
		record.NewStringValue(v.Note),
		record.NewStringValue(v.ErrorType),
		record.NewBoolValue(v.BugFree),
	}
}

func readVersion(r *record.Reader) *Version {
	return &Version{
		VersionID: r.Int64(),
		Timestamp: r.Time(),
		CodeText:  r.String(),
		Note:      r.String(),
		ErrorType: r.String(),
		BugFree:   r.Bool(),
	}
}

func encodeEvent(ev Event) ([]byte, error) {
	switch ev.Op {
	case EventStep:
		if ev.Version == nil {
			return nil, fmt.Errorf("step event without version")
		}
		return record.Encode(versionValues(ev.Version)), nil
	case EventMarkBugFree, EventUndo, EventJump:
		return record.Encode([]record.Value{record.NewInt64Value(ev.VersionID)}), nil
	default:
		return nil, fmt.Errorf("unknown event %q", ev.Op)
	}
}

func decodeEvent(op EventOp, data []byte) (Event, error) {
	r, err := record.NewReader(data)
	if err != nil {
		return Event{}, err
	}

	ev := Event{Op: op}
	switch op {
	case EventStep:
		ev.Version = readVersion(r)
	case EventMarkBugFree, EventUndo, EventJump:
		ev.VersionID = r.Int64()
	default:
		return Event{}, fmt.Errorf("unknown event %q", op)
	}

	if err := r.Err(); err != nil {
		return Event{}, fmt.Errorf("decode %s event: %w", op, err)
	}
	if r.Remaining() != 0 {
		return Event{}, fmt.Errorf("decode %s event: %d trailing fields", op, r.Remaining())
	}
	return ev, nil
}

func encodeSnapshot(snap Snapshot) []byte {
	vals := []record.Value{
		record.NewStringValue(snap.SessionID),
		record.NewInt64Value(snap.LastID),
		record.NewInt64Value(snap.CurrentID),
		record.NewInt64Value(int64(len(snap.Versions))),
	}
	for _, v := range snap.Versions {
		vals = append(vals, versionValues(v)...)
	}
	return record.Encode(vals)
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	r, err := record.NewReader(data)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		SessionID: r.String(),
		LastID:    r.Int64(),
		CurrentID: r.Int64(),
	}
	count := r.Int64()
	if err := r.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot header: %w", err)
	}
	if count < 0 || int(count)*6 != r.Remaining() {
		return Snapshot{}, fmt.Errorf("decode snapshot: %d versions but %d fields", count, r.Remaining())
	}

	snap.Versions = make([]*Version, 0, count)
	for i := int64(0); i < count; i++ {
		snap.Versions = append(snap.Versions, readVersion(r))
	}
	if err := r.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
