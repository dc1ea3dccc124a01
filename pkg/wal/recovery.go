package wal

import (
	"fmt"
	"os"
)

// RestoreFunc loads the newest snapshot payload
type RestoreFunc func(snapshot []byte) error

// ReplayFunc is called for each committed record after the newest snapshot
type ReplayFunc func(key, value []byte) error

// Recovery rebuilds state from the WAL
type Recovery struct {
	wal *WAL
}

// NewRecovery creates a recovery manager
func NewRecovery(wal *WAL) *Recovery {
	return &Recovery{wal: wal}
}

// RecoveryStats describes what a recovery pass found
type RecoveryStats struct {
	TotalEntries    int
	CommittedTxns   int
	UncommittedTxns int
	ReplayedRecords int
	SnapshotLSN     uint64
	HasSnapshot     bool
	TornTail        bool
}

// Transaction represents a group of WAL entries for a single transaction
type Transaction struct {
	TxnID     uint64
	StartLSN  uint64
	Entries   []*Entry
	Committed bool
}

// Recover restores the newest snapshot, then replays committed records
// written after it in LSN order. Uncommitted records are skipped.
func (r *Recovery) Recover(restore RestoreFunc, replay ReplayFunc) (*RecoveryStats, error) {
	stats := &RecoveryStats{}

	files, err := r.wal.Files()
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil // No WAL files = fresh start
		}
		return nil, err
	}
	if len(files) == 0 {
		return stats, nil
	}

	entries, torn, err := readAll(files)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL entries: %w", err)
	}
	stats.TotalEntries = len(entries)
	stats.TornTail = torn || r.wal.TornTail()

	if snap := findLastSnapshot(entries); snap != nil {
		stats.HasSnapshot = true
		stats.SnapshotLSN = snap.LSN
		if err := restore(snap.Value); err != nil {
			return stats, fmt.Errorf("restore snapshot at LSN %d: %w", snap.LSN, err)
		}
	}

	for _, txn := range groupByTransaction(entries, stats.SnapshotLSN) {
		if !txn.Committed {
			stats.UncommittedTxns++
			continue
		}

		stats.CommittedTxns++
		for _, entry := range txn.Entries {
			if err := replay(entry.Key, entry.Value); err != nil {
				return stats, fmt.Errorf("replay failed at LSN %d: %w", entry.LSN, err)
			}
			stats.ReplayedRecords++
		}
	}

	return stats, nil
}

// groupByTransaction groups record entries newer than afterLSN by transaction ID
func groupByTransaction(entries []*Entry, afterLSN uint64) []*Transaction {
	txnMap := make(map[uint64]*Transaction)
	var txnList []*Transaction

	for _, entry := range entries {
		if entry.OpType == OpSnapshot || entry.LSN <= afterLSN {
			continue
		}

		txn, exists := txnMap[entry.TxnID]
		if !exists {
			txn = &Transaction{
				TxnID:    entry.TxnID,
				StartLSN: entry.LSN,
			}
			txnMap[entry.TxnID] = txn
			txnList = append(txnList, txn)
		}

		switch entry.OpType {
		case OpCommit:
			txn.Committed = true
		case OpRecord:
			txn.Entries = append(txn.Entries, entry)
		}
	}

	return txnList
}

// findLastSnapshot finds the last snapshot entry
func findLastSnapshot(entries []*Entry) *Entry {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].OpType == OpSnapshot {
			return entries[i]
		}
	}
	return nil
}
