// Package wal implements the write-ahead journal behind a durable session
package wal

import "errors"

var (
	// ErrCorrupted indicates a corrupted WAL entry (CRC mismatch)
	ErrCorrupted = errors.New("wal: corrupted entry")

	// ErrLogClosed indicates an operation on a closed WAL
	ErrLogClosed = errors.New("wal: log closed")

	// ErrLogNotFound indicates WAL files don't exist
	ErrLogNotFound = errors.New("wal: log not found")

	// ErrTruncated indicates a truncated WAL entry
	ErrTruncated = errors.New("wal: truncated entry")

	// ErrEntryTooLarge indicates a key or value above MaxEntrySize
	ErrEntryTooLarge = errors.New("wal: entry too large")

	// ErrLogBroken indicates a failed write that could not be undone; the
	// WAL refuses writes until it is reopened
	ErrLogBroken = errors.New("wal: log unusable after failed write")
)
