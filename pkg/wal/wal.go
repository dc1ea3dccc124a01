package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMaxFileSize is the size at which the WAL rotates to a new file (64MB)
	DefaultMaxFileSize = 64 << 20
)

// logFile is the part of *os.File the WAL writes through
type logFile interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Close() error
}

// WAL represents a Write-Ahead Log
type WAL struct {
	// Path is the base path for WAL files (e.g., "/data/session.wal")
	Path string

	// MaxFileSize overrides DefaultMaxFileSize when positive
	MaxFileSize int64

	// EntryLimit lowers the key+value cap below MaxEntrySize when positive
	EntryLimit int

	// fd is the current log file descriptor
	fd logFile

	// mu protects concurrent access to WAL
	mu sync.Mutex

	// lsn is the current Log Sequence Number (atomic)
	lsn uint64

	// fileSize is the current log file size
	fileSize int64

	// fileIndex is the current log file index (0, 1, 2, ...)
	fileIndex int

	// tornTail records whether Open cut off a partial trailing entry
	tornTail bool

	// broken is set when a failed write could not be rolled back. The file
	// tail is unknown, so every later write is refused until the next Open.
	broken error

	// closed indicates whether the WAL is closed
	closed bool
}

// Open opens or creates the WAL.
// A partial or corrupt entry at the end of the newest file is cut off so
// later appends stay readable; corruption in an older file is an error.
func (w *WAL) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := w.findLogFiles()
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	if len(files) == 0 {
		return w.createFileNoLock(0)
	}

	var maxLSN uint64
	for i, file := range files {
		last := i == len(files)-1
		fileMax, validLen, clean, err := scanFile(file)
		if err != nil {
			return err
		}
		if !clean {
			if !last {
				return fmt.Errorf("%w: %s at offset %d", ErrCorrupted, filepath.Base(file), validLen)
			}
			if err := os.Truncate(file, validLen); err != nil {
				return fmt.Errorf("truncate torn tail: %w", err)
			}
			w.tornTail = true
		}
		if fileMax > maxLSN {
			maxLSN = fileMax
		}
	}

	latestFile := files[len(files)-1]
	fd, err := os.OpenFile(latestFile, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	stat, err := fd.Stat()
	if err != nil {
		fd.Close()
		return err
	}

	w.fd = fd
	w.fileSize = stat.Size()
	if _, err := fmt.Sscanf(filepath.Base(latestFile), w.baseName()+".%d", &w.fileIndex); err != nil {
		w.fileIndex = 0
	}
	atomic.StoreUint64(&w.lsn, maxLSN)
	w.broken = nil
	w.closed = false
	return nil
}

// createFileNoLock creates and opens the log file with the given index (caller must hold mu)
func (w *WAL) createFileNoLock(index int) error {
	logPath := w.logFilePath(index)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return err
	}
	fd, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.fd = fd
	w.fileSize = 0
	w.fileIndex = index
	w.broken = nil
	w.closed = false
	return nil
}

// NextLSN returns the next Log Sequence Number
func (w *WAL) NextLSN() uint64 {
	return atomic.AddUint64(&w.lsn, 1)
}

// LastLSN returns the most recently issued Log Sequence Number
func (w *WAL) LastLSN() uint64 {
	return atomic.LoadUint64(&w.lsn)
}

// TornTail reports whether Open discarded a partial trailing entry
func (w *WAL) TornTail() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tornTail
}

// Write writes an entry to the WAL without syncing
func (w *WAL) Write(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writableNoLock(); err != nil {
		return err
	}
	data, err := w.encodeNoLock(entry)
	if err != nil {
		return err
	}
	if err := w.ensureRoomNoLock(int64(len(data))); err != nil {
		return err
	}
	return w.commitNoLock(data, false)
}

// Append durably writes one record: the record and its commit marker share a
// transaction id and are fsynced before Append returns. Returns the record LSN.
// A failed Append leaves nothing of the record in the file.
func (w *WAL) Append(key, value []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writableNoLock(); err != nil {
		return 0, err
	}

	now := time.Now()
	lsn := w.NextLSN()
	record, err := w.encodeNoLock(Entry{
		LSN:       lsn,
		TxnID:     lsn,
		OpType:    OpRecord,
		Key:       key,
		Value:     value,
		Timestamp: now,
	})
	if err != nil {
		return 0, err
	}
	commit := Entry{
		LSN:       w.NextLSN(),
		TxnID:     lsn,
		OpType:    OpCommit,
		Timestamp: now,
	}
	data := append(record, commit.Encode()...)

	if err := w.ensureRoomNoLock(int64(len(data))); err != nil {
		return 0, err
	}
	if err := w.commitNoLock(data, true); err != nil {
		return 0, err
	}
	return lsn, nil
}

// Snapshot starts a new file with a snapshot entry, fsyncs it, then removes
// every older file. Returns the snapshot LSN.
func (w *WAL) Snapshot(value []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writableNoLock(); err != nil {
		return 0, err
	}

	lsn := w.NextLSN()
	data, err := w.encodeNoLock(Entry{
		LSN:       lsn,
		OpType:    OpSnapshot,
		Value:     value,
		Timestamp: time.Now(),
	})
	if err != nil {
		return 0, err
	}

	if w.fileSize > 0 {
		if err := w.rotateNoLock(); err != nil {
			return 0, err
		}
	}
	if err := w.commitNoLock(data, true); err != nil {
		return 0, err
	}

	return lsn, w.removeOlderNoLock(w.fileIndex)
}

func (w *WAL) writableNoLock() error {
	if w.closed {
		return ErrLogClosed
	}
	return w.broken
}

func (w *WAL) encodeNoLock(entry Entry) ([]byte, error) {
	limit := MaxEntrySize
	if w.EntryLimit > 0 && w.EntryLimit < limit {
		limit = w.EntryLimit
	}
	if n := len(entry.Key) + len(entry.Value); n > limit {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrEntryTooLarge, n, limit)
	}
	return entry.Encode(), nil
}

// ensureRoomNoLock rotates when n more bytes would overflow the current file
// (caller must hold mu)
func (w *WAL) ensureRoomNoLock(n int64) error {
	if w.fileSize > 0 && w.fileSize+n > w.maxFileSize() {
		return w.rotateNoLock()
	}
	return nil
}

// commitNoLock writes data at the end of the valid log and optionally fsyncs.
// On failure the file is cut back to where it was (caller must hold mu).
func (w *WAL) commitNoLock(data []byte, durable bool) error {
	if err := w.dropStrayTailNoLock(); err != nil {
		return err
	}

	mark := w.fileSize
	n, err := w.fd.Write(data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	if err == nil && durable {
		err = w.fd.Sync()
	}
	if err != nil {
		return w.rollbackNoLock(mark, err)
	}

	w.fileSize += int64(n)
	return nil
}

// dropStrayTailNoLock cuts bytes past the last write this WAL made, so new
// entries never land behind garbage a reader would stop at (caller must hold mu)
func (w *WAL) dropStrayTailNoLock() error {
	stat, err := w.fd.Stat()
	if err != nil {
		return err
	}
	switch size := stat.Size(); {
	case size == w.fileSize:
		return nil
	case size < w.fileSize:
		return fmt.Errorf("%w: log file shrank from %d to %d bytes", ErrCorrupted, w.fileSize, size)
	}
	if err := w.fd.Truncate(w.fileSize); err != nil {
		w.broken = fmt.Errorf("%w: drop stray tail: %v", ErrLogBroken, err)
		return w.broken
	}
	return nil
}

// rollbackNoLock restores the file to mark after a failed write (caller must hold mu)
func (w *WAL) rollbackNoLock(mark int64, cause error) error {
	if err := w.fd.Truncate(mark); err != nil {
		w.broken = fmt.Errorf("%w: rollback to offset %d: %v", ErrLogBroken, mark, err)
		return errors.Join(cause, w.broken)
	}
	if err := w.fd.Sync(); err != nil {
		w.broken = fmt.Errorf("%w: sync rollback: %v", ErrLogBroken, err)
		return errors.Join(cause, w.broken)
	}
	w.fileSize = mark
	return cause
}

// Fsync ensures all written data is persisted to disk
func (w *WAL) Fsync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrLogClosed
	}

	return w.fd.Sync()
}

// Close closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.fd == nil {
		w.closed = true
		return nil
	}

	syncErr := w.fd.Sync()
	err := w.fd.Close()
	w.closed = true
	return errors.Join(syncErr, err)
}

// Files returns the current log files sorted by index
func (w *WAL) Files() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.findLogFiles()
}

func (w *WAL) maxFileSize() int64 {
	if w.MaxFileSize > 0 {
		return w.MaxFileSize
	}
	return DefaultMaxFileSize
}

// rotateNoLock rotates to a new log file (caller must hold mu)
func (w *WAL) rotateNoLock() error {
	if err := w.fd.Sync(); err != nil {
		return err
	}
	if err := w.fd.Close(); err != nil {
		w.broken = fmt.Errorf("%w: close for rotation: %v", ErrLogBroken, err)
		return w.broken
	}
	if err := w.createFileNoLock(w.fileIndex + 1); err != nil {
		w.broken = fmt.Errorf("%w: rotate: %v", ErrLogBroken, err)
		return w.broken
	}
	return nil
}

// removeOlderNoLock deletes log files with an index below keep (caller must hold mu)
func (w *WAL) removeOlderNoLock(keep int) error {
	files, err := w.findLogFiles()
	if err != nil {
		return err
	}

	var errs []error
	for _, f := range files {
		if w.fileIndexOf(f) < keep {
			if err := os.Remove(f); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// baseName returns the base filename for WAL files (e.g., "session.wal" from "/data/session.wal")
func (w *WAL) baseName() string {
	return filepath.Base(w.Path)
}

// logFilePath returns the path for a log file with the given index
func (w *WAL) logFilePath(index int) string {
	dir := filepath.Dir(w.Path)
	name := fmt.Sprintf("%s.%03d", w.baseName(), index)
	return filepath.Join(dir, name)
}

func (w *WAL) fileIndexOf(path string) int {
	var idx int
	fmt.Sscanf(filepath.Base(path), w.baseName()+".%d", &idx)
	return idx
}

// findLogFiles returns all WAL files sorted by index
func (w *WAL) findLogFiles() ([]string, error) {
	dir := filepath.Dir(w.Path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && w.isWALFile(entry.Name()) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return w.fileIndexOf(files[i]) < w.fileIndexOf(files[j])
	})

	return files, nil
}

// isWALFile returns true if the filename is a WAL file for this journal
func (w *WAL) isWALFile(name string) bool {
	var index int
	_, err := fmt.Sscanf(name, w.baseName()+".%d", &index)
	return err == nil && name == fmt.Sprintf("%s.%03d", w.baseName(), index)
}

// scanFile reads every entry of a file and reports the highest LSN, the
// length of the valid prefix and whether the whole file was valid
func scanFile(path string) (maxLSN uint64, validLen int64, clean bool, err error) {
	fd, err := os.Open(path)
	if err != nil {
		return 0, 0, false, err
	}
	defer fd.Close()

	r := bufio.NewReader(fd)
	for {
		entry, size, err := readEntry(r)
		if err == io.EOF {
			return maxLSN, validLen, true, nil
		}
		if err != nil {
			return maxLSN, validLen, false, nil
		}
		if entry.LSN > maxLSN {
			maxLSN = entry.LSN
		}
		validLen += int64(size)
	}
}
