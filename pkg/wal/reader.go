package wal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Reader reads WAL entries from log files in order
type Reader struct {
	files    []string // Log files to read
	current  int      // Current file index
	fd       *os.File // Current file descriptor
	buf      *bufio.Reader
	offset   int64 // Current offset in file
	tornTail bool
}

// NewReader creates a WAL reader for the given log files
func NewReader(files []string) *Reader {
	return &Reader{
		files:   files,
		current: 0,
	}
}

// Open opens the reader
func (r *Reader) Open() error {
	if len(r.files) == 0 {
		return ErrLogNotFound
	}
	return r.openFile(0)
}

func (r *Reader) openFile(i int) error {
	fd, err := os.Open(r.files[i])
	if err != nil {
		return err
	}
	r.current = i
	r.fd = fd
	r.buf = bufio.NewReader(fd)
	r.offset = 0
	return nil
}

// Next reads the next entry. It returns io.EOF after the last entry. A bad
// entry in the final file ends the log (a torn write); in an earlier file it
// is ErrCorrupted.
func (r *Reader) Next() (*Entry, error) {
	for {
		if r.fd == nil {
			return nil, io.EOF
		}

		entry, size, err := readEntry(r.buf)
		if err == nil {
			r.offset += int64(size)
			return entry, nil
		}

		if err == io.EOF {
			if err := r.nextFile(); err != nil {
				return nil, err
			}
			continue
		}

		if err == ErrCorrupted || err == ErrTruncated {
			if r.current == len(r.files)-1 {
				r.tornTail = true
				r.closeFile()
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: %s at offset %d", ErrCorrupted, filepath.Base(r.files[r.current]), r.offset)
		}

		return nil, err
	}
}

// TornTail reports whether reading stopped at a damaged trailing entry
func (r *Reader) TornTail() bool {
	return r.tornTail
}

// nextFile moves to the next log file
func (r *Reader) nextFile() error {
	r.closeFile()

	if r.current+1 >= len(r.files) {
		return io.EOF
	}
	return r.openFile(r.current + 1)
}

func (r *Reader) closeFile() {
	if r.fd != nil {
		r.fd.Close()
		r.fd = nil
		r.buf = nil
	}
}

// Close closes the reader
func (r *Reader) Close() error {
	if r.fd != nil {
		err := r.fd.Close()
		r.fd = nil
		return err
	}
	return nil
}

// ReadAll reads all entries from all files
func ReadAll(files []string) ([]*Entry, error) {
	entries, _, err := readAll(files)
	return entries, err
}

func readAll(files []string) ([]*Entry, bool, error) {
	reader := NewReader(files)
	if err := reader.Open(); err != nil {
		return nil, false, err
	}
	defer reader.Close()

	var entries []*Entry
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		entries = append(entries, entry)
	}

	return entries, reader.TornTail(), nil
}
