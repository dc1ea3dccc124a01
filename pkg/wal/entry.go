package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"time"
)

// OpType represents the type of WAL operation
type OpType byte

const (
	// OpRecord carries one application record
	OpRecord OpType = 1

	// OpCommit marks the records of a transaction as durable
	OpCommit OpType = 3

	// OpSnapshot carries a full state image; earlier entries are obsolete
	OpSnapshot OpType = 5
)

const (
	// EntryHeaderSize is the fixed size of the entry header
	// Layout: LSN(8) + TxnID(8) + OpType(1) + Reserved(7) + KeyLen(4) + ValLen(4) + Timestamp(8)
	EntryHeaderSize = 40

	// MaxEntrySize bounds key+value so a garbage header cannot force a huge read
	MaxEntrySize = 64 << 20
)

// Entry represents a single WAL entry
type Entry struct {
	LSN       uint64    // Log Sequence Number (monotonically increasing)
	TxnID     uint64    // Transaction ID
	OpType    OpType    // Operation type
	Key       []byte    // Record kind
	Value     []byte    // Record payload
	Timestamp time.Time // Entry timestamp
}

// Encode serializes the entry to bytes with CRC32 checksum
// Format: [Header(40)] [Key] [Value] [CRC32(4)]
func (e *Entry) Encode() []byte {
	keyLen := len(e.Key)
	valLen := len(e.Value)
	buf := make([]byte, e.Size())

	binary.LittleEndian.PutUint64(buf[0:8], e.LSN)
	binary.LittleEndian.PutUint64(buf[8:16], e.TxnID)
	buf[16] = byte(e.OpType)
	// bytes 17-23 are reserved
	binary.LittleEndian.PutUint32(buf[24:28], uint32(keyLen))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(valLen))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(e.Timestamp.UnixNano()))

	offset := EntryHeaderSize
	copy(buf[offset:], e.Key)
	offset += keyLen
	copy(buf[offset:], e.Value)
	offset += valLen

	// CRC covers header, key and value
	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:offset+4], crc)

	return buf
}

// DecodeEntry deserializes a WAL entry from bytes
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+4 {
		return nil, ErrTruncated
	}

	keyLen := binary.LittleEndian.Uint32(data[24:28])
	valLen := binary.LittleEndian.Uint32(data[28:32])
	if uint64(keyLen)+uint64(valLen) > MaxEntrySize {
		return nil, ErrCorrupted
	}
	expectedSize := EntryHeaderSize + int(keyLen) + int(valLen) + 4
	if len(data) < expectedSize {
		return nil, ErrTruncated
	}
	data = data[:expectedSize]

	storedCRC := binary.LittleEndian.Uint32(data[expectedSize-4:])
	if storedCRC != crc32.ChecksumIEEE(data[:expectedSize-4]) {
		return nil, ErrCorrupted
	}

	entry := &Entry{
		LSN:       binary.LittleEndian.Uint64(data[0:8]),
		TxnID:     binary.LittleEndian.Uint64(data[8:16]),
		OpType:    OpType(data[16]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(data[32:40]))),
	}

	offset := EntryHeaderSize
	if keyLen > 0 {
		entry.Key = make([]byte, keyLen)
		copy(entry.Key, data[offset:offset+int(keyLen)])
		offset += int(keyLen)
	}

	if valLen > 0 {
		entry.Value = make([]byte, valLen)
		copy(entry.Value, data[offset:offset+int(valLen)])
	}

	return entry, nil
}

// readEntry reads one framed entry and returns its encoded size.
// A clean end of input is io.EOF; a partial frame is ErrTruncated.
func readEntry(r io.Reader) (*Entry, int, error) {
	header := make([]byte, EntryHeaderSize)
	if n, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF && n == 0 {
			return nil, 0, io.EOF
		}
		return nil, 0, ErrTruncated
	}

	keyLen := binary.LittleEndian.Uint32(header[24:28])
	valLen := binary.LittleEndian.Uint32(header[28:32])
	if uint64(keyLen)+uint64(valLen) > MaxEntrySize {
		return nil, 0, ErrCorrupted
	}

	size := EntryHeaderSize + int(keyLen) + int(valLen) + 4
	data := make([]byte, size)
	copy(data, header)
	if _, err := io.ReadFull(r, data[EntryHeaderSize:]); err != nil {
		return nil, 0, ErrTruncated
	}

	entry, err := DecodeEntry(data)
	if err != nil {
		return nil, 0, err
	}
	return entry, size, nil
}

// Size returns the encoded size of the entry
func (e *Entry) Size() int {
	return EntryHeaderSize + len(e.Key) + len(e.Value) + 4
}

// String returns a human-readable representation of the entry
func (e *Entry) String() string {
	opName := "UNKNOWN"
	switch e.OpType {
	case OpRecord:
		opName = "RECORD"
	case OpCommit:
		opName = "COMMIT"
	case OpSnapshot:
		opName = "SNAPSHOT"
	}
	return fmt.Sprintf("WAL[LSN=%d TxnID=%d Op=%s Key=%q ValLen=%d]",
		e.LSN, e.TxnID, opName, e.Key, len(e.Value))
}
