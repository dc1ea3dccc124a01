// ABOUTME: Type-tagged value codec for journal payloads
// ABOUTME: Each value carries its type byte so records decode without a schema

package record

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Value types
const (
	TYPE_BYTES = 1
	TYPE_INT64 = 2
	TYPE_TIME  = 4 // Stored as int64 Unix nanoseconds
	TYPE_BOOL  = 5
)

// Value represents a single field of a record
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	Time time.Time
	Bool bool
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// NewStringValue creates a bytes value from a string
func NewStringValue(s string) Value {
	return Value{Type: TYPE_BYTES, Str: []byte(s)}
}

// NewInt64Value creates an int64 value
func NewInt64Value(i int64) Value {
	return Value{Type: TYPE_INT64, I64: i}
}

// NewTimeValue creates a time value
func NewTimeValue(t time.Time) Value {
	return Value{Type: TYPE_TIME, Time: t}
}

// NewBoolValue creates a bool value
func NewBoolValue(b bool) Value {
	return Value{Type: TYPE_BOOL, Bool: b}
}

// Encode encodes values in order. Bytes are escaped and null-terminated,
// so arbitrary text (including NUL) survives a roundtrip.
func Encode(vals []Value) []byte {
	out := make([]byte, 0, 256)
	for _, v := range vals {
		out = append(out, byte(v.Type))

		switch v.Type {
		case TYPE_INT64:
			out = appendInt64(out, v.I64)

		case TYPE_TIME:
			out = appendInt64(out, v.Time.UnixNano())

		case TYPE_BOOL:
			if v.Bool {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}

		case TYPE_BYTES:
			out = append(out, escapeString(v.Str)...)
			out = append(out, 0)

		default:
			panic(fmt.Sprintf("record: unknown type: %d", v.Type))
		}
	}
	return out
}

// appendInt64 writes big-endian with the sign bit flipped
func appendInt64(out []byte, i int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i)+(1<<63))
	return append(out, buf[:]...)
}

func readInt64(data []byte, pos int) (int64, error) {
	if pos+8 > len(data) {
		return 0, fmt.Errorf("record: incomplete int64 at pos %d", pos)
	}
	u := binary.BigEndian.Uint64(data[pos : pos+8])
	return int64(u - (1 << 63)), nil
}

// escapeString escapes null bytes and the escape byte itself
func escapeString(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b == 0 || b == 0xFE {
			escapes++
		}
	}

	if escapes == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		if b == 0 || b == 0xFE {
			out = append(out, 0xFE, b)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// Decode decodes values produced by Encode
func Decode(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 8)
	pos := 0

	for pos < len(data) {
		typ := data[pos]
		pos++

		switch typ {
		case TYPE_INT64:
			i, err := readInt64(data, pos)
			if err != nil {
				return nil, err
			}
			vals = append(vals, NewInt64Value(i))
			pos += 8

		case TYPE_TIME:
			i, err := readInt64(data, pos)
			if err != nil {
				return nil, err
			}
			vals = append(vals, NewTimeValue(time.Unix(0, i).UTC()))
			pos += 8

		case TYPE_BOOL:
			if pos >= len(data) {
				return nil, fmt.Errorf("record: incomplete bool at pos %d", pos)
			}
			vals = append(vals, NewBoolValue(data[pos] != 0))
			pos++

		case TYPE_BYTES:
			str, next, err := readString(data, pos)
			if err != nil {
				return nil, err
			}
			vals = append(vals, NewBytesValue(str))
			pos = next

		default:
			return nil, fmt.Errorf("record: unknown type: %d at pos %d", typ, pos-1)
		}
	}

	return vals, nil
}

// readString unescapes up to the terminating null byte and returns the
// position just past it
func readString(data []byte, pos int) ([]byte, int, error) {
	out := make([]byte, 0, 32)
	for i := pos; i < len(data); i++ {
		switch data[i] {
		case 0:
			return out, i + 1, nil
		case 0xFE:
			if i+1 >= len(data) {
				return nil, 0, fmt.Errorf("record: dangling escape at pos %d", i)
			}
			out = append(out, data[i+1])
			i++
		default:
			out = append(out, data[i])
		}
	}
	return nil, 0, fmt.Errorf("record: unterminated string at pos %d", pos)
}

// Reader walks decoded values with type checks, remembering the first error
type Reader struct {
	vals []Value
	pos  int
	err  error
}

// NewReader decodes data and returns a reader over its values
func NewReader(data []byte) (*Reader, error) {
	vals, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return &Reader{vals: vals}, nil
}

func (r *Reader) next(typ uint8) (Value, bool) {
	if r.err != nil {
		return Value{}, false
	}
	if r.pos >= len(r.vals) {
		r.err = fmt.Errorf("record: missing field %d", r.pos)
		return Value{}, false
	}
	v := r.vals[r.pos]
	if v.Type != typ {
		r.err = fmt.Errorf("record: field %d has type %d, want %d", r.pos, v.Type, typ)
		return Value{}, false
	}
	r.pos++
	return v, true
}

// Int64 reads the next int64 field
func (r *Reader) Int64() int64 {
	v, _ := r.next(TYPE_INT64)
	return v.I64
}

// String reads the next bytes field as a string
func (r *Reader) String() string {
	v, _ := r.next(TYPE_BYTES)
	return string(v.Str)
}

// Time reads the next time field
func (r *Reader) Time() time.Time {
	v, _ := r.next(TYPE_TIME)
	return v.Time
}

// Bool reads the next bool field
func (r *Reader) Bool() bool {
	v, _ := r.next(TYPE_BOOL)
	return v.Bool
}

// Remaining returns the number of unread fields
func (r *Reader) Remaining() int {
	return len(r.vals) - r.pos
}

// Err returns the first error encountered while reading
func (r *Reader) Err() error {
	return r.err
}
