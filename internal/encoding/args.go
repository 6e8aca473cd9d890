package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Tag identifies the wire type of one block argument. The values match the
// component type headers the server writes in typed mode.
type Tag uint8

const (
	TagString    Tag = 0
	TagInt32     Tag = 3
	TagBoolean   Tag = 7
	TagByteArray Tag = 8
)

var (
	ErrTruncatedInput = errors.New("truncated input")
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrUnknownTag     = errors.New("unknown tag")
	ErrTagMismatch    = errors.New("tag header mismatch")
	ErrTrailingBytes  = errors.New("trailing bytes")
)

func (t Tag) String() string {
	switch t {
	case TagString:
		return "String"
	case TagInt32:
		return "Int32"
	case TagBoolean:
		return "Boolean"
	case TagByteArray:
		return "ByteArray"
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// MarshalText keeps format tables readable when stored as JSON.
func (t Tag) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t Tag) Valid() bool {
	switch t {
	case TagString, TagInt32, TagBoolean, TagByteArray:
		return true
	}
	return false
}

// Encode returns the untyped encoding of v under tag.
func Encode(tag Tag, v any) ([]byte, error) {
	var w Writer
	if err := w.Write(tag, v); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Writer accumulates encoded arguments. A failed write leaves the buffer as it was.
type Writer struct {
	buf bytes.Buffer
}

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }
func (w *Writer) Len() int      { return w.buf.Len() }

func (w *Writer) Write(tag Tag, v any) error {
	b, err := appendValue(nil, tag, v)
	if err != nil {
		return err
	}
	w.buf.Write(b)
	return nil
}

// WriteTyped writes the one-byte tag header followed by the value.
func (w *Writer) WriteTyped(tag Tag, v any) error {
	b, err := appendValue([]byte{byte(tag)}, tag, v)
	if err != nil {
		return err
	}
	w.buf.Write(b)
	return nil
}

func appendValue(dst []byte, tag Tag, v any) ([]byte, error) {
	switch tag {
	case TagInt32:
		n, ok := v.(int32)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants int32, got %T", ErrTypeMismatch, tag, v)
		}
		return binary.LittleEndian.AppendUint32(dst, uint32(n)), nil
	case TagBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants bool, got %T", ErrTypeMismatch, tag, v)
		}
		if b {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case TagString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants string, got %T", ErrTypeMismatch, tag, v)
		}
		dst = binary.AppendUvarint(dst, uint64(len(s)))
		return append(dst, s...), nil
	case TagByteArray:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants []byte, got %T", ErrTypeMismatch, tag, v)
		}
		dst = binary.AppendUvarint(dst, uint64(len(b)))
		return append(dst, b...), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownTag, uint8(tag))
}

// Reader decodes arguments from a buffer, advancing a shared cursor.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Offset() int    { return r.off }
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Seek moves the cursor back to an offset previously returned by Offset.
func (r *Reader) Seek(off int) {
	if off < 0 || off > len(r.buf) {
		return
	}
	r.off = off
}

// Rest returns the unread bytes without advancing.
func (r *Reader) Rest() []byte { return r.buf[r.off:] }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncatedInput, n, r.off, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadUint32LE() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n == 0 {
		return 0, fmt.Errorf("%w: varint at offset %d", ErrTruncatedInput, r.off)
	}
	if n < 0 {
		return 0, fmt.Errorf("bad varint at offset %d", r.off)
	}
	r.off += n
	return v, nil
}

// Read decodes one untyped value. The cursor only moves on success.
func (r *Reader) Read(tag Tag) (any, error) {
	start := r.off
	v, err := r.read(tag)
	if err != nil {
		r.off = start
		return nil, err
	}
	return v, nil
}

// ReadTyped expects the one-byte tag header before the value.
func (r *Reader) ReadTyped(tag Tag) (any, error) {
	start := r.off
	h, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	if Tag(h) != tag {
		r.off = start
		return nil, fmt.Errorf("%w: want %s, got %s", ErrTagMismatch, tag, Tag(h))
	}
	v, err := r.read(tag)
	if err != nil {
		r.off = start
		return nil, err
	}
	return v, nil
}

func (r *Reader) read(tag Tag) (any, error) {
	switch tag {
	case TagInt32:
		u, err := r.ReadUint32LE()
		if err != nil {
			return nil, err
		}
		return int32(u), nil
	case TagBoolean:
		b, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case TagString, TagByteArray:
		n, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		if n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: length %d", ErrTruncatedInput, n)
		}
		b, err := r.take(int(n))
		if err != nil {
			return nil, err
		}
		if tag == TagString {
			return string(b), nil
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownTag, uint8(tag))
}
