package protocol

import (
	"bytes"
	"encoding/binary"
)

// Encoder appends big-endian fields to a growing buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder that appends to buf.
func NewEncoder(buf []byte) *Encoder {
	return &Encoder{buf: buf}
}

func (e *Encoder) PutUint16(v uint16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}

func (e *Encoder) PutUint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) PutUint64(v uint64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
}

// PutString writes s followed by a NUL terminator. The empty string is a
// single NUL byte.
func (e *Encoder) PutString(s string) {
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
}

// PutBlob16 writes a uint16 length prefix followed by b. Callers validate
// that b fits in 65535 bytes.
func (e *Encoder) PutBlob16(b []byte) {
	e.PutUint16(uint16(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) Len() int {
	return len(e.buf)
}

// Decoder reads big-endian fields from a payload. The first short read is
// recorded and every later read returns a zero value, so callers check Err
// once after decoding a whole payload.
type Decoder struct {
	buf []byte
	off int
	err error
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) Err() error {
	return d.err
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

func (d *Decoder) take(n int, field string) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.Remaining() < n {
		d.err = &FramingError{Field: field, Need: n, Have: d.Remaining()}
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Decoder) Uint16(field string) uint16 {
	b := d.take(2, field)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *Decoder) Uint32(field string) uint32 {
	b := d.take(4, field)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *Decoder) Uint64(field string) uint64 {
	b := d.take(8, field)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// CString reads a NUL-terminated string and advances past the terminator.
func (d *Decoder) CString(field string) string {
	if d.err != nil {
		return ""
	}
	i := bytes.IndexByte(d.buf[d.off:], 0)
	if i < 0 {
		d.err = &FramingError{Field: field, Need: d.Remaining() + 1, Have: d.Remaining()}
		return ""
	}
	s := string(d.buf[d.off : d.off+i])
	d.off += i + 1
	return s
}

// Bytes returns a copy of the next n bytes.
func (d *Decoder) Bytes(n int, field string) []byte {
	b := d.take(n, field)
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}

// Skip advances past n bytes.
func (d *Decoder) Skip(n int, field string) {
	d.take(n, field)
}

// Blob16 reads a uint16 length prefix and that many bytes. A zero length
// yields nil.
func (d *Decoder) Blob16(field string) []byte {
	n := int(d.Uint16(field + " length"))
	if n == 0 {
		return nil
	}
	return d.Bytes(n, field)
}
