package network

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrStringTooLong is returned when a string or byte field exceeds the uint16 length prefix.
var ErrStringTooLong = errors.New("field exceeds 65535 bytes")

// Writer builds big-endian payloads. The first error sticks and later writes are dropped.
type Writer struct {
	buf bytes.Buffer
	err error
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Uint8(v uint8) *Writer {
	if w.err == nil {
		w.buf.WriteByte(v)
	}
	return w
}

func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.Uint8(1)
	}
	return w.Uint8(0)
}

func (w *Writer) Uint16(v uint16) *Writer {
	if w.err == nil {
		w.buf.Write(binary.BigEndian.AppendUint16(nil, v))
	}
	return w
}

func (w *Writer) Uint32(v uint32) *Writer {
	if w.err == nil {
		w.buf.Write(binary.BigEndian.AppendUint32(nil, v))
	}
	return w
}

func (w *Writer) Int64(v int64) *Writer {
	if w.err == nil {
		w.buf.Write(binary.BigEndian.AppendUint64(nil, uint64(v)))
	}
	return w
}

// Bytes writes a uint16 length prefix followed by b.
func (w *Writer) Bytes(b []byte) *Writer {
	if w.err != nil {
		return w
	}
	if len(b) > math.MaxUint16 {
		w.err = ErrStringTooLong
		return w
	}
	w.Uint16(uint16(len(b)))
	w.buf.Write(b)
	return w
}

func (w *Writer) String(s string) *Writer {
	return w.Bytes([]byte(s))
}

// Finish returns the encoded payload or the first error encountered.
func (w *Writer) Finish() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// Reader decodes payloads produced by Writer. A short buffer sets a sticky
// io.ErrUnexpectedEOF and every later read returns the zero value.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data)-r.off < n {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool {
	return r.Uint8() != 0
}

func (r *Reader) Uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) Int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *Reader) Bytes() []byte {
	n := r.Uint16()
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *Reader) String() string {
	return string(r.Bytes())
}

// Err reports the first decode failure.
func (r *Reader) Err() error {
	return r.err
}

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}
