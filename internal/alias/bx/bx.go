// stand for bytes helper
package bx

import (
	"encoding/binary"
	"errors"
	"math"
)

var LE = binary.LittleEndian

// ErrShort is returned by Reader when the buffer ends before a field does.
var ErrShort = errors.New("bx: buffer too short")

// --- LE: read ---
func U16(b []byte) uint16 { return LE.Uint16(b) }
func U32(b []byte) uint32 { return LE.Uint32(b) }
func U64(b []byte) uint64 { return LE.Uint64(b) }

// --- LE: write ---
func PutU16(b []byte, v uint16) { LE.PutUint16(b, v) }
func PutU32(b []byte, v uint32) { LE.PutUint32(b, v) }
func PutU64(b []byte, v uint64) { LE.PutUint64(b, v) }

// --- LE: append ---
func AppendU8(b []byte, v uint8) []byte   { return append(b, v) }
func AppendU16(b []byte, v uint16) []byte { return LE.AppendUint16(b, v) }
func AppendU32(b []byte, v uint32) []byte { return LE.AppendUint32(b, v) }
func AppendU64(b []byte, v uint64) []byte { return LE.AppendUint64(b, v) }
func AppendI64(b []byte, v int64) []byte  { return AppendU64(b, uint64(v)) }
func AppendF32(b []byte, v float32) []byte {
	return AppendU32(b, math.Float32bits(v))
}
func AppendF64(b []byte, v float64) []byte {
	return AppendU64(b, math.Float64bits(v))
}

// AppendBytes16 writes a u16 length prefix followed by p.
// Callers must check len(p) <= math.MaxUint16 first.
func AppendBytes16(b []byte, p []byte) []byte {
	b = AppendU16(b, uint16(len(p)))
	return append(b, p...)
}

// Reader is a forward-only cursor over a little-endian buffer.
// The first short read sticks: every later call returns zero values and Err
// keeps reporting ErrShort.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Err() error     { return r.err }
func (r *Reader) Offset() int    { return r.off }
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = ErrShort
		return nil
	}
	p := r.buf[r.off : r.off+n]
	r.off += n
	return p
}

func (r *Reader) U8() uint8 {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *Reader) U16() uint16 {
	p := r.take(2)
	if p == nil {
		return 0
	}
	return U16(p)
}

func (r *Reader) U32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return U32(p)
}

func (r *Reader) U64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return U64(p)
}

func (r *Reader) I64() int64       { return int64(r.U64()) }
func (r *Reader) F32() float32     { return math.Float32frombits(r.U32()) }
func (r *Reader) F64() float64     { return math.Float64frombits(r.U64()) }
func (r *Reader) Raw(n int) []byte { return r.take(n) }

// Bytes16 reads a u16 length prefix and returns a copy of the payload so the
// result never aliases the source buffer.
func (r *Reader) Bytes16() []byte {
	n := int(r.U16())
	p := r.take(n)
	if p == nil {
		return nil
	}
	cp := make([]byte, n)
	copy(cp, p)
	return cp
}
