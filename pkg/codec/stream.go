package codec

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Writer is an append-only byte buffer with variable-length integer coding.
type Writer struct {
	buf []byte
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the written bytes. The slice aliases the buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// PutUV appends an unsigned varint.
func (w *Writer) PutUV(v uint64) { w.buf = protowire.AppendVarint(w.buf, v) }

// PutSV appends a zigzag-coded signed varint.
func (w *Writer) PutSV(v int64) { w.buf = protowire.AppendVarint(w.buf, protowire.EncodeZigZag(v)) }

// PutU1 appends one byte.
func (w *Writer) PutU1(v uint8) { w.buf = append(w.buf, v) }

// PutU2 appends a little-endian uint16.
func (w *Writer) PutU2(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

// PutS4 appends a little-endian int32.
func (w *Writer) PutS4(v int32) { w.buf = protowire.AppendFixed32(w.buf, uint32(v)) }

// Reader decodes values written by [Writer]. The first failure is sticky:
// later reads return zero values and Err reports the original problem.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader returns a reader positioned at offset 0.
func NewReader(data []byte) *Reader { return &Reader{data: data} }

// Err returns the first read failure.
func (r *Reader) Err() error { return r.err }

// Pos returns the current byte offset.
func (r *Reader) Pos() int { return r.pos }

// SetPos moves the cursor to an absolute offset.
func (r *Reader) SetPos(pos int) {
	if pos < 0 || pos > len(r.data) {
		r.fail(fmt.Errorf("seek to %d outside [0,%d]", pos, len(r.data)))
		return
	}
	r.pos = pos
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// UV reads an unsigned varint.
func (r *Reader) UV() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.data[r.pos:])
	if n < 0 {
		r.fail(fmt.Errorf("varint at %d: %w", r.pos, protowire.ParseError(n)))
		return 0
	}
	r.pos += n
	return v
}

// UVInt reads an unsigned varint that must fit an int.
func (r *Reader) UVInt() int {
	v := r.UV()
	if v > uint64(maxInt) {
		r.fail(fmt.Errorf("varint %d overflows int", v))
		return 0
	}
	return int(v)
}

// SV reads a signed varint.
func (r *Reader) SV() int64 { return protowire.DecodeZigZag(r.UV()) }

// SVInt reads a signed varint that must fit an int32.
func (r *Reader) SVInt() int {
	v := r.SV()
	if v < minInt32 || v > maxInt32 {
		r.fail(fmt.Errorf("signed varint %d overflows int32", v))
		return 0
	}
	return int(v)
}

// U1 reads one byte.
func (r *Reader) U1() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

// U2 reads a little-endian uint16.
func (r *Reader) U2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

// S4 reads a little-endian int32.
func (r *Reader) S4() int32 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeFixed32(r.data[r.pos:])
	if n < 0 {
		r.fail(fmt.Errorf("fixed32 at %d: %w", r.pos, protowire.ParseError(n)))
		return 0
	}
	r.pos += n
	return int32(v)
}

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.data) {
		r.fail(fmt.Errorf("need %d bytes at %d, have %d", n, r.pos, len(r.data)-r.pos))
		return false
	}
	return true
}

const (
	maxInt   = int(^uint(0) >> 1)
	minInt32 = -1 << 31
	maxInt32 = 1<<31 - 1
)
