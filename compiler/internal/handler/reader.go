package handler

import (
	stderrors "errors"

	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/wasm"
)

// Reader walks the expression bytes of one function body. Offsets are
// relative to the start of the expression.
type Reader struct {
	Code []byte
	Pos  int
	// Func is attached to decoding errors.
	Func uint32
}

// NewReader returns a reader over code.
func NewReader(code []byte, fn uint32) *Reader {
	return &Reader{Code: code, Func: fn}
}

// Done reports whether every byte was consumed.
func (r *Reader) Done() bool { return r.Pos >= len(r.Code) }

func (r *Reader) fail(err error) error {
	kind := errors.KindInvalidData
	switch {
	case stderrors.Is(err, wasm.ErrTruncated):
		kind = errors.KindTruncated
	case stderrors.Is(err, wasm.ErrOverlong):
		kind = errors.KindOverlong
	}
	return errors.New(errors.PhaseDecode, kind).
		Func(r.Func).
		Offset(r.Pos).
		Cause(err).
		Build()
}

// Byte reads one raw byte.
func (r *Reader) Byte() (byte, error) {
	if r.Pos >= len(r.Code) {
		return 0, r.fail(wasm.ErrTruncated)
	}
	b := r.Code[r.Pos]
	r.Pos++
	return b, nil
}

// Bytes reads n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.Pos+n > len(r.Code) {
		return nil, r.fail(wasm.ErrTruncated)
	}
	b := r.Code[r.Pos : r.Pos+n]
	r.Pos += n
	return b, nil
}

func (r *Reader) leb(maxBits uint, signed bool) (uint64, error) {
	v, n, err := wasm.ReadLEB(r.Code, r.Pos, len(r.Code), maxBits, signed)
	if err != nil {
		return 0, r.fail(err)
	}
	r.Pos += n
	return v, nil
}

// U32 reads an unsigned 32-bit LEB128 immediate.
func (r *Reader) U32() (uint32, error) {
	v, err := r.leb(32, false)
	return uint32(v), err
}

// U64 reads an unsigned 64-bit LEB128 immediate.
func (r *Reader) U64() (uint64, error) {
	return r.leb(64, false)
}

// S32 reads a signed 32-bit LEB128 immediate.
func (r *Reader) S32() (int32, error) {
	v, err := r.leb(32, true)
	return int32(v), err
}

// S33 reads a block type.
func (r *Reader) S33() (int64, error) {
	v, err := r.leb(33, true)
	return int64(v), err
}

// S64 reads a signed 64-bit LEB128 immediate.
func (r *Reader) S64() (int64, error) {
	v, err := r.leb(64, true)
	return int64(v), err
}

// U32LE reads a little-endian 32-bit word.
func (r *Reader) U32LE() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// U64LE reads a little-endian 64-bit word.
func (r *Reader) U64LE() (uint64, error) {
	lo, err := r.U32LE()
	if err != nil {
		return 0, err
	}
	hi, err := r.U32LE()
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// MemArg is the alignment and offset immediate of memory instructions.
type MemArg struct {
	Align  uint32
	Offset uint64
}

// MemArg reads a memory immediate.
func (r *Reader) MemArg() (MemArg, error) {
	align, err := r.U32()
	if err != nil {
		return MemArg{}, err
	}
	off, err := r.U32()
	if err != nil {
		return MemArg{}, err
	}
	return MemArg{Align: align, Offset: uint64(off)}, nil
}
