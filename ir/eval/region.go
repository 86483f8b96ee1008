package eval

import (
	"encoding/binary"
	stderrors "errors"

	wasmaot "github.com/wippyai/wasm-aot"
)

// Addresses are split into a region number and an offset within it.
const (
	regionShift = 40
	offsetMask  = 1<<regionShift - 1
)

// ErrOutOfBounds is returned by Region accessors for accesses past the end.
var ErrOutOfBounds = stderrors.New("eval: out of bounds access")

// Addr builds an address from a region number and an offset.
func Addr(region int, off uint64) uint64 {
	return uint64(region)<<regionShift | off&offsetMask
}

func splitAddr(addr uint64) (int, uint64) {
	return int(addr >> regionShift), addr & offsetMask
}

// Region is a contiguous byte range of the address space.
type Region struct {
	data []byte
	max  uint64
	id   int
}

var (
	_ wasmaot.Memory      = (*Region)(nil)
	_ wasmaot.MemorySizer = (*Region)(nil)
)

// Base returns the address of the first byte of the region.
func (r *Region) Base() uint64 { return Addr(r.id, 0) }

// Bytes returns the backing slice. It is invalidated by Grow.
func (r *Region) Bytes() []byte { return r.data }

// Size implements wasmaot.MemorySizer.
func (r *Region) Size() uint64 { return uint64(len(r.data)) }

// Grow extends the region by n zero bytes. It fails when the result would
// exceed the region's maximum.
func (r *Region) Grow(n uint64) (uint64, bool) {
	old := uint64(len(r.data))
	if old+n > r.max || old+n < old {
		return old, false
	}
	r.data = append(r.data, make([]byte, n)...)
	return old, true
}

func (r *Region) slice(off, n uint64) ([]byte, error) {
	if off+n > uint64(len(r.data)) || off+n < off {
		return nil, ErrOutOfBounds
	}
	return r.data[off : off+n], nil
}

// Read implements wasmaot.Memory.
func (r *Region) Read(offset, length uint64) ([]byte, error) {
	b, err := r.slice(offset, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, b)
	return out, nil
}

// Write implements wasmaot.Memory.
func (r *Region) Write(offset uint64, data []byte) error {
	b, err := r.slice(offset, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

// ReadU8 implements wasmaot.Memory.
func (r *Region) ReadU8(offset uint64) (uint8, error) {
	b, err := r.slice(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 implements wasmaot.Memory.
func (r *Region) ReadU16(offset uint64) (uint16, error) {
	b, err := r.slice(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32 implements wasmaot.Memory.
func (r *Region) ReadU32(offset uint64) (uint32, error) {
	b, err := r.slice(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 implements wasmaot.Memory.
func (r *Region) ReadU64(offset uint64) (uint64, error) {
	b, err := r.slice(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteU8 implements wasmaot.Memory.
func (r *Region) WriteU8(offset uint64, value uint8) error {
	b, err := r.slice(offset, 1)
	if err != nil {
		return err
	}
	b[0] = value
	return nil
}

// WriteU16 implements wasmaot.Memory.
func (r *Region) WriteU16(offset uint64, value uint16) error {
	b, err := r.slice(offset, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, value)
	return nil
}

// WriteU32 implements wasmaot.Memory.
func (r *Region) WriteU32(offset uint64, value uint32) error {
	b, err := r.slice(offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, value)
	return nil
}

// WriteU64 implements wasmaot.Memory.
func (r *Region) WriteU64(offset uint64, value uint64) error {
	b, err := r.slice(offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, value)
	return nil
}

// Stack is a bump allocator over a region. Callee frames and allocas live
// here and are released when the owning call returns.
type Stack struct {
	*Region
	sp uint64
}

var _ wasmaot.Allocator = (*Stack)(nil)

// ErrStackExhausted is returned when the stack region cannot grow further.
var ErrStackExhausted = stderrors.New("eval: stack exhausted")

// Alloc implements wasmaot.Allocator. The returned block is zeroed.
func (s *Stack) Alloc(size, align uint64) (uint64, error) {
	if align == 0 {
		align = 1
	}
	start := (s.sp + align - 1) &^ (align - 1)
	end := start + size
	if end > uint64(len(s.data)) {
		if _, ok := s.Grow(end - uint64(len(s.data))); !ok {
			return 0, ErrStackExhausted
		}
	}
	clear(s.data[start:end])
	s.sp = end
	return Addr(s.id, start), nil
}

// Free implements wasmaot.Allocator.
func (s *Stack) Free(ptr, _, _ uint64) {
	_, off := splitAddr(ptr)
	if off < s.sp {
		s.sp = off
	}
}

// Mark returns the current top of the stack.
func (s *Stack) Mark() uint64 { return s.sp }

// Release resets the top of the stack to mark.
func (s *Stack) Release(mark uint64) { s.sp = mark }
