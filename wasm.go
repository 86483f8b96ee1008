package wasmaot

// Memory is a byte-addressable region of the evaluator's address space:
// linear memory, the instance block or a native frame.
type Memory interface {
	Read(offset uint64, length uint64) ([]byte, error)
	Write(offset uint64, data []byte) error
	ReadU8(offset uint64) (uint8, error)
	ReadU16(offset uint64) (uint16, error)
	ReadU32(offset uint64) (uint32, error)
	ReadU64(offset uint64) (uint64, error)
	WriteU8(offset uint64, value uint8) error
	WriteU16(offset uint64, value uint16) error
	WriteU32(offset uint64, value uint32) error
	WriteU64(offset uint64, value uint64) error
}

// MemorySizer provides the current size of a region in bytes.
type MemorySizer interface {
	Size() uint64
}

// Allocator hands out blocks of a stack-like region. Free releases ptr and
// everything allocated after it.
type Allocator interface {
	Alloc(size, align uint64) (uint64, error)
	Free(ptr, size, align uint64)
}
