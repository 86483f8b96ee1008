package wasm

import (
	"bytes"

	"github.com/wippyai/wasm-aot/wasm/internal/binary"
)

// LEB128 decoding errors. Bounded decoders return these unwrapped so that
// callers can attach position information.
var (
	ErrTruncated = binary.ErrTruncated
	ErrOverlong  = binary.ErrOverlong
)

// ReadLEB decodes a LEB128 integer from buf starting at off without reading
// at or beyond end. It returns the raw 64-bit result and the number of bytes
// consumed.
//
// At most (maxBits+6)/7 continuation bytes are accepted. For signed reads
// the result is sign-extended from the terminal byte's bit 6 when fewer than
// maxBits bits were accumulated.
func ReadLEB(buf []byte, off, end int, maxBits uint, signed bool) (uint64, int, error) {
	return binary.ReadLEB(buf, off, end, maxBits, signed)
}

// ReadVarUint32 decodes an unsigned 32-bit LEB128 value.
func ReadVarUint32(buf []byte, off, end int) (uint32, int, error) {
	v, n, err := ReadLEB(buf, off, end, 32, false)
	return uint32(v), n, err
}

// ReadVarInt32 decodes a signed 32-bit LEB128 value.
func ReadVarInt32(buf []byte, off, end int) (int32, int, error) {
	v, n, err := ReadLEB(buf, off, end, 32, true)
	return int32(v), n, err
}

// ReadVarUint64 decodes an unsigned 64-bit LEB128 value.
func ReadVarUint64(buf []byte, off, end int) (uint64, int, error) {
	return ReadLEB(buf, off, end, 64, false)
}

// ReadVarInt64 decodes a signed 64-bit LEB128 value.
func ReadVarInt64(buf []byte, off, end int) (int64, int, error) {
	v, n, err := ReadLEB(buf, off, end, 64, true)
	return int64(v), n, err
}

// ReadVarInt33 decodes a signed 33-bit LEB128 value (block types).
func ReadVarInt33(buf []byte, off, end int) (int64, int, error) {
	v, n, err := ReadLEB(buf, off, end, 33, true)
	return int64(v), n, err
}

// WriteLEB128u writes an unsigned LEB128 value
func WriteLEB128u(w *bytes.Buffer, v uint32) {
	WriteLEB128u64(w, uint64(v))
}

// WriteLEB128u64 writes an unsigned 64-bit LEB128 value
func WriteLEB128u64(w *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

// WriteLEB128s writes a signed LEB128 value
func WriteLEB128s(w *bytes.Buffer, v int32) {
	WriteLEB128s64(w, int64(v))
}

// WriteLEB128s64 writes a signed 64-bit LEB128 value
func WriteLEB128s64(w *bytes.Buffer, v int64) {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		w.WriteByte(b)
	}
}

// AppendLEB128u appends an unsigned LEB128 value to dst.
func AppendLEB128u(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// AppendLEB128s appends a signed LEB128 value to dst.
func AppendLEB128s(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}
