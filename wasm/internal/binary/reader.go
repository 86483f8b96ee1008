package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Decoding errors shared by the module parser and the bytecode translator.
var (
	ErrTruncated = errors.New("leb128: unexpected end")
	ErrOverlong  = errors.New("leb128: integer representation too long")
)

// ReadLEB decodes a LEB128 integer from buf[off:end]. At most
// (maxBits+6)/7 continuation bytes are accepted; signed values are
// sign-extended from the terminal byte when shift < maxBits.
func ReadLEB(buf []byte, off, end int, maxBits uint, signed bool) (uint64, int, error) {
	if end > len(buf) {
		end = len(buf)
	}
	var (
		result uint64
		shift  uint
		bcnt   uint
		b      byte
		pos    = off
	)
	limit := (maxBits + 6) / 7
	for {
		if pos < 0 || pos >= end {
			return 0, 0, ErrTruncated
		}
		b = buf[pos]
		pos++
		if shift < 64 {
			result |= uint64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			break
		}
		bcnt++
		if bcnt > limit {
			return 0, 0, ErrOverlong
		}
	}
	if signed && shift < maxBits && b&0x40 != 0 {
		result |= ^uint64(0) << shift
	}
	return result, pos - off, nil
}

// Reader is a bounded cursor over a byte slice with position tracking and
// WASM-specific read methods.
type Reader struct {
	buf  []byte
	pos  int
	base int
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// NewReaderAt creates a Reader whose reported positions are offset by base.
func NewReaderAt(data []byte, base int) *Reader {
	return &Reader{buf: data, base: base}
}

// Position returns the current byte position, including the base offset.
func (r *Reader) Position() int {
	return r.base + r.pos
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// ReadByte reads a single byte and advances the position.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrTruncated
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes. The returned slice aliases the input.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > len(r.buf)-r.pos {
		return nil, r.wrapError(ErrTruncated)
	}
	out := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *Reader) readLEB(maxBits uint, signed bool) (uint64, error) {
	v, n, err := ReadLEB(r.buf, r.pos, len(r.buf), maxBits, signed)
	if err != nil {
		return 0, r.wrapError(err)
	}
	r.pos += n
	return v, nil
}

// ReadU32 reads an unsigned LEB128 encoded uint32.
func (r *Reader) ReadU32() (uint32, error) {
	v, err := r.readLEB(32, false)
	return uint32(v), err
}

// ReadU64 reads an unsigned LEB128 encoded uint64.
func (r *Reader) ReadU64() (uint64, error) {
	return r.readLEB(64, false)
}

// ReadS32 reads a signed LEB128 encoded int32.
func (r *Reader) ReadS32() (int32, error) {
	v, err := r.readLEB(32, true)
	return int32(v), err
}

// ReadS33 reads a signed LEB128 encoded block type.
func (r *Reader) ReadS33() (int64, error) {
	v, err := r.readLEB(33, true)
	return int64(v), err
}

// ReadS64 reads a signed LEB128 encoded int64.
func (r *Reader) ReadS64() (int64, error) {
	v, err := r.readLEB(64, true)
	return int64(v), err
}

// ReadName reads a UTF-8 encoded name (length-prefixed byte sequence).
func (r *Reader) ReadName() (string, error) {
	length, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	data, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", r.wrapError(errors.New("invalid UTF-8 in name"))
	}
	return string(data), nil
}

// ReadU32LE reads a little-endian uint32 (fixed 4 bytes).
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadRemaining reads all remaining bytes.
func (r *Reader) ReadRemaining() []byte {
	out, _ := r.ReadBytes(r.Len())
	return out
}

func (r *Reader) wrapError(err error) error {
	return fmt.Errorf("at position %d: %w", r.Position(), err)
}

// ParseError represents an error during binary parsing with position information.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("wasm: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("wasm: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WrapError creates a ParseError with the current position.
func (r *Reader) WrapError(section string, err error) error {
	return &ParseError{
		Position: r.Position(),
		Section:  section,
		Err:      err,
	}
}
