package runtime

import (
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"

	wasmaot "github.com/wippyai/wasm-aot"
)

// wazeroMemory adapts a wazero api.Memory to wasmaot.Memory so host
// functions see the same interface under both engines.
type wazeroMemory struct {
	mem api.Memory
}

var (
	_ wasmaot.Memory      = (*wazeroMemory)(nil)
	_ wasmaot.MemorySizer = (*wazeroMemory)(nil)
)

// wrapMemory returns nil for a module without memory.
func wrapMemory(mem api.Memory) wasmaot.Memory {
	if mem == nil {
		return nil
	}
	return &wazeroMemory{mem: mem}
}

func off32(offset uint64) (uint32, error) {
	if offset > math.MaxUint32 {
		return 0, fmt.Errorf("memory access out of bounds: offset=%d", offset)
	}
	return uint32(offset), nil
}

func (m *wazeroMemory) Size() uint64 { return uint64(m.mem.Size()) }

// Read copies length bytes at offset.
func (m *wazeroMemory) Read(offset uint64, length uint64) ([]byte, error) {
	o, err := off32(offset)
	if err != nil || length > math.MaxUint32 {
		return nil, fmt.Errorf("memory read out of bounds: offset=%d, length=%d", offset, length)
	}
	data, ok := m.mem.Read(o, uint32(length))
	if !ok {
		return nil, fmt.Errorf("memory read out of bounds: offset=%d, length=%d", offset, length)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write writes bytes to memory.
func (m *wazeroMemory) Write(offset uint64, data []byte) error {
	o, err := off32(offset)
	if err != nil || !m.mem.Write(o, data) {
		return fmt.Errorf("memory write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *wazeroMemory) ReadU8(offset uint64) (uint8, error) {
	o, err := off32(offset)
	if err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadByte(o)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *wazeroMemory) ReadU16(offset uint64) (uint16, error) {
	o, err := off32(offset)
	if err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadUint16Le(o)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *wazeroMemory) ReadU32(offset uint64) (uint32, error) {
	o, err := off32(offset)
	if err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadUint32Le(o)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *wazeroMemory) ReadU64(offset uint64) (uint64, error) {
	o, err := off32(offset)
	if err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadUint64Le(o)
	if !ok {
		return 0, fmt.Errorf("memory read out of bounds: offset=%d", offset)
	}
	return v, nil
}

func (m *wazeroMemory) WriteU8(offset uint64, value uint8) error {
	o, err := off32(offset)
	if err != nil || !m.mem.WriteByte(o, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *wazeroMemory) WriteU16(offset uint64, value uint16) error {
	o, err := off32(offset)
	if err != nil || !m.mem.WriteUint16Le(o, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *wazeroMemory) WriteU32(offset uint64, value uint32) error {
	o, err := off32(offset)
	if err != nil || !m.mem.WriteUint32Le(o, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *wazeroMemory) WriteU64(offset uint64, value uint64) error {
	o, err := off32(offset)
	if err != nil || !m.mem.WriteUint64Le(o, value) {
		return fmt.Errorf("memory write out of bounds: offset=%d", offset)
	}
	return nil
}
