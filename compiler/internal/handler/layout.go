package handler

import (
	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/wasm"
)

// Fixed fields at the start of the instance record.
const (
	MemBaseOffset = 0 // pointer to linear memory byte 0
	MemSizeOffset = 8 // current memory size in bytes, u64

	// TableDescSize is the size of a table descriptor: a pointer to the
	// u32 element array followed by the u32 element count.
	TableDescSize   = 16
	TableSizeOffset = 8
)

// InstanceLayout places tables, the function type-id array and globals
// inside the instance record passed to every compiled function.
type InstanceLayout struct {
	// Tables holds the offset of each table descriptor.
	Tables []uint32
	// FuncTypes is the offset of a pointer to a u32 array holding the
	// canonical type id of every function, imports first.
	FuncTypes uint32
	// Globals holds the offset of each global, imports first.
	Globals     []uint32
	GlobalTypes []frame.Type
	// TypeIDs maps a type index to its canonical id: the first type index
	// with an identical signature.
	TypeIDs []uint32
	Size    uint32
}

// NewInstanceLayout computes the instance layout of m.
func NewInstanceLayout(m *wasm.Module) (*InstanceLayout, error) {
	l := &InstanceLayout{}
	off := uint32(16)
	for i := 0; i < m.NumTables(); i++ {
		l.Tables = append(l.Tables, off)
		off += TableDescSize
	}
	l.FuncTypes = off
	off += 8
	for i := 0; i < m.NumGlobals(); i++ {
		gt := m.GlobalType(uint32(i))
		if gt == nil {
			return nil, errors.InvalidData(errors.PhaseCompile, "global %d has no type", i)
		}
		t, ok := frame.FromWasm(gt.ValType)
		if !ok {
			return nil, errors.Unsupported(errors.PhaseCompile, "global type "+gt.ValType.String())
		}
		l.Globals = append(l.Globals, off)
		l.GlobalTypes = append(l.GlobalTypes, t)
		if t == frame.TypeV128 {
			off += 16
		} else {
			off += 8
		}
	}
	l.Size = off

	l.TypeIDs = make([]uint32, len(m.Types))
	for i := range m.Types {
		l.TypeIDs[i] = uint32(i)
		for j := 0; j < i; j++ {
			if m.Types[j].Equal(&m.Types[i]) {
				l.TypeIDs[i] = uint32(j)
				break
			}
		}
	}
	return l, nil
}

// FuncTypeID returns the canonical type id of function idx.
func (l *InstanceLayout) FuncTypeID(m *wasm.Module, idx uint32) (uint32, bool) {
	nimp := uint32(m.NumImportedFuncs())
	var typeIdx uint32
	if idx < nimp {
		imp := m.ImportedFunc(idx)
		if imp == nil {
			return 0, false
		}
		typeIdx = imp.Desc.TypeIdx
	} else {
		if int(idx-nimp) >= len(m.Funcs) {
			return 0, false
		}
		typeIdx = m.Funcs[idx-nimp]
	}
	if int(typeIdx) >= len(l.TypeIDs) {
		return 0, false
	}
	return l.TypeIDs[typeIdx], true
}
