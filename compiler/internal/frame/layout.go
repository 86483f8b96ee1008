package frame

import "fmt"

// Layout describes where the runtime keeps the instruction pointer, the
// stack pointer and the value cells inside a native frame.
type Layout struct {
	Name        string
	IPOffset    int
	SPOffset    int
	CellsOffset int
	PointerSize int
}

// Frame layouts of the AOT runtime and of the interpreter used in JIT mode.
// IPOffset and SPOffset are the offsets of the runtime frame header fields;
// CellsOffset is where the value cells (lp) start.
var (
	// AOTFrame: ip_offset, sp, lp.
	AOTFrame64 = Layout{Name: "aot64", IPOffset: 32, SPOffset: 40, CellsOffset: 56, PointerSize: 8}
	AOTFrame32 = Layout{Name: "aot32", IPOffset: 16, SPOffset: 20, CellsOffset: 28, PointerSize: 4}

	// WASMInterpFrame: ip, sp, lp.
	InterpFrame64 = Layout{Name: "interp64", IPOffset: 16, SPOffset: 40, CellsOffset: 72, PointerSize: 8}
	InterpFrame32 = Layout{Name: "interp32", IPOffset: 8, SPOffset: 20, CellsOffset: 36, PointerSize: 4}
)

// LayoutFor selects the frame layout for a mode and pointer size.
func LayoutFor(jit bool, pointerSize int) (Layout, error) {
	switch {
	case !jit && pointerSize == 8:
		return AOTFrame64, nil
	case !jit && pointerSize == 4:
		return AOTFrame32, nil
	case jit && pointerSize == 8:
		return InterpFrame64, nil
	case jit && pointerSize == 4:
		return InterpFrame32, nil
	}
	return Layout{}, fmt.Errorf("unsupported pointer size %d", pointerSize)
}

// OffsetOfLocal returns the byte offset of cell n.
func (l Layout) OffsetOfLocal(n int) int {
	return l.CellsOffset + 4*n
}

// Size returns the frame size in bytes for the given number of cells.
func (l Layout) Size(cells int) int {
	return l.CellsOffset + 4*cells
}
