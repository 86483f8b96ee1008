package frame

import (
	"fmt"

	"github.com/wippyai/wasm-aot/ir"
)

// SafetyCells is the number of spare cells reserved after the operand stack
// for instructions that need transient temporaries.
const SafetyCells = 2

// ValueSlot is one 32-bit cell of the shadow frame. Only the first cell of
// a multi-cell value carries Type, Dirty and Value; the remaining cells are
// zero placeholders.
type ValueSlot struct {
	// Value is the storage currently holding the slot's value: the cell's
	// stack temporary for operand stack values. Locals use the frame's
	// dedicated local storage instead and leave Value nil.
	Value *ir.Value
	Type  Type
	Dirty bool
}

// CompFrame mirrors the interpreter frame of the function being compiled:
// locals (parameters first) followed by the operand stack. Cell 0 is lp.
type CompFrame struct {
	Slots []ValueSlot
	// Locals holds the dedicated storage of each local, by local index.
	Locals []*ir.Value

	localTypes []Type
	localCells []int
	starts     []int

	ParamCount int
	LocalCount int
	// LocalCells is the number of cells taken by parameters and locals;
	// the operand stack starts there.
	LocalCells int
	// MaxStackCells is the highest operand stack depth seen, in cells.
	MaxStackCells int

	sp int
}

// New creates the shadow frame for a function. Every local starts dirty:
// parameters hold their incoming values and declared locals hold zero,
// neither of which is in the native frame yet.
func New(params, locals []Type) (*CompFrame, error) {
	f := &CompFrame{
		ParamCount: len(params),
		LocalCount: len(locals),
	}
	all := make([]Type, 0, len(params)+len(locals))
	all = append(all, params...)
	all = append(all, locals...)

	cell := 0
	for i, t := range all {
		n := t.Cells()
		if n == 0 {
			return nil, fmt.Errorf("local %d has unsupported type %s", i, t)
		}
		f.localTypes = append(f.localTypes, t)
		f.localCells = append(f.localCells, cell)
		cell += n
	}
	f.LocalCells = cell
	f.Slots = make([]ValueSlot, cell, cell+16)
	for i, t := range f.localTypes {
		f.Slots[f.localCells[i]] = ValueSlot{Type: t, Dirty: true}
	}
	f.Locals = make([]*ir.Value, len(all))
	f.sp = cell
	return f, nil
}

// NumLocals returns the number of parameters plus declared locals.
func (f *CompFrame) NumLocals() int { return len(f.localTypes) }

// LocalType returns the type of local idx.
func (f *CompFrame) LocalType(idx int) Type { return f.localTypes[idx] }

// LocalCell returns the first cell of local idx.
func (f *CompFrame) LocalCell(idx int) int { return f.localCells[idx] }

// LocalSlot returns the slot of local idx.
func (f *CompFrame) LocalSlot(idx int) *ValueSlot { return &f.Slots[f.localCells[idx]] }

// SP returns the cell index one past the top of the operand stack.
func (f *CompFrame) SP() int { return f.sp }

// Height returns the number of values on the operand stack.
func (f *CompFrame) Height() int { return len(f.starts) }

// StackCells returns the operand stack depth in cells.
func (f *CompFrame) StackCells() int { return f.sp - f.LocalCells }

// TotalCells returns the number of cells the native frame must provide.
func (f *CompFrame) TotalCells() int {
	return f.LocalCells + f.MaxStackCells + SafetyCells
}

// Push places a value of type t on the operand stack, marks it dirty and
// returns its first cell.
func (f *CompFrame) Push(t Type, storage *ir.Value) (int, error) {
	n := t.Cells()
	if n == 0 {
		return 0, fmt.Errorf("push of unsupported type %s", t)
	}
	cell := f.sp
	for len(f.Slots) < cell+n {
		f.Slots = append(f.Slots, ValueSlot{})
	}
	f.Slots[cell] = ValueSlot{Type: t, Dirty: true, Value: storage}
	for i := 1; i < n; i++ {
		f.Slots[cell+i] = ValueSlot{}
	}
	f.starts = append(f.starts, cell)
	f.sp = cell + n
	if d := f.sp - f.LocalCells; d > f.MaxStackCells {
		f.MaxStackCells = d
	}
	return cell, nil
}

// Pop removes the top value and returns its slot and first cell.
func (f *CompFrame) Pop() (*ValueSlot, int, error) {
	if len(f.starts) == 0 {
		return nil, 0, fmt.Errorf("operand stack underflow")
	}
	cell := f.starts[len(f.starts)-1]
	f.starts = f.starts[:len(f.starts)-1]
	f.sp = cell
	return &f.Slots[cell], cell, nil
}

// Peek returns the value depth positions below the top (0 is the top).
func (f *CompFrame) Peek(depth int) (*ValueSlot, int, error) {
	i := len(f.starts) - 1 - depth
	if i < 0 {
		return nil, 0, fmt.Errorf("operand stack underflow")
	}
	cell := f.starts[i]
	return &f.Slots[cell], cell, nil
}

// Truncate drops values until the stack holds height values.
func (f *CompFrame) Truncate(height int) {
	if height >= len(f.starts) {
		return
	}
	f.sp = f.starts[height]
	f.starts = f.starts[:height]
}

// Cursor walks the slots from lp to sp one value at a time.
type Cursor struct {
	frame *CompFrame
	// Cell is the first cell of the current value.
	Cell int
	// Index is the synthetic local index: the ordinal of the current value.
	// Indices below NumLocals denote locals.
	Index int
}

// Cursor returns a cursor positioned at lp.
func (f *CompFrame) Cursor() Cursor {
	return Cursor{frame: f}
}

// CursorAt returns a cursor on the value starting at cell whose synthetic
// local index is index.
func CursorAt(f *CompFrame, cell, index int) Cursor {
	return Cursor{frame: f, Cell: cell, Index: index}
}

// Done reports whether the cursor reached sp.
func (c *Cursor) Done() bool { return c.Cell >= c.frame.sp }

// Slot returns the current slot.
func (c *Cursor) Slot() *ValueSlot { return &c.frame.Slots[c.Cell] }

// IsLocal reports whether the current value is a local rather than an
// operand stack value.
func (c *Cursor) IsLocal() bool {
	return c.Index < c.frame.ParamCount+c.frame.LocalCount
}

// Advance moves past the current value, skipping its continuation cells.
// It fails for slots whose type has no stride.
func (c *Cursor) Advance() error {
	n := c.Slot().Type.Cells()
	if n == 0 {
		return fmt.Errorf("slot %d has unknown type %s", c.Cell, c.Slot().Type)
	}
	c.Cell += n
	c.Index++
	return nil
}

// DirtySet snapshots the dirty bits of all live values, keyed by cell.
func (f *CompFrame) DirtySet() *BitSet {
	s := NewBitSet(f.sp)
	for cur := f.Cursor(); !cur.Done(); {
		if cur.Slot().Dirty {
			s.Set(cur.Cell)
		}
		if cur.Advance() != nil {
			break
		}
	}
	return s
}

// SetDirty replaces the dirty bits of all live values with s.
func (f *CompFrame) SetDirty(s *BitSet) {
	for cur := f.Cursor(); !cur.Done(); {
		cur.Slot().Dirty = s.Has(cur.Cell)
		if cur.Advance() != nil {
			break
		}
	}
}

// MarkLocalsDirty marks every local dirty.
func (f *CompFrame) MarkLocalsDirty() {
	for _, c := range f.localCells {
		f.Slots[c].Dirty = true
	}
}

// MarkDirty marks the live value starting at cell dirty.
func (f *CompFrame) MarkDirty(cell int) {
	f.Slots[cell].Dirty = true
}
