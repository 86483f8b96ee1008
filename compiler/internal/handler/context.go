package handler

import (
	"fmt"

	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/wasm"
)

// Features gates opcode families that belong to optional proposals.
type Features struct {
	SIMD       bool
	RefTypes   bool
	BulkMemory bool
	Threads    bool
	TailCall   bool
}

type cellKey struct {
	cell int
	typ  frame.Type
}

// Context is the per-function emission state shared by all handlers.
//
// Operand stack values live in stack storage: one alloca per (cell, type)
// pair, reused by every value that lands in that cell. Push stores into
// the storage and records it in the shadow frame; Pop loads it back. This
// keeps every live value addressable, which is what lets the restore path
// reload the whole frame without phis.
type Context struct {
	B        *ir.Builder
	Frame    *frame.CompFrame
	Module   *wasm.Module
	Layout   *InstanceLayout
	Features Features
	// Instance is the instance record pointer, parameter 1.
	Instance *ir.Value
	FuncIdx  uint32
	// BoundsChecks emits explicit linear memory bounds checks.
	BoundsChecks bool

	cells   map[cellKey]*ir.Value
	throws  map[ir.TrapCode]*ir.Block
	exc     *ir.Block
	excCode *ir.Value
	checks  int
}

// NewContext returns a context for function fnIdx.
func NewContext(b *ir.Builder, f *frame.CompFrame, m *wasm.Module, layout *InstanceLayout, instance *ir.Value, fnIdx uint32) *Context {
	return &Context{
		B:        b,
		Frame:    f,
		Module:   m,
		Layout:   layout,
		Instance: instance,
		FuncIdx:  fnIdx,
		cells:    make(map[cellKey]*ir.Value),
		throws:   make(map[ir.TrapCode]*ir.Block),
	}
}

// Unsupported returns the recoverable error for an opcode this compiler
// cannot translate.
func (c *Context) Unsupported(r *Reader, format string, args ...any) error {
	return errors.New(errors.PhaseCompile, errors.KindUnsupported).
		Func(c.FuncIdx).
		Offset(r.Pos).
		Detail(format, args...).
		Build()
}

// Internal returns a defect error.
func (c *Context) Internal(r *Reader, format string, args ...any) error {
	b := errors.New(errors.PhaseCompile, errors.KindInternal).
		Func(c.FuncIdx).
		Detail(format, args...)
	if r != nil {
		b.Offset(r.Pos)
	}
	return b.Build()
}

// CellStorage returns the storage for a value of type t in stack cell
// cell, creating it on first use.
func (c *Context) CellStorage(cell int, t frame.Type) *ir.Value {
	k := cellKey{cell, t}
	if p, ok := c.cells[k]; ok {
		return p
	}
	p := c.B.Alloca(t.IR(), fmt.Sprintf("cell %d", cell))
	c.cells[k] = p
	return p
}

// Push stores v as a new operand stack value of type t.
func (c *Context) Push(t frame.Type, v *ir.Value) error {
	storage := c.CellStorage(c.Frame.SP(), t)
	c.B.Store(v, storage, 0)
	if _, err := c.Frame.Push(t, storage); err != nil {
		return c.Internal(nil, "%v", err)
	}
	return nil
}

// PopAny pops the top value and returns it with its slot type.
func (c *Context) PopAny() (*ir.Value, frame.Type, error) {
	slot, _, err := c.Frame.Pop()
	if err != nil {
		return nil, frame.TypeVoid, c.Internal(nil, "%v", err)
	}
	if slot.Value == nil {
		return nil, frame.TypeVoid, c.Internal(nil, "stack value without storage")
	}
	return c.B.Load(slot.Type.IR(), slot.Value, 0), slot.Type, nil
}

// Pop pops the top value as type want. Comparison results are widened to
// i32 on demand.
func (c *Context) Pop(want frame.Type) (*ir.Value, error) {
	v, t, err := c.PopAny()
	if err != nil {
		return nil, err
	}
	switch {
	case t == want:
		return v, nil
	case t == frame.TypeI1 && want == frame.TypeI32:
		return c.B.ZExtBool(v), nil
	case t.IR() == want.IR():
		return v, nil
	}
	return nil, c.Internal(nil, "operand type %s, want %s", t, want)
}

// PopCond pops an i32 or i1 and returns it as an i1 condition.
func (c *Context) PopCond() (*ir.Value, error) {
	v, t, err := c.PopAny()
	if err != nil {
		return nil, err
	}
	switch t {
	case frame.TypeI1:
		return v, nil
	case frame.TypeI32:
		return c.B.ICmp(ir.PredNE, v, ir.ConstI32(0)), nil
	}
	return nil, c.Internal(nil, "condition of type %s", t)
}

// ExceptionBlock returns the shared trap block, nil when no trap path was
// emitted.
func (c *Context) ExceptionBlock() *ir.Block { return c.exc }

func (c *Context) throwBlock(code ir.TrapCode) *ir.Block {
	if blk, ok := c.throws[code]; ok {
		return blk
	}
	if c.exc == nil {
		c.excCode = c.B.Alloca(ir.TypeI32, "trap code")
		cur := c.B.InsertBlock()
		c.exc = c.B.AppendBlock("got_exception")
		c.B.SetInsertBlock(c.exc)
		c.B.Trap(c.B.Load(ir.TypeI32, c.excCode, 0))
		c.B.SetInsertBlock(cur)
	}
	cur := c.B.InsertBlock()
	blk := c.B.AppendBlock(fmt.Sprintf("throw-%d", uint32(code)))
	c.B.SetInsertBlock(blk)
	c.B.Store(ir.ConstI32(int32(code)), c.excCode, 0)
	c.B.Br(c.exc)
	c.B.SetInsertBlock(cur)
	c.throws[code] = blk
	return blk
}

// Throw ends the current block with a jump to the trap path.
func (c *Context) Throw(code ir.TrapCode) {
	c.B.Br(c.throwBlock(code))
}

// TrapIf traps with code when cond holds and continues in a fresh block
// otherwise.
func (c *Context) TrapIf(cond *ir.Value, code ir.TrapCode) {
	c.checks++
	ok := c.B.AppendBlock(fmt.Sprintf("check%d", c.checks))
	c.B.CondBr(cond, c.throwBlock(code), ok)
	c.B.SetInsertBlock(ok)
}

// MemoryAddress computes the native address of a size-byte access at
// addr+offset, trapping when it leaves linear memory.
func (c *Context) MemoryAddress(addr *ir.Value, offset, size uint64) *ir.Value {
	b := c.B
	ea := b.Convert(ir.OpZExt, addr, ir.TypeI64)
	if offset != 0 {
		ea = b.Binary(ir.OpAdd, ea, ir.ConstI64(int64(offset)))
	}
	if c.BoundsChecks {
		memSize := b.Load(ir.TypeI64, b.PtrAdd(c.Instance, MemSizeOffset), 0)
		end := b.Binary(ir.OpAdd, ea, ir.ConstI64(int64(size)))
		c.TrapIf(b.ICmp(ir.PredUGT, end, memSize), ir.TrapOutOfBoundsMemory)
	}
	base := b.Load(ir.TypePtr, b.PtrAdd(c.Instance, MemBaseOffset), 0)
	return b.PtrAddV(base, ea)
}

// effective returns addr+offset as an i64 without bounds checking.
func (c *Context) effective(addr *ir.Value, offset uint64) *ir.Value {
	ea := c.B.Convert(ir.OpZExt, addr, ir.TypeI64)
	if offset != 0 {
		ea = c.B.Binary(ir.OpAdd, ea, ir.ConstI64(int64(offset)))
	}
	return ea
}

// GlobalPtr returns the address of global idx in the instance record.
func (c *Context) GlobalPtr(idx uint32) (*ir.Value, frame.Type, bool) {
	if int(idx) >= len(c.Layout.Globals) {
		return nil, frame.TypeVoid, false
	}
	return c.B.PtrAdd(c.Instance, int64(c.Layout.Globals[idx])), c.Layout.GlobalTypes[idx], true
}

// tableDesc returns the address of the descriptor of table idx.
func (c *Context) tableDesc(idx uint32) (*ir.Value, bool) {
	if int(idx) >= len(c.Layout.Tables) {
		return nil, false
	}
	return c.B.PtrAdd(c.Instance, int64(c.Layout.Tables[idx])), true
}

// TableElement bounds-checks elem against table idx and returns the
// address of its u32 entry.
func (c *Context) TableElement(table uint32, elem *ir.Value) (*ir.Value, bool) {
	desc, ok := c.tableDesc(table)
	if !ok {
		return nil, false
	}
	b := c.B
	size := b.Load(ir.TypeI32, b.PtrAdd(desc, TableSizeOffset), 0)
	c.TrapIf(b.ICmp(ir.PredUGE, elem, size), ir.TrapOutOfBoundsTable)
	elems := b.Load(ir.TypePtr, desc, 0)
	off := b.Binary(ir.OpMul, b.Convert(ir.OpZExt, elem, ir.TypeI64), ir.ConstI64(4))
	return b.PtrAddV(elems, off), true
}
