package checkpoint

import (
	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/ir"
)

// Config selects the frame layout, the ip encoding and the experimental
// switches that weaken the protocol.
type Config struct {
	Layout frame.Layout
	// CodeBase is added to instruction offsets when JIT is set, producing
	// the absolute ip the interpreter keeps in its frame.
	CodeBase uint64
	JIT      bool

	// AuxDirtyBit makes every commit clear the dirty bit.
	AuxDirtyBit bool

	DisableCommitSpIp             bool
	DisableRestoreJump            bool
	DisableFence                  bool
	DisableStackCommitBeforeBlock bool
	DisableLocalCommit            bool
}

// Stats counts what the engine emitted for one function.
type Stats struct {
	Commits     int
	Restores    int
	Sites       int
	BranchSites int
	LoopSites   int
}

// Engine spills shadow frame values into the native frame and reloads
// them on the restore path.
type Engine struct {
	B        *ir.Builder
	Frame    *frame.CompFrame
	FramePtr *ir.Value
	Config
	Stats Stats
}

// NewEngine returns an engine writing through framePtr.
func NewEngine(b *ir.Builder, f *frame.CompFrame, framePtr *ir.Value, cfg Config) *Engine {
	return &Engine{B: b, Frame: f, FramePtr: framePtr, Config: cfg}
}

// IPType is the IR type of the persisted instruction pointer.
func (e *Engine) IPType() ir.Type {
	if e.Layout.PointerSize == 8 {
		return ir.TypeI64
	}
	return ir.TypeI32
}

// EncodeIP converts an instruction offset into the value stored in the
// frame's ip field and used as the restore dispatch key.
func (e *Engine) EncodeIP(offset uint64) uint64 {
	v := offset
	if e.JIT {
		v += e.CodeBase
	}
	if e.IPType() == ir.TypeI32 {
		v = uint64(uint32(v))
	}
	return v
}

// storage returns where the value under cur currently lives.
func (e *Engine) storage(cur *frame.Cursor) (*ir.Value, error) {
	var src *ir.Value
	if cur.IsLocal() {
		src = e.Frame.Locals[cur.Index]
	} else {
		src = cur.Slot().Value
	}
	if src == nil {
		return nil, errors.Internal(errors.PhaseCompile, "value %d (cell %d) has no storage", cur.Index, cur.Cell)
	}
	return src, nil
}

func (e *Engine) cellPtr(cell int) *ir.Value {
	return e.B.PtrAdd(e.FramePtr, int64(e.Layout.OffsetOfLocal(cell)))
}

// commitValue spills the value under cur into its native frame cells.
// With emit unset only the dirty bookkeeping runs.
func (e *Engine) commitValue(cur *frame.Cursor, reset, emit bool) error {
	slot := cur.Slot()
	t := slot.Type
	if t.Cells() == 0 {
		return errors.Internal(errors.PhaseCompile, "commit of cell %d with unknown type %s", cur.Cell, t)
	}
	src, err := e.storage(cur)
	if err != nil {
		return err
	}
	if emit {
		v := e.B.Load(t.IR(), src, 0)
		if t == frame.TypeI1 {
			v = e.B.Convert(ir.OpZExt, v, ir.TypeI32)
		}
		e.B.Store(v, e.cellPtr(cur.Cell), 1)
		e.Stats.Commits++
	}
	if reset || e.AuxDirtyBit {
		slot.Dirty = false
	}
	return nil
}

// CommitAll spills every dirty live value, locals and operand stack.
func (e *Engine) CommitAll(reset bool) error {
	return e.commitAll(reset, true)
}

// CommitAllDry performs the bookkeeping of CommitAll without emitting IR.
func (e *Engine) CommitAllDry(reset bool) error {
	return e.commitAll(reset, false)
}

func (e *Engine) commitAll(reset, emit bool) error {
	for cur := e.Frame.Cursor(); !cur.Done(); {
		if cur.Slot().Dirty {
			if err := e.commitValue(&cur, reset, emit); err != nil {
				return err
			}
		}
		if err := cur.Advance(); err != nil {
			return errors.Wrap(err, errors.PhaseCompile, errors.KindInternal, "walk shadow frame")
		}
	}
	return nil
}

// CommitAllLocals spills every local regardless of its dirty bit. Dirty
// bits are left untouched.
func (e *Engine) CommitAllLocals() error {
	for cur := e.Frame.Cursor(); !cur.Done() && cur.IsLocal(); {
		if err := e.commitValue(&cur, false, true); err != nil {
			return err
		}
		if err := cur.Advance(); err != nil {
			return errors.Wrap(err, errors.PhaseCompile, errors.KindInternal, "walk shadow frame")
		}
	}
	return nil
}

// CommitLocal spills local idx if it is dirty and clears its dirty bit.
func (e *Engine) CommitLocal(idx int) error {
	if idx < 0 || idx >= e.Frame.NumLocals() {
		return errors.Internal(errors.PhaseCompile, "commit of local %d out of range", idx)
	}
	cur := frame.CursorAt(e.Frame, e.Frame.LocalCell(idx), idx)
	if !cur.Slot().Dirty {
		return nil
	}
	return e.commitValue(&cur, true, !e.DisableLocalCommit)
}

// RestoreAll reloads every live value from the native frame into its
// storage. Dirty bits are not changed.
func (e *Engine) RestoreAll() error {
	for cur := e.Frame.Cursor(); !cur.Done(); {
		t := cur.Slot().Type
		if t.Cells() == 0 {
			return errors.Internal(errors.PhaseCompile, "restore of cell %d with unknown type %s", cur.Cell, t)
		}
		dst, err := e.storage(&cur)
		if err != nil {
			return err
		}
		p := e.cellPtr(cur.Cell)
		var v *ir.Value
		if t == frame.TypeI1 {
			v = e.B.Convert(ir.OpTrunc, e.B.Load(ir.TypeI32, p, 1), ir.TypeI1)
		} else {
			v = e.B.Load(t.IR(), p, 1)
		}
		e.B.Store(v, dst, 0)
		e.Stats.Restores++
		if err := cur.Advance(); err != nil {
			return errors.Wrap(err, errors.PhaseCompile, errors.KindInternal, "walk shadow frame")
		}
	}
	return nil
}

// CommitSPIP stores the encoded instruction pointer and the address of
// the current stack top into the frame header.
func (e *Engine) CommitSPIP(offset uint64) {
	ipt := e.IPType()
	ip := ir.ConstInt(ipt, e.EncodeIP(offset))
	e.B.Store(ip, e.B.PtrAdd(e.FramePtr, int64(e.Layout.IPOffset)), 1)

	sp := e.cellPtr(e.Frame.SP())
	if e.Layout.PointerSize != 8 {
		sp = e.B.Convert(ir.OpPtrToInt, sp, ir.TypeI32)
	}
	e.B.Store(sp, e.B.PtrAdd(e.FramePtr, int64(e.Layout.SPOffset)), 1)
}

// LoadIP reads the persisted instruction pointer.
func (e *Engine) LoadIP() *ir.Value {
	return e.B.Load(e.IPType(), e.B.PtrAdd(e.FramePtr, int64(e.Layout.IPOffset)), 1)
}
