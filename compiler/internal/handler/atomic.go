package handler

import (
	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/wasm"
)

type atomicKind uint8

const (
	atomicLoad atomicKind = iota
	atomicStore
	atomicRMW
	atomicCmpxchg
)

// AtomicHandler lowers the 0xFE memory accesses. Every access must be
// naturally aligned; a misaligned effective address traps before the
// bounds check.
type AtomicHandler struct {
	kind  atomicKind
	Type  frame.Type
	Width uint8
	RMW   ir.RMWOp
}

// address returns the checked pointer for addr along with the raw
// effective address.
func (h AtomicHandler) address(ctx *Context, m MemArg, addr *ir.Value) (*ir.Value, *ir.Value) {
	b := ctx.B
	ea := ctx.effective(addr, m.Offset)
	if h.Width > 1 {
		low := b.Binary(ir.OpAnd, ea, ir.ConstI64(int64(h.Width-1)))
		ctx.TrapIf(b.ICmp(ir.PredNE, low, ir.ConstI64(0)), ir.TrapUnalignedAtomic)
	}
	return ctx.MemoryAddress(addr, m.Offset, uint64(h.Width)), ea
}

func (h AtomicHandler) Handle(ctx *Context, r *Reader) error {
	m, err := r.MemArg()
	if err != nil {
		return err
	}
	b := ctx.B
	t := h.Type.IR()

	switch h.kind {
	case atomicLoad:
		addr, err := ctx.Pop(frame.TypeI32)
		if err != nil {
			return err
		}
		p, _ := h.address(ctx, m, addr)
		return ctx.Push(h.Type, b.AtomicLoad(t, p, h.Width))

	case atomicStore:
		v, err := ctx.Pop(h.Type)
		if err != nil {
			return err
		}
		addr, err := ctx.Pop(frame.TypeI32)
		if err != nil {
			return err
		}
		p, _ := h.address(ctx, m, addr)
		b.AtomicStore(v, p, h.Width)
		return nil

	case atomicRMW:
		v, err := ctx.Pop(h.Type)
		if err != nil {
			return err
		}
		addr, err := ctx.Pop(frame.TypeI32)
		if err != nil {
			return err
		}
		p, _ := h.address(ctx, m, addr)
		return ctx.Push(h.Type, b.AtomicRMW(h.RMW, p, v, h.Width))

	case atomicCmpxchg:
		repl, err := ctx.Pop(h.Type)
		if err != nil {
			return err
		}
		expected, err := ctx.Pop(h.Type)
		if err != nil {
			return err
		}
		addr, err := ctx.Pop(frame.TypeI32)
		if err != nil {
			return err
		}
		p, _ := h.address(ctx, m, addr)
		return ctx.Push(h.Type, b.Cmpxchg(p, expected, repl, h.Width))
	}
	return ctx.Internal(r, "unknown atomic kind %d", h.kind)
}

// waitHandler lowers memory.atomic.wait32/64 and memory.atomic.notify to
// runtime intrinsics taking the effective address as an i64.
type waitHandler struct {
	intrinsic string
	// operands after the address, in push order
	operands []frame.Type
	width    uint8
}

func (h waitHandler) Handle(ctx *Context, r *Reader) error {
	m, err := r.MemArg()
	if err != nil {
		return err
	}
	ops := make([]*ir.Value, len(h.operands))
	for i := len(h.operands) - 1; i >= 0; i-- {
		v, err := ctx.Pop(h.operands[i])
		if err != nil {
			return err
		}
		ops[i] = v
	}
	addr, err := ctx.Pop(frame.TypeI32)
	if err != nil {
		return err
	}
	_, ea := AtomicHandler{Width: h.width}.address(ctx, m, addr)
	args := append([]*ir.Value{ctx.Instance, ea}, ops...)
	res := ctx.B.Intrinsic(h.intrinsic, []ir.Type{ir.TypeI32}, args...)
	return ctx.Push(frame.TypeI32, res[0])
}

// prefixRow binds a prefixed sub-opcode to its handler.
type prefixRow struct {
	sub  uint32
	name string
	h    Handler
}

func aload(sub uint32, name string, t frame.Type, w uint8) prefixRow {
	return prefixRow{sub, name, AtomicHandler{kind: atomicLoad, Type: t, Width: w}}
}

func astore(sub uint32, name string, t frame.Type, w uint8) prefixRow {
	return prefixRow{sub, name, AtomicHandler{kind: atomicStore, Type: t, Width: w}}
}

func acmpxchg(sub uint32, name string, t frame.Type, w uint8) prefixRow {
	return prefixRow{sub, name, AtomicHandler{kind: atomicCmpxchg, Type: t, Width: w}}
}

var prefixRows = []prefixRow{
	{wasm.AtomicNotify, "memory.atomic.notify", waitHandler{"memory.atomic.notify", []frame.Type{frame.TypeI32}, 4}},
	{wasm.AtomicWait32, "memory.atomic.wait32", waitHandler{"memory.atomic.wait32", []frame.Type{frame.TypeI32, frame.TypeI64}, 4}},
	{wasm.AtomicWait64, "memory.atomic.wait64", waitHandler{"memory.atomic.wait64", []frame.Type{frame.TypeI64, frame.TypeI64}, 8}},

	aload(wasm.AtomicI32Load, "i32.atomic.load", frame.TypeI32, 4),
	aload(wasm.AtomicI64Load, "i64.atomic.load", frame.TypeI64, 8),
	aload(wasm.AtomicI32Load8U, "i32.atomic.load8_u", frame.TypeI32, 1),
	aload(wasm.AtomicI32Load16U, "i32.atomic.load16_u", frame.TypeI32, 2),
	aload(wasm.AtomicI64Load8U, "i64.atomic.load8_u", frame.TypeI64, 1),
	aload(wasm.AtomicI64Load16U, "i64.atomic.load16_u", frame.TypeI64, 2),
	aload(wasm.AtomicI64Load32U, "i64.atomic.load32_u", frame.TypeI64, 4),

	astore(wasm.AtomicI32Store, "i32.atomic.store", frame.TypeI32, 4),
	astore(wasm.AtomicI64Store, "i64.atomic.store", frame.TypeI64, 8),
	astore(wasm.AtomicI32Store8, "i32.atomic.store8", frame.TypeI32, 1),
	astore(wasm.AtomicI32Store16, "i32.atomic.store16", frame.TypeI32, 2),
	astore(wasm.AtomicI64Store8, "i64.atomic.store8", frame.TypeI64, 1),
	astore(wasm.AtomicI64Store16, "i64.atomic.store16", frame.TypeI64, 2),
	astore(wasm.AtomicI64Store32, "i64.atomic.store32", frame.TypeI64, 4),

	acmpxchg(wasm.AtomicI32RmwCmpxchg, "i32.atomic.rmw.cmpxchg", frame.TypeI32, 4),
	acmpxchg(wasm.AtomicI64RmwCmpxchg, "i64.atomic.rmw.cmpxchg", frame.TypeI64, 8),
	acmpxchg(wasm.AtomicI32Rmw8CmpxchgU, "i32.atomic.rmw8.cmpxchg_u", frame.TypeI32, 1),
	acmpxchg(wasm.AtomicI32Rmw16CmpxchgU, "i32.atomic.rmw16.cmpxchg_u", frame.TypeI32, 2),
	acmpxchg(wasm.AtomicI64Rmw8CmpxchgU, "i64.atomic.rmw8.cmpxchg_u", frame.TypeI64, 1),
	acmpxchg(wasm.AtomicI64Rmw16CmpxchgU, "i64.atomic.rmw16.cmpxchg_u", frame.TypeI64, 2),
	acmpxchg(wasm.AtomicI64Rmw32CmpxchgU, "i64.atomic.rmw32.cmpxchg_u", frame.TypeI64, 4),
}

// rmwGroups lists the seven opcodes of each read-modify-write operation,
// which the encoding lays out consecutively as i32, i64, i32 8, i32 16,
// i64 8, i64 16, i64 32.
var rmwGroups = []struct {
	first uint32
	name  string
	op    ir.RMWOp
}{
	{wasm.AtomicI32RmwAdd, "add", ir.RMWAdd},
	{wasm.AtomicI32RmwSub, "sub", ir.RMWSub},
	{wasm.AtomicI32RmwAnd, "and", ir.RMWAnd},
	{wasm.AtomicI32RmwOr, "or", ir.RMWOr},
	{wasm.AtomicI32RmwXor, "xor", ir.RMWXor},
	{wasm.AtomicI32RmwXchg, "xchg", ir.RMWXchg},
}

var rmwShapes = []struct {
	prefix string
	t      frame.Type
	w      uint8
}{
	{"i32.atomic.rmw.", frame.TypeI32, 4},
	{"i64.atomic.rmw.", frame.TypeI64, 8},
	{"i32.atomic.rmw8.", frame.TypeI32, 1},
	{"i32.atomic.rmw16.", frame.TypeI32, 2},
	{"i64.atomic.rmw8.", frame.TypeI64, 1},
	{"i64.atomic.rmw16.", frame.TypeI64, 2},
	{"i64.atomic.rmw32.", frame.TypeI64, 4},
}

// RegisterAtomicHandlers registers the 0xFE threads family.
func RegisterAtomicHandlers(r *Registry) {
	p := r.Prefix(wasm.OpPrefixAtomic, "atomic")
	p.Known = func(sub uint32) bool {
		return sub <= wasm.AtomicFence || (sub >= wasm.AtomicI32Load && sub <= wasm.AtomicI64Rmw32CmpxchgU)
	}
	p.Enabled = func(ctx *Context, _ uint32) bool { return ctx.Features.Threads }

	for _, row := range prefixRows {
		p.Register(row.sub, row.h, row.name)
	}
	for _, g := range rmwGroups {
		for i, s := range rmwShapes {
			name := s.prefix + g.name
			if s.w != uint8(s.t.IR().Size()) {
				name += "_u"
			}
			p.Register(g.first+uint32(i), AtomicHandler{kind: atomicRMW, Type: s.t, Width: s.w, RMW: g.op}, name)
		}
	}

	// Every atomic access is sequentially consistent in the emitted code,
	// so the fence only consumes its reserved byte.
	p.RegisterFunc(wasm.AtomicFence, func(_ *Context, rd *Reader) error {
		_, err := rd.Byte()
		return err
	}, "atomic.fence")
}
