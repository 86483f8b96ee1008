package handler

import (
	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/wasm"
)

// RegisterParametricHandlers registers drop and select.
func RegisterParametricHandlers(r *Registry) {
	r.RegisterFunc(wasm.OpDrop, func(ctx *Context, _ *Reader) error {
		_, _, err := ctx.Frame.Pop()
		if err != nil {
			return ctx.Internal(nil, "%v", err)
		}
		return nil
	}, "drop")

	r.RegisterFunc(wasm.OpSelect, selectOp, "select")
	r.RegisterFunc(wasm.OpSelectType, func(ctx *Context, rd *Reader) error {
		n, err := rd.U32()
		if err != nil {
			return err
		}
		if _, err := rd.Bytes(int(n)); err != nil {
			return err
		}
		return selectOp(ctx, rd)
	}, "select")
}

// selectOp picks between two operands. When one side is still an i1
// comparison result and the other an i32, both are widened to i32.
func selectOp(ctx *Context, _ *Reader) error {
	cond, err := ctx.PopCond()
	if err != nil {
		return err
	}
	y, ty, err := ctx.PopAny()
	if err != nil {
		return err
	}
	x, tx, err := ctx.PopAny()
	if err != nil {
		return err
	}
	if tx != ty {
		if tx == frame.TypeI1 {
			x, tx = ctx.B.ZExtBool(x), frame.TypeI32
		}
		if ty == frame.TypeI1 {
			y = ctx.B.ZExtBool(y)
		}
	}
	return ctx.Push(tx, ctx.B.Select(cond, x, y))
}

// RegisterVariableHandlers registers global.get and global.set. Locals
// are handled by the translator because they drive checkpoint commits.
func RegisterVariableHandlers(r *Registry) {
	r.RegisterFunc(wasm.OpGlobalGet, func(ctx *Context, rd *Reader) error {
		idx, err := rd.U32()
		if err != nil {
			return err
		}
		p, t, ok := ctx.GlobalPtr(idx)
		if !ok {
			return ctx.Internal(rd, "global %d out of range", idx)
		}
		return ctx.Push(t, ctx.B.Load(t.IR(), p, 0))
	}, "global.get")

	r.RegisterFunc(wasm.OpGlobalSet, func(ctx *Context, rd *Reader) error {
		idx, err := rd.U32()
		if err != nil {
			return err
		}
		p, t, ok := ctx.GlobalPtr(idx)
		if !ok {
			return ctx.Internal(rd, "global %d out of range", idx)
		}
		v, err := ctx.Pop(t)
		if err != nil {
			return err
		}
		ctx.B.Store(v, p, 0)
		return nil
	}, "global.set")
}

// RegisterConstantHandlers registers the four const opcodes.
func RegisterConstantHandlers(r *Registry) {
	r.RegisterFunc(wasm.OpI32Const, func(ctx *Context, rd *Reader) error {
		v, err := rd.S32()
		if err != nil {
			return err
		}
		return ctx.Push(frame.TypeI32, ir.ConstI32(v))
	}, "i32.const")

	r.RegisterFunc(wasm.OpI64Const, func(ctx *Context, rd *Reader) error {
		v, err := rd.S64()
		if err != nil {
			return err
		}
		return ctx.Push(frame.TypeI64, ir.ConstI64(v))
	}, "i64.const")

	r.RegisterFunc(wasm.OpF32Const, func(ctx *Context, rd *Reader) error {
		bits, err := rd.U32LE()
		if err != nil {
			return err
		}
		return ctx.Push(frame.TypeF32, ir.ConstF32(bits))
	}, "f32.const")

	r.RegisterFunc(wasm.OpF64Const, func(ctx *Context, rd *Reader) error {
		bits, err := rd.U64LE()
		if err != nil {
			return err
		}
		return ctx.Push(frame.TypeF64, ir.ConstF64(bits))
	}, "f64.const")
}
