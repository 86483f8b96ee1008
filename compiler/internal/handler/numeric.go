package handler

import (
	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/wasm"
)

// BinaryOpHandler pops two operands of Type and pushes Op applied to them.
//
// Integer division and remainder get explicit trap checks: a zero divisor
// traps, signed division of the minimum value by -1 traps with an
// overflow, and signed remainder by -1 is rewritten to remainder by 1 so
// it yields 0 instead of overflowing.
type BinaryOpHandler struct {
	Op   ir.Op
	Type frame.Type
}

func (h BinaryOpHandler) Handle(ctx *Context, _ *Reader) error {
	y, err := ctx.Pop(h.Type)
	if err != nil {
		return err
	}
	x, err := ctx.Pop(h.Type)
	if err != nil {
		return err
	}
	b := ctx.B
	t := h.Type.IR()

	switch h.Op {
	case ir.OpDivS, ir.OpDivU, ir.OpRemS, ir.OpRemU:
		ctx.TrapIf(b.ICmp(ir.PredEQ, y, ir.Zero(t)), ir.TrapIntegerDivideByZero)
	}
	switch h.Op {
	case ir.OpDivS:
		minInt := ir.ConstInt(t, 1<<(t.Bits()-1))
		isMin := b.ICmp(ir.PredEQ, x, minInt)
		isNegOne := b.ICmp(ir.PredEQ, y, ir.ConstInt(t, ^uint64(0)))
		ctx.TrapIf(b.Select(isMin, isNegOne, ir.ConstI1(false)), ir.TrapIntegerOverflow)
	case ir.OpRemS:
		isNegOne := b.ICmp(ir.PredEQ, y, ir.ConstInt(t, ^uint64(0)))
		y = b.Select(isNegOne, ir.ConstInt(t, 1), y)
	}
	return ctx.Push(h.Type, b.Binary(h.Op, x, y))
}

// UnaryOpHandler pops one operand of Type and pushes Op applied to it.
type UnaryOpHandler struct {
	Op   ir.Op
	Type frame.Type
}

func (h UnaryOpHandler) Handle(ctx *Context, _ *Reader) error {
	x, err := ctx.Pop(h.Type)
	if err != nil {
		return err
	}
	return ctx.Push(h.Type, ctx.B.Unary(h.Op, x))
}

// CompareHandler pops two operands and pushes the i1 comparison result.
// The result stays i1 on the shadow stack until a consumer needs an i32.
type CompareHandler struct {
	Pred ir.Pred
	Type frame.Type
}

func (h CompareHandler) Handle(ctx *Context, _ *Reader) error {
	y, err := ctx.Pop(h.Type)
	if err != nil {
		return err
	}
	x, err := ctx.Pop(h.Type)
	if err != nil {
		return err
	}
	var c *ir.Value
	if h.Type.IR().IsFloat() {
		c = ctx.B.FCmp(h.Pred, x, y)
	} else {
		c = ctx.B.ICmp(h.Pred, x, y)
	}
	return ctx.Push(frame.TypeI1, c)
}

// EqzHandler tests an integer for zero.
type EqzHandler struct {
	Type frame.Type
}

func (h EqzHandler) Handle(ctx *Context, _ *Reader) error {
	x, err := ctx.Pop(h.Type)
	if err != nil {
		return err
	}
	return ctx.Push(frame.TypeI1, ctx.B.ICmp(ir.PredEQ, x, ir.Zero(h.Type.IR())))
}

type numericRow struct {
	op   byte
	name string
	h    Handler
}

func bin(op byte, name string, o ir.Op, t frame.Type) numericRow {
	return numericRow{op, name, BinaryOpHandler{Op: o, Type: t}}
}

func un(op byte, name string, o ir.Op, t frame.Type) numericRow {
	return numericRow{op, name, UnaryOpHandler{Op: o, Type: t}}
}

func cmp(op byte, name string, p ir.Pred, t frame.Type) numericRow {
	return numericRow{op, name, CompareHandler{Pred: p, Type: t}}
}

var numericRows = []numericRow{
	{wasm.OpI32Eqz, "i32.eqz", EqzHandler{Type: frame.TypeI32}},
	cmp(wasm.OpI32Eq, "i32.eq", ir.PredEQ, frame.TypeI32),
	cmp(wasm.OpI32Ne, "i32.ne", ir.PredNE, frame.TypeI32),
	cmp(wasm.OpI32LtS, "i32.lt_s", ir.PredSLT, frame.TypeI32),
	cmp(wasm.OpI32LtU, "i32.lt_u", ir.PredULT, frame.TypeI32),
	cmp(wasm.OpI32GtS, "i32.gt_s", ir.PredSGT, frame.TypeI32),
	cmp(wasm.OpI32GtU, "i32.gt_u", ir.PredUGT, frame.TypeI32),
	cmp(wasm.OpI32LeS, "i32.le_s", ir.PredSLE, frame.TypeI32),
	cmp(wasm.OpI32LeU, "i32.le_u", ir.PredULE, frame.TypeI32),
	cmp(wasm.OpI32GeS, "i32.ge_s", ir.PredSGE, frame.TypeI32),
	cmp(wasm.OpI32GeU, "i32.ge_u", ir.PredUGE, frame.TypeI32),

	{wasm.OpI64Eqz, "i64.eqz", EqzHandler{Type: frame.TypeI64}},
	cmp(wasm.OpI64Eq, "i64.eq", ir.PredEQ, frame.TypeI64),
	cmp(wasm.OpI64Ne, "i64.ne", ir.PredNE, frame.TypeI64),
	cmp(wasm.OpI64LtS, "i64.lt_s", ir.PredSLT, frame.TypeI64),
	cmp(wasm.OpI64LtU, "i64.lt_u", ir.PredULT, frame.TypeI64),
	cmp(wasm.OpI64GtS, "i64.gt_s", ir.PredSGT, frame.TypeI64),
	cmp(wasm.OpI64GtU, "i64.gt_u", ir.PredUGT, frame.TypeI64),
	cmp(wasm.OpI64LeS, "i64.le_s", ir.PredSLE, frame.TypeI64),
	cmp(wasm.OpI64LeU, "i64.le_u", ir.PredULE, frame.TypeI64),
	cmp(wasm.OpI64GeS, "i64.ge_s", ir.PredSGE, frame.TypeI64),
	cmp(wasm.OpI64GeU, "i64.ge_u", ir.PredUGE, frame.TypeI64),

	cmp(wasm.OpF32Eq, "f32.eq", ir.PredFEQ, frame.TypeF32),
	cmp(wasm.OpF32Ne, "f32.ne", ir.PredFNE, frame.TypeF32),
	cmp(wasm.OpF32Lt, "f32.lt", ir.PredFLT, frame.TypeF32),
	cmp(wasm.OpF32Gt, "f32.gt", ir.PredFGT, frame.TypeF32),
	cmp(wasm.OpF32Le, "f32.le", ir.PredFLE, frame.TypeF32),
	cmp(wasm.OpF32Ge, "f32.ge", ir.PredFGE, frame.TypeF32),
	cmp(wasm.OpF64Eq, "f64.eq", ir.PredFEQ, frame.TypeF64),
	cmp(wasm.OpF64Ne, "f64.ne", ir.PredFNE, frame.TypeF64),
	cmp(wasm.OpF64Lt, "f64.lt", ir.PredFLT, frame.TypeF64),
	cmp(wasm.OpF64Gt, "f64.gt", ir.PredFGT, frame.TypeF64),
	cmp(wasm.OpF64Le, "f64.le", ir.PredFLE, frame.TypeF64),
	cmp(wasm.OpF64Ge, "f64.ge", ir.PredFGE, frame.TypeF64),

	un(wasm.OpI32Clz, "i32.clz", ir.OpClz, frame.TypeI32),
	un(wasm.OpI32Ctz, "i32.ctz", ir.OpCtz, frame.TypeI32),
	un(wasm.OpI32Popcnt, "i32.popcnt", ir.OpPopcnt, frame.TypeI32),
	bin(wasm.OpI32Add, "i32.add", ir.OpAdd, frame.TypeI32),
	bin(wasm.OpI32Sub, "i32.sub", ir.OpSub, frame.TypeI32),
	bin(wasm.OpI32Mul, "i32.mul", ir.OpMul, frame.TypeI32),
	bin(wasm.OpI32DivS, "i32.div_s", ir.OpDivS, frame.TypeI32),
	bin(wasm.OpI32DivU, "i32.div_u", ir.OpDivU, frame.TypeI32),
	bin(wasm.OpI32RemS, "i32.rem_s", ir.OpRemS, frame.TypeI32),
	bin(wasm.OpI32RemU, "i32.rem_u", ir.OpRemU, frame.TypeI32),
	bin(wasm.OpI32And, "i32.and", ir.OpAnd, frame.TypeI32),
	bin(wasm.OpI32Or, "i32.or", ir.OpOr, frame.TypeI32),
	bin(wasm.OpI32Xor, "i32.xor", ir.OpXor, frame.TypeI32),
	bin(wasm.OpI32Shl, "i32.shl", ir.OpShl, frame.TypeI32),
	bin(wasm.OpI32ShrS, "i32.shr_s", ir.OpShrS, frame.TypeI32),
	bin(wasm.OpI32ShrU, "i32.shr_u", ir.OpShrU, frame.TypeI32),
	bin(wasm.OpI32Rotl, "i32.rotl", ir.OpRotl, frame.TypeI32),
	bin(wasm.OpI32Rotr, "i32.rotr", ir.OpRotr, frame.TypeI32),

	un(wasm.OpI64Clz, "i64.clz", ir.OpClz, frame.TypeI64),
	un(wasm.OpI64Ctz, "i64.ctz", ir.OpCtz, frame.TypeI64),
	un(wasm.OpI64Popcnt, "i64.popcnt", ir.OpPopcnt, frame.TypeI64),
	bin(wasm.OpI64Add, "i64.add", ir.OpAdd, frame.TypeI64),
	bin(wasm.OpI64Sub, "i64.sub", ir.OpSub, frame.TypeI64),
	bin(wasm.OpI64Mul, "i64.mul", ir.OpMul, frame.TypeI64),
	bin(wasm.OpI64DivS, "i64.div_s", ir.OpDivS, frame.TypeI64),
	bin(wasm.OpI64DivU, "i64.div_u", ir.OpDivU, frame.TypeI64),
	bin(wasm.OpI64RemS, "i64.rem_s", ir.OpRemS, frame.TypeI64),
	bin(wasm.OpI64RemU, "i64.rem_u", ir.OpRemU, frame.TypeI64),
	bin(wasm.OpI64And, "i64.and", ir.OpAnd, frame.TypeI64),
	bin(wasm.OpI64Or, "i64.or", ir.OpOr, frame.TypeI64),
	bin(wasm.OpI64Xor, "i64.xor", ir.OpXor, frame.TypeI64),
	bin(wasm.OpI64Shl, "i64.shl", ir.OpShl, frame.TypeI64),
	bin(wasm.OpI64ShrS, "i64.shr_s", ir.OpShrS, frame.TypeI64),
	bin(wasm.OpI64ShrU, "i64.shr_u", ir.OpShrU, frame.TypeI64),
	bin(wasm.OpI64Rotl, "i64.rotl", ir.OpRotl, frame.TypeI64),
	bin(wasm.OpI64Rotr, "i64.rotr", ir.OpRotr, frame.TypeI64),

	un(wasm.OpF32Abs, "f32.abs", ir.OpFAbs, frame.TypeF32),
	un(wasm.OpF32Neg, "f32.neg", ir.OpFNeg, frame.TypeF32),
	un(wasm.OpF32Ceil, "f32.ceil", ir.OpFCeil, frame.TypeF32),
	un(wasm.OpF32Floor, "f32.floor", ir.OpFFloor, frame.TypeF32),
	un(wasm.OpF32Trunc, "f32.trunc", ir.OpFTrunc, frame.TypeF32),
	un(wasm.OpF32Nearest, "f32.nearest", ir.OpFNearest, frame.TypeF32),
	un(wasm.OpF32Sqrt, "f32.sqrt", ir.OpFSqrt, frame.TypeF32),
	bin(wasm.OpF32Add, "f32.add", ir.OpFAdd, frame.TypeF32),
	bin(wasm.OpF32Sub, "f32.sub", ir.OpFSub, frame.TypeF32),
	bin(wasm.OpF32Mul, "f32.mul", ir.OpFMul, frame.TypeF32),
	bin(wasm.OpF32Div, "f32.div", ir.OpFDiv, frame.TypeF32),
	bin(wasm.OpF32Min, "f32.min", ir.OpFMin, frame.TypeF32),
	bin(wasm.OpF32Max, "f32.max", ir.OpFMax, frame.TypeF32),
	bin(wasm.OpF32Copysign, "f32.copysign", ir.OpFCopysign, frame.TypeF32),

	un(wasm.OpF64Abs, "f64.abs", ir.OpFAbs, frame.TypeF64),
	un(wasm.OpF64Neg, "f64.neg", ir.OpFNeg, frame.TypeF64),
	un(wasm.OpF64Ceil, "f64.ceil", ir.OpFCeil, frame.TypeF64),
	un(wasm.OpF64Floor, "f64.floor", ir.OpFFloor, frame.TypeF64),
	un(wasm.OpF64Trunc, "f64.trunc", ir.OpFTrunc, frame.TypeF64),
	un(wasm.OpF64Nearest, "f64.nearest", ir.OpFNearest, frame.TypeF64),
	un(wasm.OpF64Sqrt, "f64.sqrt", ir.OpFSqrt, frame.TypeF64),
	bin(wasm.OpF64Add, "f64.add", ir.OpFAdd, frame.TypeF64),
	bin(wasm.OpF64Sub, "f64.sub", ir.OpFSub, frame.TypeF64),
	bin(wasm.OpF64Mul, "f64.mul", ir.OpFMul, frame.TypeF64),
	bin(wasm.OpF64Div, "f64.div", ir.OpFDiv, frame.TypeF64),
	bin(wasm.OpF64Min, "f64.min", ir.OpFMin, frame.TypeF64),
	bin(wasm.OpF64Max, "f64.max", ir.OpFMax, frame.TypeF64),
	bin(wasm.OpF64Copysign, "f64.copysign", ir.OpFCopysign, frame.TypeF64),
}

// RegisterNumericHandlers registers arithmetic and comparison opcodes.
func RegisterNumericHandlers(r *Registry) {
	for _, row := range numericRows {
		r.Register(row.op, row.h, row.name)
	}
}
