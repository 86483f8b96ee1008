package handler

import (
	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/wasm"
)

// VectorHandler pops Arity v128 operands and applies the named lane-wise
// operation. Result is the pushed type, v128 unless the operation reduces
// to a scalar.
type VectorHandler struct {
	Name   string
	Arity  int
	Result frame.Type
}

func (h VectorHandler) Handle(ctx *Context, _ *Reader) error {
	args := make([]*ir.Value, h.Arity)
	for i := h.Arity - 1; i >= 0; i-- {
		v, err := ctx.Pop(frame.TypeV128)
		if err != nil {
			return err
		}
		args[i] = v
	}
	res := h.Result
	if res == frame.TypeVoid {
		res = frame.TypeV128
	}
	return ctx.Push(res, ctx.B.Vector(h.Name, res.IR(), 0, args...))
}

// SplatHandler broadcasts a scalar to every lane.
type SplatHandler struct {
	Name   string
	Scalar frame.Type
}

func (h SplatHandler) Handle(ctx *Context, _ *Reader) error {
	x, err := ctx.Pop(h.Scalar)
	if err != nil {
		return err
	}
	return ctx.Push(frame.TypeV128, ctx.B.Vector(h.Name, ir.TypeV128, 0, x))
}

// LaneHandler extracts or replaces one lane selected by an immediate byte.
type LaneHandler struct {
	Name    string
	Scalar  frame.Type
	Lanes   uint8
	Replace bool
}

func (h LaneHandler) Handle(ctx *Context, r *Reader) error {
	lane, err := r.Byte()
	if err != nil {
		return err
	}
	if lane >= h.Lanes {
		return ctx.Internal(r, "%s lane %d out of range", h.Name, lane)
	}
	if h.Replace {
		x, err := ctx.Pop(h.Scalar)
		if err != nil {
			return err
		}
		v, err := ctx.Pop(frame.TypeV128)
		if err != nil {
			return err
		}
		return ctx.Push(frame.TypeV128, ctx.B.Vector(h.Name, ir.TypeV128, uint64(lane), v, x))
	}
	v, err := ctx.Pop(frame.TypeV128)
	if err != nil {
		return err
	}
	return ctx.Push(h.Scalar, ctx.B.Vector(h.Name, h.Scalar.IR(), uint64(lane), v))
}

// loadSplat reads Width bytes and broadcasts them.
type loadSplat struct {
	name  string
	width uint8
}

func (h loadSplat) Handle(ctx *Context, r *Reader) error {
	m, err := r.MemArg()
	if err != nil {
		return err
	}
	addr, err := ctx.Pop(frame.TypeI32)
	if err != nil {
		return err
	}
	p := ctx.MemoryAddress(addr, m.Offset, uint64(h.width))
	var x *ir.Value
	if h.width == 8 {
		x = ctx.B.Load(ir.TypeI64, p, 1)
	} else {
		x = ctx.B.LoadN(ir.TypeI64, p, h.width, false, 1)
	}
	return ctx.Push(frame.TypeV128, ctx.B.Vector(h.name, ir.TypeV128, 0, x))
}

func vbin(sub uint32, name string) prefixRow {
	return prefixRow{sub, name, VectorHandler{Name: name, Arity: 2}}
}

var simdRows = []prefixRow{
	{wasm.SimdI8x16Splat, "i8x16.splat", SplatHandler{"i8x16.splat", frame.TypeI32}},
	{wasm.SimdI16x8Splat, "i16x8.splat", SplatHandler{"i16x8.splat", frame.TypeI32}},
	{wasm.SimdI32x4Splat, "i32x4.splat", SplatHandler{"i32x4.splat", frame.TypeI32}},
	{wasm.SimdI64x2Splat, "i64x2.splat", SplatHandler{"i64x2.splat", frame.TypeI64}},
	{wasm.SimdF32x4Splat, "f32x4.splat", SplatHandler{"f32x4.splat", frame.TypeF32}},
	{wasm.SimdF64x2Splat, "f64x2.splat", SplatHandler{"f64x2.splat", frame.TypeF64}},

	{wasm.SimdI8x16ExtractLaneS, "i8x16.extract_lane_s", LaneHandler{"i8x16.extract_lane_s", frame.TypeI32, 16, false}},
	{wasm.SimdI8x16ExtractLaneU, "i8x16.extract_lane_u", LaneHandler{"i8x16.extract_lane_u", frame.TypeI32, 16, false}},
	{wasm.SimdI8x16ReplaceLane, "i8x16.replace_lane", LaneHandler{"i8x16.replace_lane", frame.TypeI32, 16, true}},
	{wasm.SimdI16x8ExtractLaneS, "i16x8.extract_lane_s", LaneHandler{"i16x8.extract_lane_s", frame.TypeI32, 8, false}},
	{wasm.SimdI16x8ExtractLaneU, "i16x8.extract_lane_u", LaneHandler{"i16x8.extract_lane_u", frame.TypeI32, 8, false}},
	{wasm.SimdI16x8ReplaceLane, "i16x8.replace_lane", LaneHandler{"i16x8.replace_lane", frame.TypeI32, 8, true}},
	{wasm.SimdI32x4ExtractLane, "i32x4.extract_lane", LaneHandler{"i32x4.extract_lane", frame.TypeI32, 4, false}},
	{wasm.SimdI32x4ReplaceLane, "i32x4.replace_lane", LaneHandler{"i32x4.replace_lane", frame.TypeI32, 4, true}},
	{wasm.SimdI64x2ExtractLane, "i64x2.extract_lane", LaneHandler{"i64x2.extract_lane", frame.TypeI64, 2, false}},
	{wasm.SimdI64x2ReplaceLane, "i64x2.replace_lane", LaneHandler{"i64x2.replace_lane", frame.TypeI64, 2, true}},
	{wasm.SimdF32x4ExtractLane, "f32x4.extract_lane", LaneHandler{"f32x4.extract_lane", frame.TypeF32, 4, false}},
	{wasm.SimdF32x4ReplaceLane, "f32x4.replace_lane", LaneHandler{"f32x4.replace_lane", frame.TypeF32, 4, true}},
	{wasm.SimdF64x2ExtractLane, "f64x2.extract_lane", LaneHandler{"f64x2.extract_lane", frame.TypeF64, 2, false}},
	{wasm.SimdF64x2ReplaceLane, "f64x2.replace_lane", LaneHandler{"f64x2.replace_lane", frame.TypeF64, 2, true}},

	{wasm.SimdV128Not, "v128.not", VectorHandler{Name: "v128.not", Arity: 1}},
	vbin(wasm.SimdV128And, "v128.and"),
	vbin(wasm.SimdV128AndNot, "v128.andnot"),
	vbin(wasm.SimdV128Or, "v128.or"),
	vbin(wasm.SimdV128Xor, "v128.xor"),
	{wasm.SimdV128Bitselect, "v128.bitselect", VectorHandler{Name: "v128.bitselect", Arity: 3}},
	{wasm.SimdV128AnyTrue, "v128.any_true", VectorHandler{Name: "v128.any_true", Arity: 1, Result: frame.TypeI32}},

	vbin(wasm.SimdI8x16Eq, "i8x16.eq"),
	vbin(wasm.SimdI8x16Ne, "i8x16.ne"),
	vbin(wasm.SimdI16x8Eq, "i16x8.eq"),
	vbin(wasm.SimdI16x8Ne, "i16x8.ne"),
	vbin(wasm.SimdI32x4Eq, "i32x4.eq"),
	vbin(wasm.SimdI32x4Ne, "i32x4.ne"),
	vbin(wasm.SimdI64x2Eq, "i64x2.eq"),
	vbin(wasm.SimdI64x2Ne, "i64x2.ne"),

	vbin(wasm.SimdI8x16Add, "i8x16.add"),
	vbin(wasm.SimdI8x16Sub, "i8x16.sub"),
	vbin(wasm.SimdI16x8Add, "i16x8.add"),
	vbin(wasm.SimdI16x8Sub, "i16x8.sub"),
	vbin(wasm.SimdI16x8Mul, "i16x8.mul"),
	vbin(wasm.SimdI32x4Add, "i32x4.add"),
	vbin(wasm.SimdI32x4Sub, "i32x4.sub"),
	vbin(wasm.SimdI32x4Mul, "i32x4.mul"),
	vbin(wasm.SimdI64x2Add, "i64x2.add"),
	vbin(wasm.SimdI64x2Sub, "i64x2.sub"),
	vbin(wasm.SimdI64x2Mul, "i64x2.mul"),
	vbin(wasm.SimdF32x4Add, "f32x4.add"),
	vbin(wasm.SimdF32x4Sub, "f32x4.sub"),
	vbin(wasm.SimdF32x4Mul, "f32x4.mul"),
	vbin(wasm.SimdF64x2Add, "f64x2.add"),
	vbin(wasm.SimdF64x2Sub, "f64x2.sub"),
	vbin(wasm.SimdF64x2Mul, "f64x2.mul"),

	{wasm.SimdV128Load8Splat, "v128.load8_splat", loadSplat{"i8x16.splat", 1}},
	{wasm.SimdV128Load16Splat, "v128.load16_splat", loadSplat{"i16x8.splat", 2}},
	{wasm.SimdV128Load32Splat, "v128.load32_splat", loadSplat{"i32x4.splat", 4}},
	{wasm.SimdV128Load64Splat, "v128.load64_splat", loadSplat{"i64x2.splat", 8}},
}

// RegisterSIMDHandlers registers the subset of the 0xFD family the
// compiler lowers. Other sub-opcodes report an unsupported SIMD opcode.
func RegisterSIMDHandlers(r *Registry) {
	p := r.Prefix(wasm.OpPrefixSIMD, "SIMD")
	p.Known = func(sub uint32) bool { return sub <= 0xFF }
	p.Enabled = func(ctx *Context, _ uint32) bool { return ctx.Features.SIMD }

	for _, row := range simdRows {
		p.Register(row.sub, row.h, row.name)
	}

	p.RegisterFunc(wasm.SimdV128Load, func(ctx *Context, rd *Reader) error {
		m, err := rd.MemArg()
		if err != nil {
			return err
		}
		addr, err := ctx.Pop(frame.TypeI32)
		if err != nil {
			return err
		}
		p := ctx.MemoryAddress(addr, m.Offset, 16)
		return ctx.Push(frame.TypeV128, ctx.B.Load(ir.TypeV128, p, 1))
	}, "v128.load")

	p.RegisterFunc(wasm.SimdV128Store, func(ctx *Context, rd *Reader) error {
		m, err := rd.MemArg()
		if err != nil {
			return err
		}
		v, err := ctx.Pop(frame.TypeV128)
		if err != nil {
			return err
		}
		addr, err := ctx.Pop(frame.TypeI32)
		if err != nil {
			return err
		}
		ctx.B.Store(v, ctx.MemoryAddress(addr, m.Offset, 16), 1)
		return nil
	}, "v128.store")

	p.RegisterFunc(wasm.SimdV128Const, func(ctx *Context, rd *Reader) error {
		lo, err := rd.U64LE()
		if err != nil {
			return err
		}
		hi, err := rd.U64LE()
		if err != nil {
			return err
		}
		return ctx.Push(frame.TypeV128, ir.ConstV128(lo, hi))
	}, "v128.const")
}
