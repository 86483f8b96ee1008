package handler

import (
	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/wasm"
)

// ConvertHandler converts between value types. Float to integer
// truncation traps on NaN and out of range inputs unless Sat is set, in
// which case it clamps.
type ConvertHandler struct {
	Op   ir.Op
	From frame.Type
	To   frame.Type
	Sat  bool
}

func (h ConvertHandler) Handle(ctx *Context, _ *Reader) error {
	x, err := ctx.Pop(h.From)
	if err != nil {
		return err
	}
	var v *ir.Value
	if h.Sat {
		v = ctx.B.ConvertSat(h.Op, x, h.To.IR())
	} else {
		v = ctx.B.Convert(h.Op, x, h.To.IR())
	}
	return ctx.Push(h.To, v)
}

// SignExtendHandler sign-extends the low Bits of an integer in place.
type SignExtendHandler struct {
	Type frame.Type
	Bits uint8
}

func (h SignExtendHandler) Handle(ctx *Context, _ *Reader) error {
	x, err := ctx.Pop(h.Type)
	if err != nil {
		return err
	}
	return ctx.Push(h.Type, ctx.B.SExtInReg(x, h.Bits))
}

func conv(op byte, name string, o ir.Op, from, to frame.Type) numericRow {
	return numericRow{op, name, ConvertHandler{Op: o, From: from, To: to}}
}

var conversionRows = []numericRow{
	conv(wasm.OpI32WrapI64, "i32.wrap_i64", ir.OpTrunc, frame.TypeI64, frame.TypeI32),
	conv(wasm.OpI32TruncF32S, "i32.trunc_f32_s", ir.OpFPToSI, frame.TypeF32, frame.TypeI32),
	conv(wasm.OpI32TruncF32U, "i32.trunc_f32_u", ir.OpFPToUI, frame.TypeF32, frame.TypeI32),
	conv(wasm.OpI32TruncF64S, "i32.trunc_f64_s", ir.OpFPToSI, frame.TypeF64, frame.TypeI32),
	conv(wasm.OpI32TruncF64U, "i32.trunc_f64_u", ir.OpFPToUI, frame.TypeF64, frame.TypeI32),
	conv(wasm.OpI64ExtendI32S, "i64.extend_i32_s", ir.OpSExt, frame.TypeI32, frame.TypeI64),
	conv(wasm.OpI64ExtendI32U, "i64.extend_i32_u", ir.OpZExt, frame.TypeI32, frame.TypeI64),
	conv(wasm.OpI64TruncF32S, "i64.trunc_f32_s", ir.OpFPToSI, frame.TypeF32, frame.TypeI64),
	conv(wasm.OpI64TruncF32U, "i64.trunc_f32_u", ir.OpFPToUI, frame.TypeF32, frame.TypeI64),
	conv(wasm.OpI64TruncF64S, "i64.trunc_f64_s", ir.OpFPToSI, frame.TypeF64, frame.TypeI64),
	conv(wasm.OpI64TruncF64U, "i64.trunc_f64_u", ir.OpFPToUI, frame.TypeF64, frame.TypeI64),
	conv(wasm.OpF32ConvertI32S, "f32.convert_i32_s", ir.OpSIToFP, frame.TypeI32, frame.TypeF32),
	conv(wasm.OpF32ConvertI32U, "f32.convert_i32_u", ir.OpUIToFP, frame.TypeI32, frame.TypeF32),
	conv(wasm.OpF32ConvertI64S, "f32.convert_i64_s", ir.OpSIToFP, frame.TypeI64, frame.TypeF32),
	conv(wasm.OpF32ConvertI64U, "f32.convert_i64_u", ir.OpUIToFP, frame.TypeI64, frame.TypeF32),
	conv(wasm.OpF32DemoteF64, "f32.demote_f64", ir.OpFPTrunc, frame.TypeF64, frame.TypeF32),
	conv(wasm.OpF64ConvertI32S, "f64.convert_i32_s", ir.OpSIToFP, frame.TypeI32, frame.TypeF64),
	conv(wasm.OpF64ConvertI32U, "f64.convert_i32_u", ir.OpUIToFP, frame.TypeI32, frame.TypeF64),
	conv(wasm.OpF64ConvertI64S, "f64.convert_i64_s", ir.OpSIToFP, frame.TypeI64, frame.TypeF64),
	conv(wasm.OpF64ConvertI64U, "f64.convert_i64_u", ir.OpUIToFP, frame.TypeI64, frame.TypeF64),
	conv(wasm.OpF64PromoteF32, "f64.promote_f32", ir.OpFPExt, frame.TypeF32, frame.TypeF64),
	conv(wasm.OpI32ReinterpretF32, "i32.reinterpret_f32", ir.OpBitcast, frame.TypeF32, frame.TypeI32),
	conv(wasm.OpI64ReinterpretF64, "i64.reinterpret_f64", ir.OpBitcast, frame.TypeF64, frame.TypeI64),
	conv(wasm.OpF32ReinterpretI32, "f32.reinterpret_i32", ir.OpBitcast, frame.TypeI32, frame.TypeF32),
	conv(wasm.OpF64ReinterpretI64, "f64.reinterpret_i64", ir.OpBitcast, frame.TypeI64, frame.TypeF64),

	{wasm.OpI32Extend8S, "i32.extend8_s", SignExtendHandler{Type: frame.TypeI32, Bits: 8}},
	{wasm.OpI32Extend16S, "i32.extend16_s", SignExtendHandler{Type: frame.TypeI32, Bits: 16}},
	{wasm.OpI64Extend8S, "i64.extend8_s", SignExtendHandler{Type: frame.TypeI64, Bits: 8}},
	{wasm.OpI64Extend16S, "i64.extend16_s", SignExtendHandler{Type: frame.TypeI64, Bits: 16}},
	{wasm.OpI64Extend32S, "i64.extend32_s", SignExtendHandler{Type: frame.TypeI64, Bits: 32}},
}

// satRows are the 0xFC saturating truncations.
var satRows = []struct {
	sub      uint32
	name     string
	op       ir.Op
	from, to frame.Type
}{
	{wasm.MiscI32TruncSatF32S, "i32.trunc_sat_f32_s", ir.OpFPToSI, frame.TypeF32, frame.TypeI32},
	{wasm.MiscI32TruncSatF32U, "i32.trunc_sat_f32_u", ir.OpFPToUI, frame.TypeF32, frame.TypeI32},
	{wasm.MiscI32TruncSatF64S, "i32.trunc_sat_f64_s", ir.OpFPToSI, frame.TypeF64, frame.TypeI32},
	{wasm.MiscI32TruncSatF64U, "i32.trunc_sat_f64_u", ir.OpFPToUI, frame.TypeF64, frame.TypeI32},
	{wasm.MiscI64TruncSatF32S, "i64.trunc_sat_f32_s", ir.OpFPToSI, frame.TypeF32, frame.TypeI64},
	{wasm.MiscI64TruncSatF32U, "i64.trunc_sat_f32_u", ir.OpFPToUI, frame.TypeF32, frame.TypeI64},
	{wasm.MiscI64TruncSatF64S, "i64.trunc_sat_f64_s", ir.OpFPToSI, frame.TypeF64, frame.TypeI64},
	{wasm.MiscI64TruncSatF64U, "i64.trunc_sat_f64_u", ir.OpFPToUI, frame.TypeF64, frame.TypeI64},
}

// RegisterConversionHandlers registers the conversion opcodes.
func RegisterConversionHandlers(r *Registry) {
	for _, row := range conversionRows {
		r.Register(row.op, row.h, row.name)
	}
}
