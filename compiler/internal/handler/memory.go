package handler

import (
	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/wasm"
)

// LoadHandler reads Width bytes from linear memory and pushes them as
// Type, sign- or zero-extending narrow loads.
//
// The address operand is an i32; the static offset is added in 64-bit
// arithmetic so the sum never wraps.
type LoadHandler struct {
	Type   frame.Type
	Width  uint8
	Signed bool
}

func (h LoadHandler) Handle(ctx *Context, r *Reader) error {
	m, err := r.MemArg()
	if err != nil {
		return err
	}
	addr, err := ctx.Pop(frame.TypeI32)
	if err != nil {
		return err
	}
	p := ctx.MemoryAddress(addr, m.Offset, uint64(h.Width))
	var v *ir.Value
	if int(h.Width) == h.Type.IR().Size() {
		v = ctx.B.Load(h.Type.IR(), p, 1)
	} else {
		v = ctx.B.LoadN(h.Type.IR(), p, h.Width, h.Signed, 1)
	}
	return ctx.Push(h.Type, v)
}

// StoreHandler writes the low Width bytes of a Type value to memory.
type StoreHandler struct {
	Type  frame.Type
	Width uint8
}

func (h StoreHandler) Handle(ctx *Context, r *Reader) error {
	m, err := r.MemArg()
	if err != nil {
		return err
	}
	v, err := ctx.Pop(h.Type)
	if err != nil {
		return err
	}
	addr, err := ctx.Pop(frame.TypeI32)
	if err != nil {
		return err
	}
	p := ctx.MemoryAddress(addr, m.Offset, uint64(h.Width))
	if int(h.Width) == h.Type.IR().Size() {
		ctx.B.Store(v, p, 1)
	} else {
		ctx.B.StoreN(v, p, h.Width, 1)
	}
	return nil
}

var memoryRows = []numericRow{
	{wasm.OpI32Load, "i32.load", LoadHandler{Type: frame.TypeI32, Width: 4}},
	{wasm.OpI64Load, "i64.load", LoadHandler{Type: frame.TypeI64, Width: 8}},
	{wasm.OpF32Load, "f32.load", LoadHandler{Type: frame.TypeF32, Width: 4}},
	{wasm.OpF64Load, "f64.load", LoadHandler{Type: frame.TypeF64, Width: 8}},
	{wasm.OpI32Load8S, "i32.load8_s", LoadHandler{Type: frame.TypeI32, Width: 1, Signed: true}},
	{wasm.OpI32Load8U, "i32.load8_u", LoadHandler{Type: frame.TypeI32, Width: 1}},
	{wasm.OpI32Load16S, "i32.load16_s", LoadHandler{Type: frame.TypeI32, Width: 2, Signed: true}},
	{wasm.OpI32Load16U, "i32.load16_u", LoadHandler{Type: frame.TypeI32, Width: 2}},
	{wasm.OpI64Load8S, "i64.load8_s", LoadHandler{Type: frame.TypeI64, Width: 1, Signed: true}},
	{wasm.OpI64Load8U, "i64.load8_u", LoadHandler{Type: frame.TypeI64, Width: 1}},
	{wasm.OpI64Load16S, "i64.load16_s", LoadHandler{Type: frame.TypeI64, Width: 2, Signed: true}},
	{wasm.OpI64Load16U, "i64.load16_u", LoadHandler{Type: frame.TypeI64, Width: 2}},
	{wasm.OpI64Load32S, "i64.load32_s", LoadHandler{Type: frame.TypeI64, Width: 4, Signed: true}},
	{wasm.OpI64Load32U, "i64.load32_u", LoadHandler{Type: frame.TypeI64, Width: 4}},

	{wasm.OpI32Store, "i32.store", StoreHandler{Type: frame.TypeI32, Width: 4}},
	{wasm.OpI64Store, "i64.store", StoreHandler{Type: frame.TypeI64, Width: 8}},
	{wasm.OpF32Store, "f32.store", StoreHandler{Type: frame.TypeF32, Width: 4}},
	{wasm.OpF64Store, "f64.store", StoreHandler{Type: frame.TypeF64, Width: 8}},
	{wasm.OpI32Store8, "i32.store8", StoreHandler{Type: frame.TypeI32, Width: 1}},
	{wasm.OpI32Store16, "i32.store16", StoreHandler{Type: frame.TypeI32, Width: 2}},
	{wasm.OpI64Store8, "i64.store8", StoreHandler{Type: frame.TypeI64, Width: 1}},
	{wasm.OpI64Store16, "i64.store16", StoreHandler{Type: frame.TypeI64, Width: 2}},
	{wasm.OpI64Store32, "i64.store32", StoreHandler{Type: frame.TypeI64, Width: 4}},
}

// RegisterMemoryHandlers registers loads, stores, memory.size and
// memory.grow.
func RegisterMemoryHandlers(r *Registry) {
	for _, row := range memoryRows {
		r.Register(row.op, row.h, row.name)
	}

	r.RegisterFunc(wasm.OpMemorySize, func(ctx *Context, rd *Reader) error {
		if _, err := rd.Byte(); err != nil {
			return err
		}
		b := ctx.B
		size := b.Load(ir.TypeI64, b.PtrAdd(ctx.Instance, MemSizeOffset), 0)
		pages := b.Binary(ir.OpShrU, size, ir.ConstI64(16))
		return ctx.Push(frame.TypeI32, b.Convert(ir.OpTrunc, pages, ir.TypeI32))
	}, "memory.size")

	r.RegisterFunc(wasm.OpMemoryGrow, func(ctx *Context, rd *Reader) error {
		if _, err := rd.Byte(); err != nil {
			return err
		}
		delta, err := ctx.Pop(frame.TypeI32)
		if err != nil {
			return err
		}
		res := ctx.B.Intrinsic("memory.grow", []ir.Type{ir.TypeI32}, ctx.Instance, delta)
		return ctx.Push(frame.TypeI32, res[0])
	}, "memory.grow")
}
