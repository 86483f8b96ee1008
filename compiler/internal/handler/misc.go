package handler

import (
	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/wasm"
)

// RegisterReferenceHandlers registers ref.null, ref.is_null, ref.func,
// table.get and table.set. References are i32 values: 0 is null and a
// function reference holds its index plus one.
func RegisterReferenceHandlers(r *Registry) {
	r.RegisterFunc(wasm.OpRefNull, func(ctx *Context, rd *Reader) error {
		if !ctx.Features.RefTypes {
			return ctx.Unsupported(rd, "ref.null requires reference types")
		}
		kind, err := rd.Byte()
		if err != nil {
			return err
		}
		t, ok := frame.FromWasm(wasm.ValType(kind))
		if !ok || (t != frame.TypeFuncRef && t != frame.TypeExternRef) {
			return ctx.Internal(rd, "ref.null of non-reference type 0x%02x", kind)
		}
		return ctx.Push(t, ir.ConstI32(0))
	}, "ref.null")

	r.RegisterFunc(wasm.OpRefIsNull, func(ctx *Context, rd *Reader) error {
		if !ctx.Features.RefTypes {
			return ctx.Unsupported(rd, "ref.is_null requires reference types")
		}
		v, _, err := ctx.PopAny()
		if err != nil {
			return err
		}
		return ctx.Push(frame.TypeI1, ctx.B.ICmp(ir.PredEQ, v, ir.ConstI32(0)))
	}, "ref.is_null")

	r.RegisterFunc(wasm.OpRefFunc, func(ctx *Context, rd *Reader) error {
		if !ctx.Features.RefTypes {
			return ctx.Unsupported(rd, "ref.func requires reference types")
		}
		idx, err := rd.U32()
		if err != nil {
			return err
		}
		return ctx.Push(frame.TypeFuncRef, ir.ConstI32(int32(idx+1)))
	}, "ref.func")

	r.RegisterFunc(wasm.OpTableGet, func(ctx *Context, rd *Reader) error {
		if !ctx.Features.RefTypes {
			return ctx.Unsupported(rd, "table.get requires reference types")
		}
		table, err := rd.U32()
		if err != nil {
			return err
		}
		idx, err := ctx.Pop(frame.TypeI32)
		if err != nil {
			return err
		}
		p, ok := ctx.TableElement(table, idx)
		if !ok {
			return ctx.Internal(rd, "table %d out of range", table)
		}
		return ctx.Push(tableRefType(ctx, table), ctx.B.Load(ir.TypeI32, p, 0))
	}, "table.get")

	r.RegisterFunc(wasm.OpTableSet, func(ctx *Context, rd *Reader) error {
		if !ctx.Features.RefTypes {
			return ctx.Unsupported(rd, "table.set requires reference types")
		}
		table, err := rd.U32()
		if err != nil {
			return err
		}
		v, _, err := ctx.PopAny()
		if err != nil {
			return err
		}
		idx, err := ctx.Pop(frame.TypeI32)
		if err != nil {
			return err
		}
		p, ok := ctx.TableElement(table, idx)
		if !ok {
			return ctx.Internal(rd, "table %d out of range", table)
		}
		ctx.B.Store(v, p, 0)
		return nil
	}, "table.set")
}

func tableRefType(ctx *Context, table uint32) frame.Type {
	if tt := ctx.Module.Table(table); tt != nil && wasm.ValType(tt.ElemType) == wasm.ValExternRef {
		return frame.TypeExternRef
	}
	return frame.TypeFuncRef
}

// popN pops n i32 operands and returns them in push order.
func popN(ctx *Context, n int) ([]*ir.Value, error) {
	out := make([]*ir.Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := ctx.Pop(frame.TypeI32)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// bulkHandler lowers a bulk memory or table instruction to a runtime
// intrinsic. Immediates come first in the argument list after the
// instance, followed by the popped operands.
type bulkHandler struct {
	intrinsic string
	imms      int
	operands  int
	result    bool
	// anyRef is the 1-based operand that may be a reference, as for
	// table.fill and table.grow. Zero means none.
	anyRef int
}

func (h bulkHandler) Handle(ctx *Context, r *Reader) error {
	args := []*ir.Value{ctx.Instance}
	for i := 0; i < h.imms; i++ {
		imm, err := r.U32()
		if err != nil {
			return err
		}
		args = append(args, ir.ConstI32(int32(imm)))
	}

	ops := make([]*ir.Value, h.operands)
	for i := h.operands - 1; i >= 0; i-- {
		var v *ir.Value
		var err error
		if i == h.anyRef-1 {
			v, _, err = ctx.PopAny()
		} else {
			v, err = ctx.Pop(frame.TypeI32)
		}
		if err != nil {
			return err
		}
		ops[i] = v
	}
	args = append(args, ops...)

	var results []ir.Type
	if h.result {
		results = []ir.Type{ir.TypeI32}
	}
	res := ctx.B.Intrinsic(h.intrinsic, results, args...)
	if h.result {
		return ctx.Push(frame.TypeI32, res[0])
	}
	return nil
}

// RegisterMiscHandlers registers the 0xFC family: saturating truncation,
// bulk memory and table instructions.
func RegisterMiscHandlers(r *Registry) {
	p := r.Prefix(wasm.OpPrefixMisc, "misc")
	p.Known = func(sub uint32) bool { return sub <= wasm.MiscTableFill }
	p.Enabled = func(ctx *Context, sub uint32) bool {
		switch {
		case sub >= wasm.MiscMemoryInit && sub <= wasm.MiscTableCopy:
			return ctx.Features.BulkMemory
		case sub >= wasm.MiscTableGrow:
			return ctx.Features.RefTypes
		}
		return true
	}

	for _, row := range satRows {
		p.Register(row.sub, ConvertHandler{Op: row.op, From: row.from, To: row.to, Sat: true}, row.name)
	}

	// memory.init reads a data index and a reserved memory byte.
	p.RegisterFunc(wasm.MiscMemoryInit, func(ctx *Context, rd *Reader) error {
		seg, err := rd.U32()
		if err != nil {
			return err
		}
		if _, err := rd.Byte(); err != nil {
			return err
		}
		ops, err := popN(ctx, 3)
		if err != nil {
			return err
		}
		ctx.B.Intrinsic("memory.init", nil, ctx.Instance, ir.ConstI32(int32(seg)), ops[0], ops[1], ops[2])
		return nil
	}, "memory.init")
	p.Register(wasm.MiscDataDrop, bulkHandler{intrinsic: "data.drop", imms: 1}, "data.drop")
	p.RegisterFunc(wasm.MiscMemoryCopy, func(ctx *Context, rd *Reader) error {
		if _, err := rd.Bytes(2); err != nil {
			return err
		}
		ops, err := popN(ctx, 3)
		if err != nil {
			return err
		}
		ctx.B.Intrinsic("memory.copy", nil, ctx.Instance, ops[0], ops[1], ops[2])
		return nil
	}, "memory.copy")
	p.RegisterFunc(wasm.MiscMemoryFill, func(ctx *Context, rd *Reader) error {
		if _, err := rd.Byte(); err != nil {
			return err
		}
		ops, err := popN(ctx, 3)
		if err != nil {
			return err
		}
		ctx.B.Intrinsic("memory.fill", nil, ctx.Instance, ops[0], ops[1], ops[2])
		return nil
	}, "memory.fill")

	p.RegisterFunc(wasm.MiscTableInit, func(ctx *Context, rd *Reader) error {
		elem, err := rd.U32()
		if err != nil {
			return err
		}
		table, err := rd.U32()
		if err != nil {
			return err
		}
		ops, err := popN(ctx, 3)
		if err != nil {
			return err
		}
		ctx.B.Intrinsic("table.init", nil, ctx.Instance,
			ir.ConstI32(int32(table)), ir.ConstI32(int32(elem)), ops[0], ops[1], ops[2])
		return nil
	}, "table.init")
	p.Register(wasm.MiscElemDrop, bulkHandler{intrinsic: "elem.drop", imms: 1}, "elem.drop")
	p.Register(wasm.MiscTableCopy, bulkHandler{intrinsic: "table.copy", imms: 2, operands: 3}, "table.copy")
	p.Register(wasm.MiscTableGrow, bulkHandler{intrinsic: "table.grow", imms: 1, operands: 2, anyRef: 1, result: true}, "table.grow")
	p.Register(wasm.MiscTableFill, bulkHandler{intrinsic: "table.fill", imms: 1, operands: 3, anyRef: 2}, "table.fill")

	p.RegisterFunc(wasm.MiscTableSize, func(ctx *Context, rd *Reader) error {
		table, err := rd.U32()
		if err != nil {
			return err
		}
		desc, ok := ctx.tableDesc(table)
		if !ok {
			return ctx.Internal(rd, "table %d out of range", table)
		}
		size := ctx.B.Load(ir.TypeI32, ctx.B.PtrAdd(desc, TableSizeOffset), 0)
		return ctx.Push(frame.TypeI32, size)
	}, "table.size")
}
