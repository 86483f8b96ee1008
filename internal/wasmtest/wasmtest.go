// Package wasmtest assembles small WebAssembly modules for tests.
package wasmtest

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-aot/wasm"
)

// U is an immediate encoded as unsigned LEB128.
type U uint64

// S is an immediate encoded as signed LEB128.
type S int64

// Code concatenates instruction bytes. Parts are bytes, []byte, U and S
// values; int parts are taken as single bytes and uint32 parts, the type
// of prefixed sub-opcodes, as unsigned LEB128.
func Code(parts ...any) []byte {
	var out []byte
	for _, p := range parts {
		switch v := p.(type) {
		case byte:
			out = append(out, v)
		case int:
			out = append(out, byte(v))
		case wasm.ValType:
			out = append(out, byte(v))
		case []byte:
			out = append(out, v...)
		case uint32:
			out = wasm.AppendLEB128u(out, uint64(v))
		case U:
			out = wasm.AppendLEB128u(out, uint64(v))
		case S:
			out = wasm.AppendLEB128s(out, int64(v))
		default:
			panic(fmt.Sprintf("wasmtest: unsupported code part %T", p))
		}
	}
	return out
}

func I32(v int32) []byte { return Code(wasm.OpI32Const, S(v)) }
func I64(v int64) []byte { return Code(wasm.OpI64Const, S(v)) }

func F32(v float32) []byte {
	b := math.Float32bits(v)
	return []byte{wasm.OpF32Const, byte(b), byte(b >> 8), byte(b >> 16), byte(b >> 24)}
}

func F64(v float64) []byte {
	b := math.Float64bits(v)
	out := []byte{wasm.OpF64Const}
	for i := 0; i < 8; i++ {
		out = append(out, byte(b>>(8*i)))
	}
	return out
}

// ConstExpr returns a constant expression with its end byte.
func ConstExpr(instr []byte) []byte {
	return append(append([]byte(nil), instr...), wasm.OpEnd)
}

// Builder assembles a module. Imports must be added before functions so
// that function indices stay stable.
type Builder struct {
	m wasm.Module
}

func New() *Builder {
	return &Builder{}
}

func (b *Builder) typeIndex(params, results []wasm.ValType) uint32 {
	ft := wasm.FuncType{Params: params, Results: results}
	for i := range b.m.Types {
		if b.m.Types[i].Equal(&ft) {
			return uint32(i)
		}
	}
	b.m.Types = append(b.m.Types, ft)
	return uint32(len(b.m.Types) - 1)
}

// Type adds a function type and returns its index.
func (b *Builder) Type(params, results []wasm.ValType) uint32 {
	return b.typeIndex(params, results)
}

// Import adds a function import and returns its function index.
func (b *Builder) Import(module, name string, params, results []wasm.ValType) uint32 {
	if len(b.m.Funcs) > 0 {
		panic("wasmtest: imports must precede functions")
	}
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: b.typeIndex(params, results)},
	})
	return uint32(b.m.NumImportedFuncs() - 1)
}

// ImportGlobal adds a global import and returns its global index.
func (b *Builder) ImportGlobal(module, name string, t wasm.ValType, mutable bool) uint32 {
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: t, Mutable: mutable}},
	})
	return uint32(b.m.NumImportedGlobals() - 1)
}

// Func adds a function and returns its index. A non-empty name exports
// it. The end opcode closing the body is appended.
func (b *Builder) Func(name string, params, results []wasm.ValType, locals []wasm.ValType, body ...[]byte) uint32 {
	b.m.Funcs = append(b.m.Funcs, b.typeIndex(params, results))
	var code []byte
	for _, part := range body {
		code = append(code, part...)
	}
	code = append(code, wasm.OpEnd)
	fb := wasm.FuncBody{Code: code}
	for _, l := range locals {
		if n := len(fb.Locals); n > 0 && fb.Locals[n-1].ValType == l {
			fb.Locals[n-1].Count++
			continue
		}
		fb.Locals = append(fb.Locals, wasm.LocalEntry{Count: 1, ValType: l})
	}
	b.m.Code = append(b.m.Code, fb)
	idx := uint32(b.m.NumImportedFuncs() + len(b.m.Funcs) - 1)
	if name != "" {
		b.m.Exports = append(b.m.Exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Idx: idx})
	}
	return idx
}

// Memory declares memory 0 with min pages and an optional maximum.
func (b *Builder) Memory(min uint64, max ...uint64) *Builder {
	l := wasm.Limits{Min: min}
	if len(max) > 0 {
		l.Max = &max[0]
	}
	b.m.Memories = append(b.m.Memories, wasm.MemoryType{Limits: l})
	return b
}

// Table adds a funcref table and returns its index.
func (b *Builder) Table(min uint64, max ...uint64) uint32 {
	l := wasm.Limits{Min: min}
	if len(max) > 0 {
		l.Max = &max[0]
	}
	b.m.Tables = append(b.m.Tables, wasm.TableType{Limits: l, ElemType: byte(wasm.ValFuncRef)})
	return uint32(b.m.NumTables() - 1)
}

// Global adds a global initialized by init and returns its index.
func (b *Builder) Global(t wasm.ValType, mutable bool, init []byte) uint32 {
	b.m.Globals = append(b.m.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: t, Mutable: mutable},
		Init: ConstExpr(init),
	})
	return uint32(b.m.NumGlobals() - 1)
}

// Elem adds an active element segment for table 0 at offset.
func (b *Builder) Elem(offset int32, funcs ...uint32) {
	b.m.Elements = append(b.m.Elements, wasm.Element{
		Offset:   ConstExpr(I32(offset)),
		FuncIdxs: funcs,
	})
}

// PassiveElem adds a passive element segment and returns its index.
func (b *Builder) PassiveElem(funcs ...uint32) uint32 {
	b.m.Elements = append(b.m.Elements, wasm.Element{
		Flags:    1,
		FuncIdxs: funcs,
	})
	return uint32(len(b.m.Elements) - 1)
}

// Data adds an active data segment at offset.
func (b *Builder) Data(offset int32, init []byte) {
	b.m.Data = append(b.m.Data, wasm.DataSegment{Offset: ConstExpr(I32(offset)), Init: init})
}

// PassiveData adds a passive data segment and returns its index.
func (b *Builder) PassiveData(init []byte) uint32 {
	b.m.Data = append(b.m.Data, wasm.DataSegment{Flags: 1, Init: init})
	return uint32(len(b.m.Data) - 1)
}

// Start sets the start function.
func (b *Builder) Start(idx uint32) {
	b.m.Start = &idx
}

// Module returns the assembled module. The data count section is set
// whenever there are data segments.
func (b *Builder) Module() *wasm.Module {
	m := b.m
	if len(m.Data) > 0 {
		n := uint32(len(m.Data))
		m.DataCount = &n
	}
	return &m
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	return b.Module().Encode()
}
