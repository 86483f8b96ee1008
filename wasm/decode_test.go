package wasm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wippyai/wasm-aot/wasm"
)

func ptrTo[T any](v T) *T { return &v }

func sampleModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI64}, Results: []wasm.ValType{wasm.ValI64}},
			{},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "tick", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 1}},
			{Module: "env", Name: "base", Desc: wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: wasm.ValI32}}},
		},
		Funcs:    []uint32{0, 1},
		Tables:   []wasm.TableType{{ElemType: byte(wasm.ValFuncRef), Limits: wasm.Limits{Min: 2}}},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: ptrTo(uint64(4))}}},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI64, Mutable: true}, Init: []byte{wasm.OpI64Const, 0x2a, wasm.OpEnd}},
		},
		Exports: []wasm.Export{
			{Name: "run", Kind: wasm.KindFunc, Idx: 1},
			{Name: "memory", Kind: wasm.KindMemory, Idx: 0},
		},
		Elements: []wasm.Element{
			{Flags: 0, Offset: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd}, FuncIdxs: []uint32{1, 2}},
		},
		Code: []wasm.FuncBody{
			{
				Locals: []wasm.LocalEntry{{Count: 2, ValType: wasm.ValI64}, {Count: 1, ValType: wasm.ValF32}},
				Code:   []byte{wasm.OpLocalGet, 0x01, wasm.OpEnd},
			},
			{Code: []byte{wasm.OpCall, 0x00, wasm.OpEnd}},
		},
		Data: []wasm.DataSegment{
			{Offset: []byte{wasm.OpI32Const, 0x10, wasm.OpEnd}, Init: []byte("hello")},
		},
	}
}

func TestParseRoundTrip(t *testing.T) {
	bin := sampleModule().Encode()
	m, err := wasm.ParseModule(bin)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}

	if len(m.Types) != 2 || !m.Types[0].Equal(&wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI64},
		Results: []wasm.ValType{wasm.ValI64},
	}) {
		t.Errorf("types: %+v", m.Types)
	}
	if m.NumImportedFuncs() != 1 || m.NumImportedGlobals() != 1 {
		t.Errorf("imports: %+v", m.Imports)
	}
	if m.Memories[0].Limits.Max == nil || *m.Memories[0].Limits.Max != 4 {
		t.Errorf("memory limits: %+v", m.Memories[0].Limits)
	}
	if got := m.Code[0].LocalTypes(); len(got) != 3 || got[0] != wasm.ValI64 || got[2] != wasm.ValF32 {
		t.Errorf("locals: %v", got)
	}
	if !bytes.Equal(m.Code[1].Code, []byte{wasm.OpCall, 0x00, wasm.OpEnd}) {
		t.Errorf("code: %v", m.Code[1].Code)
	}
	if string(m.Data[0].Init) != "hello" {
		t.Errorf("data: %q", m.Data[0].Init)
	}
	if !bytes.Equal(m.Encode(), bin) {
		t.Error("re-encoding is not stable")
	}
}

func TestParseCodeOffset(t *testing.T) {
	bin := sampleModule().Encode()
	m, err := wasm.ParseModule(bin)
	if err != nil {
		t.Fatal(err)
	}
	for i, body := range m.Code {
		if body.CodeOffset <= 0 || body.CodeOffset+len(body.Code) > len(bin) {
			t.Fatalf("body %d: offset %d out of range", i, body.CodeOffset)
		}
		if !bytes.Equal(bin[body.CodeOffset:body.CodeOffset+len(body.Code)], body.Code) {
			t.Errorf("body %d: offset %d does not point at the code", i, body.CodeOffset)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", []byte{0x00, 0x61, 0x73, 0x6e, 0x01, 0x00, 0x00, 0x00}, wasm.ErrInvalidMagic},
		{"bad version", []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}, wasm.ErrInvalidVersion},
		{"truncated section", []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x05, 0x01}, wasm.ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.ParseModule(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseOutOfOrder(t *testing.T) {
	m := &wasm.Module{Types: []wasm.FuncType{{}}}
	bin := m.Encode()
	// append a second type section after the first
	bin = append(bin, wasm.SectionType, 0x01, 0x00)
	if _, err := wasm.ParseModule(bin); err == nil {
		t.Error("expected out-of-order error")
	}
}

func TestModuleLookups(t *testing.T) {
	m := sampleModule()

	if ft := m.GetFuncType(0); ft == nil || len(ft.Params) != 0 {
		t.Errorf("imported func type: %+v", ft)
	}
	if ft := m.GetFuncType(1); ft == nil || len(ft.Params) != 2 {
		t.Errorf("defined func type: %+v", ft)
	}
	if ft := m.GetFuncType(9); ft != nil {
		t.Errorf("out of range: %+v", ft)
	}
	if gt := m.GlobalType(1); gt == nil || gt.ValType != wasm.ValI64 || !gt.Mutable {
		t.Errorf("global 1: %+v", gt)
	}
	if idx, ok := m.ExportedFunc("run"); !ok || idx != 1 {
		t.Errorf("ExportedFunc: %d %v", idx, ok)
	}
	if got := m.FuncName(0); got != "env.tick" {
		t.Errorf("FuncName(0) = %q", got)
	}
	if got := m.FuncName(2); got != "func2" {
		t.Errorf("FuncName(2) = %q", got)
	}
	if m.NumTables() != 1 || m.NumMemories() != 1 || m.NumGlobals() != 2 {
		t.Errorf("index spaces: %d %d %d", m.NumTables(), m.NumMemories(), m.NumGlobals())
	}
}

func TestBlockType(t *testing.T) {
	m := sampleModule()
	tests := []struct {
		bt      int64
		params  int
		results int
		wantErr bool
	}{
		{-64, 0, 0, false},
		{-1, 0, 1, false},
		{-5, 0, 1, false},
		{0, 2, 1, false},
		{7, 0, 0, true},
	}
	for _, tt := range tests {
		p, r, err := m.BlockType(tt.bt)
		if (err != nil) != tt.wantErr {
			t.Errorf("bt %d: err=%v", tt.bt, err)
			continue
		}
		if len(p) != tt.params || len(r) != tt.results {
			t.Errorf("bt %d: params=%d results=%d", tt.bt, len(p), len(r))
		}
	}
}

func TestEvalConstExpr(t *testing.T) {
	tests := []struct {
		name string
		expr []byte
		want uint64
	}{
		{"i32", []byte{wasm.OpI32Const, 0x7f, wasm.OpEnd}, 0xffffffff},
		{"i64", []byte{wasm.OpI64Const, 0x2a, wasm.OpEnd}, 42},
		{"extended", []byte{wasm.OpI32Const, 0x02, wasm.OpI32Const, 0x03, wasm.OpI32Mul, wasm.OpEnd}, 6},
		{"global", []byte{wasm.OpGlobalGet, 0x00, wasm.OpEnd}, 77},
		{"ref.func", []byte{wasm.OpRefFunc, 0x04, wasm.OpEnd}, 5},
	}
	globals := func(idx uint32) (uint64, bool) { return 77, idx == 0 }
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := wasm.EvalConstExpr(tt.expr, globals)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
