package main

import (
	"math"
	"testing"

	"github.com/wippyai/wasm-aot/wasm"
)

func TestParseArgs(t *testing.T) {
	ft := &wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64, wasm.ValFuncRef}}
	got, err := parseArgs(ft, splitArgs("-1, 0x10, 1.5, -2, null"))
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{0xffffffff, 16, uint64(math.Float32bits(1.5)), math.Float64bits(-2), 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d = %#x, want %#x", i, got[i], want[i])
		}
	}

	if _, err := parseArgs(ft, []string{"1"}); err == nil {
		t.Error("wrong argument count accepted")
	}
	if _, err := parseArgs(&wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}, []string{"x"}); err == nil {
		t.Error("non-numeric i32 accepted")
	}
	if _, err := parseArgs(&wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}, []string{"4294967295"}); err != nil {
		t.Errorf("unsigned i32 rejected: %v", err)
	}
}

func TestFormatResults(t *testing.T) {
	ft := &wasm.FuncType{Results: []wasm.ValType{wasm.ValI32, wasm.ValF64, wasm.ValExternRef}}
	got := formatResults(ft, []uint64{0xffffffff, math.Float64bits(0.25), 0})
	if want := "[-1, 0.25, null]"; got != want {
		t.Errorf("formatResults = %q, want %q", got, want)
	}
}

func TestSameResults(t *testing.T) {
	ft := &wasm.FuncType{Results: []wasm.ValType{wasm.ValF32, wasm.ValF64}}
	nan32 := uint64(math.Float32bits(float32(math.NaN())))
	tests := []struct {
		name string
		a, b []uint64
		want bool
	}{
		{"equal", []uint64{1, 2}, []uint64{1, 2}, true},
		{"different", []uint64{1, 2}, []uint64{1, 3}, false},
		{"nan payloads", []uint64{nan32, math.Float64bits(math.NaN())}, []uint64{nan32 | 1, 0x7ff8000000000001}, true},
		{"length", []uint64{1}, []uint64{1, 2}, false},
	}
	for _, tt := range tests {
		if got := sameResults(ft, tt.a, tt.b); got != tt.want {
			t.Errorf("%s: sameResults = %v, want %v", tt.name, got, tt.want)
		}
	}
	if len(splitArgs("  ")) != 0 {
		t.Error("blank argument list is not empty")
	}
}
