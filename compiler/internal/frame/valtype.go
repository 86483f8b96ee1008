package frame

import (
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/wasm"
)

// Type is the type tag of a value slot.
type Type uint8

const (
	TypeVoid Type = iota
	TypeI32
	TypeI64
	TypeF32
	TypeF64
	TypeV128
	TypeFuncRef
	TypeExternRef
	// TypeI1 holds comparison results that have not been widened yet.
	TypeI1
)

var typeNames = [...]string{"void", "i32", "i64", "f32", "f64", "v128", "funcref", "externref", "i1"}

// String implements fmt.Stringer.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// strides is the number of 32-bit cells each type occupies. Zero marks a
// type that cannot live in a slot.
var strides = [...]int{
	TypeVoid:      0,
	TypeI32:       1,
	TypeI64:       2,
	TypeF32:       1,
	TypeF64:       2,
	TypeV128:      4,
	TypeFuncRef:   1,
	TypeExternRef: 1,
	TypeI1:        1,
}

// Cells returns the number of cells t occupies, or 0 for unknown types.
func (t Type) Cells() int {
	if int(t) < len(strides) {
		return strides[t]
	}
	return 0
}

// IR returns the IR type used to hold values of t. References are
// represented as i32 (0 for null, function index + 1 otherwise).
func (t Type) IR() ir.Type {
	switch t {
	case TypeI32, TypeFuncRef, TypeExternRef:
		return ir.TypeI32
	case TypeI64:
		return ir.TypeI64
	case TypeF32:
		return ir.TypeF32
	case TypeF64:
		return ir.TypeF64
	case TypeV128:
		return ir.TypeV128
	case TypeI1:
		return ir.TypeI1
	}
	return ir.TypeVoid
}

// FromWasm maps a WebAssembly value type to a slot type.
func FromWasm(vt wasm.ValType) (Type, bool) {
	switch vt {
	case wasm.ValI32:
		return TypeI32, true
	case wasm.ValI64:
		return TypeI64, true
	case wasm.ValF32:
		return TypeF32, true
	case wasm.ValF64:
		return TypeF64, true
	case wasm.ValV128:
		return TypeV128, true
	case wasm.ValFuncRef:
		return TypeFuncRef, true
	case wasm.ValExternRef:
		return TypeExternRef, true
	}
	return TypeVoid, false
}

// FromWasmList maps a list of value types, reporting the first failure.
func FromWasmList(vts []wasm.ValType) ([]Type, bool) {
	out := make([]Type, len(vts))
	for i, vt := range vts {
		t, ok := FromWasm(vt)
		if !ok {
			return nil, false
		}
		out[i] = t
	}
	return out, true
}
