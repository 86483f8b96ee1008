package ir

import "fmt"

// Type is the type of an IR value.
type Type uint8

const (
	TypeVoid Type = iota
	TypeI1
	TypeI32
	TypeI64
	TypeF32
	TypeF64
	TypeV128
	TypePtr
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeVoid:
		return "void"
	case TypeI1:
		return "i1"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeV128:
		return "v128"
	case TypePtr:
		return "ptr"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Size returns the in-memory size of the type in bytes. I1 occupies a
// byte; pointers are 8 bytes wide in the IR address space.
func (t Type) Size() int {
	switch t {
	case TypeI1:
		return 1
	case TypeI32, TypeF32:
		return 4
	case TypeI64, TypeF64, TypePtr:
		return 8
	case TypeV128:
		return 16
	}
	return 0
}

// IsInt reports whether t is an integer type (including I1).
func (t Type) IsInt() bool {
	return t == TypeI1 || t == TypeI32 || t == TypeI64
}

// IsFloat reports whether t is a floating point type.
func (t Type) IsFloat() bool {
	return t == TypeF32 || t == TypeF64
}

// Bits returns the bit width of scalar integer and float types.
func (t Type) Bits() uint {
	switch t {
	case TypeI1:
		return 1
	case TypeI32, TypeF32:
		return 32
	case TypeI64, TypeF64, TypePtr:
		return 64
	case TypeV128:
		return 128
	}
	return 0
}

// TrapCode identifies the reason an IR function raised an exception.
type TrapCode uint32

const (
	TrapNone TrapCode = iota
	TrapUnreachable
	TrapIntegerDivideByZero
	TrapIntegerOverflow
	TrapInvalidConversion
	TrapOutOfBoundsMemory
	TrapOutOfBoundsTable
	TrapUninitializedElement
	TrapIndirectCallTypeMismatch
	TrapUnalignedAtomic
	TrapStackOverflow
)

var trapNames = [...]string{
	TrapNone:                     "none",
	TrapUnreachable:              "unreachable",
	TrapIntegerDivideByZero:      "integer divide by zero",
	TrapIntegerOverflow:          "integer overflow",
	TrapInvalidConversion:        "invalid conversion to integer",
	TrapOutOfBoundsMemory:        "out of bounds memory access",
	TrapOutOfBoundsTable:         "undefined element",
	TrapUninitializedElement:     "uninitialized element",
	TrapIndirectCallTypeMismatch: "indirect call type mismatch",
	TrapUnalignedAtomic:          "unaligned atomic",
	TrapStackOverflow:            "call stack exhausted",
}

// String implements fmt.Stringer.
func (c TrapCode) String() string {
	if int(c) < len(trapNames) {
		return trapNames[c]
	}
	return fmt.Sprintf("trap(%d)", uint32(c))
}
