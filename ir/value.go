package ir

import (
	"fmt"
	"math"
)

// ValueKind distinguishes how a Value was produced.
type ValueKind uint8

const (
	ValueInstr ValueKind = iota
	ValueParam
	ValueConst
)

// Value is an SSA value. Constants carry their bit pattern in Bits; V128
// constants use both words (low, high).
type Value struct {
	Def   *Instr
	Bits  [2]uint64
	ID    int
	Param int
	Type  Type
	Kind  ValueKind
}

// IsConst reports whether v is a constant.
func (v *Value) IsConst() bool { return v != nil && v.Kind == ValueConst }

// Uint returns the low word of a constant.
func (v *Value) Uint() uint64 { return v.Bits[0] }

// String implements fmt.Stringer.
func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	if v.Kind != ValueConst {
		return fmt.Sprintf("v%d", v.ID)
	}
	switch v.Type {
	case TypeI1:
		if v.Bits[0] != 0 {
			return "true"
		}
		return "false"
	case TypeI32:
		return fmt.Sprintf("%d:i32", int32(uint32(v.Bits[0])))
	case TypeI64:
		return fmt.Sprintf("%d:i64", int64(v.Bits[0]))
	case TypeF32:
		return fmt.Sprintf("%g:f32", math.Float32frombits(uint32(v.Bits[0])))
	case TypeF64:
		return fmt.Sprintf("%g:f64", math.Float64frombits(v.Bits[0]))
	case TypeV128:
		return fmt.Sprintf("%#016x_%016x:v128", v.Bits[1], v.Bits[0])
	case TypePtr:
		if v.Bits[0] == 0 {
			return "null"
		}
		return fmt.Sprintf("%#x:ptr", v.Bits[0])
	}
	return fmt.Sprintf("%#x:%s", v.Bits[0], v.Type)
}

func newConst(t Type, lo, hi uint64) *Value {
	return &Value{Kind: ValueConst, Type: t, Bits: [2]uint64{lo, hi}, ID: -1}
}

// ConstI1 returns a boolean constant.
func ConstI1(b bool) *Value {
	if b {
		return newConst(TypeI1, 1, 0)
	}
	return newConst(TypeI1, 0, 0)
}

// ConstI32 returns an i32 constant.
func ConstI32(v int32) *Value { return newConst(TypeI32, uint64(uint32(v)), 0) }

// ConstI64 returns an i64 constant.
func ConstI64(v int64) *Value { return newConst(TypeI64, uint64(v), 0) }

// ConstF32 returns an f32 constant from its bit pattern.
func ConstF32(bits uint32) *Value { return newConst(TypeF32, uint64(bits), 0) }

// ConstF64 returns an f64 constant from its bit pattern.
func ConstF64(bits uint64) *Value { return newConst(TypeF64, bits, 0) }

// ConstV128 returns a v128 constant.
func ConstV128(lo, hi uint64) *Value { return newConst(TypeV128, lo, hi) }

// ConstInt returns an integer constant of type t (I1, I32, I64 or Ptr).
func ConstInt(t Type, v uint64) *Value {
	switch t {
	case TypeI1:
		return newConst(t, v&1, 0)
	case TypeI32, TypeF32:
		return newConst(t, uint64(uint32(v)), 0)
	}
	return newConst(t, v, 0)
}

// Zero returns the zero value of t.
func Zero(t Type) *Value { return newConst(t, 0, 0) }
