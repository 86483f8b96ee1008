package eval

import (
	"math"

	"github.com/wippyai/wasm-aot/ir"
)

func toFloat(t ir.Type, v uint64) float64 {
	if t == ir.TypeF32 {
		return float64(math.Float32frombits(uint32(v)))
	}
	return math.Float64frombits(v)
}

func fromFloat(t ir.Type, f float64) uint64 {
	if t == ir.TypeF32 {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

func floatBinary(op ir.Op, t ir.Type, a, b uint64) uint64 {
	if t == ir.TypeF32 {
		x, y := math.Float32frombits(uint32(a)), math.Float32frombits(uint32(b))
		var r float32
		switch op {
		case ir.OpFAdd:
			r = x + y
		case ir.OpFSub:
			r = x - y
		case ir.OpFMul:
			r = x * y
		case ir.OpFDiv:
			r = x / y
		case ir.OpFMin:
			r = float32(wasmMin(float64(x), float64(y)))
		case ir.OpFMax:
			r = float32(wasmMax(float64(x), float64(y)))
		case ir.OpFCopysign:
			return uint64(uint32(a)&0x7fffffff | uint32(b)&0x80000000)
		}
		return uint64(math.Float32bits(r))
	}

	x, y := math.Float64frombits(a), math.Float64frombits(b)
	var r float64
	switch op {
	case ir.OpFAdd:
		r = x + y
	case ir.OpFSub:
		r = x - y
	case ir.OpFMul:
		r = x * y
	case ir.OpFDiv:
		r = x / y
	case ir.OpFMin:
		r = wasmMin(x, y)
	case ir.OpFMax:
		r = wasmMax(x, y)
	case ir.OpFCopysign:
		return math.Float64bits(math.Copysign(x, y))
	}
	return math.Float64bits(r)
}

func wasmMin(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case x == 0 && y == 0:
		if math.Signbit(x) {
			return x
		}
		return y
	case x < y:
		return x
	}
	return y
}

func wasmMax(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case x == 0 && y == 0:
		if math.Signbit(x) {
			return y
		}
		return x
	case x > y:
		return x
	}
	return y
}

func floatUnary(op ir.Op, t ir.Type, a uint64) uint64 {
	switch op {
	case ir.OpFAbs:
		if t == ir.TypeF32 {
			return a & 0x7fffffff
		}
		return a &^ (1 << 63)
	case ir.OpFNeg:
		if t == ir.TypeF32 {
			return (a ^ 0x80000000) & math.MaxUint32
		}
		return a ^ 1<<63
	}

	x := toFloat(t, a)
	var r float64
	switch op {
	case ir.OpFSqrt:
		if t == ir.TypeF32 {
			return uint64(math.Float32bits(float32(math.Sqrt(x))))
		}
		r = math.Sqrt(x)
	case ir.OpFCeil:
		r = math.Ceil(x)
	case ir.OpFFloor:
		r = math.Floor(x)
	case ir.OpFTrunc:
		r = math.Trunc(x)
	case ir.OpFNearest:
		r = math.RoundToEven(x)
	}
	return fromFloat(t, r)
}

func fcmp(p ir.Pred, t ir.Type, a, b uint64) bool {
	x, y := toFloat(t, a), toFloat(t, b)
	switch p {
	case ir.PredFEQ:
		return x == y
	case ir.PredFNE:
		return x != y
	case ir.PredFLT:
		return x < y
	case ir.PredFGT:
		return x > y
	case ir.PredFLE:
		return x <= y
	case ir.PredFGE:
		return x >= y
	}
	return false
}

func signed(t ir.Type, v uint64) int64 {
	switch t {
	case ir.TypeI1:
		return -int64(v & 1)
	case ir.TypeI32:
		return int64(int32(v))
	}
	return int64(v)
}

func convert(in *ir.Instr, from ir.Type, v Bits) (Bits, ir.TrapCode) {
	to := in.Type
	x := mask(from, v[0])
	switch in.Op {
	case ir.OpZExt, ir.OpTrunc, ir.OpBitcast, ir.OpPtrToInt, ir.OpIntToPtr:
		return Bits{mask(to, x)}, ir.TrapNone

	case ir.OpSExt:
		return Bits{mask(to, uint64(signed(from, x)))}, ir.TrapNone

	case ir.OpSExtInReg:
		shift := 64 - uint(in.Width)
		return Bits{mask(to, uint64(int64(x<<shift)>>shift))}, ir.TrapNone

	case ir.OpFPTrunc:
		return Bits{uint64(math.Float32bits(float32(math.Float64frombits(x))))}, ir.TrapNone

	case ir.OpFPExt:
		return Bits{math.Float64bits(float64(math.Float32frombits(uint32(x))))}, ir.TrapNone

	case ir.OpSIToFP:
		if to == ir.TypeF32 {
			return Bits{uint64(math.Float32bits(float32(signed(from, x))))}, ir.TrapNone
		}
		return Bits{math.Float64bits(float64(signed(from, x)))}, ir.TrapNone

	case ir.OpUIToFP:
		if to == ir.TypeF32 {
			return Bits{uint64(math.Float32bits(float32(x)))}, ir.TrapNone
		}
		return Bits{math.Float64bits(float64(x))}, ir.TrapNone

	case ir.OpFPToSI, ir.OpFPToUI:
		return truncFloat(in.Op == ir.OpFPToSI, in.Sat, to, toFloat(from, x))
	}
	return Bits{}, ir.TrapNone
}

func truncFloat(isSigned, sat bool, to ir.Type, f float64) (Bits, ir.TrapCode) {
	if math.IsNaN(f) {
		if sat {
			return Bits{}, ir.TrapNone
		}
		return Bits{}, ir.TrapInvalidConversion
	}
	t := math.Trunc(f)

	var lo, hi float64 // valid range is lo <= t < hi
	switch {
	case to == ir.TypeI32 && isSigned:
		lo, hi = math.MinInt32, 1<<31
	case to == ir.TypeI32:
		lo, hi = 0, 1<<32
	case isSigned:
		lo, hi = math.MinInt64, 1<<63
	default:
		lo, hi = 0, 1<<64
	}
	if t < lo || t >= hi {
		if !sat {
			return Bits{}, ir.TrapIntegerOverflow
		}
		switch {
		case t < lo && isSigned && to == ir.TypeI32:
			return Bits{1 << 31}, ir.TrapNone
		case t < lo && isSigned:
			return Bits{1 << 63}, ir.TrapNone
		case t < lo:
			return Bits{}, ir.TrapNone
		case isSigned && to == ir.TypeI32:
			return Bits{math.MaxInt32}, ir.TrapNone
		case isSigned:
			return Bits{math.MaxInt64}, ir.TrapNone
		case to == ir.TypeI32:
			return Bits{math.MaxUint32}, ir.TrapNone
		default:
			return Bits{math.MaxUint64}, ir.TrapNone
		}
	}
	if isSigned {
		return Bits{mask(to, uint64(int64(t)))}, ir.TrapNone
	}
	return Bits{mask(to, uint64(t))}, ir.TrapNone
}
