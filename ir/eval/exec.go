package eval

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"math"
	"math/bits"

	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/ir"
)

func mask(t ir.Type, v uint64) uint64 {
	switch t {
	case ir.TypeI1:
		return v & 1
	case ir.TypeI32, ir.TypeF32:
		return v & math.MaxUint32
	}
	return v
}

func (m *Machine) exec(ctx context.Context, fn *ir.Function, args []Bits) ([]Bits, error) {
	if m.depth >= m.MaxDepth {
		return nil, m.trap(fn, ir.TrapStackOverflow)
	}
	m.depth++
	mark := m.stack.Mark()
	defer func() {
		m.depth--
		m.stack.Release(mark)
	}()

	vals := make([]Bits, fn.NumValues())
	for i, p := range fn.Params {
		if i < len(args) {
			vals[p.ID] = args[i]
		}
	}
	get := func(v *ir.Value) Bits {
		if v.Kind == ir.ValueConst {
			return v.Bits
		}
		return vals[v.ID]
	}
	set := func(in *ir.Instr, b Bits) {
		r := in.Results[0]
		b[0] = mask(r.Type, b[0])
		vals[r.ID] = b
	}

	blk := fn.Entry()
	for {
		m.steps++
		if m.steps&0x3ff == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		var next *ir.Block
		for _, in := range blk.Instrs {
			switch in.Op {
			case ir.OpAlloca:
				size := uint64(in.Type.Size())
				addr, err := m.stack.Alloc(size, 8)
				if err != nil {
					return nil, m.trap(fn, ir.TrapStackOverflow)
				}
				set(in, Bits{addr})

			case ir.OpPtrAdd:
				off := get(in.Args[1])[0]
				if in.Args[1].Type == ir.TypeI32 {
					off = uint64(uint32(off))
				}
				set(in, Bits{get(in.Args[0])[0] + off})

			case ir.OpLoad:
				v, err := m.load(in, get(in.Args[0])[0])
				if err != nil {
					return nil, m.accessError(fn, err)
				}
				set(in, v)

			case ir.OpStore:
				if err := m.store(in, get(in.Args[1])[0], get(in.Args[0])); err != nil {
					return nil, m.accessError(fn, err)
				}

			case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDivS, ir.OpDivU, ir.OpRemS, ir.OpRemU,
				ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShrS, ir.OpShrU, ir.OpRotl, ir.OpRotr:
				r, code := intBinary(in.Op, in.Type, get(in.Args[0])[0], get(in.Args[1])[0])
				if code != ir.TrapNone {
					return nil, m.trap(fn, code)
				}
				set(in, Bits{r})

			case ir.OpClz, ir.OpCtz, ir.OpPopcnt:
				set(in, Bits{intUnary(in.Op, in.Type, get(in.Args[0])[0])})

			case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFDiv, ir.OpFMin, ir.OpFMax, ir.OpFCopysign:
				set(in, Bits{floatBinary(in.Op, in.Type, get(in.Args[0])[0], get(in.Args[1])[0])})

			case ir.OpFAbs, ir.OpFNeg, ir.OpFSqrt, ir.OpFCeil, ir.OpFFloor, ir.OpFTrunc, ir.OpFNearest:
				set(in, Bits{floatUnary(in.Op, in.Type, get(in.Args[0])[0])})

			case ir.OpICmp:
				set(in, Bits{b2u(icmp(in.Pred, in.Type, get(in.Args[0])[0], get(in.Args[1])[0]))})

			case ir.OpFCmp:
				set(in, Bits{b2u(fcmp(in.Pred, in.Type, get(in.Args[0])[0], get(in.Args[1])[0]))})

			case ir.OpZExt, ir.OpSExt, ir.OpTrunc, ir.OpSExtInReg, ir.OpFPTrunc, ir.OpFPExt,
				ir.OpSIToFP, ir.OpUIToFP, ir.OpFPToSI, ir.OpFPToUI, ir.OpBitcast, ir.OpPtrToInt, ir.OpIntToPtr:
				r, code := convert(in, in.Args[0].Type, get(in.Args[0]))
				if code != ir.TrapNone {
					return nil, m.trap(fn, code)
				}
				set(in, r)

			case ir.OpSelect:
				if get(in.Args[0])[0]&1 != 0 {
					set(in, get(in.Args[1]))
				} else {
					set(in, get(in.Args[2]))
				}

			case ir.OpCall, ir.OpCallIndirect:
				idx := uint32(in.Imm)
				argv := in.Args
				if in.Op == ir.OpCallIndirect {
					idx = uint32(get(in.Args[0])[0])
					argv = in.Args[1:]
				}
				callArgs := make([]Bits, len(argv))
				for k, a := range argv {
					callArgs[k] = get(a)
				}
				res, err := m.call(ctx, idx, callArgs)
				if err != nil {
					return nil, err
				}
				if len(res) < len(in.Results) {
					return nil, errors.Internal(errors.PhaseRuntime, "call %d returned %d values, want %d", idx, len(res), len(in.Results))
				}
				for k, r := range in.Results {
					vals[r.ID] = Bits{mask(r.Type, res[k][0]), res[k][1]}
				}

			case ir.OpIntrinsic:
				f := m.Intrinsics[in.Name]
				if f == nil {
					return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).
						Func(fn.Index).
						Detail("intrinsic %q not provided", in.Name).
						Build()
				}
				callArgs := make([]Bits, len(in.Args))
				for k, a := range in.Args {
					callArgs[k] = get(a)
				}
				res, err := f(ctx, m, callArgs)
				if err != nil {
					var te *TrapError
					if stderrors.As(err, &te) {
						return nil, m.trap(fn, te.Code)
					}
					return nil, err
				}
				for k, r := range in.Results {
					if k < len(res) {
						vals[r.ID] = Bits{mask(r.Type, res[k][0]), res[k][1]}
					}
				}

			case ir.OpFence:
				if in.Resumable && m.OnFence != nil && m.OnFence(fn, in.Imm, m.depth-1) {
					return nil, ErrPaused
				}

			case ir.OpAtomicRMW:
				old, err := m.atomicRMW(in, get(in.Args[0])[0], get(in.Args[1])[0])
				if err != nil {
					return nil, m.accessError(fn, err)
				}
				set(in, Bits{old})

			case ir.OpCmpxchg:
				old, err := m.cmpxchg(in, get(in.Args[0])[0], get(in.Args[1])[0], get(in.Args[2])[0])
				if err != nil {
					return nil, m.accessError(fn, err)
				}
				set(in, Bits{old})

			case ir.OpVector:
				r, err := vector(in, in.Args, get)
				if err != nil {
					return nil, err
				}
				set(in, r)

			case ir.OpBr:
				next = in.Targets[0]

			case ir.OpCondBr:
				if get(in.Args[0])[0]&1 != 0 {
					next = in.Targets[0]
				} else {
					next = in.Targets[1]
				}

			case ir.OpSwitch:
				key := mask(in.Args[0].Type, get(in.Args[0])[0])
				next = in.Targets[0]
				for _, c := range in.Cases {
					if c.Key == key {
						next = c.Target
						break
					}
				}

			case ir.OpRet:
				out := make([]Bits, len(in.Args))
				for k, a := range in.Args {
					out[k] = get(a)
				}
				return out, nil

			case ir.OpTrap:
				return nil, m.trap(fn, ir.TrapCode(uint32(get(in.Args[0])[0])))

			default:
				return nil, errors.Internal(errors.PhaseRuntime, "unknown op %s in %s", in.Op, fn.Name)
			}
		}
		if next == nil {
			return nil, errors.Internal(errors.PhaseRuntime, "block %q of %s falls off the end", blk.Name, fn.Name)
		}
		blk = next
	}
}

type accessErr struct {
	code ir.TrapCode
}

func (e accessErr) Error() string { return e.code.String() }

func (m *Machine) accessError(fn *ir.Function, err error) error {
	if ae, ok := err.(accessErr); ok {
		return m.trap(fn, ae.code)
	}
	return m.trap(fn, ir.TrapOutOfBoundsMemory)
}

func (m *Machine) load(in *ir.Instr, addr uint64) (Bits, error) {
	n := uint64(in.AccessWidth())
	if in.Atomic && addr%n != 0 {
		return Bits{}, accessErr{ir.TrapUnalignedAtomic}
	}
	b, err := m.Slice(addr, n)
	if err != nil {
		return Bits{}, err
	}
	if in.Type == ir.TypeV128 && n == 16 {
		return Bits{binary.LittleEndian.Uint64(b), binary.LittleEndian.Uint64(b[8:])}, nil
	}
	v := readLE(b)
	if in.Signed && n < 8 {
		shift := 64 - 8*n
		v = uint64(int64(v<<shift) >> shift)
	}
	if in.Type == ir.TypeV128 {
		return Bits{v, 0}, nil
	}
	return Bits{mask(in.Type, v)}, nil
}

func (m *Machine) store(in *ir.Instr, addr uint64, v Bits) error {
	n := uint64(in.AccessWidth())
	if in.Atomic && addr%n != 0 {
		return accessErr{ir.TrapUnalignedAtomic}
	}
	b, err := m.Slice(addr, n)
	if err != nil {
		return err
	}
	if n == 16 {
		binary.LittleEndian.PutUint64(b, v[0])
		binary.LittleEndian.PutUint64(b[8:], v[1])
		return nil
	}
	writeLE(b, v[0])
	return nil
}

func (m *Machine) atomicRMW(in *ir.Instr, addr, operand uint64) (uint64, error) {
	n := uint64(in.AccessWidth())
	if addr%n != 0 {
		return 0, accessErr{ir.TrapUnalignedAtomic}
	}
	b, err := m.Slice(addr, n)
	if err != nil {
		return 0, err
	}
	old := readLE(b)
	var nv uint64
	switch in.RMW {
	case ir.RMWAdd:
		nv = old + operand
	case ir.RMWSub:
		nv = old - operand
	case ir.RMWAnd:
		nv = old & operand
	case ir.RMWOr:
		nv = old | operand
	case ir.RMWXor:
		nv = old ^ operand
	case ir.RMWXchg:
		nv = operand
	}
	writeLE(b, nv)
	return old, nil
}

func (m *Machine) cmpxchg(in *ir.Instr, addr, expected, repl uint64) (uint64, error) {
	n := uint64(in.AccessWidth())
	if addr%n != 0 {
		return 0, accessErr{ir.TrapUnalignedAtomic}
	}
	b, err := m.Slice(addr, n)
	if err != nil {
		return 0, err
	}
	old := readLE(b)
	if old == truncBytes(expected, n) {
		writeLE(b, repl)
	}
	return old, nil
}

func truncBytes(v, n uint64) uint64 {
	if n >= 8 {
		return v
	}
	return v & (1<<(8*n) - 1)
}

func readLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func writeLE(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v)
		v >>= 8
	}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func intBinary(op ir.Op, t ir.Type, a, b uint64) (uint64, ir.TrapCode) {
	if t == ir.TypeI32 {
		x, y := uint32(a), uint32(b)
		switch op {
		case ir.OpAdd:
			return uint64(x + y), ir.TrapNone
		case ir.OpSub:
			return uint64(x - y), ir.TrapNone
		case ir.OpMul:
			return uint64(x * y), ir.TrapNone
		case ir.OpDivS:
			if y == 0 {
				return 0, ir.TrapIntegerDivideByZero
			}
			if int32(x) == math.MinInt32 && int32(y) == -1 {
				return 0, ir.TrapIntegerOverflow
			}
			return uint64(uint32(int32(x) / int32(y))), ir.TrapNone
		case ir.OpDivU:
			if y == 0 {
				return 0, ir.TrapIntegerDivideByZero
			}
			return uint64(x / y), ir.TrapNone
		case ir.OpRemS:
			if y == 0 {
				return 0, ir.TrapIntegerDivideByZero
			}
			if int32(y) == -1 {
				return 0, ir.TrapNone
			}
			return uint64(uint32(int32(x) % int32(y))), ir.TrapNone
		case ir.OpRemU:
			if y == 0 {
				return 0, ir.TrapIntegerDivideByZero
			}
			return uint64(x % y), ir.TrapNone
		case ir.OpAnd:
			return uint64(x & y), ir.TrapNone
		case ir.OpOr:
			return uint64(x | y), ir.TrapNone
		case ir.OpXor:
			return uint64(x ^ y), ir.TrapNone
		case ir.OpShl:
			return uint64(x << (y & 31)), ir.TrapNone
		case ir.OpShrS:
			return uint64(uint32(int32(x) >> (y & 31))), ir.TrapNone
		case ir.OpShrU:
			return uint64(x >> (y & 31)), ir.TrapNone
		case ir.OpRotl:
			return uint64(bits.RotateLeft32(x, int(y&31))), ir.TrapNone
		case ir.OpRotr:
			return uint64(bits.RotateLeft32(x, -int(y&31))), ir.TrapNone
		}
		return 0, ir.TrapNone
	}

	switch op {
	case ir.OpAdd:
		return a + b, ir.TrapNone
	case ir.OpSub:
		return a - b, ir.TrapNone
	case ir.OpMul:
		return a * b, ir.TrapNone
	case ir.OpDivS:
		if b == 0 {
			return 0, ir.TrapIntegerDivideByZero
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			return 0, ir.TrapIntegerOverflow
		}
		return uint64(int64(a) / int64(b)), ir.TrapNone
	case ir.OpDivU:
		if b == 0 {
			return 0, ir.TrapIntegerDivideByZero
		}
		return a / b, ir.TrapNone
	case ir.OpRemS:
		if b == 0 {
			return 0, ir.TrapIntegerDivideByZero
		}
		if int64(b) == -1 {
			return 0, ir.TrapNone
		}
		return uint64(int64(a) % int64(b)), ir.TrapNone
	case ir.OpRemU:
		if b == 0 {
			return 0, ir.TrapIntegerDivideByZero
		}
		return a % b, ir.TrapNone
	case ir.OpAnd:
		return a & b, ir.TrapNone
	case ir.OpOr:
		return a | b, ir.TrapNone
	case ir.OpXor:
		return a ^ b, ir.TrapNone
	case ir.OpShl:
		return a << (b & 63), ir.TrapNone
	case ir.OpShrS:
		return uint64(int64(a) >> (b & 63)), ir.TrapNone
	case ir.OpShrU:
		return a >> (b & 63), ir.TrapNone
	case ir.OpRotl:
		return bits.RotateLeft64(a, int(b&63)), ir.TrapNone
	case ir.OpRotr:
		return bits.RotateLeft64(a, -int(b&63)), ir.TrapNone
	}
	return 0, ir.TrapNone
}

func intUnary(op ir.Op, t ir.Type, a uint64) uint64 {
	if t == ir.TypeI32 {
		x := uint32(a)
		switch op {
		case ir.OpClz:
			return uint64(bits.LeadingZeros32(x))
		case ir.OpCtz:
			return uint64(bits.TrailingZeros32(x))
		case ir.OpPopcnt:
			return uint64(bits.OnesCount32(x))
		}
		return 0
	}
	switch op {
	case ir.OpClz:
		return uint64(bits.LeadingZeros64(a))
	case ir.OpCtz:
		return uint64(bits.TrailingZeros64(a))
	case ir.OpPopcnt:
		return uint64(bits.OnesCount64(a))
	}
	return 0
}

func icmp(p ir.Pred, t ir.Type, a, b uint64) bool {
	a, b = mask(t, a), mask(t, b)
	var sa, sb int64
	if t == ir.TypeI32 {
		sa, sb = int64(int32(a)), int64(int32(b))
	} else {
		sa, sb = int64(a), int64(b)
	}
	switch p {
	case ir.PredEQ:
		return a == b
	case ir.PredNE:
		return a != b
	case ir.PredSLT:
		return sa < sb
	case ir.PredULT:
		return a < b
	case ir.PredSGT:
		return sa > sb
	case ir.PredUGT:
		return a > b
	case ir.PredSLE:
		return sa <= sb
	case ir.PredULE:
		return a <= b
	case ir.PredSGE:
		return sa >= sb
	case ir.PredUGE:
		return a >= b
	}
	return false
}
