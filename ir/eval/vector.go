package eval

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/ir"
)

func v128Bytes(v Bits) [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], v[0])
	binary.LittleEndian.PutUint64(b[8:], v[1])
	return b
}

func bytesV128(b [16]byte) Bits {
	return Bits{binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:])}
}

// laneWidth returns the lane size in bytes for a shape prefix like "i32x4".
func laneWidth(shape string) int {
	switch shape {
	case "i8x16":
		return 1
	case "i16x8":
		return 2
	case "i32x4", "f32x4":
		return 4
	case "i64x2", "f64x2":
		return 8
	}
	return 0
}

func getLane(b *[16]byte, w, i int) uint64 {
	return readLE(b[i*w : i*w+w])
}

func setLane(b *[16]byte, w, i int, v uint64) {
	writeLE(b[i*w:i*w+w], v)
}

func vector(in *ir.Instr, args []*ir.Value, get func(*ir.Value) Bits) (Bits, error) {
	switch in.Name {
	case "v128.not":
		v := get(args[0])
		return Bits{^v[0], ^v[1]}, nil
	case "v128.and", "v128.andnot", "v128.or", "v128.xor":
		a, b := get(args[0]), get(args[1])
		switch in.Name {
		case "v128.and":
			return Bits{a[0] & b[0], a[1] & b[1]}, nil
		case "v128.andnot":
			return Bits{a[0] &^ b[0], a[1] &^ b[1]}, nil
		case "v128.or":
			return Bits{a[0] | b[0], a[1] | b[1]}, nil
		}
		return Bits{a[0] ^ b[0], a[1] ^ b[1]}, nil
	case "v128.bitselect":
		a, b, c := get(args[0]), get(args[1]), get(args[2])
		return Bits{a[0]&c[0] | b[0]&^c[0], a[1]&c[1] | b[1]&^c[1]}, nil
	case "v128.any_true":
		v := get(args[0])
		return Bits{b2u(v[0] != 0 || v[1] != 0)}, nil
	}

	shape, op, ok := strings.Cut(in.Name, ".")
	w := laneWidth(shape)
	if !ok || w == 0 {
		return Bits{}, errors.Unsupported(errors.PhaseRuntime, "vector op "+in.Name)
	}
	lanes := 16 / w

	switch op {
	case "splat":
		x := get(args[0])[0]
		var b [16]byte
		for i := 0; i < lanes; i++ {
			setLane(&b, w, i, x)
		}
		return bytesV128(b), nil

	case "extract_lane", "extract_lane_s", "extract_lane_u":
		b := v128Bytes(get(args[0]))
		x := getLane(&b, w, int(in.Imm)%lanes)
		if op == "extract_lane_s" {
			shift := 64 - 8*uint(w)
			x = uint64(int64(x<<shift) >> shift)
		}
		return Bits{x}, nil

	case "replace_lane":
		b := v128Bytes(get(args[0]))
		setLane(&b, w, int(in.Imm)%lanes, get(args[1])[0])
		return bytesV128(b), nil

	case "add", "sub", "mul":
		a, c := v128Bytes(get(args[0])), v128Bytes(get(args[1]))
		var out [16]byte
		for i := 0; i < lanes; i++ {
			x, y := getLane(&a, w, i), getLane(&c, w, i)
			var r uint64
			switch {
			case shape[0] == 'f':
				t := ir.TypeF64
				if w == 4 {
					t = ir.TypeF32
				}
				var fop ir.Op
				switch op {
				case "add":
					fop = ir.OpFAdd
				case "sub":
					fop = ir.OpFSub
				default:
					fop = ir.OpFMul
				}
				r = floatBinary(fop, t, x, y)
			case op == "add":
				r = x + y
			case op == "sub":
				r = x - y
			default:
				r = x * y
			}
			setLane(&out, w, i, r)
		}
		return bytesV128(out), nil

	case "eq", "ne":
		a, c := v128Bytes(get(args[0])), v128Bytes(get(args[1]))
		var out [16]byte
		for i := 0; i < lanes; i++ {
			eq := getLane(&a, w, i) == getLane(&c, w, i)
			if eq == (op == "eq") {
				setLane(&out, w, i, math.MaxUint64)
			}
		}
		return bytesV128(out), nil
	}
	return Bits{}, errors.Unsupported(errors.PhaseRuntime, "vector op "+in.Name)
}
