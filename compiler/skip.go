package compiler

import (
	"github.com/wippyai/wasm-aot/compiler/internal/handler"
	"github.com/wippyai/wasm-aot/wasm"
)

// skipImmediates consumes the immediates of op without emitting code. It
// is used for instructions in unreachable code, which are never
// translated.
func skipImmediates(r *handler.Reader, op byte) error {
	var err error
	switch op {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		_, err = r.S33()

	case wasm.OpBr, wasm.OpBrIf, wasm.OpCall, wasm.OpReturnCall,
		wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee,
		wasm.OpGlobalGet, wasm.OpGlobalSet,
		wasm.OpTableGet, wasm.OpTableSet, wasm.OpRefFunc:
		_, err = r.U32()

	case wasm.OpBrTable:
		var n uint32
		if n, err = r.U32(); err != nil {
			return err
		}
		for i := uint32(0); i <= n && err == nil; i++ {
			_, err = r.U32()
		}

	case wasm.OpCallIndirect, wasm.OpReturnCallIndirect:
		if _, err = r.U32(); err == nil {
			_, err = r.U32()
		}

	case wasm.OpSelectType:
		var n uint32
		if n, err = r.U32(); err == nil {
			_, err = r.Bytes(int(n))
		}

	case wasm.OpMemorySize, wasm.OpMemoryGrow, wasm.OpRefNull:
		_, err = r.Byte()

	case wasm.OpI32Const:
		_, err = r.S32()
	case wasm.OpI64Const:
		_, err = r.S64()
	case wasm.OpF32Const:
		_, err = r.Bytes(4)
	case wasm.OpF64Const:
		_, err = r.Bytes(8)

	case wasm.OpPrefixMisc:
		err = skipMisc(r)
	case wasm.OpPrefixSIMD:
		err = skipSIMD(r)
	case wasm.OpPrefixAtomic:
		var sub uint32
		if sub, err = r.U32(); err != nil {
			return err
		}
		if sub == wasm.AtomicFence {
			_, err = r.Byte()
		} else {
			_, err = r.MemArg()
		}

	default:
		if op >= wasm.OpI32Load && op <= wasm.OpI64Store32 {
			_, err = r.MemArg()
		}
	}
	return err
}

func skipMisc(r *handler.Reader) error {
	sub, err := r.U32()
	if err != nil {
		return err
	}
	switch sub {
	case wasm.MiscMemoryInit:
		if _, err = r.U32(); err == nil {
			_, err = r.Byte()
		}
	case wasm.MiscMemoryCopy:
		_, err = r.Bytes(2)
	case wasm.MiscMemoryFill:
		_, err = r.Byte()
	case wasm.MiscTableInit, wasm.MiscTableCopy:
		if _, err = r.U32(); err == nil {
			_, err = r.U32()
		}
	case wasm.MiscDataDrop, wasm.MiscElemDrop,
		wasm.MiscTableGrow, wasm.MiscTableSize, wasm.MiscTableFill:
		_, err = r.U32()
	}
	return err
}

func skipSIMD(r *handler.Reader) error {
	sub, err := r.U32()
	if err != nil {
		return err
	}
	switch {
	case sub <= wasm.SimdV128Load64Splat || sub == wasm.SimdV128Store,
		sub == wasm.SimdV128Load32Zero || sub == wasm.SimdV128Load64Zero:
		_, err = r.MemArg()
	case sub == wasm.SimdV128Const || sub == wasm.SimdI8x16Shuffle:
		_, err = r.Bytes(16)
	case sub >= wasm.SimdI8x16ExtractLaneS && sub <= wasm.SimdF64x2ReplaceLane:
		_, err = r.Byte()
	case sub >= wasm.SimdV128Load8Lane && sub <= wasm.SimdV128Store64Lane:
		if _, err = r.MemArg(); err == nil {
			_, err = r.Byte()
		}
	}
	return err
}
