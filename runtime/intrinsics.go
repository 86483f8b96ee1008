package runtime

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/wippyai/wasm-aot/compiler"
	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/ir/eval"
	"github.com/wippyai/wasm-aot/wasm"
)

// Results of memory.atomic.wait.
const (
	waitNotEqual = 1
	waitTimedOut = 2
)

func trap(code ir.TrapCode) error {
	return &eval.TrapError{Code: code}
}

// u32 returns operand k as an unsigned i32. Operand 0 is the instance.
func u32(args []eval.Bits, k int) uint32 {
	return uint32(args[k][0])
}

func i32Result(v uint32) []eval.Bits {
	return []eval.Bits{{uint64(v)}}
}

// inRange reports whether [off, off+n) lies within size.
func inRange(off, n, size uint64) bool {
	return off+n <= size
}

// registerIntrinsics installs the runtime half of the instructions the
// compiler lowers to intrinsic calls.
func (i *Instance) registerIntrinsics() {
	in := i.machine.Intrinsics

	in["memory.grow"] = func(_ context.Context, _ *eval.Machine, args []eval.Bits) ([]eval.Bits, error) {
		return i32Result(i.memoryGrow(u32(args, 1))), nil
	}
	in["memory.init"] = func(_ context.Context, _ *eval.Machine, args []eval.Bits) ([]eval.Bits, error) {
		seg, d, s, n := u32(args, 1), uint64(u32(args, 2)), uint64(u32(args, 3)), uint64(u32(args, 4))
		data := i.data[seg]
		mem := i.memoryBytes()
		if !inRange(s, n, uint64(len(data))) || !inRange(d, n, uint64(len(mem))) {
			return nil, trap(ir.TrapOutOfBoundsMemory)
		}
		copy(mem[d:d+n], data[s:s+n])
		return nil, nil
	}
	in["data.drop"] = func(_ context.Context, _ *eval.Machine, args []eval.Bits) ([]eval.Bits, error) {
		i.data[u32(args, 1)] = nil
		return nil, nil
	}
	in["memory.copy"] = func(_ context.Context, _ *eval.Machine, args []eval.Bits) ([]eval.Bits, error) {
		d, s, n := uint64(u32(args, 1)), uint64(u32(args, 2)), uint64(u32(args, 3))
		mem := i.memoryBytes()
		if !inRange(s, n, uint64(len(mem))) || !inRange(d, n, uint64(len(mem))) {
			return nil, trap(ir.TrapOutOfBoundsMemory)
		}
		copy(mem[d:d+n], mem[s:s+n])
		return nil, nil
	}
	in["memory.fill"] = func(_ context.Context, _ *eval.Machine, args []eval.Bits) ([]eval.Bits, error) {
		d, v, n := uint64(u32(args, 1)), byte(u32(args, 2)), uint64(u32(args, 3))
		mem := i.memoryBytes()
		if !inRange(d, n, uint64(len(mem))) {
			return nil, trap(ir.TrapOutOfBoundsMemory)
		}
		region := mem[d : d+n]
		for k := range region {
			region[k] = v
		}
		return nil, nil
	}

	in["table.init"] = func(_ context.Context, _ *eval.Machine, args []eval.Bits) ([]eval.Bits, error) {
		t := i.tables[u32(args, 1)]
		refs := i.elems[u32(args, 2)]
		d, s, n := u32(args, 3), uint64(u32(args, 4)), uint64(u32(args, 5))
		if !inRange(s, n, uint64(len(refs))) {
			return nil, trap(ir.TrapOutOfBoundsTable)
		}
		return nil, t.write(d, refs[s:s+n])
	}
	in["elem.drop"] = func(_ context.Context, _ *eval.Machine, args []eval.Bits) ([]eval.Bits, error) {
		i.elems[u32(args, 1)] = nil
		return nil, nil
	}
	in["table.copy"] = func(_ context.Context, _ *eval.Machine, args []eval.Bits) ([]eval.Bits, error) {
		dst, src := i.tables[u32(args, 1)], i.tables[u32(args, 2)]
		d, s, n := uint64(u32(args, 3)), uint64(u32(args, 4)), uint64(u32(args, 5))
		if !inRange(s, n, uint64(src.size())) || !inRange(d, n, uint64(dst.size())) {
			return nil, trap(ir.TrapOutOfBoundsTable)
		}
		copy(dst.elems.Bytes()[4*d:4*(d+n)], src.elems.Bytes()[4*s:4*(s+n)])
		return nil, nil
	}
	in["table.grow"] = func(_ context.Context, _ *eval.Machine, args []eval.Bits) ([]eval.Bits, error) {
		t := i.tables[u32(args, 1)]
		return i32Result(i.tableGrow(t, u32(args, 2), u32(args, 3))), nil
	}
	in["table.fill"] = func(_ context.Context, _ *eval.Machine, args []eval.Bits) ([]eval.Bits, error) {
		t := i.tables[u32(args, 1)]
		d, v, n := uint64(u32(args, 2)), u32(args, 3), uint64(u32(args, 4))
		if !inRange(d, n, uint64(t.size())) {
			return nil, trap(ir.TrapOutOfBoundsTable)
		}
		b := t.elems.Bytes()
		for k := d; k < d+n; k++ {
			binary.LittleEndian.PutUint32(b[4*k:], v)
		}
		return nil, nil
	}

	// A single evaluator thread has no other agent to wake or be woken by.
	in["memory.atomic.notify"] = func(_ context.Context, _ *eval.Machine, _ []eval.Bits) ([]eval.Bits, error) {
		return i32Result(0), nil
	}
	in["memory.atomic.wait32"] = func(ctx context.Context, _ *eval.Machine, args []eval.Bits) ([]eval.Bits, error) {
		ea := args[1][0]
		mem := i.memoryBytes()
		if !inRange(ea, 4, uint64(len(mem))) {
			return nil, trap(ir.TrapOutOfBoundsMemory)
		}
		if binary.LittleEndian.Uint32(mem[ea:]) != uint32(args[2][0]) {
			return i32Result(waitNotEqual), nil
		}
		return i.wait(ctx, int64(args[3][0]))
	}
	in["memory.atomic.wait64"] = func(ctx context.Context, _ *eval.Machine, args []eval.Bits) ([]eval.Bits, error) {
		ea := args[1][0]
		mem := i.memoryBytes()
		if !inRange(ea, 8, uint64(len(mem))) {
			return nil, trap(ir.TrapOutOfBoundsMemory)
		}
		if binary.LittleEndian.Uint64(mem[ea:]) != args[2][0] {
			return i32Result(waitNotEqual), nil
		}
		return i.wait(ctx, int64(args[3][0]))
	}
}

func (i *Instance) memoryBytes() []byte {
	if i.memory == nil {
		return nil
	}
	return i.memory.Bytes()
}

// memoryGrow grows memory by delta pages and returns the old size in pages,
// or -1 as u32 on failure.
func (i *Instance) memoryGrow(delta uint32) uint32 {
	if i.memory == nil {
		return ^uint32(0)
	}
	old := i.memory.Size() / wasm.PageSize
	if _, ok := i.memory.Grow(uint64(delta) * wasm.PageSize); !ok {
		return ^uint32(0)
	}
	if err := i.record.WriteU64(compiler.MemSizeOffset, i.memory.Size()); err != nil {
		return ^uint32(0)
	}
	return uint32(old)
}

func (i *Instance) tableGrow(t *table, init, n uint32) uint32 {
	old := t.size()
	if _, ok := t.elems.Grow(4 * uint64(n)); !ok {
		return ^uint32(0)
	}
	b := t.elems.Bytes()
	for k := uint64(old); k < uint64(old)+uint64(n); k++ {
		binary.LittleEndian.PutUint32(b[4*k:], init)
	}
	if err := i.record.WriteU32(uint64(t.desc+compiler.TableSizeOffset), t.size()); err != nil {
		return ^uint32(0)
	}
	return old
}

// wait blocks until timeout nanoseconds pass. A negative timeout would
// never return.
func (i *Instance) wait(ctx context.Context, timeout int64) ([]eval.Bits, error) {
	if timeout < 0 {
		return nil, errors.New(errors.PhaseRuntime, errors.KindTrap).
			Detail("memory.atomic.wait without timeout would block forever").
			Build()
	}
	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()
	select {
	case <-timer.C:
		return i32Result(waitTimedOut), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
