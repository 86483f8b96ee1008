package eval

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/ir"
)

// ErrPaused is returned by Run when a fence hook asked to stop. The frame
// keeps the committed state; running again with the same frame resumes.
var ErrPaused = stderrors.New("eval: paused at checkpoint")

// Bits is the untyped runtime representation of an IR value.
type Bits = [2]uint64

// HostFunc implements an imported function. Args exclude the instance.
type HostFunc func(ctx context.Context, m *Machine, args []uint64) ([]uint64, error)

// IntrinsicFunc implements an OpIntrinsic by name.
type IntrinsicFunc func(ctx context.Context, m *Machine, args []Bits) ([]Bits, error)

// FenceHook observes every executed resumable fence. Returning true pauses
// the machine. depth is 0 for the function passed to Run. Fences without a
// restore case never reach the hook: a frame paused there could not be
// resumed.
type FenceHook func(fn *ir.Function, key uint64, depth int) bool

// TrapError reports a trap raised by IR code.
type TrapError struct {
	Func string
	Code ir.TrapCode
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("trap in %s: %s", e.Func, e.Code)
}

const (
	defaultMaxDepth  = 1024
	defaultStackSize = 16 << 20
)

// Machine executes IR functions of one module.
type Machine struct {
	Module     *ir.Module
	Host       []HostFunc
	Intrinsics map[string]IntrinsicFunc
	OnFence    FenceHook
	// Instance is passed as the second parameter of every function.
	Instance uint64
	MaxDepth int

	regions []*Region
	stack   *Stack
	depth   int
	steps   uint64
}

// New creates a machine for mod with an empty address space.
func New(mod *ir.Module) *Machine {
	m := &Machine{
		Module:     mod,
		Host:       make([]HostFunc, len(mod.Imports)),
		Intrinsics: make(map[string]IntrinsicFunc),
		MaxDepth:   defaultMaxDepth,
		regions:    []*Region{nil}, // region 0 is the null page
	}
	m.stack = &Stack{Region: m.Map(nil, defaultStackSize)}
	return m
}

// Map adds a region initialized with data that may grow up to max bytes.
func (m *Machine) Map(data []byte, max uint64) *Region {
	if max < uint64(len(data)) {
		max = uint64(len(data))
	}
	r := &Region{data: data, max: max, id: len(m.regions)}
	m.regions = append(m.regions, r)
	return r
}

// Region returns the region containing addr, or nil.
func (m *Machine) Region(addr uint64) *Region {
	id, _ := splitAddr(addr)
	if id <= 0 || id >= len(m.regions) {
		return nil
	}
	return m.regions[id]
}

// Stack returns the allocator used for frames and allocas.
func (m *Machine) Stack() *Stack { return m.stack }

// Slice returns n bytes at addr.
func (m *Machine) Slice(addr, n uint64) ([]byte, error) {
	r := m.Region(addr)
	if r == nil {
		return nil, ErrOutOfBounds
	}
	_, off := splitAddr(addr)
	return r.slice(off, n)
}

// Frame is the persistent native frame of a top-level invocation.
type Frame struct {
	Func   *ir.Function
	region *Region
}

// Addr returns the frame's base address.
func (f *Frame) Addr() uint64 { return f.region.Base() }

// Bytes returns the frame contents.
func (f *Frame) Bytes() []byte { return f.region.Bytes() }

// NewFrame allocates a zeroed frame for fn.
func (m *Machine) NewFrame(fn *ir.Function) *Frame {
	size := uint64(fn.FrameSize)
	return &Frame{Func: fn, region: m.Map(make([]byte, size), size)}
}

// Call runs the exported function name with a fresh frame.
func (m *Machine) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := m.Module.FuncByName(name)
	if fn == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Detail("function %q not found", name).
			Build()
	}
	return m.Run(ctx, m.NewFrame(fn), args...)
}

// Run executes frame.Func. A zero frame starts at the function entry; a
// frame left behind by a pause resumes at its last checkpoint.
func (m *Machine) Run(ctx context.Context, frame *Frame, args ...uint64) ([]uint64, error) {
	in := make([]Bits, 0, len(args)+2)
	in = append(in, Bits{frame.Addr()}, Bits{m.Instance})
	for _, a := range args {
		in = append(in, Bits{a})
	}
	m.depth = 0
	out, err := m.exec(ctx, frame.Func, in)
	if err != nil {
		return nil, err
	}
	res := make([]uint64, len(out))
	for i, v := range out {
		res[i] = v[0]
	}
	return res, nil
}

// Steps returns the number of executed blocks since the machine was created.
func (m *Machine) Steps() uint64 { return m.steps }

func (m *Machine) trap(fn *ir.Function, code ir.TrapCode) error {
	return errors.New(errors.PhaseRuntime, errors.KindTrap).
		Func(fn.Index).
		Detail("%s", code.String()).
		Cause(&TrapError{Func: fn.Name, Code: code}).
		Build()
}

// call invokes the function with WebAssembly index idx. args[0] is the
// instance pointer.
func (m *Machine) call(ctx context.Context, idx uint32, args []Bits) ([]Bits, error) {
	if int(idx) < len(m.Module.Imports) {
		h := m.Host[idx]
		if h == nil {
			imp := m.Module.Imports[idx]
			return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).
				Detail("host function %s.%s not provided", imp.Module, imp.Name).
				Build()
		}
		raw := make([]uint64, len(args)-1)
		for i, a := range args[1:] {
			raw[i] = a[0]
		}
		res, err := h(ctx, m, raw)
		if err != nil {
			return nil, err
		}
		out := make([]Bits, len(res))
		for i, v := range res {
			out[i] = Bits{v}
		}
		return out, nil
	}

	fn := m.Module.Func(idx)
	if fn == nil {
		return nil, errors.Internal(errors.PhaseRuntime, "call to unknown function %d", idx)
	}
	mark := m.stack.Mark()
	defer m.stack.Release(mark)
	frame, err := m.stack.Alloc(uint64(fn.FrameSize), 8)
	if err != nil {
		return nil, m.trap(fn, ir.TrapStackOverflow)
	}
	full := make([]Bits, 0, len(args)+1)
	full = append(full, Bits{frame})
	full = append(full, args...)
	return m.exec(ctx, fn, full)
}
