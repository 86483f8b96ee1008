package runtime

import (
	"context"
	"math"

	"go.uber.org/zap"

	wasmaot "github.com/wippyai/wasm-aot"
	"github.com/wippyai/wasm-aot/compiler"
	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/ir/eval"
	"github.com/wippyai/wasm-aot/wasm"
)

const (
	maxPages      = 65536
	maxTableElems = math.MaxUint32
)

// table is one table of an instance. Entries are u32 references: 0 is
// null, otherwise the function index plus one.
type table struct {
	elems *eval.Region
	// desc is the offset of the table descriptor in the instance record.
	desc uint32
}

func (t *table) size() uint32 { return uint32(t.elems.Size() / 4) }

// Instance is an instantiated module. Imported memories, tables and
// globals are created by the instance itself from their declared types.
// An Instance is not safe for concurrent use.
type Instance struct {
	module  *Module
	machine *eval.Machine
	record  *eval.Region
	memory  *eval.Region
	tables  []*table
	hosts   []HostFunc

	// data and elems hold the segments memory.init and table.init read
	// from. A dropped or active segment is nil.
	data  [][]byte
	elems [][]uint32
}

func newInstance(m *Module) (*Instance, error) {
	res := m.result
	wm := res.Wasm
	layout := res.Layout

	hosts, err := m.runtime.hosts.resolve(wm)
	if err != nil {
		return nil, err
	}

	machine := eval.New(res.Module)
	inst := &Instance{
		module:  m,
		machine: machine,
		hosts:   hosts,
	}
	inst.record = machine.Map(make([]byte, layout.Size), uint64(layout.Size))
	machine.Instance = inst.record.Base()

	if err := inst.initMemory(wm); err != nil {
		return nil, err
	}
	if err := inst.initTables(wm, layout); err != nil {
		return nil, err
	}
	if err := inst.initFuncTypes(wm, layout); err != nil {
		return nil, err
	}
	globals, err := inst.initGlobals(wm, layout)
	if err != nil {
		return nil, err
	}
	if err := inst.initElements(wm, globals); err != nil {
		return nil, err
	}
	if err := inst.initData(wm, globals); err != nil {
		return nil, err
	}

	for i, h := range hosts {
		machine.Host[i] = inst.bindHost(h)
	}
	inst.registerIntrinsics()

	compiler.Logger().Debug("instance created",
		zap.Int("tables", len(inst.tables)),
		zap.Int("globals", len(globals)),
		zap.Uint64("memory_bytes", inst.memorySize()))
	return inst, nil
}

func (i *Instance) bindHost(h HostFunc) eval.HostFunc {
	return func(ctx context.Context, _ *eval.Machine, args []uint64) ([]uint64, error) {
		return h(ctx, i.Memory(), args)
	}
}

func (i *Instance) initMemory(wm *wasm.Module) error {
	mt := wm.Memory()
	if mt == nil {
		return nil
	}
	max := uint64(maxPages)
	if mt.Limits.Max != nil && *mt.Limits.Max < max {
		max = *mt.Limits.Max
	}
	if mt.Limits.Min > max {
		return errors.InvalidData(errors.PhaseRuntime, "memory minimum %d exceeds maximum %d pages", mt.Limits.Min, max)
	}
	i.memory = i.machine.Map(make([]byte, mt.Limits.Min*wasm.PageSize), max*wasm.PageSize)
	if err := i.record.WriteU64(compiler.MemBaseOffset, i.memory.Base()); err != nil {
		return err
	}
	return i.record.WriteU64(compiler.MemSizeOffset, i.memory.Size())
}

func (i *Instance) initTables(wm *wasm.Module, layout *compiler.InstanceLayout) error {
	for idx, desc := range layout.Tables {
		tt := wm.Table(uint32(idx))
		if tt == nil {
			return errors.InvalidData(errors.PhaseRuntime, "table %d has no type", idx)
		}
		max := uint64(maxTableElems)
		if tt.Limits.Max != nil && *tt.Limits.Max < max {
			max = *tt.Limits.Max
		}
		if tt.Limits.Min > max {
			return errors.InvalidData(errors.PhaseRuntime, "table %d minimum %d exceeds maximum %d", idx, tt.Limits.Min, max)
		}
		t := &table{
			elems: i.machine.Map(make([]byte, 4*tt.Limits.Min), 4*max),
			desc:  desc,
		}
		if err := i.record.WriteU64(uint64(desc), t.elems.Base()); err != nil {
			return err
		}
		if err := i.record.WriteU32(uint64(desc+compiler.TableSizeOffset), t.size()); err != nil {
			return err
		}
		i.tables = append(i.tables, t)
	}
	return nil
}

func (i *Instance) initFuncTypes(wm *wasm.Module, layout *compiler.InstanceLayout) error {
	n := uint32(wm.NumImportedFuncs() + len(wm.Funcs))
	ids := i.machine.Map(make([]byte, 4*n), uint64(4*n))
	for idx := uint32(0); idx < n; idx++ {
		id, ok := layout.FuncTypeID(wm, idx)
		if !ok {
			return errors.InvalidData(errors.PhaseRuntime, "function %d has no type", idx)
		}
		if err := ids.WriteU32(uint64(4*idx), id); err != nil {
			return err
		}
	}
	return i.record.WriteU64(uint64(layout.FuncTypes), ids.Base())
}

// initGlobals evaluates every global initializer in index order and
// returns the values.
func (i *Instance) initGlobals(wm *wasm.Module, layout *compiler.InstanceLayout) ([]uint64, error) {
	values := make([]uint64, 0, wm.NumGlobals())
	for _, imp := range wm.Imports {
		if imp.Desc.Kind != wasm.KindGlobal {
			continue
		}
		v, ok := i.module.runtime.hosts.global(imp.Module, imp.Name)
		if !ok {
			return nil, errors.New(errors.PhaseHost, errors.KindNotFound).
				Detail("global %s.%s is not registered", imp.Module, imp.Name).
				Build()
		}
		values = append(values, v)
	}
	for _, g := range wm.Globals {
		if g.Type.ValType == wasm.ValV128 {
			return nil, errors.Unsupported(errors.PhaseRuntime, "v128 global initializers")
		}
		v, err := wasm.EvalConstExpr(g.Init, constGlobals(values))
		if err != nil {
			return nil, errors.Wrap(err, errors.PhaseRuntime, errors.KindInvalidData, "global initializer")
		}
		values = append(values, v)
	}
	for idx, v := range values {
		if err := i.record.WriteU64(uint64(layout.Globals[idx]), v); err != nil {
			return nil, err
		}
	}
	return values, nil
}

// constGlobals resolves global.get in constant expressions against the
// globals initialized so far.
func constGlobals(values []uint64) func(uint32) (uint64, bool) {
	return func(idx uint32) (uint64, bool) {
		if int(idx) >= len(values) {
			return 0, false
		}
		return values[idx], true
	}
}

func (i *Instance) initElements(wm *wasm.Module, globals []uint64) error {
	lookup := constGlobals(globals)
	i.elems = make([][]uint32, len(wm.Elements))
	for idx := range wm.Elements {
		e := &wm.Elements[idx]
		refs := make([]uint32, 0, len(e.FuncIdxs)+len(e.Exprs))
		for _, f := range e.FuncIdxs {
			refs = append(refs, f+1)
		}
		for _, expr := range e.Exprs {
			v, err := wasm.EvalConstExpr(expr, lookup)
			if err != nil {
				return errors.Wrap(err, errors.PhaseRuntime, errors.KindInvalidData, "element expression")
			}
			refs = append(refs, uint32(v))
		}

		switch {
		case e.Passive():
			i.elems[idx] = refs
		case e.Declarative():
		default:
			off, err := wasm.EvalConstExpr(e.Offset, lookup)
			if err != nil {
				return errors.Wrap(err, errors.PhaseRuntime, errors.KindInvalidData, "element offset")
			}
			if int(e.TableIdx) >= len(i.tables) {
				return errors.InvalidData(errors.PhaseRuntime, "element segment %d targets table %d", idx, e.TableIdx)
			}
			if err := i.tables[e.TableIdx].write(uint32(off), refs); err != nil {
				return errors.Wrap(err, errors.PhaseRuntime, errors.KindTrap, "element segment does not fit")
			}
		}
	}
	return nil
}

func (i *Instance) initData(wm *wasm.Module, globals []uint64) error {
	lookup := constGlobals(globals)
	i.data = make([][]byte, len(wm.Data))
	for idx := range wm.Data {
		d := &wm.Data[idx]
		if d.Flags == 1 {
			i.data[idx] = d.Init
			continue
		}
		off, err := wasm.EvalConstExpr(d.Offset, lookup)
		if err != nil {
			return errors.Wrap(err, errors.PhaseRuntime, errors.KindInvalidData, "data offset")
		}
		if i.memory == nil {
			return errors.InvalidData(errors.PhaseRuntime, "data segment %d without memory", idx)
		}
		if err := i.memory.Write(uint64(uint32(off)), d.Init); err != nil {
			return errors.Wrap(err, errors.PhaseRuntime, errors.KindTrap, "data segment does not fit")
		}
	}
	return nil
}

func (t *table) write(off uint32, refs []uint32) error {
	if uint64(off)+uint64(len(refs)) > uint64(t.size()) {
		return &eval.TrapError{Code: ir.TrapOutOfBoundsTable}
	}
	for k, r := range refs {
		if err := t.elems.WriteU32(4*(uint64(off)+uint64(k)), r); err != nil {
			return err
		}
	}
	return nil
}

// Module returns the module the instance was created from.
func (i *Instance) Module() *Module {
	return i.module
}

// Machine returns the evaluator running the instance.
func (i *Instance) Machine() *eval.Machine {
	return i.machine
}

// Memory returns the instance's linear memory, or nil if it has none.
func (i *Instance) Memory() wasmaot.Memory {
	if i.memory == nil {
		return nil
	}
	return i.memory
}

func (i *Instance) memorySize() uint64 {
	if i.memory == nil {
		return 0
	}
	return i.memory.Size()
}

// Global returns the current raw value of global idx.
func (i *Instance) Global(idx uint32) (uint64, error) {
	offs := i.module.result.Layout.Globals
	if int(idx) >= len(offs) {
		return 0, errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Detail("global %d out of range", idx).
			Build()
	}
	return i.record.ReadU64(uint64(offs[idx]))
}

// Call invokes the exported function name with a fresh frame. Fences never
// pause a plain call.
func (i *Instance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	idx, err := i.export(name, args)
	if err != nil {
		return nil, err
	}
	return i.callIndex(ctx, idx, args)
}

func (i *Instance) export(name string, args []uint64) (uint32, error) {
	wm := i.module.result.Wasm
	idx, ok := wm.ExportedFunc(name)
	if !ok {
		return 0, errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Detail("function %q not exported", name).
			Build()
	}
	if ft := wm.GetFuncType(idx); len(ft.Params) != len(args) {
		return 0, errors.InvalidInput(errors.PhaseRuntime, "%s takes %d arguments, got %d", name, len(ft.Params), len(args))
	}
	return idx, nil
}

func (i *Instance) callIndex(ctx context.Context, idx uint32, args []uint64) ([]uint64, error) {
	if int(idx) < len(i.hosts) {
		return i.hosts[idx](ctx, i.Memory(), args)
	}
	fn := i.module.result.Module.Func(idx)
	if fn == nil {
		return nil, errors.Internal(errors.PhaseRuntime, "function %d was not compiled", idx)
	}
	hook := i.machine.OnFence
	i.machine.OnFence = nil
	defer func() { i.machine.OnFence = hook }()
	return i.machine.Run(ctx, i.machine.NewFrame(fn), args...)
}
