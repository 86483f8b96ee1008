package runtime

import (
	"context"

	"github.com/wippyai/wasm-aot/compiler"
	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/wasm"
)

// Module is a compiled module ready to be instantiated.
type Module struct {
	runtime *Runtime
	result  *compiler.Result
	bin     []byte
}

// Result returns the compiler output.
func (m *Module) Result() *compiler.Result {
	return m.result
}

// Export describes an exported item. Type is set for functions only.
type Export struct {
	Type  *wasm.FuncType
	Name  string
	Index uint32
	Kind  byte
}

func (m *Module) Exports() []Export {
	src := m.result.Wasm.Exports
	if len(src) == 0 {
		return nil
	}
	exports := make([]Export, len(src))
	for i, e := range src {
		exports[i] = Export{Name: e.Name, Index: e.Idx, Kind: e.Kind}
		if e.Kind == wasm.KindFunc {
			exports[i].Type = m.result.Wasm.GetFuncType(e.Idx)
		}
	}
	return exports
}

// FuncType returns the signature of the exported function name.
func (m *Module) FuncType(name string) (*wasm.FuncType, error) {
	idx, ok := m.result.Wasm.ExportedFunc(name)
	if !ok {
		return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Detail("function %q not exported", name).
			Build()
	}
	return m.result.Wasm.GetFuncType(idx), nil
}

// Instantiate creates an instance with its own memory, tables and globals
// and runs the start function if the module declares one.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	inst, err := newInstance(m)
	if err != nil {
		return nil, err
	}
	if start := m.result.Wasm.Start; start != nil {
		if _, err := inst.callIndex(ctx, *start, nil); err != nil {
			return nil, err
		}
	}
	return inst, nil
}
