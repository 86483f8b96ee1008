package runtime

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/wasm"
)

func apiType(t wasm.ValType) (api.ValueType, bool) {
	switch t {
	case wasm.ValI32:
		return api.ValueTypeI32, true
	case wasm.ValI64:
		return api.ValueTypeI64, true
	case wasm.ValF32:
		return api.ValueTypeF32, true
	case wasm.ValF64:
		return api.ValueTypeF64, true
	case wasm.ValExternRef:
		return api.ValueTypeExternref, true
	}
	return 0, false
}

func apiTypes(ts []wasm.ValType) ([]api.ValueType, error) {
	out := make([]api.ValueType, len(ts))
	for i, t := range ts {
		vt, ok := apiType(t)
		if !ok {
			return nil, errors.Unsupported(errors.PhaseRuntime, "host signature with "+t.String())
		}
		out[i] = vt
	}
	return out, nil
}

// Reference runs the export name on wazero's interpreter in a fresh
// instance, with the registered host functions bound to the same imports.
// Its results are what the compiled code must reproduce.
func (m *Module) Reference(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	wm := m.result.Wasm
	if len(wm.Imports) != wm.NumImportedFuncs() {
		return nil, errors.Unsupported(errors.PhaseRuntime, "reference runs with non-function imports")
	}

	opts := m.runtime.opts
	cfg := wazero.NewRuntimeConfigInterpreter().WithCoreFeatures(opts.CoreFeatures())
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	defer rt.Close(ctx)

	if err := m.bindReference(ctx, rt); err != nil {
		return nil, err
	}

	bin := m.bin
	if bin == nil {
		bin = wm.Encode()
	}
	mod, err := rt.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.Wrap(err, errors.PhaseRuntime, errors.KindInvalidData, "instantiate reference module")
	}
	fn := mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Detail("function %q not exported", name).
			Build()
	}
	res, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.PhaseRuntime, errors.KindTrap, "reference call")
	}
	return res, nil
}

// bindReference exposes every imported function as a wazero host module
// function backed by the registered HostFunc.
func (m *Module) bindReference(ctx context.Context, rt wazero.Runtime) error {
	wm := m.result.Wasm
	builders := make(map[string]wazero.HostModuleBuilder)
	var order []string

	for i := 0; i < wm.NumImportedFuncs(); i++ {
		imp := wm.ImportedFunc(uint32(i))
		ft := wm.GetFuncType(uint32(i))
		e := m.runtime.hosts.lookup(imp.Module, imp.Name)
		if e == nil {
			return errors.New(errors.PhaseHost, errors.KindNotFound).
				Detail("host function %s.%s is not registered", imp.Module, imp.Name).
				Build()
		}
		params, err := apiTypes(ft.Params)
		if err != nil {
			return err
		}
		results, err := apiTypes(ft.Results)
		if err != nil {
			return err
		}

		b, ok := builders[imp.Module]
		if !ok {
			b = rt.NewHostModuleBuilder(imp.Module)
			builders[imp.Module] = b
			order = append(order, imp.Module)
		}
		fn, nparams := e.fn, len(ft.Params)
		b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				args := append([]uint64(nil), stack[:nparams]...)
				res, err := fn(ctx, wrapMemory(mod.Memory()), args)
				if err != nil {
					panic(err)
				}
				copy(stack, res)
			}), params, results).
			Export(imp.Name)
	}

	for _, name := range order {
		if _, err := builders[name].Instantiate(ctx); err != nil {
			return errors.Wrap(err, errors.PhaseHost, errors.KindInvalidData, "instantiate host module "+name)
		}
	}
	return nil
}
