package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-aot/compiler"
	"github.com/wippyai/wasm-aot/errors"
)

// Runtime compiles modules with checkpoint support and runs them on the IR
// evaluator.
type Runtime struct {
	hosts *HostRegistry
	opts  compiler.Options
}

// New creates a runtime that compiles every module with opts.
func New(opts compiler.Options) (*Runtime, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Runtime{
		hosts: NewHostRegistry(),
		opts:  opts,
	}, nil
}

// RegisterHost registers all exported methods of h as host functions.
// Must be called BEFORE instantiating modules that import these functions.
// Method names are converted from PascalCase to snake_case (GetValue -> get_value).
func (r *Runtime) RegisterHost(h Host) error {
	return r.hosts.RegisterHost(h)
}

func (r *Runtime) RegisterFunc(namespace, name string, fn any) error {
	return r.hosts.RegisterFunc(namespace, name, fn)
}

// RegisterGlobal provides the value of an imported global.
func (r *Runtime) RegisterGlobal(namespace, name string, value uint64) error {
	return r.hosts.RegisterGlobal(namespace, name, value)
}

func (r *Runtime) Hosts() *HostRegistry {
	return r.hosts
}

// Options returns the compiler options modules are built with.
func (r *Runtime) Options() compiler.Options {
	return r.opts
}

// Load compiles a core WebAssembly module.
func (r *Runtime) Load(ctx context.Context, bin []byte) (*Module, error) {
	res, err := compiler.Compile(ctx, bin, r.opts)
	if err != nil {
		return nil, err
	}
	if res.Wasm.NumMemories() > 1 {
		return nil, errors.Unsupported(errors.PhaseLoad, "multiple memories")
	}
	compiler.Logger().Debug("module loaded",
		zap.Int("functions", len(res.Funcs)),
		zap.Int("imports", len(res.Module.Imports)))
	return &Module{
		runtime: r,
		result:  res,
		bin:     bin,
	}, nil
}
