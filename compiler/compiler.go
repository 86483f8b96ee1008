// Package compiler translates WebAssembly modules into IR functions that
// can be paused at checkpoints and resumed from their native frame.
//
// Every compiled function mirrors the interpreter's frame: locals and the
// operand stack live in 32-bit cells after a small header holding the
// instruction and stack pointers. At a checkpoint the emitted code spills
// the values that changed since the last spill, records where it is, and
// executes a fence marker where a runtime may suspend it. On entry a
// function reads the persisted instruction pointer and, when it names a
// checkpoint, reloads every value and continues right after it.
package compiler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-aot/compiler/internal/handler"
	"github.com/wippyai/wasm-aot/compiler/internal/validate"
	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/wasm"
)

// InstanceLayout describes the instance record compiled code addresses:
// linear memory, table descriptors, function type ids and globals.
type InstanceLayout = handler.InstanceLayout

// Instance record fields shared by every layout.
const (
	MemBaseOffset   = handler.MemBaseOffset
	MemSizeOffset   = handler.MemSizeOffset
	TableDescSize   = handler.TableDescSize
	TableSizeOffset = handler.TableSizeOffset
)

// FuncStats describes what was emitted for one function.
type FuncStats struct {
	Name  string
	Index uint32
	// Sites lists the instruction offsets that received a restore case.
	Sites             []uint64
	CodeSize          int
	Instructions      int
	Checkpoints       int
	LoopCheckpoints   int
	BranchCheckpoints int
	Commits           int
	Restores          int
	PGOSkips          int
	FrameSize         int
}

// Result is a compiled module.
type Result struct {
	Module *ir.Module
	// Wasm is the decoded input, needed to instantiate the result.
	Wasm   *wasm.Module
	Layout *InstanceLayout
	Funcs  []FuncStats
	Mode   Mode
}

// Func returns the statistics of the function with WebAssembly index idx.
func (r *Result) Func(idx uint32) (FuncStats, bool) {
	for _, s := range r.Funcs {
		if s.Index == idx {
			return s, true
		}
	}
	return FuncStats{}, false
}

// Compile decodes, validates and translates the module binary bin.
func Compile(ctx context.Context, bin []byte, opts Options) (*Result, error) {
	m, err := wasm.ParseModule(bin)
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.PhaseDecode, errors.KindInvalidData, "decode module")
	}
	return compile(ctx, bin, m, opts)
}

// CompileModule translates an already decoded module. Unless validation
// is skipped the module is re-encoded and validated first.
func CompileModule(ctx context.Context, m *wasm.Module, opts Options) (*Result, error) {
	var bin []byte
	if !opts.SkipValidation {
		bin = m.Encode()
	}
	return compile(ctx, bin, m, opts)
}

func compile(ctx context.Context, bin []byte, m *wasm.Module, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := Logger()
	began := time.Now()

	if !opts.SkipValidation {
		if err := validate.Module(ctx, bin, m, opts.features()); err != nil {
			return nil, err
		}
	}
	layout, err := handler.NewInstanceLayout(m)
	if err != nil {
		return nil, err
	}
	skip, err := opts.skipTable()
	if err != nil {
		return nil, err
	}

	res := &Result{
		Module: &ir.Module{Name: "wasm"},
		Wasm:   m,
		Layout: layout,
		Mode:   opts.Mode,
		Funcs:  make([]FuncStats, len(m.Code)),
	}
	nimp := uint32(m.NumImportedFuncs())
	for i := uint32(0); i < nimp; i++ {
		imp := m.ImportedFunc(i)
		ft := m.GetFuncType(i)
		if imp == nil || ft == nil {
			return nil, errors.InvalidData(errors.PhaseCompile, "function import %d has no type", i)
		}
		res.Module.Imports = append(res.Module.Imports, &ir.Import{
			Module:  imp.Module,
			Name:    imp.Name,
			Params:  irTypes(ft.Params),
			Results: irTypes(ft.Results),
		})
	}
	res.Module.Functions = make([]*ir.Function, len(m.Code))

	reg := handler.Default()
	compileOne := func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := &translator{
			opts:   &opts,
			mod:    m,
			layout: layout,
			reg:    reg,
			skip:   skip,
			log:    log,
			idx:    nimp + uint32(i),
			defIdx: uint32(i),
		}
		body := &m.Code[i]
		log.Debug("translating function",
			zap.Uint32("func_index", t.idx),
			zap.Int("code_size", len(body.Code)))
		fn, err := t.translate(body)
		if err != nil {
			return err
		}
		t.stats.Name = fn.Name
		t.stats.Index = t.idx
		t.stats.CodeSize = len(body.Code)
		res.Module.Functions[i] = fn
		res.Funcs[i] = t.stats
		log.Debug("translated function",
			zap.Uint32("func_index", t.idx),
			zap.Int("checkpoints", t.stats.Checkpoints),
			zap.Int("frame_size", t.stats.FrameSize))
		return nil
	}

	if err := forEach(len(m.Code), opts.Parallelism, compileOne); err != nil {
		return nil, err
	}

	if err := res.Module.Verify(); err != nil {
		return nil, errors.Wrap(err, errors.PhaseCompile, errors.KindInternal, "emitted module is malformed")
	}
	log.Info("module compiled",
		zap.Int("functions", len(m.Code)),
		zap.Stringer("mode", opts.Mode),
		zap.Int("checkpoints", res.totalCheckpoints()),
		zap.Duration("elapsed", time.Since(began)))
	return res, nil
}

func (r *Result) totalCheckpoints() int {
	n := 0
	for _, s := range r.Funcs {
		n += s.Checkpoints
	}
	return n
}

// forEach runs fn for 0..n-1, on up to workers goroutines, and returns
// the error of the lowest failing index.
func forEach(n, workers int, fn func(i int) error) error {
	if workers <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	errs := make([]error, n)
	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(workers, n); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				errs[i] = fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		next <- i
	}
	close(next)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// String summarizes the result, one line per function.
func (r *Result) String() string {
	s := fmt.Sprintf("%s module: %d functions\n", r.Mode, len(r.Funcs))
	for _, f := range r.Funcs {
		s += fmt.Sprintf("  %-24s frame=%-5d ckpt=%-3d loop=%-3d br=%-3d commits=%-4d skipped=%d\n",
			f.Name, f.FrameSize, f.Checkpoints, f.LoopCheckpoints, f.BranchCheckpoints, f.Commits, f.PGOSkips)
	}
	return s
}
