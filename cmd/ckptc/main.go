package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-aot/compiler"
	"github.com/wippyai/wasm-aot/runtime"
	"github.com/wippyai/wasm-aot/wasm"
)

type config struct {
	opts     compiler.Options
	input    string
	output   string
	funcName string
	runName  string
	args     string
	pause    int
	verify   bool
}

func main() {
	var (
		cfg         config
		output      = flag.String("o", "", "Write the IR listing to this file; also names the .pgo skip table")
		jit         = flag.Bool("jit", false, "Persist absolute code addresses and use the interpreter frame layout")
		codeBase    = flag.Uint64("code-base", 0, "Address the module binary is mapped at in JIT mode")
		ptrSize     = flag.Int("ptr", 8, "Target pointer size (4 or 8)")
		noCkpt      = flag.Bool("no-ckpt", false, "Disable call checkpoints and the restore dispatch")
		every       = flag.Bool("every-ckpt", false, "Checkpoint before every instruction with a live stack")
		loop        = flag.Bool("loop-ckpt", false, "Checkpoint at every loop header")
		counterLoop = flag.Bool("counter-loop-ckpt", false, "Sample loop checkpoints once every 2^20 iterations")
		br          = flag.Bool("br-ckpt", false, "Emit fences before branches")
		auxDirty    = flag.Bool("aux-dirty", false, "Commit on every local write and before every branch")
		usePGO      = flag.Bool("pgo", false, "Suppress loop checkpoints listed in <o>.pgo")
		simd        = flag.Bool("simd", false, "Enable SIMD")
		threads     = flag.Bool("threads", false, "Enable threads and atomics")
		tailCall    = flag.Bool("tail-call", false, "Enable tail calls")
		noBounds    = flag.Bool("no-bounds", false, "Omit linear memory bounds checks")
		jobs        = flag.Int("j", 0, "Functions compiled in parallel (0 or 1 is sequential)")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Log compilation details")
	)
	flag.StringVar(&cfg.funcName, "func", "", "Print the IR of this function only")
	flag.StringVar(&cfg.runName, "run", "", "Call this export after compiling")
	flag.StringVar(&cfg.args, "args", "", "Comma-separated arguments for -run")
	flag.IntVar(&cfg.pause, "pause", 0, "Suspend and resume -run at every n-th checkpoint")
	flag.BoolVar(&cfg.verify, "verify", false, "Compare -run results against wazero")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: ckptc [flags] <module.wasm>")
		fmt.Fprintln(os.Stderr, "       ckptc -loop-ckpt -run sum -args 10 -pause 3 -verify <module.wasm>")
		fmt.Fprintln(os.Stderr, "       ckptc -i <module.wasm>  (interactive mode)")
		flag.PrintDefaults()
		os.Exit(1)
	}
	cfg.input = flag.Arg(0)
	cfg.output = *output

	opts := compiler.DefaultOptions()
	if *jit {
		opts.Mode = compiler.ModeJIT
	}
	opts.CodeBase = *codeBase
	opts.PointerSize = *ptrSize
	opts.Checkpoint = !*noCkpt
	opts.EveryCheckpoint = *every
	opts.LoopCheckpoint = *loop || *counterLoop
	opts.CounterLoopCheckpoint = *counterLoop
	opts.BrCheckpoint = *br
	opts.AuxStackDirtyBit = *auxDirty
	opts.PGO = *usePGO
	opts.ArtifactName = *output
	opts.EnableSIMD = *simd
	opts.EnableThreads = *threads
	opts.EnableTailCall = *tailCall
	opts.BoundsChecks = !*noBounds
	opts.Parallelism = *jobs
	cfg.opts = opts

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		logger = l
	}
	defer logger.Sync() //nolint:errcheck
	compiler.SetLogger(logger)

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

func run(cfg config) error {
	ctx := context.Background()

	data, err := os.ReadFile(cfg.input)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	rt, err := runtime.New(cfg.opts)
	if err != nil {
		return fmt.Errorf("options: %w", err)
	}
	mod, err := rt.Load(ctx, data)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	res := mod.Result()

	fmt.Println(headerStyle.Render(cfg.input))
	fmt.Print(res.String())

	if cfg.funcName != "" {
		fn := res.Module.FuncByName(cfg.funcName)
		if fn == nil {
			return fmt.Errorf("function %q not found", cfg.funcName)
		}
		fmt.Printf("\n%s", fn.Format())
	}

	if cfg.output != "" {
		if err := os.WriteFile(cfg.output, []byte(res.Module.Format()), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Printf("\nIR written to %s\n", cfg.output)
	}

	if cfg.runName == "" {
		return nil
	}
	ft, err := mod.FuncType(cfg.runName)
	if err != nil {
		return err
	}
	args, err := parseArgs(ft, splitArgs(cfg.args))
	if err != nil {
		return err
	}

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}
	cs, err := inst.StartCall(ctx, cfg.runName, args...)
	if err != nil {
		return err
	}
	results, err := cs.Run(ctx, runtime.PauseEvery(cfg.pause))
	if err != nil {
		return fmt.Errorf("call %s: %w", cfg.runName, err)
	}
	fmt.Printf("\n%s(%s) = %s", cfg.runName, cfg.args, formatResults(ft, results))
	if cs.Pauses() > 0 {
		fmt.Printf("  [%d pauses, last at %d]", cs.Pauses(), cs.Checkpoint())
	}
	fmt.Println()

	if !cfg.verify {
		return nil
	}
	want, err := mod.Reference(ctx, cfg.runName, args...)
	if err != nil {
		return fmt.Errorf("reference run: %w", err)
	}
	if !sameResults(ft, results, want) {
		fmt.Println(failStyle.Render("MISMATCH: wazero returned " + formatResults(ft, want)))
		return fmt.Errorf("results differ from the reference run")
	}
	fmt.Println(okStyle.Render("matches wazero"))
	return nil
}

func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseArgs converts textual arguments to raw values of the parameter
// types of ft.
func parseArgs(ft *wasm.FuncType, args []string) ([]uint64, error) {
	if len(args) != len(ft.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", ft, len(ft.Params), len(args))
	}
	out := make([]uint64, len(args))
	for i, s := range args {
		v, err := parseValue(ft.Params[i], s)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseValue(t wasm.ValType, s string) (uint64, error) {
	switch t {
	case wasm.ValI32:
		if v, err := strconv.ParseInt(s, 0, 32); err == nil {
			return uint64(uint32(v)), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		return v, err
	case wasm.ValI64:
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			return uint64(v), nil
		}
		return strconv.ParseUint(s, 0, 64)
	case wasm.ValF32:
		v, err := strconv.ParseFloat(s, 32)
		return uint64(math.Float32bits(float32(v))), err
	case wasm.ValF64:
		v, err := strconv.ParseFloat(s, 64)
		return math.Float64bits(v), err
	case wasm.ValFuncRef, wasm.ValExternRef:
		if s == "null" {
			return 0, nil
		}
		return strconv.ParseUint(s, 0, 64)
	}
	return 0, fmt.Errorf("cannot pass %s values", t)
}

func formatValue(t wasm.ValType, v uint64) string {
	switch t {
	case wasm.ValI32:
		return strconv.FormatInt(int64(int32(v)), 10)
	case wasm.ValI64:
		return strconv.FormatInt(int64(v), 10)
	case wasm.ValF32:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(v))), 'g', -1, 32)
	case wasm.ValF64:
		return strconv.FormatFloat(math.Float64frombits(v), 'g', -1, 64)
	case wasm.ValFuncRef, wasm.ValExternRef:
		if v == 0 {
			return "null"
		}
	}
	return fmt.Sprintf("%#x", v)
}

func formatResults(ft *wasm.FuncType, vals []uint64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		t := wasm.ValI64
		if i < len(ft.Results) {
			t = ft.Results[i]
		}
		parts[i] = formatValue(t, v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// sameResults compares raw results, treating every NaN as equal to any
// other NaN of the same width.
func sameResults(ft *wasm.FuncType, a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		if i >= len(ft.Results) {
			return false
		}
		switch ft.Results[i] {
		case wasm.ValF32:
			x, y := math.Float32frombits(uint32(a[i])), math.Float32frombits(uint32(b[i]))
			if x != x && y != y {
				continue
			}
		case wasm.ValF64:
			if math.IsNaN(math.Float64frombits(a[i])) && math.IsNaN(math.Float64frombits(b[i])) {
				continue
			}
		}
		return false
	}
	return true
}
