package runtime

import (
	"context"
	stderrors "errors"
	"testing"

	wasmaot "github.com/wippyai/wasm-aot"
	"github.com/wippyai/wasm-aot/compiler"
	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/internal/wasmtest"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/ir/eval"
	"github.com/wippyai/wasm-aot/wasm"
)

var (
	i32  = []wasm.ValType{wasm.ValI32}
	i64  = []wasm.ValType{wasm.ValI64}
	i32x = func(n int) []wasm.ValType {
		out := make([]wasm.ValType, n)
		for i := range out {
			out[i] = wasm.ValI32
		}
		return out
	}
)

// instantiate compiles bin with opts, lets setup register hosts and
// returns a fresh instance.
func instantiate(t *testing.T, opts compiler.Options, bin []byte, setup func(*Runtime)) *Instance {
	t.Helper()
	ctx := context.Background()
	rt, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if setup != nil {
		setup(rt)
	}
	mod, err := rt.Load(ctx, bin)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	return inst
}

func call1(t *testing.T, inst *Instance, name string, args ...uint64) uint64 {
	t.Helper()
	res, err := inst.Call(context.Background(), name, args...)
	if err != nil {
		t.Fatalf("%s%v: %v", name, args, err)
	}
	if len(res) != 1 {
		t.Fatalf("%s%v returned %d values", name, args, len(res))
	}
	return res[0]
}

func trapCode(t *testing.T, err error) ir.TrapCode {
	t.Helper()
	if err == nil {
		t.Fatal("expected trap, got nil")
	}
	if k := errors.KindOf(err); k != errors.KindTrap {
		t.Fatalf("kind = %q, want trap (%v)", k, err)
	}
	var te *eval.TrapError
	if !stderrors.As(err, &te) {
		t.Fatalf("no TrapError in %v", err)
	}
	return te.Code
}

func addModule() []byte {
	b := wasmtest.New()
	b.Func("add", i32x(2), i32, nil,
		wasmtest.Code(wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpI32Add))
	return b.Bytes()
}

func TestCall_Add(t *testing.T) {
	inst := instantiate(t, compiler.DefaultOptions(), addModule(), nil)

	tests := []struct {
		a, b int32
		want uint32
	}{
		{1, 2, 3},
		{-1, 1, 0},
		{0x7fffffff, 1, 0x80000000},
	}
	for _, tt := range tests {
		got := call1(t, inst, "add", uint64(uint32(tt.a)), uint64(uint32(tt.b)))
		if uint32(got) != tt.want {
			t.Errorf("add(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCall_Errors(t *testing.T) {
	inst := instantiate(t, compiler.DefaultOptions(), addModule(), nil)
	ctx := context.Background()

	_, err := inst.Call(ctx, "missing")
	if k := errors.KindOf(err); k != errors.KindNotFound {
		t.Errorf("unknown export: kind = %q, want %q", k, errors.KindNotFound)
	}
	_, err = inst.Call(ctx, "add", 1)
	if k := errors.KindOf(err); k != errors.KindInvalidInput {
		t.Errorf("wrong arity: kind = %q, want %q", k, errors.KindInvalidInput)
	}
}

func TestCall_Traps(t *testing.T) {
	b := wasmtest.New()
	b.Func("boom", nil, nil, nil, wasmtest.Code(wasm.OpUnreachable))
	b.Func("div", i32x(2), i32, nil,
		wasmtest.Code(wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpI32DivS))
	inst := instantiate(t, compiler.DefaultOptions(), b.Bytes(), nil)
	ctx := context.Background()

	_, err := inst.Call(ctx, "boom")
	if code := trapCode(t, err); code != ir.TrapUnreachable {
		t.Errorf("boom: trap %s, want %s", code, ir.TrapUnreachable)
	}
	_, err = inst.Call(ctx, "div", 1, 0)
	if code := trapCode(t, err); code != ir.TrapIntegerDivideByZero {
		t.Errorf("div: trap %s, want %s", code, ir.TrapIntegerDivideByZero)
	}
	if got := call1(t, inst, "div", 9, 3); got != 3 {
		t.Errorf("div(9, 3) = %d, want 3", got)
	}
}

func TestModule_Exports(t *testing.T) {
	ctx := context.Background()
	rt, err := New(compiler.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	mod, err := rt.Load(ctx, addModule())
	if err != nil {
		t.Fatal(err)
	}
	exports := mod.Exports()
	if len(exports) != 1 || exports[0].Name != "add" || exports[0].Kind != wasm.KindFunc {
		t.Fatalf("exports = %+v", exports)
	}
	ft, err := mod.FuncType("add")
	if err != nil {
		t.Fatal(err)
	}
	if len(ft.Params) != 2 || len(ft.Results) != 1 {
		t.Errorf("add type = %s", ft)
	}
	if _, err := mod.FuncType("sub"); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("FuncType(sub) error = %v", err)
	}
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	opts := compiler.DefaultOptions()
	opts.PointerSize = 2
	if _, err := New(opts); err == nil {
		t.Fatal("expected error for pointer size 2")
	}
}

type mathHost struct {
	calls int
}

func (h *mathHost) Namespace() string { return "math" }

func (h *mathHost) Double(_ context.Context, v int32) int32 {
	h.calls++
	return v * 2
}

func hostModule() []byte {
	b := wasmtest.New()
	addOne := b.Import("env", "add_one", i32, i32)
	peek := b.Import("env", "peek", i32, i32)
	double := b.Import("math", "double", i32, i32)
	b.Memory(1)
	b.Data(8, []byte{42, 0, 0, 0})
	b.Func("calc", i32, i32, nil,
		wasmtest.Code(wasm.OpLocalGet, 0, wasm.OpCall, double, wasm.OpCall, addOne))
	b.Func("peek8", nil, i32, nil,
		wasmtest.I32(8), wasmtest.Code(wasm.OpCall, peek))
	return b.Bytes()
}

func registerHosts(t *testing.T, h *mathHost) func(*Runtime) {
	return func(rt *Runtime) {
		if err := rt.RegisterFunc("env", "add_one", func(v int32) int32 { return v + 1 }); err != nil {
			t.Fatal(err)
		}
		peek := HostFunc(func(_ context.Context, mem wasmaot.Memory, args []uint64) ([]uint64, error) {
			v, err := mem.ReadU32(args[0])
			return []uint64{uint64(v)}, err
		})
		if err := rt.RegisterFunc("env", "peek", peek); err != nil {
			t.Fatal(err)
		}
		if err := rt.RegisterHost(h); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHost_Functions(t *testing.T) {
	h := &mathHost{}
	inst := instantiate(t, compiler.DefaultOptions(), hostModule(), registerHosts(t, h))

	if got := call1(t, inst, "calc", 5); got != 11 {
		t.Errorf("calc(5) = %d, want 11", got)
	}
	if h.calls != 1 {
		t.Errorf("double called %d times, want 1", h.calls)
	}
	if got := call1(t, inst, "peek8"); got != 42 {
		t.Errorf("peek8() = %d, want 42", got)
	}
}

func TestHost_Resolution(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		setup func(*Runtime) error
		want  errors.Kind
	}{
		{
			name:  "missing",
			setup: func(*Runtime) error { return nil },
			want:  errors.KindNotFound,
		},
		{
			name: "type mismatch",
			setup: func(rt *Runtime) error {
				if err := rt.RegisterHost(&mathHost{}); err != nil {
					return err
				}
				if err := rt.RegisterFunc("env", "peek", func(v int32) int32 { return v }); err != nil {
					return err
				}
				return rt.RegisterFunc("env", "add_one", func(v int64) int64 { return v + 1 })
			},
			want: errors.KindTypeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := New(compiler.DefaultOptions())
			if err != nil {
				t.Fatal(err)
			}
			if err := tt.setup(rt); err != nil {
				t.Fatal(err)
			}
			mod, err := rt.Load(ctx, hostModule())
			if err != nil {
				t.Fatal(err)
			}
			_, err = mod.Instantiate(ctx)
			if k := errors.KindOf(err); k != tt.want {
				t.Errorf("kind = %q, want %q (%v)", k, tt.want, err)
			}
		})
	}
}

func TestHost_ErrorPropagates(t *testing.T) {
	boom := stderrors.New("host failed")
	b := wasmtest.New()
	fail := b.Import("env", "fail", nil, nil)
	b.Func("run", nil, nil, nil, wasmtest.Code(wasm.OpCall, fail))

	inst := instantiate(t, compiler.DefaultOptions(), b.Bytes(), func(rt *Runtime) {
		if err := rt.RegisterFunc("env", "fail", func() error { return boom }); err != nil {
			t.Fatal(err)
		}
	})
	if _, err := inst.Call(context.Background(), "run"); !stderrors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestRegisterFunc_Rejects(t *testing.T) {
	r := NewHostRegistry()
	tests := []struct {
		name string
		ns   string
		fn   any
	}{
		{"empty namespace", "", func() {}},
		{"not a function", "env", 42},
		{"unsupported param", "env", func(s string) {}},
		{"unsupported result", "env", func() []byte { return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.RegisterFunc(tt.ns, "f", tt.fn); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Double", "double"},
		{"GetValue", "get_value"},
		{"GetHTTPURL", "get_http_url"},
		{"ParseJSONData", "parse_json_data"},
		{"ReadIOURL", "read_io_url"},
		{"NewHTTPSTCPConn", "new_https_tcp_conn"},
		{"GetID", "get_id"},
		{"HTTP", "http"},
		{"XYZValue", "xyz_value"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := toSnakeCase(tt.in); got != tt.want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func memoryModule() []byte {
	b := wasmtest.New()
	b.Memory(1, 2)
	b.Data(16, []byte("hello"))
	seg := b.PassiveData([]byte("world"))

	get := func(n int) []byte {
		var out []byte
		for i := 0; i < n; i++ {
			out = append(out, wasm.OpLocalGet, byte(i))
		}
		return out
	}
	b.Func("load", i32, i32, nil, get(1), wasmtest.Code(wasm.OpI32Load, 2, 0))
	b.Func("store", i32x(2), nil, nil, get(2), wasmtest.Code(wasm.OpI32Store, 2, 0))
	b.Func("grow", i32, i32, nil, get(1), wasmtest.Code(wasm.OpMemoryGrow, 0))
	b.Func("size", nil, i32, nil, wasmtest.Code(wasm.OpMemorySize, 0))
	b.Func("fill", i32x(3), nil, nil, get(3),
		wasmtest.Code(wasm.OpPrefixMisc, wasm.MiscMemoryFill, 0))
	b.Func("copy", i32x(3), nil, nil, get(3),
		wasmtest.Code(wasm.OpPrefixMisc, wasm.MiscMemoryCopy, 0, 0))
	b.Func("init", i32x(3), nil, nil, get(3),
		wasmtest.Code(wasm.OpPrefixMisc, wasm.MiscMemoryInit, seg, 0))
	b.Func("drop", nil, nil, nil,
		wasmtest.Code(wasm.OpPrefixMisc, wasm.MiscDataDrop, seg))
	return b.Bytes()
}

func readMem(t *testing.T, inst *Instance, off, n uint64) string {
	t.Helper()
	b, err := inst.Memory().Read(off, n)
	if err != nil {
		t.Fatalf("read memory [%d, +%d): %v", off, n, err)
	}
	return string(b)
}

func TestMemory_LoadStore(t *testing.T) {
	inst := instantiate(t, compiler.DefaultOptions(), memoryModule(), nil)
	ctx := context.Background()

	if got := call1(t, inst, "load", 16); got != 0x6c6c6568 {
		t.Errorf("load(16) = %#x, want 0x6c6c6568", got)
	}
	if got := readMem(t, inst, 16, 5); got != "hello" {
		t.Errorf("memory[16:21] = %q", got)
	}
	if _, err := inst.Call(ctx, "store", 32, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	if got := call1(t, inst, "load", 32); got != 0xdeadbeef {
		t.Errorf("load(32) = %#x after store", got)
	}
	_, err := inst.Call(ctx, "load", wasm.PageSize-2)
	if code := trapCode(t, err); code != ir.TrapOutOfBoundsMemory {
		t.Errorf("load past the end: trap %s", code)
	}
}

func TestMemory_Grow(t *testing.T) {
	inst := instantiate(t, compiler.DefaultOptions(), memoryModule(), nil)
	ctx := context.Background()

	if got := call1(t, inst, "grow", 1); got != 1 {
		t.Errorf("grow(1) = %d, want 1", got)
	}
	if got := call1(t, inst, "size"); got != 2 {
		t.Errorf("size() = %d, want 2", got)
	}
	if got := call1(t, inst, "grow", 1); uint32(got) != 0xffffffff {
		t.Errorf("grow past maximum = %d, want -1", int32(got))
	}
	if _, err := inst.Call(ctx, "store", wasm.PageSize, 7); err != nil {
		t.Fatalf("store into grown page: %v", err)
	}
	if got := call1(t, inst, "load", wasm.PageSize); got != 7 {
		t.Errorf("load(64KiB) = %d, want 7", got)
	}
}

func TestMemory_Bulk(t *testing.T) {
	inst := instantiate(t, compiler.DefaultOptions(), memoryModule(), nil)
	ctx := context.Background()

	if _, err := inst.Call(ctx, "fill", 100, 0xab, 4); err != nil {
		t.Fatal(err)
	}
	if got := call1(t, inst, "load", 100); got != 0xabababab {
		t.Errorf("after fill load(100) = %#x", got)
	}
	if _, err := inst.Call(ctx, "copy", 200, 16, 5); err != nil {
		t.Fatal(err)
	}
	if got := readMem(t, inst, 200, 5); got != "hello" {
		t.Errorf("after copy memory[200:205] = %q", got)
	}
	if _, err := inst.Call(ctx, "init", 300, 1, 3); err != nil {
		t.Fatal(err)
	}
	if got := readMem(t, inst, 300, 3); got != "orl" {
		t.Errorf("after init memory[300:303] = %q", got)
	}

	_, err := inst.Call(ctx, "fill", wasm.PageSize-1, 0, 2)
	if code := trapCode(t, err); code != ir.TrapOutOfBoundsMemory {
		t.Errorf("fill past the end: trap %s", code)
	}

	if _, err := inst.Call(ctx, "drop"); err != nil {
		t.Fatal(err)
	}
	_, err = inst.Call(ctx, "init", 300, 0, 1)
	if code := trapCode(t, err); code != ir.TrapOutOfBoundsMemory {
		t.Errorf("init from dropped segment: trap %s", code)
	}
	if _, err := inst.Call(ctx, "init", 300, 0, 0); err != nil {
		t.Errorf("empty init from dropped segment: %v", err)
	}
}

func tableModule() []byte {
	b := wasmtest.New()
	ten := b.Func("", nil, i32, nil, wasmtest.I32(10))
	twenty := b.Func("", nil, i32, nil, wasmtest.I32(20))
	wide := b.Func("", i64, i64, nil, wasmtest.Code(wasm.OpLocalGet, 0))
	b.Table(4)
	b.Elem(0, ten, twenty, wide)

	sig := b.Type(nil, i32)
	b.Func("dispatch", i32, i32, nil,
		wasmtest.Code(wasm.OpLocalGet, 0, wasm.OpCallIndirect, sig, uint32(0)))
	b.Func("table_size", nil, i32, nil,
		wasmtest.Code(wasm.OpPrefixMisc, wasm.MiscTableSize, uint32(0)))
	b.Func("table_grow", i32, i32, nil,
		wasmtest.Code(wasm.OpRefNull, wasm.ValFuncRef, wasm.OpLocalGet, 0,
			wasm.OpPrefixMisc, wasm.MiscTableGrow, uint32(0)))
	return b.Bytes()
}

func TestTable_CallIndirect(t *testing.T) {
	inst := instantiate(t, compiler.DefaultOptions(), tableModule(), nil)
	ctx := context.Background()

	if got := call1(t, inst, "dispatch", 0); got != 10 {
		t.Errorf("dispatch(0) = %d, want 10", got)
	}
	if got := call1(t, inst, "dispatch", 1); got != 20 {
		t.Errorf("dispatch(1) = %d, want 20", got)
	}

	tests := []struct {
		idx  uint64
		want ir.TrapCode
	}{
		{2, ir.TrapIndirectCallTypeMismatch},
		{3, ir.TrapUninitializedElement},
		{9, ir.TrapOutOfBoundsTable},
	}
	for _, tt := range tests {
		_, err := inst.Call(ctx, "dispatch", tt.idx)
		if code := trapCode(t, err); code != tt.want {
			t.Errorf("dispatch(%d): trap %s, want %s", tt.idx, code, tt.want)
		}
	}
}

func TestTable_Grow(t *testing.T) {
	inst := instantiate(t, compiler.DefaultOptions(), tableModule(), nil)

	if got := call1(t, inst, "table_size"); got != 4 {
		t.Errorf("table_size() = %d, want 4", got)
	}
	if got := call1(t, inst, "table_grow", 2); got != 4 {
		t.Errorf("table_grow(2) = %d, want 4", got)
	}
	if got := call1(t, inst, "table_size"); got != 6 {
		t.Errorf("table_size() = %d after grow, want 6", got)
	}
	_, err := inst.Call(context.Background(), "dispatch", 5)
	if code := trapCode(t, err); code != ir.TrapUninitializedElement {
		t.Errorf("dispatch(5) after grow: trap %s", code)
	}
}

func TestGlobals_StartFunction(t *testing.T) {
	b := wasmtest.New()
	g := b.Global(wasm.ValI32, true, wasmtest.I32(5))
	set := b.Func("", nil, nil, nil,
		wasmtest.I32(42), wasmtest.Code(wasm.OpGlobalSet, g))
	b.Func("get", nil, i32, nil, wasmtest.Code(wasm.OpGlobalGet, g))
	b.Start(set)

	inst := instantiate(t, compiler.DefaultOptions(), b.Bytes(), nil)
	if got := call1(t, inst, "get"); got != 42 {
		t.Errorf("get() = %d, want 42", got)
	}
	v, err := inst.Global(g)
	if err != nil {
		t.Fatal(err)
	}
	if v != 42 {
		t.Errorf("Global(%d) = %d, want 42", g, v)
	}
	if _, err := inst.Global(9); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("Global(9) error = %v", err)
	}
}

func TestGlobals_Imported(t *testing.T) {
	build := func() []byte {
		b := wasmtest.New()
		base := b.ImportGlobal("env", "base", wasm.ValI32, false)
		derived := b.Global(wasm.ValI32, false, wasmtest.Code(wasm.OpGlobalGet, base))
		b.Func("derived", nil, i32, nil, wasmtest.Code(wasm.OpGlobalGet, derived))
		return b.Bytes()
	}

	inst := instantiate(t, compiler.DefaultOptions(), build(), func(rt *Runtime) {
		if err := rt.RegisterGlobal("env", "base", 7); err != nil {
			t.Fatal(err)
		}
	})
	if got := call1(t, inst, "derived"); got != 7 {
		t.Errorf("derived() = %d, want 7", got)
	}

	ctx := context.Background()
	rt, err := New(compiler.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	mod, err := rt.Load(ctx, build())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mod.Instantiate(ctx); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("unregistered global: error = %v", err)
	}
}

func TestReference(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		bin   []byte
		hosts bool
		fn    string
		args  []uint64
	}{
		{"add", addModule(), false, "add", []uint64{2, 40}},
		{"sum", sumModule(), false, "sum", []uint64{10}},
		{"host calls", hostModule(), true, "calc", []uint64{5}},
		{"host reads memory", hostModule(), true, "peek8", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var setup func(*Runtime)
			if tt.hosts {
				setup = registerHosts(t, &mathHost{})
			}
			inst := instantiate(t, loopOptions(), tt.bin, setup)
			got, err := inst.Call(ctx, tt.fn, tt.args...)
			if err != nil {
				t.Fatal(err)
			}
			want, err := inst.Module().Reference(ctx, tt.fn, tt.args...)
			if err != nil {
				t.Fatalf("Reference: %v", err)
			}
			if len(got) != len(want) || (len(got) > 0 && uint32(got[0]) != uint32(want[0])) {
				t.Errorf("Call = %v, Reference = %v", got, want)
			}
		})
	}

	inst := instantiate(t, loopOptions(), addModule(), nil)
	if _, err := inst.Module().Reference(ctx, "missing"); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("Reference(missing) = %v, want not found", err)
	}
}

func TestAPIType(t *testing.T) {
	for _, vt := range []wasm.ValType{wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64, wasm.ValExternRef} {
		if _, ok := apiType(vt); !ok {
			t.Errorf("apiType(%s) rejected", vt)
		}
	}
	// wazero host functions have no funcref value type.
	if _, err := apiTypes([]wasm.ValType{wasm.ValI32, wasm.ValFuncRef}); errors.KindOf(err) != errors.KindUnsupported {
		t.Errorf("apiTypes(funcref) = %v, want unsupported", err)
	}
}
