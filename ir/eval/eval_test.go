package eval

import (
	"context"
	stderrors "errors"
	"math"
	"testing"

	"github.com/wippyai/wasm-aot/ir"
)

var ctxParams = []ir.Type{ir.TypePtr, ir.TypePtr}

func params(extra ...ir.Type) []ir.Type {
	return append(append([]ir.Type{}, ctxParams...), extra...)
}

func newModule(fns ...*ir.Function) *ir.Module {
	for i, fn := range fns {
		fn.Index = uint32(i)
	}
	return &ir.Module{Functions: fns}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Op
		typ  ir.Type
		a, b uint64
		want uint64
	}{
		{"add wraps", ir.OpAdd, ir.TypeI32, math.MaxUint32, 2, 1},
		{"sdiv", ir.OpDivS, ir.TypeI32, uint64(uint32(0xfffffff6)), 3, uint64(uint32(0xfffffffd))},
		{"srem sign", ir.OpRemS, ir.TypeI64, uint64(0xfffffffffffffff9), 2, 0xffffffffffffffff},
		{"shl masks count", ir.OpShl, ir.TypeI32, 1, 33, 2},
		{"rotr", ir.OpRotr, ir.TypeI64, 1, 1, 1 << 63},
		{"ushr", ir.OpShrU, ir.TypeI32, 0x80000000, 31, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := ir.NewFunction("f", params(tt.typ, tt.typ), []ir.Type{tt.typ})
			b := ir.NewBuilder(fn)
			b.Ret(b.Binary(tt.op, fn.Params[2], fn.Params[3]))
			m := New(newModule(fn))
			got, err := m.Call(context.Background(), "f", tt.a, tt.b)
			if err != nil {
				t.Fatal(err)
			}
			if got[0] != tt.want {
				t.Errorf("got %#x, want %#x", got[0], tt.want)
			}
		})
	}
}

func TestTraps(t *testing.T) {
	tests := []struct {
		name  string
		build func(fn *ir.Function, b *ir.Builder)
		want  ir.TrapCode
	}{
		{
			name: "divide by zero",
			build: func(fn *ir.Function, b *ir.Builder) {
				b.Ret(b.Binary(ir.OpDivU, ir.ConstI32(1), ir.ConstI32(0)))
			},
			want: ir.TrapIntegerDivideByZero,
		},
		{
			name: "null load",
			build: func(fn *ir.Function, b *ir.Builder) {
				b.Ret(b.Load(ir.TypeI32, ir.Zero(ir.TypePtr), 1))
			},
			want: ir.TrapOutOfBoundsMemory,
		},
		{
			name: "explicit trap",
			build: func(fn *ir.Function, b *ir.Builder) {
				b.Trap(ir.ConstI32(int32(ir.TrapUnreachable)))
			},
			want: ir.TrapUnreachable,
		},
		{
			name: "invalid conversion",
			build: func(fn *ir.Function, b *ir.Builder) {
				b.Ret(b.Convert(ir.OpFPToSI, ir.ConstF64(math.Float64bits(math.NaN())), ir.TypeI32))
			},
			want: ir.TrapInvalidConversion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := ir.NewFunction("f", params(), []ir.Type{ir.TypeI32})
			tt.build(fn, ir.NewBuilder(fn))
			_, err := New(newModule(fn)).Call(context.Background(), "f")
			var te *TrapError
			if !stderrors.As(err, &te) {
				t.Fatalf("expected trap, got %v", err)
			}
			if te.Code != tt.want {
				t.Errorf("got %v, want %v", te.Code, tt.want)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Op
		from ir.Type
		to   ir.Type
		sat  bool
		in   uint64
		want uint64
	}{
		{"sext i32", ir.OpSExt, ir.TypeI32, ir.TypeI64, false, 0xffffffff, math.MaxUint64},
		{"zext i32", ir.OpZExt, ir.TypeI32, ir.TypeI64, false, 0xffffffff, 0xffffffff},
		{"trunc", ir.OpTrunc, ir.TypeI64, ir.TypeI32, false, 0x1_2345_6789, 0x2345_6789},
		{"sat high", ir.OpFPToSI, ir.TypeF64, ir.TypeI32, true, math.Float64bits(1e20), math.MaxInt32},
		{"sat low i32", ir.OpFPToSI, ir.TypeF64, ir.TypeI32, true, math.Float64bits(-1e20), 1 << 31},
		{"sat low i64", ir.OpFPToSI, ir.TypeF64, ir.TypeI64, true, math.Float64bits(-1e20), 1 << 63},
		{"sat nan", ir.OpFPToUI, ir.TypeF32, ir.TypeI64, true, uint64(math.Float32bits(float32(math.NaN()))), 0},
		{"uitofp", ir.OpUIToFP, ir.TypeI32, ir.TypeF64, false, 0xffffffff, math.Float64bits(4294967295)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := ir.NewFunction("f", params(tt.from), []ir.Type{tt.to})
			b := ir.NewBuilder(fn)
			if tt.sat {
				b.Ret(b.ConvertSat(tt.op, fn.Params[2], tt.to))
			} else {
				b.Ret(b.Convert(tt.op, fn.Params[2], tt.to))
			}
			got, err := New(newModule(fn)).Call(context.Background(), "f", tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got[0] != tt.want {
				t.Errorf("got %#x, want %#x", got[0], tt.want)
			}
		})
	}
}

// sumLoop builds sum(0..n-1) with an alloca-based loop.
func sumLoop() *ir.Function {
	fn := ir.NewFunction("sum", params(ir.TypeI32), []ir.Type{ir.TypeI32})
	b := ir.NewBuilder(fn)
	i := b.Alloca(ir.TypeI32, "i")
	acc := b.Alloca(ir.TypeI32, "acc")
	head := b.AppendBlock("head")
	body := b.AppendBlock("body")
	exit := b.AppendBlock("exit")
	b.Br(head)

	b.SetInsertBlock(head)
	iv := b.Load(ir.TypeI32, i, 4)
	b.CondBr(b.ICmp(ir.PredSLT, iv, fn.Params[2]), body, exit)

	b.SetInsertBlock(body)
	iv = b.Load(ir.TypeI32, i, 4)
	b.Store(b.Binary(ir.OpAdd, b.Load(ir.TypeI32, acc, 4), iv), acc, 4)
	b.Store(b.Binary(ir.OpAdd, iv, ir.ConstI32(1)), i, 4)
	b.Fence(1).Resumable = true
	b.Fence(2)
	b.Br(head)

	b.SetInsertBlock(exit)
	b.Ret(b.Load(ir.TypeI32, acc, 4))
	return fn
}

func TestLoop(t *testing.T) {
	m := New(newModule(sumLoop()))
	got, err := m.Call(context.Background(), "sum", 10)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 45 {
		t.Errorf("got %d, want 45", got[0])
	}
}

func TestFencePause(t *testing.T) {
	fn := sumLoop()
	m := New(newModule(fn))
	fences := 0
	m.OnFence = func(_ *ir.Function, key uint64, depth int) bool {
		if key != 1 {
			t.Errorf("fence %d has no restore case but reached the hook", key)
		}
		fences++
		return fences == 3
	}
	_, err := m.Call(context.Background(), "sum", 10)
	if !stderrors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if fences != 3 {
		t.Errorf("fences = %d", fences)
	}
}

func TestCalls(t *testing.T) {
	callee := ir.NewFunction("double", params(ir.TypeI64), []ir.Type{ir.TypeI64})
	callee.FrameSize = 64
	cb := ir.NewBuilder(callee)
	cb.Store(ir.ConstI64(7), callee.Params[0], 8)
	cb.Ret(cb.Binary(ir.OpMul, callee.Params[2], ir.ConstI64(2)))

	caller := ir.NewFunction("main", params(ir.TypeI64), []ir.Type{ir.TypeI64})
	b := ir.NewBuilder(caller)
	host := b.Call(0, "env.add1", []ir.Type{ir.TypeI64}, caller.Params[1], caller.Params[2])
	res := b.Call(1, "double", []ir.Type{ir.TypeI64}, caller.Params[1], host[0])
	b.Ret(res[0])

	mod := &ir.Module{
		Imports:   []*ir.Import{{Module: "env", Name: "add1", Params: []ir.Type{ir.TypeI64}, Results: []ir.Type{ir.TypeI64}}},
		Functions: []*ir.Function{callee, caller},
	}
	callee.Index, caller.Index = 1, 2
	m := New(mod)
	m.Host[0] = func(_ context.Context, _ *Machine, args []uint64) ([]uint64, error) {
		return []uint64{args[0] + 1}, nil
	}
	got, err := m.Call(context.Background(), "main", 20)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 42 {
		t.Errorf("got %d, want 42", got[0])
	}
	if m.Stack().Mark() != 0 {
		t.Errorf("stack not released: %d", m.Stack().Mark())
	}
}

func TestSwitch(t *testing.T) {
	fn := ir.NewFunction("sw", params(ir.TypeI32), []ir.Type{ir.TypeI32})
	b := ir.NewBuilder(fn)
	def := b.AppendBlock("def")
	one := b.AppendBlock("one")
	sw := b.Switch(fn.Params[2], def)
	b.AddCase(sw, 1, one)
	b.SetInsertBlock(def)
	b.Ret(ir.ConstI32(100))
	b.SetInsertBlock(one)
	b.Ret(ir.ConstI32(1))

	m := New(newModule(fn))
	for _, tc := range []struct{ in, want uint64 }{{1, 1}, {0, 100}, {2, 100}} {
		got, err := m.Call(context.Background(), "sw", tc.in)
		if err != nil {
			t.Fatal(err)
		}
		if got[0] != tc.want {
			t.Errorf("switch(%d) = %d, want %d", tc.in, got[0], tc.want)
		}
	}
}

func TestIntrinsicAndMemory(t *testing.T) {
	fn := ir.NewFunction("grow", params(), []ir.Type{ir.TypeI32})
	b := ir.NewBuilder(fn)
	r := b.Intrinsic("memory.grow", []ir.Type{ir.TypeI32}, fn.Params[1], ir.ConstI32(1))
	b.Ret(r[0])

	m := New(newModule(fn))
	mem := m.Map(make([]byte, 16), 64)
	m.Intrinsics["memory.grow"] = func(_ context.Context, m *Machine, args []Bits) ([]Bits, error) {
		old, ok := mem.Grow(args[1][0] * 16)
		if !ok {
			return []Bits{{math.MaxUint32}}, nil
		}
		return []Bits{{old / 16}}, nil
	}
	got, err := m.Call(context.Background(), "grow")
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 || mem.Size() != 32 {
		t.Errorf("grow = %d, size = %d", got[0], mem.Size())
	}
	if err := mem.WriteU32(28, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	if v, _ := mem.ReadU16(30); v != 0xdead {
		t.Errorf("ReadU16 = %#x", v)
	}
	if _, err := mem.ReadU64(28); !stderrors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected out of bounds, got %v", err)
	}
}

func TestAtomics(t *testing.T) {
	fn := ir.NewFunction("rmw", params(ir.TypePtr), []ir.Type{ir.TypeI32})
	b := ir.NewBuilder(fn)
	old := b.AtomicRMW(ir.RMWAdd, fn.Params[2], ir.ConstI32(5), 4)
	b.Cmpxchg(fn.Params[2], ir.ConstI32(15), ir.ConstI32(99), 4)
	b.Ret(old)

	m := New(newModule(fn))
	cell := m.Map(make([]byte, 8), 8)
	_ = cell.WriteU32(0, 10)
	got, err := m.Call(context.Background(), "rmw", cell.Base())
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 10 {
		t.Errorf("old = %d", got[0])
	}
	if v, _ := cell.ReadU32(0); v != 99 {
		t.Errorf("cell = %d, want 99", v)
	}

	_, err = m.Call(context.Background(), "rmw", cell.Base()+2)
	var te *TrapError
	if !stderrors.As(err, &te) || te.Code != ir.TrapUnalignedAtomic {
		t.Errorf("expected unaligned trap, got %v", err)
	}
}

func TestVector(t *testing.T) {
	fn := ir.NewFunction("vec", params(ir.TypeI32), []ir.Type{ir.TypeI32})
	b := ir.NewBuilder(fn)
	s := b.Vector("i32x4.splat", ir.TypeV128, 0, fn.Params[2])
	s = b.Vector("i32x4.replace_lane", ir.TypeV128, 2, s, ir.ConstI32(10))
	sum := b.Vector("i32x4.add", ir.TypeV128, 0, s, s)
	b.Ret(b.Vector("i32x4.extract_lane", ir.TypeI32, 2, sum))

	got, err := New(newModule(fn)).Call(context.Background(), "vec", 3)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 20 {
		t.Errorf("got %d, want 20", got[0])
	}
}

func TestStackDepth(t *testing.T) {
	fn := ir.NewFunction("rec", params(), nil)
	fn.FrameSize = 16
	b := ir.NewBuilder(fn)
	b.Call(0, "rec", nil, fn.Params[1])
	b.Ret()
	m := New(newModule(fn))
	m.MaxDepth = 50
	_, err := m.Call(context.Background(), "rec")
	var te *TrapError
	if !stderrors.As(err, &te) || te.Code != ir.TrapStackOverflow {
		t.Fatalf("expected stack overflow, got %v", err)
	}
}
