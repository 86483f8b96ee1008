package runtime

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/wippyai/wasm-aot/compiler"
	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/internal/wasmtest"
	"github.com/wippyai/wasm-aot/wasm"
)

func loopOptions() compiler.Options {
	opts := compiler.DefaultOptions()
	opts.LoopCheckpoint = true
	return opts
}

// sumModule exports sum(n) = 0 + 1 + ... + n computed by a loop whose
// checkpoint sits at offset 3.
func sumModule() []byte {
	b := wasmtest.New()
	b.Func("sum", i32, i32, i32x(2),
		wasmtest.Code(wasm.OpLoop, 0x40,
			wasm.OpLocalGet, 1, wasm.OpLocalGet, 2, wasm.OpI32Add, wasm.OpLocalSet, 1,
			wasm.OpLocalGet, 2), wasmtest.I32(1), wasmtest.Code(wasm.OpI32Add, wasm.OpLocalTee, 2,
			wasm.OpLocalGet, 0, wasm.OpI32LeS, wasm.OpBrIf, 0,
			wasm.OpEnd, wasm.OpLocalGet, 1))
	return b.Bytes()
}

const sumSite = 3

func TestPauseFuncs(t *testing.T) {
	every := PauseEvery(3)
	var got []bool
	for i := 0; i < 6; i++ {
		got = append(got, every("f", 0))
	}
	want := []bool{false, false, true, false, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("PauseEvery(3) = %v, want %v", got, want)
		}
	}
	if PauseEvery(0)("f", 0) {
		t.Error("PauseEvery(0) paused")
	}

	at := PauseAt(3, 7)
	if !at("f", 3) || !at("f", 7) || at("f", 5) {
		t.Error("PauseAt(3, 7) matched the wrong keys")
	}
}

func TestCallSession_PauseResume(t *testing.T) {
	inst := instantiate(t, loopOptions(), sumModule(), nil)
	ctx := context.Background()

	if got := call1(t, inst, "sum", 10); got != 55 {
		t.Fatalf("sum(10) = %d, want 55", got)
	}

	tests := []struct {
		name   string
		pause  PauseFunc
		pauses int
	}{
		{"never", nil, 0},
		{"every checkpoint", PauseEvery(1), 11},
		{"every fourth", PauseEvery(4), 2},
		{"at loop header", PauseAt(sumSite), 11},
		{"unknown key", PauseAt(99), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := inst.StartCall(ctx, "sum", 10)
			if err != nil {
				t.Fatal(err)
			}
			res, err := cs.Run(ctx, tt.pause)
			if err != nil {
				t.Fatal(err)
			}
			if len(res) != 1 || res[0] != 55 {
				t.Errorf("results = %v, want [55]", res)
			}
			if cs.Pauses() != tt.pauses {
				t.Errorf("pauses = %d, want %d", cs.Pauses(), tt.pauses)
			}
			if !cs.Done() {
				t.Error("session not done after Run")
			}
		})
	}
}

// runPaused runs sum(10) in a session that asks to pause at every fence
// and returns the number of pauses.
func runPaused(t *testing.T, opts compiler.Options) int {
	t.Helper()
	inst := instantiate(t, opts, sumModule(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cs, err := inst.StartCall(ctx, "sum", 10)
	if err != nil {
		t.Fatal(err)
	}
	res, err := cs.Run(ctx, PauseEvery(1))
	if err != nil {
		t.Fatalf("Run: %v after %d pauses, last at %d", err, cs.Pauses(), cs.Checkpoint())
	}
	if res[0] != 55 {
		t.Errorf("sum(10) = %d, want 55", res[0])
	}
	return cs.Pauses()
}

func TestCallSession_FencesWithoutRestoreCase(t *testing.T) {
	loops := runPaused(t, loopOptions())

	tests := []struct {
		name   string
		mutate func(*compiler.Options)
		pauses int
	}{
		{"branch checkpoints", func(o *compiler.Options) {
			o.LoopCheckpoint = false
			o.BrCheckpoint = true
		}, 0},
		{"loop and branch checkpoints", func(o *compiler.Options) { o.BrCheckpoint = true }, loops},
		{"aux dirty bit with branches", func(o *compiler.Options) {
			o.BrCheckpoint = true
			o.AuxStackDirtyBit = true
		}, loops},
		{"loop without restore jump", func(o *compiler.Options) { o.DisableRestoreJump = true }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := loopOptions()
			tt.mutate(&opts)
			if got := runPaused(t, opts); got != tt.pauses {
				t.Errorf("pauses = %d, want %d", got, tt.pauses)
			}
		})
	}
}

func TestCallSession_Step(t *testing.T) {
	inst := instantiate(t, loopOptions(), sumModule(), nil)
	ctx := context.Background()

	cs, err := inst.StartCall(ctx, "sum", 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		done, err := cs.Step(ctx, PauseEvery(1))
		if err != nil {
			t.Fatal(err)
		}
		if done {
			t.Fatalf("done after %d steps, want 4 pauses first", i+1)
		}
		if cs.Checkpoint() != sumSite {
			t.Errorf("checkpoint = %d, want %d", cs.Checkpoint(), sumSite)
		}
	}
	done, err := cs.Step(ctx, PauseEvery(1))
	if err != nil || !done {
		t.Fatalf("fifth step: done=%v err=%v", done, err)
	}
	if r := cs.Results(); len(r) != 1 || r[0] != 6 {
		t.Errorf("results = %v, want [6]", r)
	}
	if done, err := cs.Step(ctx, PauseEvery(1)); !done || err != nil {
		t.Errorf("step after completion: done=%v err=%v", done, err)
	}
}

func TestCallSession_PlainCallIgnoresFences(t *testing.T) {
	inst := instantiate(t, loopOptions(), sumModule(), nil)
	ctx := context.Background()

	cs, err := inst.StartCall(ctx, "sum", 4)
	if err != nil {
		t.Fatal(err)
	}
	if done, err := cs.Step(ctx, PauseEvery(1)); done || err != nil {
		t.Fatalf("first step: done=%v err=%v", done, err)
	}
	// A plain call on the same instance must not be suspended by the
	// paused session.
	if got := call1(t, inst, "sum", 4); got != 10 {
		t.Errorf("sum(4) = %d, want 10", got)
	}
	res, err := cs.Run(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 10 {
		t.Errorf("resumed sum(4) = %d, want 10", res[0])
	}
}

func TestCallSession_SnapshotRestore(t *testing.T) {
	inst := instantiate(t, loopOptions(), sumModule(), nil)
	ctx := context.Background()

	cs, err := inst.StartCall(ctx, "sum", 10)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := cs.Step(ctx, PauseAt(sumSite)); err != nil {
			t.Fatal(err)
		}
	}
	snap := cs.Snapshot()

	// AOT 64-bit frame: ip at 32, cells from 56. Cell 0 is n, cell 1 the
	// accumulator and cell 2 the counter, as of the third loop entry.
	if ip := binary.LittleEndian.Uint64(snap[32:]); ip != sumSite {
		t.Errorf("persisted ip = %d, want %d", ip, sumSite)
	}
	cells := []uint32{10, 1, 2}
	for i, want := range cells {
		if got := binary.LittleEndian.Uint32(snap[56+4*i:]); got != want {
			t.Errorf("cell %d = %d, want %d", i, got, want)
		}
	}

	res, err := cs.Run(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 55 {
		t.Fatalf("sum(10) = %d, want 55", res[0])
	}

	other, err := inst.StartCall(ctx, "sum", 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Restore(snap); err != nil {
		t.Fatal(err)
	}
	res, err = other.Run(ctx, PauseEvery(1))
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 55 {
		t.Errorf("restored sum(10) = %d, want 55", res[0])
	}
	// Resuming at the third loop entry leaves iterations for i = 3..10.
	if other.Pauses() != 8 {
		t.Errorf("restored session paused %d times, want 8", other.Pauses())
	}

	if err := other.Restore(snap[:8]); errors.KindOf(err) != errors.KindInvalidInput {
		t.Errorf("short snapshot: error = %v", err)
	}
}

func TestCallSession_I64LocalSpansTwoCells(t *testing.T) {
	const inc = 0x100000001
	b := wasmtest.New()
	b.Func("count", nil, i64, i64,
		wasmtest.Code(wasm.OpLoop, 0x40, wasm.OpLocalGet, 0), wasmtest.I64(inc),
		wasmtest.Code(wasm.OpI64Add, wasm.OpLocalTee, 0), wasmtest.I64(10*inc),
		wasmtest.Code(wasm.OpI64LtU, wasm.OpBrIf, 0, wasm.OpEnd, wasm.OpLocalGet, 0))
	inst := instantiate(t, loopOptions(), b.Bytes(), nil)
	ctx := context.Background()

	cs, err := inst.StartCall(ctx, "count")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := cs.Step(ctx, PauseEvery(1)); err != nil {
			t.Fatal(err)
		}
	}
	snap := cs.Snapshot()
	lo := binary.LittleEndian.Uint32(snap[56:])
	hi := binary.LittleEndian.Uint32(snap[60:])
	if lo != 3 || hi != 3 {
		t.Errorf("cells 0 and 1 = %d, %d, want 3, 3", lo, hi)
	}

	res, err := cs.Run(ctx, PauseEvery(1))
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 10*inc {
		t.Errorf("count() = %#x, want %#x", res[0], uint64(10*inc))
	}
	if cs.Pauses() != 10 {
		t.Errorf("pauses = %d, want 10", cs.Pauses())
	}
}

func TestCallSession_EveryCheckpoint(t *testing.T) {
	opts := compiler.DefaultOptions()
	opts.EveryCheckpoint = true

	b := wasmtest.New()
	fact := b.Func("fact", i32, i32, nil,
		wasmtest.Code(wasm.OpLocalGet, 0), wasmtest.I32(1),
		wasmtest.Code(wasm.OpI32LeS, wasm.OpIf, wasm.ValI32), wasmtest.I32(1),
		wasmtest.Code(wasm.OpElse, wasm.OpLocalGet, 0, wasm.OpLocalGet, 0), wasmtest.I32(1),
		wasmtest.Code(wasm.OpI32Sub, wasm.OpCall, uint32(0), wasm.OpI32Mul, wasm.OpEnd))
	if fact != 0 {
		t.Fatalf("fact has index %d", fact)
	}
	b.Func("poly", i32x(2), i32, nil,
		wasmtest.Code(wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpI32Add,
			wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpI32Sub, wasm.OpI32Mul))
	inst := instantiate(t, opts, b.Bytes(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		args []uint64
		want uint64
	}{
		{"fact", []uint64{5}, 120},
		{"fact", []uint64{1}, 1},
		{"poly", []uint64{7, 3}, 40},
	}
	for _, tt := range tests {
		direct := call1(t, inst, tt.name, tt.args...)
		if direct != tt.want {
			t.Fatalf("%s%v = %d, want %d", tt.name, tt.args, direct, tt.want)
		}
		cs, err := inst.StartCall(ctx, tt.name, tt.args...)
		if err != nil {
			t.Fatal(err)
		}
		res, err := cs.Run(ctx, PauseEvery(1))
		if err != nil {
			t.Fatal(err)
		}
		if res[0] != direct {
			t.Errorf("%s%v paused at every checkpoint = %d, want %d", tt.name, tt.args, res[0], direct)
		}
		if cs.Pauses() == 0 {
			t.Errorf("%s%v never paused", tt.name, tt.args)
		}
	}
}

func TestStartCall_Errors(t *testing.T) {
	h := &mathHost{}
	inst := instantiate(t, loopOptions(), hostModule(), registerHosts(t, h))
	ctx := context.Background()

	if _, err := inst.StartCall(ctx, "nope"); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("unknown export: %v", err)
	}
	if _, err := inst.StartCall(ctx, "calc"); errors.KindOf(err) != errors.KindInvalidInput {
		t.Errorf("missing argument: %v", err)
	}
	var cs *CallSession
	if _, err := cs.Step(ctx, nil); errors.KindOf(err) != errors.KindInvalidInput {
		t.Errorf("nil session: %v", err)
	}
}
