package runtime

import (
	"context"
	stderrors "errors"

	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/ir"
	"github.com/wippyai/wasm-aot/ir/eval"
)

// PauseFunc decides whether to suspend at the checkpoint key of function
// fn. key is the instruction offset the checkpoint was placed at.
type PauseFunc func(fn string, key uint64) bool

// PauseEvery pauses at every n-th checkpoint reached.
func PauseEvery(n int) PauseFunc {
	seen := 0
	return func(string, uint64) bool {
		seen++
		return n > 0 && seen%n == 0
	}
}

// PauseAt pauses whenever one of keys is reached.
func PauseAt(keys ...uint64) PauseFunc {
	set := make(map[uint64]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return func(_ string, key uint64) bool { return set[key] }
}

// CallSession is a call that can be suspended at checkpoints of the called
// function and resumed later from its persisted frame. Only checkpoints of
// the top-level function suspend; deeper calls resume by re-entering
// through the caller's call-site checkpoint.
type CallSession struct {
	inst    *Instance
	frame   *eval.Frame
	name    string
	args    []uint64
	results []uint64
	last    uint64
	pauses  int
	done    bool
}

// StartCall prepares a resumable call of the exported function name.
// Nothing runs until the first Step.
func (i *Instance) StartCall(_ context.Context, name string, args ...uint64) (*CallSession, error) {
	idx, err := i.export(name, args)
	if err != nil {
		return nil, err
	}
	fn := i.module.result.Module.Func(idx)
	if fn == nil {
		return nil, errors.Unsupported(errors.PhaseRuntime, "resumable calls of imported functions")
	}
	return &CallSession{
		inst:  i,
		frame: i.machine.NewFrame(fn),
		name:  name,
		args:  append([]uint64(nil), args...),
	}, nil
}

// Step runs the call until it returns or pause accepts a checkpoint. It
// reports whether the call has completed. A nil pause runs to completion.
func (cs *CallSession) Step(ctx context.Context, pause PauseFunc) (bool, error) {
	if cs == nil || cs.frame == nil {
		return false, errors.InvalidInput(errors.PhaseRuntime, "call session is nil")
	}
	if cs.done {
		return true, nil
	}

	m := cs.inst.machine
	prev := m.OnFence
	m.OnFence = func(fn *ir.Function, key uint64, depth int) bool {
		if depth != 0 || pause == nil || !pause(fn.Name, key) {
			return false
		}
		cs.last = key
		return true
	}
	defer func() { m.OnFence = prev }()

	res, err := m.Run(ctx, cs.frame, cs.args...)
	if stderrors.Is(err, eval.ErrPaused) {
		cs.pauses++
		return false, nil
	}
	cs.done = true
	if err != nil {
		return true, err
	}
	cs.results = res
	return true, nil
}

// Run steps the session to completion, pausing wherever pause says, and
// returns the results.
func (cs *CallSession) Run(ctx context.Context, pause PauseFunc) ([]uint64, error) {
	for {
		done, err := cs.Step(ctx, pause)
		if err != nil {
			return nil, err
		}
		if done {
			return cs.results, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// Name returns the called export.
func (cs *CallSession) Name() string { return cs.name }

// Done reports whether the call has returned or failed.
func (cs *CallSession) Done() bool { return cs.done }

// Results returns the results of a completed call.
func (cs *CallSession) Results() []uint64 { return cs.results }

// Pauses returns how many times the call was suspended.
func (cs *CallSession) Pauses() int { return cs.pauses }

// Checkpoint returns the key of the most recent pause.
func (cs *CallSession) Checkpoint() uint64 { return cs.last }

// Snapshot copies the persisted frame.
func (cs *CallSession) Snapshot() []byte {
	return append([]byte(nil), cs.frame.Bytes()...)
}

// Restore replaces the persisted frame with a snapshot taken from a
// session of the same function. The next Step resumes from it.
func (cs *CallSession) Restore(snapshot []byte) error {
	b := cs.frame.Bytes()
	if len(snapshot) != len(b) {
		return errors.InvalidInput(errors.PhaseRuntime, "snapshot has %d bytes, frame has %d", len(snapshot), len(b))
	}
	copy(b, snapshot)
	cs.done = false
	cs.results = nil
	return nil
}
