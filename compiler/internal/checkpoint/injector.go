package checkpoint

import (
	"fmt"

	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/ir"
)

// Kind says why a checkpoint is emitted. The experimental Disable switches
// only weaken non-call checkpoints.
type Kind uint8

const (
	KindCall Kind = iota
	KindLoop
	KindBranch
	KindEvery
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindLoop:
		return "loop"
	case KindBranch:
		return "branch"
	case KindEvery:
		return "every"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// CounterMask selects the iterations of a sampled loop that take the
// checkpoint path: those where the counter is a multiple of 2^20.
const CounterMask = 1<<20 - 1

// Injector places checkpoints in a function and maintains its restore
// dispatch. It holds the per-instruction state: at most one checkpoint is
// emitted between two calls to BeginInstr.
type Injector struct {
	*Engine

	dispatch *ir.Instr
	anchor   *ir.Block

	checkpointed bool
	keys         map[uint64]struct{}
	// Sites lists the instruction offsets with a restore case, in
	// emission order.
	Sites []uint64
}

// NewInjector wraps e.
func NewInjector(e *Engine) *Injector {
	return &Injector{Engine: e, keys: make(map[uint64]struct{})}
}

// Prologue loads the persisted ip and emits the restore dispatch at the
// end of the current block. A fresh frame holds ip 0, which never matches
// a case, so execution continues in "restore-no_restore" where the builder
// is left positioned.
func (in *Injector) Prologue() {
	ip := in.LoadIP()
	noRestore := in.B.AppendBlock("restore-no_restore")
	in.dispatch = in.B.Switch(ip, noRestore)
	in.anchor = in.B.InsertBlock()
	in.B.SetInsertBlock(noRestore)
}

// Dispatch returns the restore switch, nil before Prologue.
func (in *Injector) Dispatch() *ir.Instr { return in.dispatch }

// BeginInstr resets the per-instruction state.
func (in *Injector) BeginInstr() { in.checkpointed = false }

// Checkpointed reports whether the current instruction already has a
// checkpoint.
func (in *Injector) Checkpointed() bool { return in.checkpointed }

// Checkpoint emits the full protocol for the instruction at offset: commit
// ip and sp, commit dirty values, emit the fence marker, then register a
// restore block that reloads every value and rejoins the normal path.
// Branch checkpoints stop after the fence and register no restore case.
func (in *Injector) Checkpoint(kind Kind, offset uint64) error {
	if in.checkpointed {
		return nil
	}
	if in.dispatch == nil {
		return errors.Internal(errors.PhaseCompile, "checkpoint at %d before restore dispatch", offset)
	}
	in.checkpointed = true
	weak := kind != KindCall
	resumable := kind != KindBranch && !(weak && in.DisableRestoreJump)

	if !(weak && in.DisableCommitSpIp) {
		in.CommitSPIP(offset)
		if err := in.CommitAll(false); err != nil {
			return err
		}
	}
	if !(weak && in.DisableFence) {
		in.B.Fence(offset).Resumable = resumable
	}
	if kind == KindBranch {
		in.Stats.BranchSites++
	}
	if !resumable {
		return nil
	}

	key := in.EncodeIP(offset)
	if _, dup := in.keys[key]; dup {
		return errors.Internal(errors.PhaseCompile, "duplicate restore key %d", key)
	}
	in.keys[key] = struct{}{}

	restore := in.B.AppendBlock(fmt.Sprintf("restore-%d", offset))
	jump := in.B.AppendBlock(fmt.Sprintf("restore-jump-%d", offset))
	in.B.MoveBlockAfter(restore, in.anchor)
	in.B.MoveBlockAfter(jump, in.B.InsertBlock())

	in.B.Br(jump)
	in.B.AddCase(in.dispatch, key, restore)

	in.B.SetInsertBlock(restore)
	if err := in.RestoreAll(); err != nil {
		return err
	}
	in.B.Br(jump)
	in.B.SetInsertBlock(jump)

	in.Sites = append(in.Sites, offset)
	in.Stats.Sites++
	if kind == KindLoop {
		in.Stats.LoopSites++
	}
	return nil
}

// NewCounter allocates a loop iteration counter. It is zeroed on function
// entry, ahead of the restore dispatch, and again at the current position.
func (in *Injector) NewCounter() *ir.Value {
	c := in.B.AllocaInit(ir.TypeI32, ir.ConstI32(0), "loop counter")
	in.B.Store(ir.ConstI32(0), c, 0)
	return c
}

// CounterCheckpoint increments counter and takes the checkpoint path,
// which commits every local before checkpointing, only on iterations
// where the previous count is a multiple of 2^20. opOffset names the
// blocks after the first loop body opcode; offset keys the checkpoint.
func (in *Injector) CounterCheckpoint(counter *ir.Value, opOffset, offset uint64) error {
	if in.checkpointed {
		return nil
	}
	b := in.B
	old := b.Load(ir.TypeI32, counter, 0)
	b.Store(b.Binary(ir.OpAdd, old, ir.ConstI32(1)), counter, 0)

	ckpt := b.AppendBlock(fmt.Sprintf("loop-ckpt-%d", opOffset))
	b.MoveBlockAfter(ckpt, b.InsertBlock())
	normal := b.AppendBlock(fmt.Sprintf("loop-normal-%d", opOffset))

	masked := b.Binary(ir.OpAnd, old, ir.ConstI32(CounterMask))
	b.CondBr(b.ICmp(ir.PredEQ, masked, ir.ConstI32(0)), ckpt, normal)

	b.SetInsertBlock(ckpt)
	if err := in.CommitAllLocals(); err != nil {
		return err
	}
	if err := in.Checkpoint(KindLoop, offset); err != nil {
		return err
	}
	b.Br(normal)
	b.MoveBlockAfter(normal, b.InsertBlock())
	b.SetInsertBlock(normal)
	return nil
}
