package compiler

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-aot/compiler/internal/checkpoint"
	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/compiler/internal/handler"
	"github.com/wippyai/wasm-aot/compiler/internal/pgo"
	"github.com/wippyai/wasm-aot/compiler/internal/validate"
	"github.com/wippyai/wasm-aot/errors"
)

// Mode selects how instruction pointers are persisted and which native
// frame layout the emitted code writes.
type Mode uint8

const (
	// ModeAOT stores instruction offsets relative to the function's
	// expression and uses the AOT frame layout.
	ModeAOT Mode = iota
	// ModeJIT stores absolute code addresses and uses the interpreter
	// frame layout, so an interpreter can pick up a paused frame.
	ModeJIT
)

func (m Mode) String() string {
	if m == ModeJIT {
		return "jit"
	}
	return "aot"
}

// LoopSite names a loop whose checkpoint is suppressed: the defined
// function index and the offset just past the first opcode of its body.
type LoopSite = pgo.Site

// Options configures a compilation.
type Options struct {
	// PGOSites replaces the side-car skip table when non-nil.
	PGOSites []LoopSite
	// ArtifactName is the output name; the PGO table is read from
	// ArtifactName + ".pgo".
	ArtifactName string
	// CodeBase is the address the module binary is mapped at in JIT mode.
	CodeBase uint64

	Mode        Mode
	PointerSize int
	Parallelism int

	// Checkpoint enables call checkpoints and the restore dispatch. The
	// other checkpoint kinds imply it.
	Checkpoint            bool
	EveryCheckpoint       bool
	LoopCheckpoint        bool
	CounterLoopCheckpoint bool
	BrCheckpoint          bool
	AuxStackDirtyBit      bool
	PGO                   bool

	EnableSIMD       bool
	EnableRefTypes   bool
	EnableBulkMemory bool
	EnableTailCall   bool
	EnableThreads    bool

	// Experiments that weaken the protocol for non-call checkpoints.
	DisableCommitSpIp             bool
	DisableRestoreJump            bool
	DisableGenFenceInt3           bool
	DisableStackCommitBeforeBlock bool
	DisableLocalCommit            bool

	SkipValidation bool
	BoundsChecks   bool
}

// DefaultOptions returns AOT, 64-bit options with call checkpoints, bounds
// checks and every post-MVP proposal the compiler lowers.
func DefaultOptions() Options {
	return Options{
		Mode:             ModeAOT,
		PointerSize:      8,
		Checkpoint:       true,
		EnableRefTypes:   true,
		EnableBulkMemory: true,
		BoundsChecks:     true,
	}
}

// Validate reports contradictory settings.
func (o *Options) Validate() error {
	if o.PointerSize != 0 && o.PointerSize != 4 && o.PointerSize != 8 {
		return errors.InvalidData(errors.PhaseCompile, "pointer size %d, want 4 or 8", o.PointerSize)
	}
	if o.CounterLoopCheckpoint && !o.LoopCheckpoint {
		return errors.InvalidData(errors.PhaseCompile, "counter loop checkpoints require loop checkpoints")
	}
	if o.PGO && !o.LoopCheckpoint {
		return errors.InvalidData(errors.PhaseCompile, "PGO skip table requires loop checkpoints")
	}
	if o.PGO && o.PGOSites == nil && o.ArtifactName == "" {
		return errors.InvalidData(errors.PhaseCompile, "PGO skip table requires an artifact name")
	}
	if o.Parallelism < 0 {
		return errors.InvalidData(errors.PhaseCompile, "negative parallelism %d", o.Parallelism)
	}
	return nil
}

func (o *Options) pointerSize() int {
	if o.PointerSize == 0 {
		return 8
	}
	return o.PointerSize
}

// checkpointing reports whether functions carry the restore dispatch.
func (o *Options) checkpointing() bool {
	return o.Checkpoint || o.EveryCheckpoint || o.LoopCheckpoint || o.BrCheckpoint
}

// eagerLocals reports whether local.set and local.tee commit the local
// right away.
func (o *Options) eagerLocals() bool {
	return o.AuxStackDirtyBit || (o.LoopCheckpoint && !o.CounterLoopCheckpoint)
}

func (o *Options) features() handler.Features {
	return handler.Features{
		SIMD:       o.EnableSIMD,
		RefTypes:   o.EnableRefTypes,
		BulkMemory: o.EnableBulkMemory,
		Threads:    o.EnableThreads,
		TailCall:   o.EnableTailCall,
	}
}

// CoreFeatures returns the wazero feature set that accepts exactly the
// proposals the options enable.
func (o *Options) CoreFeatures() api.CoreFeatures {
	return validate.CoreFeatures(o.features())
}

func (o *Options) layout() (frame.Layout, error) {
	l, err := frame.LayoutFor(o.Mode == ModeJIT, o.pointerSize())
	if err != nil {
		return frame.Layout{}, errors.Wrap(err, errors.PhaseCompile, errors.KindInvalidData, "frame layout")
	}
	return l, nil
}

func (o *Options) engineConfig(l frame.Layout, codeBase uint64) checkpoint.Config {
	return checkpoint.Config{
		Layout:                        l,
		CodeBase:                      codeBase,
		JIT:                           o.Mode == ModeJIT,
		AuxDirtyBit:                   o.AuxStackDirtyBit,
		DisableCommitSpIp:             o.DisableCommitSpIp,
		DisableRestoreJump:            o.DisableRestoreJump,
		DisableFence:                  o.DisableGenFenceInt3,
		DisableStackCommitBeforeBlock: o.DisableStackCommitBeforeBlock,
		DisableLocalCommit:            o.DisableLocalCommit,
	}
}

// skipTable returns the PGO table for this compilation, nil when loop
// checkpoints are not filtered.
func (o *Options) skipTable() (*pgo.Table, error) {
	if !o.PGO {
		return nil, nil
	}
	if o.PGOSites != nil {
		return pgo.New(o.PGOSites...), nil
	}
	return pgo.Load(o.ArtifactName)
}
