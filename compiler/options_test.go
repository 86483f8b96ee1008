package compiler

import (
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-aot/compiler/internal/frame"
	"github.com/wippyai/wasm-aot/compiler/internal/pgo"
)

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"defaults", func(o *Options) {}, false},
		{"pointer size 4", func(o *Options) { o.PointerSize = 4 }, false},
		{"pointer size 2", func(o *Options) { o.PointerSize = 2 }, true},
		{"counter without loop", func(o *Options) { o.CounterLoopCheckpoint = true }, true},
		{"counter with loop", func(o *Options) {
			o.LoopCheckpoint = true
			o.CounterLoopCheckpoint = true
		}, false},
		{"pgo without loop", func(o *Options) {
			o.PGO = true
			o.ArtifactName = "out"
		}, true},
		{"pgo without artifact", func(o *Options) {
			o.PGO = true
			o.LoopCheckpoint = true
		}, true},
		{"pgo with sites", func(o *Options) {
			o.PGO = true
			o.LoopCheckpoint = true
			o.PGOSites = []LoopSite{}
		}, false},
		{"negative parallelism", func(o *Options) { o.Parallelism = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			err := o.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOptions_Protocol(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Options)
		checkpoints bool
		eager       bool
	}{
		{"none", func(o *Options) { o.Checkpoint = false }, false, false},
		{"calls", func(o *Options) {}, true, false},
		{"loops", func(o *Options) { o.Checkpoint, o.LoopCheckpoint = false, true }, true, true},
		{"sampled loops", func(o *Options) {
			o.LoopCheckpoint = true
			o.CounterLoopCheckpoint = true
		}, true, false},
		{"every", func(o *Options) { o.Checkpoint, o.EveryCheckpoint = false, true }, true, false},
		{"branches", func(o *Options) { o.Checkpoint, o.BrCheckpoint = false, true }, true, false},
		{"aux dirty bit", func(o *Options) { o.AuxStackDirtyBit = true }, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			if got := o.checkpointing(); got != tt.checkpoints {
				t.Errorf("checkpointing() = %v, want %v", got, tt.checkpoints)
			}
			if got := o.eagerLocals(); got != tt.eager {
				t.Errorf("eagerLocals() = %v, want %v", got, tt.eager)
			}
		})
	}
}

func TestOptions_Layout(t *testing.T) {
	tests := []struct {
		mode Mode
		ptr  int
		want frame.Layout
	}{
		{ModeAOT, 0, frame.AOTFrame64},
		{ModeAOT, 8, frame.AOTFrame64},
		{ModeAOT, 4, frame.AOTFrame32},
		{ModeJIT, 8, frame.InterpFrame64},
		{ModeJIT, 4, frame.InterpFrame32},
	}
	for _, tt := range tests {
		o := Options{Mode: tt.mode, PointerSize: tt.ptr}
		l, err := o.layout()
		if err != nil {
			t.Fatalf("%s/%d: %v", tt.mode, tt.ptr, err)
		}
		if l != tt.want {
			t.Errorf("%s/%d: layout %s, want %s", tt.mode, tt.ptr, l.Name, tt.want.Name)
		}
	}
}

func TestOptions_EngineConfig(t *testing.T) {
	o := DefaultOptions()
	o.Mode = ModeJIT
	o.AuxStackDirtyBit = true
	o.DisableCommitSpIp = true
	o.DisableRestoreJump = true
	o.DisableGenFenceInt3 = true
	o.DisableStackCommitBeforeBlock = true
	o.DisableLocalCommit = true

	cfg := o.engineConfig(frame.InterpFrame64, 0x4000)
	if !cfg.JIT || cfg.CodeBase != 0x4000 || cfg.Layout != frame.InterpFrame64 {
		t.Errorf("mode settings not carried: %+v", cfg)
	}
	if !cfg.AuxDirtyBit || !cfg.DisableCommitSpIp || !cfg.DisableRestoreJump || !cfg.DisableFence ||
		!cfg.DisableStackCommitBeforeBlock || !cfg.DisableLocalCommit {
		t.Errorf("protocol switches not carried: %+v", cfg)
	}
}

func TestOptions_SkipTable(t *testing.T) {
	o := DefaultOptions()
	table, err := o.skipTable()
	if err != nil || table != nil {
		t.Fatalf("skipTable() without PGO = %v, %v", table, err)
	}

	o.PGO = true
	o.LoopCheckpoint = true
	o.PGOSites = []LoopSite{{Func: 3, Offset: 120}}
	table, err = o.skipTable()
	if err != nil {
		t.Fatal(err)
	}
	if !table.Skip(3, 120) || table.Skip(3, 121) || table.Len() != 1 {
		t.Error("explicit sites not honored")
	}

	o.PGOSites = nil
	o.ArtifactName = t.TempDir() + "/missing"
	table, err = o.skipTable()
	if err != nil {
		t.Fatal(err)
	}
	if table.Len() != 0 {
		t.Errorf("missing %s table has %d entries", pgo.Extension, table.Len())
	}
}

func TestOptions_CoreFeatures(t *testing.T) {
	o := DefaultOptions()
	f := o.CoreFeatures()
	if !f.IsEnabled(api.CoreFeatureBulkMemoryOperations) || !f.IsEnabled(api.CoreFeatureReferenceTypes) {
		t.Errorf("defaults lack bulk memory or reference types: %v", f)
	}
	if f.IsEnabled(api.CoreFeatureSIMD) {
		t.Error("SIMD enabled by default")
	}
	o.EnableSIMD = true
	if !o.CoreFeatures().IsEnabled(api.CoreFeatureSIMD) {
		t.Error("EnableSIMD not reflected")
	}
}

func TestMode_String(t *testing.T) {
	if ModeAOT.String() != "aot" || ModeJIT.String() != "jit" {
		t.Errorf("mode names = %s, %s", ModeAOT, ModeJIT)
	}
}
