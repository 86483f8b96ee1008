// Package wasmaot translates WebAssembly functions into a typed IR with
// checkpoint and restore support.
//
// A compiled function mirrors the interpreter's value stack in a native
// frame. At checkpoint sites the live locals and operand stack cells are
// committed to that frame together with the stack pointer and the
// instruction pointer, and a restore block is registered in a switch at
// function entry. Re-invoking the function with the same frame resumes at
// the last checkpoint.
//
// # Architecture Overview
//
//	wasmaot/             Root package with the Memory and Allocator interfaces
//	├── wasm/            Module model, opcodes, LEB128, binary decode/encode
//	├── ir/              Typed IR, builder, text format and verifier
//	│   └── eval/        Reference evaluator for IR functions
//	├── compiler/        Options, Compile, per-function translation
//	│   └── internal/
//	│       ├── frame/       Shadow frame (value slots, cursor, dirty sets)
//	│       ├── checkpoint/  Commit/restore engine and checkpoint injector
//	│       ├── handler/     Per-opcode emission tables
//	│       ├── pgo/         Loop checkpoint skip table
//	│       └── validate/    Pre-translation validation (wazero)
//	├── runtime/         Host functions, instances, resumable call sessions
//	├── errors/          Structured error types
//	├── internal/wasmtest/  Module builder for tests
//	└── cmd/ckptc/       Command line compiler and runner
//
// # Quick Start
//
//	opts := compiler.DefaultOptions()
//	opts.LoopCheckpoint = true
//	res, err := compiler.Compile(ctx, data, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(res.Module.Format())
//
// # Resuming
//
// The runtime package runs compiled functions against a persistent frame:
//
//	rt, _ := runtime.New(opts)
//	mod, _ := rt.Load(ctx, data)
//	inst, _ := mod.Instantiate(ctx)
//	cs, _ := inst.StartCall(ctx, "sum", 100)
//	paused, err := cs.Step(ctx, runtime.PauseEvery(10))
//	snapshot := cs.Snapshot()
//	// later, in another session of the same export
//	_ = other.Restore(snapshot)
//	results, err := other.Run(ctx, nil)
package wasmaot
