// Package runtime compiles core WebAssembly modules with checkpoint
// support and runs them on the IR evaluator.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(compiler.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Compile a module
//	mod, err := rt.Load(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create an instance
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Call exported functions
//	results, err := inst.Call(ctx, "add", 1, 2)
//	fmt.Println(results) // [3]
//
// Arguments and results are raw WebAssembly values: i32 in the low 32
// bits, floats as their IEEE bit patterns, references as the function
// index plus one with 0 for null.
//
// # Host Functions
//
// Imports are satisfied by Go functions registered before Instantiate:
//
//	// A typed function; its signature must match the import
//	rt.RegisterFunc("env", "log_i32", func(ctx context.Context, v int32) {
//	    fmt.Println(v)
//	})
//
//	// A raw function accepting any signature
//	rt.RegisterFunc("env", "peek", runtime.HostFunc(
//	    func(ctx context.Context, mem wasmaot.Memory, args []uint64) ([]uint64, error) {
//	        v, err := mem.ReadU32(args[0])
//	        return []uint64{uint64(v)}, err
//	    }))
//
//	// Or implement the Host interface for a full namespace
//	rt.RegisterHost(myEnv)
//
// # Suspending Calls
//
// A CallSession runs an export until a checkpoint chosen by a PauseFunc
// and resumes it later from the persisted frame:
//
//	cs, _ := inst.StartCall(ctx, "count", 1000)
//	for {
//	    done, err := cs.Step(ctx, runtime.PauseEvery(100))
//	    if err != nil || done {
//	        break
//	    }
//	    // the instance is idle here; memory and frame are consistent
//	}
//	fmt.Println(cs.Results())
//
// Only modules compiled with checkpoints and fences pause. A session can
// Snapshot its frame and Restore it into another session of the same
// function on the same instance.
//
// # Reference Runs
//
// Module.Reference runs an export on wazero's interpreter with the same
// host functions, which is how compiled results are cross-checked.
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. You can call
// Module.Instantiate() from multiple goroutines concurrently.
//
// Instance is NOT thread-safe. Each goroutine should have its own
// Instance, or access must be synchronized externally.
//
// # Memory
//
// Linear memory can only grow, never shrink. Every call maps a new frame
// region in the evaluator, so long-running services should recycle
// instances periodically.
package runtime
