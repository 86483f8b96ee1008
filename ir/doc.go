// Package ir is a small typed SSA-style IR with explicit basic blocks.
//
// Functions are built with a Builder positioned at an insert block.
// Values are immutable; mutable state lives in allocas and is accessed
// through Load and Store. Control flow uses Br, CondBr and Switch; there
// are no phi nodes.
//
//	fn := ir.NewFunction("add", []ir.Type{ir.TypePtr, ir.TypePtr, ir.TypeI32, ir.TypeI32}, []ir.Type{ir.TypeI32})
//	b := ir.NewBuilder(fn)
//	sum := b.Binary(ir.OpAdd, fn.Params[2], fn.Params[3])
//	b.Ret(sum)
//	fmt.Print(fn.Format())
//
// Format produces a stable textual form used in tests and by the ckptc
// command. Verify checks block structure.
package ir
