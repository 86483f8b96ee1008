// Package errors provides structured error types for the compiler.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the function index, bytecode offset and opcode mnemonic
// when they are known, plus a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCompile, errors.KindUnsupported).
//		Func(3).
//		Offset(0x40).
//		Opcode("v128.any_true").
//		Detail("unsupported SIMD opcode").
//		Build()
//
// Input and resource errors are recoverable: translation of the current
// module is abandoned and the error is returned. Errors of KindInternal
// mark implementation defects; IsInternal lets the driver treat them as fatal.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
