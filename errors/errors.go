package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in the pipeline the error occurred
type Phase string

const (
	PhaseDecode   Phase = "decode"   // binary / bytecode decoding
	PhaseValidate Phase = "validate" // pre-translation validation
	PhaseCompile  Phase = "compile"  // bytecode to IR translation
	PhaseLoad     Phase = "load"     // side-car inputs (PGO table)
	PhaseRuntime  Phase = "runtime"  // IR evaluation
	PhaseHost     Phase = "host"     // host function registration
)

// Kind categorizes the error
type Kind string

const (
	KindTruncated    Kind = "truncated"
	KindOverlong     Kind = "overlong"
	KindInvalidData  Kind = "invalid_data"
	KindUnsupported  Kind = "unsupported"
	KindAllocation   Kind = "allocation"
	KindInternal     Kind = "internal"
	KindNotFound     Kind = "not_found"
	KindTrap         Kind = "trap"
	KindInvalidInput Kind = "invalid_input"
	KindTypeMismatch Kind = "type_mismatch"
)

// NoFunc marks an error that is not attached to a function.
const NoFunc = -1

// Error is the structured error type used throughout the compiler
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Opcode string
	Detail string
	Func   int
	Offset int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Func >= 0 {
		fmt.Fprintf(&b, " in func %d", e.Func)
		if e.Offset >= 0 {
			fmt.Fprintf(&b, " at +%#x", e.Offset)
		}
	} else if e.Offset >= 0 {
		fmt.Fprintf(&b, " at %#x", e.Offset)
	}

	if e.Opcode != "" {
		b.WriteString(" (")
		b.WriteString(e.Opcode)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase:  phase,
			Kind:   kind,
			Func:   NoFunc,
			Offset: -1,
		},
	}
}

// Func attaches the function index
func (b *Builder) Func(idx uint32) *Builder {
	b.err.Func = int(idx)
	return b
}

// Offset attaches the bytecode offset
func (b *Builder) Offset(off int) *Builder {
	b.err.Offset = off
	return b
}

// Opcode attaches the mnemonic of the offending instruction
func (b *Builder) Opcode(name string) *Builder {
	b.err.Opcode = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Unsupported creates an unsupported feature or opcode error
func Unsupported(phase Phase, what string) *Error {
	return New(phase, KindUnsupported).Detail("%s", what).Build()
}

// InvalidData creates an invalid input error
func InvalidData(phase Phase, format string, args ...any) *Error {
	return New(phase, KindInvalidData).Detail(format, args...).Build()
}

// InvalidInput creates an error for a bad argument supplied by the caller
func InvalidInput(phase Phase, format string, args ...any) *Error {
	return New(phase, KindInvalidInput).Detail(format, args...).Build()
}

// Internal creates an implementation defect error. Callers treat it as fatal.
func Internal(phase Phase, format string, args ...any) *Error {
	return New(phase, KindInternal).Detail(format, args...).Build()
}

// AllocationFailed creates a resource exhaustion error
func AllocationFailed(phase Phase, what string, size uint64) *Error {
	return New(phase, KindAllocation).
		Detail("allocate %s failed (%d bytes)", what, size).
		Build()
}

// Wrap wraps an error with phase and kind context
func Wrap(err error, phase Phase, kind Kind, detail string) *Error {
	return New(phase, kind).Cause(err).Detail("%s", detail).Build()
}

// IsInternal reports whether err carries an implementation defect.
func IsInternal(err error) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind == KindInternal {
				return true
			}
			err = e.Cause
			continue
		}
		return false
	}
	return false
}

// KindOf returns the kind of the outermost structured error, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
