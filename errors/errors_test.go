package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: New(PhaseCompile, KindUnsupported).
				Func(3).
				Offset(0x2a).
				Opcode("return_call").
				Detail("tail call is disabled").
				Build(),
			contains: []string{"[compile]", "unsupported", "func 3", "+0x2a", "return_call", "tail call is disabled"},
		},
		{
			name:     "minimal error",
			err:      New(PhaseDecode, KindTruncated).Build(),
			contains: []string{"[decode]", "truncated"},
		},
		{
			name: "error with cause",
			err: New(PhaseLoad, KindInvalidData).
				Detail("bad pgo line").
				Cause(errors.New("underlying error")).
				Build(),
			contains: []string{"[load]", "invalid_data", "bad pgo line", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_NoFuncOmitsLocation(t *testing.T) {
	msg := New(PhaseValidate, KindUnsupported).Detail("multiple tables").Build().Error()
	if strings.Contains(msg, "func") {
		t.Errorf("unexpected function location in %q", msg)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(cause, PhaseDecode, KindInvalidData, "section")
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := Unsupported(PhaseCompile, "SIMD")
	if !errors.Is(err, &Error{Phase: PhaseCompile, Kind: KindUnsupported}) {
		t.Error("expected match on phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseDecode, Kind: KindUnsupported}) {
		t.Error("phase mismatch should not match")
	}
}

func TestIsInternal(t *testing.T) {
	if !IsInternal(Internal(PhaseCompile, "slot type %d", 9)) {
		t.Error("internal error not detected")
	}
	wrapped := fmt.Errorf("compile: %w", Wrap(Internal(PhaseCompile, "x"), PhaseCompile, KindInvalidData, "outer"))
	if !IsInternal(wrapped) {
		t.Error("internal error behind a wrapper not detected")
	}
	if IsInternal(Unsupported(PhaseCompile, "x")) {
		t.Error("unsupported must not be internal")
	}
	if IsInternal(errors.New("plain")) {
		t.Error("plain error must not be internal")
	}
}

func TestDetailKeepsPercent(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{Unsupported(PhaseCompile, "100% of lanes"), "[compile] unsupported: 100% of lanes"},
		{Wrap(errors.New("io"), PhaseLoad, KindNotFound, "open 50%.pgo"), "[load] not_found: open 50%.pgo (caused by: io)"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(fmt.Errorf("x: %w", AllocationFailed(PhaseCompile, "frame", 1<<40))); got != KindAllocation {
		t.Errorf("KindOf = %q, want %q", got, KindAllocation)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}
