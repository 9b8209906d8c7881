package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClassHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		class ErrorClass
	}{
		{"not found", NewNotFoundError("run missing", nil), IsNotFound, ErrorClassNotFound},
		{"index out of range", NewIndexOutOfRangeError("state", 5, 3), IsNotFound, ErrorClassNotFound},
		{"invalid input", NewInvalidInputError("bad q", nil), IsInvalidInput, ErrorClassInvalidInput},
		{"shape mismatch", NewShapeMismatchError("lengths differ", nil), IsShapeMismatch, ErrorClassShapeMismatch},
		{"integrity", NewIntegrityFaultError("unexpected index", nil), IsIntegrityFault, ErrorClassIntegrityFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("class helper returned false for %v", tt.err)
			}
			if got := ClassOf(tt.err); got != tt.class {
				t.Errorf("ClassOf() = %s, want %s", got, tt.class)
			}

			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.check(wrapped) {
				t.Errorf("class helper lost classification through wrapping")
			}
		})
	}
}

func TestClassOfPlainError(t *testing.T) {
	if got := ClassOf(errors.New("disk full")); got != ErrorClassInternal {
		t.Errorf("ClassOf(plain) = %s, want %s", got, ErrorClassInternal)
	}
	if IsNotFound(errors.New("x")) {
		t.Error("plain error classified as not found")
	}
}

func TestEngineErrorMessage(t *testing.T) {
	cause := errors.New("sql: no rows")
	err := NewNotFoundError("run not found", cause).
		WithResource("run-1").
		WithOperation("step")

	msg := err.Error()
	for _, want := range []string{"[not_found]", "run not found", "resource=run-1", "operation=step", "sql: no rows"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find the underlying cause")
	}
}

func TestEngineErrorIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewIndexOutOfRangeError("belief", -1, 4))

	if !errors.Is(err, &EngineError{Class: ErrorClassNotFound, Code: ErrCodeIndexOutOfRange}) {
		t.Error("expected index error to match class and code")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassNotFound, Code: ErrCodeNotFound}) {
		t.Error("index error should not match plain not-found code")
	}
}

func TestIndexOutOfRangeDetails(t *testing.T) {
	err := NewIndexOutOfRangeError("state", 7, 3)
	if err.Resource != "state" {
		t.Errorf("Resource = %q, want state", err.Resource)
	}
	if err.Details["t"] != 7 || err.Details["length"] != 3 {
		t.Errorf("unexpected details: %v", err.Details)
	}
}
