package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a run engine failure.
type ErrorClass string

const (
	// ErrorClassNotFound indicates an unknown run, environment, fire or time index.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassInvalidInput indicates an argument outside its allowed range.
	// Examples: a spread probability above 1, a non-positive step count.
	ErrorClassInvalidInput ErrorClass = "invalid_input"

	// ErrorClassShapeMismatch indicates grid dimensions or series lengths that disagree.
	ErrorClassShapeMismatch ErrorClass = "shape_mismatch"

	// ErrorClassIntegrityFault indicates a broken internal invariant.
	// Examples: an append returning an unexpected index, a lost concurrent update.
	ErrorClassIntegrityFault ErrorClass = "integrity_fault"

	// ErrorClassInternal indicates a storage or I/O failure underneath the engine.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the run, manifest or series that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Resource != "" && e.Operation != "":
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	case e.Resource != "":
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	case e.Operation != "":
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// Two engine errors match when class and code agree.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates an error for an unknown identifier.
func NewNotFoundError(message string, err error) *EngineError {
	return newError(ErrorClassNotFound, ErrCodeNotFound, message, err)
}

// NewIndexOutOfRangeError creates a not-found error for a time index outside [0, length).
func NewIndexOutOfRangeError(series string, t, length int) *EngineError {
	return newError(ErrorClassNotFound, ErrCodeIndexOutOfRange,
		fmt.Sprintf("time index %d out of range [0, %d)", t, length), nil).
		WithResource(series).
		WithDetail("t", t).
		WithDetail("length", length)
}

// NewInvalidInputError creates an error for an argument outside its allowed range.
func NewInvalidInputError(message string, err error) *EngineError {
	return newError(ErrorClassInvalidInput, ErrCodeValidation, message, err)
}

// NewShapeMismatchError creates an error for disagreeing dimensions or lengths.
func NewShapeMismatchError(message string, err error) *EngineError {
	return newError(ErrorClassShapeMismatch, ErrCodeShapeMismatch, message, err)
}

// NewIntegrityFaultError creates an error for a broken internal invariant.
func NewIntegrityFaultError(message string, err error) *EngineError {
	return newError(ErrorClassIntegrityFault, ErrCodeIntegrity, message, err)
}

// NewInternalError wraps a storage or I/O failure.
func NewInternalError(message string, err error) *EngineError {
	return newError(ErrorClassInternal, ErrCodeInternal, message, err)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the first EngineError in err's chain,
// or ErrorClassInternal when there is none.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassInternal
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	return hasClass(err, ErrorClassNotFound)
}

// IsInvalidInput returns true if the error is classified as invalid input.
func IsInvalidInput(err error) bool {
	return hasClass(err, ErrorClassInvalidInput)
}

// IsShapeMismatch returns true if the error is classified as a shape mismatch.
func IsShapeMismatch(err error) bool {
	return hasClass(err, ErrorClassShapeMismatch)
}

// IsIntegrityFault returns true if the error is classified as an integrity fault.
func IsIntegrityFault(err error) bool {
	return hasClass(err, ErrorClassIntegrityFault)
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeIndexOutOfRange = "INDEX_OUT_OF_RANGE"
	ErrCodeShapeMismatch   = "SHAPE_MISMATCH"
	ErrCodeIntegrity       = "INTEGRITY_FAULT"
	ErrCodeConflict        = "CONFLICT"
	ErrCodePolicyDenied    = "POLICY_DENIED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)
