package screenflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownThread is returned when advancing or resuming a thread that
	// was never started.
	ErrUnknownThread = errors.New("unknown thread")

	// ErrThreadNotSuspended is returned when a resume value is supplied for
	// a thread that is not waiting for one. The thread is left untouched.
	ErrThreadNotSuspended = errors.New("thread is not suspended")

	// ErrStillSuspended is returned when a suspended thread is advanced
	// without a resume value.
	ErrStillSuspended = errors.New("thread is suspended")

	// ErrStoreUnavailable wraps checkpoint and record store I/O failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrSequenceConflict is returned by Checkpointer.Append when another
	// writer appended first.
	ErrSequenceConflict = errors.New("checkpoint sequence conflict")

	// ErrNoResumeValue is returned when decoding a resume value that was not
	// supplied.
	ErrNoResumeValue = errors.New("has no resume value")
)

// SuspendedError carries the current suspension of a thread that was
// advanced without a resume value. It matches ErrStillSuspended.
type SuspendedError struct {
	ThreadID   string
	Suspension *Suspension
}

func (e *SuspendedError) Error() string {
	return fmt.Sprintf("thread %q is suspended at stage %q", e.ThreadID, e.Suspension.Stage)
}

func (e *SuspendedError) Is(target error) bool {
	return target == ErrStillSuspended
}

// Error type constants for classification and matching
const (
	// ErrorTypeAll acts as a wildcard that matches any error except fatal errors
	ErrorTypeAll = "all"

	// ErrorTypeStageFailed matches any error except timeouts, store failures
	// and fatal errors
	ErrorTypeStageFailed = "stage_failed"

	// ErrorTypeTimeout matches a timeout context canceled error
	ErrorTypeTimeout = "timeout"

	// ErrorTypeStoreUnavailable matches checkpoint and record store failures
	ErrorTypeStoreUnavailable = "store_unavailable"

	// ErrorTypeFatal indicates a burst failed due to an error that must not
	// be retried. Unknown errors are classified as stage failures.
	ErrorTypeFatal = "fatal_error"
)

// WorkflowError represents a structured error with classification
// It supports Go's error wrapping patterns with Unwrap() method
type WorkflowError struct {
	Type    string `json:"type"`
	Stage   string `json:"stage,omitempty"`
	Cause   string `json:"cause"`
	Details any    `json:"details,omitempty"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: stage %s: %s", e.Type, e.Stage, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for Go's errors.Is and errors.As
func (e *WorkflowError) Unwrap() error {
	return e.Wrapped
}

// NewWorkflowError creates a new WorkflowError with the specified type and cause.
func NewWorkflowError(errorType, cause string) *WorkflowError {
	return &WorkflowError{
		Type:  errorType,
		Cause: cause,
	}
}

// ClassifyError attempts to classify a regular error into a WorkflowError
func ClassifyError(err error) *WorkflowError {
	var workflowError *WorkflowError
	if errors.As(err, &workflowError) {
		return workflowError
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return &WorkflowError{
			Type:    ErrorTypeStoreUnavailable,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return &WorkflowError{
			Type:    ErrorTypeTimeout,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	return &WorkflowError{
		Type:    ErrorTypeStageFailed,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// MatchesErrorType checks if an error matches a specified error type pattern
func MatchesErrorType(err error, errorType string) bool {
	wErr := ClassifyError(err)
	// Fatal errors are only matched by the ErrorTypeFatal pattern
	if wErr.Type == ErrorTypeFatal {
		return errorType == ErrorTypeFatal
	}
	switch errorType {
	case ErrorTypeAll:
		return true
	case ErrorTypeStageFailed:
		return wErr.Type != ErrorTypeTimeout && wErr.Type != ErrorTypeStoreUnavailable
	default:
		return wErr.Type == errorType
	}
}

// stageError wraps a stage failure with its classification.
func stageError(stage string, err error) error {
	wErr := ClassifyError(err)
	if wErr.Stage != "" {
		return wErr
	}
	return &WorkflowError{
		Type:    wErr.Type,
		Stage:   stage,
		Cause:   wErr.Cause,
		Details: wErr.Details,
		Wrapped: err,
	}
}

// storeError wraps a checkpointer failure so it matches ErrStoreUnavailable.
func storeError(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrSequenceConflict) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
