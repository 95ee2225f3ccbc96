package screenflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkflowErrorWrapping(t *testing.T) {
	err := NewWorkflowError(ErrorTypeTimeout, "operation timed out")
	require.Equal(t, "timeout: operation timed out", err.Error())
	require.Nil(t, err.Unwrap())

	originalErr := errors.New("network connection failed")
	wrappedErr := &WorkflowError{
		Type:    ErrorTypeTimeout,
		Stage:   "extract",
		Cause:   originalErr.Error(),
		Wrapped: originalErr,
	}

	require.Equal(t, "timeout: stage extract: network connection failed", wrappedErr.Error())
	require.Equal(t, originalErr, wrappedErr.Unwrap())
	require.True(t, errors.Is(wrappedErr, originalErr))

	var wErr *WorkflowError
	require.True(t, errors.As(wrappedErr, &wErr))
	require.Equal(t, ErrorTypeTimeout, wErr.Type)
}

func TestErrorClassification(t *testing.T) {
	classified := ClassifyError(context.DeadlineExceeded)
	require.Equal(t, ErrorTypeTimeout, classified.Type)
	require.True(t, errors.Is(classified, context.DeadlineExceeded))

	genericErr := errors.New("something went wrong")
	classified = ClassifyError(genericErr)
	require.Equal(t, ErrorTypeStageFailed, classified.Type)
	require.True(t, errors.Is(classified, genericErr))

	storeErr := storeError("append checkpoint", errors.New("disk full"))
	classified = ClassifyError(storeErr)
	require.Equal(t, ErrorTypeStoreUnavailable, classified.Type)
	require.ErrorIs(t, classified, ErrStoreUnavailable)

	originalWorkflowErr := NewWorkflowError(ErrorTypeFatal, "runtime error")
	require.Equal(t, originalWorkflowErr, ClassifyError(originalWorkflowErr))
}

func TestErrorMatching(t *testing.T) {
	timeoutErr := NewWorkflowError(ErrorTypeTimeout, "timeout")
	stageErr := NewWorkflowError(ErrorTypeStageFailed, "stage failed")
	storeErr := NewWorkflowError(ErrorTypeStoreUnavailable, "connection refused")
	fatalErr := NewWorkflowError(ErrorTypeFatal, "fatal error")

	require.True(t, MatchesErrorType(timeoutErr, ErrorTypeTimeout))
	require.False(t, MatchesErrorType(timeoutErr, ErrorTypeStageFailed))

	require.True(t, MatchesErrorType(timeoutErr, ErrorTypeAll))
	require.True(t, MatchesErrorType(stageErr, ErrorTypeAll))
	require.False(t, MatchesErrorType(fatalErr, ErrorTypeAll), "fatal error should not match ErrorTypeAll")

	require.True(t, MatchesErrorType(stageErr, ErrorTypeStageFailed))
	require.False(t, MatchesErrorType(storeErr, ErrorTypeStageFailed))
	require.True(t, MatchesErrorType(storeErr, ErrorTypeStoreUnavailable))
	require.True(t, MatchesErrorType(fatalErr, ErrorTypeFatal))
}

func TestStageErrorKeepsCause(t *testing.T) {
	cause := errors.New("model offline")
	err := stageError("extract", fmt.Errorf("extract: %w", cause))
	require.ErrorIs(t, err, cause)

	var wErr *WorkflowError
	require.True(t, errors.As(err, &wErr))
	require.Equal(t, "extract", wErr.Stage)
	require.Equal(t, ErrorTypeStageFailed, wErr.Type)
}

func TestSuspendedErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("advance: %w", &SuspendedError{
		ThreadID:   "app-1",
		Suspension: &Suspension{Stage: "human_review"},
	})
	require.ErrorIs(t, err, ErrStillSuspended)

	var sErr *SuspendedError
	require.True(t, errors.As(err, &sErr))
	require.Equal(t, "human_review", sErr.Suspension.Stage)
}
