package screenflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Suspension describes why a thread is paused and what it is waiting for.
type Suspension struct {
	Stage     string          `json:"stage"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// DecodePayload decodes the suspension payload into v.
func (s *Suspension) DecodePayload(v any) error {
	if err := json.Unmarshal(s.Payload, v); err != nil {
		return fmt.Errorf("failed to decode suspension payload: %w", err)
	}
	return nil
}

// SuspendError is returned by a stage to halt its thread until a resume
// value is supplied. Create it with Suspend.
type SuspendError struct {
	Payload any
}

func (e *SuspendError) Error() string {
	return "stage suspended"
}

// Suspend returns an error that, when returned from a stage, suspends the
// thread at that stage and exposes payload to the caller. The payload must
// encode to a JSON object.
func Suspend(payload any) error {
	return &SuspendError{Payload: payload}
}

// IsSuspend reports whether err is a suspension request.
func IsSuspend(err error) bool {
	var s *SuspendError
	return errors.As(err, &s)
}

// newSuspension canonicalizes a suspend payload.
func newSuspension(stage string, payload any, now time.Time) (*Suspension, error) {
	obj, err := NewState(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid suspension payload: %w", err)
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("invalid suspension payload: %w", err)
	}
	return &Suspension{Stage: stage, Payload: data, CreatedAt: now}, nil
}
