package screenflow

import (
	"context"
	"encoding/json"
	"fmt"
)

// End is the routing result that terminates a thread.
const End = "__end__"

// Edge is used to configure a next stage in a pipeline. An edge without a
// condition always matches.
type Edge struct {
	Stage     string `json:"stage" yaml:"stage"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// StageSpec declares a single stage of a pipeline.
type StageSpec struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Func        string  `json:"func,omitempty" yaml:"func,omitempty"`
	Next        []*Edge `json:"next,omitempty" yaml:"next,omitempty"`
	End         bool    `json:"end,omitempty" yaml:"end,omitempty"`
}

// funcName returns the registry key bound to this stage.
func (s *StageSpec) funcName() string {
	if s.Func != "" {
		return s.Func
	}
	return s.Name
}

// StageInput is what a stage receives when it runs.
type StageInput struct {
	ThreadID string
	State    State

	// Resume holds the externally supplied value when the engine is resuming
	// this stage after a suspension. It is nil on a normal run.
	Resume json.RawMessage
}

// Resuming reports whether a resume value was supplied for this invocation.
func (in *StageInput) Resuming() bool {
	return in.Resume != nil
}

// DecodeResume decodes the resume value into v.
func (in *StageInput) DecodeResume(v any) error {
	if in.Resume == nil {
		return fmt.Errorf("stage %w", ErrNoResumeValue)
	}
	if err := json.Unmarshal(in.Resume, v); err != nil {
		return fmt.Errorf("failed to decode resume value: %w", err)
	}
	return nil
}

// StageFunc transforms the state by returning the fields it changed. A stage
// may return the error produced by Suspend to halt the thread.
type StageFunc func(ctx context.Context, in *StageInput) (Update, error)

// Stage binds a name to a StageFunc for registration with a pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, in *StageInput) (Update, error)
}

type stageFunction struct {
	name string
	fn   StageFunc
}

// NewStage returns a Stage for the given function.
func NewStage(name string, fn StageFunc) Stage {
	return &stageFunction{name: name, fn: fn}
}

func (s *stageFunction) Name() string {
	return s.name
}

func (s *stageFunction) Run(ctx context.Context, in *StageInput) (Update, error) {
	return s.fn(ctx, in)
}
