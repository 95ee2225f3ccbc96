package screenflow

import (
	"context"
	"time"
)

// EngineCallbacks defines the callback interface for engine events
type EngineCallbacks interface {
	// Burst-level callbacks. A burst is one call to Advance or Resume.
	BeforeBurst(ctx context.Context, event *BurstEvent)
	AfterBurst(ctx context.Context, event *BurstEvent)

	// Stage-level callbacks
	BeforeStage(ctx context.Context, event *StageEvent)
	AfterStage(ctx context.Context, event *StageEvent)

	// AfterCheckpoint is called after every checkpoint append attempt
	AfterCheckpoint(ctx context.Context, event *CheckpointEvent)
}

// BurstEvent provides context for burst-level events
type BurstEvent struct {
	ThreadID   string
	Pipeline   string
	Resumed    bool
	Status     ThreadStatus
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	State      State
	Suspension *Suspension
	Error      error
}

// StageEvent provides context for stage execution events
type StageEvent struct {
	ThreadID  string
	Pipeline  string
	Stage     string
	Resumed   bool
	Update    Update
	Suspended bool
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Error     error
}

// CheckpointEvent provides context for checkpoint writes
type CheckpointEvent struct {
	Checkpoint *Checkpoint
	Duration   time.Duration
	Error      error
}

// BaseEngineCallbacks provides a default implementation that does nothing
type BaseEngineCallbacks struct{}

func (n *BaseEngineCallbacks) BeforeBurst(ctx context.Context, event *BurstEvent) {
	// noop
}

func (n *BaseEngineCallbacks) AfterBurst(ctx context.Context, event *BurstEvent) {
	// noop
}

func (n *BaseEngineCallbacks) BeforeStage(ctx context.Context, event *StageEvent) {
	// noop
}

func (n *BaseEngineCallbacks) AfterStage(ctx context.Context, event *StageEvent) {
	// noop
}

func (n *BaseEngineCallbacks) AfterCheckpoint(ctx context.Context, event *CheckpointEvent) {
	// noop
}

// NewBaseEngineCallbacks creates a new no-op callbacks implementation.
// Embed this in your own callbacks to get a default implementation that does nothing.
func NewBaseEngineCallbacks() EngineCallbacks {
	return &BaseEngineCallbacks{}
}

// CallbackChain allows chaining multiple callback implementations
type CallbackChain struct {
	callbacks []EngineCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...EngineCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain
func (c *CallbackChain) Add(callback EngineCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeBurst(ctx context.Context, event *BurstEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeBurst(ctx, event)
	}
}

func (c *CallbackChain) AfterBurst(ctx context.Context, event *BurstEvent) {
	for _, callback := range c.callbacks {
		callback.AfterBurst(ctx, event)
	}
}

func (c *CallbackChain) BeforeStage(ctx context.Context, event *StageEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeStage(ctx, event)
	}
}

func (c *CallbackChain) AfterStage(ctx context.Context, event *StageEvent) {
	for _, callback := range c.callbacks {
		callback.AfterStage(ctx, event)
	}
}

func (c *CallbackChain) AfterCheckpoint(ctx context.Context, event *CheckpointEvent) {
	for _, callback := range c.callbacks {
		callback.AfterCheckpoint(ctx, event)
	}
}
