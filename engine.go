package screenflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// EngineOptions configures an Engine
type EngineOptions struct {
	Pipeline     *Pipeline
	Checkpointer Checkpointer
	StageLogger  StageLogger
	Logger       *slog.Logger
	Callbacks    EngineCallbacks

	// StageTimeout bounds each stage invocation when non-zero.
	StageTimeout time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Result reports where a burst left a thread.
type Result struct {
	ThreadID   string
	Status     ThreadStatus
	State      State
	Suspension *Suspension
	Checkpoint *Checkpoint
}

// Suspended reports whether the thread is waiting for a resume value.
func (r *Result) Suspended() bool {
	return r.Status == ThreadStatusSuspended
}

// Engine drives threads through a pipeline, checkpointing after every stage.
// It is safe for concurrent use. Calls on the same thread are serialized;
// calls on different threads run in parallel.
type Engine struct {
	pipeline     *Pipeline
	checkpointer Checkpointer
	stageLogger  StageLogger
	logger       *slog.Logger
	callbacks    EngineCallbacks
	stageTimeout time.Duration
	now          func() time.Time
	locks        *threadLocks
}

// NewEngine creates a new Engine
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if opts.Checkpointer == nil {
		return nil, fmt.Errorf("checkpointer is required")
	}
	if opts.StageLogger == nil {
		opts.StageLogger = NewNullStageLogger()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseEngineCallbacks{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		pipeline:     opts.Pipeline,
		checkpointer: opts.Checkpointer,
		stageLogger:  opts.StageLogger,
		logger:       opts.Logger.With("pipeline", opts.Pipeline.Name()),
		callbacks:    opts.Callbacks,
		stageTimeout: opts.StageTimeout,
		now:          opts.Now,
		locks:        newThreadLocks(),
	}, nil
}

// Pipeline returns the pipeline this engine runs
func (e *Engine) Pipeline() *Pipeline {
	return e.pipeline
}

// Advance runs a thread forward until it completes or suspends.
//
// With a nil initial state the thread continues from its latest checkpoint.
// With a non-nil initial state a new thread is started; an existing thread is
// restarted from the first stage if the input differs from the input that
// started its current run, or if the thread is already terminal.
func (e *Engine) Advance(ctx context.Context, threadID string, initial State) (*Result, error) {
	unlock := e.locks.lock(threadID)
	defer unlock()

	logger := e.logger.With("thread_id", threadID)

	checkpoint, err := e.load(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if initial != nil {
		input, err := NewState(map[string]any(initial))
		if err != nil {
			return nil, err
		}
		digest, err := input.digest()
		if err != nil {
			return nil, fmt.Errorf("failed to digest input: %w", err)
		}
		switch {
		case checkpoint == nil:
			logger.Info("starting thread")
			checkpoint, err = e.start(ctx, threadID, input, digest, 0)
		case checkpoint.InputDigest != digest || checkpoint.Status.Terminal():
			logger.Info("restarting thread", "previous_status", checkpoint.Status)
			checkpoint, err = e.start(ctx, threadID, input, digest, checkpoint.Sequence)
		}
		if err != nil {
			return nil, err
		}
	}

	if checkpoint == nil {
		return nil, fmt.Errorf("thread %q: %w", threadID, ErrUnknownThread)
	}

	switch checkpoint.Status {
	case ThreadStatusSuspended:
		return nil, &SuspendedError{ThreadID: threadID, Suspension: checkpoint.Suspension}
	case ThreadStatusCompleted, ThreadStatusCancelled:
		return resultFromCheckpoint(checkpoint), nil
	}
	return e.run(ctx, logger, checkpoint, nil)
}

// Resume supplies the value a suspended thread is waiting for and continues
// the thread. The suspended stage is re-run with the value available as
// StageInput.Resume. A resume value is consumed once the resumed stage's
// checkpoint is written; later calls return ErrThreadNotSuspended.
func (e *Engine) Resume(ctx context.Context, threadID string, value any) (*Result, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resume value: %w", err)
	}

	unlock := e.locks.lock(threadID)
	defer unlock()

	logger := e.logger.With("thread_id", threadID)

	checkpoint, err := e.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if checkpoint == nil {
		return nil, fmt.Errorf("thread %q: %w", threadID, ErrUnknownThread)
	}
	if checkpoint.Status != ThreadStatusSuspended {
		return nil, fmt.Errorf("thread %q is %s: %w", threadID, checkpoint.Status, ErrThreadNotSuspended)
	}

	logger.Info("resuming thread", "stage", checkpoint.NextStage)
	result, err := e.run(ctx, logger, checkpoint, data)
	if err != nil && errors.Is(err, ErrSequenceConflict) {
		// Another process resumed the thread first.
		return nil, fmt.Errorf("thread %q: %w: %w", threadID, ErrThreadNotSuspended, err)
	}
	return result, err
}

// Cancel marks a live thread as cancelled without running any stages.
// Cancelling a terminal thread is a no-op.
func (e *Engine) Cancel(ctx context.Context, threadID, reason string) (*Result, error) {
	unlock := e.locks.lock(threadID)
	defer unlock()

	checkpoint, err := e.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if checkpoint == nil {
		return nil, fmt.Errorf("thread %q: %w", threadID, ErrUnknownThread)
	}
	if checkpoint.Status.Terminal() {
		return resultFromCheckpoint(checkpoint), nil
	}

	cancelled := &Checkpoint{
		ID:          NewCheckpointID(),
		ThreadID:    threadID,
		Pipeline:    e.pipeline.Name(),
		Sequence:    checkpoint.Sequence + 1,
		Status:      ThreadStatusCancelled,
		Stage:       checkpoint.Stage,
		State:       checkpoint.State,
		InputDigest: checkpoint.InputDigest,
		Error:       reason,
		CreatedAt:   e.now(),
	}
	if err := e.append(ctx, cancelled); err != nil {
		return nil, err
	}
	e.logger.Info("thread cancelled", "thread_id", threadID, "reason", reason)
	return resultFromCheckpoint(cancelled), nil
}

// Suspension returns the payload a suspended thread is waiting on. Repeated
// calls return identical payloads until the thread is resumed.
func (e *Engine) Suspension(ctx context.Context, threadID string) (*Suspension, error) {
	checkpoint, err := e.Snapshot(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if checkpoint.Status != ThreadStatusSuspended {
		return nil, fmt.Errorf("thread %q is %s: %w", threadID, checkpoint.Status, ErrThreadNotSuspended)
	}
	return checkpoint.Suspension, nil
}

// Snapshot returns the latest checkpoint of a thread
func (e *Engine) Snapshot(ctx context.Context, threadID string) (*Checkpoint, error) {
	checkpoint, err := e.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if checkpoint == nil {
		return nil, fmt.Errorf("thread %q: %w", threadID, ErrUnknownThread)
	}
	return checkpoint, nil
}

// History returns every checkpoint of a thread in sequence order
func (e *Engine) History(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	history, err := e.checkpointer.History(ctx, threadID)
	if err != nil {
		return nil, storeError("load checkpoint history", err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("thread %q: %w", threadID, ErrUnknownThread)
	}
	return history, nil
}

// Threads returns a summary of every known thread
func (e *Engine) Threads(ctx context.Context) ([]*ThreadSummary, error) {
	summaries, err := e.checkpointer.ListThreads(ctx)
	if err != nil {
		return nil, storeError("list threads", err)
	}
	return summaries, nil
}

// start appends the first checkpoint of a new run.
func (e *Engine) start(ctx context.Context, threadID string, input State, digest string, prevSeq int64) (*Checkpoint, error) {
	checkpoint := &Checkpoint{
		ID:          NewCheckpointID(),
		ThreadID:    threadID,
		Pipeline:    e.pipeline.Name(),
		Sequence:    prevSeq + 1,
		Status:      ThreadStatusRunning,
		NextStage:   e.pipeline.Start(),
		State:       input,
		InputDigest: digest,
		CreatedAt:   e.now(),
	}
	if err := e.append(ctx, checkpoint); err != nil {
		return nil, err
	}
	return checkpoint, nil
}

// run executes stages from the given checkpoint until the thread completes,
// suspends, or a stage fails. A failed burst writes no checkpoint, so the
// thread remains at its last good checkpoint.
func (e *Engine) run(ctx context.Context, logger *slog.Logger, from *Checkpoint, resume json.RawMessage) (*Result, error) {
	startTime := e.now()
	burst := &BurstEvent{
		ThreadID:  from.ThreadID,
		Pipeline:  e.pipeline.Name(),
		Resumed:   resume != nil,
		Status:    from.Status,
		StartTime: startTime,
		State:     from.State.Clone(),
	}
	e.callbacks.BeforeBurst(ctx, burst)

	result, err := e.runStages(ctx, logger, from, resume)

	burst.EndTime = e.now()
	burst.Duration = burst.EndTime.Sub(startTime)
	burst.Error = err
	if result != nil {
		burst.Status = result.Status
		burst.State = result.State.Clone()
		burst.Suspension = result.Suspension
	}
	e.callbacks.AfterBurst(ctx, burst)

	if err != nil {
		logger.Error("burst failed", "error", err)
		return nil, err
	}
	logger.Info("burst finished", "status", result.Status, "duration", burst.Duration)
	return result, nil
}

func (e *Engine) runStages(ctx context.Context, logger *slog.Logger, from *Checkpoint, resume json.RawMessage) (*Result, error) {
	current := from
	for {
		if err := ctx.Err(); err != nil {
			return nil, stageError(current.NextStage, err)
		}

		stageName := current.NextStage
		stage, ok := e.pipeline.stageFunc(stageName)
		if !ok {
			return nil, &WorkflowError{
				Type:  ErrorTypeFatal,
				Stage: stageName,
				Cause: fmt.Sprintf("stage %q not found in pipeline %q", stageName, e.pipeline.Name()),
			}
		}

		update, err := e.executeStage(ctx, logger, stage, stageName, current, resume)
		if err != nil {
			var suspend *SuspendError
			if !errors.As(err, &suspend) {
				return nil, stageError(stageName, err)
			}
			suspension, err := newSuspension(stageName, suspend.Payload, e.now())
			if err != nil {
				return nil, stageError(stageName, err)
			}
			suspended := &Checkpoint{
				ID:          NewCheckpointID(),
				ThreadID:    current.ThreadID,
				Pipeline:    e.pipeline.Name(),
				Sequence:    current.Sequence + 1,
				Status:      ThreadStatusSuspended,
				Stage:       stageName,
				NextStage:   stageName,
				State:       current.State,
				Suspension:  suspension,
				InputDigest: current.InputDigest,
				CreatedAt:   e.now(),
			}
			if err := e.append(ctx, suspended); err != nil {
				return nil, err
			}
			logger.Info("thread suspended", "stage", stageName)
			return resultFromCheckpoint(suspended), nil
		}
		resume = nil

		state, err := current.State.Merge(update, e.pipeline.Reducers())
		if err != nil {
			return nil, stageError(stageName, err)
		}
		next, err := e.pipeline.Route(ctx, stageName, state)
		if err != nil {
			return nil, stageError(stageName, err)
		}

		checkpoint := &Checkpoint{
			ID:          NewCheckpointID(),
			ThreadID:    current.ThreadID,
			Pipeline:    e.pipeline.Name(),
			Sequence:    current.Sequence + 1,
			Status:      ThreadStatusRunning,
			Stage:       stageName,
			NextStage:   next,
			State:       state,
			InputDigest: current.InputDigest,
			CreatedAt:   e.now(),
		}
		if next == End {
			checkpoint.Status = ThreadStatusCompleted
			checkpoint.NextStage = ""
		}
		if err := e.append(ctx, checkpoint); err != nil {
			return nil, err
		}
		if checkpoint.Status == ThreadStatusCompleted {
			return resultFromCheckpoint(checkpoint), nil
		}
		current = checkpoint
	}
}

// executeStage invokes a single stage with callbacks and audit logging.
func (e *Engine) executeStage(
	ctx context.Context,
	logger *slog.Logger,
	stage Stage,
	stageName string,
	current *Checkpoint,
	resume json.RawMessage,
) (Update, error) {
	stageLogger := logger.With("stage", stageName)
	ctx = WithLogger(ctx, stageLogger)
	ctx = WithThreadID(ctx, current.ThreadID)
	if e.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stageTimeout)
		defer cancel()
	}

	startTime := e.now()
	event := &StageEvent{
		ThreadID:  current.ThreadID,
		Pipeline:  e.pipeline.Name(),
		Stage:     stageName,
		Resumed:   resume != nil,
		StartTime: startTime,
	}
	e.callbacks.BeforeStage(ctx, event)

	update, err := stage.Run(ctx, &StageInput{
		ThreadID: current.ThreadID,
		State:    current.State.Clone(),
		Resume:   resume,
	})

	endTime := e.now()
	event.EndTime = endTime
	event.Duration = endTime.Sub(startTime)
	event.Update = update
	event.Suspended = IsSuspend(err)
	if !event.Suspended {
		event.Error = err
	}
	e.callbacks.AfterStage(ctx, event)

	entry := &StageLogEntry{
		ID:        NewCheckpointID(),
		ThreadID:  current.ThreadID,
		Stage:     stageName,
		Resumed:   resume != nil,
		Update:    update,
		Suspended: event.Suspended,
		StartTime: startTime,
		Duration:  event.Duration.Seconds(),
	}
	if event.Error != nil {
		entry.Error = event.Error.Error()
	}
	if logErr := e.stageLogger.LogStage(ctx, entry); logErr != nil {
		stageLogger.Warn("failed to log stage", "error", logErr)
	}

	if event.Error != nil {
		stageLogger.Warn("stage failed", "error", event.Error, "duration", event.Duration)
	} else {
		stageLogger.Debug("stage finished", "suspended", event.Suspended, "duration", event.Duration)
	}
	return update, err
}

func (e *Engine) load(ctx context.Context, threadID string) (*Checkpoint, error) {
	checkpoint, err := e.checkpointer.LoadCheckpoint(ctx, threadID)
	if err != nil {
		return nil, storeError("load checkpoint", err)
	}
	return checkpoint, nil
}

func (e *Engine) append(ctx context.Context, checkpoint *Checkpoint) error {
	start := e.now()
	err := e.checkpointer.Append(ctx, checkpoint)
	if err != nil {
		err = storeError("append checkpoint", err)
	}
	e.callbacks.AfterCheckpoint(ctx, &CheckpointEvent{
		Checkpoint: checkpoint,
		Duration:   e.now().Sub(start),
		Error:      err,
	})
	return err
}

func resultFromCheckpoint(checkpoint *Checkpoint) *Result {
	return &Result{
		ThreadID:   checkpoint.ThreadID,
		Status:     checkpoint.Status,
		State:      checkpoint.State.Clone(),
		Suspension: checkpoint.Suspension,
		Checkpoint: checkpoint,
	}
}
