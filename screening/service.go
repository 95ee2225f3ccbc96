package screening

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/deepnoodle-ai/screenflow"
)

// MessageNotExpectingReview is returned when a review arrives for a thread
// that is not waiting for one.
const MessageNotExpectingReview = "Pipeline is not expecting a review (invalid state)"

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Checkpointer screenflow.Checkpointer
	Store        RecordStore
	Extractor    Extractor
	Rubric       *Rubric
	Logger       *slog.Logger
	Callbacks    screenflow.EngineCallbacks
	StageLogger  screenflow.StageLogger
	StageTimeout time.Duration
}

// Service is the boundary used by the HTTP API and the CLI. Application IDs
// are used as thread IDs.
type Service struct {
	engine *screenflow.Engine
	store  RecordStore
	logger *slog.Logger
}

// NewService wires the screening stages into a new engine.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if opts.Checkpointer == nil {
		return nil, fmt.Errorf("checkpointer is required")
	}
	if opts.Rubric == nil {
		opts.Rubric = DefaultRubric()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	stages := &Stages{Store: opts.Store, Extractor: opts.Extractor, Rubric: opts.Rubric}
	pipeline, err := stages.NewPipeline()
	if err != nil {
		return nil, fmt.Errorf("failed to load screening pipeline: %w", err)
	}
	engine, err := screenflow.NewEngine(screenflow.EngineOptions{
		Pipeline:     pipeline,
		Checkpointer: opts.Checkpointer,
		StageLogger:  opts.StageLogger,
		Logger:       opts.Logger,
		Callbacks:    opts.Callbacks,
		StageTimeout: opts.StageTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &Service{engine: engine, store: opts.Store, logger: opts.Logger}, nil
}

// Engine returns the underlying engine
func (s *Service) Engine() *screenflow.Engine {
	return s.engine
}

// InitialState returns the state a new submission starts from.
func InitialState(applicationID string, in Input) screenflow.State {
	return screenflow.State{
		"messages":       []any{},
		"application_id": applicationID,
		"cv_text":        in.CVText,
		"extracted":      map[string]any{},
		"score":          0,
		"flags":          []any{},
		"needs_human":    true,
		"decision":       nil,
		"reviewer_notes": "",
	}
}

// StartOrAdvance submits a CV. A new CV, or a changed CV for an existing
// application, runs the pipeline from the start; resubmitting the CV of an
// application already waiting for review returns its pending review.
func (s *Service) StartOrAdvance(ctx context.Context, applicationID string, in Input) (*Outcome, error) {
	if strings.TrimSpace(applicationID) == "" {
		return nil, fmt.Errorf("application id required")
	}
	result, err := s.engine.Advance(ctx, applicationID, InitialState(applicationID, in))
	if err != nil {
		var suspended *screenflow.SuspendedError
		if !errors.As(err, &suspended) {
			return nil, err
		}
		checkpoint, err := s.engine.Snapshot(ctx, applicationID)
		if err != nil {
			return nil, err
		}
		result = &screenflow.Result{
			ThreadID:   applicationID,
			Status:     checkpoint.Status,
			State:      checkpoint.State,
			Suspension: checkpoint.Suspension,
			Checkpoint: checkpoint,
		}
	}
	return outcomeFromResult(result)
}

// SubmitResume applies a reviewer decision. When the application is not
// waiting for a review the outcome has OK set to false and nothing changes.
func (s *Service) SubmitResume(ctx context.Context, applicationID string, review ReviewDecision) (*ResumeOutcome, error) {
	_, err := s.engine.Resume(ctx, applicationID, review)
	if err != nil {
		if errors.Is(err, screenflow.ErrThreadNotSuspended) || errors.Is(err, screenflow.ErrUnknownThread) {
			s.logger.Info("review rejected", "thread_id", applicationID, "reason", err)
			return &ResumeOutcome{OK: false, Message: MessageNotExpectingReview}, nil
		}
		return nil, err
	}
	final, err := s.store.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	return &ResumeOutcome{OK: true, Final: final}, nil
}

// Application returns the stored record of an application.
func (s *Service) Application(ctx context.Context, applicationID string) (*Application, error) {
	return s.store.Get(ctx, applicationID)
}

// PendingReview returns the review an application is waiting on.
func (s *Service) PendingReview(ctx context.Context, applicationID string) (*ReviewPayload, error) {
	suspension, err := s.engine.Suspension(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	var payload ReviewPayload
	if err := suspension.DecodePayload(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Cancel withdraws an application that has not finished screening.
func (s *Service) Cancel(ctx context.Context, applicationID, reason string) (*Outcome, error) {
	result, err := s.engine.Cancel(ctx, applicationID, reason)
	if err != nil {
		return nil, err
	}
	return outcomeFromResult(result)
}

// History returns a summary of every checkpoint of an application.
func (s *Service) History(ctx context.Context, applicationID string) ([]*HistoryEntry, error) {
	history, err := s.engine.History(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	entries := make([]*HistoryEntry, 0, len(history))
	for _, checkpoint := range history {
		entry := &HistoryEntry{
			Sequence:  checkpoint.Sequence,
			Status:    string(checkpoint.Status),
			Stage:     checkpoint.Stage,
			NextStage: checkpoint.NextStage,
			Error:     checkpoint.Error,
			CreatedAt: checkpoint.CreatedAt,
		}
		var st pipelineState
		if err := checkpoint.State.Decode(&st); err == nil {
			entry.Score = st.Score
			entry.Decision = st.Decision
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Threads lists every application known to the checkpoint store.
func (s *Service) Threads(ctx context.Context) ([]*screenflow.ThreadSummary, error) {
	return s.engine.Threads(ctx)
}

func outcomeFromResult(result *screenflow.Result) (*Outcome, error) {
	var st pipelineState
	if err := result.State.Decode(&st); err != nil {
		return nil, err
	}
	outcome := &Outcome{Status: StatusDone, Draft: st.draft()}
	switch result.Status {
	case screenflow.ThreadStatusSuspended:
		outcome.Status = StatusWaitingReview
		var payload ReviewPayload
		if err := result.Suspension.DecodePayload(&payload); err != nil {
			return nil, err
		}
		outcome.Interrupt = &payload
	case screenflow.ThreadStatusCancelled:
		outcome.Status = StatusCancelled
	}
	return outcome, nil
}
