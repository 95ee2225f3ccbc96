package screening

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/deepnoodle-ai/screenflow"
	"github.com/deepnoodle-ai/screenflow/retry"
)

// ErrApplicationNotFound is returned when no record exists for an
// application ID.
var ErrApplicationNotFound = errors.New("application not found")

// UpsertResult reports the record created or reset by Upsert.
type UpsertResult struct {
	ID       int64
	Decision *string
}

// RecordStore persists the outcome of screening an application.
type RecordStore interface {
	// Upsert creates the record or, if it exists, replaces its CV text and
	// resets every analysis and decision column.
	Upsert(ctx context.Context, applicationID, cvText string) (*UpsertResult, error)

	// UpdateAnalysis stores the extraction, score and flags.
	UpdateAnalysis(ctx context.Context, applicationID string, extracted map[string]any, score int, flags []string) error

	// SetDecision stores the final decision and reviewer notes.
	SetDecision(ctx context.Context, applicationID, decision, notes string) error

	// Get returns the record or ErrApplicationNotFound.
	Get(ctx context.Context, applicationID string) (*Application, error)
}

// recordTable holds application rows keyed by application ID. It backs both
// the memory and the file record stores.
type recordTable struct {
	NextID int64                   `json:"next_id"`
	Rows   map[string]*Application `json:"rows"`
}

func newRecordTable() *recordTable {
	return &recordTable{Rows: map[string]*Application{}}
}

func (t *recordTable) upsert(applicationID, cvText string, now time.Time) *UpsertResult {
	row, ok := t.Rows[applicationID]
	if !ok {
		t.NextID++
		row = &Application{ID: t.NextID, ApplicationID: applicationID, CreatedAt: now}
		t.Rows[applicationID] = row
	}
	row.CVText = cvText
	row.Extracted = nil
	row.Score = nil
	row.Flags = nil
	row.Decision = nil
	row.ReviewerNotes = nil
	row.UpdatedAt = now
	return &UpsertResult{ID: row.ID, Decision: row.Decision}
}

func (t *recordTable) updateAnalysis(applicationID string, extracted map[string]any, score int, flags []string, now time.Time) {
	row, ok := t.Rows[applicationID]
	if !ok {
		return
	}
	row.Extracted = cloneObject(extracted)
	row.Score = &score
	row.Flags = append([]string{}, flags...)
	row.UpdatedAt = now
}

func (t *recordTable) setDecision(applicationID, decision, notes string, now time.Time) {
	row, ok := t.Rows[applicationID]
	if !ok {
		return
	}
	row.Decision = &decision
	row.ReviewerNotes = &notes
	row.UpdatedAt = now
}

func (t *recordTable) get(applicationID string) (*Application, error) {
	row, ok := t.Rows[applicationID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", applicationID, ErrApplicationNotFound)
	}
	return row.Clone(), nil
}

// MemoryRecordStore is an in-process RecordStore.
type MemoryRecordStore struct {
	mutex sync.Mutex
	table *recordTable
	now   func() time.Time
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{table: newRecordTable(), now: time.Now}
}

func (s *MemoryRecordStore) Upsert(ctx context.Context, applicationID, cvText string) (*UpsertResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.table.upsert(applicationID, cvText, s.now()), nil
}

func (s *MemoryRecordStore) UpdateAnalysis(ctx context.Context, applicationID string, extracted map[string]any, score int, flags []string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.table.updateAnalysis(applicationID, extracted, score, flags, s.now())
	return nil
}

func (s *MemoryRecordStore) SetDecision(ctx context.Context, applicationID, decision, notes string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.table.setDecision(applicationID, decision, notes, s.now())
	return nil
}

func (s *MemoryRecordStore) Get(ctx context.Context, applicationID string) (*Application, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.table.get(applicationID)
}

// RetryingRecordStore retries transient failures of another RecordStore.
// Errors that survive the retries are wrapped with
// screenflow.ErrStoreUnavailable.
type RetryingRecordStore struct {
	store   RecordStore
	options []retry.Option
	logger  *slog.Logger
}

// NewRetryingRecordStore wraps store. Options are passed to retry.Do.
func NewRetryingRecordStore(store RecordStore, logger *slog.Logger, options ...retry.Option) *RetryingRecordStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &RetryingRecordStore{store: store, logger: logger}
	s.options = append([]retry.Option{
		retry.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			s.logger.Warn("retrying record store operation", "attempt", attempt, "wait", wait, "error", err)
		}),
	}, options...)
	return s
}

func (s *RetryingRecordStore) do(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(ctx, fn, s.options...)
	if err == nil || errors.Is(err, ErrApplicationNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, screenflow.ErrStoreUnavailable, err)
}

func (s *RetryingRecordStore) Upsert(ctx context.Context, applicationID, cvText string) (*UpsertResult, error) {
	var result *UpsertResult
	err := s.do(ctx, "upsert application", func() error {
		var err error
		result, err = s.store.Upsert(ctx, applicationID, cvText)
		return err
	})
	return result, err
}

func (s *RetryingRecordStore) UpdateAnalysis(ctx context.Context, applicationID string, extracted map[string]any, score int, flags []string) error {
	return s.do(ctx, "update analysis", func() error {
		return s.store.UpdateAnalysis(ctx, applicationID, extracted, score, flags)
	})
}

func (s *RetryingRecordStore) SetDecision(ctx context.Context, applicationID, decision, notes string) error {
	return s.do(ctx, "set decision", func() error {
		return s.store.SetDecision(ctx, applicationID, decision, notes)
	})
}

func (s *RetryingRecordStore) Get(ctx context.Context, applicationID string) (*Application, error) {
	var app *Application
	err := s.do(ctx, "get application", func() error {
		var err error
		app, err = s.store.Get(ctx, applicationID)
		return err
	})
	return app, err
}
