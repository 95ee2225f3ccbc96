package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/deepnoodle-ai/screenflow"
	"github.com/deepnoodle-ai/screenflow/retry"
	"github.com/deepnoodle-ai/screenflow/screening"
	"github.com/segmentio/kafka-go"
)

// ReviewEvent is a reviewer decision delivered over Kafka.
type ReviewEvent struct {
	ApplicationID   string          `json:"application_id"`
	Approve         bool            `json:"approve"`
	Decision        string          `json:"decision,omitempty"`
	ReviewerNotes   string          `json:"reviewer_notes,omitempty"`
	EditedExtracted json.RawMessage `json:"edited_extracted,omitempty"`
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReviewSubmitter applies a reviewer decision. Implemented by
// *screening.Service.
type ReviewSubmitter interface {
	SubmitResume(ctx context.Context, applicationID string, review screening.ReviewDecision) (*screening.ResumeOutcome, error)
}

// ListenerConfig configures NewKafkaReader.
type ListenerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaReader returns a consumer group reader for review events.
func NewKafkaReader(cfg ListenerConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
}

// ReviewListener consumes review events and resumes the matching threads.
type ReviewListener struct {
	reader    MessageReader
	submitter ReviewSubmitter
	logger    *slog.Logger
	options   []retry.Option
}

// NewReviewListener returns a listener reading from reader. Options are
// passed to retry.Do when applying a review fails transiently.
func NewReviewListener(reader MessageReader, submitter ReviewSubmitter, logger *slog.Logger, options ...retry.Option) *ReviewListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l := &ReviewListener{
		reader:    reader,
		submitter: submitter,
		logger:    logger.With("component", "review_listener"),
	}
	l.options = append([]retry.Option{
		retry.WithMaxRetries(5),
		retry.WithShouldRetry(retryableReviewError),
		retry.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			l.logger.Warn("retrying review event", "attempt", attempt, "wait", wait, "error", err)
		}),
	}, options...)
	return l
}

// retryableReviewError reports whether applying a review may succeed later.
func retryableReviewError(err error) bool {
	return errors.Is(err, screenflow.ErrStoreUnavailable) || retry.IsRecoverable(err)
}

// Run consumes messages until ctx is cancelled. An offset is committed only
// once its review was applied or can never be applied, such as a malformed
// message or a thread that is not waiting. When a transient failure outlasts
// the retries, Run returns without committing so the review is redelivered.
func (l *ReviewListener) Run(ctx context.Context) error {
	l.logger.Info("starting review listener")
	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("review listener stopped")
				return ctx.Err()
			}
			if err == io.EOF {
				return nil
			}
			l.logger.Error("failed to fetch message", "error", err)
			continue
		}
		err = retry.Do(ctx, func() error { return l.handle(ctx, msg) }, l.options...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if retryableReviewError(err) {
				return fmt.Errorf("partition %d offset %d: %w", msg.Partition, msg.Offset, err)
			}
			l.logger.Error("dropping review event",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// An uncommitted review is redelivered and then ignored because the
			// thread is no longer waiting.
			l.logger.Error("failed to commit message", "offset", msg.Offset, "error", err)
		}
	}
}

func (l *ReviewListener) handle(ctx context.Context, msg kafka.Message) error {
	var event ReviewEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal review event: %w", err)
	}
	if strings.TrimSpace(event.ApplicationID) == "" {
		event.ApplicationID = string(msg.Key)
	}
	if strings.TrimSpace(event.ApplicationID) == "" {
		return fmt.Errorf("review event has no application id")
	}

	outcome, err := l.submitter.SubmitResume(ctx, event.ApplicationID, screening.ReviewDecision{
		Approve:         event.Approve,
		Decision:        event.Decision,
		ReviewerNotes:   event.ReviewerNotes,
		EditedExtracted: event.EditedExtracted,
	})
	if err != nil {
		return fmt.Errorf("application %q: %w", event.ApplicationID, err)
	}
	if !outcome.OK {
		l.logger.Warn("review ignored", "application_id", event.ApplicationID, "reason", outcome.Message)
		return nil
	}
	l.logger.Info("review applied", "application_id", event.ApplicationID)
	return nil
}

// Close closes the underlying reader.
func (l *ReviewListener) Close() error {
	return l.reader.Close()
}
