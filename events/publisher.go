// Package events publishes thread lifecycle events to Kafka and consumes
// reviewer decisions from it.
package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/deepnoodle-ai/screenflow"
	"github.com/segmentio/kafka-go"
)

// Event types published for a thread.
const (
	TypeSuspended = "thread.suspended"
	TypeCompleted = "thread.completed"
	TypeCancelled = "thread.cancelled"
	TypeFailed    = "thread.failed"
)

// ThreadEvent is the message value published after each burst.
type ThreadEvent struct {
	Type      string                  `json:"type"`
	ThreadID  string                  `json:"thread_id"`
	Pipeline  string                  `json:"pipeline"`
	Status    screenflow.ThreadStatus `json:"status,omitempty"`
	Stage     string                  `json:"stage,omitempty"`
	Payload   json.RawMessage         `json:"payload,omitempty"`
	Decision  string                  `json:"decision,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Resumed   bool                    `json:"resumed"`
	Timestamp time.Time               `json:"timestamp"`
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherConfig configures NewKafkaWriter.
type PublisherConfig struct {
	Brokers []string
	Topic   string
}

// NewKafkaWriter returns a writer that keys messages by thread ID so events
// of a thread stay ordered within a partition.
func NewKafkaWriter(cfg PublisherConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Publisher is an engine callback that publishes a ThreadEvent whenever a
// thread suspends, completes, fails or is cancelled. Publish failures are
// logged and never fail the burst.
type Publisher struct {
	screenflow.BaseEngineCallbacks
	writer  MessageWriter
	logger  *slog.Logger
	timeout time.Duration
}

// NewPublisher returns a publisher writing to writer.
func NewPublisher(writer MessageWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{
		writer:  writer,
		logger:  logger.With("component", "event_publisher"),
		timeout: 5 * time.Second,
	}
}

func (p *Publisher) AfterBurst(ctx context.Context, event *screenflow.BurstEvent) {
	te := &ThreadEvent{
		ThreadID:  event.ThreadID,
		Pipeline:  event.Pipeline,
		Status:    event.Status,
		Resumed:   event.Resumed,
		Timestamp: event.EndTime,
	}
	switch {
	case event.Error != nil:
		te.Type = TypeFailed
		te.Status = ""
		te.Error = event.Error.Error()
	case event.Status == screenflow.ThreadStatusSuspended:
		te.Type = TypeSuspended
		if event.Suspension != nil {
			te.Stage = event.Suspension.Stage
			te.Payload = event.Suspension.Payload
		}
	case event.Status == screenflow.ThreadStatusCompleted:
		te.Type = TypeCompleted
		te.Decision, _ = event.State["decision"].(string)
	default:
		return
	}
	p.publish(ctx, te)
}

// AfterCheckpoint publishes cancellations, which are written outside of a
// burst.
func (p *Publisher) AfterCheckpoint(ctx context.Context, event *screenflow.CheckpointEvent) {
	checkpoint := event.Checkpoint
	if event.Error != nil || checkpoint == nil || checkpoint.Status != screenflow.ThreadStatusCancelled {
		return
	}
	p.publish(ctx, &ThreadEvent{
		Type:      TypeCancelled,
		ThreadID:  checkpoint.ThreadID,
		Pipeline:  checkpoint.Pipeline,
		Status:    checkpoint.Status,
		Stage:     checkpoint.Stage,
		Error:     checkpoint.Error,
		Timestamp: checkpoint.CreatedAt,
	})
}

func (p *Publisher) publish(ctx context.Context, event *ThreadEvent) {
	if err := p.Publish(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Error("failed to publish thread event",
			"thread_id", event.ThreadID, "type", event.Type, "error", err)
	}
}

// Publish writes a single event keyed by its thread ID.
func (p *Publisher) Publish(ctx context.Context, event *ThreadEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ThreadID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	})
}

// Close closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
