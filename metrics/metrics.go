// Package metrics exports screenflow engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/deepnoodle-ai/screenflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Checkpoint write results.
const (
	ResultOK       = "ok"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// Metrics holds the engine metrics. It implements screenflow.EngineCallbacks
// so it can be passed straight to the engine or added to a CallbackChain.
type Metrics struct {
	screenflow.BaseEngineCallbacks

	// BurstsTotal counts bursts by pipeline, resulting status and whether
	// the burst resumed a suspended thread.
	BurstsTotal *prometheus.CounterVec

	// BurstFailures counts bursts that returned an error, by error type.
	BurstFailures *prometheus.CounterVec

	BurstDuration *prometheus.HistogramVec

	StageDuration *prometheus.HistogramVec

	// StageFailures counts stage errors by stage and error type.
	StageFailures *prometheus.CounterVec

	// Suspensions counts threads pausing for input, by stage.
	Suspensions *prometheus.CounterVec

	// CheckpointWrites counts checkpoint appends by result.
	CheckpointWrites *prometheus.CounterVec

	CheckpointWriteDuration prometheus.Histogram

	// Decisions counts completed threads by the decision in their state.
	Decisions *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics with reg. The namespace is
// used as a prefix for all metric names.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BurstsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bursts_total",
			Help:      "Total number of engine bursts by resulting thread status",
		}, []string{"pipeline", "status", "resumed"}),
		BurstFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "burst_failures_total",
			Help:      "Total number of engine bursts that failed",
		}, []string{"pipeline", "error_type"}),
		BurstDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "burst_duration_seconds",
			Help:      "Duration of engine bursts in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"pipeline"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of stage executions in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"pipeline", "stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of failed stage executions",
		}, []string{"pipeline", "stage", "error_type"}),
		Suspensions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspensions_total",
			Help:      "Total number of threads suspended waiting for input",
		}, []string{"pipeline", "stage"}),
		CheckpointWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Total number of checkpoint appends by result",
		}, []string{"result"}),
		CheckpointWriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_write_duration_seconds",
			Help:      "Duration of checkpoint appends in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of completed threads by decision",
		}, []string{"pipeline", "decision"}),
	}
}

func (m *Metrics) AfterBurst(ctx context.Context, event *screenflow.BurstEvent) {
	m.BurstDuration.WithLabelValues(event.Pipeline).Observe(event.Duration.Seconds())
	if event.Error != nil {
		m.BurstFailures.WithLabelValues(event.Pipeline, screenflow.ClassifyError(event.Error).Type).Inc()
		return
	}
	m.BurstsTotal.WithLabelValues(event.Pipeline, string(event.Status), strconv.FormatBool(event.Resumed)).Inc()
	if event.Status == screenflow.ThreadStatusSuspended && event.Suspension != nil {
		m.Suspensions.WithLabelValues(event.Pipeline, event.Suspension.Stage).Inc()
	}
	if event.Status == screenflow.ThreadStatusCompleted {
		if decision, ok := event.State["decision"].(string); ok && decision != "" {
			m.Decisions.WithLabelValues(event.Pipeline, decision).Inc()
		}
	}
}

func (m *Metrics) AfterStage(ctx context.Context, event *screenflow.StageEvent) {
	m.StageDuration.WithLabelValues(event.Pipeline, event.Stage).Observe(event.Duration.Seconds())
	if event.Error != nil {
		m.StageFailures.WithLabelValues(event.Pipeline, event.Stage, screenflow.ClassifyError(event.Error).Type).Inc()
	}
}

func (m *Metrics) AfterCheckpoint(ctx context.Context, event *screenflow.CheckpointEvent) {
	m.CheckpointWriteDuration.Observe(event.Duration.Seconds())
	switch {
	case event.Error == nil:
		m.CheckpointWrites.WithLabelValues(ResultOK).Inc()
	case errors.Is(event.Error, screenflow.ErrSequenceConflict):
		m.CheckpointWrites.WithLabelValues(ResultConflict).Inc()
	default:
		m.CheckpointWrites.WithLabelValues(ResultError).Inc()
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
