package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deepnoodle-ai/screenflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfterBurst(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	ctx := context.Background()

	m.AfterBurst(ctx, &screenflow.BurstEvent{
		Pipeline: "screening",
		Status:   screenflow.ThreadStatusSuspended,
		Duration: 20 * time.Millisecond,
		Suspension: &screenflow.Suspension{
			Stage: "human_review",
		},
	})
	m.AfterBurst(ctx, &screenflow.BurstEvent{
		Pipeline: "screening",
		Resumed:  true,
		Status:   screenflow.ThreadStatusCompleted,
		State:    screenflow.State{"decision": "Shortlist"},
	})
	m.AfterBurst(ctx, &screenflow.BurstEvent{
		Pipeline: "screening",
		Error:    fmt.Errorf("append checkpoint: %w", screenflow.ErrStoreUnavailable),
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BurstsTotal.WithLabelValues("screening", "suspended", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BurstsTotal.WithLabelValues("screening", "completed", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Suspensions.WithLabelValues("screening", "human_review")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("screening", "Shortlist")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BurstFailures.WithLabelValues("screening", screenflow.ErrorTypeStoreUnavailable)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BurstDuration))
}

func TestAfterStage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	ctx := context.Background()

	m.AfterStage(ctx, &screenflow.StageEvent{Pipeline: "screening", Stage: "extract", Duration: time.Second})
	m.AfterStage(ctx, &screenflow.StageEvent{Pipeline: "screening", Stage: "extract", Error: context.DeadlineExceeded})
	m.AfterStage(ctx, &screenflow.StageEvent{Pipeline: "screening", Stage: "score", Error: errors.New("boom")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageFailures.WithLabelValues("screening", "extract", screenflow.ErrorTypeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageFailures.WithLabelValues("screening", "score", screenflow.ErrorTypeStageFailed)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StageDuration))
}

func TestAfterCheckpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	ctx := context.Background()

	m.AfterCheckpoint(ctx, &screenflow.CheckpointEvent{})
	m.AfterCheckpoint(ctx, &screenflow.CheckpointEvent{Error: fmt.Errorf("x: %w", screenflow.ErrSequenceConflict)})
	m.AfterCheckpoint(ctx, &screenflow.CheckpointEvent{Error: screenflow.ErrStoreUnavailable})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckpointWrites.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckpointWrites.WithLabelValues(ResultConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckpointWrites.WithLabelValues(ResultError)))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("screenflow", reg)
	m.AfterCheckpoint(context.Background(), &screenflow.CheckpointEvent{})

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `screenflow_checkpoint_writes_total{result="ok"} 1`)
}

func TestMetricsAsEngineCallbacks(t *testing.T) {
	var callbacks screenflow.EngineCallbacks = NewMetrics("test", prometheus.NewRegistry())
	assert.NotNil(t, callbacks)
}
