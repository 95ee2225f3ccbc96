package screenflow

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileStageLoggerSkipsPartialLine(t *testing.T) {
	dir := t.TempDir()
	logger := NewFileStageLogger(dir)
	ctx := context.Background()

	entries, err := logger.GetStageHistory(ctx, "app/1")
	require.NoError(t, err)
	require.Empty(t, entries)

	require.NoError(t, logger.LogStage(ctx, &StageLogEntry{
		ID:        "1",
		ThreadID:  "app/1",
		Stage:     "extract",
		StartTime: time.Now(),
	}))

	f, err := os.OpenFile(logger.path("app/1"), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"2","thread_id":"app/1","sta`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err = logger.GetStageHistory(ctx, "app/1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "extract", entries[0].Stage)
}

func TestFileStageLoggerRejectsCorruptLine(t *testing.T) {
	logger := NewFileStageLogger(t.TempDir())
	require.NoError(t, os.WriteFile(logger.path("app_2"), []byte("not json\n{}\n"), 0o644))

	_, err := logger.GetStageHistory(context.Background(), "app_2")
	require.ErrorContains(t, err, "line 1")
}
