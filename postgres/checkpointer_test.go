package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deepnoodle-ai/screenflow"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var checkpointColumnNames = []string{
	"thread_id", "seq", "id", "pipeline", "status", "stage", "next_stage",
	"state", "suspension", "input_digest", "error", "created_at",
}

func newTestCheckpoint() *screenflow.Checkpoint {
	return &screenflow.Checkpoint{
		ID:          "ckpt_01",
		ThreadID:    "app_001",
		Pipeline:    "screening",
		Sequence:    2,
		Status:      screenflow.ThreadStatusRunning,
		Stage:       "register",
		NextStage:   "extract",
		State:       screenflow.State{"cv_text": "cv", "score": float64(0)},
		InputDigest: "abc",
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestCheckpointerAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts the checkpoint", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		checkpoint := newTestCheckpoint()
		mock.ExpectExec("INSERT INTO screenflow_checkpoints").
			WithArgs("app_001", int64(2), "ckpt_01", "screening", "running", "register", "extract",
				pgxmock.AnyArg(), pgxmock.AnyArg(), "abc", "", checkpoint.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewCheckpointer(mock).Append(ctx, checkpoint))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sequence gap is a conflict", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("INSERT INTO screenflow_checkpoints").
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		err = NewCheckpointer(mock).Append(ctx, newTestCheckpoint())
		require.ErrorIs(t, err, screenflow.ErrSequenceConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate key is a conflict", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("INSERT INTO screenflow_checkpoints").
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err = NewCheckpointer(mock).Append(ctx, newTestCheckpoint())
		require.ErrorIs(t, err, screenflow.ErrSequenceConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other errors are returned", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("INSERT INTO screenflow_checkpoints").
			WillReturnError(errors.New("connection reset"))

		err = NewCheckpointer(mock).Append(ctx, newTestCheckpoint())
		require.Error(t, err)
		assert.NotErrorIs(t, err, screenflow.ErrSequenceConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCheckpointerLoadCheckpoint(t *testing.T) {
	ctx := context.Background()
	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("returns the latest checkpoint", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows(checkpointColumnNames).AddRow(
			"app_001", int64(6), "ckpt_06", "screening", "suspended", "human_review", "human_review",
			[]byte(`{"score":85,"flags":[]}`),
			[]byte(`{"stage":"human_review","payload":{"score":85},"created_at":"2026-01-02T03:04:05Z"}`),
			"abc", "", createdAt,
		)
		mock.ExpectQuery("SELECT .* FROM screenflow_checkpoints WHERE thread_id = \\$1 ORDER BY seq DESC").
			WithArgs("app_001").
			WillReturnRows(rows)

		checkpoint, err := NewCheckpointer(mock).LoadCheckpoint(ctx, "app_001")
		require.NoError(t, err)
		require.NotNil(t, checkpoint)
		assert.Equal(t, int64(6), checkpoint.Sequence)
		assert.Equal(t, screenflow.ThreadStatusSuspended, checkpoint.Status)
		assert.Equal(t, float64(85), checkpoint.State["score"])
		require.NotNil(t, checkpoint.Suspension)
		assert.Equal(t, "human_review", checkpoint.Suspension.Stage)
		assert.JSONEq(t, `{"score":85}`, string(checkpoint.Suspension.Payload))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns nil for an unknown thread", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT .* FROM screenflow_checkpoints").
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		checkpoint, err := NewCheckpointer(mock).LoadCheckpoint(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, checkpoint)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCheckpointerHistory(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := pgxmock.NewRows(checkpointColumnNames).
		AddRow("app_001", int64(1), "ckpt_01", "screening", "running", "", "register",
			[]byte(`{}`), nil, "abc", "", createdAt).
		AddRow("app_001", int64(2), "ckpt_02", "screening", "running", "register", "extract",
			[]byte(`{"record_id":1}`), nil, "abc", "", createdAt.Add(time.Second))
	mock.ExpectQuery("SELECT .* FROM screenflow_checkpoints WHERE thread_id = \\$1 ORDER BY seq ASC").
		WithArgs("app_001").
		WillReturnRows(rows)

	history, err := NewCheckpointer(mock).History(ctx, "app_001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Sequence)
	assert.Equal(t, "extract", history[1].NextStage)
	assert.Nil(t, history[1].Suspension)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointerListThreads(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"thread_id", "pipeline", "status", "next_stage", "seq", "started_at", "created_at", "error",
	}).AddRow("app_002", "screening", "completed", "", int64(9), started, started.Add(time.Minute), "")
	mock.ExpectQuery("SELECT .* FROM \\(").WillReturnRows(rows)

	summaries, err := NewCheckpointer(mock).ListThreads(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "app_002", summaries[0].ThreadID)
	assert.Equal(t, screenflow.ThreadStatusCompleted, summaries[0].Status)
	assert.Equal(t, time.Minute, summaries[0].Duration)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointerDeleteCheckpoints(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM screenflow_checkpoints WHERE thread_id = \\$1").
		WithArgs("app_001").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, NewCheckpointer(mock).DeleteCheckpoints(context.Background(), "app_001"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
