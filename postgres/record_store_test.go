package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/screenflow/screening"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var applicationColumnNames = []string{
	"id", "application_id", "cv_text", "extracted_json", "score", "flags_json",
	"decision", "reviewer_notes", "created_at", "updated_at",
}

func TestRecordStoreUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO applications .* ON CONFLICT \\(application_id\\) DO UPDATE SET .* RETURNING id, decision").
		WithArgs("app_001", "cv text").
		WillReturnRows(pgxmock.NewRows([]string{"id", "decision"}).AddRow(int64(7), nil))

	res, err := NewRecordStore(mock).Upsert(context.Background(), "app_001", "cv text")
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.ID)
	assert.Nil(t, res.Decision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreUpdateAnalysis(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE applications SET extracted_json = \\$2, score = \\$3, flags_json = \\$4").
		WithArgs("app_001", []byte(`{"name":"Ada"}`), 85, []byte(`[]`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = NewRecordStore(mock).UpdateAnalysis(context.Background(), "app_001", map[string]any{"name": "Ada"}, 85, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreSetDecision(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE applications SET decision = \\$2, reviewer_notes = \\$3").
		WithArgs("app_001", screening.DecisionShortlist, "strong").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = NewRecordStore(mock).SetDecision(context.Background(), "app_001", screening.DecisionShortlist, "strong")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreGet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("returns the record", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows(applicationColumnNames).AddRow(
			int64(7), "app_001", "cv text", []byte(`{"name":"Ada"}`), int64(85),
			[]byte(`["Missing contact information"]`), "Shortlist", "strong", now, now,
		)
		mock.ExpectQuery("SELECT .* FROM applications WHERE application_id = \\$1").
			WithArgs("app_001").
			WillReturnRows(rows)

		app, err := NewRecordStore(mock).Get(ctx, "app_001")
		require.NoError(t, err)
		assert.Equal(t, int64(7), app.ID)
		assert.Equal(t, "Ada", app.Extracted["name"])
		require.NotNil(t, app.Score)
		assert.Equal(t, 85, *app.Score)
		assert.Equal(t, []string{"Missing contact information"}, app.Flags)
		assert.Equal(t, "Shortlist", *app.Decision)
		assert.Equal(t, "strong", *app.ReviewerNotes)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("null analysis columns", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows(applicationColumnNames).AddRow(
			int64(7), "app_001", "cv text", nil, nil, nil, nil, nil, now, now,
		)
		mock.ExpectQuery("SELECT .* FROM applications").
			WithArgs("app_001").
			WillReturnRows(rows)

		app, err := NewRecordStore(mock).Get(ctx, "app_001")
		require.NoError(t, err)
		assert.Nil(t, app.Score)
		assert.Nil(t, app.Decision)
		assert.Nil(t, app.ReviewerNotes)
		assert.Nil(t, app.Extracted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT .* FROM applications").
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err = NewRecordStore(mock).Get(ctx, "missing")
		require.ErrorIs(t, err, screening.ErrApplicationNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
