package screening

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deepnoodle-ai/screenflow"
	"github.com/deepnoodle-ai/screenflow/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStoreUpsertResets(t *testing.T) {
	fileStore, err := NewFileRecordStore(t.TempDir())
	require.NoError(t, err)
	stores := map[string]RecordStore{
		"memory": NewMemoryRecordStore(),
		"file":   fileStore,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			testUpsertResets(t, store)
		})
	}
}

func testUpsertResets(t *testing.T, store RecordStore) {
	ctx := context.Background()

	first, err := store.Upsert(ctx, "app_001", "cv one")
	require.NoError(t, err)
	require.NoError(t, store.UpdateAnalysis(ctx, "app_001", map[string]any{"name": "Ada"}, 80, []string{"x"}))
	require.NoError(t, store.SetDecision(ctx, "app_001", DecisionShortlist, "ok"))

	app, err := store.Get(ctx, "app_001")
	require.NoError(t, err)
	assert.Equal(t, 80, *app.Score)
	assert.Equal(t, DecisionShortlist, *app.Decision)
	assert.Equal(t, []string{"x"}, app.Flags)

	second, err := store.Upsert(ctx, "app_001", "cv two")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Nil(t, second.Decision)

	app, err = store.Get(ctx, "app_001")
	require.NoError(t, err)
	assert.Equal(t, "cv two", app.CVText)
	assert.Nil(t, app.Score)
	assert.Nil(t, app.Decision)
	assert.Nil(t, app.ReviewerNotes)
	assert.Nil(t, app.Extracted)

	other, err := store.Upsert(ctx, "app_002", "cv")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestMemoryRecordStoreGetReturnsCopy(t *testing.T) {
	store := NewMemoryRecordStore()
	ctx := context.Background()

	_, err := store.Upsert(ctx, "app_001", "cv")
	require.NoError(t, err)
	require.NoError(t, store.UpdateAnalysis(ctx, "app_001", map[string]any{"name": "Ada"}, 50, []string{"a"}))

	app, err := store.Get(ctx, "app_001")
	require.NoError(t, err)
	app.Extracted["name"] = "changed"
	app.Flags[0] = "changed"

	again, err := store.Get(ctx, "app_001")
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.Extracted["name"])
	assert.Equal(t, "a", again.Flags[0])

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrApplicationNotFound)
}

func TestFileRecordStorePersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileRecordStore(dir)
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "app_001", "cv")
	require.NoError(t, err)
	require.NoError(t, store.UpdateAnalysis(ctx, "app_001", map[string]any{"name": "Ada"}, 85, nil))
	require.NoError(t, store.SetDecision(ctx, "app_001", DecisionShortlist, "strong"))

	reopened, err := NewFileRecordStore(dir)
	require.NoError(t, err)
	app, err := reopened.Get(ctx, "app_001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), app.ID)
	assert.Equal(t, "Ada", app.Extracted["name"])
	assert.Equal(t, 85, *app.Score)
	assert.Empty(t, app.Flags)
	assert.Equal(t, "strong", *app.ReviewerNotes)

	// Records missing from the file are ignored by updates.
	require.NoError(t, reopened.SetDecision(ctx, "app_404", DecisionRejected, ""))
	_, err = reopened.Get(ctx, "app_404")
	require.ErrorIs(t, err, ErrApplicationNotFound)

	next, err := reopened.Upsert(ctx, "app_002", "cv")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.ID)
}

type flakyRecordStore struct {
	RecordStore
	failures int
	calls    int
	err      error
}

func (s *flakyRecordStore) Upsert(ctx context.Context, applicationID, cvText string) (*UpsertResult, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	return s.RecordStore.Upsert(ctx, applicationID, cvText)
}

func TestRetryingRecordStore(t *testing.T) {
	ctx := context.Background()
	fast := []retry.Option{retry.WithBaseWait(time.Millisecond), retry.WithMaxRetries(2)}

	t.Run("recovers from transient failures", func(t *testing.T) {
		inner := &flakyRecordStore{
			RecordStore: NewMemoryRecordStore(),
			failures:    2,
			err:         errors.New("connection reset by peer"),
		}
		store := NewRetryingRecordStore(inner, nil, fast...)
		res, err := store.Upsert(ctx, "app_001", "cv")
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.ID)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		inner := &flakyRecordStore{
			RecordStore: NewMemoryRecordStore(),
			failures:    10,
			err:         errors.New("connection reset by peer"),
		}
		store := NewRetryingRecordStore(inner, nil, fast...)
		_, err := store.Upsert(ctx, "app_001", "cv")
		require.ErrorIs(t, err, screenflow.ErrStoreUnavailable)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("does not retry permanent failures", func(t *testing.T) {
		inner := &flakyRecordStore{
			RecordStore: NewMemoryRecordStore(),
			failures:    10,
			err:         errors.New("permission denied"),
		}
		store := NewRetryingRecordStore(inner, nil, fast...)
		_, err := store.Upsert(ctx, "app_001", "cv")
		require.ErrorIs(t, err, screenflow.ErrStoreUnavailable)
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("not found passes through", func(t *testing.T) {
		store := NewRetryingRecordStore(NewMemoryRecordStore(), nil, fast...)
		_, err := store.Get(ctx, "missing")
		require.ErrorIs(t, err, ErrApplicationNotFound)
		assert.NotErrorIs(t, err, screenflow.ErrStoreUnavailable)
	})
}
