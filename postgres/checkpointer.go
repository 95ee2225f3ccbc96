package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/screenflow"
	"github.com/jackc/pgx/v5"
)

const checkpointColumns = `thread_id, seq, id, pipeline, status, stage, next_stage,
	state, suspension, input_digest, error, created_at`

// The insert only happens when the new sequence directly follows the latest
// stored one. Concurrent writers that both pass the check collide on the
// (thread_id, seq) primary key.
const appendCheckpointSQL = `
	INSERT INTO screenflow_checkpoints (` + checkpointColumns + `)
	SELECT $1::text, $2::bigint, $3::text, $4::text, $5::text, $6::text, $7::text,
		$8::jsonb, $9::jsonb, $10::text, $11::text, $12::timestamptz
	WHERE COALESCE(
		(SELECT MAX(seq) FROM screenflow_checkpoints WHERE thread_id = $1::text), 0
	) = $2::bigint - 1`

const loadCheckpointSQL = `
	SELECT ` + checkpointColumns + `
	FROM screenflow_checkpoints
	WHERE thread_id = $1
	ORDER BY seq DESC
	LIMIT 1`

const historySQL = `
	SELECT ` + checkpointColumns + `
	FROM screenflow_checkpoints
	WHERE thread_id = $1
	ORDER BY seq ASC`

const listThreadsSQL = `
	SELECT l.thread_id, l.pipeline, l.status, l.next_stage, l.seq, f.started_at, l.created_at, l.error
	FROM (
		SELECT DISTINCT ON (thread_id) thread_id, pipeline, status, next_stage, seq, created_at, error
		FROM screenflow_checkpoints
		ORDER BY thread_id, seq DESC
	) l
	JOIN (
		SELECT thread_id, MIN(created_at) AS started_at
		FROM screenflow_checkpoints
		GROUP BY thread_id
	) f ON f.thread_id = l.thread_id
	ORDER BY l.created_at DESC, l.thread_id ASC`

// Checkpointer stores thread checkpoints in the screenflow_checkpoints table.
type Checkpointer struct {
	db DBTX
}

var _ screenflow.Checkpointer = (*Checkpointer)(nil)

// NewCheckpointer returns a checkpointer backed by db.
func NewCheckpointer(db DBTX) *Checkpointer {
	return &Checkpointer{db: db}
}

func (c *Checkpointer) LoadCheckpoint(ctx context.Context, threadID string) (*screenflow.Checkpoint, error) {
	checkpoint, err := scanCheckpoint(c.db.QueryRow(ctx, loadCheckpointSQL, threadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return checkpoint, nil
}

func (c *Checkpointer) Append(ctx context.Context, checkpoint *screenflow.Checkpoint) error {
	state, err := json.Marshal(checkpoint.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	var suspension []byte
	if checkpoint.Suspension != nil {
		if suspension, err = json.Marshal(checkpoint.Suspension); err != nil {
			return fmt.Errorf("failed to marshal suspension: %w", err)
		}
	}

	tag, err := c.db.Exec(ctx, appendCheckpointSQL,
		checkpoint.ThreadID, checkpoint.Sequence, checkpoint.ID, checkpoint.Pipeline,
		string(checkpoint.Status), checkpoint.Stage, checkpoint.NextStage,
		state, suspension, checkpoint.InputDigest, checkpoint.Error, checkpoint.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("thread %q: sequence %d already written: %w",
				checkpoint.ThreadID, checkpoint.Sequence, screenflow.ErrSequenceConflict)
		}
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("thread %q: sequence %d does not follow the latest checkpoint: %w",
			checkpoint.ThreadID, checkpoint.Sequence, screenflow.ErrSequenceConflict)
	}
	return nil
}

func (c *Checkpointer) History(ctx context.Context, threadID string) ([]*screenflow.Checkpoint, error) {
	rows, err := c.db.Query(ctx, historySQL, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint history: %w", err)
	}
	defer rows.Close()

	var history []*screenflow.Checkpoint
	for rows.Next() {
		checkpoint, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		history = append(history, checkpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return history, nil
}

func (c *Checkpointer) DeleteCheckpoints(ctx context.Context, threadID string) error {
	if _, err := c.db.Exec(ctx, `DELETE FROM screenflow_checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

func (c *Checkpointer) ListThreads(ctx context.Context) ([]*screenflow.ThreadSummary, error) {
	rows, err := c.db.Query(ctx, listThreadsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var summaries []*screenflow.ThreadSummary
	for rows.Next() {
		var (
			latest    screenflow.Checkpoint
			status    string
			startedAt time.Time
		)
		if err := rows.Scan(&latest.ThreadID, &latest.Pipeline, &status, &latest.NextStage,
			&latest.Sequence, &startedAt, &latest.CreatedAt, &latest.Error); err != nil {
			return nil, fmt.Errorf("failed to scan thread summary: %w", err)
		}
		latest.Status = screenflow.ThreadStatus(status)
		first := &screenflow.Checkpoint{CreatedAt: startedAt}
		summaries = append(summaries, screenflow.NewThreadSummary(first, &latest))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate thread summaries: %w", err)
	}
	return summaries, nil
}

func scanCheckpoint(row pgx.Row) (*screenflow.Checkpoint, error) {
	var (
		checkpoint screenflow.Checkpoint
		status     string
		state      []byte
		suspension []byte
	)
	if err := row.Scan(
		&checkpoint.ThreadID, &checkpoint.Sequence, &checkpoint.ID, &checkpoint.Pipeline,
		&status, &checkpoint.Stage, &checkpoint.NextStage,
		&state, &suspension, &checkpoint.InputDigest, &checkpoint.Error, &checkpoint.CreatedAt,
	); err != nil {
		return nil, err
	}
	checkpoint.Status = screenflow.ThreadStatus(status)
	if err := json.Unmarshal(state, &checkpoint.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if checkpoint.State == nil {
		checkpoint.State = screenflow.State{}
	}
	if len(suspension) > 0 {
		var s screenflow.Suspension
		if err := json.Unmarshal(suspension, &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal suspension: %w", err)
		}
		checkpoint.Suspension = &s
	}
	return &checkpoint, nil
}
