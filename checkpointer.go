package screenflow

import (
	"context"
)

// Checkpointer persists the append-only checkpoint history of each thread.
type Checkpointer interface {
	// LoadCheckpoint loads the latest checkpoint for a thread. It returns
	// nil and no error when the thread has no checkpoints.
	LoadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error)

	// Append atomically writes a checkpoint whose Sequence must be exactly
	// one greater than the latest stored sequence for the thread. Otherwise
	// ErrSequenceConflict is returned and nothing is written.
	Append(ctx context.Context, checkpoint *Checkpoint) error

	// History returns every checkpoint of a thread in sequence order.
	History(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// DeleteCheckpoints removes all checkpoint data for a thread
	DeleteCheckpoints(ctx context.Context, threadID string) error

	// ListThreads returns a summary of every known thread, most recently
	// updated first.
	ListThreads(ctx context.Context) ([]*ThreadSummary, error)
}
