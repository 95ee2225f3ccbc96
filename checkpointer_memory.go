package screenflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryCheckpointer keeps checkpoints in process memory. It is used in
// tests and for ephemeral runs.
type MemoryCheckpointer struct {
	mutex   sync.Mutex
	threads map[string][]*Checkpoint
}

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{threads: map[string][]*Checkpoint{}}
}

func (c *MemoryCheckpointer) LoadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	history := c.threads[threadID]
	if len(history) == 0 {
		return nil, nil
	}
	return history[len(history)-1].Clone(), nil
}

func (c *MemoryCheckpointer) Append(ctx context.Context, checkpoint *Checkpoint) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	history := c.threads[checkpoint.ThreadID]
	if expected := int64(len(history)) + 1; checkpoint.Sequence != expected {
		return fmt.Errorf("thread %q: append sequence %d, expected %d: %w",
			checkpoint.ThreadID, checkpoint.Sequence, expected, ErrSequenceConflict)
	}
	c.threads[checkpoint.ThreadID] = append(history, checkpoint.Clone())
	return nil
}

func (c *MemoryCheckpointer) History(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	history := c.threads[threadID]
	out := make([]*Checkpoint, 0, len(history))
	for _, checkpoint := range history {
		out = append(out, checkpoint.Clone())
	}
	return out, nil
}

func (c *MemoryCheckpointer) DeleteCheckpoints(ctx context.Context, threadID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.threads, threadID)
	return nil
}

func (c *MemoryCheckpointer) ListThreads(ctx context.Context) ([]*ThreadSummary, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	summaries := make([]*ThreadSummary, 0, len(c.threads))
	for _, history := range c.threads {
		if len(history) == 0 {
			continue
		}
		summaries = append(summaries, NewThreadSummary(history[0], history[len(history)-1]))
	}
	sortSummaries(summaries)
	return summaries, nil
}

func sortSummaries(summaries []*ThreadSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].ThreadID < summaries[j].ThreadID
		}
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
}
