package screenflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const checkpointFileExt = ".json"

// FileCheckpointer persists checkpoints to disk. Each thread has its own
// directory holding one JSON file per sequence number. Files are written to
// a temporary name and hard-linked into place, so a checkpoint is either
// fully present or absent and two writers can never claim the same sequence.
type FileCheckpointer struct {
	dataDir string
}

// NewFileCheckpointer creates a new file-based checkpointer
func NewFileCheckpointer(dataDir string) (*FileCheckpointer, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".screenflow", "threads")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileCheckpointer{dataDir: dataDir}, nil
}

// Dir returns the root data directory
func (c *FileCheckpointer) Dir() string {
	return c.dataDir
}

func (c *FileCheckpointer) threadDir(threadID string) string {
	return filepath.Join(c.dataDir, threadDirName(threadID))
}

// threadDirName maps a thread ID to a single path segment below the data
// directory. PathEscape keeps "." and "..", so dot segments are encoded too.
func threadDirName(threadID string) string {
	name := url.PathEscape(threadID)
	if strings.Trim(name, ".") == "" {
		return strings.ReplaceAll(name, ".", "%2E")
	}
	return name
}

func checkpointFileName(seq int64) string {
	return fmt.Sprintf("%012d%s", seq, checkpointFileExt)
}

// Append writes the checkpoint to disk
func (c *FileCheckpointer) Append(ctx context.Context, checkpoint *Checkpoint) error {
	if checkpoint.ThreadID == "" {
		return errors.New("checkpoint thread id required")
	}
	threadDir := c.threadDir(checkpoint.ThreadID)
	if err := os.MkdirAll(threadDir, 0755); err != nil {
		return fmt.Errorf("failed to create thread directory: %w", err)
	}

	seqs, err := c.sequences(threadDir)
	if err != nil {
		return err
	}
	var latest int64
	if len(seqs) > 0 {
		latest = seqs[len(seqs)-1]
	}
	if checkpoint.Sequence != latest+1 {
		return fmt.Errorf("thread %q: append sequence %d, expected %d: %w",
			checkpoint.ThreadID, checkpoint.Sequence, latest+1, ErrSequenceConflict)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(threadDir, ".pending-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	finalPath := filepath.Join(threadDir, checkpointFileName(checkpoint.Sequence))
	if err := os.Link(tmpPath, finalPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("thread %q: sequence %d already written: %w",
				checkpoint.ThreadID, checkpoint.Sequence, ErrSequenceConflict)
		}
		return fmt.Errorf("failed to commit checkpoint file: %w", err)
	}
	return nil
}

// LoadCheckpoint loads the latest checkpoint for a thread
func (c *FileCheckpointer) LoadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	threadDir := c.threadDir(threadID)
	seqs, err := c.sequences(threadDir)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, nil
	}
	return c.readCheckpoint(threadDir, seqs[len(seqs)-1])
}

// History returns all checkpoints of a thread in sequence order
func (c *FileCheckpointer) History(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	threadDir := c.threadDir(threadID)
	seqs, err := c.sequences(threadDir)
	if err != nil {
		return nil, err
	}
	history := make([]*Checkpoint, 0, len(seqs))
	for _, seq := range seqs {
		checkpoint, err := c.readCheckpoint(threadDir, seq)
		if err != nil {
			return nil, err
		}
		history = append(history, checkpoint)
	}
	return history, nil
}

// DeleteCheckpoints removes all checkpoint data for a thread
func (c *FileCheckpointer) DeleteCheckpoints(ctx context.Context, threadID string) error {
	if err := os.RemoveAll(c.threadDir(threadID)); err != nil {
		return fmt.Errorf("failed to delete thread directory: %w", err)
	}
	return nil
}

// ListThreads returns a summary of every thread with at least one checkpoint
func (c *FileCheckpointer) ListThreads(ctx context.Context) ([]*ThreadSummary, error) {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*ThreadSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read threads directory: %w", err)
	}

	summaries := []*ThreadSummary{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		summary, err := c.threadSummary(filepath.Join(c.dataDir, entry.Name()))
		if err != nil {
			// Skip threads we can't read
			continue
		}
		if summary != nil {
			summaries = append(summaries, summary)
		}
	}
	sortSummaries(summaries)
	return summaries, nil
}

func (c *FileCheckpointer) threadSummary(threadDir string) (*ThreadSummary, error) {
	seqs, err := c.sequences(threadDir)
	if err != nil || len(seqs) == 0 {
		return nil, err
	}
	first, err := c.readCheckpoint(threadDir, seqs[0])
	if err != nil {
		return nil, err
	}
	latest := first
	if len(seqs) > 1 {
		if latest, err = c.readCheckpoint(threadDir, seqs[len(seqs)-1]); err != nil {
			return nil, err
		}
	}
	return NewThreadSummary(first, latest), nil
}

// sequences lists the committed sequence numbers in a thread directory in
// ascending order. Pending temp files are ignored.
func (c *FileCheckpointer) sequences(threadDir string) ([]int64, error) {
	entries, err := os.ReadDir(threadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read thread directory: %w", err)
	}
	var seqs []int64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, checkpointFileExt) {
			continue
		}
		seq, err := strconv.ParseInt(strings.TrimSuffix(name, checkpointFileExt), 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (c *FileCheckpointer) readCheckpoint(threadDir string, seq int64) (*Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(threadDir, checkpointFileName(seq)))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}
