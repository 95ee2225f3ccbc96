package screenflow

import (
	"context"
	"time"
)

// StageLogEntry records a single stage attempt
type StageLogEntry struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Stage     string    `json:"stage"`
	Resumed   bool      `json:"resumed,omitempty"`
	Update    Update    `json:"update,omitempty"`
	Suspended bool      `json:"suspended,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartTime time.Time `json:"start_time"`
	Duration  float64   `json:"duration"`
}

// StageLogger records an audit trail of stage attempts, including failed
// attempts that never produced a checkpoint.
type StageLogger interface {
	// LogStage logs a finished stage attempt
	LogStage(ctx context.Context, entry *StageLogEntry) error

	// GetStageHistory retrieves the stage log for a thread
	GetStageHistory(ctx context.Context, threadID string) ([]*StageLogEntry, error)
}
