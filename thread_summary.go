package screenflow

import "time"

// ThreadSummary provides a summary view of a thread
type ThreadSummary struct {
	ThreadID  string        `json:"thread_id"`
	Pipeline  string        `json:"pipeline"`
	Status    ThreadStatus  `json:"status"`
	NextStage string        `json:"next_stage,omitempty"`
	Sequence  int64         `json:"sequence"`
	StartTime time.Time     `json:"start_time"`
	UpdatedAt time.Time     `json:"updated_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// NewThreadSummary builds a summary from the first and latest checkpoints
// of a thread.
func NewThreadSummary(first, latest *Checkpoint) *ThreadSummary {
	return &ThreadSummary{
		ThreadID:  latest.ThreadID,
		Pipeline:  latest.Pipeline,
		Status:    latest.Status,
		NextStage: latest.NextStage,
		Sequence:  latest.Sequence,
		StartTime: first.CreatedAt,
		UpdatedAt: latest.CreatedAt,
		Duration:  latest.CreatedAt.Sub(first.CreatedAt),
		Error:     latest.Error,
	}
}
