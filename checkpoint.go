package screenflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.jetify.com/typeid"
)

// ThreadStatus is the status recorded on a checkpoint.
type ThreadStatus string

const (
	ThreadStatusRunning   ThreadStatus = "running"
	ThreadStatusSuspended ThreadStatus = "suspended"
	ThreadStatusCompleted ThreadStatus = "completed"
	ThreadStatusCancelled ThreadStatus = "cancelled"
)

// Terminal reports whether no further stages will run for this status.
func (s ThreadStatus) Terminal() bool {
	return s == ThreadStatusCompleted || s == ThreadStatusCancelled
}

// Checkpoint is an immutable snapshot of a thread, written after every stage.
// Only the checkpoint with the highest Sequence is authoritative.
type Checkpoint struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"thread_id"`
	Pipeline    string       `json:"pipeline"`
	Sequence    int64        `json:"sequence"`
	Status      ThreadStatus `json:"status"`
	Stage       string       `json:"stage,omitempty"`
	NextStage   string       `json:"next_stage,omitempty"`
	State       State        `json:"state"`
	Suspension  *Suspension  `json:"suspension,omitempty"`
	InputDigest string       `json:"input_digest"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewCheckpointID returns a new unique checkpoint ID.
func NewCheckpointID() string {
	id, err := typeid.WithPrefix("ckpt")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Clone returns a deep copy of the checkpoint.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.State = c.State.Clone()
	if c.Suspension != nil {
		s := *c.Suspension
		s.Payload = append(json.RawMessage(nil), c.Suspension.Payload...)
		out.Suspension = &s
	}
	return &out
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
