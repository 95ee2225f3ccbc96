// Package screening implements the candidate screening pipeline: CV
// extraction, rubric scoring, flagging, a human review pause and the final
// decision, all driven by the screenflow engine.
package screening

import (
	"encoding/json"
	"time"
)

// Decisions recorded on an application.
const (
	DecisionShortlist = "Shortlist"
	DecisionRejected  = "Rejected"
)

// Recommendations shown to reviewers.
const (
	RecommendNextRound = "Recommend for next round"
	RecommendReject    = "Do not recommend"
)

// Outcome statuses returned by StartOrAdvance.
const (
	StatusDone          = "done"
	StatusWaitingReview = "waiting_review"
	StatusCancelled     = "cancelled"
)

// Input is a CV submission.
type Input struct {
	CVText string `json:"cv_text"`
}

// ReviewDecision is the value a human reviewer supplies to resume a thread.
type ReviewDecision struct {
	Approve         bool            `json:"approve"`
	Decision        string          `json:"decision,omitempty"`
	ReviewerNotes   string          `json:"reviewer_notes,omitempty"`
	EditedExtracted json.RawMessage `json:"edited_extracted,omitempty"`
}

// ReviewPayload is what a suspended thread exposes to reviewers.
type ReviewPayload struct {
	ApplicationID  string         `json:"application_id"`
	Score          int            `json:"score"`
	Flags          []string       `json:"flags"`
	Extracted      map[string]any `json:"extracted"`
	Recommendation string         `json:"recommendation"`
}

// Draft is the current analysis of an application.
type Draft struct {
	Score         int            `json:"score"`
	Flags         []string       `json:"flags"`
	Decision      *string        `json:"decision"`
	Extracted     map[string]any `json:"extracted"`
	ReviewerNotes string         `json:"reviewer_notes"`
}

// Outcome is the result of StartOrAdvance.
type Outcome struct {
	Status    string         `json:"status"`
	Interrupt *ReviewPayload `json:"interrupt"`
	Draft     Draft          `json:"draft"`
}

// ResumeOutcome is the result of SubmitResume. OK is false when the thread
// was not waiting for a review.
type ResumeOutcome struct {
	OK      bool         `json:"ok"`
	Message string       `json:"message,omitempty"`
	Final   *Application `json:"final,omitempty"`
}

// Application is the stored record of a screened application.
type Application struct {
	ID            int64          `json:"id"`
	ApplicationID string         `json:"application_id"`
	CVText        string         `json:"cv_text"`
	Extracted     map[string]any `json:"extracted_json"`
	Score         *int           `json:"score"`
	Flags         []string       `json:"flags"`
	Decision      *string        `json:"decision"`
	ReviewerNotes *string        `json:"reviewer_notes"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the application.
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	out := *a
	if a.Extracted != nil {
		out.Extracted = cloneObject(a.Extracted)
	}
	if a.Flags != nil {
		out.Flags = append([]string(nil), a.Flags...)
	}
	if a.Score != nil {
		score := *a.Score
		out.Score = &score
	}
	if a.Decision != nil {
		decision := *a.Decision
		out.Decision = &decision
	}
	if a.ReviewerNotes != nil {
		notes := *a.ReviewerNotes
		out.ReviewerNotes = &notes
	}
	return &out
}

// HistoryEntry summarizes one checkpoint of an application's thread.
type HistoryEntry struct {
	Sequence  int64     `json:"sequence"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage,omitempty"`
	NextStage string    `json:"next_stage,omitempty"`
	Score     int       `json:"score"`
	Decision  *string   `json:"decision"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// pipelineState is the typed view of the screening fields in a thread state.
type pipelineState struct {
	ApplicationID string         `json:"application_id"`
	CVText        string         `json:"cv_text"`
	RecordID      int64          `json:"record_id"`
	Extracted     map[string]any `json:"extracted"`
	Score         int            `json:"score"`
	Flags         []string       `json:"flags"`
	NeedsHuman    bool           `json:"needs_human"`
	Decision      *string        `json:"decision"`
	ReviewerNotes string         `json:"reviewer_notes"`
}

func (s *pipelineState) draft() Draft {
	d := Draft{
		Score:         s.Score,
		Flags:         s.Flags,
		Decision:      s.Decision,
		Extracted:     s.Extracted,
		ReviewerNotes: s.ReviewerNotes,
	}
	if d.Flags == nil {
		d.Flags = []string{}
	}
	if d.Extracted == nil {
		d.Extracted = map[string]any{}
	}
	return d
}

func cloneObject(m map[string]any) map[string]any {
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}
