package screening

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/screenflow"
)

// Stage names of the screening pipeline.
const (
	StageRegister        = "register"
	StageExtract         = "extract"
	StageScore           = "score"
	StageFlag            = "flag"
	StageHumanReview     = "human_review"
	StagePersistAnalysis = "persist_analysis"
	StageFinalize        = "finalize"
)

//go:embed pipeline.yaml
var pipelineYAML string

// Stages holds the collaborators used by the screening stage functions.
type Stages struct {
	Store     RecordStore
	Extractor Extractor
	Rubric    *Rubric
}

// NewPipeline loads the screening pipeline bound to these stages.
func (s *Stages) NewPipeline() (*screenflow.Pipeline, error) {
	return screenflow.LoadString(pipelineYAML, s.All()...)
}

// All returns every stage function of the pipeline.
func (s *Stages) All() []screenflow.Stage {
	return []screenflow.Stage{
		screenflow.NewStage(StageRegister, s.register),
		screenflow.NewStage(StageExtract, s.extract),
		screenflow.NewStage(StageScore, s.score),
		screenflow.NewStage(StageFlag, s.flag),
		screenflow.NewStage(StageHumanReview, s.humanReview),
		screenflow.NewStage(StagePersistAnalysis, s.persistAnalysis),
		screenflow.NewStage(StageFinalize, s.finalize),
	}
}

func decodeState(in *screenflow.StageInput) (*pipelineState, error) {
	var st pipelineState
	if err := in.State.Decode(&st); err != nil {
		return nil, err
	}
	if st.ApplicationID == "" {
		st.ApplicationID = in.ThreadID
	}
	if st.Extracted == nil {
		st.Extracted = map[string]any{}
	}
	if st.Flags == nil {
		st.Flags = []string{}
	}
	return &st, nil
}

// register upserts the record and resets every analysis field, so a
// re-submitted CV never carries over a previous score or decision.
func (s *Stages) register(ctx context.Context, in *screenflow.StageInput) (screenflow.Update, error) {
	st, err := decodeState(in)
	if err != nil {
		return nil, err
	}
	res, err := s.Store.Upsert(ctx, st.ApplicationID, st.CVText)
	if err != nil {
		return nil, err
	}
	return screenflow.Update{
		"record_id":      res.ID,
		"extracted":      map[string]any{},
		"score":          0,
		"flags":          []string{},
		"needs_human":    true,
		"decision":       res.Decision,
		"reviewer_notes": "",
	}, nil
}

func (s *Stages) extract(ctx context.Context, in *screenflow.StageInput) (screenflow.Update, error) {
	st, err := decodeState(in)
	if err != nil {
		return nil, err
	}
	result, err := s.Extractor.Extract(ctx, st.CVText)
	if err != nil {
		return nil, err
	}
	if result.Malformed() {
		screenflow.LoggerFromContext(ctx).Warn("using default candidate", "error", result.Err)
	}
	extracted := result.Extracted
	if extracted == nil {
		extracted = DefaultCandidate()
	}
	return screenflow.Update{
		"extracted": extracted,
		"messages":  []any{map[string]any{"role": "assistant", "content": result.Raw}},
	}, nil
}

func (s *Stages) score(ctx context.Context, in *screenflow.StageInput) (screenflow.Update, error) {
	st, err := decodeState(in)
	if err != nil {
		return nil, err
	}
	return screenflow.Update{"score": Score(s.Rubric, st.Extracted)}, nil
}

// flag always requests human review. The pipeline still routes on
// needs_human so an auto-approve policy can skip the review stage.
func (s *Stages) flag(ctx context.Context, in *screenflow.StageInput) (screenflow.Update, error) {
	st, err := decodeState(in)
	if err != nil {
		return nil, err
	}
	return screenflow.Update{
		"flags":       Flags(s.Rubric, st.Extracted),
		"needs_human": true,
	}, nil
}

func (s *Stages) humanReview(ctx context.Context, in *screenflow.StageInput) (screenflow.Update, error) {
	st, err := decodeState(in)
	if err != nil {
		return nil, err
	}
	if !in.Resuming() {
		return nil, screenflow.Suspend(&ReviewPayload{
			ApplicationID:  st.ApplicationID,
			Score:          st.Score,
			Flags:          st.Flags,
			Extracted:      st.Extracted,
			Recommendation: Recommendation(s.Rubric, st.Score),
		})
	}

	var review ReviewDecision
	if err := in.DecodeResume(&review); err != nil {
		return nil, err
	}
	decision := DecisionRejected
	if review.Approve {
		decision = DecisionShortlist
		if strings.TrimSpace(review.Decision) != "" {
			decision = review.Decision
		}
	}
	extracted := st.Extracted
	if edited, ok := editedRecord(review.EditedExtracted); ok {
		extracted = edited
	}
	return screenflow.Update{
		"needs_human":    !review.Approve,
		"decision":       decision,
		"reviewer_notes": review.ReviewerNotes,
		"extracted":      extracted,
	}, nil
}

// editedRecord returns the reviewer's edited extraction when it is a JSON
// object.
func editedRecord(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var edited map[string]any
	if err := json.Unmarshal(raw, &edited); err != nil || edited == nil {
		return nil, false
	}
	return edited, true
}

func (s *Stages) persistAnalysis(ctx context.Context, in *screenflow.StageInput) (screenflow.Update, error) {
	st, err := decodeState(in)
	if err != nil {
		return nil, err
	}
	if err := s.Store.UpdateAnalysis(ctx, st.ApplicationID, st.Extracted, st.Score, st.Flags); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Stages) finalize(ctx context.Context, in *screenflow.StageInput) (screenflow.Update, error) {
	st, err := decodeState(in)
	if err != nil {
		return nil, err
	}
	decision := ""
	if st.Decision != nil {
		decision = *st.Decision
	}
	if decision == "" {
		decision = DefaultDecision(s.Rubric, st.Score)
	}
	if err := s.Store.SetDecision(ctx, st.ApplicationID, decision, st.ReviewerNotes); err != nil {
		return nil, fmt.Errorf("failed to store decision: %w", err)
	}
	return screenflow.Update{"decision": decision}, nil
}
