package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/screenflow/screening"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const upsertApplicationSQL = `
	INSERT INTO applications (application_id, cv_text)
	VALUES ($1, $2)
	ON CONFLICT (application_id) DO UPDATE SET
		cv_text = EXCLUDED.cv_text,
		extracted_json = NULL,
		score = NULL,
		flags_json = NULL,
		decision = NULL,
		reviewer_notes = NULL,
		updated_at = now()
	RETURNING id, decision`

const updateAnalysisSQL = `
	UPDATE applications
	SET extracted_json = $2, score = $3, flags_json = $4, updated_at = now()
	WHERE application_id = $1`

const setDecisionSQL = `
	UPDATE applications
	SET decision = $2, reviewer_notes = $3, updated_at = now()
	WHERE application_id = $1`

const getApplicationSQL = `
	SELECT id, application_id, cv_text, extracted_json, score, flags_json,
		decision, reviewer_notes, created_at, updated_at
	FROM applications
	WHERE application_id = $1`

// RecordStore stores screening records in the applications table.
type RecordStore struct {
	db DBTX
}

var _ screening.RecordStore = (*RecordStore)(nil)

// NewRecordStore returns a record store backed by db.
func NewRecordStore(db DBTX) *RecordStore {
	return &RecordStore{db: db}
}

func (s *RecordStore) Upsert(ctx context.Context, applicationID, cvText string) (*screening.UpsertResult, error) {
	var (
		result   screening.UpsertResult
		decision pgtype.Text
	)
	if err := s.db.QueryRow(ctx, upsertApplicationSQL, applicationID, cvText).Scan(&result.ID, &decision); err != nil {
		return nil, fmt.Errorf("failed to upsert application: %w", err)
	}
	result.Decision = textPtr(decision)
	return &result, nil
}

func (s *RecordStore) UpdateAnalysis(ctx context.Context, applicationID string, extracted map[string]any, score int, flags []string) error {
	extractedJSON, err := json.Marshal(extracted)
	if err != nil {
		return fmt.Errorf("failed to marshal extracted record: %w", err)
	}
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}
	if _, err := s.db.Exec(ctx, updateAnalysisSQL, applicationID, extractedJSON, score, flagsJSON); err != nil {
		return fmt.Errorf("failed to update analysis: %w", err)
	}
	return nil
}

func (s *RecordStore) SetDecision(ctx context.Context, applicationID, decision, notes string) error {
	if _, err := s.db.Exec(ctx, setDecisionSQL, applicationID, decision, notes); err != nil {
		return fmt.Errorf("failed to set decision: %w", err)
	}
	return nil
}

func (s *RecordStore) Get(ctx context.Context, applicationID string) (*screening.Application, error) {
	var (
		app           screening.Application
		extractedJSON []byte
		flagsJSON     []byte
		score         pgtype.Int4
		decision      pgtype.Text
		notes         pgtype.Text
	)
	err := s.db.QueryRow(ctx, getApplicationSQL, applicationID).Scan(
		&app.ID, &app.ApplicationID, &app.CVText, &extractedJSON, &score, &flagsJSON,
		&decision, &notes, &app.CreatedAt, &app.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", applicationID, screening.ErrApplicationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	if len(extractedJSON) > 0 {
		if err := json.Unmarshal(extractedJSON, &app.Extracted); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extracted record: %w", err)
		}
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &app.Flags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flags: %w", err)
		}
	}
	if score.Valid {
		v := int(score.Int32)
		app.Score = &v
	}
	app.Decision = textPtr(decision)
	app.ReviewerNotes = textPtr(notes)
	return &app, nil
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}
