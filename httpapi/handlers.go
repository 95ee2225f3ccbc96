package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/deepnoodle-ai/screenflow"
	"github.com/deepnoodle-ai/screenflow/screening"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const maxRequestBodySize = 1 << 20

type submitCVRequest struct {
	ApplicationID string `json:"application_id" validate:"required,max=200"`
	CVText        string `json:"cv_text" validate:"required"`
}

type submitReviewRequest struct {
	ApplicationID   string          `json:"application_id" validate:"required,max=200"`
	Approve         *bool           `json:"approve" validate:"required"`
	Decision        string          `json:"decision" validate:"max=100"`
	ReviewerNotes   string          `json:"reviewer_notes" validate:"max=10000"`
	EditedExtracted json.RawMessage `json:"edited_extracted"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// submitCV handles POST /submit_cv.
func (s *Server) submitCV(w http.ResponseWriter, r *http.Request) {
	var req submitCVRequest
	if !s.decode(w, r, &req) {
		return
	}
	outcome, err := s.service.StartOrAdvance(r.Context(), strings.TrimSpace(req.ApplicationID), screening.Input{CVText: req.CVText})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// submitReview handles POST /submit_review. A review for an application
// that is not waiting for one is answered with ok=false.
func (s *Server) submitReview(w http.ResponseWriter, r *http.Request) {
	var req submitReviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	outcome, err := s.service.SubmitResume(r.Context(), strings.TrimSpace(req.ApplicationID), screening.ReviewDecision{
		Approve:         *req.Approve,
		Decision:        req.Decision,
		ReviewerNotes:   req.ReviewerNotes,
		EditedExtracted: req.EditedExtracted,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	threads, err := s.service.Threads(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if threads == nil {
		threads = []*screenflow.ThreadSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": threads})
}

func (s *Server) getApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.service.Application(r.Context(), chi.URLParam(r, "applicationID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) getPendingReview(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.PendingReview(r.Context(), chi.URLParam(r, "applicationID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.service.History(r.Context(), chi.URLParam(r, "applicationID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) cancelApplication(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if !s.decode(w, r, &req) {
			return
		}
	}
	outcome, err := s.service.Cancel(r.Context(), chi.URLParam(r, "applicationID"), req.Reason)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// decode reads and validates a JSON body, writing a 400 response on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err.Error()
	}
	fields := make([]string, 0, len(errs))
	for _, fe := range errs {
		fields = append(fields, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(fields, ", ")
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, screening.ErrApplicationNotFound), errors.Is(err, screenflow.ErrUnknownThread):
		writeError(w, http.StatusNotFound, "application not found")
	case errors.Is(err, screenflow.ErrThreadNotSuspended):
		writeError(w, http.StatusConflict, screening.MessageNotExpectingReview)
	case errors.Is(err, screenflow.ErrStillSuspended):
		writeError(w, http.StatusConflict, "application is waiting for review")
	case errors.Is(err, screenflow.ErrStoreUnavailable):
		s.logger.Error("store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
