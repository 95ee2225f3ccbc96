// Package httpapi exposes the screening service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/deepnoodle-ai/screenflow"
	"github.com/deepnoodle-ai/screenflow/screening"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// Service is the subset of *screening.Service used by the API.
type Service interface {
	StartOrAdvance(ctx context.Context, applicationID string, in screening.Input) (*screening.Outcome, error)
	SubmitResume(ctx context.Context, applicationID string, review screening.ReviewDecision) (*screening.ResumeOutcome, error)
	Application(ctx context.Context, applicationID string) (*screening.Application, error)
	PendingReview(ctx context.Context, applicationID string) (*screening.ReviewPayload, error)
	Cancel(ctx context.Context, applicationID, reason string) (*screening.Outcome, error)
	History(ctx context.Context, applicationID string) ([]*screening.HistoryEntry, error)
	Threads(ctx context.Context) ([]*screenflow.ThreadSummary, error)
}

// Options configures a Server.
type Options struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger

	// MetricsHandler is mounted at MetricsPath when set.
	MetricsHandler http.Handler
	MetricsPath    string
}

// Server is the screening HTTP API.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	service    Service
	validate   *validator.Validate
	logger     *slog.Logger
	opts       Options
}

// NewServer builds the router and the underlying http.Server.
func NewServer(service Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	s := &Server{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   opts.Logger.With("component", "http_server"),
		opts:     opts,
	}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:         opts.Address,
		Handler:      s.router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthHandler)
	if s.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, s.opts.MetricsPath, s.opts.MetricsHandler)
	}

	r.Post("/submit_cv", s.submitCV)
	r.Post("/submit_review", s.submitReview)
	r.Get("/applications", s.listApplications)
	r.Route("/applications/{applicationID}", func(r chi.Router) {
		r.Get("/", s.getApplication)
		r.Get("/review", s.getPendingReview)
		r.Get("/history", s.getHistory)
		r.Post("/cancel", s.cancelApplication)
	})
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", "address", s.httpServer.Addr)
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
