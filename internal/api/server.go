package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/metrics"
	"github.com/JakeFAU/jobboard-crawler/internal/storage/memory"
	"github.com/JakeFAU/jobboard-crawler/internal/worker"
)

const (
	enqueueTimeout   = 5 * time.Second
	requestTimeout   = 60 * time.Second
	maxQueries       = 100
	defaultRecLimit  = 100
	maxRecLimit      = 1000
	maxRequestBodyKB = 256
)

// RunTracker is the run status store behind the API.
type RunTracker interface {
	CreateRun(ctx context.Context, id string, queries []crawler.SearchQuery, at time.Time) error
	Fail(ctx context.Context, id string, at time.Time, errText string) error
	GetRun(ctx context.Context, id string) (memory.Run, error)
	ListRecords(ctx context.Context, id string) ([]crawler.EnrichedRecord, error)
}

// Enqueuer accepts runs for background processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, req worker.RunRequest) error
}

// SummaryLoader reads summaries of runs that are no longer held in memory.
type SummaryLoader interface {
	LoadSummary(ctx context.Context, runID string) (crawler.RunSummary, error)
}

// Server wires HTTP handlers to the run queue and stores.
type Server struct {
	router   chi.Router
	runs     RunTracker
	queue    Enqueuer
	idGen    crawler.IDGenerator
	clock    crawler.Clock
	history  SummaryLoader
	ready    func(context.Context) error
	validate *validator.Validate
	logger   *zap.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithSummaryLoader answers status requests for runs missing from the tracker.
func WithSummaryLoader(l SummaryLoader) Option {
	return func(s *Server) { s.history = l }
}

// WithReadiness makes /readyz report the result of check.
func WithReadiness(check func(context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runs RunTracker,
	queue Enqueuer,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runs:     runs,
		queue:    queue,
		idGen:    idGen,
		clock:    clock,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/runs", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		r.Post("/", s.submitRun)
		r.Route("/{run_id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/records", s.listRecords)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type queryRequest struct {
	Role     string `json:"role" validate:"required,max=200"`
	Location string `json:"location" validate:"max=200"`
}

type submitRunRequest struct {
	Queries   []queryRequest `json:"queries" validate:"max=100,dive"`
	Roles     []string       `json:"roles" validate:"max=50,dive,required,max=200"`
	Locations []string       `json:"locations" validate:"max=50,dive,required,max=200"`
}

func (req submitRunRequest) searchQueries() ([]crawler.SearchQuery, error) {
	out := make([]crawler.SearchQuery, 0, len(req.Queries)+len(req.Roles)*len(req.Locations))
	for _, q := range req.Queries {
		sq := crawler.SearchQuery{Role: q.Role, Location: q.Location}
		if err := sq.Validate(); err != nil {
			return nil, err
		}
		out = append(out, sq)
	}
	out = append(out, crawler.ExpandQueries(req.Roles, req.Locations)...)
	if len(out) == 0 {
		return nil, errors.New("at least one query required")
	}
	if len(out) > maxQueries {
		return nil, fmt.Errorf("at most %d queries per run", maxQueries)
	}
	return out, nil
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyKB<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	queries, err := req.searchQueries()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.enqueueRun(r.Context(), queries)
	if err != nil {
		s.logger.Error("enqueue run failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	w.Header().Set("Location", "/v1/runs/"+runID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":  runID,
		"status":  crawler.RunQueued,
		"queries": len(queries),
	})
}

func (s *Server) enqueueRun(ctx context.Context, queries []crawler.SearchQuery) (string, error) {
	runID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	if err := s.runs.CreateRun(ctx, runID, queries, s.clock.Now()); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(queueCtx, worker.RunRequest{RunID: runID, Queries: queries}); err != nil {
		if failErr := s.runs.Fail(context.WithoutCancel(ctx), runID, s.clock.Now(), "not queued: "+err.Error()); failErr != nil {
			s.logger.Warn("mark unqueued run failed", zap.String("run_id", runID), zap.Error(failErr))
		}
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	s.logger.Info("run queued", zap.String("run_id", runID), zap.Int("queries", len(queries)))
	return runID, nil
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	run, err := s.runs.GetRun(r.Context(), runID)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"run": run})
		return
	}
	if !errors.Is(err, memory.ErrRunNotFound) {
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if s.history != nil {
		sum, histErr := s.history.LoadSummary(r.Context(), runID)
		if histErr == nil {
			writeJSON(w, http.StatusOK, map[string]any{"run": memory.Run{
				ID:         sum.RunID,
				Status:     sum.Status,
				StartedAt:  &sum.StartedAt,
				FinishedAt: &sum.FinishedAt,
				Summary:    &sum,
			}})
			return
		}
		s.logger.Debug("run history lookup missed", zap.String("run_id", runID), zap.Error(histErr))
	}
	writeError(w, http.StatusNotFound, "run not found")
}

// listRecords handles GET /v1/runs/{run_id}/records?limit=&offset=. Records are
// returned in run order; a run that is still in flight returns 409.
func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRecLimit, maxRecLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, memory.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if !run.Terminal() {
		writeError(w, http.StatusConflict, "run is "+run.Status)
		return
	}
	records, err := s.runs.ListRecords(r.Context(), runID)
	if err != nil {
		s.logger.Error("list records failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	total := len(records)
	start := min(offset, total)
	end := min(start+limit, total)
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
		"records": records[start:end],
	})
}

func parseRunID(w http.ResponseWriter, r *http.Request) (string, bool) {
	runID := chi.URLParam(r, "run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return "", false
	}
	if err := uuid.Validate(runID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return "", false
	}
	return runID, true
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
