package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/progress"
)

var (
	// ErrRunNotFound is returned for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunExists is returned when a run ID is reused.
	ErrRunExists = errors.New("run already exists")
)

// Run is the status view of one submitted crawl.
type Run struct {
	ID             string                  `json:"run_id"`
	Status         string                  `json:"status"`
	Queries        []crawler.SearchQuery   `json:"queries"`
	SubmittedAt    time.Time               `json:"submitted_at"`
	StartedAt      *time.Time              `json:"started_at,omitempty"`
	FinishedAt     *time.Time              `json:"finished_at,omitempty"`
	Error          string                  `json:"error,omitempty"`
	Progress       progress.Counters       `json:"progress"`
	Summary        *crawler.RunSummary     `json:"summary,omitempty"`
	ExportURI      string                  `json:"export_uri,omitempty"`
	QueryFailures  []crawler.QueryFailure  `json:"query_failures,omitempty"`
	PageFailures   []crawler.PageFailure   `json:"page_failures,omitempty"`
	DetailFailures []crawler.DetailFailure `json:"detail_failures,omitempty"`
}

// Terminal reports whether the run has finished one way or another.
func (r Run) Terminal() bool {
	switch r.Status {
	case crawler.RunSucceeded, crawler.RunPartial, crawler.RunFailed, crawler.RunCanceled:
		return true
	default:
		return false
	}
}

// RunStore keeps run status and records in memory for the HTTP API.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[string]*Run
	records map[string][]crawler.EnrichedRecord
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[string]*Run),
		records: make(map[string][]crawler.EnrichedRecord),
	}
}

// CreateRun registers a queued run.
func (s *RunStore) CreateRun(_ context.Context, id string, queries []crawler.SearchQuery, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[id]; exists {
		return fmt.Errorf("%w: %s", ErrRunExists, id)
	}
	s.runs[id] = &Run{
		ID:          id,
		Status:      crawler.RunQueued,
		Queries:     append([]crawler.SearchQuery(nil), queries...),
		SubmittedAt: at,
	}
	return nil
}

// MarkRunning records that a worker picked the run up.
func (s *RunStore) MarkRunning(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(r *Run) {
		r.Status = crawler.RunRunning
		r.StartedAt = &at
	})
}

// AddProgress folds counter deltas into the run.
func (s *RunStore) AddProgress(_ context.Context, id string, delta progress.Counters) error {
	return s.update(id, func(r *Run) {
		r.Progress.Merge(delta)
	})
}

// Complete stores the finished result. runErr marks the run canceled when it carries a
// context error and failed otherwise; without it the result decides the status.
func (s *RunStore) Complete(_ context.Context, id string, result crawler.RunResult, exportURI string, runErr error) error {
	sum := result.Summary()
	err := s.update(id, func(r *Run) {
		r.Status = result.Status()
		switch {
		case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
			r.Status = crawler.RunCanceled
		case runErr != nil:
			r.Status = crawler.RunFailed
		}
		if runErr != nil {
			r.Error = runErr.Error()
		}
		finished := result.FinishedAt
		r.FinishedAt = &finished
		r.Summary = &sum
		r.ExportURI = exportURI
		r.QueryFailures = result.QueryFailures
		r.PageFailures = result.PageFailures
		r.DetailFailures = result.DetailFailures
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[id] = append([]crawler.EnrichedRecord(nil), result.Records...)
	s.mu.Unlock()
	return nil
}

// Fail marks a run failed before it produced a result.
func (s *RunStore) Fail(_ context.Context, id string, at time.Time, errText string) error {
	return s.update(id, func(r *Run) {
		r.Status = crawler.RunFailed
		r.Error = errText
		r.FinishedAt = &at
	})
}

// GetRun returns a copy of the run.
func (s *RunStore) GetRun(_ context.Context, id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	out := *r
	out.Queries = append([]crawler.SearchQuery(nil), r.Queries...)
	return out, nil
}

// ListRecords returns a copy of the run's records.
func (s *RunStore) ListRecords(_ context.Context, id string) ([]crawler.EnrichedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[id]; !ok {
		return nil, ErrRunNotFound
	}
	return append([]crawler.EnrichedRecord(nil), s.records[id]...), nil
}

func (s *RunStore) update(id string, fn func(*Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	fn(r)
	return nil
}
