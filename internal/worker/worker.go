// Package worker executes queued crawl runs: crawl, export, persist, notify.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// RunRequest is one queued crawl.
type RunRequest struct {
	RunID   string
	Queries []crawler.SearchQuery
}

// Queue hands run requests to workers.
type Queue interface {
	Enqueue(ctx context.Context, req RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}

// Runner crawls a set of queries under a known run ID.
type Runner interface {
	RunWithID(ctx context.Context, runID string, queries []crawler.SearchQuery) (crawler.RunResult, error)
}

// Exporter writes a finished run somewhere durable and returns its URI.
type Exporter interface {
	Export(ctx context.Context, result crawler.RunResult) (string, error)
}

// Tracker records run lifecycle transitions for status reads.
type Tracker interface {
	MarkRunning(ctx context.Context, runID string, at time.Time) error
	Complete(ctx context.Context, runID string, result crawler.RunResult, exportURI string, runErr error) error
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives a completion notification per run when a publisher is configured.
	Topic string
	// RunTimeout bounds one crawl; zero means no bound.
	RunTimeout time.Duration
	// PersistTimeout bounds export, storage and notification after the crawl.
	PersistTimeout time.Duration
}

// Notification is the completion message published per run.
type Notification struct {
	Event string `json:"event"`
	crawler.RunSummary
	ExportURI string `json:"export_uri,omitempty"`
}

// Collaborators groups the optional sinks of a run. Nil members are skipped.
type Collaborators struct {
	Exporter  Exporter
	Records   crawler.RecordStore
	Publisher crawler.Publisher
	Tracker   Tracker
}

// Worker consumes run requests and executes the run pipeline.
type Worker struct {
	queue  Queue
	runner Runner
	deps   Collaborators
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue Queue, runner Runner, deps Collaborators, clock crawler.Clock, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		runner: runner,
		deps:   deps,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks, consuming run requests until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued run", zap.String("run_id", req.RunID))
		if _, err := w.Process(ctx, req); err != nil {
			w.logger.Warn("run finished with errors", zap.String("run_id", req.RunID), zap.Error(err))
		}
	}
}

// Process runs one crawl and hands the result to every configured collaborator. The
// result is persisted even when the crawl was interrupted, so partial data is kept.
func (w *Worker) Process(ctx context.Context, req RunRequest) (crawler.RunResult, error) {
	if w.runner == nil {
		return crawler.RunResult{}, errors.New("no runner configured")
	}
	logger := w.logger.With(zap.String("run_id", req.RunID))
	if w.deps.Tracker != nil {
		if err := w.deps.Tracker.MarkRunning(ctx, req.RunID, w.clock.Now()); err != nil {
			logger.Error("mark run running failed", zap.Error(err))
		}
	}

	runCtx, cancel := w.runContext(ctx)
	result, runErr := w.runner.RunWithID(runCtx, req.RunID, req.Queries)
	cancel()

	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.PersistTimeout)
	defer cancelPersist()
	uri, persistErr := w.persist(persistCtx, result)
	if persistErr != nil {
		logger.Error("persist run failed", zap.Error(persistErr))
	}

	finalErr := errors.Join(runErr, persistErr)
	if w.deps.Tracker != nil {
		if err := w.deps.Tracker.Complete(persistCtx, req.RunID, result, uri, finalErr); err != nil {
			logger.Error("complete run status failed", zap.Error(err))
		}
	}
	return result, finalErr
}

func (w *Worker) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.RunTimeout > 0 {
		return context.WithTimeout(ctx, w.cfg.RunTimeout)
	}
	return context.WithCancel(ctx)
}

func (w *Worker) persist(ctx context.Context, result crawler.RunResult) (string, error) {
	var (
		uri  string
		errs []error
	)
	if w.deps.Exporter != nil {
		var err error
		uri, err = w.deps.Exporter.Export(ctx, result)
		if err != nil {
			errs = append(errs, fmt.Errorf("export: %w", err))
		}
	}
	if w.deps.Records != nil {
		if err := w.deps.Records.StoreRun(ctx, result); err != nil {
			errs = append(errs, fmt.Errorf("store records: %w", err))
		}
	}
	if err := w.publish(ctx, result, uri); err != nil {
		errs = append(errs, err)
	}
	return uri, errors.Join(errs...)
}

func (w *Worker) publish(ctx context.Context, result crawler.RunResult, uri string) error {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return nil
	}
	msg := Notification{
		Event:      "run.completed",
		RunSummary: result.Summary(),
		ExportURI:  uri,
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, msg)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	w.logger.Info("run published",
		zap.String("run_id", result.RunID),
		zap.String("message_id", id),
		zap.String("export_uri", uri),
	)
	return nil
}
