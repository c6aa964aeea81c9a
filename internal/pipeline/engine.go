// Package pipeline orchestrates a full crawl: every search is paginated in turn, then the
// union of their summaries is enriched in one batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/enrich"
	"github.com/JakeFAU/jobboard-crawler/internal/metrics"
	"github.com/JakeFAU/jobboard-crawler/internal/pagination"
	"github.com/JakeFAU/jobboard-crawler/internal/progress"
)

// Searcher paginates one query.
type Searcher interface {
	RunSearch(ctx context.Context, query crawler.SearchQuery) (pagination.SearchResult, error)
}

// Enricher attaches detail fields to summaries.
type Enricher interface {
	Enrich(ctx context.Context, summaries []crawler.SummaryRecord) enrich.Result
}

// Engine runs searches sequentially and enriches their union.
type Engine struct {
	searcher Searcher
	enricher Enricher
	ids      crawler.IDGenerator
	clock    crawler.Clock
	emitter  progress.Emitter
	logger   *zap.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithEmitter reports run progress to emitter.
func WithEmitter(em progress.Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// New constructs an Engine.
func New(
	searcher Searcher,
	enricher Enricher,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
	opts ...Option,
) (*Engine, error) {
	if searcher == nil || enricher == nil {
		return nil, errors.New("searcher and enricher are required")
	}
	if ids == nil || clock == nil {
		return nil, errors.New("id generator and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		searcher: searcher,
		enricher: enricher,
		ids:      ids,
		clock:    clock,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run crawls queries under a freshly generated run ID.
func (e *Engine) Run(ctx context.Context, queries []crawler.SearchQuery) (crawler.RunResult, error) {
	runID, err := e.ids.NewID()
	if err != nil {
		return crawler.RunResult{}, fmt.Errorf("generate run id: %w", err)
	}
	return e.RunWithID(ctx, runID, queries)
}

// RunWithID crawls queries and returns every record gathered, in query order then page
// order. Failed queries, pages and details are reported in the result instead of
// aborting the run. The error is non-nil only when ctx ended; the partial result is
// still populated in that case.
func (e *Engine) RunWithID(ctx context.Context, runID string, queries []crawler.SearchQuery) (crawler.RunResult, error) {
	ctx = progress.WithRunID(ctx, runID)
	start := e.clock.Now()
	result := crawler.RunResult{
		RunID:     runID,
		Queries:   queries,
		StartedAt: start,
	}
	logger := e.logger.With(zap.String("run_id", runID))
	logger.Info("crawl started", zap.Int("queries", len(queries)))
	progress.Emit(ctx, e.emitter, progress.Event{Stage: progress.StageRunStart, Note: fmt.Sprintf("%d queries", len(queries))})

	var union []crawler.SummaryRecord
	for _, query := range queries {
		if ctx.Err() != nil {
			break
		}
		search, err := e.searcher.RunSearch(ctx, query)
		union = append(union, search.Records...)
		result.PageFailures = append(result.PageFailures, search.Failures...)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		logger.Error("search failed",
			zap.String("role", query.Role),
			zap.String("location", query.Location),
			zap.Error(err),
		)
		result.QueryFailures = append(result.QueryFailures, crawler.QueryFailure{Query: query, Err: err.Error()})
	}

	enriched := e.enricher.Enrich(ctx, union)
	result.Records = enriched.Records
	result.DetailFailures = enriched.Failures
	result.FinishedAt = e.clock.Now()

	summary := result.Summary()
	fields := []zap.Field{
		zap.Int("records", summary.Records),
		zap.Int("enriched", summary.Enriched),
		zap.Int("query_failures", summary.QueryFailures),
		zap.Int("page_failures", summary.PageFailures),
		zap.Int("detail_failures", summary.DetailFailures),
		zap.Duration("duration", result.FinishedAt.Sub(start)),
	}
	if err := ctx.Err(); err != nil {
		metrics.ObserveRun("canceled")
		logger.Warn("crawl interrupted", append(fields, zap.Error(err))...)
		progress.Emit(context.WithoutCancel(ctx), e.emitter, progress.Event{
			Stage: progress.StageRunError, Records: summary.Records, Note: err.Error(),
		})
		return result, fmt.Errorf("run %s interrupted: %w", runID, err)
	}
	metrics.ObserveRun(result.Status())
	logger.Info("crawl finished", fields...)
	progress.Emit(ctx, e.emitter, progress.Event{
		Stage:   progress.StageRunDone,
		Records: summary.Records,
		Dur:     nonNegative(result.FinishedAt.Sub(start)),
		Note:    result.Status(),
	})
	return result, nil
}

func nonNegative(d time.Duration) time.Duration {
	return max(d, 0)
}
