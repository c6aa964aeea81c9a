// Package enrich fetches the detail page of every summary record through a bounded
// worker pool and joins the parsed fields back onto the summaries in input order.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/metrics"
	"github.com/JakeFAU/jobboard-crawler/internal/progress"
	"github.com/JakeFAU/jobboard-crawler/internal/queue/memory"
)

// Config controls pool sizing and detail URL decoration.
type Config struct {
	// Workers defaults to twice the CPU count and never exceeds the number of items.
	Workers int
	// QueueDepth defaults to twice the worker count.
	QueueDepth int
	// DetailParams are added to every detail request URL.
	DetailParams map[string]string
	// QueryParam, when set, carries the originating search role on the detail request.
	QueryParam string
}

// Result is the positional join of summaries and details plus the failed indexes.
type Result struct {
	Records  []crawler.EnrichedRecord
	Failures []crawler.DetailFailure
}

// Enricher fans detail fetches out over a worker pool.
type Enricher struct {
	cfg        Config
	fetcher    crawler.Fetcher
	parser     crawler.DetailParser
	identities crawler.IdentitySource
	waiter     crawler.Waiter
	emitter    progress.Emitter
	logger     *zap.Logger
}

// Option customises an Enricher.
type Option func(*Enricher)

// WithWaiter gates every detail fetch on w, typically a per-host rate limiter.
func WithWaiter(w crawler.Waiter) Option {
	return func(e *Enricher) { e.waiter = w }
}

// WithEmitter reports detail progress to emitter.
func WithEmitter(em progress.Emitter) Option {
	return func(e *Enricher) { e.emitter = em }
}

// New builds an Enricher.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	parser crawler.DetailParser,
	identities crawler.IdentitySource,
	logger *zap.Logger,
	opts ...Option,
) (*Enricher, error) {
	if fetcher == nil || parser == nil || identities == nil {
		return nil, errors.New("fetcher, parser and identity source are required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2 * runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Enricher{
		cfg:        cfg,
		fetcher:    fetcher,
		parser:     parser,
		identities: identities,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// DetailRequestURL decorates the record's detail link with the configured parameters.
func (e *Enricher) DetailRequestURL(s crawler.SummaryRecord) string {
	u, err := url.Parse(s.DetailURL)
	if err != nil {
		return s.DetailURL
	}
	q := u.Query()
	for k, v := range e.cfg.DetailParams {
		q.Set(k, v)
	}
	if e.cfg.QueryParam != "" && s.Search.Role != "" {
		q.Set(e.cfg.QueryParam, s.Search.Role)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Enrich returns one record per summary, in input order. A failed or unfetched detail
// leaves a zero DetailRecord and adds a failure; nothing aborts the batch.
func (e *Enricher) Enrich(ctx context.Context, summaries []crawler.SummaryRecord) Result {
	n := len(summaries)
	result := Result{Records: make([]crawler.EnrichedRecord, n)}
	if n == 0 {
		return result
	}
	for i, s := range summaries {
		result.Records[i].Summary = s
	}

	workers := min(e.cfg.Workers, n)
	depth := e.cfg.QueueDepth
	if depth <= 0 {
		depth = 2 * workers
	}
	// Each slot is written by exactly one worker.
	errs := make([]error, n)
	done := make([]bool, n)

	q := memory.NewQueue[int](depth)
	go func() {
		defer q.Close()
		for i := range n {
			if err := q.Enqueue(ctx, i); err != nil {
				return
			}
		}
	}()

	e.logger.Debug("enriching records", zap.Int("records", n), zap.Int("workers", workers))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i, err := q.Dequeue(ctx)
				if err != nil || ctx.Err() != nil {
					return
				}
				result.Records[i].Detail, errs[i] = e.enrichOne(ctx, summaries[i])
				done[i] = true
			}
		}()
	}
	wg.Wait()

	enriched := 0
	for i := range n {
		err := errs[i]
		if !done[i] {
			err = fmt.Errorf("detail not fetched: %w", context.Cause(ctx))
		}
		if err == nil {
			enriched++
			continue
		}
		result.Failures = append(result.Failures, crawler.DetailFailure{
			Index: i,
			URL:   summaries[i].DetailURL,
			Err:   err.Error(),
		})
	}
	metrics.AddRecords("enriched", enriched)
	metrics.AddRecords("detail_failed", len(result.Failures))
	return result
}

func (e *Enricher) enrichOne(ctx context.Context, s crawler.SummaryRecord) (crawler.DetailRecord, error) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	detailURL := e.DetailRequestURL(s)
	rec, err := e.fetchDetail(ctx, detailURL)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("detail enrichment failed",
				zap.String("url", s.DetailURL),
				zap.Int("status", crawler.StatusCode(err)),
				zap.Error(err),
			)
		}
		progress.Emit(ctx, e.emitter, progress.Event{
			Stage: progress.StageDetailError, Query: s.Search.String(), URL: s.DetailURL, Note: err.Error(),
		})
		return crawler.DetailRecord{}, err
	}
	progress.Emit(ctx, e.emitter, progress.Event{
		Stage: progress.StageDetailDone, Query: s.Search.String(), URL: s.DetailURL, Records: 1, Dur: time.Since(start),
	})
	return rec, nil
}

func (e *Enricher) fetchDetail(ctx context.Context, detailURL string) (crawler.DetailRecord, error) {
	if e.waiter != nil {
		if err := e.waiter.Wait(ctx, detailURL); err != nil {
			return crawler.DetailRecord{}, err
		}
	}
	markup, err := e.fetcher.Fetch(ctx, detailURL, e.identities.Next())
	if err != nil {
		metrics.ObserveFetch(detailURL, "detail", "error", 0)
		return crawler.DetailRecord{}, err
	}
	metrics.ObserveFetch(detailURL, "detail", "ok", len(markup))
	rec, err := e.parser.Parse(markup)
	if err != nil {
		return crawler.DetailRecord{}, fmt.Errorf("parse %s: %w", detailURL, err)
	}
	return rec, nil
}
