// Package pagination walks the listing pages of one search sequentially, pacing requests
// with randomized delays.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/metrics"
	"github.com/JakeFAU/jobboard-crawler/internal/progress"
)

// Config controls URL construction and pacing.
type Config struct {
	BaseURL    string
	SearchPath string
	PageSize   int
	// MaxPages caps the pages visited per search; zero means no cap.
	MaxPages int
	MinDelay time.Duration
	MaxDelay time.Duration
}

// SearchResult is the outcome of one search.
type SearchResult struct {
	Query      crawler.SearchQuery
	TotalCount int
	Pages      int
	Records    []crawler.SummaryRecord
	Failures   []crawler.PageFailure
}

// Driver implements the sequential listing walk.
type Driver struct {
	cfg        Config
	base       *url.URL
	fetcher    crawler.Fetcher
	extractor  crawler.ListingExtractor
	identities crawler.IdentitySource
	pauser     crawler.Pauser
	int64n     func(n int64) int64
	emitter    progress.Emitter
	logger     *zap.Logger
}

// Option customises a Driver.
type Option func(*Driver)

// WithPauser overrides how pacing sleeps are taken.
func WithPauser(p crawler.Pauser) Option {
	return func(d *Driver) { d.pauser = p }
}

// WithRandom overrides the source used to pick pacing delays. fn returns a value in [0, n).
func WithRandom(fn func(n int64) int64) Option {
	return func(d *Driver) { d.int64n = fn }
}

// WithEmitter reports page progress to emitter.
func WithEmitter(e progress.Emitter) Option {
	return func(d *Driver) { d.emitter = e }
}

// New builds a Driver.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	extractor crawler.ListingExtractor,
	identities crawler.IdentitySource,
	logger *zap.Logger,
	opts ...Option,
) (*Driver, error) {
	if fetcher == nil || extractor == nil || identities == nil {
		return nil, errors.New("fetcher, extractor and identity source are required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.SearchPath == "" {
		cfg.SearchPath = "/search"
	}
	if cfg.MaxDelay < cfg.MinDelay {
		return nil, fmt.Errorf("max delay %s is below min delay %s", cfg.MaxDelay, cfg.MinDelay)
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		cfg:        cfg,
		base:       base,
		fetcher:    fetcher,
		extractor:  extractor,
		identities: identities,
		pauser:     crawler.TimerPauser{},
		int64n:     rand.Int64N,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// PageCount returns ceil(total/pageSize); zero when total is zero.
func PageCount(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	return pages
}

// SearchURL builds the listing URL for query and a one-based page. Page 1 carries no
// page parameter.
func (d *Driver) SearchURL(query crawler.SearchQuery, page int) string {
	u := *d.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(d.cfg.SearchPath, "/")
	raw := "q=" + url.QueryEscape(query.Role) + "&l=" + url.QueryEscape(query.Location)
	if page > 1 {
		raw += "&pn=" + strconv.Itoa(page)
	}
	u.RawQuery = raw
	u.Fragment = ""
	return u.String()
}

// RunSearch fetches every listing page for query. A failed first page fails the search
// with no records. Later failures are recorded and skipped. If ctx ends mid-run the
// records gathered so far are returned together with the context error.
func (d *Driver) RunSearch(ctx context.Context, query crawler.SearchQuery) (SearchResult, error) {
	result := SearchResult{Query: query}
	if err := query.Validate(); err != nil {
		return result, err
	}
	start := time.Now()
	progress.Emit(ctx, d.emitter, progress.Event{Stage: progress.StageSearchStart, Query: query.String()})
	d.logger.Info("starting search", zap.String("role", query.Role), zap.String("location", query.Location))

	firstURL := d.SearchURL(query, 1)
	first, err := d.fetchPage(ctx, firstURL, true)
	if err != nil {
		d.emitPageError(ctx, query, 1, firstURL, err)
		progress.Emit(ctx, d.emitter, progress.Event{
			Stage: progress.StageSearchError, Query: query.String(), URL: firstURL, Note: err.Error(),
		})
		return result, fmt.Errorf("first page for %s: %w", query, err)
	}

	pages := PageCount(first.TotalCount, d.cfg.PageSize)
	if d.cfg.MaxPages > 0 && pages > d.cfg.MaxPages {
		pages = d.cfg.MaxPages
	}
	result.TotalCount = first.TotalCount
	result.Pages = pages
	result.Records = append(result.Records, tag(first.Records, query)...)
	d.emitPageDone(ctx, query, 1, firstURL, len(first.Records))
	d.logger.Debug("search sized",
		zap.String("query", query.String()),
		zap.Int("total", first.TotalCount),
		zap.Int("pages", pages),
	)

	for page := 2; page <= pages; page++ {
		delay := d.nextDelay()
		metrics.ObservePacingDelay(delay)
		d.pauser.Pause(ctx, delay)
		if ctx.Err() != nil {
			return d.finish(ctx, result, start), fmt.Errorf("search %s interrupted before page %d: %w", query, page, ctx.Err())
		}

		pageURL := d.SearchURL(query, page)
		d.logger.Debug("scraping page", zap.String("query", query.String()), zap.Int("page", page))
		listing, err := d.fetchPage(ctx, pageURL, false)
		if err != nil {
			if ctx.Err() != nil {
				return d.finish(ctx, result, start), fmt.Errorf("search %s interrupted on page %d: %w", query, page, ctx.Err())
			}
			d.logger.Warn("skipping listing page",
				zap.String("query", query.String()),
				zap.Int("page", page),
				zap.String("url", pageURL),
				zap.Int("status", crawler.StatusCode(err)),
				zap.Error(err),
			)
			result.Failures = append(result.Failures, crawler.PageFailure{Query: query, Page: page, URL: pageURL, Err: err.Error()})
			d.emitPageError(ctx, query, page, pageURL, err)
			continue
		}
		result.Records = append(result.Records, tag(listing.Records, query)...)
		d.emitPageDone(ctx, query, page, pageURL, len(listing.Records))
	}
	return d.finish(ctx, result, start), nil
}

func (d *Driver) finish(ctx context.Context, result SearchResult, start time.Time) SearchResult {
	metrics.AddRecords("summary", len(result.Records))
	progress.Emit(ctx, d.emitter, progress.Event{
		Stage:   progress.StageSearchDone,
		Query:   result.Query.String(),
		Records: len(result.Records),
		Dur:     time.Since(start),
	})
	return result
}

func (d *Driver) fetchPage(ctx context.Context, pageURL string, isFirst bool) (crawler.ListingPage, error) {
	markup, err := d.fetcher.Fetch(ctx, pageURL, d.identities.Next())
	if err != nil {
		metrics.ObserveFetch(pageURL, "listing", "error", 0)
		return crawler.ListingPage{}, err
	}
	metrics.ObserveFetch(pageURL, "listing", "ok", len(markup))
	page, err := d.extractor.ExtractListingPage(markup, isFirst)
	if err != nil {
		return crawler.ListingPage{}, fmt.Errorf("extract %s: %w", pageURL, err)
	}
	return page, nil
}

func (d *Driver) nextDelay() time.Duration {
	span := d.cfg.MaxDelay - d.cfg.MinDelay
	if span <= 0 {
		return d.cfg.MinDelay
	}
	return d.cfg.MinDelay + time.Duration(d.int64n(int64(span)+1))
}

func (d *Driver) emitPageDone(ctx context.Context, query crawler.SearchQuery, page int, pageURL string, n int) {
	progress.Emit(ctx, d.emitter, progress.Event{
		Stage: progress.StagePageDone, Query: query.String(), Page: page, URL: pageURL, Records: n,
	})
}

func (d *Driver) emitPageError(ctx context.Context, query crawler.SearchQuery, page int, pageURL string, err error) {
	progress.Emit(ctx, d.emitter, progress.Event{
		Stage: progress.StagePageError, Query: query.String(), Page: page, URL: pageURL, Note: err.Error(),
	})
}

func tag(records []crawler.SummaryRecord, query crawler.SearchQuery) []crawler.SummaryRecord {
	for i := range records {
		records[i].Search = query
	}
	return records
}
