// Package tolerant implements crawler.Fetcher on top of a plain probe that escalates to a
// headless browser when an anti-bot interstitial is served.
package tolerant

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/jobboard-crawler/internal/metrics"
)

// CookieStore receives clearance cookies obtained by the solver.
type CookieStore interface {
	SetCookies(url string, cookies []*http.Cookie) error
}

// Config controls escalation.
type Config struct {
	MaxAttempts int
}

// Fetcher returns page markup, passing challenges through the solver when one is set.
// It never retries transport or status failures.
type Fetcher struct {
	cfg      Config
	prober   crawler.Prober
	detector crawler.ChallengeDetector
	solver   crawler.ChallengeSolver
	cookies  CookieStore
	logger   *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New wires a Fetcher. A nil solver is replaced by headless.Noop, so every challenge is
// terminal.
// When prober also implements CookieStore, solved cookies are copied into it.
func New(cfg Config, prober crawler.Prober, detector crawler.ChallengeDetector, solver crawler.ChallengeSolver, logger *zap.Logger) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if solver == nil {
		solver = headless.NewNoop()
	}
	f := &Fetcher{
		cfg:      cfg,
		prober:   prober,
		detector: detector,
		solver:   solver,
		logger:   logger,
	}
	if cs, ok := prober.(CookieStore); ok {
		f.cookies = cs
	}
	return f
}

// Fetch retrieves url with identity.
func (f *Fetcher) Fetch(ctx context.Context, url string, identity crawler.RequestIdentity) (string, error) {
	page, err := f.prober.Probe(ctx, url, identity)
	if err != nil {
		return "", err
	}
	if f.detector == nil || !f.detector.IsChallenge(page) {
		return pageMarkup(url, page)
	}

	metrics.ObserveChallenge(url, "detected")
	f.logger.Info("challenge page detected", zap.String("url", url), zap.Int("status", page.StatusCode))

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		solved, err := f.solver.Solve(ctx, url, identity)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			var challengeErr *crawler.ChallengeError
			if errors.As(err, &challengeErr) {
				metrics.ObserveChallenge(url, "unsolved")
				return "", err
			}
			f.logger.Warn("headless solve failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		if f.cookies != nil {
			if err := f.cookies.SetCookies(url, solved.Cookies); err != nil {
				f.logger.Warn("failed to persist clearance cookies", zap.String("url", url), zap.Error(err))
			}
		}
		if f.detector.IsChallenge(solved) {
			f.logger.Debug("challenge still present after solve", zap.String("url", url), zap.Int("attempt", attempt))
			continue
		}
		metrics.ObserveChallenge(url, "cleared")
		f.logger.Info("challenge cleared", zap.String("url", url), zap.Int("attempt", attempt))
		return pageMarkup(url, solved)
	}

	metrics.ObserveChallenge(url, "unsolved")
	return "", &crawler.ChallengeError{URL: url, Attempts: f.cfg.MaxAttempts}
}

func pageMarkup(url string, page crawler.Page) (string, error) {
	if page.StatusCode < 200 || page.StatusCode > 299 {
		return "", &crawler.HTTPStatusError{URL: url, Status: page.StatusCode}
	}
	return string(page.Body), nil
}
