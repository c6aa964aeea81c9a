package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// Policy decides retries and backoff.
type Policy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Fetcher retries the wrapped fetcher on transient failures. Every attempt draws a
// fresh identity when a source is configured.
type Fetcher struct {
	next       crawler.Fetcher
	policy     Policy
	identities crawler.IdentitySource
	pauser     crawler.Pauser
	logger     *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// Option customises the wrapper.
type Option func(*Fetcher)

// WithIdentitySource rotates identity between attempts.
func WithIdentitySource(src crawler.IdentitySource) Option {
	return func(f *Fetcher) { f.identities = src }
}

// WithPauser overrides how backoff sleeps are taken.
func WithPauser(p crawler.Pauser) Option {
	return func(f *Fetcher) { f.pauser = p }
}

// New wraps next.
func New(next crawler.Fetcher, policy Policy, logger *zap.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		next:   next,
		policy: policy,
		pauser: crawler.TimerPauser{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch calls the wrapped fetcher until it succeeds or the policy gives up.
func (f *Fetcher) Fetch(ctx context.Context, url string, identity crawler.RequestIdentity) (string, error) {
	for attempt := 0; ; attempt++ {
		markup, err := f.next.Fetch(ctx, url, identity)
		if err == nil {
			return markup, nil
		}
		if ctx.Err() != nil || !f.policy.ShouldRetry(err, attempt) {
			return "", err
		}
		delay := f.policy.Backoff(attempt)
		f.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		f.pauser.Pause(ctx, delay)
		if ctx.Err() != nil {
			return "", err
		}
		if f.identities != nil {
			identity = f.identities.Next()
		}
	}
}
