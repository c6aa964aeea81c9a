// Package retry wraps a crawler.Fetcher with jittered exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// ExponentialPolicy decides which fetch failures are worth another attempt.
type ExponentialPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewExponentialPolicy builds a policy allowing maxRetries extra attempts.
func NewExponentialPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *ExponentialPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &ExponentialPolicy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// ShouldRetry reports whether attempt (zero-based) may be followed by another.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *crawler.HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
			return true
		}
		return statusErr.Status >= 500
	}
	var challengeErr *crawler.ChallengeError
	if errors.As(err, &challengeErr) {
		// Without a solver the outcome cannot change.
		return challengeErr.Attempts > 0
	}
	var transportErr *crawler.TransportError
	if errors.As(err, &transportErr) {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return netErr.Timeout()
		}
		return true
	}
	return false
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
