package headless

import (
	"context"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// Noop stands in when headless solving is disabled; every challenge is terminal.
type Noop struct{}

var _ crawler.ChallengeSolver = Noop{}

// NewNoop creates a new Noop solver.
func NewNoop() Noop {
	return Noop{}
}

// Solve always reports that the challenge could not be passed.
func (Noop) Solve(_ context.Context, url string, _ crawler.RequestIdentity) (crawler.Page, error) {
	return crawler.Page{}, &crawler.ChallengeError{URL: url}
}
