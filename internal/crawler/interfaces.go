package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher returns the markup at url, requested with the given identity.
type Fetcher interface {
	Fetch(ctx context.Context, url string, identity RequestIdentity) (string, error)
}

// Prober performs one plain HTTP GET and returns the raw response, whatever its status.
type Prober interface {
	Probe(ctx context.Context, url string, identity RequestIdentity) (Page, error)
}

// ChallengeSolver loads a page in a real browser until an interstitial clears.
type ChallengeSolver interface {
	Solve(ctx context.Context, url string, identity RequestIdentity) (Page, error)
}

// ChallengeDetector recognises anti-bot interstitials.
type ChallengeDetector interface {
	IsChallenge(page Page) bool
}

// IdentitySource produces a fresh request identity per call.
type IdentitySource interface {
	Next() RequestIdentity
}

// ListingExtractor parses listing page markup.
type ListingExtractor interface {
	ExtractListingPage(markup string, isFirstPage bool) (ListingPage, error)
}

// DetailParser parses detail page markup.
type DetailParser interface {
	Parse(markup string) (DetailRecord, error)
}

// Pauser sleeps between sequential requests; it must return early when ctx ends.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Waiter blocks until a request to url may proceed.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// BlobStore writes exported artifacts and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RecordStore persists a finished run and its enriched records.
type RecordStore interface {
	StoreRun(ctx context.Context, result RunResult) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
