package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyRole is returned for a query without a role.
var ErrEmptyRole = errors.New("search role is required")

// TransportError wraps network-level failures (DNS, TLS, timeouts, resets).
type TransportError struct {
	URL   string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error fetching %s: %v", e.URL, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (%s) fetching %s", e.Status, http.StatusText(e.Status), e.URL)
}

// ChallengeError reports that an anti-bot interstitial could not be passed.
type ChallengeError struct {
	URL      string
	Attempts int
}

func (e *ChallengeError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("challenge page returned for %s and no solver is configured", e.URL)
	}
	return fmt.Sprintf("challenge page for %s not cleared after %d attempts", e.URL, e.Attempts)
}

// MalformedPageError reports markup that lacks a page-level element.
type MalformedPageError struct {
	Reason string
}

func (e *MalformedPageError) Error() string {
	return "malformed page: " + e.Reason
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return 0
}
