package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if crawlerFetchTotal == nil || crawlerChallengesTotal == nil ||
		crawlerPacingDelaySeconds == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveFetch(t *testing.T) {
	ObserveFetch("https://fetch.test/search?q=x", "listing", "ok", 128)
	ObserveFetch("https://fetch.test/job/1", "detail", "http_error", 0)

	if val := testutil.ToFloat64(crawlerFetchTotal.WithLabelValues("fetch.test", "listing", "ok")); val != 1 {
		t.Errorf("expected one listing fetch, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerFetchBytesTotal.WithLabelValues("fetch.test")); val != 128 {
		t.Errorf("expected 128 bytes, got %f", val)
	}
}

func TestObserveChallengeAndPacing(t *testing.T) {
	ObserveChallenge("https://challenge.test/", "cleared")
	ObservePacingDelay(4 * time.Second)

	if val := testutil.ToFloat64(crawlerChallengesTotal.WithLabelValues("challenge.test", "cleared")); val != 1 {
		t.Errorf("expected one cleared challenge, got %f", val)
	}
	if n := testutil.CollectAndCount(crawlerPacingDelaySeconds); n != 1 {
		t.Errorf("expected pacing histogram to be collected, got %d", n)
	}
}

func TestActiveWorkersGauge(t *testing.T) {
	before := func() float64 { Init(); return testutil.ToFloat64(crawlerActiveWorkers) }()
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(crawlerActiveWorkers); val != before+1 {
		t.Errorf("expected gauge %f, got %f", before+1, val)
	}
	DecActiveWorkers()
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
