// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerFetchTotal             *prometheus.CounterVec
	crawlerFetchBytesTotal        *prometheus.CounterVec
	crawlerChallengesTotal        *prometheus.CounterVec
	crawlerPacingDelaySeconds     prometheus.Histogram
	crawlerRecordsTotal           *prometheus.CounterVec
	crawlerRunsTotal              *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_total",
				Help: "Total number of page fetches, labeled by site, page kind and outcome.",
			},
			[]string{"site", "kind", "outcome"},
		)

		crawlerFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerChallengesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_challenges_total",
				Help: "Anti-bot interstitials encountered, labeled by site and resolution.",
			},
			[]string{"site", "result"},
		)

		crawlerPacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_pacing_delay_seconds",
				Help:    "Histogram of randomized pauses between listing pages.",
				Buckets: []float64{0.5, 1, 2, 3, 4, 5, 6, 8, 10},
			},
		)

		crawlerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Records produced, labeled by stage (summary, enriched, detail_failed).",
			},
			[]string{"stage"},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Total number of crawl runs, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of enrichment workers currently fetching a detail page.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(rawURL, kind, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	crawlerFetchTotal.WithLabelValues(site, kind, outcome).Inc()
	if bytesFetched > 0 {
		crawlerFetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveChallenge records an interstitial and whether the browser cleared it.
func ObserveChallenge(rawURL, result string) {
	Init()
	crawlerChallengesTotal.WithLabelValues(SanitizeSite(rawURL), result).Inc()
}

// ObservePacingDelay records a pause taken between listing pages.
func ObservePacingDelay(d time.Duration) {
	Init()
	crawlerPacingDelaySeconds.Observe(d.Seconds())
}

// AddRecords increments the record counter for a stage.
func AddRecords(stage string, n int) {
	Init()
	if n > 0 {
		crawlerRecordsTotal.WithLabelValues(stage).Add(float64(n))
	}
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	Init()
	crawlerRunsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
