// Package collyfetcher implements the plain HTTP probe using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	Timeout     time.Duration
	MaxBodySize int
}

// Fetcher implements crawler.Prober using the Colly collector. Clones share the base
// collector's cookie jar, so clearance cookies persist across requests.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

var _ crawler.Prober = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Probe executes a single GET and returns the response whatever its status code.
// Only network-level failures produce an error.
func (f *Fetcher) Probe(ctx context.Context, rawURL string, identity crawler.RequestIdentity) (crawler.Page, error) {
	var (
		result   crawler.Page
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	if identity.UserAgent != "" {
		collector.UserAgent = identity.UserAgent
	}
	f.configureCollectorHooks(collector, identity, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		metrics.ObserveFetch(rawURL, "probe", "transport_error", 0)
		return crawler.Page{}, err
	}
	if u, err := url.Parse(rawURL); err == nil {
		result.Cookies = f.baseCollector.Cookies(u.String())
	}
	metrics.ObserveFetch(rawURL, "probe", statusOutcome(result.StatusCode), len(result.Body))
	return result, nil
}

// SetCookies stores cookies for rawURL in the shared jar.
func (f *Fetcher) SetCookies(rawURL string, cookies []*http.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	if err := f.baseCollector.SetCookies(rawURL, cookies); err != nil {
		return fmt.Errorf("store cookies: %w", err)
	}
	return nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	identity crawler.RequestIdentity,
	start time.Time,
	result *crawler.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		applyIdentity(identity, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = *fetchErr
		}
		if err != nil {
			return &crawler.TransportError{URL: rawURL, Cause: err}
		}
		return nil
	}
}

func applyIdentity(identity crawler.RequestIdentity, r *colly.Request) {
	for key, value := range identity.Headers {
		r.Headers.Set(key, value)
	}
	if identity.UserAgent != "" {
		r.Headers.Set("User-Agent", identity.UserAgent)
	}
}

func statusOutcome(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "ok"
	case status == http.StatusTooManyRequests:
		return "throttled"
	default:
		return "http_error"
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
