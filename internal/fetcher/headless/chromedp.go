// Package headless contains the browser-backed challenge solver.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/metrics"
)

// Config controls the behavior of the headless solver.
type Config struct {
	MaxParallel       int
	NavigationTimeout time.Duration
	// ClearTimeout bounds how long the solver polls for an interstitial to go away.
	ClearTimeout time.Duration
	PollInterval time.Duration
	// ExecPath selects the browser binary; empty lets chromedp search for one.
	ExecPath string
}

// browserCandidates mirrors the names chromedp probes when no exec path is given.
var browserCandidates = []string{
	"headless_shell",
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"google-chrome-beta",
	"google-chrome-unstable",
	"chrome",
	"/usr/bin/google-chrome",
	"/usr/local/bin/chrome",
	"/snap/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
}

// ErrBrowserNotFound is returned by FindBrowser when no Chrome or Chromium binary exists.
var ErrBrowserNotFound = errors.New("no chrome or chromium executable found")

// FindBrowser resolves the browser binary the solver would launch. An explicit path must
// exist and be executable.
func FindBrowser(explicit string) (string, error) {
	if explicit != "" {
		path, err := exec.LookPath(explicit)
		if err != nil {
			return "", fmt.Errorf("browser %q: %w", explicit, err)
		}
		return path, nil
	}
	for _, name := range browserCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrBrowserNotFound
}

// Solver implements crawler.ChallengeSolver using chromedp and headless Chrome.
type Solver struct {
	cfg         Config
	detector    crawler.ChallengeDetector
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

var _ crawler.ChallengeSolver = (*Solver)(nil)

// browser-managed headers that must not be overridden through the network domain.
var skipHeaders = map[string]bool{
	"user-agent":      true,
	"accept-encoding": true,
	"connection":      true,
}

// NewChromedp creates a solver backed by chromedp. The browser starts lazily on the
// first Solve call.
func NewChromedp(cfg Config, detector crawler.ChallengeDetector) (*Solver, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if detector == nil {
		return nil, errors.New("challenge detector is required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.ClearTimeout <= 0 {
		cfg.ClearTimeout = 15 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Solver{
		cfg:         cfg,
		detector:    detector,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context and shuts the browser down.
func (s *Solver) Close() {
	s.allocCancel()
}

// Solve loads url in a browser using identity, waits for any interstitial to clear and
// returns the resulting DOM with the cookies the browser holds for url. The caller
// decides whether the returned page is still a challenge.
func (s *Solver) Solve(ctx context.Context, url string, identity crawler.RequestIdentity) (crawler.Page, error) {
	if err := s.acquire(ctx); err != nil {
		return crawler.Page{}, err
	}
	defer s.release()

	taskCtx, taskCancel := chromedp.NewContext(s.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, s.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	var (
		html     string
		finalURL string
		cookies  []*network.Cookie
	)
	actions := []chromedp.Action{
		networkSetupAction(identity),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		s.waitForClearance(meta, url),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{url}).Do(ctx)
			if err != nil {
				return fmt.Errorf("read browser cookies: %w", err)
			}
			return nil
		}),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return crawler.Page{}, fmt.Errorf("headless solve canceled: %w", ctx.Err())
		}
		metrics.ObserveFetch(url, "headless", "transport_error", 0)
		return crawler.Page{}, &crawler.TransportError{URL: url, Cause: fmt.Errorf("chromedp run: %w", err)}
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	metrics.ObserveFetch(url, "headless", "ok", len(html))

	return crawler.Page{
		URL:        responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Cookies:    toHTTPCookies(cookies),
		Duration:   time.Since(start),
		Headless:   true,
	}, nil
}

// waitForClearance polls the rendered DOM until the detector no longer flags it or the
// clear timeout passes. Timing out is not an error.
func (s *Solver) waitForClearance(meta *responseMeta, url string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		deadline := time.Now().Add(s.cfg.ClearTimeout)
		for {
			var html string
			if err := chromedp.OuterHTML("html", &html, chromedp.ByQuery).Do(ctx); err != nil {
				return fmt.Errorf("read interstitial: %w", err)
			}
			status, headers, _ := meta.snapshotWithFallbacks(url, url)
			page := crawler.Page{URL: url, StatusCode: status, Headers: headers, Body: []byte(html)}
			if !s.detector.IsChallenge(page) || time.Now().After(deadline) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.PollInterval):
			}
		}
	})
}

func networkSetupAction(identity crawler.RequestIdentity) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if identity.UserAgent != "" {
			override := emulation.SetUserAgentOverride(identity.UserAgent)
			if lang := identity.Headers["Accept-Language"]; lang != "" {
				override = override.WithAcceptLanguage(lang)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if headers := toNetworkHeaders(identity.Headers); len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (s *Solver) acquire(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	select {
	case s.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (s *Solver) release() {
	if s.limiter == nil {
		return
	}
	select {
	case <-s.limiter:
	default:
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			// Chrome folds repeated headers into one newline-separated value.
			for _, entry := range strings.Split(v, "\n") {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone(), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func toNetworkHeaders(h map[string]string) network.Headers {
	headers := network.Headers{}
	for key, value := range h {
		if value == "" || skipHeaders[strings.ToLower(key)] {
			continue
		}
		headers[key] = value
	}
	return headers
}

func toHTTPCookies(cookies []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}
