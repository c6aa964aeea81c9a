// Package crawltest provides markup builders and in-memory collaborators for tests of
// the crawl packages.
package crawltest

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/progress"
)

// Card describes one job card rendered by ListingMarkup.
type Card struct {
	Title    string
	Link     string
	Company  string
	Location string
	Snippet  string
	Posted   string
}

// ListingMarkup renders a listing page. When total is negative the count element is omitted.
func ListingMarkup(total int, cards ...Card) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	if total >= 0 {
		fmt.Fprintf(&b, `<span class="posting-total">%d</span>`, total)
	}
	b.WriteString(`<ul class="jobs">`)
	for _, c := range cards {
		b.WriteString(`<li><div class="SerpJob-jobCard">`)
		fmt.Fprintf(&b, `<h3 class="jobposting-title"><a data-mdref="%s">%s</a></h3>`, html.EscapeString(c.Link), html.EscapeString(c.Title))
		if c.Company != "" {
			fmt.Fprintf(&b, `<span class="jobposting-company">%s</span>`, html.EscapeString(c.Company))
		}
		if c.Location != "" {
			fmt.Fprintf(&b, `<span class="jobposting-location">%s</span>`, html.EscapeString(c.Location))
		}
		if c.Snippet != "" {
			fmt.Fprintf(&b, `<p class="jobposting-snippet">%s</p>`, html.EscapeString(c.Snippet))
		}
		if c.Posted != "" {
			fmt.Fprintf(&b, `<time datetime="%s">recently</time>`, html.EscapeString(c.Posted))
		}
		b.WriteString(`</div></li>`)
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

// Cards builds n cards whose links are /job/<prefix>-<i>.
func Cards(prefix string, n int) []Card {
	out := make([]Card, n)
	for i := range out {
		out[i] = Card{
			Title:    fmt.Sprintf("%s job %d", prefix, i),
			Link:     fmt.Sprintf("/job/%s-%d?tk=serp", prefix, i),
			Company:  "Acme",
			Location: "Toronto, ON",
			Posted:   "2024-03-01",
		}
	}
	return out
}

// DetailMarkup renders a detail page for rec.
func DetailMarkup(rec crawler.DetailRecord) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="viewjob-content">`)
	if rec.EmploymentType != "" {
		fmt.Fprintf(&b, `<span class="viewjob-jobType">%s</span>`, html.EscapeString(rec.EmploymentType))
	}
	if len(rec.Qualifications) > 0 {
		b.WriteString("<ul>")
		for _, q := range rec.Qualifications {
			fmt.Fprintf(&b, `<li class="viewjob-qualification">%s</li>`, html.EscapeString(q))
		}
		b.WriteString("</ul>")
	}
	if rec.Description != "" {
		fmt.Fprintf(&b, `<div data-testid="VJ-section-content-jobDescription">%s</div>`, html.EscapeString(rec.Description))
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

// Response is a canned reply for one URL.
type Response struct {
	Markup string
	Err    error
	Delay  time.Duration
}

// Fetcher serves canned responses keyed by exact URL. Unknown URLs return a 404
// HTTPStatusError. It is safe for concurrent use.
type Fetcher struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []string
	agents    []string
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// NewFetcher creates an empty Fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{responses: make(map[string]Response)}
}

// Set registers the reply for url.
func (f *Fetcher) Set(url string, resp Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = resp
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string, identity crawler.RequestIdentity) (string, error) {
	f.mu.Lock()
	resp, ok := f.responses[url]
	f.calls = append(f.calls, url)
	f.agents = append(f.agents, identity.UserAgent)
	f.mu.Unlock()

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !ok {
		return "", &crawler.HTTPStatusError{URL: url, Status: 404}
	}
	if resp.Err != nil {
		return "", resp.Err
	}
	return resp.Markup, nil
}

// Calls returns the URLs fetched so far, in call order.
func (f *Fetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Agents returns the user agents seen so far, in call order.
func (f *Fetcher) Agents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.agents...)
}

// Identities hands out numbered identities.
type Identities struct {
	mu sync.Mutex
	n  int
}

// Next implements crawler.IdentitySource.
func (i *Identities) Next() crawler.RequestIdentity {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.n++
	return crawler.RequestIdentity{
		UserAgent: fmt.Sprintf("test-agent/%d", i.n),
		Headers:   map[string]string{"Accept-Language": "en-GB"},
	}
}

// Pauser records requested delays without sleeping. When CancelAfter is positive the
// given cancel func runs once that many pauses have been requested.
type Pauser struct {
	mu          sync.Mutex
	Delays      []time.Duration
	CancelAfter int
	Cancel      context.CancelFunc
}

// Pause implements crawler.Pauser.
func (p *Pauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Delays = append(p.Delays, d)
	if p.CancelAfter > 0 && len(p.Delays) == p.CancelAfter && p.Cancel != nil {
		p.Cancel()
	}
}

// Recorded returns a copy of the delays requested so far.
func (p *Pauser) Recorded() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.Delays...)
}

// Events records emitted progress events.
type Events struct {
	mu     sync.Mutex
	events []progress.Event
}

var _ progress.Emitter = (*Events)(nil)

// Emit implements progress.Emitter.
func (e *Events) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

// Stages returns how many events of each stage were seen.
func (e *Events) Stages() map[progress.Stage]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[progress.Stage]int)
	for _, evt := range e.events {
		out[evt.Stage]++
	}
	return out
}

// All returns a copy of the recorded events.
func (e *Events) All() []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]progress.Event(nil), e.events...)
}

// Clock returns a fixed time that advances by Step on every call.
type Clock struct {
	mu   sync.Mutex
	At   time.Time
	Step time.Duration
}

// Now implements crawler.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.At
	c.At = c.At.Add(c.Step)
	return now
}

// IDs hands out run-1, run-2, ...
type IDs struct {
	mu sync.Mutex
	n  int
}

// NewID implements crawler.IDGenerator.
func (g *IDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("run-%d", g.n), nil
}
