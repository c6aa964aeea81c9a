package crawler

import (
	"net/http"
	"strings"
	"time"
)

// SearchQuery identifies one pagination run against the listing site.
type SearchQuery struct {
	Role     string `json:"role" mapstructure:"role"`
	Location string `json:"location" mapstructure:"location"`
}

// String renders the query for logs.
func (q SearchQuery) String() string {
	return q.Role + " @ " + q.Location
}

// Validate rejects queries that would produce an empty search.
func (q SearchQuery) Validate() error {
	if strings.TrimSpace(q.Role) == "" {
		return ErrEmptyRole
	}
	return nil
}

// ExpandQueries builds the cartesian product of roles and locations, role-major.
// Blank entries are skipped.
func ExpandQueries(roles, locations []string) []SearchQuery {
	out := make([]SearchQuery, 0, len(roles)*len(locations))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		for _, location := range locations {
			location = strings.TrimSpace(location)
			if location == "" {
				continue
			}
			out = append(out, SearchQuery{Role: role, Location: location})
		}
	}
	return out
}

// SummaryRecord is one job card scraped from a listing page.
type SummaryRecord struct {
	PostedDate string      `json:"posted_date"`
	Title      string      `json:"title"`
	Location   string      `json:"location"`
	Company    string      `json:"company"`
	DetailURL  string      `json:"detail_url"`
	Snippet    string      `json:"snippet"`
	Search     SearchQuery `json:"search"`
}

// DetailRecord holds the enrichment fields parsed from a detail page. Every field is
// optional; the zero value means the page was missing or could not be fetched.
type DetailRecord struct {
	EmploymentType string   `json:"employment_type,omitempty"`
	Qualifications []string `json:"qualifications,omitempty"`
	Description    string   `json:"description,omitempty"`
}

// IsZero reports whether no enrichment field is present.
func (d DetailRecord) IsZero() bool {
	return d.EmploymentType == "" && len(d.Qualifications) == 0 && d.Description == ""
}

// EnrichedRecord joins a summary with the detail fetched for it. The join is positional.
type EnrichedRecord struct {
	Summary SummaryRecord `json:"summary"`
	Detail  DetailRecord  `json:"detail"`
}

// RequestIdentity is the outbound fingerprint used for exactly one request.
type RequestIdentity struct {
	UserAgent string
	Headers   map[string]string
}

// HTTPHeader converts the identity into request headers, User-Agent included.
func (id RequestIdentity) HTTPHeader() http.Header {
	h := make(http.Header, len(id.Headers)+1)
	for k, v := range id.Headers {
		h.Set(k, v)
	}
	if id.UserAgent != "" {
		h.Set("User-Agent", id.UserAgent)
	}
	return h
}

// ListingPage is the extraction result for one listing page. TotalCount is only
// meaningful when HasTotal is set, which happens on the first page.
type ListingPage struct {
	TotalCount int
	HasTotal   bool
	Records    []SummaryRecord
}

// Page is a raw HTTP or browser response used inside the fetch layer.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Cookies    []*http.Cookie
	Duration   time.Duration
	Headless   bool
}

// QueryFailure records a search that produced no records because its first page failed.
type QueryFailure struct {
	Query SearchQuery `json:"query"`
	Err   string      `json:"error"`
}

// PageFailure records a listing page that was skipped.
type PageFailure struct {
	Query SearchQuery `json:"query"`
	Page  int         `json:"page"`
	URL   string      `json:"url"`
	Err   string      `json:"error"`
}

// DetailFailure records a detail page whose enrichment was left empty.
type DetailFailure struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Err   string `json:"error"`
}

// RunResult is the best-effort output of one orchestrated crawl plus its diagnostics.
type RunResult struct {
	RunID          string           `json:"run_id"`
	Queries        []SearchQuery    `json:"queries"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	Records        []EnrichedRecord `json:"records"`
	QueryFailures  []QueryFailure   `json:"query_failures,omitempty"`
	PageFailures   []PageFailure    `json:"page_failures,omitempty"`
	DetailFailures []DetailFailure  `json:"detail_failures,omitempty"`
}

// RunSummary condenses a RunResult for status endpoints and notifications.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	Status         string    `json:"status"`
	Queries        int       `json:"queries"`
	Records        int       `json:"records"`
	Enriched       int       `json:"enriched"`
	QueryFailures  int       `json:"query_failures"`
	PageFailures   int       `json:"page_failures"`
	DetailFailures int       `json:"detail_failures"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Summary counts the result.
func (r RunResult) Summary() RunSummary {
	enriched := 0
	for _, rec := range r.Records {
		if !rec.Detail.IsZero() {
			enriched++
		}
	}
	return RunSummary{
		RunID:          r.RunID,
		Status:         r.Status(),
		Queries:        len(r.Queries),
		Records:        len(r.Records),
		Enriched:       enriched,
		QueryFailures:  len(r.QueryFailures),
		PageFailures:   len(r.PageFailures),
		DetailFailures: len(r.DetailFailures),
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
}

// Run statuses. Status reports the last three; the run store adds the others.
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunCanceled  = "canceled"
	RunSucceeded = "succeeded"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

// Status classifies a finished run. A run fails only when every query failed.
func (r RunResult) Status() string {
	switch {
	case len(r.Queries) > 0 && len(r.QueryFailures) == len(r.Queries):
		return RunFailed
	case len(r.QueryFailures) > 0 || len(r.PageFailures) > 0 || len(r.DetailFailures) > 0:
		return RunPartial
	default:
		return RunSucceeded
	}
}
