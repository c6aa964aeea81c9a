package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExpandQueriesCartesian(t *testing.T) {
	t.Parallel()

	got := ExpandQueries([]string{"data analyst", " ", "nurse"}, []string{"Toronto", "Vancouver"})
	require.Equal(t, []SearchQuery{
		{Role: "data analyst", Location: "Toronto"},
		{Role: "data analyst", Location: "Vancouver"},
		{Role: "nurse", Location: "Toronto"},
		{Role: "nurse", Location: "Vancouver"},
	}, got)
}

func TestSearchQueryValidate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, SearchQuery{Location: "Toronto"}.Validate(), ErrEmptyRole)
	require.NoError(t, SearchQuery{Role: "nurse"}.Validate())
}

func TestRequestIdentityHTTPHeader(t *testing.T) {
	t.Parallel()

	id := RequestIdentity{UserAgent: "ua", Headers: map[string]string{"accept-language": "en-GB"}}
	h := id.HTTPHeader()
	require.Equal(t, "ua", h.Get("User-Agent"))
	require.Equal(t, "en-GB", h.Get("Accept-Language"))
}

func TestRunResultSummary(t *testing.T) {
	t.Parallel()

	res := RunResult{
		RunID:   "run-1",
		Queries: []SearchQuery{{Role: "a"}},
		Records: []EnrichedRecord{
			{Detail: DetailRecord{EmploymentType: "Full-time"}},
			{},
		},
		DetailFailures: []DetailFailure{{Index: 1, URL: "u", Err: "boom"}},
	}
	sum := res.Summary()
	require.Equal(t, 2, sum.Records)
	require.Equal(t, 1, sum.Enriched)
	require.Equal(t, 1, sum.DetailFailures)
	require.Equal(t, 1, sum.Queries)
	require.Equal(t, RunPartial, sum.Status)
}

func TestErrorsUnwrapAndStatus(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("fetch page: %w", &TransportError{URL: "u", Cause: cause})
	require.ErrorIs(t, err, cause)
	require.Zero(t, StatusCode(err))

	statusErr := fmt.Errorf("fetch page: %w", &HTTPStatusError{URL: "u", Status: http.StatusNotFound})
	require.Equal(t, http.StatusNotFound, StatusCode(statusErr))
	require.Contains(t, statusErr.Error(), "404")

	require.Contains(t, (&ChallengeError{URL: "u", Attempts: 2}).Error(), "2 attempts")
	require.Contains(t, (&ChallengeError{URL: "u"}).Error(), "no solver")
	require.Equal(t, "malformed page: missing total count", (&MalformedPageError{Reason: "missing total count"}).Error())
}

func TestTimerPauserHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	TimerPauser{}.Pause(ctx, 5*time.Second)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")
}

func TestRunResultStatus(t *testing.T) {
	t.Parallel()

	q := SearchQuery{Role: "r", Location: "l"}
	require.Equal(t, RunSucceeded, RunResult{Queries: []SearchQuery{q}}.Status())
	require.Equal(t, RunPartial, RunResult{
		Queries:      []SearchQuery{q},
		PageFailures: []PageFailure{{Query: q, Page: 2}},
	}.Status())
	require.Equal(t, RunFailed, RunResult{
		Queries:       []SearchQuery{q},
		QueryFailures: []QueryFailure{{Query: q}},
	}.Status())
	require.Equal(t, RunSucceeded, RunResult{}.Status())
}
