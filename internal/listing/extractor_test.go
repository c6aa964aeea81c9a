package listing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := New("https://www.simplyhired.ca", Selectors{}, zap.NewNop())
	require.NoError(t, err)
	return e
}

func readFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func TestExtractFirstPage(t *testing.T) {
	t.Parallel()

	page, err := newTestExtractor(t).ExtractListingPage(readFixture(t, "first_page.html"), true)
	require.NoError(t, err)
	require.True(t, page.HasTotal)
	require.Equal(t, 1247, page.TotalCount)
	require.Len(t, page.Records, 3)

	require.Equal(t, crawler.SummaryRecord{
		PostedDate: "2024-03-01T10:00:00Z",
		Title:      "Registered Nurse",
		Location:   "Toronto, ON",
		Company:    "Toronto General",
		DetailURL:  "https://www.simplyhired.ca/job/AbC123",
		Snippet:    "Provide patient care on a busy ward.",
	}, page.Records[0])

	partial := page.Records[1]
	require.Equal(t, "Night Nurse", partial.Title)
	require.Equal(t, "https://www.simplyhired.ca/job/Def456", partial.DetailURL)
	require.Empty(t, partial.Company)
	require.Empty(t, partial.Snippet)
	require.Empty(t, partial.PostedDate)

	fallback := page.Records[2]
	require.Equal(t, "https://www.simplyhired.ca/job/Ghi789", fallback.DetailURL)
	require.Equal(t, "2024-02-28", fallback.PostedDate)
}

func TestExtractLaterPageIgnoresTotal(t *testing.T) {
	t.Parallel()

	markup := `<ul class="jobs"><div class="SerpJob-jobCard"><h3 class="jobposting-title"><a data-mdref="/job/x">X</a></h3></div></ul>`
	page, err := newTestExtractor(t).ExtractListingPage(markup, false)
	require.NoError(t, err)
	require.False(t, page.HasTotal)
	require.Len(t, page.Records, 1)
}

func TestExtractFirstPageMissingTotal(t *testing.T) {
	t.Parallel()

	_, err := newTestExtractor(t).ExtractListingPage(`<html><ul class="jobs"></ul></html>`, true)
	var malformed *crawler.MalformedPageError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, "missing total count", malformed.Reason)

	_, err = newTestExtractor(t).ExtractListingPage(`<span class="posting-total">many</span>`, true)
	require.ErrorAs(t, err, &malformed)
}

func TestExtractEmptyListing(t *testing.T) {
	t.Parallel()

	page, err := newTestExtractor(t).ExtractListingPage(`<span class="posting-total">0</span>`, true)
	require.NoError(t, err)
	require.Zero(t, page.TotalCount)
	require.Empty(t, page.Records)
}

func TestCustomSelectors(t *testing.T) {
	t.Parallel()

	e, err := New("https://jobs.example", Selectors{Card: "article.job", Title: "h2", Link: "a.view", LinkAttr: "href"}, zap.NewNop())
	require.NoError(t, err)
	page, err := e.ExtractListingPage(`<article class="job"><h2>Welder</h2><a class="view" href="/v/9?ref=1">view</a></article>`, false)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, "https://jobs.example/v/9", page.Records[0].DetailURL)
}

func TestNewRejectsRelativeBase(t *testing.T) {
	t.Parallel()

	_, err := New("/search", Selectors{}, nil)
	require.Error(t, err)
}

func TestParseCount(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"47":           47,
		"1,247":        1247,
		" 2 048 jobs ": 2048,
		"about 310":    310,

		"Showing 1–20 of 47":       47,
		"Showing 21 - 40 of 1,247": 1247,
	}
	for in, want := range cases {
		got, ok := ParseCount(in)
		require.True(t, ok, in)
		require.Equal(t, want, got, in)
	}
	_, ok := ParseCount("none")
	require.False(t, ok)
	_, ok = ParseCount("page 1 of 9999999999999999999999999")
	require.False(t, ok)
}
