package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobboard-crawler/internal/config"
	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

func TestCrawlOptionsApplyFlagsOverrideConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Search.Roles = []string{"ignored"}
	cfg.Search.Locations = []string{"nowhere"}

	opts := &crawlOptions{
		roles:     []string{"nurse", "welder"},
		locations: []string{"Austin, TX"},
		out:       t.TempDir(),
		format:    "jsonl",
	}
	got, queries, err := opts.apply(cfg)
	require.NoError(t, err)
	require.Equal(t, config.BackendLocal, got.Output.Backend)
	require.Equal(t, opts.out, got.Output.LocalDir)
	require.Equal(t, "jsonl", got.Output.Format)
	require.Equal(t, []crawler.SearchQuery{
		{Role: "nurse", Location: "Austin, TX"},
		{Role: "welder", Location: "Austin, TX"},
	}, queries)
}

func TestCrawlOptionsApplyFallsBackToConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Search.Roles = []string{"nurse"}
	cfg.Search.Locations = []string{"Reno, NV"}

	_, queries, err := (&crawlOptions{}).apply(cfg)
	require.NoError(t, err)
	require.Equal(t, []crawler.SearchQuery{{Role: "nurse", Location: "Reno, NV"}}, queries)
}

func TestCrawlOptionsApplyRejectsBadFormat(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	_, _, err = (&crawlOptions{roles: []string{"nurse"}, locations: []string{"Reno"}, format: "xml"}).apply(cfg)
	require.ErrorContains(t, err, "output.format")
}

func TestCrawlCommandWithoutQueries(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"crawl"})

	err := root.Execute()
	require.ErrorContains(t, err, "no search queries")
}

func TestServeCommandRequiresLoadedConfig(t *testing.T) {
	cmd := newServeCmd()
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	require.ErrorContains(t, err, "configuration not loaded")
}
