package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
site:
  base_url: https://jobs.example.com
  page_size: 25
  detail_params:
    isp: "1"
search:
  roles: [nurse, welder]
  locations: ["Ottawa, ON"]
  queries:
    - role: chef
      location: Toronto
  min_delay: 1s
  max_delay: 2s
  max_pages: 4
http:
  timeout: 10s
  max_retries: 5
challenge:
  headless_enabled: true
  max_parallel: 3
  chrome_path: /usr/bin/chromium
enrich:
  workers: 6
  rate_per_second: 2.5
  burst: 3
logging:
  development: false
  level: debug
output:
  format: jsonl
  backend: gcs
  gcs_bucket: exports
db:
  dsn: postgres://localhost/jobs
pubsub:
  project_id: proj
  topic_name: runs
server:
  port: 9090
  max_concurrent_runs: 2
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Site.BaseURL != "https://jobs.example.com" || cfg.Site.PageSize != 25 {
		t.Fatalf("unexpected site config: %+v", cfg.Site)
	}
	if cfg.Site.DetailParams["isp"] != "1" {
		t.Fatalf("detail params = %v", cfg.Site.DetailParams)
	}
	if cfg.Site.SearchPath != "/search" || cfg.Site.DetailQueryParam != "q" {
		t.Fatalf("defaults not kept: %+v", cfg.Site)
	}
	if cfg.Search.MinDelay != time.Second || cfg.Search.MaxDelay != 2*time.Second || cfg.Search.MaxPages != 4 {
		t.Fatalf("unexpected search config: %+v", cfg.Search)
	}
	if cfg.HTTP.Timeout != 10*time.Second || cfg.HTTP.MaxRetries != 5 {
		t.Fatalf("unexpected http config: %+v", cfg.HTTP)
	}
	if cfg.SolverConfig().ExecPath != "/usr/bin/chromium" {
		t.Fatalf("solver exec path = %q", cfg.SolverConfig().ExecPath)
	}
	if !cfg.Challenge.HeadlessEnabled || cfg.Challenge.MaxParallel != 3 || cfg.Challenge.MaxAttempts != 2 {
		t.Fatalf("unexpected challenge config: %+v", cfg.Challenge)
	}
	if cfg.Enrich.Workers != 6 || cfg.RateLimitConfig().RPS != 2.5 || cfg.RateLimitConfig().Burst != 3 {
		t.Fatalf("unexpected enrich config: %+v", cfg.Enrich)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Output.Backend != BackendGCS || cfg.Output.Format != "jsonl" || cfg.Output.Prefix != "runs" {
		t.Fatalf("unexpected output config: %+v", cfg.Output)
	}
	if cfg.DB.Table != "job_postings" || cfg.RecordStoreConfig().DSN != "postgres://localhost/jobs" {
		t.Fatalf("unexpected db config: %+v", cfg.DB)
	}
	if cfg.Server.Port != 9090 || cfg.Server.MaxConcurrentRuns != 2 || cfg.Server.QueueDepth != 16 {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}

	want := []crawler.SearchQuery{
		{Role: "chef", Location: "Toronto"},
		{Role: "nurse", Location: "Ottawa, ON"},
		{Role: "welder", Location: "Ottawa, ON"},
	}
	got := cfg.SearchQueries()
	if len(got) != len(want) {
		t.Fatalf("SearchQueries() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SearchQueries()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Site.BaseURL != "https://www.simplyhired.ca" {
		t.Fatalf("base url = %q", cfg.Site.BaseURL)
	}
	if cfg.Search.MinDelay != 3*time.Second || cfg.Search.MaxDelay != 6*time.Second {
		t.Fatalf("pacing = %s..%s", cfg.Search.MinDelay, cfg.Search.MaxDelay)
	}
	if cfg.Output.Backend != BackendLocal || cfg.Output.LocalDir != "data" {
		t.Fatalf("output = %+v", cfg.Output)
	}
	if cfg.Server.MaxConcurrentRuns != 1 {
		t.Fatalf("max concurrent runs = %d", cfg.Server.MaxConcurrentRuns)
	}
	if cfg.Search.MaxPages != DefaultMaxPages {
		t.Fatalf("max pages = %d", cfg.Search.MaxPages)
	}
	if !cfg.Challenge.HeadlessEnabled || cfg.Challenge.ChromePath != "" {
		t.Fatalf("challenge = %+v", cfg.Challenge)
	}
	pag := cfg.PaginationConfig()
	if pag.PageSize != 20 || pag.SearchPath != "/search" {
		t.Fatalf("pagination config = %+v", pag)
	}
	enr := cfg.EnrichConfig()
	if enr.QueryParam != "q" || enr.DetailParams["isp"] != "0" {
		t.Fatalf("enrich config = %+v", enr)
	}
	if len(cfg.SearchQueries()) != 0 {
		t.Fatalf("expected no default queries")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cases := map[string]func(*Config){
		"site.base_url":              func(c *Config) { c.Site.BaseURL = "/relative" },
		"search.max_delay":           func(c *Config) { c.Search.MaxDelay = time.Second },
		"search.queries[0].role":     func(c *Config) { c.Search.Queries = []QueryConfig{{Location: "x"}} },
		"http.timeout":               func(c *Config) { c.HTTP.Timeout = 0 },
		"challenge.max_parallel":     func(c *Config) { c.Challenge.HeadlessEnabled = true; c.Challenge.MaxParallel = 0 },
		"logging.level":              func(c *Config) { c.Logging.Level = "loud" },
		"output.format":              func(c *Config) { c.Output.Format = "xml" },
		"output.gcs_bucket":          func(c *Config) { c.Output.Backend = BackendGCS },
		"output.backend":             func(c *Config) { c.Output.Backend = "s3" },
		"pubsub.project_id":          func(c *Config) { c.PubSub.TopicName = "t" },
		"server.max_concurrent_runs": func(c *Config) { c.Server.MaxConcurrentRuns = 0 },
	}
	for key, mutate := range cases {
		cfg := base
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), key) {
			t.Fatalf("%s: Validate() error = %v", key, err)
		}
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("JOBCRAWLER_SERVER_PORT", "7070")
	t.Setenv("JOBCRAWLER_OUTPUT_BACKEND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Output.Backend != BackendMemory {
		t.Fatalf("env overrides ignored: port=%d backend=%s", cfg.Server.Port, cfg.Output.Backend)
	}
}
