// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/enrich"
	"github.com/JakeFAU/jobboard-crawler/internal/export"
	collyfetcher "github.com/JakeFAU/jobboard-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/jobboard-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/jobboard-crawler/internal/logging"
	"github.com/JakeFAU/jobboard-crawler/internal/pagination"
	"github.com/JakeFAU/jobboard-crawler/internal/policy/ratelimit"
	pgstore "github.com/JakeFAU/jobboard-crawler/internal/storage/postgres"
)

// EnvPrefix namespaces environment overrides, e.g. JOBCRAWLER_SERVER_PORT.
const EnvPrefix = "JOBCRAWLER"

// DefaultMaxPages caps listing pages per search unless search.max_pages overrides it.
// Zero disables the cap.
const DefaultMaxPages = 50

// Output backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Site      SiteConfig      `mapstructure:"site"`
	Search    SearchConfig    `mapstructure:"search"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Challenge ChallengeConfig `mapstructure:"challenge"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Output    OutputConfig    `mapstructure:"output"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
}

// SiteConfig describes the job board being crawled.
type SiteConfig struct {
	BaseURL          string            `mapstructure:"base_url"`
	SearchPath       string            `mapstructure:"search_path"`
	PageSize         int               `mapstructure:"page_size"`
	DetailParams     map[string]string `mapstructure:"detail_params"`
	DetailQueryParam string            `mapstructure:"detail_query_param"`
}

// QueryConfig is one configured search.
type QueryConfig struct {
	Role     string `mapstructure:"role"`
	Location string `mapstructure:"location"`
}

// SearchConfig lists the searches to run and how to pace them.
type SearchConfig struct {
	Roles     []string      `mapstructure:"roles"`
	Locations []string      `mapstructure:"locations"`
	Queries   []QueryConfig `mapstructure:"queries"`
	MinDelay  time.Duration `mapstructure:"min_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
	MaxPages  int           `mapstructure:"max_pages"`
}

// IdentityConfig overrides the User-Agent pool.
type IdentityConfig struct {
	UserAgents []string `mapstructure:"user_agents"`
}

// HTTPConfig configures the plain fetcher and its retry behavior.
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// ChallengeConfig configures interstitial handling.
type ChallengeConfig struct {
	HeadlessEnabled bool          `mapstructure:"headless_enabled"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	NavTimeout      time.Duration `mapstructure:"nav_timeout"`
	ClearTimeout    time.Duration `mapstructure:"clear_timeout"`
	// ChromePath pins the browser binary; empty searches the usual install locations.
	ChromePath string `mapstructure:"chrome_path"`
}

// EnrichConfig sizes the detail worker pool.
type EnrichConfig struct {
	Workers       int     `mapstructure:"workers"`
	QueueDepth    int     `mapstructure:"queue_depth"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// OutputConfig selects where exports are written.
type OutputConfig struct {
	Format    string `mapstructure:"format"`
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	RunsTable       string        `mapstructure:"runs_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://www.simplyhired.ca")
	v.SetDefault("site.search_path", "/search")
	v.SetDefault("site.page_size", 20)
	v.SetDefault("site.detail_params", map[string]string{"isp": "0"})
	v.SetDefault("site.detail_query_param", "q")
	v.SetDefault("search.roles", []string{})
	v.SetDefault("search.locations", []string{})
	v.SetDefault("search.min_delay", "3s")
	v.SetDefault("search.max_delay", "6s")
	v.SetDefault("search.max_pages", DefaultMaxPages)
	v.SetDefault("identity.user_agents", []string{})
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial", "500ms")
	v.SetDefault("http.backoff_max", "5s")
	v.SetDefault("challenge.headless_enabled", true)
	v.SetDefault("challenge.chrome_path", "")
	v.SetDefault("challenge.max_attempts", 2)
	v.SetDefault("challenge.max_parallel", 2)
	v.SetDefault("challenge.nav_timeout", "45s")
	v.SetDefault("challenge.clear_timeout", "15s")
	v.SetDefault("enrich.workers", 0)
	v.SetDefault("enrich.queue_depth", 0)
	v.SetDefault("enrich.rate_per_second", 0)
	v.SetDefault("enrich.burst", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("output.format", string(export.FormatCSV))
	v.SetDefault("output.backend", BackendLocal)
	v.SetDefault("output.local_dir", "data")
	v.SetDefault("output.prefix", "runs")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "job_postings")
	v.SetDefault("db.runs_table", "crawl_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_concurrent_runs", 1)
	v.SetDefault("server.queue_depth", 16)
	v.SetDefault("server.run_timeout", "2h")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Site.BaseURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("site.base_url must be an absolute URL")
	}
	if c.Site.PageSize <= 0 {
		return fmt.Errorf("site.page_size must be > 0")
	}
	if c.Search.MinDelay < 0 || c.Search.MaxDelay < c.Search.MinDelay {
		return fmt.Errorf("search.max_delay must be >= search.min_delay >= 0")
	}
	if c.Search.MaxPages < 0 {
		return fmt.Errorf("search.max_pages must be >= 0")
	}
	for i, q := range c.Search.Queries {
		if strings.TrimSpace(q.Role) == "" {
			return fmt.Errorf("search.queries[%d].role is required", i)
		}
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Challenge.HeadlessEnabled && c.Challenge.MaxParallel <= 0 {
		return fmt.Errorf("challenge.max_parallel must be > 0 when headless is enabled")
	}
	if c.Enrich.Workers < 0 || c.Enrich.QueueDepth < 0 {
		return fmt.Errorf("enrich.workers and enrich.queue_depth must be >= 0")
	}
	if c.Enrich.RatePerSecond < 0 {
		return fmt.Errorf("enrich.rate_per_second must be >= 0")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if _, err := export.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}
	switch c.Output.Backend {
	case BackendLocal:
		if c.Output.LocalDir == "" {
			return fmt.Errorf("output.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Output.GCSBucket == "" {
			return fmt.Errorf("output.gcs_bucket must be set for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("output.backend %q is not one of local, gcs, memory", c.Output.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("server.max_concurrent_runs must be > 0")
	}
	return nil
}

// SearchQueries returns the configured searches: explicit queries first, then the
// roles × locations product.
func (c Config) SearchQueries() []crawler.SearchQuery {
	out := make([]crawler.SearchQuery, 0, len(c.Search.Queries)+len(c.Search.Roles)*len(c.Search.Locations))
	for _, q := range c.Search.Queries {
		out = append(out, crawler.SearchQuery{Role: q.Role, Location: q.Location})
	}
	return append(out, crawler.ExpandQueries(c.Search.Roles, c.Search.Locations)...)
}

// PaginationConfig converts site and search settings for the pagination driver.
func (c Config) PaginationConfig() pagination.Config {
	return pagination.Config{
		BaseURL:    c.Site.BaseURL,
		SearchPath: c.Site.SearchPath,
		PageSize:   c.Site.PageSize,
		MaxPages:   c.Search.MaxPages,
		MinDelay:   c.Search.MinDelay,
		MaxDelay:   c.Search.MaxDelay,
	}
}

// EnrichConfig converts the enrich settings for the detail enricher.
func (c Config) EnrichConfig() enrich.Config {
	return enrich.Config{
		Workers:      c.Enrich.Workers,
		QueueDepth:   c.Enrich.QueueDepth,
		DetailParams: c.Site.DetailParams,
		QueryParam:   c.Site.DetailQueryParam,
	}
}

// RateLimitConfig converts the enrich rate settings.
func (c Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{RPS: c.Enrich.RatePerSecond, Burst: c.Enrich.Burst}
}

// FetcherConfig converts the HTTP settings for the colly probe.
func (c Config) FetcherConfig() collyfetcher.Config {
	return collyfetcher.Config{Timeout: c.HTTP.Timeout}
}

// SolverConfig converts the challenge settings for the chromedp solver.
func (c Config) SolverConfig() headlessfetcher.Config {
	return headlessfetcher.Config{
		MaxParallel:       c.Challenge.MaxParallel,
		NavigationTimeout: c.Challenge.NavTimeout,
		ClearTimeout:      c.Challenge.ClearTimeout,
		ExecPath:          c.Challenge.ChromePath,
	}
}

// RecordStoreConfig converts the database settings.
func (c Config) RecordStoreConfig() pgstore.Config {
	return pgstore.Config{
		DSN:             c.DB.DSN,
		Table:           c.DB.Table,
		RunsTable:       c.DB.RunsTable,
		MaxConns:        c.DB.MaxConns,
		MinConns:        c.DB.MinConns,
		MaxConnLifetime: c.DB.MaxConnLifetime,
	}
}

// LoggingOptions converts the logging settings.
func (c Config) LoggingOptions() logging.Config {
	return logging.Config{Development: c.Logging.Development, Level: c.Logging.Level}
}
