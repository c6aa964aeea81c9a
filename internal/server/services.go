// Package server builds the crawler's dependency graph and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/clock/system"
	"github.com/JakeFAU/jobboard-crawler/internal/config"
	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/detail"
	"github.com/JakeFAU/jobboard-crawler/internal/enrich"
	"github.com/JakeFAU/jobboard-crawler/internal/export"
	collyfetcher "github.com/JakeFAU/jobboard-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/jobboard-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/jobboard-crawler/internal/fetcher/retry"
	"github.com/JakeFAU/jobboard-crawler/internal/fetcher/tolerant"
	"github.com/JakeFAU/jobboard-crawler/internal/headless/detector"
	"github.com/JakeFAU/jobboard-crawler/internal/id/uuid"
	"github.com/JakeFAU/jobboard-crawler/internal/identity"
	"github.com/JakeFAU/jobboard-crawler/internal/listing"
	"github.com/JakeFAU/jobboard-crawler/internal/pagination"
	"github.com/JakeFAU/jobboard-crawler/internal/pipeline"
	"github.com/JakeFAU/jobboard-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/jobboard-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/jobboard-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/jobboard-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/jobboard-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/jobboard-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/jobboard-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/jobboard-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/jobboard-crawler/internal/storage/postgres"
	"github.com/JakeFAU/jobboard-crawler/internal/worker"
)

// Services holds the dependencies shared by the one-shot CLI run and the HTTP service.
type Services struct {
	Engine        *pipeline.Engine
	Collaborators worker.Collaborators
	Runs          *memoryStorage.RunStore
	Records       *pgstore.RecordStore
	Hub           *progress.Hub

	cfg     config.Config
	logger  *zap.Logger
	closers []func(context.Context) error
}

// Build creates the crawl pipeline, its outputs and the progress hub.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Services{
		Runs:   memoryStorage.NewRunStore(),
		cfg:    cfg,
		logger: logger,
	}
	if err := s.build(ctx); err != nil {
		if cerr := s.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return s, nil
}

func (s *Services) build(ctx context.Context) error {
	blobStore, err := s.setupStorage(ctx)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(s.cfg.Output.Format)
	if err != nil {
		return fmt.Errorf("output format: %w", err)
	}
	exporter, err := export.NewExporter(blobStore, format, s.cfg.Output.Prefix, s.logger.Named("export"))
	if err != nil {
		return fmt.Errorf("exporter init failed: %w", err)
	}
	s.Collaborators.Exporter = exporter
	s.Collaborators.Tracker = s.Runs

	if err := s.setupDatabase(ctx); err != nil {
		return err
	}
	if s.Records != nil {
		s.Collaborators.Records = s.Records
	}

	publisher, err := s.setupPublisher(ctx)
	if err != nil {
		return err
	}
	s.Collaborators.Publisher = publisher

	if err := s.setupProgress(); err != nil {
		return err
	}

	s.Engine, err = s.setupPipeline()
	return err
}

func (s *Services) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch s.cfg.Output.Backend {
	case config.BackendGCS:
		s.logger.Info("using GCS storage backend", zap.String("bucket", s.cfg.Output.GCSBucket))
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: s.cfg.Output.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return store.Close() })
		return store, nil
	case config.BackendLocal:
		s.logger.Info("using local storage backend", zap.String("path", s.cfg.Output.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: s.cfg.Output.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	default:
		s.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (s *Services) setupDatabase(ctx context.Context) error {
	if s.cfg.DB.DSN == "" {
		s.logger.Warn("no DSN specified for database, skipping record store")
		return nil
	}
	store, err := pgstore.New(ctx, s.cfg.RecordStoreConfig())
	if err != nil {
		return fmt.Errorf("record store init failed: %w", err)
	}
	s.closers = append(s.closers, func(context.Context) error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("record store schema: %w", err)
	}
	s.Records = store
	s.logger.Info("record store initialized", zap.String("table", s.cfg.DB.Table))
	return nil
}

func (s *Services) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if s.cfg.PubSub.TopicName == "" || s.cfg.PubSub.ProjectID == "" {
		s.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Open(ctx, s.cfg.PubSub.ProjectID, s.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	s.closers = append(s.closers, func(context.Context) error { return pub.Close() })
	s.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", s.cfg.PubSub.ProjectID),
		zap.String("topic", s.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (s *Services) setupProgress() error {
	promSink, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("progress prometheus sink: %w", err)
	}
	s.Hub = progress.NewHub(
		progress.Config{Logger: s.logger.Named("progress_hub")},
		progresssinks.NewLogSink(s.logger.Named("progress")),
		promSink,
		progresssinks.NewStoreSink(s.Runs, s.logger.Named("progress_store")),
	)
	return nil
}

// newSolver returns the chromedp solver when a browser is available. Otherwise it logs why
// and falls back to headless.Noop, which leaves every challenge unsolved.
func (s *Services) newSolver(detect crawler.ChallengeDetector) crawler.ChallengeSolver {
	if !s.cfg.Challenge.HeadlessEnabled {
		s.logger.Warn("headless challenge solver disabled; challenge pages will fail")
		return headlessfetcher.NewNoop()
	}
	execPath, err := headlessfetcher.FindBrowser(s.cfg.Challenge.ChromePath)
	if err != nil {
		s.logger.Warn("no browser for the headless challenge solver; challenge pages will fail",
			zap.String("chrome_path", s.cfg.Challenge.ChromePath),
			zap.Error(err),
		)
		return headlessfetcher.NewNoop()
	}
	solverCfg := s.cfg.SolverConfig()
	solverCfg.ExecPath = execPath
	chrome, err := headlessfetcher.NewChromedp(solverCfg, detect)
	if err != nil {
		s.logger.Warn("headless solver init failed; challenge pages will fail", zap.Error(err))
		return headlessfetcher.NewNoop()
	}
	s.closers = append(s.closers, func(context.Context) error {
		chrome.Close()
		return nil
	})
	s.logger.Info("using headless challenge solver",
		zap.String("browser", execPath),
		zap.Int("max_parallel", s.cfg.Challenge.MaxParallel),
	)
	return chrome
}

func (s *Services) setupPipeline() (*pipeline.Engine, error) {
	identities := identity.New(identity.Config{UserAgents: s.cfg.Identity.UserAgents})
	detect := detector.NewHeuristic(0)
	probe := collyfetcher.New(s.cfg.FetcherConfig())

	solver := s.newSolver(detect)
	tolerantFetcher := tolerant.New(
		tolerant.Config{MaxAttempts: s.cfg.Challenge.MaxAttempts},
		probe,
		detect,
		solver,
		s.logger.Named("fetch"),
	)
	fetcher := retry.New(
		tolerantFetcher,
		retry.NewExponentialPolicy(s.cfg.HTTP.MaxRetries, s.cfg.HTTP.BackoffInitial, s.cfg.HTTP.BackoffMax),
		s.logger.Named("retry"),
		retry.WithIdentitySource(identities),
	)

	extractor, err := listing.New(s.cfg.Site.BaseURL, listing.DefaultSelectors(), s.logger.Named("listing"))
	if err != nil {
		return nil, fmt.Errorf("listing extractor init failed: %w", err)
	}
	driver, err := pagination.New(
		s.cfg.PaginationConfig(),
		fetcher,
		extractor,
		identities,
		s.logger.Named("pagination"),
		pagination.WithEmitter(s.Hub),
	)
	if err != nil {
		return nil, fmt.Errorf("pagination driver init failed: %w", err)
	}

	enrichOpts := []enrich.Option{enrich.WithEmitter(s.Hub)}
	if limiter := ratelimit.New(s.cfg.RateLimitConfig()); limiter.Enabled() {
		enrichOpts = append(enrichOpts, enrich.WithWaiter(limiter))
	}
	enricher, err := enrich.New(
		s.cfg.EnrichConfig(),
		fetcher,
		detail.New(detail.DefaultSelectors()),
		identities,
		s.logger.Named("enrich"),
		enrichOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("enricher init failed: %w", err)
	}

	engine, err := pipeline.New(driver, enricher, uuid.New(), system.New(), s.logger.Named("pipeline"), pipeline.WithEmitter(s.Hub))
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}
	return engine, nil
}

// Close flushes progress and releases clients in reverse order of creation.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.Hub != nil {
		if err := s.Hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
