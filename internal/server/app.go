package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/jobboard-crawler/internal/api"
	"github.com/JakeFAU/jobboard-crawler/internal/clock/system"
	"github.com/JakeFAU/jobboard-crawler/internal/config"
	"github.com/JakeFAU/jobboard-crawler/internal/dispatcher"
	"github.com/JakeFAU/jobboard-crawler/internal/id/uuid"
	queueMemory "github.com/JakeFAU/jobboard-crawler/internal/queue/memory"
	"github.com/JakeFAU/jobboard-crawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App is the HTTP service: API server, run queue and run workers.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	services  *Services
	queue     *queueMemory.Queue[worker.RunRequest]
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
}

// NewApp wires the queue, workers and API around services.
func NewApp(cfg config.Config, services *Services, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := queueMemory.NewQueue[worker.RunRequest](cfg.Server.QueueDepth)
	clock := system.New()

	workerCfg := worker.Config{
		Topic:      cfg.PubSub.TopicName,
		RunTimeout: cfg.Server.RunTimeout,
	}
	workers := make([]*worker.Worker, 0, cfg.Server.MaxConcurrentRuns)
	for i := 0; i < cfg.Server.MaxConcurrentRuns; i++ {
		workers = append(workers, worker.New(
			queue,
			services.Engine,
			services.Collaborators,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	opts := []api.Option{}
	if services.Records != nil {
		opts = append(opts, api.WithSummaryLoader(services.Records), api.WithReadiness(services.Records.Ping))
	}
	apiServer := api.NewServer(services.Runs, dispatch, uuid.New(), clock, logger.Named("api"), opts...)

	logger.Info("worker config",
		zap.Int("workers", len(workers)),
		zap.Int("queue_depth", cfg.Server.QueueDepth),
		zap.String("topic", workerCfg.Topic),
		zap.Duration("run_timeout", workerCfg.RunTimeout),
	)
	return &App{
		cfg:       cfg,
		logger:    logger,
		services:  services,
		queue:     queue,
		dispatch:  dispatch,
		apiServer: apiServer,
	}
}

// Handler exposes the API router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and processes queued runs until ctx ends or the server fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()
	a.queue.Close()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.services.Close(closeCtx); err != nil {
		a.logger.Warn("service close failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return runErr
}
