package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/clock/system"
	"github.com/JakeFAU/jobboard-crawler/internal/config"
	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/id/uuid"
	"github.com/JakeFAU/jobboard-crawler/internal/server"
	"github.com/JakeFAU/jobboard-crawler/internal/worker"
)

type crawlOptions struct {
	roles     []string
	locations []string
	out       string
	format    string
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl in the foreground.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl and exports the records",
		Long: `Crawls every role × location pair given on the command line (or configured
under search.*), enriches each posting from its detail page and writes the
result through the configured output backend.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.roles, "role", nil, "role to search for (repeatable)")
	cmd.Flags().StringSliceVar(&opts.locations, "location", nil, "location to search in (repeatable)")
	cmd.Flags().StringVar(&opts.out, "out", "", "write the export below this directory instead of the configured backend")
	cmd.Flags().StringVar(&opts.format, "format", "", "export format: csv or jsonl")
	return cmd
}

func (o *crawlOptions) apply(cfg config.Config) (config.Config, []crawler.SearchQuery, error) {
	if o.out != "" {
		cfg.Output.Backend = config.BackendLocal
		cfg.Output.LocalDir = o.out
	}
	if o.format != "" {
		cfg.Output.Format = o.format
	}
	queries := cfg.SearchQueries()
	if len(o.roles) > 0 {
		queries = crawler.ExpandQueries(o.roles, o.locations)
	}
	if len(queries) == 0 {
		return cfg, nil, errors.New("no search queries: pass --role and --location or configure search.roles and search.locations")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, fmt.Errorf("invalid options: %w", err)
	}
	return cfg, queries, nil
}

func runCrawlCommand(cmd *cobra.Command, opts *crawlOptions) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	cfg, queries, err := opts.apply(rt.cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	services, err := server.Build(ctx, cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer func() {
		if cerr := services.Close(context.WithoutCancel(ctx)); cerr != nil {
			rt.logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	clock := system.New()
	if err := services.Runs.CreateRun(ctx, runID, queries, clock.Now()); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	w := worker.New(nil, services.Engine, services.Collaborators, clock, worker.Config{Topic: cfg.PubSub.TopicName}, rt.logger.Named("worker"))
	_, runErr := w.Process(ctx, worker.RunRequest{RunID: runID, Queries: queries})

	run, err := services.Runs.GetRun(context.WithoutCancel(ctx), runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Summary != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "run %s %s: %d records (%d enriched), %d query failures, %d page failures, %d detail failures\n",
			run.ID, run.Status, run.Summary.Records, run.Summary.Enriched,
			run.Summary.QueryFailures, run.Summary.PageFailures, run.Summary.DetailFailures)
	}
	if run.ExportURI != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "export: %s\n", run.ExportURI)
	}
	switch {
	case runErr != nil:
		return fmt.Errorf("crawl run %s: %w", runID, runErr)
	case run.Status == crawler.RunFailed:
		return fmt.Errorf("crawl run %s failed: every query failed", runID)
	}
	rt.logger.Info("crawl command finished", zap.String("run_id", runID), zap.String("status", run.Status))
	return nil
}
