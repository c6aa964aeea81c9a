package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/jobboard-crawler/internal/server"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API and run workers.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the run API and processes submitted crawls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg
			if port > 0 {
				cfg.Server.Port = port
			}
			services, err := server.Build(cmd.Context(), cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("build services: %w", err)
			}
			if err := server.NewApp(cfg, services, rt.logger).Run(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}
