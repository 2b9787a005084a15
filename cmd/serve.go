package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlreport/internal/config"
)

func newServeCmd(root *rootOptions, env environment) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve crawl reports over HTTP",
		Long: `serve exposes POST /v1/crawl, which answers with the same JSON report the
root command prints, plus /healthz, /readyz and /metrics.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			logger := newLogger(cfg)
			defer func() { _ = logger.Sync() }()

			logger.Info("starting crawl report server", zap.Int("port", cfg.Server.Port))
			if err := env.serve(cmd.Context(), cfg, logger); err != nil {
				if errors.Is(err, cmd.Context().Err()) {
					return nil
				}
				return fmt.Errorf("serve: %w", err)
			}
			logger.Info("crawl report server stopped")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}
