package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlreport/internal/adapter"
	"github.com/JakeFAU/crawlreport/internal/config"
	"github.com/JakeFAU/crawlreport/internal/logging"
	"github.com/JakeFAU/crawlreport/internal/metrics"
	"github.com/JakeFAU/crawlreport/internal/server"
)

// Exit statuses.
const (
	exitOK    = 0
	exitFault = 1
	exitUsage = 2
)

const pushTimeout = 5 * time.Second

// usageError marks errors caused by bad arguments or flags.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// exitError carries a non-zero status without an error message.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// SessionOpener builds the crawler session for one CLI run.
type SessionOpener func(ctx context.Context, cfg config.Config, logger *zap.Logger) (adapter.Session, error)

// environment holds the process-level collaborators so tests can swap them.
type environment struct {
	stdout io.Writer
	open   SessionOpener
	serve  func(ctx context.Context, cfg config.Config, logger *zap.Logger) error
}

func defaultEnvironment() environment {
	return environment{
		stdout: os.Stdout,
		open: func(ctx context.Context, cfg config.Config, logger *zap.Logger) (adapter.Session, error) {
			s, err := server.NewSession(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		serve: server.Serve,
	}
}

type rootOptions struct {
	configPath   string
	timeout      time.Duration
	strict       bool
	headless     string
	ignoreRobots bool
}

func newRootCmd(env environment) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "crawlreport [flags] <url>",
		Short: "Crawl one URL and print a JSON report",
		Long: `crawlreport fetches a single page, optionally renders it in a headless
browser, converts it to markdown and prints exactly one JSON line describing
the result on stdout. Failures are reported in the same line; logs go to
stderr.`,
		// execute prints errors so that exit statuses stay silent.
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runCrawl(cmd, args[0], opts, env)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (yaml, json or toml)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "bound the whole crawl, e.g. 30s (0 means no bound)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit with status 1 when the report is a fault")
	cmd.Flags().StringVar(&opts.headless, "headless", "", "headless mode: off, auto or always")
	cmd.Flags().BoolVar(&opts.ignoreRobots, "ignore-robots", false, "do not consult robots.txt")

	cmd.AddCommand(newServeCmd(opts, env))
	return cmd
}

func runCrawl(cmd *cobra.Command, url string, opts *rootOptions, env environment) error {
	cfg, cfgErr := loadConfig(cmd, opts)
	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	timeout := cfg.CrawlTimeout()
	if cmd.Flags().Changed("timeout") {
		timeout = opts.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	open := func(ctx context.Context) (adapter.Session, error) {
		if cfgErr != nil {
			return nil, cfgErr
		}
		return env.open(ctx, cfg, logger)
	}
	faulted, err := adapter.New(open, logger.Named("adapter")).Run(ctx, url, env.stdout)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if cfgErr == nil && cfg.Metrics.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		if err := metrics.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			logger.Warn("push metrics failed", zap.Error(err))
		}
	}

	strict := opts.strict || (cfgErr == nil && cfg.Output.Strict)
	if faulted && strict {
		return exitError{code: exitFault}
	}
	return nil
}

// loadConfig reads the config file and environment, then applies flags. The
// returned Config is usable for logging even when err is set.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("headless") {
		cfg.Headless.Mode = opts.headless
	}
	if cmd.Flags().Changed("ignore-robots") {
		cfg.Crawler.IgnoreRobots = opts.ignoreRobots
	}
	if cmd.Flags().Changed("strict") {
		cfg.Output.Strict = opts.strict
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *zap.Logger {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crawlreport: logger setup failed: %v\n", err)
		return zap.NewNop()
	}
	return logger
}

// Execute runs the command line and returns the process exit status.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, newRootCmd(defaultEnvironment()), os.Args[1:])
}

func execute(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var exit exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	root.PrintErrln("Error:", err.Error())
	var usage usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	return exitFault
}
