package server

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlreport/internal/archive"
	"github.com/JakeFAU/crawlreport/internal/clock/system"
	"github.com/JakeFAU/crawlreport/internal/config"
	"github.com/JakeFAU/crawlreport/internal/crawler"
	"github.com/JakeFAU/crawlreport/internal/extract"
	collyfetcher "github.com/JakeFAU/crawlreport/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/crawlreport/internal/fetcher/headless"
	"github.com/JakeFAU/crawlreport/internal/hash/sha256"
	"github.com/JakeFAU/crawlreport/internal/headless/detector"
	"github.com/JakeFAU/crawlreport/internal/id/uuid"
	gcppublisher "github.com/JakeFAU/crawlreport/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/crawlreport/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawlreport/internal/storage/local"
	pgstore "github.com/JakeFAU/crawlreport/internal/storage/postgres"
)

type closer func(context.Context) error

// NewSession builds a crawler session from cfg. Every resource it opens is
// released by Session.Close.
func NewSession(ctx context.Context, cfg config.Config, logger *zap.Logger) (*crawler.Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var closers []closer
	fail := func(err error) (*crawler.Session, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn("release after failed setup", zap.Error(cerr))
			}
		}
		return nil, err
	}

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: !cfg.Crawler.IgnoreRobots,
		Timeout:       cfg.HTTPTimeout(),
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
	})
	logger.Debug("using colly probe fetcher", zap.String("user_agent", cfg.Crawler.UserAgent))

	opts := []crawler.Option{
		crawler.WithRobots(!cfg.Crawler.IgnoreRobots),
		crawler.WithHeaders(headersFrom(cfg.HTTP.Headers)),
	}

	if cfg.HeadlessEnabled() {
		headless, release := setupHeadless(cfg, logger)
		if release != nil {
			closers = append(closers, release)
		}
		opts = append(opts, crawler.WithHeadless(
			headless,
			detector.NewHeuristic(cfg.Headless.PromotionThreshold),
			crawler.HeadlessMode(cfg.Headless.Mode),
		))
	}

	if cfg.ArchiveEnabled() {
		archiver, archiveClosers, checks, err := setupArchive(ctx, cfg, logger)
		closers = append(closers, archiveClosers...)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, crawler.WithArchiver(archiver))
		for _, check := range checks {
			opts = append(opts, crawler.WithReadyCheck(check))
		}
	}

	for _, c := range closers {
		opts = append(opts, crawler.WithCloser(c))
	}
	session, err := crawler.NewSession(probe, extract.New(logger.Named("extract")), logger.Named("crawler"), opts...)
	if err != nil {
		return fail(fmt.Errorf("build crawler session: %w", err))
	}
	return session, nil
}

func setupHeadless(cfg config.Config, logger *zap.Logger) (crawler.Fetcher, closer) {
	fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Crawler.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
		SettleDelay:       cfg.SettleDelay(),
		WaitSelector:      cfg.Headless.WaitSelector,
		ScrollToBottom:    cfg.Headless.ScrollToBottom,
		ExecPath:          cfg.Headless.ExecPath,
		NoSandbox:         cfg.Headless.NoSandbox,
	})
	if err != nil {
		logger.Warn("headless fetcher init failed, promotions disabled", zap.Error(err))
		return headlessfetcher.NewNoop(), nil
	}
	logger.Info("using headless fetcher",
		zap.String("mode", cfg.Headless.Mode),
		zap.Int("max_parallel", cfg.Headless.MaxParallel),
	)
	return fetcher, fetcher.Close
}

// setupArchive opens the configured sinks. It returns their closers, even on
// failure, and readiness checks for the ones that can be probed.
func setupArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Archiver, []closer, []closer, error) {
	var closers, checks []closer
	deps := archive.Deps{
		Hasher: sha256.New(),
		Clock:  system.New(),
		IDs:    uuid.New(),
	}

	switch cfg.Archive.Backend {
	case config.ArchiveGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return nil, closers, nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		closers = append(closers, store.Close)
		deps.Blobs = store
		logger.Info("using GCS archive", zap.String("bucket", cfg.Archive.GCSBucket))
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Archive.LocalDir})
		if err != nil {
			return nil, closers, nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		deps.Blobs = store
		logger.Info("using local archive", zap.String("path", cfg.Archive.LocalDir))
	}

	if cfg.DB.DSN != "" {
		store, err := pgstore.NewRetrievalStore(ctx, pgstore.RetrievalStoreConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.ConnMaxLifetime(),
			AutoMigrate:     cfg.DB.AutoMigrate,
		})
		if err != nil {
			return nil, closers, nil, fmt.Errorf("retrieval store init failed: %w", err)
		}
		closers = append(closers, func(context.Context) error {
			store.Close()
			return nil
		})
		deps.Retrievals = store
		checks = append(checks, store.Ping)
		logger.Info("retrieval store initialized", zap.String("table", cfg.DB.Table))
	}

	if cfg.PubSub.TopicName != "" {
		pub, err := gcppublisher.Open(ctx, gcppublisher.Config{ProjectID: cfg.PubSub.ProjectID})
		if err != nil {
			return nil, closers, nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		closers = append(closers, pub.Close)
		deps.Publisher = pub
		logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
	}

	archiver, err := archive.New(archive.Config{
		BlobPrefix: cfg.Archive.Prefix,
		Topic:      cfg.PubSub.TopicName,
	}, deps, logger.Named("archive"))
	if err != nil {
		return nil, closers, nil, fmt.Errorf("archive init failed: %w", err)
	}
	return archiver, closers, checks, nil
}

func headersFrom(m map[string]string) http.Header {
	h := http.Header{}
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
