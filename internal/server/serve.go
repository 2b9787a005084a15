package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawlreport/internal/adapter"
	"github.com/JakeFAU/crawlreport/internal/api"
	"github.com/JakeFAU/crawlreport/internal/config"
	"github.com/JakeFAU/crawlreport/internal/crawler"
	"github.com/JakeFAU/crawlreport/internal/policy/ratelimit"
)

// sharedSession lets every request reuse one session; the server closes it
// once on shutdown.
type sharedSession struct {
	*crawler.Session
}

func (sharedSession) Close(context.Context) error { return nil }

// Serve listens on cfg.Server.Port and serves crawl requests until ctx ends.
func Serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return ServeListener(ctx, ln, cfg, logger)
}

// ServeListener serves crawl requests on ln until ctx ends, then shuts down
// gracefully and releases the crawler session.
func ServeListener(ctx context.Context, ln net.Listener, cfg config.Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	session, err := NewSession(ctx, cfg, logger)
	if err != nil {
		_ = ln.Close()
		return err
	}

	shared := sharedSession{session}
	reporter := adapter.New(func(context.Context) (adapter.Session, error) {
		return shared, nil
	}, logger.Named("adapter"))

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	})
	apiServer := api.NewServer(reporter, limiter, api.Options{
		RequestTimeout: cfg.RequestTimeout(),
		APIKey:         apiKey,
		Ready:          session.Ready,
	}, logger.Named("api"))

	srv := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	})

	serveErr := g.Wait()
	closeErr := session.Close(context.WithoutCancel(ctx))
	if closeErr != nil {
		logger.Warn("close crawler session", zap.Error(closeErr))
	}
	logger.Info("shutdown complete")
	return errors.Join(serveErr, closeErr)
}
