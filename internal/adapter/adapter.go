// Package adapter runs one crawl and turns its outcome into exactly one
// CrawlReport line.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlreport/internal/crawler"
	"github.com/JakeFAU/crawlreport/internal/metrics"
	"github.com/JakeFAU/crawlreport/internal/report"
)

// Session is the collaborator the adapter drives.
type Session interface {
	Crawl(ctx context.Context, url string) (crawler.Result, error)
	Close(ctx context.Context) error
}

// Opener acquires a Session.
type Opener func(ctx context.Context) (Session, error)

// Adapter maps crawl outcomes onto CrawlReports.
type Adapter struct {
	open   Opener
	logger *zap.Logger
}

// New returns an Adapter that acquires sessions through open.
func New(open Opener, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{open: open, logger: logger}
}

// Report crawls url and returns the resulting report. It never fails: every
// fault, including a panic in the session, becomes a fault-shaped report.
func (a *Adapter) Report(ctx context.Context, url string) report.CrawlReport {
	res, err := a.crawl(ctx, url)
	if err != nil {
		a.logger.Warn("crawl fault", zap.String("url", url), zap.Error(err))
		metrics.ObserveReport("fault")
		return report.FromFault(url, err)
	}
	if res.Success {
		metrics.ObserveReport("success")
	} else {
		metrics.ObserveReport("failure")
	}
	return report.FromResult(url, res)
}

// Run crawls url and writes exactly one report line to out. It reports
// whether the emitted line uses the fault shape. The returned error is only
// set when out could not be written.
func (a *Adapter) Run(ctx context.Context, url string, out io.Writer) (bool, error) {
	written, err := report.Write(out, a.Report(ctx, url))
	return written.IsFault(), err
}

func (a *Adapter) crawl(ctx context.Context, url string) (res crawler.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("crawl panicked", zap.String("url", url), zap.Any("panic", r))
			err = panicError{value: r}
		}
	}()

	if a.open == nil {
		return crawler.Result{}, errors.New("no crawler session configured")
	}
	session, err := a.open(ctx)
	if err != nil {
		return crawler.Result{}, err
	}
	if session == nil {
		return crawler.Result{}, errors.New("crawler session is nil")
	}
	defer func() {
		// Close must run even after ctx is cancelled.
		if cerr := session.Close(context.WithoutCancel(ctx)); cerr != nil {
			a.logger.Warn("close crawler session", zap.Error(cerr))
		}
	}()

	res, err = session.Crawl(ctx, url)
	if err != nil {
		return crawler.Result{}, err
	}
	return res, nil
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprint(p.value)
}
