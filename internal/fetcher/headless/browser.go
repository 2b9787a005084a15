package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/crawlreport/internal/crawler"
)

const (
	defaultNavigationTimeout = 25 * time.Second
	defaultWaitSelector      = "body"
)

// Config controls the headless browser.
type Config struct {
	// MaxParallel bounds concurrent tabs; 0 means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	WaitSelector      string
	ScrollToBottom    bool
	ExecPath          string
	NoSandbox         bool
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.WaitSelector == "" {
		c.WaitSelector = defaultWaitSelector
	}
	return c
}

// Fetcher renders pages in tabs of one shared Chrome process.
type Fetcher struct {
	cfg   Config
	slots *semaphore.Weighted

	browser     context.Context
	stopBrowser context.CancelFunc
	stopOnce    sync.Once
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// NewChromedp prepares a chromedp allocator. Chrome itself starts with the
// first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("headless max parallel must be >= 0, got %d", cfg.MaxParallel)
	}
	cfg = cfg.withDefaults()

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	f.browser, f.stopBrowser = chromedp.NewExecAllocator(context.Background(), execOptions(cfg)...)
	return f, nil
}

func execOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+6)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close shuts the browser down. Later calls do nothing.
func (f *Fetcher) Close(context.Context) error {
	f.stopOnce.Do(f.stopBrowser)
	return nil
}

func (f *Fetcher) acquire(ctx context.Context) (func(), error) {
	if f.slots == nil {
		return func() {}, nil
	}
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for headless slot: %w", err)
	}
	return func() { f.slots.Release(1) }, nil
}
