package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/crawlreport/internal/crawler"
)

const scrollScript = `window.scrollTo(0, document.body ? document.body.scrollHeight : 0)`

// Fetch opens a tab, navigates to the request URL and returns the serialized
// DOM once the page has settled.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	release, err := f.acquire(ctx)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	defer release()

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	// The tab is rooted in the browser context, so caller cancellation is
	// forwarded by hand.
	unhook := context.AfterFunc(ctx, cancel)
	defer unhook()

	var doc documentResponse
	chromedp.ListenTarget(tab, doc.observe)

	var page renderedPage
	start := time.Now()
	if err := chromedp.Run(tab, f.tasks(req, &page)); err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("headless render canceled: %w", errors.Join(ctx.Err(), err))
		}
		return crawler.FetchResponse{}, fmt.Errorf("headless render %s: %w", req.URL, err)
	}

	status, headers, docURL := doc.result()
	return crawler.FetchResponse{
		URL:          firstOf(page.location, docURL, req.URL),
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(page.html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

type renderedPage struct {
	html     string
	location string
}

func (f *Fetcher) tasks(req crawler.FetchRequest, page *renderedPage) chromedp.Tasks {
	tasks := chromedp.Tasks{
		f.prepareTab(req.Headers),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
	}
	if f.cfg.ScrollToBottom {
		tasks = append(tasks, chromedp.Evaluate(scrollScript, nil))
	}
	if f.cfg.SettleDelay > 0 {
		tasks = append(tasks, chromedp.Sleep(f.cfg.SettleDelay))
	}
	return append(tasks,
		chromedp.Location(&page.location),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
	)
}

func (f *Fetcher) prepareTab(headers http.Header) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network events: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("override user agent: %w", err)
			}
		}
		if extra := networkHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set request headers: %w", err)
			}
		}
		return nil
	}
}

// documentResponse keeps the status and headers of the first top-level
// document the tab received. Frames and redirects arriving later are ignored.
type documentResponse struct {
	once    sync.Once
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	d.once.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.status = int(e.Response.Status)
		d.headers = httpHeaders(e.Response.Headers)
		d.url = e.Response.URL
	})
}

// result falls back to 200 when no document event arrived, which happens for
// pages served from cache.
func (d *documentResponse) result() (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, d.url
}

func httpHeaders(src network.Headers) http.Header {
	out := make(http.Header, len(src))
	for k, v := range src {
		switch vals := v.(type) {
		case string:
			out.Add(k, vals)
		case []string:
			for _, s := range vals {
				out.Add(k, s)
			}
		case []any:
			for _, s := range vals {
				out.Add(k, fmt.Sprint(s))
			}
		default:
			out.Add(k, fmt.Sprint(vals))
		}
	}
	return out
}

func networkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for k, vals := range h {
		switch len(vals) {
		case 0:
		case 1:
			out[k] = vals[0]
		default:
			out[k] = append([]string(nil), vals...)
		}
	}
	return out
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
