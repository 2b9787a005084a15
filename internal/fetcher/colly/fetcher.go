// Package collyfetcher performs the plain HTTP probe fetch with Colly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/crawlreport/internal/crawler"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 10 * 1024 * 1024
)

// Config controls the probe.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodyBytes truncates larger bodies; 0 selects the default.
	MaxBodyBytes int
}

// Fetcher fetches pages through a fresh Colly collector per call. The HTTP
// transport, and with it the connection pool, is shared.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New returns a Fetcher for cfg.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Fetcher{cfg: cfg, transport: pooledTransport()}
}

// Fetch GETs req.URL. Error statuses come back as responses; robots.txt
// denials wrap crawler.ErrRobotsDisallowed.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	v := &visit{request: req, started: time.Now()}
	c := f.collector(ctx, v)

	done := make(chan error, 1)
	go func() { done <- c.Visit(req.URL) }()

	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("probe %s canceled: %w", req.URL, ctx.Err())
	case err := <-done:
		return v.finish(err)
	}
}

func (f *Fetcher) respectRobots(req crawler.FetchRequest) bool {
	if req.RespectRobotsProvided {
		return req.RespectRobots
	}
	return f.cfg.RespectRobots
}

// collector builds a single-use collector whose requests end with ctx.
func (f *Fetcher) collector(ctx context.Context, v *visit) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(f.cfg.MaxBodyBytes),
		colly.StdlibContext(ctx),
	}
	if f.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(f.cfg.UserAgent))
	}
	respect := f.respectRobots(v.request)
	transport := f.transport
	if respect {
		v.robots = &robotsLookup{base: f.transport}
		transport = v.robots
	}

	c := colly.NewCollector(opts...)
	// NewCollector ignores robots.txt unless told otherwise.
	c.IgnoreRobotsTxt = !respect
	c.WithTransport(transport)
	c.SetRequestTimeout(f.cfg.Timeout)
	v.bind(c)
	return c
}

// visit gathers the callbacks of one collector run.
type visit struct {
	request crawler.FetchRequest
	started time.Time
	robots  *robotsLookup

	response crawler.FetchResponse
	received bool
	err      error
}

type hookRegistrar interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

func (v *visit) bind(h hookRegistrar) {
	h.OnRequest(v.onRequest)
	h.OnResponse(v.onResponse)
	h.OnError(func(_ *colly.Response, err error) { v.err = err })
}

func (v *visit) onRequest(r *colly.Request) {
	for key, values := range v.request.Headers {
		for _, value := range values {
			r.Headers.Add(key, value)
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	var headers http.Header
	if r.Headers != nil {
		headers = r.Headers.Clone()
	}
	finalURL := v.request.URL
	if r.Request != nil && r.Request.URL != nil {
		finalURL = r.Request.URL.String()
	}
	v.received = true
	v.response = crawler.FetchResponse{
		URL:        finalURL,
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(v.started),
	}
}

func (v *visit) finish(visitErr error) (crawler.FetchResponse, error) {
	switch {
	case errors.Is(visitErr, colly.ErrRobotsTxtBlocked):
		return crawler.FetchResponse{}, fmt.Errorf("probe %s: %w", v.request.URL, crawler.ErrRobotsDisallowed)
	case visitErr != nil:
		return crawler.FetchResponse{}, fmt.Errorf("probe %s: %w", v.request.URL, visitErr)
	case v.err != nil:
		return crawler.FetchResponse{}, fmt.Errorf("probe %s response: %w", v.request.URL, v.err)
	case !v.received:
		return crawler.FetchResponse{}, fmt.Errorf("probe %s: no response", v.request.URL)
	}
	resp := v.response
	if v.robots != nil {
		resp.RobotsStatus, resp.RobotsReason = v.robots.outcome()
	}
	return resp, nil
}

func pooledTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
	}
}
