// Package metrics owns the Prometheus collectors. Serve mode exposes them on
// /metrics; a CLI run pushes them to a Pushgateway before exiting.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "crawlreport"

const defaultJob = "crawlreport"

type collectors struct {
	pages           *prometheus.CounterVec
	bytes           *prometheus.CounterVec
	promotions      *prometheus.CounterVec
	robotsTimeouts  prometheus.Counter
	rateLimitWait   *prometheus.HistogramVec
	reports         *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpRequestTime *prometheus.HistogramVec
}

var (
	c    *collectors
	once sync.Once
)

// Init registers the collectors with the default registry. Calling it more
// than once is harmless.
func Init() {
	once.Do(func() {
		c = newCollectors(promauto.With(prometheus.DefaultRegisterer))
	})
}

func newCollectors(f promauto.Factory) *collectors {
	return &collectors{
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Pages crawled by site and outcome (HTTP status, robots_denied or error).",
		}, []string{"site", "status"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Body bytes fetched by site.",
		}, []string{"site"}),
		promotions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "headless_promotions_total",
			Help:      "Probe fetches replaced by a headless render.",
		}, []string{"site"}),
		robotsTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "robots_tls_timeouts_total",
			Help:      "robots.txt lookups abandoned after repeated TLS handshake timeouts.",
		}),
		rateLimitWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for a per-domain rate limit slot.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"domain"}),
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Reports emitted by shape: success, failure or fault.",
		}, []string{"kind"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Serve mode requests by method and status code.",
		}, []string{"method", "code"}),
		httpRequestTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Serve mode request latency by method and route.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
		}, []string{"method", "route"}),
	}
}

// SanitizeSite reduces a URL to its lowercase host, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler serves the default registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCrawl counts one crawled page and its body size.
func ObserveCrawl(site, status string, bytesFetched int) {
	Init()
	host := SanitizeSite(site)
	c.pages.WithLabelValues(host, status).Inc()
	if bytesFetched > 0 {
		c.bytes.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveHeadlessPromotion counts a probe that was re-rendered headlessly.
func ObserveHeadlessPromotion(site string) {
	Init()
	c.promotions.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveProbeTLSHandshakeTimeout counts a robots.txt lookup given up on.
func ObserveProbeTLSHandshakeTimeout() {
	Init()
	c.robotsTimeouts.Inc()
}

// ObserveRateLimitDelay records a rate limit wait.
func ObserveRateLimitDelay(domain string, d time.Duration) {
	Init()
	c.rateLimitWait.WithLabelValues(domain).Observe(d.Seconds())
}

// ObserveReport counts one emitted report.
func ObserveReport(kind string) {
	Init()
	c.reports.WithLabelValues(kind).Inc()
}

// ObserveHTTPRequest records one serve mode request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	Init()
	c.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpRequestTime.WithLabelValues(method, route).Observe(d.Seconds())
}

// Push sends the default registry to the Pushgateway at gatewayURL. An empty
// URL disables pushing.
func Push(ctx context.Context, gatewayURL, job string) error {
	Init()
	if strings.TrimSpace(gatewayURL) == "" {
		return nil
	}
	if job == "" {
		job = defaultJob
	}
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
