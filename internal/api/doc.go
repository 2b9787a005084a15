// Package api hosts the serve-mode HTTP server. Routes:
//   - POST /v1/crawl crawls one URL and returns its CrawlReport.
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
package api
