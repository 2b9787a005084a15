// Package crawler implements the single-page crawl session used by the
// crawlreport adapter: a probe fetch, optional promotion to a headless
// render, content extraction, and optional archival of the fetched page.
package crawler
