// Package headless renders pages in headless Chrome through chromedp. The
// rendered DOM replaces the probe body when a crawl is promoted.
package headless
