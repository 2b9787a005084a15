// Package detector decides when to promote crawls to headless renderers.
package detector

import (
	"bytes"
	"mime"
	"strings"

	"github.com/JakeFAU/crawlreport/internal/crawler"
)

const (
	defaultBodyLengthThreshold = 2048
	defaultScriptCoverage      = 25
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
	// ScriptCoveragePercent is the share of a short body that must be
	// <script> content before the page counts as a JavaScript shell.
	ScriptCoveragePercent int
	Markers               [][]byte
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyLengthThreshold
	}
	return &Heuristic{
		BodyLengthThreshold:   threshold,
		ScriptCoveragePercent: defaultScriptCoverage,
		Markers:               spaMarkers,
	}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\"></div>"),
	[]byte("id=\"app\"></div>"),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
	[]byte("window.__nuxt__"),
	[]byte("window.__apollo_state__"),
}

var noscriptHints = [][]byte{
	[]byte("enable javascript"),
	[]byte("javascript is required"),
	[]byte("requires javascript"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != 200 || !isHTML(resp.ContentType()) {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	if len(body) < h.BodyLengthThreshold && h.scriptDensityHigh(lower) {
		return true
	}
	for _, marker := range h.markers() {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	if bytes.Contains(lower, []byte("<noscript")) {
		for _, hint := range noscriptHints {
			if bytes.Contains(lower, hint) {
				return true
			}
		}
	}
	return false
}

func (h *Heuristic) markers() [][]byte {
	if h.Markers != nil {
		return h.Markers
	}
	return spaMarkers
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func (h *Heuristic) scriptDensityHigh(lower []byte) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	var (
		openTag  = []byte("<script")
		closeTag = []byte("</script>")
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := bytes.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := bytes.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := bytes.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	percent := h.ScriptCoveragePercent
	if percent <= 0 {
		percent = defaultScriptCoverage
	}
	return scriptCoverage*100/total >= percent
}
