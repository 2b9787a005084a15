package detector

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlreport/internal/crawler"
)

func htmlResponse(status int, body string) crawler.FetchResponse {
	return crawler.FetchResponse{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.True(t, h.ShouldPromote(htmlResponse(200, "")))
	require.True(t, h.ShouldPromote(htmlResponse(200, "  \n ")))
}

func TestHeuristic_ShouldPromote_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.True(t, h.ShouldPromote(htmlResponse(200, `<div id="__next"></div>`)))
	require.True(t, h.ShouldPromote(htmlResponse(200, `<html><body><div id="root"></div></body></html>`)))
	require.True(t, h.ShouldPromote(htmlResponse(200, `<html ng-app="shop"><body></body></html>`)))
}

func TestHeuristic_ShouldPromote_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	require.True(t, h.ShouldPromote(htmlResponse(200, `<html><SCRIPT>var a=1;</SCRIPT><p>t</p></html>`)))
}

func TestHeuristic_ShouldPromote_NoscriptHint(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(10)
	body := `<html><body><noscript>Please enable JavaScript to continue.</noscript><p>` +
		`plenty of static text here so the density rule does not fire</p></body></html>`
	require.True(t, h.ShouldPromote(htmlResponse(200, body)))
}

func TestHeuristic_ShouldPromote_StaticPage(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(10)
	body := `<html><head><title>Static</title></head><body><article><h1>Hello</h1><p>World</p></article></body></html>`
	require.False(t, h.ShouldPromote(htmlResponse(200, body)))
}

func TestHeuristic_ShouldPromote_DisabledForNon200(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.False(t, h.ShouldPromote(htmlResponse(404, "not found")))
}

func TestHeuristic_ShouldPromote_IgnoresNonHTML(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawler.FetchResponse{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"application/pdf"}},
	}
	require.False(t, h.ShouldPromote(resp))
}

func TestNewHeuristicDefaults(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	require.Equal(t, 2048, h.BodyLengthThreshold)
	require.Equal(t, 25, h.ScriptCoveragePercent)
	require.NotEmpty(t, h.Markers)
}
