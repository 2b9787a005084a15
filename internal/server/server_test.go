package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlreport/internal/adapter"
	"github.com/JakeFAU/crawlreport/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.IgnoreRobots = true
	cfg.RateLimit.RequestsPerSecond = 0
	cfg.Server.ShutdownTimeoutSeconds = 2
	return cfg
}

func pageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
		case "/blocked":
			http.Error(w, "nope", http.StatusForbidden)
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<html><head><title>Fixture</title></head><body><h1>Hello</h1><img src="/a.png" alt="A"></body></html>`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewSessionCrawlsPage(t *testing.T) {
	site := pageServer(t)
	cfg := testConfig(t)

	session, err := NewSession(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, session.Close(context.Background())) }()

	res, err := session.Crawl(context.Background(), site.URL+"/")
	require.NoError(t, err)
	assert.True(t, res.Success)
	title, _ := res.Title()
	assert.Equal(t, "Fixture", title)
	assert.Contains(t, res.Markdown, "# Hello")
	require.Len(t, res.Media["images"], 1)
	assert.Equal(t, site.URL+"/a.png", res.Media["images"][0].Src)

	res, err = session.Crawl(context.Background(), site.URL+"/blocked")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "403 Forbidden", res.ErrorMessage)
}

func TestNewSessionHonorsRobots(t *testing.T) {
	site := pageServer(t)
	cfg := testConfig(t)
	cfg.Crawler.IgnoreRobots = false

	reporter := adapter.New(func(ctx context.Context) (adapter.Session, error) {
		return NewSession(ctx, cfg, zap.NewNop())
	}, zap.NewNop())

	var out bytes.Buffer
	faulted, err := reporter.Run(context.Background(), site.URL+"/private/x", &out)
	require.NoError(t, err)
	assert.False(t, faulted)
	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "Access denied by robots.txt", got["error_message"])
	assert.Equal(t, "No Title", got["title"])
	assert.Equal(t, "", got["markdown"])

	out.Reset()
	_, err = reporter.Run(context.Background(), site.URL+"/", &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"success":true`)
}

func TestNewSessionArchivesLocally(t *testing.T) {
	site := pageServer(t)
	cfg := testConfig(t)
	cfg.Archive.Backend = config.ArchiveLocal
	cfg.Archive.LocalDir = t.TempDir()

	session, err := NewSession(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = session.Close(context.Background()) }()

	res, err := session.Crawl(context.Background(), site.URL+"/")
	require.NoError(t, err)
	require.NotEmpty(t, res.CrawlID)
	require.True(t, strings.HasPrefix(res.BlobURI, "file://"))

	matches, err := filepath.Glob(filepath.Join(cfg.Archive.LocalDir, "pages", res.CrawlID, "*.md"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	md, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Hello")
}

func TestNewSessionArchiveSetupFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.DB.DSN = "not a dsn ::"

	_, err := NewSession(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "retrieval store init failed")
}

func TestHeadersFrom(t *testing.T) {
	h := headersFrom(map[string]string{"accept-language": "de"})
	assert.Equal(t, "de", h.Get("Accept-Language"))
	assert.Empty(t, headersFrom(nil))
}

func TestServeListener(t *testing.T) {
	site := pageServer(t)
	cfg := testConfig(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, ln, cfg, zap.NewNop()) }()

	base := fmt.Sprintf("http://%s", ln.Addr().String())
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	ready, err := http.Get(base + "/readyz")
	require.NoError(t, err)
	_ = ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)

	body, _ := json.Marshal(map[string]string{"url": site.URL + "/"})
	resp, err := http.Post(base+"/v1/crawl", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, true, report["success"])
	assert.Equal(t, "Fixture", report["title"])

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
