package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, 10*1024*1024, cfg.HTTP.MaxBodyBytes)
	assert.Equal(t, "off", cfg.Headless.Mode)
	assert.False(t, cfg.HeadlessEnabled())
	assert.False(t, cfg.Output.Strict)
	assert.Zero(t, cfg.CrawlTimeout())
	assert.Equal(t, ArchiveNone, cfg.Archive.Backend)
	assert.False(t, cfg.ArchiveEnabled())
	assert.Equal(t, "crawlreport", cfg.Metrics.Job)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawler:
  user_agent: test-agent
  ignore_robots: true
http:
  timeout_seconds: 45
  headers:
    accept-language: de-DE
headless:
  mode: auto
  max_parallel: 2
  nav_timeout_seconds: 30
  promotion_threshold: 512
  settle_ms: 250
  no_sandbox: true
output:
  strict: true
  timeout_seconds: 90
logging:
  development: true
  level: debug
archive:
  backend: local
  local_dir: /tmp/pages
  prefix: runs
db:
  dsn: postgres://localhost/crawls
  auto_migrate: true
pubsub:
  project_id: proj
  topic_name: crawls
metrics:
  pushgateway_url: http://localhost:9091
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
ratelimit:
  requests_per_second: 2.5
  burst: 3
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-agent", cfg.Crawler.UserAgent)
	assert.True(t, cfg.Crawler.IgnoreRobots)
	assert.Equal(t, 45*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, "de-DE", cfg.HTTP.Headers["accept-language"])
	assert.True(t, cfg.HeadlessEnabled())
	assert.Equal(t, 30*time.Second, cfg.NavTimeout())
	assert.Equal(t, 250*time.Millisecond, cfg.SettleDelay())
	assert.Equal(t, 512, cfg.Headless.PromotionThreshold)
	assert.True(t, cfg.Headless.NoSandbox)
	assert.True(t, cfg.Output.Strict)
	assert.Equal(t, 90*time.Second, cfg.CrawlTimeout())
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "/tmp/pages", cfg.Archive.LocalDir)
	assert.True(t, cfg.ArchiveEnabled())
	assert.True(t, cfg.DB.AutoMigrate)
	assert.Equal(t, "crawls", cfg.PubSub.TopicName)
	assert.Equal(t, "http://localhost:9091", cfg.Metrics.PushgatewayURL)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 2.5, cfg.RateLimit.RequestsPerSecond, 0.001)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CRAWLREPORT_HEADLESS_MODE", "always")
	t.Setenv("CRAWLREPORT_OUTPUT_STRICT", "true")
	t.Setenv("CRAWLREPORT_HTTP_TIMEOUT_SECONDS", "5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "always", cfg.Headless.Mode)
	assert.True(t, cfg.Output.Strict)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		HTTP:     HTTPConfig{TimeoutSeconds: 10},
		Headless: HeadlessConfig{Mode: "off"},
		Server:   ServerConfig{Port: 8080},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"negative body limit", func(c *Config) { c.HTTP.MaxBodyBytes = -1 }, "http.max_body_bytes"},
		{"unknown headless mode", func(c *Config) { c.Headless.Mode = "sometimes" }, "headless.mode"},
		{"headless missing max parallel", func(c *Config) { c.Headless.Mode = "auto" }, "headless.max_parallel"},
		{"negative crawl timeout", func(c *Config) { c.Output.TimeoutSeconds = -1 }, "output.timeout_seconds"},
		{"unknown archive backend", func(c *Config) { c.Archive.Backend = "s3" }, "archive.backend"},
		{"local without dir", func(c *Config) { c.Archive.Backend = ArchiveLocal }, "archive.local_dir"},
		{"gcs without bucket", func(c *Config) { c.Archive.Backend = ArchiveGCS }, "archive.gcs_bucket"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"negative rate", func(c *Config) { c.RateLimit.Burst = -1 }, "ratelimit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
