// Package config loads and validates crawlreport configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawlreport/internal/crawler"
)

// EnvPrefix prefixes every environment override, e.g. CRAWLREPORT_HEADLESS_MODE.
const EnvPrefix = "CRAWLREPORT"

// Archive backends.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// CrawlerConfig governs the probe fetch.
type CrawlerConfig struct {
	UserAgent    string `mapstructure:"user_agent"`
	IgnoreRobots bool   `mapstructure:"ignore_robots"`
}

// HTTPConfig configures the probe HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int               `mapstructure:"max_body_bytes"`
	Headers        map[string]string `mapstructure:"headers"`
}

// HeadlessConfig configures headless rendering.
type HeadlessConfig struct {
	Mode               string `mapstructure:"mode"`
	MaxParallel        int    `mapstructure:"max_parallel"`
	NavTimeoutSec      int    `mapstructure:"nav_timeout_seconds"`
	PromotionThreshold int    `mapstructure:"promotion_threshold"`
	SettleMillis       int    `mapstructure:"settle_ms"`
	WaitSelector       string `mapstructure:"wait_selector"`
	ScrollToBottom     bool   `mapstructure:"scroll_to_bottom"`
	ExecPath           string `mapstructure:"exec_path"`
	NoSandbox          bool   `mapstructure:"no_sandbox"`
}

// OutputConfig controls the CLI report and exit status.
type OutputConfig struct {
	// Strict makes a fault report exit with status 1.
	Strict bool `mapstructure:"strict"`
	// TimeoutSeconds bounds the whole crawl; 0 disables the bound.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ArchiveConfig selects where crawled pages are archived.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the retrieval table.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	Table              string `mapstructure:"table"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	ConnMaxLifetimeSec int    `mapstructure:"conn_max_lifetime_seconds"`
	AutoMigrate        bool   `mapstructure:"auto_migrate"`
}

// PubSubConfig holds metadata for crawl notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls Prometheus exposition.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ServerConfig controls serve mode.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RateLimitConfig configures the per-domain token bucket used in serve mode.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.user_agent", "crawlreport/0.1 (+https://github.com/JakeFAU/crawlreport)")
	v.SetDefault("crawler.ignore_robots", false)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("headless.mode", string(crawler.HeadlessOff))
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.settle_ms", 0)
	v.SetDefault("output.strict", false)
	v.SetDefault("output.timeout_seconds", 0)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.local_dir", "archive")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("db.table", "crawl_retrievals")
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("metrics.job", "crawlreport")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("ratelimit.requests_per_second", 1.0)
	v.SetDefault("ratelimit.burst", 1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	switch crawler.HeadlessMode(c.Headless.Mode) {
	case crawler.HeadlessOff, crawler.HeadlessAuto, crawler.HeadlessAlways:
	default:
		return fmt.Errorf("headless.mode must be one of off, auto, always (got %q)", c.Headless.Mode)
	}
	if c.HeadlessEnabled() && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Output.TimeoutSeconds < 0 {
		return fmt.Errorf("output.timeout_seconds must be >= 0")
	}
	switch c.Archive.Backend {
	case "", ArchiveNone:
	case ArchiveLocal:
		if strings.TrimSpace(c.Archive.LocalDir) == "" {
			return fmt.Errorf("archive.local_dir is required for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend must be one of none, local, gcs (got %q)", c.Archive.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit values must be >= 0")
	}
	return nil
}

// HeadlessEnabled reports whether any headless promotion can happen.
func (c Config) HeadlessEnabled() bool {
	mode := crawler.HeadlessMode(c.Headless.Mode)
	return mode == crawler.HeadlessAuto || mode == crawler.HeadlessAlways
}

// ArchiveEnabled reports whether any archive sink is configured.
func (c Config) ArchiveEnabled() bool {
	return (c.Archive.Backend != "" && c.Archive.Backend != ArchiveNone) ||
		c.DB.DSN != "" || c.PubSub.TopicName != ""
}

// HTTPTimeout returns the probe fetch timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CrawlTimeout returns the adapter timeout, or 0 when unbounded.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Output.TimeoutSeconds) * time.Second
}

// NavTimeout returns the headless navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// SettleDelay returns the pause after headless navigation.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Headless.SettleMillis) * time.Millisecond
}

// RequestTimeout returns the per-request timeout in serve mode.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget in serve mode.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// ConnMaxLifetime returns the Postgres connection lifetime, or 0 for the pool default.
func (c Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.DB.ConnMaxLifetimeSec) * time.Second
}
