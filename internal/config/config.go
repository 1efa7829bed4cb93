// Package config loads and validates orchestrator configuration via Viper.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/justice-rest/Intel-sub005/internal/record"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig           `mapstructure:"server"`
	Logging   LoggingConfig          `mapstructure:"logging"`
	Scraper   ScraperConfig          `mapstructure:"scraper"`
	HTTP      HTTPConfig             `mapstructure:"http"`
	Browser   BrowserConfig          `mapstructure:"browser"`
	Cache     CacheConfig            `mapstructure:"cache"`
	Breaker   BreakerConfig          `mapstructure:"breaker"`
	RateLimit RateLimitConfig        `mapstructure:"rate_limit"`
	Enrich    EnrichConfig           `mapstructure:"enrich"`
	PubSub    PubSubConfig           `mapstructure:"pubsub"`
	Sources   map[string]SourceEntry `mapstructure:"sources"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ScraperConfig governs aggregate fan-out behavior.
type ScraperConfig struct {
	MaxConcurrent   int  `mapstructure:"max_concurrent"`
	ContinueOnError bool `mapstructure:"continue_on_error"`
	DefaultLimit    int  `mapstructure:"default_limit"`
}

// HTTPConfig configures the HTTP tier.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	RetryDelayMs   int    `mapstructure:"retry_delay_ms"`
	UserAgent      string `mapstructure:"user_agent"`
}

// BrowserConfig configures the headless browser tier.
type BrowserConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxParallel    int  `mapstructure:"max_parallel"`
	NavTimeoutSec  int  `mapstructure:"nav_timeout_seconds"`
	WaitTimeoutSec int  `mapstructure:"wait_timeout_seconds"`
}

// CacheConfig sizes the in-process tier and selects the durable tier.
type CacheConfig struct {
	TTLMinutes int    `mapstructure:"ttl_minutes"`
	MaxEntries int    `mapstructure:"max_entries"`
	Durable    string `mapstructure:"durable"` // "", "sqlite" or "postgres"
	DSN        string `mapstructure:"dsn"`
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// BreakerConfig tunes the per-source circuit breaker.
type BreakerConfig struct {
	FailureThreshold     int `mapstructure:"failure_threshold"`
	SuccessThreshold     int `mapstructure:"success_threshold"`
	FailureWindowSeconds int `mapstructure:"failure_window_seconds"`
	ResetTimeoutSeconds  int `mapstructure:"reset_timeout_seconds"`
}

// RateLimitConfig holds the default bucket plus per-source overrides.
type RateLimitConfig struct {
	DefaultRequestsPerMinute float64 `mapstructure:"default_requests_per_minute"`
	DefaultBurst             int     `mapstructure:"default_burst"`
}

// EnrichConfig bounds detail-page enrichment.
type EnrichConfig struct {
	BatchSize    int `mapstructure:"batch_size"`
	BatchDelayMs int `mapstructure:"batch_delay_ms"`
}

// PubSubConfig holds metadata for completion-event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SourceEntry is one configured source in the config tree.
type SourceEntry struct {
	Name   string              `mapstructure:"name"`
	Tier   int                 `mapstructure:"tier"`
	Config record.SourceConfig `mapstructure:"config"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INTEL")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("scraper.max_concurrent", 5)
	v.SetDefault("scraper.continue_on_error", true)
	v.SetDefault("scraper.default_limit", 25)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.retry_delay_ms", 750)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.max_parallel", 2)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.wait_timeout_seconds", 15)
	v.SetDefault("cache.ttl_minutes", 60)
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.failure_window_seconds", 120)
	v.SetDefault("breaker.reset_timeout_seconds", 300)
	v.SetDefault("rate_limit.default_requests_per_minute", 30)
	v.SetDefault("rate_limit.default_burst", 5)
	v.SetDefault("enrich.batch_size", 3)
	v.SetDefault("enrich.batch_delay_ms", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.MaxConcurrent <= 0 {
		return fmt.Errorf("scraper.max_concurrent must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Browser.Enabled && c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0 when browser tier is enabled")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if c.Cache.Durable != "" && c.Cache.Durable != "sqlite" && c.Cache.Durable != "postgres" {
		return fmt.Errorf("cache.durable must be empty, %q or %q", "sqlite", "postgres")
	}
	if c.Cache.Durable != "" && c.Cache.DSN == "" {
		return fmt.Errorf("cache.dsn must be set when cache.durable is configured")
	}
	for id, src := range c.Sources {
		if src.Tier < int(record.TierAPI) || src.Tier > int(record.TierBrowserCaptcha) {
			return fmt.Errorf("sources.%s.tier must be between 1 and 4", id)
		}
	}
	return nil
}

// SourceList materializes the configured sources as record.Source values,
// sorted by ID so fan-out order is stable.
func (c Config) SourceList() []record.Source {
	out := make([]record.Source, 0, len(c.Sources))
	for id, entry := range c.Sources {
		out = append(out, record.Source{
			ID:     id,
			Name:   entry.Name,
			Tier:   record.Tier(entry.Tier),
			Config: entry.Config,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
