// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Listing  ListingConfig  `mapstructure:"listing"`
	Fallback FallbackConfig `mapstructure:"fallback"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlerConfig governs the worker pool and in-site discovery.
type CrawlerConfig struct {
	Concurrency             int     `mapstructure:"concurrency" validate:"min=1,max=64"`
	MaxDepth                int     `mapstructure:"max_depth" validate:"min=1"`
	MaxPages                int     `mapstructure:"max_pages" validate:"min=1"`
	MenuDepth               int     `mapstructure:"menu_depth" validate:"min=0"`
	MinScore                float64 `mapstructure:"min_score" validate:"gte=0"`
	UserAgent               string  `mapstructure:"user_agent" validate:"required"`
	DelayMs                 int     `mapstructure:"delay_ms" validate:"gte=0"`
	ListingBreakerThreshold int     `mapstructure:"listing_breaker_threshold" validate:"min=1"`
	RespectRobots           bool    `mapstructure:"respect_robots"`
}

// HTTPConfig configures HTTP client retry and pacing behavior.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds" validate:"min=1"`
	MaxRetries       int     `mapstructure:"max_retries" validate:"min=1"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms" validate:"min=1"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms" validate:"min=1"`
	RPS              float64 `mapstructure:"rps" validate:"gt=0"`
	Burst            int     `mapstructure:"burst" validate:"min=1"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// ListingConfig selects the source-of-record and its scope.
type ListingConfig struct {
	Source              string `mapstructure:"source" validate:"oneof=michelin"`
	Distinction         string `mapstructure:"distinction"`
	BaseURL             string `mapstructure:"base_url" validate:"omitempty,url"`
	PauseBetweenPagesMs int    `mapstructure:"pause_between_pages_ms" validate:"gte=0"`

	// SiteBlocklist lists hosts that are never taken as a restaurant website.
	SiteBlocklist []string `mapstructure:"site_blocklist"`
}

// FallbackConfig controls the external index search.
type FallbackConfig struct {
	Domain        string `mapstructure:"domain" validate:"required,hostname"`
	PassDelayMs   int    `mapstructure:"pass_delay_ms" validate:"gte=0"`
	SearchBaseURL string `mapstructure:"search_base_url" validate:"omitempty,url"`
}

// LLMConfig enables model-assisted link scoring.
type LLMConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens" validate:"gte=0"`
}

// StorageConfig selects persistence backends.
type StorageConfig struct {
	Backend           string `mapstructure:"backend" validate:"oneof=badger postgres memory"`
	CheckpointBackend string `mapstructure:"checkpoint_backend" validate:"omitempty,oneof=redis"`
	BadgerDir         string `mapstructure:"badger_dir"`
	Blob              string `mapstructure:"blob" validate:"oneof=local gcs memory"`
	DownloadDir       string `mapstructure:"download_dir"`
	GCSBucket         string `mapstructure:"gcs_bucket"`
	Prefix            string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns" validate:"gte=0"`
}

// RedisConfig controls the Redis checkpoint backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Prefix   string `mapstructure:"prefix"`
	TTLHours int    `mapstructure:"ttl_hours" validate:"gte=0"`
}

// PubSubConfig holds metadata for artifact-found notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
	// APIKey, when set, is required on every /v1 request.
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WINERANK")
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
	v.SetDefault("crawler.concurrency", 3)
	v.SetDefault("crawler.max_depth", 4)
	v.SetDefault("crawler.max_pages", 20)
	v.SetDefault("crawler.menu_depth", 2)
	v.SetDefault("crawler.min_score", 1)
	v.SetDefault("crawler.user_agent", "winerank-bot/0.1 (+https://github.com/JakeFAU/winerank-crawler)")
	v.SetDefault("crawler.delay_ms", 0)
	v.SetDefault("crawler.listing_breaker_threshold", 3)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.rps", 2)
	v.SetDefault("http.burst", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("listing.source", "michelin")
	v.SetDefault("listing.distinction", "3")
	v.SetDefault("listing.base_url", "")
	v.SetDefault("listing.pause_between_pages_ms", 1000)
	v.SetDefault("fallback.domain", "hub.binwise.com")
	v.SetDefault("fallback.pass_delay_ms", 2000)
	v.SetDefault("fallback.search_base_url", "")
	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("storage.backend", "badger")
	v.SetDefault("storage.checkpoint_backend", "")
	v.SetDefault("storage.badger_dir", "data/badger")
	v.SetDefault("storage.blob", "local")
	v.SetDefault("storage.download_dir", "data/downloads")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "artifacts")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.prefix", "winerank:checkpoint:")
	v.SetDefault("redis.ttl_hours", 0)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "wine-lists")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces struct tag rules and the cross-field requirements of the
// selected backends.
func (c Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
	})
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %s", describe(verrs))
		}
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.HTTP.BackoffMaxMs < c.HTTP.BackoffInitialMs {
		return fmt.Errorf("http.backoff_max_ms must be >= http.backoff_initial_ms")
	}
	switch c.Storage.Backend {
	case "badger":
		if c.Storage.BadgerDir == "" {
			return fmt.Errorf("storage.badger_dir must be set for the badger backend")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres backend")
		}
	}
	if c.Storage.CheckpointBackend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when storage.checkpoint_backend is redis")
	}
	switch c.Storage.Blob {
	case "local":
		if c.Storage.DownloadDir == "" {
			return fmt.Errorf("storage.download_dir must be set for local blobs")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for gcs blobs")
		}
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key must be set when llm is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// describe renders validator errors as dotted config keys.
func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fieldKey(fe.Namespace()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func fieldKey(namespace string) string {
	segments := strings.Split(namespace, ".")
	if len(segments) > 1 {
		segments = segments[1:]
	}
	return strings.Join(segments, ".")
}

// RequestTimeout is the per-request HTTP timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps retry delays.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// CrawlDelay is the pause inserted between requests by the fetcher.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}

// PageDelay is the pause between listing pages.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Listing.PauseBetweenPagesMs) * time.Millisecond
}

// PassDelay is the pause between fallback search passes.
func (c Config) PassDelay() time.Duration {
	return time.Duration(c.Fallback.PassDelayMs) * time.Millisecond
}

// NavTimeout is the headless navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// CheckpointTTL expires Redis checkpoints; zero disables expiry.
func (c Config) CheckpointTTL() time.Duration {
	return time.Duration(c.Redis.TTLHours) * time.Hour
}
