// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	ZenRows  ZenRowsConfig  `mapstructure:"zenrows"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Search   SearchConfig   `mapstructure:"search"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig governs batches and the direct fetcher.
type FetchConfig struct {
	Concurrency    int      `mapstructure:"concurrency"`
	PreserveOrder  bool     `mapstructure:"preserve_order"`
	Mode           string   `mapstructure:"mode"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	UserAgent      string   `mapstructure:"user_agent"`
	RespectRobots  bool     `mapstructure:"respect_robots"`
	MaxBodyBytes   int      `mapstructure:"max_body_bytes"`
	MaxTextLength  int      `mapstructure:"max_text_length"`
	MaxURLs        int      `mapstructure:"max_urls"`
	BlockedDomains []string `mapstructure:"blocked_domains"`
}

// ZenRowsConfig configures the rendering API fetcher.
type ZenRowsConfig struct {
	APIKey       string `mapstructure:"api_key"`
	Endpoint     string `mapstructure:"endpoint"`
	JSRender     bool   `mapstructure:"js_render"`
	PremiumProxy bool   `mapstructure:"premium_proxy"`
	Antibot      bool   `mapstructure:"antibot"`
	WaitMs       int    `mapstructure:"wait_ms"`
}

// HeadlessConfig configures local browser rendering.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxTabs       int  `mapstructure:"max_tabs"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	SettleMs      int  `mapstructure:"settle_ms"`
	MinTextLength int  `mapstructure:"min_text_length"`
}

// SearchConfig configures the web search API.
type SearchConfig struct {
	APIKey   string `mapstructure:"api_key"`
	EngineID string `mapstructure:"engine_id"`
	Endpoint string `mapstructure:"endpoint"`
	Results  int    `mapstructure:"results"`
}

// OpenAIConfig configures the chat-completion client.
type OpenAIConfig struct {
	APIKey          string `mapstructure:"api_key"`
	BaseURL         string `mapstructure:"base_url"`
	AzureEndpoint   string `mapstructure:"azure_endpoint"`
	AzureAPIVersion string `mapstructure:"azure_api_version"`
	Model           string `mapstructure:"model"`
	ReasoningEffort string `mapstructure:"reasoning_effort"`
	MaxSourceChars  int    `mapstructure:"max_source_chars"`
}

// RedisConfig enables the search cache when Addr is set.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// StorageConfig selects where fetched content is archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig selects the Postgres batch store. An empty DSN keeps records in memory.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig enables batch notifications when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// legacyEnv lets the credentials the demo scripts used keep working.
var legacyEnv = map[string]string{
	"zenrows.api_key":       "ZENROWS_API_KEY",
	"search.api_key":        "GOOGLE_API_KEY",
	"search.engine_id":      "GOOGLE_CSE_ID",
	"openai.api_key":        "OPENAI_API_KEY",
	"openai.azure_endpoint": "AZURE_OPENAI_ENDPOINT",
}

// Load builds a Config from an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FETCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, legacy := range legacyEnv {
		envKey := "FETCHER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

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

// Every key is given a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")

	v.SetDefault("fetch.concurrency", 5)
	v.SetDefault("fetch.preserve_order", true)
	v.SetDefault("fetch.mode", "direct")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.user_agent", "parallel-fetcher/0.1")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.max_text_length", 9000)
	v.SetDefault("fetch.max_urls", 50)
	v.SetDefault("fetch.blocked_domains", []string{})

	v.SetDefault("zenrows.api_key", "")
	v.SetDefault("zenrows.endpoint", "https://api.zenrows.com/v1/")
	v.SetDefault("zenrows.js_render", true)
	v.SetDefault("zenrows.premium_proxy", true)
	v.SetDefault("zenrows.antibot", false)
	v.SetDefault("zenrows.wait_ms", 3000)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_tabs", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("headless.min_text_length", 200)

	v.SetDefault("search.api_key", "")
	v.SetDefault("search.engine_id", "")
	v.SetDefault("search.endpoint", "")
	v.SetDefault("search.results", 5)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.azure_endpoint", "")
	v.SetDefault("openai.azure_api_version", "")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.reasoning_effort", "medium")
	v.SetDefault("openai.max_source_chars", 9000)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_seconds", 3600)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "pages")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "fetch_batches")
	v.SetDefault("db.max_conns", 4)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be >= 1")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxURLs < 1 {
		return fmt.Errorf("fetch.max_urls must be >= 1")
	}
	switch strings.ToLower(c.Fetch.Mode) {
	case "direct":
	case "headless":
		if !c.Headless.Enabled {
			return fmt.Errorf("headless.enabled must be true when fetch.mode is headless")
		}
	case "auto":
		if !c.Headless.Enabled && c.ZenRows.APIKey == "" {
			return fmt.Errorf("fetch.mode auto needs headless.enabled or zenrows.api_key")
		}
	case "zenrows":
		if c.ZenRows.APIKey == "" {
			return fmt.Errorf("zenrows.api_key must be set when fetch.mode is zenrows")
		}
	default:
		return fmt.Errorf("fetch.mode %q is not one of direct, zenrows, headless, auto", c.Fetch.Mode)
	}
	if c.Headless.Enabled && c.Headless.MaxTabs < 0 {
		return fmt.Errorf("headless.max_tabs must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// FetchTimeout is the per-request budget of the HTTP fetchers.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful server shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// SearchCacheTTL is how long search results stay cached.
func (c Config) SearchCacheTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}
