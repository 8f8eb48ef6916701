// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Governor  GovernorConfig  `mapstructure:"governor"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// DirectoryConfig configures the discovery API client.
type DirectoryConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	Token               string `mapstructure:"token"`
	ActorID             string `mapstructure:"actor_id"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
}

// ExtractorConfig governs website extraction behavior.
type ExtractorConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	TotalTimeoutSeconds int    `mapstructure:"total_timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	MaxParallel   int     `mapstructure:"max_parallel"`
	NavTimeoutSec int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS     float64 `mapstructure:"domain_qps"`
}

// GovernorConfig bounds enrichment concurrency.
type GovernorConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// SnapshotConfig selects where rendered page snapshots go. Backends:
// "gcs", "local" or "none".
type SnapshotConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for enrichment event publishing. An empty
// project disables events.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADPIPE")
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
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.dsn", "")
	v.SetDefault("directory.base_url", "https://api.apify.com")
	v.SetDefault("directory.token", "")
	v.SetDefault("directory.actor_id", "")
	v.SetDefault("directory.timeout_seconds", 300)
	v.SetDefault("directory.poll_interval_seconds", 5)
	v.SetDefault("extractor.user_agent", "leadpipe-bot/0.1")
	v.SetDefault("extractor.fetch_timeout_seconds", 15)
	v.SetDefault("extractor.total_timeout_seconds", 90)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.domain_qps", 1.0)
	v.SetDefault("governor.max_concurrent", 5)
	v.SetDefault("snapshot.backend", "none")
	v.SetDefault("snapshot.gcs_bucket", "")
	v.SetDefault("snapshot.local_dir", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Governor.MaxConcurrent <= 0 {
		return fmt.Errorf("governor.max_concurrent must be > 0")
	}
	if c.Extractor.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("extractor.fetch_timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Snapshot.Backend {
	case "", "none":
	case "gcs":
		if c.Snapshot.GCSBucket == "" {
			return fmt.Errorf("snapshot.gcs_bucket must be set for the gcs backend")
		}
	case "local":
		if c.Snapshot.LocalDir == "" {
			return fmt.Errorf("snapshot.local_dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("snapshot.backend %q is not supported", c.Snapshot.Backend)
	}
	return nil
}

// DirectoryTimeout converts the discovery timeout to a duration.
func (c Config) DirectoryTimeout() time.Duration {
	return time.Duration(c.Directory.TimeoutSeconds) * time.Second
}

// DirectoryPollInterval converts the discovery poll interval to a duration.
func (c Config) DirectoryPollInterval() time.Duration {
	return time.Duration(c.Directory.PollIntervalSeconds) * time.Second
}
