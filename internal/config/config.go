// Package config loads and validates importer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Importer ImporterConfig `mapstructure:"importer"`
	Geocode  GeocodeConfig  `mapstructure:"geocode"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ImporterConfig governs the import pipeline.
type ImporterConfig struct {
	UserAgent string `mapstructure:"user_agent"`
	// DelaySeconds is the default pause between records, in seconds.
	// Fractional values are allowed for sub-second throttles.
	DelaySeconds        float64 `mapstructure:"delay_seconds"`
	FetchTimeoutSeconds int     `mapstructure:"fetch_timeout_seconds"`
	ImagesMaxDefault    int     `mapstructure:"images_max_default"`
	UploadDir           string  `mapstructure:"upload_dir"`
	CompletionTopic     string  `mapstructure:"completion_topic"`
}

// GeocodeConfig controls the Nominatim client.
type GeocodeConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	MinIntervalMs  int    `mapstructure:"min_interval_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	SkipByDefault  bool   `mapstructure:"skip_by_default"`
}

// StorageConfig selects and configures the photo blob backend.
type StorageConfig struct {
	// Backend is one of "memory", "local", or "gcs".
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// stores.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime string `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for job completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMPORTD")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("importer.user_agent", "coralcity-importer/1.0")
	v.SetDefault("importer.delay_seconds", 1.0)
	v.SetDefault("importer.fetch_timeout_seconds", 30)
	v.SetDefault("importer.images_max_default", 10)
	v.SetDefault("importer.upload_dir", "/tmp/importd-uploads")
	v.SetDefault("importer.completion_topic", "import.finished")
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.min_interval_ms", 1000)
	v.SetDefault("geocode.timeout_seconds", 10)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Importer.DelaySeconds < 0 {
		return fmt.Errorf("importer.delay_seconds must be >= 0")
	}
	if c.Importer.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("importer.fetch_timeout_seconds must be > 0")
	}
	if c.Importer.ImagesMaxDefault <= 0 {
		return fmt.Errorf("importer.images_max_default must be > 0")
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
		return fmt.Errorf("storage.backend must be memory, local, or gcs")
	}
	return nil
}

// Delay returns the configured default inter-record delay.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Importer.DelaySeconds * float64(time.Second))
}

// FetchTimeout returns the configured page fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Importer.FetchTimeoutSeconds) * time.Second
}

// GeocodeInterval returns the minimum spacing between geocode lookups.
func (c Config) GeocodeInterval() time.Duration {
	return time.Duration(c.Geocode.MinIntervalMs) * time.Millisecond
}

// GeocodeTimeout returns the per-lookup geocode budget.
func (c Config) GeocodeTimeout() time.Duration {
	return time.Duration(c.Geocode.TimeoutSeconds) * time.Second
}

// ServerTimeout returns the HTTP handler budget.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}
