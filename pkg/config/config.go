// Package config assembles the process-wide exporter configuration from
// the environment and an optional YAML file. The merged value is immutable
// after bootstrap and shared by reference across pipeline stages.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Prefix is the environment variable prefix for all exporter options
// (e.g. GRAPH_CLIENT_ID, GRAPH_QUEUE_KEY).
const Prefix = "GRAPH"

// Config is the exporter configuration surface. All fields are read-only
// inputs once Load returns.
type Config struct {
	// AppConfig points to an optional YAML file whose directives override
	// the environment, mirroring the worker's file > env precedence.
	AppConfig string `envconfig:"APP_CONFIG" yaml:"app_config"`

	// Service principal with access to the Graph API.
	ClientID     string `envconfig:"CLIENT_ID" yaml:"client_id"`
	ClientSecret string `envconfig:"CLIENT_SECRET" yaml:"client_secret"`
	Tenant       string `envconfig:"TENANT" yaml:"tenant"`

	// Workers caps parallel sub-batch deliveries per store task.
	Workers int `envconfig:"WORKERS" default:"10" yaml:"workers"`

	// PageSize is the $top value for paginated Graph queries.
	PageSize int `envconfig:"PAGE_SIZE" default:"50" yaml:"page_size"`

	// CacheEnabled retains visited payloads in pagination cursors.
	CacheEnabled bool `envconfig:"CACHE_ENABLED" default:"false" yaml:"cache_enabled"`

	// QueueBackend selects where store tasks put records: "redis" or "log".
	QueueBackend string `envconfig:"QUEUE_BACKEND" default:"redis" yaml:"queue_backend"`

	// QueueKind selects the Redis queue discipline: "list" or "channel".
	QueueKind string `envconfig:"QUEUE_TYPE" default:"list" yaml:"queue_type"`

	// QueueKey names the list or channel extracted data is pushed to.
	QueueKey string `envconfig:"QUEUE_KEY" default:"graph_exporter" yaml:"queue_key"`

	// DeliveryMode selects the per-sub-batch strategy: "naive" or "pipelined".
	DeliveryMode string `envconfig:"DELIVERY_MODE" default:"pipelined" yaml:"delivery_mode"`

	// Redis connection settings for the queue backend.
	RedisURL            string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0" yaml:"redis_url"`
	RedisMaxConnections int           `envconfig:"REDIS_POOL_MAX_CONNECTIONS" default:"15" yaml:"redis_pool_max_connections"`
	RedisPoolTimeout    time.Duration `envconfig:"REDIS_POOL_TIMEOUT" default:"1s" yaml:"redis_pool_timeout"`

	// Streams is the number of parallel time slices per planning cycle.
	Streams int `envconfig:"STREAMS" default:"2" yaml:"streams"`

	// StreamFrame is the time-domain size of each slice, in seconds.
	StreamFrame int `envconfig:"STREAM_FRAME" default:"30" yaml:"stream_frame"`

	// TimeLag shifts the query frame back from each invocation, in seconds,
	// absorbing the API's data population delay.
	TimeLag int `envconfig:"TIMELAG" default:"120" yaml:"timelag"`

	// HTTPAddr serves /health and /metrics.
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080" yaml:"http_addr"`

	// Logging.
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false" yaml:"log_pretty"`
}

// Load builds the configuration: envconfig defaults and environment first,
// then the optional YAML file on top. File errors are logged and skipped,
// never fatal to worker startup.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if cfg.AppConfig != "" {
		cfg.MergeFile(cfg.AppConfig)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MergeFile overlays directives from a YAML file onto the config. An
// unreadable or unparsable file leaves the config untouched.
func (c *Config) MergeFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Config file unreadable, keeping current values")
		return
	}

	// Unmarshal over the current values: keys absent from the file keep
	// their env-derived settings.
	if err := yaml.Unmarshal(data, c); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Config file unparsable, keeping current values")
		return
	}

	log.Debug().Str("path", path).Msg("Merged config file")
}

// Validate checks enum fields and bounds.
func (c *Config) Validate() error {
	switch c.QueueBackend {
	case "redis", "log":
	default:
		return fmt.Errorf("unknown queue backend %q (want redis or log)", c.QueueBackend)
	}

	switch c.QueueKind {
	case "list", "channel":
	default:
		return fmt.Errorf("unknown queue type %q (want list or channel)", c.QueueKind)
	}

	switch c.DeliveryMode {
	case "naive", "pipelined":
	default:
		return fmt.Errorf("unknown delivery mode %q (want naive or pipelined)", c.DeliveryMode)
	}

	if c.Streams <= 0 {
		return fmt.Errorf("streams must be positive (got %d)", c.Streams)
	}
	if c.StreamFrame <= 0 {
		return fmt.Errorf("stream_frame must be positive (got %d)", c.StreamFrame)
	}
	if c.TimeLag < 0 {
		return fmt.Errorf("timelag must not be negative (got %d)", c.TimeLag)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive (got %d)", c.Workers)
	}

	return nil
}

// Lag returns the configured time lag as a duration.
func (c *Config) Lag() time.Duration {
	return time.Duration(c.TimeLag) * time.Second
}

// Frame returns the configured slice size as a duration.
func (c *Config) Frame() time.Duration {
	return time.Duration(c.StreamFrame) * time.Second
}
