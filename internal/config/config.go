// Package config loads service configuration from defaults, an optional
// YAML file and RISKLAB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"security-risk-lab/internal/analysis"
	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/features"
	"security-risk-lab/internal/fusion"
	"security-risk-lab/internal/models"
	"security-risk-lab/internal/notify"
	"security-risk-lab/internal/stream"
)

// EnvPrefix prefixes every environment override, e.g. RISKLAB_HTTP_ADDR.
const EnvPrefix = "RISKLAB"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Fusion    fusion.Config   `mapstructure:"fusion"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Models    ModelsConfig    `mapstructure:"models"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type StreamConfig struct {
	BatchSize     int  `mapstructure:"batch_size"`
	Workers       int  `mapstructure:"workers"`
	RefitPerBatch bool `mapstructure:"refit_per_batch"`
}

// Mode maps RefitPerBatch onto the analysis stream mode.
func (s StreamConfig) Mode() analysis.StreamMode {
	if s.RefitPerBatch {
		return analysis.RefitPerBatch
	}
	return analysis.SharedCodec
}

type FeaturesConfig struct {
	features.Schema   `mapstructure:",squash"`
	features.Families `mapstructure:",squash"`
}

// Codec returns the codec configuration.
func (f FeaturesConfig) Codec() features.Config {
	return features.Config{Schema: f.Schema, Families: f.Families}
}

type ModelsConfig struct {
	// RemoteURL, when set, scores the threat component with a remote model
	// service instead of the built-in scorer.
	RemoteURL    string        `mapstructure:"remote_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	EmbeddingDim int           `mapstructure:"embedding_dim"`
}

type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
}

type TelemetryConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type TracingConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

type IngestConfig struct {
	WSURL string `mapstructure:"ws_url"`
}

// SetDefaults registers a default for every key.
func SetDefaults(v *viper.Viper) {
	fc := fusion.DefaultConfig()
	schema := features.DefaultSchema()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("fusion.threat_weight", fc.ThreatWeight)
	v.SetDefault("fusion.anomaly_weight", fc.AnomalyWeight)
	v.SetDefault("stream.batch_size", stream.DefaultBatchSize)
	v.SetDefault("stream.workers", stream.DefaultWorkers)
	v.SetDefault("stream.refit_per_batch", true)
	v.SetDefault("features.numerical", schema.Numerical)
	v.SetDefault("features.categorical", schema.Categorical)
	v.SetDefault("features.numerical_enabled", true)
	v.SetDefault("features.categorical_enabled", true)
	v.SetDefault("features.temporal_enabled", true)
	v.SetDefault("features.behavioral_enabled", true)
	v.SetDefault("models.remote_url", "")
	v.SetDefault("models.timeout", 5*time.Second)
	v.SetDefault("models.embedding_dim", models.DefaultEmbeddingDim)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("telemetry.queue_size", 1024)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", notify.DefaultSubject)
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.service_name", "security-risk-lab")
	v.SetDefault("ingest.ws_url", "")
}

// New returns a viper instance with defaults and env overrides wired.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v, then decodes and validates.
// An empty path skips the file.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints. Fusion weights go through
// fusion.Config.Validate so bad weights fail at startup.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Fusion.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Stream.BatchSize < 1 {
		errs = append(errs, domain.NewConfigError("stream", "batch_size must be >= 1, got %d", c.Stream.BatchSize))
	}
	if c.Stream.Workers < 1 {
		errs = append(errs, domain.NewConfigError("stream", "workers must be >= 1, got %d", c.Stream.Workers))
	}
	if c.Models.EmbeddingDim < 1 {
		errs = append(errs, domain.NewConfigError("models", "embedding_dim must be >= 1, got %d", c.Models.EmbeddingDim))
	}
	if c.Models.Timeout <= 0 {
		errs = append(errs, domain.NewConfigError("models", "timeout must be positive"))
	}
	if c.Telemetry.QueueSize < 1 {
		errs = append(errs, domain.NewConfigError("telemetry", "queue_size must be >= 1, got %d", c.Telemetry.QueueSize))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, domain.NewConfigError("storage", "postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, domain.NewConfigError("storage", "unknown backend %q (want %s or %s)", c.Storage.Backend, BackendMemory, BackendPostgres))
	}
	if f := c.Features.Families; !f.Numerical && !f.Categorical && !f.Temporal && !f.Behavioral {
		errs = append(errs, domain.NewConfigError("features", "no feature family enabled"))
	}
	return errors.Join(errs...)
}
