package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Benchmark  BenchmarkConfig  `yaml:"benchmark" mapstructure:"benchmark"`
	Triage     TriageConfig     `yaml:"triage" mapstructure:"triage"`
	Artifact   ArtifactConfig   `yaml:"artifact" mapstructure:"artifact"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ScoringConfig tunes the progression model. Empty maps fall back to the
// built-in stage tables.
type ScoringConfig struct {
	MinProbability     float64            `yaml:"min_probability" mapstructure:"min_probability"`
	MaxProbability     float64            `yaml:"max_probability" mapstructure:"max_probability"`
	BenchmarkBand      float64            `yaml:"benchmark_band" mapstructure:"benchmark_band"`
	BenchmarkStrong    float64            `yaml:"benchmark_strong" mapstructure:"benchmark_strong"`
	BenchmarkScale     float64            `yaml:"benchmark_scale" mapstructure:"benchmark_scale"`
	BenchmarkCap       float64            `yaml:"benchmark_cap" mapstructure:"benchmark_cap"`
	UnknownStageBase   float64            `yaml:"unknown_stage_base" mapstructure:"unknown_stage_base"`
	BaseProbabilities  map[string]float64 `yaml:"base_probabilities" mapstructure:"base_probabilities"`
	TypicalDays        map[string]int     `yaml:"typical_days" mapstructure:"typical_days"`
	DisabledCategories []string           `yaml:"disabled_categories" mapstructure:"disabled_categories"`
}

// BenchmarkConfig points at an optional benchmark dataset overriding the
// embedded one.
type BenchmarkConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// TriageConfig configures batch triage runs.
type TriageConfig struct {
	Concurrency        int     `yaml:"concurrency" mapstructure:"concurrency"`
	ChunkSize          int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	DefaultLimit       int     `yaml:"default_limit" mapstructure:"default_limit"`
	MaxLimit           int     `yaml:"max_limit" mapstructure:"max_limit"`
	MaxCandidates      int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	DeadlineSecs       int     `yaml:"deadline_secs" mapstructure:"deadline_secs"`
	ExtractTimeoutSecs int     `yaml:"extract_timeout_secs" mapstructure:"extract_timeout_secs"`
	LookbackDays       int     `yaml:"lookback_days" mapstructure:"lookback_days"`
	FreshnessPeakDays  float64 `yaml:"freshness_peak_days" mapstructure:"freshness_peak_days"`
	CycleStartMonth    int     `yaml:"cycle_start_month" mapstructure:"cycle_start_month"`
	CycleStartDay      int     `yaml:"cycle_start_day" mapstructure:"cycle_start_day"`
	CycleLengthDays    int     `yaml:"cycle_length_days" mapstructure:"cycle_length_days"`
}

// Deadline returns the overall triage run deadline.
func (t TriageConfig) Deadline() time.Duration {
	return time.Duration(t.DeadlineSecs) * time.Second
}

// ExtractTimeout returns the per-read timeout for feature extraction.
func (t TriageConfig) ExtractTimeout() time.Duration {
	return time.Duration(t.ExtractTimeoutSecs) * time.Second
}

// ArtifactConfig configures action artifact generation.
type ArtifactConfig struct {
	Generator        string  `yaml:"generator" mapstructure:"generator"` // template, llm
	TimeoutMillis    int     `yaml:"timeout_millis" mapstructure:"timeout_millis"`
	CacheTTLMins     int     `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	TopFactors       int     `yaml:"top_factors" mapstructure:"top_factors"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// QueueConfig configures the action queue.
type QueueConfig struct {
	Timezone          string `yaml:"timezone" mapstructure:"timezone"`
	SweepIntervalMins int    `yaml:"sweep_interval_mins" mapstructure:"sweep_interval_mins"`
	LiveChannel       bool   `yaml:"live_channel" mapstructure:"live_channel"`
}

// Location resolves the queue timezone, defaulting to UTC.
func (q QueueConfig) Location() (*time.Location, error) {
	if q.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", q.Timezone)
	}
	return loc, nil
}

// NotifyConfig configures the execution notification webhook.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// MonitoringConfig configures queue and execution health checks.
type MonitoringConfig struct {
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookbackHours     int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	MaxFailureRate    float64 `yaml:"max_failure_rate" mapstructure:"max_failure_rate"`
	MinConversionRate float64 `yaml:"min_conversion_rate" mapstructure:"min_conversion_rate"`
	MinOutcomeSamples int     `yaml:"min_outcome_samples" mapstructure:"min_outcome_samples"`
	MaxQueueDepth     int     `yaml:"max_queue_depth" mapstructure:"max_queue_depth"`
	CheckIntervalMins int     `yaml:"check_interval_mins" mapstructure:"check_interval_mins"`
}

// ScheduleConfig configures the in-process job scheduler used by serve.
type ScheduleConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	TriageCron  string `yaml:"triage_cron" mapstructure:"triage_cron"`
	TriageLimit int    `yaml:"triage_limit" mapstructure:"triage_limit"`
	TriageOwner string `yaml:"triage_owner" mapstructure:"triage_owner"`
}

// Load reads configuration from .env, file, and environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("scoring.min_probability", 0.05)
	v.SetDefault("scoring.max_probability", 0.95)
	v.SetDefault("scoring.benchmark_band", 0.10)
	v.SetDefault("scoring.benchmark_strong", 0.20)
	v.SetDefault("scoring.benchmark_scale", 0.25)
	v.SetDefault("scoring.benchmark_cap", 0.05)
	v.SetDefault("scoring.unknown_stage_base", 0.5)
	v.SetDefault("triage.concurrency", 8)
	v.SetDefault("triage.chunk_size", 25)
	v.SetDefault("triage.default_limit", 20)
	v.SetDefault("triage.max_limit", 200)
	v.SetDefault("triage.max_candidates", 1000)
	v.SetDefault("triage.deadline_secs", 20)
	v.SetDefault("triage.extract_timeout_secs", 5)
	v.SetDefault("triage.lookback_days", 90)
	v.SetDefault("triage.freshness_peak_days", 7)
	v.SetDefault("triage.cycle_start_month", 10)
	v.SetDefault("triage.cycle_start_day", 1)
	v.SetDefault("triage.cycle_length_days", 365)
	v.SetDefault("artifact.generator", "template")
	v.SetDefault("artifact.timeout_millis", 2500)
	v.SetDefault("artifact.cache_ttl_mins", 60)
	v.SetDefault("artifact.rate_per_sec", 2.0)
	v.SetDefault("artifact.burst", 4)
	v.SetDefault("artifact.breaker_threshold", 5)
	v.SetDefault("artifact.breaker_reset_secs", 30)
	v.SetDefault("artifact.top_factors", 3)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 600)
	v.SetDefault("queue.timezone", "UTC")
	v.SetDefault("queue.sweep_interval_mins", 15)
	v.SetDefault("notify.timeout_secs", 5)
	v.SetDefault("notify.max_retries", 3)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.max_failure_rate", 0.2)
	v.SetDefault("monitoring.min_conversion_rate", 0.1)
	v.SetDefault("monitoring.min_outcome_samples", 20)
	v.SetDefault("monitoring.max_queue_depth", 500)
	v.SetDefault("monitoring.check_interval_mins", 30)
	v.SetDefault("schedule.triage_cron", "0 6 * * 1-5")
	v.SetDefault("schedule.triage_limit", 50)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.storeErrs()...)
		errs = append(errs, c.triageErrs()...)
		errs = append(errs, c.artifactErrs()...)
	case "triage":
		errs = append(errs, c.storeErrs()...)
		errs = append(errs, c.triageErrs()...)
		errs = append(errs, c.artifactErrs()...)
	case "predict", "queue", "monitor":
		errs = append(errs, c.storeErrs()...)
	case "migrate", "seed":
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if _, err := c.Queue.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("queue.timezone %q is invalid", c.Queue.Timezone))
	}
	if c.Scoring.MinProbability < 0 || c.Scoring.MaxProbability > 1 || c.Scoring.MinProbability >= c.Scoring.MaxProbability {
		errs = append(errs, "scoring.min_probability and scoring.max_probability must satisfy 0 <= min < max <= 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) storeErrs() []string {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
	case "sqlite":
	default:
		return []string{fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver)}
	}
	return nil
}

func (c *Config) triageErrs() []string {
	var errs []string
	if c.Triage.Concurrency < 1 || c.Triage.Concurrency > 64 {
		errs = append(errs, "triage.concurrency must be between 1 and 64")
	}
	if c.Triage.MaxLimit < 1 {
		errs = append(errs, "triage.max_limit must be >= 1")
	}
	if c.Triage.DeadlineSecs <= 0 {
		errs = append(errs, "triage.deadline_secs must be > 0")
	}
	return errs
}

func (c *Config) artifactErrs() []string {
	switch c.Artifact.Generator {
	case "template", "":
		return nil
	case "llm":
		if c.Anthropic.Key == "" {
			return []string{"anthropic.key is required when artifact.generator is llm"}
		}
		return nil
	default:
		return []string{fmt.Sprintf("artifact.generator %q must be template or llm", c.Artifact.Generator)}
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
