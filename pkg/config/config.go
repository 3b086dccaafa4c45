// Package config loads the YAML configuration shared by the binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tunogya/fractal/pkg/analog"
	"github.com/tunogya/fractal/pkg/drift"
	"github.com/tunogya/fractal/pkg/logger"
	"github.com/tunogya/fractal/pkg/model"
	natsq "github.com/tunogya/fractal/pkg/queue/nats"
	"github.com/tunogya/fractal/pkg/store/milvus"
	"github.com/tunogya/fractal/pkg/sweep"
	"github.com/tunogya/fractal/pkg/verdict"
	"github.com/tunogya/fractal/pkg/window"
)

// Config is the full application configuration
type Config struct {
	Log       logger.Config   `yaml:"log"`
	Symbols   []string        `yaml:"symbols" validate:"required,min=1,dive,required"`
	Timeframe string          `yaml:"timeframe" default:"1d" validate:"required"`
	History   int             `yaml:"history" default:"3000" validate:"gt=0"`
	Horizons  []analog.Config `yaml:"horizons" validate:"required,min=1,dive"`
	Index     IndexConfig     `yaml:"index"`
	Verdict   verdict.Config  `yaml:"verdict"`
	Drift     DriftConfig     `yaml:"drift"`
	Forecast  ForecastConfig  `yaml:"forecast"`
	DuckDB    DuckDBConfig    `yaml:"duckdb"`
	Milvus    MilvusConfig    `yaml:"milvus"`
	NATS      NATSConfig      `yaml:"nats"`
	Redis     RedisConfig     `yaml:"redis"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Sweep     sweep.Params    `yaml:"sweep"`
}

// IndexConfig controls how window vectors are scored
type IndexConfig struct {
	MultiRep model.MultiRepConfig `yaml:"multi_rep"`
	VolSpan  int                  `yaml:"vol_span" default:"5" validate:"gt=1"`
	Metric   window.Metric        `yaml:"metric" default:"cosine" validate:"oneof=cosine euclidean"`
}

// Options converts the config to window build options
func (c IndexConfig) Options() window.Options {
	return window.Options{MultiRep: c.MultiRep, VolSpan: c.VolSpan, Metric: c.Metric}
}

// DriftConfig configures the drift monitor and consensus log
type DriftConfig struct {
	Thresholds   drift.Thresholds `yaml:"thresholds"`
	Cohorts      []drift.Cohort   `yaml:"cohorts" validate:"dive"`
	RingCapacity int              `yaml:"ring_capacity" default:"500" validate:"gt=0"`
	Source       string           `yaml:"source" default:"ensemble" validate:"required"`
}

// ForecastConfig configures forecast persistence
type ForecastConfig struct {
	Provenance string `yaml:"provenance" default:"fractal"`
}

// DuckDBConfig locates the database file
type DuckDBConfig struct {
	Path string `yaml:"path" default:"fractal.duckdb" validate:"required"`
}

// MilvusConfig enables the vector store backend
type MilvusConfig struct {
	Enabled bool          `yaml:"enabled"`
	Client  milvus.Config `yaml:"client"`
	Batch   int           `yaml:"batch" default:"1000" validate:"gt=0"`
}

// NATSConfig enables event publication
type NATSConfig struct {
	Enabled bool         `yaml:"enabled"`
	Client  natsq.Config `yaml:"client"`
}

// RedisConfig enables the cross-process resolver lock
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" default:"localhost:6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	LockKey  string        `yaml:"lock_key" default:"fractal:resolver:lock"`
	LockTTL  time.Duration `yaml:"lock_ttl" default:"10m" validate:"gt=0"`
}

// ScheduleConfig holds six-field cron schedules of the periodic jobs
type ScheduleConfig struct {
	Resolve    string        `yaml:"resolve" default:"0 5 * * * *" validate:"required"`
	Verdict    string        `yaml:"verdict" default:"0 10 0 * * *" validate:"required"`
	JobTimeout time.Duration `yaml:"job_timeout" default:"15m"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr" default:":9090"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	cfg := Config{
		Symbols: []string{"BTCUSDT"},
		Horizons: []analog.Config{
			analog.DefaultConfig(30, 1),
			analog.DefaultConfig(30, 7),
			analog.DefaultConfig(60, 30),
		},
		Verdict: verdict.DefaultConfig(),
		Drift: DriftConfig{
			Thresholds: drift.DefaultThresholds(),
			Cohorts:    drift.DefaultCohorts(),
		},
		Milvus: MilvusConfig{Client: milvus.DefaultConfig()},
		NATS:   NATSConfig{Client: natsq.DefaultConfig()},
		Sweep:  sweep.DefaultParams(),
	}
	if err := defaults.Set(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads a .env file if present, then the YAML file at path (empty for defaults only), then
// applies environment overrides and validates the result
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := Parse(raw, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML over cfg and fills zero fields with their defaults
func Parse(raw []byte, cfg *Config) error {
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := defaults.Set(cfg); err != nil {
		return fmt.Errorf("failed to apply defaults: %w", err)
	}
	for i := range cfg.Horizons {
		if err := defaults.Set(&cfg.Horizons[i]); err != nil {
			return fmt.Errorf("failed to apply horizon defaults: %w", err)
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks struct constraints and the cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidConfig, err)
	}

	seen := make(map[int]bool, len(c.Horizons))
	for _, h := range c.Horizons {
		if seen[h.Horizon] {
			return fmt.Errorf("horizon %d configured twice: %w", h.Horizon, model.ErrInvalidConfig)
		}
		seen[h.Horizon] = true
		if h.WindowLength < 2 {
			return fmt.Errorf("horizon %d window length %d is too short: %w", h.Horizon, h.WindowLength, model.ErrInvalidConfig)
		}
		if h.MinAnalogs > h.TopK {
			return fmt.Errorf("horizon %d min_analogs %d exceeds top_k %d: %w", h.Horizon, h.MinAnalogs, h.TopK, model.ErrInvalidConfig)
		}
	}

	if err := c.Drift.Thresholds.Validate(); err != nil {
		return err
	}
	if err := drift.ValidateCohorts(c.Drift.Cohorts); err != nil {
		return err
	}
	if c.Milvus.Enabled && c.Milvus.Client.Address == "" {
		return fmt.Errorf("milvus enabled without address: %w", model.ErrInvalidConfig)
	}
	if c.NATS.Enabled && c.NATS.Client.URL == "" {
		return fmt.Errorf("nats enabled without url: %w", model.ErrInvalidConfig)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis enabled without addr: %w", model.ErrInvalidConfig)
	}
	return nil
}

// Specs returns the window specs of every configured horizon
func (c *Config) Specs() []window.Spec {
	specs := make([]window.Spec, len(c.Horizons))
	for i, h := range c.Horizons {
		specs[i] = h.Spec()
	}
	return specs
}

// Environment overrides
const (
	EnvLogLevel      = "FRACTAL_LOG_LEVEL"
	EnvDuckDBPath    = "FRACTAL_DUCKDB_PATH"
	EnvMilvusAddress = "FRACTAL_MILVUS_ADDRESS"
	EnvNATSURL       = "FRACTAL_NATS_URL"
	EnvRedisAddr     = "FRACTAL_REDIS_ADDR"
	EnvRedisPassword = "FRACTAL_REDIS_PASSWORD"
	EnvMetricsAddr   = "FRACTAL_METRICS_ADDR"
	EnvAllowShort    = "FRACTAL_ALLOW_SHORT"
)

func applyEnv(cfg *Config) {
	cfg.Log.Level = getEnv(EnvLogLevel, cfg.Log.Level)
	cfg.DuckDB.Path = getEnv(EnvDuckDBPath, cfg.DuckDB.Path)
	cfg.Milvus.Client.Address = getEnv(EnvMilvusAddress, cfg.Milvus.Client.Address)
	cfg.NATS.Client.URL = getEnv(EnvNATSURL, cfg.NATS.Client.URL)
	cfg.Redis.Addr = getEnv(EnvRedisAddr, cfg.Redis.Addr)
	cfg.Redis.Password = getEnv(EnvRedisPassword, cfg.Redis.Password)
	cfg.Metrics.Addr = getEnv(EnvMetricsAddr, cfg.Metrics.Addr)
	cfg.Verdict.AllowShort = getEnvAsBool(EnvAllowShort, cfg.Verdict.AllowShort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
