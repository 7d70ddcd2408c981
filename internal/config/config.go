// Package config loads application configuration from config.yaml and the
// PRECO_* environment, and initializes the global logger.
package config

import (
	"strings"

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
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Snapshot   SnapshotConfig   `yaml:"snapshot" mapstructure:"snapshot"`
	Index      IndexConfig      `yaml:"index" mapstructure:"index"`
	Cities     []CityConfig     `yaml:"cities" mapstructure:"cities"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ExtractionConfig configures the vision extraction passes.
type ExtractionConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Passes      int     `yaml:"passes" mapstructure:"passes"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// SnapshotConfig configures the daily snapshot job.
type SnapshotConfig struct {
	StaleAfterDays      int     `yaml:"stale_after_days" mapstructure:"stale_after_days"`
	ReferenceWindowDays int     `yaml:"reference_window_days" mapstructure:"reference_window_days"`
	RetentionDays       int     `yaml:"retention_days" mapstructure:"retention_days"`
	FlagDedupHours      int     `yaml:"flag_dedup_hours" mapstructure:"flag_dedup_hours"`
	OutlierLowRatio     float64 `yaml:"outlier_low_ratio" mapstructure:"outlier_low_ratio"`
	OutlierHighRatio    float64 `yaml:"outlier_high_ratio" mapstructure:"outlier_high_ratio"`
	OutlierCriticalLow  float64 `yaml:"outlier_critical_low" mapstructure:"outlier_critical_low"`
	OutlierCriticalHigh float64 `yaml:"outlier_critical_high" mapstructure:"outlier_critical_high"`
}

// IndexConfig configures monthly index generation.
type IndexConfig struct {
	PublishThreshold int                `yaml:"publish_threshold" mapstructure:"publish_threshold"`
	DefaultWeight    float64            `yaml:"default_weight" mapstructure:"default_weight"`
	CategoryWeights  map[string]float64 `yaml:"category_weights" mapstructure:"category_weights"`
}

// CityConfig is one city the monthly job generates an index for.
type CityConfig struct {
	City  string `yaml:"city" mapstructure:"city"`
	State string `yaml:"state" mapstructure:"state"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PRECO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("extraction.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("extraction.max_tokens", 4096)
	v.SetDefault("extraction.passes", 3)
	v.SetDefault("extraction.concurrency", 3)
	v.SetDefault("extraction.rate_per_sec", 0.5)
	v.SetDefault("snapshot.stale_after_days", 7)
	v.SetDefault("snapshot.reference_window_days", 30)
	v.SetDefault("snapshot.retention_days", 365)
	v.SetDefault("snapshot.flag_dedup_hours", 24)
	v.SetDefault("snapshot.outlier_low_ratio", 0.30)
	v.SetDefault("snapshot.outlier_high_ratio", 1.50)
	v.SetDefault("snapshot.outlier_critical_low", 0.15)
	v.SetDefault("snapshot.outlier_critical_high", 2.00)
	v.SetDefault("index.publish_threshold", 70)
	v.SetDefault("index.default_weight", 0.05)
	v.SetDefault("index.category_weights", map[string]float64{
		"graos":      0.25,
		"proteina":   0.20,
		"hortifruti": 0.15,
		"laticinios": 0.15,
		"padaria":    0.10,
		"bebidas":    0.08,
		"limpeza":    0.07,
	})

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

// Validate checks settings that commands cannot run without.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	return nil
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
