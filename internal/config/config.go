// Package config handles configuration loading for etfwatch.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Store       StoreConfig         `mapstructure:"store"      yaml:"store"`
	Fetch       FetchConfig         `mapstructure:"fetch"      yaml:"fetch"`
	Pipeline    PipelineConfig      `mapstructure:"pipeline"   yaml:"pipeline"`
	Logging     LoggingConfig       `mapstructure:"logging"    yaml:"logging"`
	Instruments []InstrumentBinding `mapstructure:"instruments" yaml:"instruments"`
}

// StoreConfig holds snapshot store settings.
type StoreConfig struct {
	Path          string `mapstructure:"path"           yaml:"path"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
}

// FetchConfig holds the resilient fetcher's throttling and retry policy.
// Delays are in seconds to match the issuer sites' tolerance, not ours.
type FetchConfig struct {
	DelayMinSec      float64 `mapstructure:"delay_min_sec"       yaml:"delay_min_sec"`
	DelayMaxSec      float64 `mapstructure:"delay_max_sec"       yaml:"delay_max_sec"`
	BatchEvery       int     `mapstructure:"batch_every"         yaml:"batch_every"`
	BatchDelayMinSec float64 `mapstructure:"batch_delay_min_sec" yaml:"batch_delay_min_sec"`
	BatchDelayMaxSec float64 `mapstructure:"batch_delay_max_sec" yaml:"batch_delay_max_sec"`
	MaxAttempts      int     `mapstructure:"max_attempts"        yaml:"max_attempts"`
	TimeoutSec       int     `mapstructure:"timeout_sec"         yaml:"timeout_sec"`
}

// PipelineConfig holds orchestrator settings.
type PipelineConfig struct {
	Workers         int     `mapstructure:"workers"          yaml:"workers"`
	WeightThreshold float64 `mapstructure:"weight_threshold" yaml:"weight_threshold"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `mapstructure:"env"   yaml:"env"` // "development" or "production"
	Level string `mapstructure:"level" yaml:"level"`
}

// InstrumentBinding maps a tracked instrument code to the adapter that
// knows how to fetch it.
type InstrumentBinding struct {
	Code    string `mapstructure:"code"    yaml:"code"`
	Adapter string `mapstructure:"adapter" yaml:"adapter"`
}

// Load reads configuration from the default search paths.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".etfwatch"))
	v.AddConfigPath("/etc/etfwatch")

	v.SetEnvPrefix("ETFWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — that's fine, use defaults + env vars
	}

	return unmarshal(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("ETFWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Fetch.DelayMinSec < 0 || c.Fetch.DelayMaxSec < c.Fetch.DelayMinSec {
		return fmt.Errorf("invalid fetch delay window [%v, %v]", c.Fetch.DelayMinSec, c.Fetch.DelayMaxSec)
	}
	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("fetch.max_attempts must be at least 1, got %d", c.Fetch.MaxAttempts)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Store.RetentionDays < 1 {
		return fmt.Errorf("store.retention_days must be at least 1, got %d", c.Store.RetentionDays)
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, b := range c.Instruments {
		if b.Code == "" || b.Adapter == "" {
			return fmt.Errorf("instrument binding needs both code and adapter: %+v", b)
		}
		if seen[b.Code] {
			return fmt.Errorf("duplicate instrument binding for %s", b.Code)
		}
		seen[b.Code] = true
	}
	return nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Store defaults
	v.SetDefault("store.path", "data/etf_holdings.db")
	v.SetDefault("store.retention_days", 365)

	// Fetch defaults — tuned against the issuer sites' rate limits
	v.SetDefault("fetch.delay_min_sec", 1.0)
	v.SetDefault("fetch.delay_max_sec", 3.0)
	v.SetDefault("fetch.batch_every", 10)
	v.SetDefault("fetch.batch_delay_min_sec", 5.0)
	v.SetDefault("fetch.batch_delay_max_sec", 10.0)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.timeout_sec", 30)

	// Pipeline defaults
	v.SetDefault("pipeline.workers", 3)
	v.SetDefault("pipeline.weight_threshold", 0.5)

	// Logging defaults
	v.SetDefault("logging.env", "development")
	v.SetDefault("logging.level", "info")
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
