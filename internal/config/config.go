// Package config loads application configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Engine   EngineConfig
	Detector DetectorConfig
	Recovery RecoveryConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path           string
	MigrationsPath string `mapstructure:"migrations_path"`
}

// EngineConfig points at the external budgeting engine. An empty URL means
// conflicts are resolved against the local ledger only.
type EngineConfig struct {
	URL       string
	TimeoutMs int `mapstructure:"timeout_ms"`
}

// DetectorConfig holds conflict-detection thresholds.
type DetectorConfig struct {
	AmountThresholdCents int64   `mapstructure:"amount_threshold_cents"`
	DateDayThreshold     int     `mapstructure:"date_day_threshold"`
	ScoreThreshold       float64 `mapstructure:"score_threshold"`
	ChunkSize            int     `mapstructure:"chunk_size"`
	DebounceMs           int     `mapstructure:"debounce_ms"`
}

// RecoveryConfig holds retry settings.
type RecoveryConfig struct {
	MaxRetries             int  `mapstructure:"max_retries"`
	BaseDelayMs            int  `mapstructure:"base_delay_ms"`
	AutoRetryNetworkIssues bool `mapstructure:"auto_retry_network_issues"`
}

// Debounce returns the detection debounce as a duration.
func (c DetectorConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// BaseDelay returns the first retry delay as a duration.
func (c RecoveryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// Timeout returns the engine call timeout as a duration.
func (c EngineConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Load reads configuration from file and env. Env var overrides use prefix
// BANKMATCH_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "bankmatch", "bankmatch.db"))
	v.SetDefault("database.migrations_path", "internal/database/migrations")
	v.SetDefault("engine.url", "")
	v.SetDefault("engine.timeout_ms", 10000)
	v.SetDefault("detector.amount_threshold_cents", 100)
	v.SetDefault("detector.date_day_threshold", 3)
	v.SetDefault("detector.score_threshold", 70)
	v.SetDefault("detector.chunk_size", 20)
	v.SetDefault("detector.debounce_ms", 300)
	v.SetDefault("recovery.max_retries", 3)
	v.SetDefault("recovery.base_delay_ms", 1000)
	v.SetDefault("recovery.auto_retry_network_issues", true)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("BANKMATCH_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "bankmatch"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("BANKMATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
