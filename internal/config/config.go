// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	DB      DBConfig      `mapstructure:"db"`
	Sync    SyncConfig    `mapstructure:"sync"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FetchConfig governs page fetch behavior and the outbound rate limit.
type FetchConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	ExchangePath      string `mapstructure:"exchange_path"`
	UserAgent         string `mapstructure:"user_agent"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	MaxRetries        int    `mapstructure:"max_retries"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds"`
	RateCalls         int    `mapstructure:"rate_calls"`
	RatePeriodSeconds int    `mapstructure:"rate_period_seconds"`
}

// DBConfig controls access to the hosted data store.
type DBConfig struct {
	DSN            string `mapstructure:"dsn"`
	ProfileTable   string `mapstructure:"profile_table"`
	QuarterlyTable string `mapstructure:"quarterly_table"`
	AnnualTable    string `mapstructure:"annual_table"`
	MaxConns       int32  `mapstructure:"max_conns"`
}

// SyncConfig governs batched upserts and the durable fallback path.
type SyncConfig struct {
	BatchSize         int    `mapstructure:"batch_size"`
	MaxRetries        int    `mapstructure:"max_retries"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds"`
	FallbackDir       string `mapstructure:"fallback_dir"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WSJSYNC")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("fetch.base_url", "https://www.wsj.com/market-data/quotes")
	v.SetDefault("fetch.exchange_path", "ID/XIDX")
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.retry_delay_seconds", 5)
	v.SetDefault("fetch.rate_calls", 9)
	v.SetDefault("fetch.rate_period_seconds", 5)
	v.SetDefault("db.profile_table", "idx_company_profile")
	v.SetDefault("db.quarterly_table", "idx_financials_quarterly")
	v.SetDefault("db.annual_table", "idx_financials_annual")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("sync.batch_size", 10)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retry_delay_seconds", 2)
	v.SetDefault("sync.fallback_dir", "data")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Fetch.BaseURL == "" {
		return fmt.Errorf("fetch.base_url must be set")
	}
	if c.Fetch.MaxRetries <= 0 {
		return fmt.Errorf("fetch.max_retries must be > 0")
	}
	if c.Fetch.RateCalls <= 0 || c.Fetch.RatePeriodSeconds <= 0 {
		return fmt.Errorf("fetch rate limit must allow at least one call per window")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be > 0")
	}
	if c.Sync.FallbackDir == "" {
		return fmt.Errorf("sync.fallback_dir must be set")
	}
	return nil
}

// FetchTimeout converts the configured fetch timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// FinancialsTable picks the destination table for the selected mode.
func (c Config) FinancialsTable(quarter bool) string {
	if quarter {
		return c.DB.QuarterlyTable
	}
	return c.DB.AnnualTable
}
