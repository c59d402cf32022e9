// Package config loads NooSpace configuration from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Store   StoreConfig   `yaml:"store"`
	Economy EconomyConfig `yaml:"economy"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string  `yaml:"addr" env:"SERVER_ADDR,default=:8080"`
	RatePerSecond   float64 `yaml:"rate_per_second" env:"RATE_PER_SECOND,default=5"`
	RateBurst       int     `yaml:"rate_burst" env:"RATE_BURST,default=10"`
	ShutdownTimeout int     `yaml:"shutdown_timeout_seconds" env:"SHUTDOWN_TIMEOUT_SECONDS,default=10"`
}

// LoggingConfig mirrors pkg/logger.LoggingConfig.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL,default=info"`
	Format     string `yaml:"format" env:"LOG_FORMAT,default=text"`
	Output     string `yaml:"output" env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// StoreConfig selects and configures the persistence backends.
type StoreConfig struct {
	// Backend is one of "memory", "postgres" or "supabase".
	Backend string `yaml:"backend" env:"STORE_BACKEND,default=memory"`
	// UsageBackend is "store" (same backend as the ledger) or "redis".
	UsageBackend string `yaml:"usage_backend" env:"USAGE_BACKEND,default=store"`

	DatabaseDSN    string `yaml:"database_dsn" env:"DATABASE_DSN"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH,default=migrations"`

	SupabaseURL        string `yaml:"supabase_url" env:"SUPABASE_URL"`
	SupabaseServiceKey string `yaml:"supabase_service_key" env:"SUPABASE_SERVICE_KEY"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB,default=0"`
}

// EconomyConfig holds the tunable reward and harvest constants.
type EconomyConfig struct {
	DailyLimit       int     `yaml:"daily_limit" env:"DAILY_LIMIT,default=3"`
	MaxChars         int     `yaml:"max_chars" env:"MAX_CHARS,default=240"`
	BaseReward       int64   `yaml:"base_reward" env:"BASE_REWARD,default=5"`
	IntentMultiplier float64 `yaml:"intent_multiplier" env:"INTENT_MULTIPLIER,default=1.4"`
	HarvestDays      int     `yaml:"harvest_days" env:"HARVEST_DAYS,default=9"`
	SacrificeCost    int64   `yaml:"sacrifice_cost" env:"SACRIFICE_COST,default=20"`
	FeedLimit        int     `yaml:"feed_limit" env:"FEED_LIMIT,default=200"`
}

// Load builds a Config from the environment. Defaults cover every field, so
// Load succeeds in an empty environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile merges a YAML file over environment-derived values. File values win
// for fields present in the file.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Economy.DailyLimit < 0 {
		return fmt.Errorf("daily_limit must not be negative")
	}
	if c.Economy.MaxChars <= 0 {
		return fmt.Errorf("max_chars must be positive")
	}
	if c.Economy.BaseReward < 0 {
		return fmt.Errorf("base_reward must not be negative")
	}
	if c.Economy.IntentMultiplier <= 0 {
		return fmt.Errorf("intent_multiplier must be positive")
	}
	if c.Economy.HarvestDays <= 0 {
		return fmt.Errorf("harvest_days must be positive")
	}
	if c.Economy.SacrificeCost < 0 {
		return fmt.Errorf("sacrifice_cost must not be negative")
	}
	if c.Economy.FeedLimit <= 0 {
		return fmt.Errorf("feed_limit must be positive")
	}
	switch c.Store.Backend {
	case "memory", "postgres", "supabase":
	default:
		return fmt.Errorf("unsupported store backend %q", c.Store.Backend)
	}
	switch c.Store.UsageBackend {
	case "store", "redis":
	default:
		return fmt.Errorf("unsupported usage backend %q", c.Store.UsageBackend)
	}
	if c.Store.Backend == "postgres" && c.Store.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required for the postgres backend")
	}
	if c.Store.Backend == "supabase" && c.Store.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required for the supabase backend")
	}
	return nil
}
