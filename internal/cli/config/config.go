package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the Shesha configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver"`
	URL            string        `mapstructure:"url"`
	IsolationLevel string        `mapstructure:"isolation_level"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// ReconcileConfig represents reconciliation configuration
type ReconcileConfig struct {
	FailurePolicy string        `mapstructure:"failure_policy"`
	Lock          string        `mapstructure:"lock"`
	LockTimeout   time.Duration `mapstructure:"lock_timeout"`
}

// RedisConfig represents the Redis connection shared by the lock and cache
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig represents property tree cache configuration
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	// Textfile, when set, receives the metrics of a run in the Prometheus
	// text format
	Textfile string `mapstructure:"textfile"`
}

// Lock backends
const (
	LockNone     = "none"
	LockAdvisory = "advisory"
	LockRedis    = "redis"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Load loads the configuration from shesha.yml or shesha.yaml in the project
// root, with SHESHA_* environment overrides (DATABASE_URL is honoured too).
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.url", "")
	v.SetDefault("database.isolation_level", "default")
	v.SetDefault("database.timeout", 0)
	v.SetDefault("reconcile.failure_policy", "abort")
	v.SetDefault("reconcile.lock", LockNone)
	v.SetDefault("reconcile.lock_timeout", time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.prefix", "shesha:")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("metrics.textfile", "")

	// Set config name and paths
	v.SetConfigName("shesha")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if root, err := GetProjectRoot(); err == nil {
		v.AddConfigPath(root)
	}

	// Enable environment variable support
	v.SetEnvPrefix("SHESHA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database.url", "SHESHA_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetDatabaseURL returns the database URL from environment or config
func GetDatabaseURL() string {
	// First check environment variable
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	// Then check config file
	cfg, err := Load()
	if err != nil {
		return ""
	}

	return cfg.Database.URL
}

// GetProjectRoot finds the nearest directory containing shesha.yml
func GetProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		// Check for shesha.yml or shesha.yaml
		if _, err := os.Stat(filepath.Join(dir, "shesha.yml")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "shesha.yaml")); err == nil {
			return dir, nil
		}

		// Move up one directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return "", fmt.Errorf("not in a Shesha project (no shesha.yml found)")
		}
		dir = parent
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Database.Driver) {
	case "pgx", "postgres", "postgresql", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be pgx or sqlite3, got: %s", cfg.Database.Driver)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Reconcile.FailurePolicy)) {
	case "abort", "skip":
	default:
		return fmt.Errorf("reconcile.failure_policy must be abort or skip, got: %s", cfg.Reconcile.FailurePolicy)
	}

	switch cfg.Reconcile.Lock {
	case LockNone, LockAdvisory, LockRedis:
	default:
		return fmt.Errorf("reconcile.lock must be one of none, advisory, redis, got: %s", cfg.Reconcile.Lock)
	}

	switch cfg.Cache.Backend {
	case CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got: %s", cfg.Cache.Backend)
	}

	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got: %s", cfg.Cache.TTL)
	}
	return nil
}
