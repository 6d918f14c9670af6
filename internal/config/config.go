// Package config loads the service configuration and the room catalog.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverWorkbook = "workbook"
	DriverRedis    = "redis"
)

// BackupConfig controls periodic copies of a file-based ledger.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// LogConfig selects level, format and an optional rotated log file.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
	File   struct {
		Enabled    bool   `yaml:"enabled"`
		Path       string `yaml:"path"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"file"`
}

type Config struct {
	Ledger struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		// Location used to write and read soft lock timestamps.
		Timezone string `yaml:"timezone"`
		Redis    struct {
			Address  string `yaml:"address"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"ledger"`

	SoftLock struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"softlock"`

	Conflict struct {
		HorizonWeeks *int `yaml:"horizon_weeks"`
	} `yaml:"conflict"`

	Workflow struct {
		SessionTimeoutMinutes int `yaml:"session_timeout_minutes"`
		CleanupIntervalSec    int `yaml:"cleanup_interval_seconds"`
	} `yaml:"workflow"`

	HTTP struct {
		Port      int     `yaml:"port"`
		RateLimit float64 `yaml:"rate_limit"`
		RateBurst int     `yaml:"rate_burst"`
	} `yaml:"http"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Backup BackupConfig `yaml:"backup"`

	GoogleSheets struct {
		Enabled             bool   `yaml:"enabled"`
		CredentialsFile     string `yaml:"credentials_file"`
		SpreadsheetID       string `yaml:"spreadsheet_id"`
		SyncIntervalMinutes int    `yaml:"sync_interval_minutes"`
	} `yaml:"google_sheets"`

	Catalog struct {
		Path                 string `yaml:"path"`
		WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
	} `yaml:"catalog"`

	Log LogConfig `yaml:"log"`
}

// Load reads the YAML config at path. A .env file next to the working
// directory is loaded first so ${VAR} placeholders can refer to it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if cfg.Ledger.Driver == DriverSQLite || cfg.Ledger.Driver == DriverWorkbook {
		if err = os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0o755); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = DriverSQLite
	}
	if c.Ledger.Path == "" {
		switch c.Ledger.Driver {
		case DriverWorkbook:
			c.Ledger.Path = "data/meetbook.xlsx"
		default:
			c.Ledger.Path = "data/meetbook.db"
		}
	}
	if c.Ledger.Redis.Prefix == "" {
		c.Ledger.Redis.Prefix = "meetbook"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = "configs/rooms.yaml"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Ledger.Driver {
	case DriverMemory, DriverSQLite, DriverWorkbook:
	case DriverRedis:
		if c.Ledger.Redis.Address == "" {
			return fmt.Errorf("ledger.redis.address is required for the redis driver")
		}
	default:
		return fmt.Errorf("ledger.driver: unknown driver %q", c.Ledger.Driver)
	}
	if c.Ledger.Timezone != "" {
		if _, err := time.LoadLocation(c.Ledger.Timezone); err != nil {
			return fmt.Errorf("ledger.timezone: %w", err)
		}
	}
	if c.SoftLock.TTLSeconds < 0 {
		return fmt.Errorf("softlock.ttl_seconds cannot be negative")
	}
	if c.Conflict.HorizonWeeks != nil && *c.Conflict.HorizonWeeks < 0 {
		return fmt.Errorf("conflict.horizon_weeks cannot be negative")
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.RateBurst < 0 {
		return fmt.Errorf("http rate limit cannot be negative")
	}
	if c.GoogleSheets.Enabled && (c.GoogleSheets.CredentialsFile == "" || c.GoogleSheets.SpreadsheetID == "") {
		return fmt.Errorf("google_sheets: credentials_file and spreadsheet_id are required when enabled")
	}
	return nil
}

// Location returns the ledger timezone, time.Local when unset.
func (c *Config) Location() *time.Location {
	if c.Ledger.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Ledger.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// SoftLockTTL returns zero when unset so callers keep their own default.
func (c *Config) SoftLockTTL() time.Duration {
	return time.Duration(c.SoftLock.TTLSeconds) * time.Second
}

// HorizonWeeks returns the recurring projection horizon and whether it was set.
func (c *Config) HorizonWeeks() (int, bool) {
	if c.Conflict.HorizonWeeks == nil {
		return 0, false
	}
	return *c.Conflict.HorizonWeeks, true
}

func (c *Config) SessionTimeout() time.Duration {
	if c.Workflow.SessionTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Workflow.SessionTimeoutMinutes) * time.Minute
}

func (c *Config) CleanupInterval() time.Duration {
	if c.Workflow.CleanupIntervalSec <= 0 {
		return time.Minute
	}
	return time.Duration(c.Workflow.CleanupIntervalSec) * time.Second
}

func (c *Config) CatalogWatchInterval() time.Duration {
	if c.Catalog.WatchIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Catalog.WatchIntervalSeconds) * time.Second
}

func (c *Config) SheetsSyncInterval() time.Duration {
	if c.GoogleSheets.SyncIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.GoogleSheets.SyncIntervalMinutes) * time.Minute
}

func (c BackupConfig) Interval() time.Duration {
	if c.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.IntervalHours) * time.Hour
}
