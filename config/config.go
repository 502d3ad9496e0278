package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/lifeplan/planner/recurrence"
)

// Database drivers understood by the stores.
const (
	DriverSQLite3  = "sqlite3"  // mattn/go-sqlite3, cgo
	DriverSQLite   = "sqlite"   // modernc.org/sqlite, pure Go
	DriverPostgres = "postgres" // pgx, reconciler worker only
)

type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	// Path is the SQLite file; ":memory:" keeps everything in RAM.
	Path string `yaml:"path" json:"path"`
	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

type RecurrenceConfig struct {
	// MaxOccurrences caps how many occurrences one expansion materializes.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`
	// ScanLimit bounds the candidates skipped before a window's start.
	ScanLimit int `yaml:"scan_limit" json:"scan_limit"`
}

type ReconcileConfig struct {
	// Enabled turns on periodic reconciliation.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Cron is a standard five-field schedule, e.g. "0 * * * *".
	Cron string `yaml:"cron" json:"cron"`
	// Range is the named window reconciled on each run: today, week, month, year.
	Range string `yaml:"range" json:"range"`
	// PurgeArchivedAfter removes archived, never-completed events older than
	// this duration after each run. Empty disables purging.
	PurgeArchivedAfter string `yaml:"purge_archived_after" json:"purge_archived_after"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone schedules without their own zone expand in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday"; it shapes the "week" range.
	WeekStart string `yaml:"week_start" json:"week_start"`

	// LogLevel is debug, info or error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Recurrence RecurrenceConfig `yaml:"recurrence" json:"recurrence"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" json:"reconcile"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	CORS       CORSConfig       `yaml:"cors" json:"cors"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    ":8080",
		Timezone:  "UTC",
		WeekStart: "monday",
		LogLevel:  "info",
		Database: DatabaseConfig{
			Driver: DriverSQLite3,
			Path:   "planner.db",
		},
		Recurrence: RecurrenceConfig{
			MaxOccurrences: recurrence.DefaultMaxOccurrences,
			ScanLimit:      recurrence.DefaultScanLimit,
		},
		Reconcile: ReconcileConfig{
			Enabled:            true,
			Cron:               "0 * * * *",
			Range:              recurrence.DefaultRange,
			PurgeArchivedAfter: "720h",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             5,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	c.WeekStart = strings.ToLower(c.WeekStart)
	if c.WeekStart != "monday" && c.WeekStart != "sunday" {
		c.WeekStart = def.WeekStart
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Recurrence.MaxOccurrences <= 0 {
		c.Recurrence.MaxOccurrences = def.Recurrence.MaxOccurrences
	}
	if c.Recurrence.ScanLimit <= 0 {
		c.Recurrence.ScanLimit = def.Recurrence.ScanLimit
	}
	if c.Reconcile.Cron == "" {
		c.Reconcile.Cron = def.Reconcile.Cron
	}
	if c.Reconcile.Range == "" {
		c.Reconcile.Range = def.Reconcile.Range
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = def.RateLimit.RequestsPerSecond
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.CORS.AllowedOrigins == nil {
		c.CORS.AllowedOrigins = def.CORS.AllowedOrigins
	}
}

// Validate rejects values Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	switch c.Database.Driver {
	case DriverSQLite3, DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of sqlite3, sqlite, postgres", c.Database.Driver))
	}
	if _, err := cron.ParseStandard(c.Reconcile.Cron); err != nil {
		errs = append(errs, fmt.Errorf("reconcile.cron %q: %w", c.Reconcile.Cron, err))
	}
	if _, err := recurrence.NamedRange(c.Reconcile.Range, time.Now(), recurrence.Monday); err != nil {
		errs = append(errs, fmt.Errorf("reconcile.range: %w", err))
	}
	if _, err := c.PurgeAfter(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) WeekStartDay() recurrence.Weekday {
	if c.WeekStart == "sunday" {
		return recurrence.Sunday
	}
	return recurrence.Monday
}

// PurgeAfter parses Reconcile.PurgeArchivedAfter. Zero disables purging.
func (c *Config) PurgeAfter() (time.Duration, error) {
	if c.Reconcile.PurgeArchivedAfter == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Reconcile.PurgeArchivedAfter)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("reconcile.purge_archived_after %q is not a positive duration", c.Reconcile.PurgeArchivedAfter)
	}
	return d, nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the given YAML path, then applies
// environment overrides.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned
//   - If the file exists, it is unmarshalled and normalized
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
		ApplyEnv(cfg)
		return cfg, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	ApplyEnv(&cfg)

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".planner-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// ApplyEnv overrides cfg with PLANNER_* environment variables.
func ApplyEnv(cfg *Config) {
	cfg.Listen = getenvDefault("PLANNER_LISTEN", cfg.Listen)
	cfg.Database.Driver = getenvDefault("PLANNER_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Path = getenvDefault("PLANNER_DB_PATH", cfg.Database.Path)
	cfg.Database.DSN = getenvDefault("PLANNER_DB_DSN", cfg.Database.DSN)
	cfg.Timezone = getenvDefault("PLANNER_TIMEZONE", cfg.Timezone)
	cfg.LogLevel = getenvDefault("PLANNER_LOG_LEVEL", cfg.LogLevel)
	cfg.Metrics.Enabled = getenvBool("PLANNER_METRICS_ENABLED", cfg.Metrics.Enabled)
	if origins := getenvList("PLANNER_CORS_ORIGINS"); origins != nil {
		cfg.CORS.AllowedOrigins = origins
	}
	if v := os.Getenv("PLANNER_MAX_OCCURRENCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Recurrence.MaxOccurrences = n
		}
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
