package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeplan/planner/recurrence"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	// GIVEN: No config file yet
	path := filepath.Join(t.TempDir(), "nested", "planner.yaml")

	// WHEN: Loading it
	cfg, err := Load(path)

	// THEN: Defaults come back and are persisted with 0600 perms
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, DriverSQLite3, cfg.Database.Driver)
	assert.Equal(t, recurrence.DefaultMaxOccurrences, cfg.Recurrence.MaxOccurrences)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: Europe/Paris
week_start: Sunday
recurrence:
  max_occurrences: 250
reconcile:
  range: week
  purge_archived_after: ""
`), 0o600))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", cfg.Timezone)
	assert.Equal(t, "sunday", cfg.WeekStart)
	assert.Equal(t, recurrence.Sunday, cfg.WeekStartDay())
	assert.Equal(t, 250, cfg.Recurrence.MaxOccurrences)
	assert.Equal(t, recurrence.DefaultScanLimit, cfg.Recurrence.ScanLimit)
	assert.Equal(t, "week", cfg.Reconcile.Range)
	assert.Equal(t, "0 * * * *", cfg.Reconcile.Cron)
	assert.Equal(t, "planner.db", cfg.Database.Path)

	d, err := cfg.PurgeAfter()
	require.NoError(t, err)
	assert.Zero(t, d)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9000\"\n"), 0o600))
	t.Setenv("PLANNER_LISTEN", "127.0.0.1:7000")
	t.Setenv("PLANNER_DB_DRIVER", "sqlite")
	t.Setenv("PLANNER_METRICS_ENABLED", "off")
	t.Setenv("PLANNER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PLANNER_MAX_OCCURRENCES", "42")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 42, cfg.Recurrence.MaxOccurrences)
}

func TestLoad_RejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed\n"), 0o600))

	_, err := Load(path)

	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.dsn"},
		{"postgres with dsn", func(c *Config) {
			c.Database.Driver = DriverPostgres
			c.Database.DSN = "postgres://localhost/planner"
		}, ""},
		{"bad cron", func(c *Config) { c.Reconcile.Cron = "every hour" }, "reconcile.cron"},
		{"bad range", func(c *Config) { c.Reconcile.Range = "decade" }, "reconcile.range"},
		{"bad purge", func(c *Config) { c.Reconcile.PurgeArchivedAfter = "30 days" }, "purge_archived_after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLocationAndPurgeAfter(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.Timezone = "Not/AZone"
	assert.Equal(t, time.UTC, cfg.Location())

	d, err := cfg.PurgeAfter()
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, d)
}
