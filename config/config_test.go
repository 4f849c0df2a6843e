package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reconcile-engine/config"
	"github.com/warp/reconcile-engine/generic"
)

// clearEnv unsets every key Load reads so host variables don't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_PORT", "APP_ENV", "LOG_LEVEL", "CORS_ALLOWED_ORIGINS",
		"DB_DRIVER", "DB_PATH", "DATABASE_URL", "JWT_SECRET",
		"STANDARD_HOURS_PER_DAY", "SHIFT_START", "LATE_GRACE", "WEEKEND_DAYS",
		"ABSENT_RATE_PER_DAY", "LATE_RATE_PER_INSTANCE", "HOURLY_RATE", "OVERTIME_MULTIPLIER",
		"LEDGER_MAX_RETRIES",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func missingFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load(missingFile(t))

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, slog.LevelInfo, cfg.App.LogLevel)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "reconcile.db", cfg.Database.Path)
	assert.Equal(t, 9*time.Hour, cfg.Engine.Attendance.ShiftStart)
	assert.Equal(t, 15*time.Minute, cfg.Engine.Attendance.LateGrace)
	assert.Equal(t, generic.DefaultWeekend, cfg.Engine.Attendance.Weekend)
	assert.Equal(t, "8", cfg.Engine.Attendance.StandardHoursPerDay.String())
	assert.Equal(t, "1.5", cfg.Engine.Rates.OvertimeMultiplier.String())
	assert.Equal(t, 3, cfg.Engine.LedgerMaxRetries)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SHIFT_START", "10:30")
	t.Setenv("LATE_GRACE", "5m")
	t.Setenv("WEEKEND_DAYS", "Friday, Saturday")
	t.Setenv("ABSENT_RATE_PER_DAY", "500")
	t.Setenv("LEDGER_MAX_RETRIES", "5")

	cfg, err := config.Load(missingFile(t))

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, slog.LevelDebug, cfg.App.LogLevel)
	assert.Equal(t, 10*time.Hour+30*time.Minute, cfg.Engine.Attendance.ShiftStart)
	assert.Equal(t, 5*time.Minute, cfg.Engine.Attendance.LateGrace)
	assert.Equal(t, generic.Weekend{time.Friday, time.Saturday}, cfg.Engine.Attendance.Weekend)
	assert.Equal(t, "500", cfg.Engine.Rates.AbsentRatePerDay.String())
	assert.Equal(t, 5, cfg.Engine.LedgerMaxRetries)
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_DRIVER=postgres\nDATABASE_URL=postgres://localhost/reconcile\nHOURLY_RATE=250\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("DB_DRIVER")
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("HOURLY_RATE")
	})

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/reconcile", cfg.Database.URL)
	assert.Equal(t, "250", cfg.Engine.Rates.HourlyRate.String())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port", "APP_PORT", "eighty"},
		{"log level", "LOG_LEVEL", "loud"},
		{"shift start", "SHIFT_START", "9am"},
		{"weekend count", "WEEKEND_DAYS", "sunday"},
		{"weekend name", "WEEKEND_DAYS", "sunday,funday"},
		{"rate", "ABSENT_RATE_PER_DAY", "five hundred"},
		{"negative rate", "HOURLY_RATE", "-1"},
		{"driver", "DB_DRIVER", "mongo"},
		{"postgres without url", "DB_DRIVER", "postgres"},
		{"retries", "LEDGER_MAX_RETRIES", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := config.Load(missingFile(t))

			assert.Error(t, err)
		})
	}
}

func TestLoad_ProductionNeedsSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")

	_, err := config.Load(missingFile(t))
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "s3cret")
	_, err = config.Load(missingFile(t))
	assert.NoError(t, err)
}
