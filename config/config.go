// Package config loads server configuration from a .env file and the
// environment. Variables already set in the environment win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/reconcile-engine/engine"
	"github.com/warp/reconcile-engine/generic"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Engine   engine.Config
}

type AppConfig struct {
	Port           int
	Env            string
	LogLevel       slog.Level
	AllowedOrigins []string
}

// DatabaseConfig selects the record store. Driver is memory, sqlite or postgres.
type DatabaseConfig struct {
	Driver string
	Path   string // sqlite file, ":memory:" for a throwaway database
	URL    string // postgres connection string
}

type JWTConfig struct {
	Secret string
}

// Load reads the given .env files (".env" when none) and the environment.
// A missing file is not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{Engine: engine.DefaultConfig()}
	var err error

	// Application configuration
	if cfg.App.Port, err = getEnvInt("APP_PORT", 8080); err != nil {
		return nil, err
	}
	cfg.App.Env = getEnv("APP_ENV", "development")
	if cfg.App.LogLevel, err = parseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	cfg.App.AllowedOrigins = getEnvSlice("CORS_ALLOWED_ORIGINS")

	// Database configuration
	cfg.Database = DatabaseConfig{
		Driver: getEnv("DB_DRIVER", "sqlite"),
		Path:   getEnv("DB_PATH", "reconcile.db"),
		URL:    getEnv("DATABASE_URL", ""),
	}

	cfg.JWT.Secret = getEnv("JWT_SECRET", "")

	// Attendance rules
	att := &cfg.Engine.Attendance
	if att.StandardHoursPerDay, err = getEnvDecimal("STANDARD_HOURS_PER_DAY", att.StandardHoursPerDay); err != nil {
		return nil, err
	}
	if att.ShiftStart, err = getEnvClock("SHIFT_START", att.ShiftStart); err != nil {
		return nil, err
	}
	if att.LateGrace, err = getEnvDuration("LATE_GRACE", att.LateGrace); err != nil {
		return nil, err
	}
	if att.Weekend, err = getEnvWeekend("WEEKEND_DAYS", att.Weekend); err != nil {
		return nil, err
	}

	// Per-instance payroll rates
	rates := &cfg.Engine.Rates
	if rates.AbsentRatePerDay, err = getEnvDecimal("ABSENT_RATE_PER_DAY", rates.AbsentRatePerDay); err != nil {
		return nil, err
	}
	if rates.LateRatePerInstance, err = getEnvDecimal("LATE_RATE_PER_INSTANCE", rates.LateRatePerInstance); err != nil {
		return nil, err
	}
	if rates.HourlyRate, err = getEnvDecimal("HOURLY_RATE", rates.HourlyRate); err != nil {
		return nil, err
	}
	if rates.OvertimeMultiplier, err = getEnvDecimal("OVERTIME_MULTIPLIER", rates.OvertimeMultiplier); err != nil {
		return nil, err
	}

	if cfg.Engine.LedgerMaxRetries, err = getEnvInt("LEDGER_MAX_RETRIES", cfg.Engine.LedgerMaxRetries); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver)
	}
	if c.App.Env == "production" && strings.TrimSpace(c.JWT.Secret) == "" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.Engine.LedgerMaxRetries < 1 {
		return fmt.Errorf("LEDGER_MAX_RETRIES must be at least 1")
	}
	for name, v := range map[string]decimal.Decimal{
		"STANDARD_HOURS_PER_DAY": c.Engine.Attendance.StandardHoursPerDay,
		"ABSENT_RATE_PER_DAY":    c.Engine.Rates.AbsentRatePerDay,
		"LATE_RATE_PER_INSTANCE": c.Engine.Rates.LateRatePerInstance,
		"HOURLY_RATE":            c.Engine.Rates.HourlyRate,
		"OVERTIME_MULTIPLIER":    c.Engine.Rates.OvertimeMultiplier,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

// getEnvClock parses a 24h "15:04" clock time into an offset from midnight.
func getEnvClock(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// getEnvWeekend parses two comma-separated weekday names, e.g. "friday,saturday".
func getEnvWeekend(key string, fallback generic.Weekend) (generic.Weekend, error) {
	parts := getEnvSlice(key)
	if parts == nil {
		return fallback, nil
	}
	if len(parts) != 2 {
		return generic.Weekend{}, fmt.Errorf("invalid %s: want two weekdays, got %d", key, len(parts))
	}
	var w generic.Weekend
	for i, p := range parts {
		day, ok := weekdays[strings.ToLower(p)]
		if !ok {
			return generic.Weekend{}, fmt.Errorf("invalid %s: unknown weekday %q", key, p)
		}
		w[i] = day
	}
	return w, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return level, nil
}
