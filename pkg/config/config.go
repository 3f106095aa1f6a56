package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// All environment variables are read here and nowhere else.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Screening defaults
	Screening ScreeningConfig

	// Cache
	Cache CacheConfig

	// Database (optional run history)
	Database DatabaseConfig

	// Scheduler
	Schedule ScheduleConfig

	// Export
	ExportDir string

	// Logging
	LogLevel  string
	LogFormat string
}

// ScreeningConfig holds default screening parameters.
type ScreeningConfig struct {
	Sources            []string
	CSVPath            string
	ExcludeSymbols     []string
	Variant            string
	Period             string
	Threshold          float64
	MaxWorkers         int
	ForceRefresh       bool
	MinRevenue         float64
	MarginPositiveOnly bool
}

// CacheConfig holds cache store configuration.
type CacheConfig struct {
	Path     string
	TTLHours int
}

// DatabaseConfig holds PostgreSQL configuration for run history.
// Disabled when URL is empty.
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

// ScheduleConfig holds the periodic screening schedule.
type ScheduleConfig struct {
	Enabled bool
	Cron    string
}

// Load reads configuration from environment variables.
// This function is the only caller of os.Getenv().
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8090"),
		Env:  getEnv("ENV", "development"),

		Screening: ScreeningConfig{
			Sources:            getEnvAsList("SOURCES", []string{"sp500", "sp400", "nasdaq", "other"}),
			CSVPath:            getEnv("CSV_PATH", ""),
			ExcludeSymbols:     getEnvAsList("EXCLUDE_SYMBOLS", nil),
			Variant:            getEnv("R40_VARIANT", "op"),
			Period:             getEnv("R40_PERIOD", "ttm"),
			Threshold:          getEnvAsFloat("R40_THRESHOLD", 40.0),
			MaxWorkers:         getEnvAsInt("MAX_WORKERS", 12),
			ForceRefresh:       getEnvAsBool("FORCE_REFRESH", false),
			MinRevenue:         getEnvAsFloat("MIN_REVENUE", 0),
			MarginPositiveOnly: getEnvAsBool("MARGIN_POSITIVE_ONLY", false),
		},

		Cache: CacheConfig{
			Path:     getEnv("CACHE_PATH", "data/cache"),
			TTLHours: getEnvAsInt("CACHE_TTL_HOURS", 24),
		},

		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 2),
		},

		Schedule: ScheduleConfig{
			Enabled: getEnvAsBool("SCHEDULE_ENABLED", false),
			Cron:    getEnv("SCHEDULE_CRON", "0 0 18 * * 1-5"),
		},

		ExportDir: getEnv("EXPORT_DIR", "data/exports"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if configuration values are usable
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	switch c.Screening.Variant {
	case "op", "ebitda", "both":
	default:
		return fmt.Errorf("R40_VARIANT must be one of: op, ebitda, both")
	}

	switch c.Screening.Period {
	case "annual", "ttm":
	default:
		return fmt.Errorf("R40_PERIOD must be one of: annual, ttm")
	}

	if c.Cache.Path == "" {
		return fmt.Errorf("CACHE_PATH must not be empty")
	}

	if c.Cache.TTLHours < 0 {
		return fmt.Errorf("CACHE_TTL_HOURS must not be negative")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}

	if len(values) == 0 {
		return defaultValue
	}

	return values
}
