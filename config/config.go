package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the analytics API.
type Config struct {
	// Server settings
	Port            string
	Environment     string
	ShutdownTimeout time.Duration

	// Datastores
	DatabaseURL    string
	ClickHouseHost string
	ClickHousePort int
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string
	RedisAddr      string
	RedisPassword  string

	// Session identity
	SessionCookieName string
	SessionMaxAge     time.Duration
	AnalyticsSalt     string

	// Ingestion limits
	AllowedOrigins      []string
	MaxEventsPerRequest int
	MaxEventBytes       int
	ReadProgressSample  float64
	RateLimitWindow     time.Duration
	RateLimitMax        int

	// Rollups
	RollupLookbackDays int
	RollupSecret       string

	// Admin auth
	JWTSecret string
}

// Load reads configuration from environment variables, applying defaults
// suitable for local development. Secrets left empty are handled by the
// consuming component (analytics degrades, admin auth refuses to start in
// production via main).
func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", "5s"),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ClickHouseHost: getEnv("CLICKHOUSE_HOST", "localhost"),
		ClickHousePort: getEnvAsInt("CLICKHOUSE_NATIVE_PORT", 9000),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB_NAME", "inkwell"),
		ClickHouseUser: getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASSWORD", ""),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),

		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "bsid"),
		SessionMaxAge:     getEnvAsDuration("SESSION_MAX_AGE", "4320h"), // 180 days
		AnalyticsSalt:     getEnv("ANALYTICS_SALT", ""),

		AllowedOrigins:      getEnvAsList("ALLOWED_ORIGINS"),
		MaxEventsPerRequest: getEnvAsInt("MAX_EVENTS_PER_REQUEST", 25),
		MaxEventBytes:       getEnvAsInt("MAX_EVENT_BYTES", 2048),
		ReadProgressSample:  getEnvAsFloat("READ_PROGRESS_SAMPLE_RATE", 0.25),
		RateLimitWindow:     getEnvAsDuration("RATE_LIMIT_WINDOW", "60s"),
		RateLimitMax:        getEnvAsInt("RATE_LIMIT_MAX_EVENTS", 120),

		RollupLookbackDays: getEnvAsInt("ROLLUP_LOOKBACK_DAYS", 3),
		RollupSecret:       getEnv("ROLLUP_SECRET", ""),

		JWTSecret: getEnv("JWT_SECRET_KEY", ""),
	}
}

// IsProduction reports whether the process runs with production hardening
// (secure cookies, mandatory secrets).
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if duration, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
