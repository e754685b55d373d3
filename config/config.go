// Package config loads sidecar configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Period is one of the closed set of window-counter buckets.
type Period struct {
	Name string
	TTL  time.Duration // 0 means "never expires" (total)
}

// Config holds all sidecar configuration values. Only REDIS_HOST and
// REDIS_PORT are meant to vary per deployment (spec.md §6); everything
// else is compiled-in but still overridable via env for local testing.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration
	Workers         int

	// Redis
	RedisHost string
	RedisPort int

	// Admission limits
	MaxDevices int
	RateLimit  int // tokens per 3h window

	// Tokenizer
	DefaultTokenizer string

	// Docs basic auth
	DocsUsername string
	DocsPassword string

	// Body limits
	MaxBodyBytes int64

	// Logging
	LogLevel string
}

// Windows are the WindowCounter buckets, spec.md §3/§4.4.
var Windows = []Period{
	{Name: "3h", TTL: 3 * time.Hour},
	{Name: "12h", TTL: 12 * time.Hour},
	{Name: "24h", TTL: 24 * time.Hour},
	{Name: "1w", TTL: 7 * 24 * time.Hour},
}

// TotalPeriod is the monotone, never-expiring bucket.
const TotalPeriod = "total"

// DeviceTTL is the sliding TTL refreshed on every device-set addition.
const DeviceTTL = 2 * 24 * time.Hour

// Load reads configuration from environment variables and an optional
// .env file, falling back to the compiled-in defaults below.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("AUDITLIMIT_GRACEFUL_TIMEOUT_SEC", 15)

	return &Config{
		Addr:             getEnv("AUDITLIMIT_ADDR", "0.0.0.0:8000"),
		Env:              getEnv("ENV", "development"),
		GracefulTimeout:  time.Duration(gracefulSec) * time.Second,
		Workers:          getEnvInt("AUDITLIMIT_WORKERS", 1),
		RedisHost:        getEnv("REDIS_HOST", "localhost"),
		RedisPort:        getEnvInt("REDIS_PORT", 6379),
		MaxDevices:       getEnvInt("MAX_DEVICES", 3),
		RateLimit:        getEnvInt("RATE_LIMIT", 100000),
		DefaultTokenizer: getEnv("DEFAULT_TOKENIZER", "cl100k_base"),
		DocsUsername:     getEnv("DOCS_USERNAME", "claude-backend"),
		DocsPassword:     getEnv("DOCS_PASSWORD", "20Wd!!!!"),
		MaxBodyBytes:     int64(getEnvInt("AUDITLIMIT_MAX_BODY_BYTES", 1*1024*1024)),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// RedisAddr returns the host:port address go-redis expects.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + strconv.Itoa(c.RedisPort)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
