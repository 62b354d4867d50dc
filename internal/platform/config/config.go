package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config captures everything the server needs from the environment so main
// stays lean. Zero values are never used directly; FromEnv fills defaults.
type Config struct {
	Addr     string
	LogLevel slog.Level

	// Per-collector bounds.
	RegistrationTimeout time.Duration
	CertificateTimeout  time.Duration
	NavigateTimeout     time.Duration

	// Certificate log scanning limits.
	CertificateMaxEntries int
	CertificateRetryWait  time.Duration
	CertificateRatePerSec float64

	// Header harvest bounds.
	ResourceFetchTimeout time.Duration
	HarvestDeadline      time.Duration
	FetchParallelism     int

	// Headless browser pool.
	BrowserSessions int
	ChromePath      string
	UserAgent       string

	// Orchestrator master deadline across all collectors.
	MasterDeadline time.Duration

	// Transport-layer response cache. Empty RedisURL means in-memory.
	CacheTTL time.Duration
	RedisURL string
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:     stringFromEnv("URLDATER_ADDR", ":8080"),
		LogLevel: levelFromEnv("URLDATER_LOG_LEVEL"),

		RegistrationTimeout: durationFromEnv("URLDATER_REGISTRATION_TIMEOUT", 10*time.Second),
		CertificateTimeout:  durationFromEnv("URLDATER_CERTIFICATE_TIMEOUT", 20*time.Second),
		NavigateTimeout:     durationFromEnv("URLDATER_NAVIGATE_TIMEOUT", 15*time.Second),

		CertificateMaxEntries: intFromEnv("URLDATER_CERTIFICATE_MAX_ENTRIES", 5000),
		CertificateRetryWait:  durationFromEnv("URLDATER_CERTIFICATE_RETRY_WAIT", 2*time.Second),
		CertificateRatePerSec: floatFromEnv("URLDATER_CERTIFICATE_RATE", 1.0),

		ResourceFetchTimeout: durationFromEnv("URLDATER_RESOURCE_FETCH_TIMEOUT", 10*time.Second),
		HarvestDeadline:      durationFromEnv("URLDATER_HARVEST_DEADLINE", 30*time.Second),
		FetchParallelism:     intFromEnv("URLDATER_FETCH_PARALLELISM", 8),

		BrowserSessions: intFromEnv("URLDATER_BROWSER_SESSIONS", 2),
		ChromePath:      os.Getenv("URLDATER_CHROME_PATH"),
		UserAgent:       stringFromEnv("URLDATER_USER_AGENT", defaultUserAgent),

		MasterDeadline: durationFromEnv("URLDATER_MASTER_DEADLINE", 60*time.Second),

		CacheTTL: durationFromEnv("URLDATER_CACHE_TTL", 5*time.Minute),
		RedisURL: os.Getenv("URLDATER_REDIS_URL"),
	}
}

func stringFromEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func intFromEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func floatFromEnv(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func levelFromEnv(key string) slog.Level {
	switch os.Getenv(key) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
