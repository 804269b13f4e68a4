package app

import (
	"os"
	"strconv"
	"time"
)

// Config holds everything both binaries read from the environment.
type Config struct {
	// Engine connection (client side)
	EngineURL string

	// HTTP listen address (simulator side)
	HTTPAddr string

	// Preselected interview language; empty means ask interactively.
	Language string

	// Retry behavior for failed submissions
	RetryMax   int
	RetryDelay time.Duration

	// Error monitoring
	SentryDSN string
}

// LoadConfigFromEnv reads configuration with local-dev defaults.
func LoadConfigFromEnv() Config {
	return Config{
		EngineURL:  getenv("ENGINE_URL", "http://127.0.0.1:8000"),
		HTTPAddr:   getenv("HTTP_ADDR", ":8000"),
		Language:   getenv("LANGUAGE", ""),
		RetryMax:   getenvInt("RETRY_MAX", 3, 1, 10),
		RetryDelay: getenvDuration("RETRY_DELAY", time.Second),
		SentryDSN:  getenv("SENTRY_DSN", ""),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvInt parses an integer env var, clamping it into [min, max].
func getenvInt(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
