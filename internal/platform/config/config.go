package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Runtime holds the process settings that come only from the environment.
type Runtime struct {
	LogLevel    string // LOG_LEVEL, "debug" when Settings.Debug is on
	LogFormat   string // LOG_FORMAT, "text" or "json"
	MetricsAddr string // METRICS_ADDR; empty disables the metrics listener
}

// LoadRuntime reads LOG_LEVEL, LOG_FORMAT and METRICS_ADDR. Debug logging
// from s wins over LOG_LEVEL.
func LoadRuntime(s Settings) Runtime {
	r := Runtime{
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		LogFormat:   GetEnv("LOG_FORMAT", "text"),
		MetricsAddr: GetEnv("METRICS_ADDR", ""),
	}
	if s.Debug {
		r.LogLevel = "debug"
	}
	return r
}

// Load applies a .env file (default ".env" in the working directory) to the
// environment. The error for a missing file can be ignored.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the variable named key, or fallback when it is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt is GetEnv for integers; unparsable values yield fallback.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool is GetEnv for booleans; unparsable values yield fallback.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}
