package authapi

import (
	"os"
	"strconv"
	"strings"
)

// Config controls auth API request handling.
type Config struct {
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{MaxBodyBytes: 1 << 20} // 1 MiB
}

// LoadConfigFromEnv reads WARDEN_AUTH_MAX_BODY_BYTES. Invalid values fall back to the default.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.MaxBodyBytes = envInt64("WARDEN_AUTH_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	return cfg
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
