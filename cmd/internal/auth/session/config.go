package session

import (
	"os"
	"strings"
	"time"
)

// StoreKind selects the credential store backend.
type StoreKind string

const (
	StoreAuto     StoreKind = "auto"
	StoreMemory   StoreKind = "memory"
	StorePostgres StoreKind = "postgres"
	StoreRedis    StoreKind = "redis"
)

// StoreConfig configures credential store selection and the Redis backend.
type StoreConfig struct {
	Kind StoreKind

	// RedisKeyPrefix namespaces every key written by RedisStore.
	RedisKeyPrefix string

	// RedisLockTTL bounds how long a per-user lease survives a crashed holder.
	RedisLockTTL time.Duration

	// LockWait bounds how long WithinUser waits for a busy user when the
	// caller's context has no earlier deadline.
	LockWait time.Duration
}

// DefaultStoreConfig returns the defaults used when nothing is configured.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Kind:           StoreAuto,
		RedisKeyPrefix: "warden:",
		RedisLockTTL:   5 * time.Second,
		LockWait:       5 * time.Second,
	}
}

// LoadStoreConfigFromEnv reads:
//   - WARDEN_CREDENTIAL_STORE (auto|memory|postgres|redis)
//   - WARDEN_REDIS_KEY_PREFIX
//   - WARDEN_REDIS_LOCK_TTL
//   - WARDEN_CREDENTIAL_LOCK_WAIT
//
// Returns ErrConfig if configuration is invalid.
func LoadStoreConfigFromEnv(base StoreConfig) (StoreConfig, error) {
	cfg := base

	if v := strings.TrimSpace(os.Getenv("WARDEN_CREDENTIAL_STORE")); v != "" {
		k, err := ParseStoreKind(v)
		if err != nil {
			return StoreConfig{}, err
		}
		cfg.Kind = k
	}

	if v, ok := os.LookupEnv("WARDEN_REDIS_KEY_PREFIX"); ok {
		cfg.RedisKeyPrefix = strings.TrimSpace(v)
	}

	if v := strings.TrimSpace(os.Getenv("WARDEN_REDIS_LOCK_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 100*time.Millisecond {
			return StoreConfig{}, ErrConfig
		}
		cfg.RedisLockTTL = d
	}

	if v := strings.TrimSpace(os.Getenv("WARDEN_CREDENTIAL_LOCK_WAIT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return StoreConfig{}, ErrConfig
		}
		cfg.LockWait = d
	}

	return cfg, nil
}

// ParseStoreKind accepts a backend name in any case.
func ParseStoreKind(s string) (StoreKind, error) {
	switch k := StoreKind(strings.ToLower(strings.TrimSpace(s))); k {
	case StoreAuto, StoreMemory, StorePostgres, StoreRedis:
		return k, nil
	case "":
		return StoreAuto, nil
	default:
		return "", ErrConfig
	}
}
