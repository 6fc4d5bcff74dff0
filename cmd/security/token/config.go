package token

import (
	"os"
	"strings"
	"time"
)

// MinSecretBytes is the smallest accepted HS256 signing secret.
const MinSecretBytes = 32

// Config controls token signing and lifetimes.
type Config struct {
	// Secret signs and verifies HS256 tokens.
	Secret []byte

	// Issuer is written to and required in the "iss" claim.
	Issuer string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Leeway tolerates clock skew on exp/iat checks.
	Leeway time.Duration
}

// DefaultConfig returns lifetimes suitable for development. Secret is empty.
func DefaultConfig() Config {
	return Config{
		Issuer:     "warden",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Leeway:     30 * time.Second,
	}
}

// Validate reports ErrConfig when cfg cannot be used to sign tokens.
func (c Config) Validate() error {
	switch {
	case len(c.Secret) < MinSecretBytes:
		return ErrConfig
	case strings.TrimSpace(c.Issuer) == "":
		return ErrConfig
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0:
		return ErrConfig
	case c.AccessTTL >= c.RefreshTTL:
		return ErrConfig
	case c.Leeway < 0 || c.Leeway > 5*time.Minute:
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv overlays env vars on base and validates the result.
//
// Required: WARDEN_JWT_SECRET (unless base already carries a secret).
// Optional: WARDEN_JWT_ISSUER, WARDEN_ACCESS_TTL, WARDEN_REFRESH_TTL, WARDEN_JWT_LEEWAY.
func LoadConfigFromEnv(base Config) (Config, error) {
	cfg := base

	if v := strings.TrimSpace(os.Getenv("WARDEN_JWT_SECRET")); v != "" {
		cfg.Secret = []byte(v)
	}
	if v := strings.TrimSpace(os.Getenv("WARDEN_JWT_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"WARDEN_ACCESS_TTL", &cfg.AccessTTL},
		{"WARDEN_REFRESH_TTL", &cfg.RefreshTTL},
		{"WARDEN_JWT_LEEWAY", &cfg.Leeway},
	} {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
