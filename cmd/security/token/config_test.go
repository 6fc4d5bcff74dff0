package token

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	t.Setenv("WARDEN_JWT_SECRET", "")
	if _, err := LoadConfigFromEnv(DefaultConfig()); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDuration(t *testing.T) {
	t.Setenv("WARDEN_JWT_SECRET", string(testSecret))
	t.Setenv("WARDEN_ACCESS_TTL", "soon")
	if _, err := LoadConfigFromEnv(DefaultConfig()); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for bad duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_AccessMustBeShorterThanRefresh(t *testing.T) {
	t.Setenv("WARDEN_JWT_SECRET", string(testSecret))
	t.Setenv("WARDEN_ACCESS_TTL", "48h")
	t.Setenv("WARDEN_REFRESH_TTL", "24h")
	if _, err := LoadConfigFromEnv(DefaultConfig()); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for ttl order, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("WARDEN_JWT_SECRET", string(testSecret))
	t.Setenv("WARDEN_JWT_ISSUER", "warden-test")
	t.Setenv("WARDEN_ACCESS_TTL", "10m")
	t.Setenv("WARDEN_REFRESH_TTL", "72h")
	t.Setenv("WARDEN_JWT_LEEWAY", "5s")

	cfg, err := LoadConfigFromEnv(DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Issuer != "warden-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTTL != 10*time.Minute || cfg.RefreshTTL != 72*time.Hour {
		t.Fatalf("ttl mismatch: %v / %v", cfg.AccessTTL, cfg.RefreshTTL)
	}
	if cfg.Leeway != 5*time.Second {
		t.Fatalf("leeway mismatch: %v", cfg.Leeway)
	}
}

func TestStorageKey(t *testing.T) {
	const secret = "a-storage-key-that-is-long-enough!!"

	t.Setenv(HMACEnvKey, "")
	plain := StorageKey("abc")
	if plain != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("expected sha256 key, got %q", plain)
	}
	if HMACEnabled() {
		t.Fatalf("expected HMACEnabled=false")
	}

	t.Setenv(HMACEnvKey, "  "+secret+"  ")
	keyed := StorageKey("abc")
	if keyed == plain || len(keyed) != 64 {
		t.Fatalf("expected distinct hmac key, got %q", keyed)
	}
	if keyed != storageKey("abc", []byte(secret)) {
		t.Fatalf("expected surrounding whitespace in the secret to be ignored")
	}
	if StorageKey("abd") == keyed {
		t.Fatalf("distinct tokens must not share a key")
	}
	if !HMACEnabled() {
		t.Fatalf("expected HMACEnabled")
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}
	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}
}
