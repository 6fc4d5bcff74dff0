package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

// HMACEnvKey is the env var holding the storage-key HMAC secret.
// #nosec G101 -- env var name, not a credential.
const HMACEnvKey = "WARDEN_TOKEN_HMAC_KEY"

// StorageKey returns the 64-char hex key under which a raw token value is
// indexed by stores that must not use the token itself as a key.
// With WARDEN_TOKEN_HMAC_KEY set it is HMAC-SHA256 under that secret,
// otherwise a plain SHA-256 digest.
func StorageKey(raw string) string {
	return storageKey(raw, hmacSecret())
}

func storageKey(raw string, secret []byte) string {
	if len(secret) == 0 {
		sum := sha256.Sum256([]byte(raw))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, secret)
	_, _ = m.Write([]byte(raw))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured storage-key secret, enforcing
// minBytes when > 0.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	secret := hmacSecret()
	switch {
	case len(secret) == 0:
		return nil, ErrHMACKeyMissing
	case minBytes > 0 && len(secret) < minBytes:
		return nil, ErrHMACKeyTooShort
	}
	return secret, nil
}

// HMACEnabled reports whether storage keys are keyed. Length is not checked.
func HMACEnabled() bool {
	return len(hmacSecret()) > 0
}

func hmacSecret() []byte {
	if v := strings.TrimSpace(os.Getenv(HMACEnvKey)); v != "" {
		return []byte(v)
	}
	return nil
}
