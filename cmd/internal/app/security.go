package app

import (
	"errors"

	"warden/cmd/security/token"
)

// ValidateSecurityConfig enforces startup security policy.
//
// With RequireTokenHMAC set, token storage keys must be HMAC digests, so
// WARDEN_TOKEN_HMAC_KEY has to be present and at least 32 bytes long.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Length is measured in bytes; the key is used as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: WARDEN_REQUIRE_TOKEN_HMAC=true but WARDEN_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: WARDEN_REQUIRE_TOKEN_HMAC=true but WARDEN_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: WARDEN_REQUIRE_TOKEN_HMAC=true but token storage keys are not in HMAC mode")
	}
	return nil
}
