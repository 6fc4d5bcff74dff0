// Package token mints and verifies the signed bearer tokens handed to clients
// and derives storage keys from raw token values.
//
// Access and refresh tokens share one structure (HS256 JWT with sub, iss,
// iat, exp, jti and a "typ" claim); they differ only in TTL class and typ.
//
// Environment:
//   - WARDEN_JWT_SECRET (required, >= 32 bytes)
//   - WARDEN_JWT_ISSUER, WARDEN_ACCESS_TTL, WARDEN_REFRESH_TTL, WARDEN_JWT_LEEWAY
//   - WARDEN_TOKEN_HMAC_KEY: when set, storage keys are HMAC-SHA256 instead of SHA-256.
package token
