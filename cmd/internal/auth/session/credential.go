package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"warden/cmd/identity"
)

// CredentialKind is the token type recorded with a credential.
type CredentialKind string

// KindBearer is the only credential kind Warden issues.
const KindBearer CredentialKind = "BEARER"

// Credential is an issued access token and its revocation state.
type Credential struct {
	Value     string
	Kind      CredentialKind
	UserID    string
	Expired   bool
	Revoked   bool
	CreatedAt time.Time
}

// Valid reports whether the credential may still be used.
func (c Credential) Valid() bool { return !c.Expired && !c.Revoked }

// invalidate marks c as both expired and revoked.
func (c *Credential) invalidate() {
	c.Expired = true
	c.Revoked = true
}

func validateCredential(c Credential) error {
	if strings.TrimSpace(c.Value) == "" {
		return errors.New("session: credential value is required")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("session: credential user id is required")
	}
	if c.Kind != "" && c.Kind != KindBearer {
		return fmt.Errorf("session: unsupported credential kind %q", c.Kind)
	}
	return nil
}

// normalizeCredential fills defaults before persisting.
func normalizeCredential(c Credential, now time.Time) Credential {
	if c.Kind == "" {
		c.Kind = KindBearer
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c
}

// checkOwner rejects writes for a user other than the one whose lock is held.
func checkOwner(lockedUser string, c Credential) error {
	if c.UserID != lockedUser {
		return fmt.Errorf("session: credential of user %q written under lock of %q", c.UserID, lockedUser)
	}
	return nil
}

// TokenPair is returned to clients after register, login and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Principal is the authenticated caller resolved from an access token.
type Principal struct {
	UserID     string
	Email      string
	Role       identity.Role
	Credential string
}

// Require returns ErrAccessDenied unless p holds one of roles.
func (p Principal) Require(roles ...identity.Role) error {
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return ErrAccessDenied
}
