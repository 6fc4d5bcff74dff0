package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes access from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// maxTokenLen bounds parsing work on untrusted input.
const maxTokenLen = 4096

// Claims is the JWT payload issued by Codec.
type Claims struct {
	Kind Kind `json:"typ"`
	jwt.RegisteredClaims
}

// Codec issues and verifies HS256 JWTs.
// It is safe for concurrent use.
type Codec struct {
	cfg    Config
	now    func() time.Time
	parser *jwt.Parser
}

// CodecOption configures optional Codec behavior.
type CodecOption func(*Codec)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config, opts ...CodecOption) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Codec{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	return c, nil
}

// TTL returns the lifetime used for kind.
func (c *Codec) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return c.cfg.RefreshTTL
	}
	return c.cfg.AccessTTL
}

// Issue mints a token of kind for subject.
func (c *Codec) Issue(subject string, kind Kind) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("token: issue: empty subject")
	}
	if kind != KindAccess && kind != KindRefresh {
		return "", fmt.Errorf("token: issue: unknown kind %q", kind)
	}

	now := c.now().UTC()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL(kind))),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, issuer and expiry and returns the claims.
// Every failure wraps ErrInvalidToken.
func (c *Codec) Parse(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxTokenLen {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	_, err := c.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.cfg.Secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// ExtractSubject returns the subject of a verified token.
func (c *Codec) ExtractSubject(raw string) (string, error) {
	claims, err := c.Parse(raw)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Verify reports whether raw is a valid, unexpired token of kind issued to subject.
func (c *Codec) Verify(raw, subject string, kind Kind) bool {
	claims, err := c.Parse(raw)
	if err != nil {
		return false
	}
	return claims.Subject == subject && claims.Kind == kind
}

// IsExpired reports whether err was caused by an expired token.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
