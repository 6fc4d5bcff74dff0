package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	return cfg
}

func mustCodec(t *testing.T, opts ...CodecOption) *Codec {
	t.Helper()
	c, err := NewCodec(testConfig(), opts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestCodec_IssueAndVerify(t *testing.T) {
	c := mustCodec(t)

	access, err := c.Issue("a@x.com", KindAccess)
	if err != nil {
		t.Fatalf("Issue access: %v", err)
	}
	refresh, err := c.Issue("a@x.com", KindRefresh)
	if err != nil {
		t.Fatalf("Issue refresh: %v", err)
	}
	if access == refresh {
		t.Fatalf("access and refresh tokens must differ")
	}

	if !c.Verify(access, "a@x.com", KindAccess) {
		t.Fatalf("expected access token to verify")
	}
	if !c.Verify(refresh, "a@x.com", KindRefresh) {
		t.Fatalf("expected refresh token to verify")
	}
	if c.Verify(access, "a@x.com", KindRefresh) {
		t.Fatalf("access token must not verify as refresh")
	}
	if c.Verify(refresh, "b@x.com", KindRefresh) {
		t.Fatalf("refresh token must not verify for another subject")
	}

	sub, err := c.ExtractSubject(refresh)
	if err != nil || sub != "a@x.com" {
		t.Fatalf("ExtractSubject=%q,%v", sub, err)
	}
}

func TestCodec_IssueIsUnique(t *testing.T) {
	c := mustCodec(t)

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		tok, err := c.Issue("a@x.com", KindAccess)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token issued")
		}
		seen[tok] = struct{}{}
	}
}

func TestCodec_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := mustCodec(t, WithClock(clock))

	tok, err := c.Issue("a@x.com", KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	now = now.Add(c.TTL(KindAccess) + time.Minute)

	_, err = c.Parse(tok)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if !IsExpired(err) {
		t.Fatalf("expected expiry cause, got %v", err)
	}
	if c.Verify(tok, "a@x.com", KindAccess) {
		t.Fatalf("expired token must not verify")
	}
}

func TestCodec_RejectsForeignAndTampered(t *testing.T) {
	c := mustCodec(t)

	otherCfg := testConfig()
	otherCfg.Secret = []byte(strings.Repeat("z", 40))
	other, err := NewCodec(otherCfg)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	foreign, err := other.Issue("a@x.com", KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := c.Parse(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign token: expected ErrInvalidToken, got %v", err)
	}

	tok, err := c.Issue("a@x.com", KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	sig := strings.LastIndex(tok, ".") + 5
	b := []byte(tok)
	if b[sig] == 'A' {
		b[sig] = 'B'
	} else {
		b[sig] = 'A'
	}
	tampered := string(b)
	if c.Verify(tampered, "a@x.com", KindAccess) {
		t.Fatalf("tampered token must not verify")
	}

	for _, raw := range []string{"", "   ", "not-a-jwt", strings.Repeat("a", maxTokenLen+1)} {
		if _, err := c.ExtractSubject(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("ExtractSubject(%.10q): expected ErrInvalidToken, got %v", raw, err)
		}
	}
}

func TestCodec_RejectsNoneAlgorithm(t *testing.T) {
	c := mustCodec(t)

	claims := Claims{
		Kind: KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "a@x.com",
			Issuer:    "warden",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if c.Verify(unsigned, "a@x.com", KindAccess) {
		t.Fatalf("alg=none token must not verify")
	}
}

func TestCodec_RejectsWrongIssuer(t *testing.T) {
	c := mustCodec(t)

	otherCfg := testConfig()
	otherCfg.Issuer = "someone-else"
	other, err := NewCodec(otherCfg)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	tok, err := other.Issue("a@x.com", KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if c.Verify(tok, "a@x.com", KindAccess) {
		t.Fatalf("token from another issuer must not verify")
	}
}

func TestCodec_IssueValidatesInput(t *testing.T) {
	c := mustCodec(t)

	if _, err := c.Issue("  ", KindAccess); err == nil {
		t.Fatalf("expected error for empty subject")
	}
	if _, err := c.Issue("a@x.com", Kind("id")); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestNewCodec_RejectsShortSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Secret = []byte("short")
	if _, err := NewCodec(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
