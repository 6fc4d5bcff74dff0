package password

import (
	"errors"
	"sync"
)

// dummyPassword is only ever hashed to produce a timing decoy.
const dummyPassword = "warden-timing-decoy-password"

// Hasher binds a Config to the Hash/Matches pair used by callers that only
// need to create and check password digests.
type Hasher struct {
	cfg Config

	dummyOnce sync.Once
	dummy     string
}

// NewHasher returns a Hasher for cfg.
func NewHasher(cfg Config) *Hasher {
	return &Hasher{cfg: cfg}
}

// NewHasherFromEnv builds a Hasher from FromEnv.
func NewHasherFromEnv() (*Hasher, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	return NewHasher(cfg), nil
}

// Config returns the effective configuration.
func (h *Hasher) Config() Config { return h.cfg }

// Hash validates plain against the policy and returns its encoded Argon2id digest.
func (h *Hasher) Hash(plain string) (string, error) {
	return h.cfg.Hash(plain)
}

// Matches reports whether plain matches encoded.
// A malformed digest is reported as ErrInvalidHash.
func (h *Hasher) Matches(plain, encoded string) (bool, error) {
	ok, err := h.cfg.Verify(encoded, plain)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// BurnCycles runs one verification against a fixed decoy digest so that a
// lookup miss costs about as much as a password mismatch.
func (h *Hasher) BurnCycles(plain string) {
	h.dummyOnce.Do(func() {
		cfg := h.cfg
		// The decoy must hash even under a policy that would reject it.
		cfg.Policy = Policy{MinLength: 1, MaxLength: 4096}
		enc, err := cfg.Hash(dummyPassword)
		if err == nil {
			h.dummy = enc
		}
	})
	if h.dummy == "" {
		return
	}
	_, _ = h.cfg.Verify(h.dummy, plain)
}

// IsPolicyViolation reports whether err was produced by the password policy.
func IsPolicyViolation(err error) bool {
	return errors.Is(err, ErrPasswordTooShort) ||
		errors.Is(err, ErrPasswordTooLong) ||
		errors.Is(err, ErrWeakPassword)
}
