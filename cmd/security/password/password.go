package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// phcVersion is argon2.Version (0x13) as written in PHC strings.
const phcVersion = 19

var phcB64 = base64.RawStdEncoding

// Hash validates password against the policy and returns its PHC encoding:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<key_b64>
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}

	p := c.Params
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	return encodePHC(p, salt, key), nil
}

// Verify reports whether password matches encodedHash.
// A mismatch is (false, nil); a malformed or out-of-bounds hash is (false, ErrInvalidHash).
func (c Config) Verify(encodedHash, password string) (bool, error) {
	got, salt, want, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}

	// The encoded parameters are attacker-influenced when hashes leak or are
	// tampered with; refuse anything far above the configured cost.
	if !withinBounds(got, c.Params) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		got.Iterations,
		got.MemoryKiB,
		got.Parallelism,
		uint32(len(want)), // #nosec G115 -- bounded by withinBounds.
	)

	return subtle.ConstantTimeCompare(key, want) == 1, nil
}

func encodePHC(p Argon2idParams, salt, key []byte) string {
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcVersion,
		p.MemoryKiB,
		p.Iterations,
		p.Parallelism,
		phcB64.EncodeToString(salt),
		phcB64.EncodeToString(key),
	)
}

// withinBounds accepts hashes made with older, cheaper settings and rejects
// anything more than twice the configured cost.
func withinBounds(got, limits Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limits.MemoryKiB*2:
		return false
	case got.Iterations > limits.Iterations*2:
		return false
	case got.Parallelism > limits.Parallelism*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

func decodePHC(encoded string) (Argon2idParams, []byte, []byte, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if fields[2] != fmt.Sprintf("v=%d", phcVersion) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, iter, par uint32
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &mem, &iter, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || iter == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	salt, err := phcB64.DecodeString(fields[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := phcB64.DecodeString(fields[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  iter,
		Parallelism: uint8(par),       // #nosec G115 -- par <= 255 checked above.
		SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by input length.
		KeyLength:   uint32(len(key)),  // #nosec G115 -- bounded by input length.
	}, salt, key, nil
}
