// Package password hashes and verifies user passwords with Argon2id.
//
// Hashes use the PHC string format ($argon2id$v=19$m=..,t=..,p=..$salt$key).
// Verify treats the encoded hash as untrusted input: it is strictly decoded
// and refused when its cost parameters exceed the configured bounds.
//
// Hasher is the small surface consumed by the session service: Hash for new
// passwords (policy enforced) and Matches for login checks (policy not
// enforced, so older hashes keep working after a policy change).
package password
