// Package identity owns Warden's user records: the User type, roles, and the
// Directory persistence boundary (in-memory and PostgreSQL implementations).
//
// Password hashing is not done here; callers store whatever digest they were
// given in User.PasswordHash.
package identity
