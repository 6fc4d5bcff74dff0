package identity

import (
	"context"
	"strings"
	"time"
)

// Role is the coarse authorization level of a user.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleUser    Role = "USER"
)

// Roles lists every known role.
func Roles() []Role { return []Role{RoleAdmin, RoleManager, RoleUser} }

// ParseRole accepts a role name in any case. An empty string yields RoleUser.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return RoleUser, nil
	case string(RoleAdmin):
		return RoleAdmin, nil
	case string(RoleManager):
		return RoleManager, nil
	case string(RoleUser):
		return RoleUser, nil
	default:
		return "", invalid("identity.ParseRole", "unknown role")
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUser:
		return true
	default:
		return false
	}
}

// User is the security principal resolved by email.
type User struct {
	ID           string
	Firstname    string
	Lastname     string
	Email        string
	PasswordHash string
	Role         Role

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAnyRole reports whether u holds one of roles.
func (u User) HasAnyRole(roles ...Role) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// Directory resolves and persists users.
//
// FindByEmail and FindByID return NotFoundError when nothing matches.
// Save inserts a user with an empty ID (assigning a ULID) and otherwise
// replaces the stored row with the same ID; an email already held by another
// user yields ConflictError{Field: "email"}.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	Save(ctx context.Context, u User) (User, error)
}

// prepareSave validates u and fills ID and timestamps.
func prepareSave(op string, u User, now time.Time) (User, error) {
	u.Email = NormalizeEmail(u.Email)
	u.Firstname = NormalizeName(u.Firstname)
	u.Lastname = NormalizeName(u.Lastname)

	if u.Email == "" {
		return User{}, invalid(op, "email is required")
	}
	if strings.TrimSpace(u.PasswordHash) == "" {
		return User{}, invalid(op, "password hash is required")
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if !u.Role.Valid() {
		return User{}, invalid(op, "unknown role")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}
	if u.ID == "" {
		id, err := NewULID(now)
		if err != nil {
			return User{}, err
		}
		u.ID = id
		u.CreatedAt = now
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return u, nil
}
