package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryDirectory is a process-local Directory used when no database is configured.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string

	now func() time.Time
}

// NewMemoryDirectory returns an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// FindByEmail implements Directory.
func (d *MemoryDirectory) FindByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.MemoryDirectory.FindByEmail"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return d.byID[id], nil
}

// FindByID implements Directory.
func (d *MemoryDirectory) FindByID(ctx context.Context, id string) (User, error) {
	const op = "identity.MemoryDirectory.FindByID"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, nil
}

// Save implements Directory.
func (d *MemoryDirectory) Save(ctx context.Context, u User) (User, error) {
	const op = "identity.MemoryDirectory.Save"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	isNew := u.ID == ""
	if !isNew {
		prev, ok := d.byID[u.ID]
		if !ok {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		u.CreatedAt = prev.CreatedAt
	}

	u, err := prepareSave(op, u, d.now())
	if err != nil {
		return User{}, err
	}

	if owner, ok := d.byEmail[u.Email]; ok && owner != u.ID {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	if prev, ok := d.byID[u.ID]; ok && prev.Email != u.Email {
		delete(d.byEmail, prev.Email)
	}
	d.byID[u.ID] = u
	d.byEmail[u.Email] = u.ID
	return u, nil
}
