package session

import (
	"context"
	"slices"
	"strings"
)

// Tx is the credential view available inside Store.WithinUser and, without
// serialization, on the Store itself.
type Tx interface {
	// Put inserts or overwrites a credential by value.
	Put(ctx context.Context, c Credential) error

	// FindByValue returns ErrCredentialNotFound when nothing matches.
	FindByValue(ctx context.Context, value string) (Credential, error)

	// FindAllValid returns the user's valid credentials, oldest first.
	// An empty result is not an error.
	FindAllValid(ctx context.Context, userID string) ([]Credential, error)

	// SaveAll persists every credential or none of them.
	SaveAll(ctx context.Context, cs []Credential) error
}

// Store persists issued credentials.
//
// WithinUser runs fn with exclusive access to userID's credential set. Writes
// made through the Tx become visible together when fn returns nil and are
// discarded when it returns an error. Different users never contend.
type Store interface {
	Tx
	WithinUser(ctx context.Context, userID string, fn func(tx Tx) error) error
}

// sortCredentials orders by creation time, then value.
func sortCredentials(cs []Credential) {
	slices.SortFunc(cs, func(a, b Credential) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Value, b.Value)
	})
}
