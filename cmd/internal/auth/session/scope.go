package session

import (
	"context"
	"sync"
)

// Scope holds the principal authenticated for one request. The auth
// middleware creates it and Logout clears it.
type Scope struct {
	mu        sync.Mutex
	principal *Principal
}

// NewScope returns a scope bound to p.
func NewScope(p Principal) *Scope {
	return &Scope{principal: &p}
}

// Principal returns the bound principal, if any.
func (s *Scope) Principal() (Principal, bool) {
	if s == nil {
		return Principal{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.principal == nil {
		return Principal{}, false
	}
	return *s.principal, true
}

// Clear unbinds the principal. Safe on a nil scope.
func (s *Scope) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.principal = nil
	s.mu.Unlock()
}

type scopeKey struct{}

// WithScope returns a child context carrying s.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope stored in ctx, or nil.
func ScopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}
