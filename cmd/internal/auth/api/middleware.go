package authapi

import (
	"context"
	"errors"
	"net/http"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/session"
)

// RequireAuth resolves the bearer token to a principal and stores a
// session.Scope in the request context. Requests without a usable token get
// a 401 E0007 response.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, codeUnauthenticated)
			return
		}
		p, err := h.sessions.Authorize(r.Context(), raw)
		if err != nil {
			if errors.Is(err, session.ErrUnauthenticated) {
				writeError(w, codeUnauthenticated)
				return
			}
			h.fail(w, r, "auth.authorize.fail", err)
			return
		}
		ctx := session.WithScope(r.Context(), session.NewScope(p))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects principals holding none of roles with 403 E0005.
// It must run inside RequireAuth.
func (h *Handler) RequireRole(next http.Handler, roles ...identity.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			writeError(w, codeUnauthenticated)
			return
		}
		if err := p.Require(roles...); err != nil {
			h.log.Info("auth.access.denied", "user_id", p.UserID, "role", string(p.Role), "path", r.URL.Path)
			writeError(w, codeAccessDenied)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PrincipalFrom returns the principal bound by RequireAuth, if still bound.
func PrincipalFrom(ctx context.Context) (session.Principal, bool) {
	return session.ScopeFrom(ctx).Principal()
}
