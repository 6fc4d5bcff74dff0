package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/session"
	"warden/cmd/security/password"
)

// Sessions is the subset of session.Service the handlers use.
type Sessions interface {
	Register(ctx context.Context, in session.RegisterInput) (session.TokenPair, error)
	Authenticate(ctx context.Context, email, password string) (session.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (session.TokenPair, error)
	Logout(ctx context.Context, accessToken string, scope *session.Scope) error
	Authorize(ctx context.Context, accessToken string) (session.Principal, error)
	ChangePassword(ctx context.Context, p session.Principal, current, next, confirmation string) error
}

// Handler wires HTTP auth endpoints to the session service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions Sessions
	validate *validator.Validate
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, sessions Sessions, cfg Config) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		validate: newValidator(),
	}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/v1/auth/register", h.handleRegister)
	mux.HandleFunc("/api/v1/auth/login", h.handleLogin)
	mux.HandleFunc("/api/v1/auth/refresh-token", h.handleRefresh)
	mux.HandleFunc("/api/v1/auth/logout", h.handleLogout)
	mux.Handle("/api/v1/users/change-password", h.RequireAuth(http.HandlerFunc(h.handleChangePassword)))
	mux.Handle("/api/v1/management", h.RequireAuth(h.RequireRole(demoController("management"), identity.RoleAdmin, identity.RoleManager)))
	mux.Handle("/api/v1/admin", h.RequireAuth(h.RequireRole(demoController("admin"), identity.RoleAdmin)))
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req registerRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	role, err := identity.ParseRole(req.Role)
	if err != nil {
		writeError(w, codeValidationFailed, InvalidParameter{Name: "role", Message: "unknown role"})
		return
	}

	pair, err := h.sessions.Register(r.Context(), session.RegisterInput{
		Firstname: req.Firstname,
		Lastname:  req.Lastname,
		Email:     req.Email,
		Password:  req.Password,
		Role:      role,
	})
	if err != nil {
		h.fail(w, r, "auth.register.fail", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAuthenticationResponse(pair))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req loginRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	pair, err := h.sessions.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, "auth.login.fail", err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthenticationResponse(pair))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	// The token may come as a query parameter or in a JSON body.
	raw := r.URL.Query().Get("refreshToken")
	if strings.TrimSpace(raw) == "" && r.ContentLength != 0 {
		var req refreshRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil && !errors.Is(err, errEmptyBody) {
			h.writeDecodeError(w, err)
			return
		}
		raw = req.RefreshToken
	}

	pair, err := h.sessions.RefreshToken(r.Context(), raw)
	if err != nil {
		h.fail(w, r, "auth.refresh.fail", err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthenticationResponse(pair))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	raw := bearerToken(r)
	if raw == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ctx := r.Context()
	if err := h.sessions.Logout(ctx, raw, session.ScopeFrom(ctx)); err != nil {
		h.fail(w, r, "auth.logout.fail", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPatch) {
		return
	}

	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, codeUnauthenticated)
		return
	}

	var req changePasswordRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	err := h.sessions.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword, req.ConfirmationPassword)
	if err != nil {
		if password.IsPolicyViolation(err) {
			writeError(w, codeValidationFailed, InvalidParameter{Name: "newPassword", Message: err.Error()})
			return
		}
		h.fail(w, r, "auth.password.change.fail", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// demoController answers any allowed method with "<METHOD>:: <name> controller".
func demoController(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete) {
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(r.Method + ":: " + name + " controller"))
	})
}

// ---- helpers ----

func toAuthenticationResponse(p session.TokenPair) authenticationResponse {
	return authenticationResponse{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, codeMethodNotAllowed)
	return false
}

// decodeValid decodes the body into dst and runs struct validation, writing
// the error response itself when either step fails.
func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, dst); err != nil {
		h.writeDecodeError(w, err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, codeValidationFailed, invalidParameters(err)...)
		return false
	}
	return true
}

func (h *Handler) writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, codeRequestBodyTooLarge)
		return
	}
	writeError(w, codeMalformedBody)
}

// fail writes the mapped error response and logs unexpected failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, event string, err error) {
	c, params, known := classify(err)
	if !known {
		h.log.Error(event, "err", err, "path", r.URL.Path)
	} else if c.Status >= http.StatusInternalServerError {
		h.log.Error(event, "code", c.Code, "err", err)
	} else {
		h.log.Debug(event, "code", c.Code)
	}
	writeError(w, c, params...)
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
