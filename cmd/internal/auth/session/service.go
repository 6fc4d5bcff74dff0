package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"warden/cmd/identity"
	"warden/cmd/security/token"
)

// PasswordVerifier hashes and checks passwords.
type PasswordVerifier interface {
	Hash(plain string) (string, error)
	Matches(plain, encoded string) (bool, error)
	// BurnCycles spends roughly one verification worth of CPU.
	BurnCycles(plain string)
}

// TokenCodec mints and checks signed tokens.
type TokenCodec interface {
	Issue(subject string, kind token.Kind) (string, error)
	ExtractSubject(raw string) (string, error)
	Verify(raw, subject string, kind token.Kind) bool
}

// Service orchestrates register, login, refresh, logout and authorization.
type Service struct {
	users     identity.Directory
	store     Store
	passwords PasswordVerifier
	tokens    TokenCodec

	notifier Notifier
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier routes committed revocations to n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics enables lifecycle counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the clock used for credential timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the session service.
func NewService(users identity.Directory, store Store, passwords PasswordVerifier, tokens TokenCodec, opts ...Option) (*Service, error) {
	switch {
	case users == nil:
		return nil, fmt.Errorf("session: nil user directory")
	case store == nil:
		return nil, fmt.Errorf("session: nil credential store")
	case passwords == nil:
		return nil, fmt.Errorf("session: nil password verifier")
	case tokens == nil:
		return nil, fmt.Errorf("session: nil token codec")
	}

	s := &Service{
		users:     users,
		store:     store,
		passwords: passwords,
		tokens:    tokens,
		notifier:  nopNotifier{},
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Firstname string
	Lastname  string
	Email     string
	Password  string
	Role      identity.Role
}

// Register creates a user and issues their first token pair.
func (s *Service) Register(ctx context.Context, in RegisterInput) (TokenPair, error) {
	email := identity.NormalizeEmail(in.Email)

	_, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		s.metrics.authFailure("register", "exists")
		return TokenPair{}, ErrUserAlreadyExists
	case !identity.IsNotFound(err):
		return TokenPair{}, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return TokenPair{}, err
	}

	u, err := s.users.Save(ctx, identity.User{
		Firstname:    in.Firstname,
		Lastname:     in.Lastname,
		Email:        email,
		PasswordHash: hash,
		Role:         in.Role,
	})
	if err != nil {
		if identity.IsConflict(err) {
			s.metrics.authFailure("register", "exists")
			return TokenPair{}, ErrUserAlreadyExists
		}
		return TokenPair{}, err
	}

	pair, err := s.issuePair(ctx, u.ID, "register")
	if err != nil {
		return TokenPair{}, err
	}
	s.log.Info("auth.register.ok", "user_id", u.ID, "role", string(u.Role))
	return pair, nil
}

// Authenticate checks email and password, then issues a fresh token pair and
// supersedes every credential the user held before.
func (s *Service) Authenticate(ctx context.Context, email, password string) (TokenPair, error) {
	email = identity.NormalizeEmail(email)

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			s.passwords.BurnCycles(password)
			s.metrics.authFailure("login", "unknown_email")
			s.log.Info("auth.login.fail", "reason", "unknown_email")
			return TokenPair{}, ErrAuthenticationFailed
		}
		return TokenPair{}, err
	}

	ok, err := s.passwords.Matches(password, u.PasswordHash)
	if err != nil {
		s.log.Error("auth.login.digest_invalid", "user_id", u.ID, "err", err)
	}
	if !ok {
		s.metrics.authFailure("login", "bad_password")
		s.log.Info("auth.login.fail", "reason", "bad_password", "user_id", u.ID)
		return TokenPair{}, ErrAuthenticationFailed
	}

	// Re-resolve for issuance; a miss here is a server-side inconsistency.
	u, err = s.users.FindByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			return TokenPair{}, ErrUserNotFound
		}
		return TokenPair{}, err
	}

	pair, err := s.issuePair(ctx, u.ID, "login")
	if err != nil {
		return TokenPair{}, err
	}
	s.log.Info("auth.login.ok", "user_id", u.ID)
	return pair, nil
}

// RefreshToken mints a new access token from a refresh token. The refresh
// token itself is returned unchanged.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	raw := strings.TrimSpace(refreshToken)
	if raw == "" {
		s.metrics.authFailure("refresh", "blank")
		return TokenPair{}, ErrInvalidToken
	}

	subject, err := s.tokens.ExtractSubject(raw)
	if err != nil || subject == "" {
		s.metrics.authFailure("refresh", "undecodable")
		return TokenPair{}, ErrInvalidToken
	}

	u, err := s.users.FindByID(ctx, subject)
	if err != nil {
		if identity.IsNotFound(err) {
			s.metrics.authFailure("refresh", "unknown_subject")
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}

	if !s.tokens.Verify(raw, u.ID, token.KindRefresh) {
		s.metrics.authFailure("refresh", "unverified")
		return TokenPair{}, ErrInvalidToken
	}

	access, err := s.tokens.Issue(u.ID, token.KindAccess)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.record(ctx, u.ID, access, "refresh"); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: raw}, nil
}

// Logout revokes the credential holding accessToken and clears scope.
// An empty or unknown token is a no-op; repeating a logout is harmless.
func (s *Service) Logout(ctx context.Context, accessToken string, scope *Scope) error {
	raw := strings.TrimSpace(accessToken)
	if raw == "" {
		return nil
	}

	c, err := s.store.FindByValue(ctx, raw)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var wasValid bool
	err = s.store.WithinUser(ctx, c.UserID, func(tx Tx) error {
		cur, err := tx.FindByValue(ctx, raw)
		if err != nil {
			return err
		}
		wasValid = cur.Valid()
		cur.invalidate()
		return tx.Put(ctx, cur)
	})
	if err != nil {
		return err
	}

	scope.Clear()

	if wasValid {
		s.metrics.credentialsRevoked(ReasonLogout, 1)
		s.notifier.CredentialRevoked(Revocation{
			UserID:     c.UserID,
			Credential: raw,
			Reason:     ReasonLogout,
			At:         s.now(),
		})
	}
	s.log.Info("auth.logout", "user_id", c.UserID, "was_valid", wasValid)
	return nil
}

// Authorize resolves the principal behind an access token. The token must
// verify as an access token and still be the user's recorded valid credential.
func (s *Service) Authorize(ctx context.Context, accessToken string) (Principal, error) {
	raw := strings.TrimSpace(accessToken)
	if raw == "" {
		return Principal{}, ErrUnauthenticated
	}

	subject, err := s.tokens.ExtractSubject(raw)
	if err != nil || subject == "" || !s.tokens.Verify(raw, subject, token.KindAccess) {
		return Principal{}, ErrUnauthenticated
	}

	c, err := s.store.FindByValue(ctx, raw)
	if errors.Is(err, ErrCredentialNotFound) {
		return Principal{}, ErrUnauthenticated
	}
	if err != nil {
		return Principal{}, err
	}
	if !c.Valid() || c.UserID != subject {
		return Principal{}, ErrUnauthenticated
	}

	u, err := s.users.FindByID(ctx, subject)
	if err != nil {
		if identity.IsNotFound(err) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, err
	}

	return Principal{UserID: u.ID, Email: u.Email, Role: u.Role, Credential: raw}, nil
}

// ChangePassword replaces the principal's password. Issued credentials stay valid.
func (s *Service) ChangePassword(ctx context.Context, p Principal, current, next, confirmation string) error {
	u, err := s.users.FindByID(ctx, p.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return ErrUserNotFound
		}
		return err
	}

	ok, err := s.passwords.Matches(current, u.PasswordHash)
	if err != nil {
		s.log.Error("auth.password.digest_invalid", "user_id", u.ID, "err", err)
	}
	if !ok {
		return ErrWrongPassword
	}
	if next != confirmation {
		return ErrPasswordMismatch
	}

	hash, err := s.passwords.Hash(next)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	if _, err := s.users.Save(ctx, u); err != nil {
		return err
	}
	s.log.Info("auth.password.changed", "user_id", u.ID)
	return nil
}

// issuePair mints access+refresh for userID and records the access token.
func (s *Service) issuePair(ctx context.Context, userID, op string) (TokenPair, error) {
	access, err := s.tokens.Issue(userID, token.KindAccess)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.tokens.Issue(userID, token.KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.record(ctx, userID, access, op); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// record supersedes the user's valid credentials and stores access as the
// only valid one, atomically under the user's lock.
func (s *Service) record(ctx context.Context, userID, access, op string) error {
	now := s.now()

	var superseded []Credential
	err := s.store.WithinUser(ctx, userID, func(tx Tx) error {
		valid, err := tx.FindAllValid(ctx, userID)
		if err != nil {
			return err
		}
		for i := range valid {
			valid[i].invalidate()
		}
		if len(valid) > 0 {
			if err := tx.SaveAll(ctx, valid); err != nil {
				return err
			}
		}
		superseded = valid

		return tx.Put(ctx, Credential{
			Value:     access,
			Kind:      KindBearer,
			UserID:    userID,
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	s.metrics.credentialIssued(op)
	if len(superseded) > 0 {
		s.metrics.credentialsRevoked(ReasonSuperseded, len(superseded))
		s.log.Debug("session.supersede", "user_id", userID, "op", op, "count", len(superseded))
		for _, c := range superseded {
			s.notifier.CredentialRevoked(Revocation{
				UserID:     userID,
				Credential: c.Value,
				Reason:     ReasonSuperseded,
				At:         now,
			})
		}
	}
	return nil
}
