package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	authapi "warden/cmd/internal/auth/api"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/realtime"
	"warden/cmd/security/password"
	"warden/cmd/security/token"
)

func testComponents() components {
	tokens := token.DefaultConfig()
	tokens.Secret = []byte("0123456789abcdef0123456789abcdef")

	passwords := password.DefaultConfig()
	passwords.Params.MemoryKiB = 8 * 1024
	passwords.Params.Iterations = 1
	passwords.Params.Parallelism = 1

	return components{
		tokens:    tokens,
		passwords: passwords,
		store:     session.DefaultStoreConfig(),
		auth:      authapi.DefaultConfig(),
		ws:        realtime.DefaultConfig(),
	}
}

func newTestApp(t *testing.T, cfg Config, comps components) *App {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), cfg, log, comps)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestApp_InMemoryEndToEnd(t *testing.T) {
	a := newTestApp(t, DefaultConfig(), testComponents())
	if a.storeKind != session.StoreMemory {
		t.Fatalf("storeKind=%q want memory", a.storeKind)
	}

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get(RequestIDHeader) == "" {
		t.Fatalf("healthz: status=%d request id=%q", resp.StatusCode, resp.Header.Get(RequestIDHeader))
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: status=%d", resp.StatusCode)
	}

	body := `{"email":"ada@example.com","password":"correct horse battery"}`
	resp, err = http.Post(srv.URL+"/api/v1/auth/register", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	var pair struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&pair)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || pair.AccessToken == "" {
		t.Fatalf("register: status=%d pair=%+v", resp.StatusCode, pair)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	for _, want := range []string{
		`warden_credentials_issued_total{op="register"} 1`,
		`warden_http_requests_total{class="2xx",method="GET"}`,
		"warden_ws_connections 0",
		"go_goroutines",
	} {
		if !bytes.Contains(raw, []byte(want)) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadinessRequireDB = true
	a := newTestApp(t, cfg, testComponents())

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: status=%d want 503", rr.Code)
	}
}

func TestApp_RedisCredentialStore(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	comps := testComponents()
	comps.store.Kind = session.StoreRedis

	a := newTestApp(t, cfg, comps)
	if a.storeKind != session.StoreRedis {
		t.Fatalf("storeKind=%q want redis", a.storeKind)
	}

	if _, err := a.sessions.Register(context.Background(), session.RegisterInput{
		Email:    "ada@example.com",
		Password: "correct horse battery",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(mr.Keys()) == 0 {
		t.Fatalf("expected credential keys in redis")
	}

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz: status=%d", rr.Code)
	}

	mr.Close()
	rr = httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with redis down: status=%d want 503", rr.Code)
	}
}

func TestApp_StoreSelectionErrors(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, kind := range []session.StoreKind{session.StorePostgres, session.StoreRedis, "bogus"} {
		comps := testComponents()
		comps.store.Kind = kind
		if _, err := newApp(context.Background(), DefaultConfig(), log, comps); err == nil {
			t.Fatalf("kind %q without backend: expected error", kind)
		}
	}

	comps := testComponents()
	comps.tokens.Secret = []byte("short")
	if _, err := newApp(context.Background(), DefaultConfig(), log, comps); err == nil {
		t.Fatalf("expected token config error")
	}
}

func TestNewApp_FailureReleasesBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	comps := testComponents()
	comps.store.Kind = session.StoreRedis
	comps.tokens.Secret = []byte("short")

	a, err := newApp(context.Background(), cfg, log, comps)
	if err == nil {
		t.Fatalf("expected token config error")
	}
	if a != nil {
		t.Fatalf("app=%v want nil on error", a)
	}

	deadline := time.Now().Add(2 * time.Second)
	for mr.CurrentConnectionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("redis connections still open: %d", mr.CurrentConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestApp_CloseNilIsNoOp(t *testing.T) {
	var a *App
	a.Close()
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	a := newTestApp(t, cfg, testComponents())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Setenv(token.HMACEnvKey, "")
	if err := ValidateSecurityConfig(Config{}); err != nil {
		t.Fatalf("policy off: %v", err)
	}

	cfg := Config{RequireTokenHMAC: true}
	if err := ValidateSecurityConfig(cfg); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected missing-key error, got %v", err)
	}

	t.Setenv(token.HMACEnvKey, "too-short")
	if err := ValidateSecurityConfig(cfg); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Fatalf("expected too-short error, got %v", err)
	}

	t.Setenv(token.HMACEnvKey, strings.Repeat("k", 32))
	if err := ValidateSecurityConfig(cfg); err != nil {
		t.Fatalf("valid key: %v", err)
	}
}
