// Package main provides a CI-friendly smoke test for the Warden revocation feed.
//
// It validates:
//   - registration over HTTP
//   - websocket handshake + subprotocol selection
//   - hello/ack binding to the access token
//   - a second login supersedes the bound credential
//   - the connection receives credential.revoked and a policy-violation close
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "warden.events.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header for the websocket handshake")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base := strings.TrimRight(*baseURL, "/")
	email := fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano())
	pass := "smoke-password-123"

	pair := mustAuth(base+"/api/v1/auth/register", email, pass, http.StatusCreated, *timeout)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	conn, resp, err := websocket.Dial(ctx, wsURL(base)+"/ws", &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   http.Header{"Origin": []string{*origin}},
	})
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(maxReadBytes)

	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol=%q want %q", got, subprotocol)
	}

	mustWrite(conn, "hello", map[string]string{"token": pair.AccessToken}, *timeout)
	ack := mustRead(conn, *timeout)
	if ack.Type != "hello.ack" {
		fatalf("expected hello.ack, got %s (%s)", ack.Type, ack.Payload)
	}
	if *verbose {
		fmt.Printf("bound: %s\n", ack.Payload)
	}

	mustAuth(base+"/api/v1/auth/login", email, pass, http.StatusOK, *timeout)

	revoked := mustRead(conn, *timeout)
	if revoked.Type != "credential.revoked" {
		fatalf("expected credential.revoked, got %s (%s)", revoked.Type, revoked.Payload)
	}
	if *verbose {
		fmt.Printf("revoked: %s\n", revoked.Payload)
	}

	rctx, rcancel := context.WithTimeout(context.Background(), *timeout)
	_, _, err = conn.Read(rctx)
	rcancel()
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		fatalf("close status=%v want %v (err=%v)", status, websocket.StatusPolicyViolation, err)
	}

	fmt.Println("ws-smoke: ok")
}

func mustAuth(url, email, pass string, wantStatus int, timeout time.Duration) tokenPair {
	body, _ := json.Marshal(map[string]string{"email": email, "password": pass})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != wantStatus {
		fatalf("POST %s: status=%d body=%s", url, resp.StatusCode, raw)
	}
	var pair tokenPair
	if err := json.Unmarshal(raw, &pair); err != nil || pair.AccessToken == "" {
		fatalf("POST %s: bad response %s", url, raw)
	}
	return pair
}

func mustWrite(conn *websocket.Conn, typ string, payload any, timeout time.Duration) {
	p, _ := json.Marshal(payload)
	b, _ := json.Marshal(envelope{
		V:       1,
		Type:    typ,
		ID:      fmt.Sprintf("smoke-%d", time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: p,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", typ, err)
	}
}

func mustRead(conn *websocket.Conn, timeout time.Duration) envelope {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, b, err := conn.Read(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fatalf("read: timed out after %s", timeout)
		}
		fatalf("read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		fatalf("read: bad envelope: %v", err)
	}
	return env
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ws-smoke: "+format+"\n", args...)
	os.Exit(1)
}
