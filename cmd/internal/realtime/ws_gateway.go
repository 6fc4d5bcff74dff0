package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"warden/cmd/identity/ids"
	"warden/cmd/internal/auth/session"
)

const (
	wsSubprotocolV1 = "warden.events.v1"

	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3
)

// Authorizer resolves an access token to the principal holding it.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken string) (session.Principal, error)
}

// WSGateway is the websocket entrypoint of the revocation feed.
//
// A connection binds itself to an access token with a hello frame. From then
// on it receives a credential.revoked event and a policy-violation close as
// soon as that credential stops being valid.
type WSGateway struct {
	log  *slog.Logger
	hub  *Hub
	auth Authorizer
	cfg  Config

	// Derived for websocket.Accept origin checks.
	originPatterns []string
}

// NewWSGateway constructs a gateway. Zero-valued cfg fields take defaults.
func NewWSGateway(log *slog.Logger, hub *Hub, auth Authorizer, cfg Config) (*WSGateway, error) {
	if hub == nil {
		return nil, errors.New("realtime: nil hub")
	}
	if auth == nil {
		return nil, errors.New("realtime: nil authorizer")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()
	return &WSGateway{
		log:            log,
		hub:            hub,
		auth:           auth,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and serves the connection until it closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	p, err := g.hello(ctx, conn)
	if err != nil {
		g.log.Info("ws.hello.fail", "err", err, "remote", r.RemoteAddr)
		g.writeError(ctx, conn, "unauthenticated", "hello with a valid access token required")
		_ = conn.Close(websocket.StatusPolicyViolation, "unauthenticated")
		return
	}

	sessionID, err := ids.NewULID(time.Now())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(sessionID, p.UserID, p.Credential, g.cfg.SendQueueSize)
	g.hub.Register(client)
	defer g.hub.Unregister(client)

	// The credential may have been revoked between Authorize and Register,
	// in which case its notification was missed.
	if _, err := g.auth.Authorize(ctx, client.Credential); err != nil {
		g.writeError(ctx, conn, "unauthenticated", "credential no longer valid")
		_ = conn.Close(websocket.StatusPolicyViolation, "credential revoked")
		return
	}

	ack, err := newEnvelope(TypeHelloAck, HelloAckPayload{
		SessionID: client.SessionID,
		UserID:    p.UserID,
		Role:      string(p.Role),
	}, time.Now())
	if err != nil || !g.enqueue(ctx, client, ack) {
		_ = conn.Close(websocket.StatusInternalError, "hello.ack failed")
		return
	}

	g.log.Info("ws.bound", "session_id", client.SessionID, "user_id", client.UserID)

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, client, shutdown)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

	g.readLoop(ctx, conn, client, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// hello reads the first frame, which must bind the connection to a valid
// access token.
func (g *WSGateway) hello(ctx context.Context, conn *websocket.Conn) (session.Principal, error) {
	readCtx, readCancel := context.WithTimeout(ctx, g.cfg.HelloTimeout)
	env, err := readEnvelope(readCtx, conn)
	readCancel()
	if err != nil {
		return session.Principal{}, err
	}
	if err := env.Validate(); err != nil {
		return session.Principal{}, err
	}
	if env.Type != TypeHello {
		return session.Principal{}, fmt.Errorf("expected %s, got %s", TypeHello, env.Type)
	}

	var hp HelloPayload
	if err := json.Unmarshal(env.Payload, &hp); err != nil {
		return session.Principal{}, fmt.Errorf("invalid payload: %w", err)
	}
	return g.auth.Authorize(ctx, strings.TrimSpace(hp.Token))
}

func (g *WSGateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-client.Revoked():
			g.flush(ctx, conn, client)
			if err := writeEnvelope(ctx, conn, client.Revocation(), g.cfg.WriteTimeout); err != nil {
				g.log.Info("ws.write.fail", "session_id", client.SessionID, "err", err)
			}
			g.log.Info("ws.closed.revoked", "session_id", client.SessionID, "user_id", client.UserID)
			shutdown(websocket.StatusPolicyViolation, "credential revoked")
			return
		case env := <-client.Send:
			if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
				g.log.Info("ws.write.fail", "session_id", client.SessionID, "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// flush writes whatever is already queued, without blocking for more.
func (g *WSGateway) flush(ctx context.Context, conn *websocket.Conn, client *Client) {
	for {
		select {
		case env := <-client.Send:
			if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (g *WSGateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "session_id", client.SessionID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// readLoop consumes inbound frames. A bound connection has nothing more to
// ask, so every frame is answered with an error envelope.
func (g *WSGateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				return
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				return
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				return
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue
			default:
				g.log.Info("ws.read.fail", "session_id", client.SessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				return
			}
		}

		if !rl.Allow(time.Now()) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			return
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue
		}

		switch env.Type {
		case TypeHello:
			g.trySendError(ctx, client, "already_bound", "connection is already bound")
		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	env, err := newEnvelope(TypeError, ErrorPayload{Code: code, Message: msg}, time.Now())
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

// writeError writes an error envelope directly, for use before the write
// loop is running.
func (g *WSGateway) writeError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	env, err := newEnvelope(TypeError, ErrorPayload{Code: code, Message: msg}, time.Now())
	if err != nil {
		return
	}
	_ = writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

var errBadJSON = errors.New("bad json")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	case errors.Is(err, errBadJSON):
		return readErrBadJSON
	default:
		return readErrUnknown
	}
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*":
			return nil
		case origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns turns the allow-list into the host patterns
// websocket.Accept checks cross-origin requests against. Ports are not
// part of the allow-list match, so every host also gets a "host:*" pattern.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
		seen[h+":*"] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
