package realtime

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"warden/cmd/internal/auth/session"
)

// Hub tracks live connections by the credential they were bound with and
// fans credential revocations out to them. It implements session.Notifier.
type Hub struct {
	log *slog.Logger

	mu           sync.RWMutex
	byCredential map[string]map[string]*Client
	count        int

	connections prometheus.Gauge
}

var _ session.Notifier = (*Hub)(nil)

// NewHub constructs a Hub. The connection gauge is registered with reg when
// reg is non-nil.
func NewHub(log *slog.Logger, reg prometheus.Registerer) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:          log,
		byCredential: make(map[string]map[string]*Client),
		connections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "ws_connections",
			Help:      "Websocket connections currently bound to a credential.",
		}),
	}
}

// Register binds c under its credential. Registering the same session twice
// is a no-op.
func (h *Hub) Register(c *Client) {
	if c == nil || c.Credential == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.byCredential[c.Credential]
	if !ok {
		set = make(map[string]*Client)
		h.byCredential[c.Credential] = set
	}
	if _, dup := set[c.SessionID]; dup {
		return
	}
	set[c.SessionID] = c
	h.count++
	h.connections.Set(float64(h.count))
}

// Unregister removes c. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.byCredential[c.Credential]
	if !ok {
		return
	}
	if _, ok := set[c.SessionID]; !ok {
		return
	}
	delete(set, c.SessionID)
	if len(set) == 0 {
		delete(h.byCredential, c.Credential)
	}
	h.count--
	h.connections.Set(float64(h.count))
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// CredentialRevoked tells every connection bound to r.Credential to close.
// It never blocks on a connection.
func (h *Hub) CredentialRevoked(r session.Revocation) {
	h.mu.RLock()
	set := h.byCredential[r.Credential]
	targets := make([]*Client, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	env, err := newEnvelope(TypeCredentialRevoked, CredentialRevokedPayload{
		Reason: string(r.Reason),
		At:     r.At,
	}, r.At)
	if err != nil {
		h.log.Error("ws.revoke.encode.fail", "err", err)
		return
	}

	for _, c := range targets {
		c.Revoke(env)
	}
	h.log.Info("ws.revoke", "user_id", r.UserID, "reason", string(r.Reason), "connections", len(targets))
}
