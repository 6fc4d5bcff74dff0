package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts credential lifecycle events. A nil *Metrics is a no-op.
type Metrics struct {
	issued   *prometheus.CounterVec
	revoked  *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewMetrics creates the session collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		issued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "credentials_issued_total",
			Help:      "Access credentials recorded, by operation.",
		}, []string{"op"}),
		revoked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "credentials_revoked_total",
			Help:      "Credentials marked expired and revoked, by reason.",
		}, []string{"reason"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "auth_failures_total",
			Help:      "Rejected authentication attempts, by operation and reason.",
		}, []string{"op", "reason"}),
	}
}

func (m *Metrics) credentialIssued(op string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(op).Inc()
}

func (m *Metrics) credentialsRevoked(reason RevocationReason, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revoked.WithLabelValues(string(reason)).Add(float64(n))
}

func (m *Metrics) authFailure(op, reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(op, reason).Inc()
}
