package session

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"warden/cmd/identity"
	"warden/cmd/security/password"
	"warden/cmd/security/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testCodec(t *testing.T) *token.Codec {
	t.Helper()
	cfg := token.DefaultConfig()
	cfg.Secret = []byte(testSecret)
	c, err := token.NewCodec(cfg)
	require.NoError(t, err)
	return c
}

func testHasher() *password.Hasher {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return password.NewHasher(cfg)
}

// recordingNotifier collects revocations.
type recordingNotifier struct {
	mu  sync.Mutex
	got []Revocation
}

func (n *recordingNotifier) CredentialRevoked(r Revocation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, r)
}

func (n *recordingNotifier) all() []Revocation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Revocation(nil), n.got...)
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	users    *identity.MemoryDirectory
	codec    *token.Codec
	notifier *recordingNotifier
	metrics  *Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		users:    identity.NewMemoryDirectory(),
		codec:    testCodec(t),
		notifier: &recordingNotifier{},
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	svc, err := NewService(f.users, f.store, testHasher(), f.codec,
		WithNotifier(f.notifier),
		WithMetrics(f.metrics),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) register(t *testing.T, email, pw string) TokenPair {
	t.Helper()
	pair, err := f.svc.Register(context.Background(), RegisterInput{
		Firstname: "Test",
		Lastname:  "User",
		Email:     email,
		Password:  pw,
		Role:      identity.RoleUser,
	})
	require.NoError(t, err)
	return pair
}

func (f *fixture) userID(t *testing.T, email string) string {
	t.Helper()
	u, err := f.users.FindByEmail(context.Background(), email)
	require.NoError(t, err)
	return u.ID
}

func (f *fixture) valid(t *testing.T, userID string) []Credential {
	t.Helper()
	cs, err := f.store.FindAllValid(context.Background(), userID)
	require.NoError(t, err)
	return cs
}
