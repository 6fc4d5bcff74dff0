package session

import "time"

// RevocationReason says why a credential stopped being valid.
type RevocationReason string

const (
	ReasonSuperseded RevocationReason = "superseded"
	ReasonLogout     RevocationReason = "logout"
)

// Revocation describes one credential that was just invalidated.
type Revocation struct {
	UserID     string
	Credential string
	Reason     RevocationReason
	At         time.Time
}

// Notifier is told about revocations after they are committed.
// Implementations must not block.
type Notifier interface {
	CredentialRevoked(r Revocation)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Revocation)

// CredentialRevoked implements Notifier.
func (f NotifierFunc) CredentialRevoked(r Revocation) { f(r) }

type nopNotifier struct{}

func (nopNotifier) CredentialRevoked(Revocation) {}
