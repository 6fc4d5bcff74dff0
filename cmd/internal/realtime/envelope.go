package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"warden/cmd/identity/ids"
)

// Version is the protocol version embedded into every envelope.
const Version = 1

// Wire types.
const (
	// TypeHello binds the connection to an access token (client -> server).
	TypeHello = "hello"
	// TypeHelloAck confirms the binding (server -> client).
	TypeHelloAck = "hello.ack"
	// TypeCredentialRevoked announces that the bound credential is no longer valid (server -> client).
	TypeCredentialRevoked = "credential.revoked"
	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

var allowedTypes = map[string]struct{}{
	TypeHello:             {},
	TypeHelloAck:          {},
	TypeCredentialRevoked: {},
	TypeError:             {},
}

// Envelope is the wire wrapper for every frame.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// Validate performs structural validation of an inbound envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: got=%d want=%d", e.V, Version)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing type")
	}
	if _, ok := allowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	return nil
}

// HelloPayload carries the access token the connection is bound to.
type HelloPayload struct {
	Token string `json:"token"`
}

// HelloAckPayload echoes the identity the connection was bound to.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
}

// CredentialRevokedPayload explains why the connection is about to close.
type CredentialRevokedPayload struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// ErrorPayload is sent before rejecting a frame or closing the connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newEnvelope(typ string, payload any, ts time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	id, err := ids.NewULID(ts)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      id,
		TS:      ts.UTC(),
		Payload: raw,
	}, nil
}
