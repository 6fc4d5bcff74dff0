package realtime

import (
	"sync"
)

// Client is one websocket connection bound to a credential.
//
// Send is never closed by the server; done and revoked signal shutdown.
type Client struct {
	SessionID  string
	UserID     string
	Credential string
	Send       chan Envelope

	done      chan struct{}
	closeOnce sync.Once

	revoked    chan struct{}
	revokeOnce sync.Once
	revocation Envelope
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID, userID, credential string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID:  sessionID,
		UserID:     userID,
		Credential: credential,
		Send:       make(chan Envelope, sendQueueSize),
		done:       make(chan struct{}),
		revoked:    make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Revoked is closed once the bound credential has been revoked.
func (c *Client) Revoked() <-chan struct{} {
	return c.revoked
}

// Revocation returns the envelope recorded by Revoke.
// It is only meaningful after Revoked is closed.
func (c *Client) Revocation() Envelope {
	return c.revocation
}

// Revoke records env as the final frame and closes Revoked. Only the first
// call has an effect.
func (c *Client) Revoke(env Envelope) {
	if c == nil {
		return
	}
	c.revokeOnce.Do(func() {
		c.revocation = env
		close(c.revoked)
	})
}
