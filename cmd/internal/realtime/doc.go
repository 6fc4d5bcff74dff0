// Package realtime pushes credential revocations to websocket clients.
//
// Clients connect to /ws with the warden.events.v1 subprotocol and bind the
// connection to an access token with a hello frame. The Hub is registered as
// the session service's Notifier; when the bound credential is superseded or
// logged out the connection receives a credential.revoked event and is closed
// with a policy-violation status.
package realtime
