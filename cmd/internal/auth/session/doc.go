// Package session implements Warden's credential lifecycle.
//
// A successful register, login or refresh mints a signed access token and
// records it as the user's only valid credential: every previously valid
// credential of that user is marked expired+revoked in the same atomic step,
// serialized per user through Store.WithinUser. Refresh tokens are stateless
// (signature + expiry + subject) and are returned unchanged on refresh.
// Logout marks a single credential expired+revoked and is idempotent.
//
// Transport concerns (HTTP status mapping, request parsing) live in authapi.
package session
