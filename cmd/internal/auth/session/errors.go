package session

import "errors"

var (
	// ErrUserAlreadyExists is returned by Register when the email is taken.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrAuthenticationFailed is returned for an unknown email or a wrong password.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUserNotFound signals that a user vanished between identity check and issuance.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidToken is returned when a refresh token is blank, undecodable or fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnauthenticated is returned when an access token is missing, invalid or no longer valid.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrAccessDenied is returned when the principal lacks a required role.
	ErrAccessDenied = errors.New("access denied")

	// ErrWrongPassword is returned by ChangePassword when the current password does not match.
	ErrWrongPassword = errors.New("wrong password")

	// ErrPasswordMismatch is returned by ChangePassword when new and confirmation differ.
	ErrPasswordMismatch = errors.New("passwords are not the same")

	// ErrCredentialNotFound is returned by stores when no credential has the given value.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrStoreBusy is returned when the per-user lock could not be acquired in time.
	ErrStoreBusy = errors.New("credential store busy")

	// ErrLeaseLost is returned when a distributed per-user lease expired before commit.
	ErrLeaseLost = errors.New("credential store lease lost")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
