package authapi

import (
	"errors"
	"net/http"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/session"
	"warden/cmd/security/password"
)

// errorCode is one row of the public error catalogue.
type errorCode struct {
	Code    string
	Message string
	Status  int
}

var (
	codeGeneral             = errorCode{"E0001", "Error General.", http.StatusInternalServerError}
	codeUserAlreadyExists   = errorCode{"E0002", "User already exists!", http.StatusBadRequest}
	codeInvalidToken        = errorCode{"E0003", "Invalid token.", http.StatusBadRequest}
	codeUserNotFound        = errorCode{"E0004", "User not found!", http.StatusInternalServerError}
	codeAccessDenied        = errorCode{"E0005", "Access denied!", http.StatusForbidden}
	codeBadCredentials      = errorCode{"E0006", "Bad credentials.", http.StatusUnauthorized}
	codeUnauthenticated     = errorCode{"E0007", "Full authentication required.", http.StatusUnauthorized}
	codeWrongPassword       = errorCode{"E0008", "Wrong password.", http.StatusBadRequest}
	codePasswordMismatch    = errorCode{"E0009", "Passwords are not the same.", http.StatusBadRequest}
	codeMalformedBody       = errorCode{"E0010", "Malformed request body.", http.StatusBadRequest}
	codeValidationFailed    = errorCode{"E0011", "Validation failed.", http.StatusBadRequest}
	codeMethodNotAllowed    = errorCode{"E0012", "Method not allowed.", http.StatusMethodNotAllowed}
	codeRequestBodyTooLarge = errorCode{"E0010", "Request body too large.", http.StatusRequestEntityTooLarge}
)

// InvalidParameter names one rejected request field.
type InvalidParameter struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code              string             `json:"code"`
	Message           string             `json:"message"`
	Status            int                `json:"status"`
	Timestamp         time.Time          `json:"timestamp"`
	InvalidParameters []InvalidParameter `json:"invalidParameters,omitempty"`
}

func writeError(w http.ResponseWriter, c errorCode, params ...InvalidParameter) {
	writeJSON(w, c.Status, ErrorResponse{
		Code:              c.Code,
		Message:           c.Message,
		Status:            c.Status,
		Timestamp:         time.Now().UTC(),
		InvalidParameters: params,
	})
}

// classify maps a service error to its public code. ok is false for
// unexpected failures, which callers should log.
func classify(err error) (c errorCode, params []InvalidParameter, ok bool) {
	switch {
	case errors.Is(err, session.ErrUserAlreadyExists):
		return codeUserAlreadyExists, nil, true
	case errors.Is(err, session.ErrInvalidToken):
		return codeInvalidToken, nil, true
	case errors.Is(err, session.ErrUserNotFound):
		return codeUserNotFound, nil, true
	case errors.Is(err, session.ErrAccessDenied):
		return codeAccessDenied, nil, true
	case errors.Is(err, session.ErrAuthenticationFailed):
		return codeBadCredentials, nil, true
	case errors.Is(err, session.ErrUnauthenticated):
		return codeUnauthenticated, nil, true
	case errors.Is(err, session.ErrWrongPassword):
		return codeWrongPassword, nil, true
	case errors.Is(err, session.ErrPasswordMismatch):
		return codePasswordMismatch, nil, true
	case password.IsPolicyViolation(err):
		return codeValidationFailed, []InvalidParameter{{Name: "password", Message: err.Error()}}, true
	case identity.IsInvalidInput(err):
		return codeValidationFailed, nil, true
	default:
		return codeGeneral, nil, false
	}
}
