package oauthmodel

import (
	"encoding/json"
	"fmt"
)

// Error codes returned to callers. Deliberately coarse-grained: unknown,
// expired, and already-used states/codes all surface as invalid_grant so
// the response body is not an oracle.
const (
	CodeValidationError    = "validation_error"
	CodeInvalidState       = "invalid_state"
	CodeInvalidGrant       = "invalid_grant"
	CodeInvalidToken       = "invalid_token"
	CodeUpstreamAuthFailed = "upstream_auth_failed"
	CodeServiceUnavailable = "service_unavailable"
)

// Error is the fixed error shape of the token and callback endpoints.
// Nothing beyond Code and Description ever reaches a response body.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a structured OAuth error.
func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// MarshalJSON keeps the wire shape stable even if fields are added later.
func (e *Error) MarshalJSON() ([]byte, error) {
	type wire struct {
		Code        string `json:"error"`
		Description string `json:"error_description,omitempty"`
	}
	return json.Marshal(wire{Code: e.Code, Description: e.Description})
}

var (
	// ErrInvalidGrant covers unknown, expired, or already-used codes and
	// states, and PKCE mismatches.
	ErrInvalidGrant = NewError(CodeInvalidGrant, "authorization grant is invalid, expired, or already used")
	// ErrInvalidState covers unknown or consumed state values.
	ErrInvalidState = NewError(CodeInvalidState, "state is invalid, expired, or already used")
	// ErrInvalidToken is the uniform verification failure for bearer tokens.
	ErrInvalidToken = NewError(CodeInvalidToken, "token is invalid or expired")
	// ErrUpstreamAuthFailed means the resource-owner adapter rejected the
	// presented credentials.
	ErrUpstreamAuthFailed = NewError(CodeUpstreamAuthFailed, "credentials were rejected")
	// ErrServiceUnavailable means the session store timed out or is
	// unreachable.
	ErrServiceUnavailable = NewError(CodeServiceUnavailable, "authorization service is temporarily unavailable")
)

// ValidationError builds a validation_error with a caller-safe description.
func ValidationError(description string) *Error {
	return NewError(CodeValidationError, description)
}
