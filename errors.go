package oauth

import "net/http"

// Error codes used on the bearer-token protected-resource surface
const (
	ErrorCodeInvalidToken      = "invalid_token"
	ErrorCodeInsufficientScope = "insufficient_scope"
)

// OAuthError is a protocol error carried to the caller as a JSON body
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	ErrorURI    string `json:"error_uri,omitempty"`
	Status      int    `json:"-"`
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}

// NewInvalidTokenError creates an invalid_token error (HTTP 401)
func NewInvalidTokenError(description string) *OAuthError {
	return &OAuthError{
		Code:        ErrorCodeInvalidToken,
		Description: description,
		Status:      http.StatusUnauthorized,
	}
}

// NewInsufficientScopeError creates an insufficient_scope error (HTTP 403)
func NewInsufficientScopeError(description string) *OAuthError {
	return &OAuthError{
		Code:        ErrorCodeInsufficientScope,
		Description: description,
		Status:      http.StatusForbidden,
	}
}
