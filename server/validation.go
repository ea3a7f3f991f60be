package server

import (
	"net/http"

	"github.com/quartzlabs/oauth/storage"
)

// resolveRedirectURI validates the requested redirect URI against the
// client's registration. Comparison is exact string equality; no prefix or
// pattern matching. Failures here are never redirectable: a URI that did not
// validate must not receive an error response.
func (s *Server) resolveRedirectURI(client *storage.Client, requested string) (string, *AuthorizationError) {
	if requested == "" {
		if s.config.AllowOmittedRedirectURI && client.RedirectURI != "" {
			return client.RedirectURI, nil
		}
		return "", &AuthorizationError{
			Code:        ErrorCodeInvalidRequest,
			Description: "Missing redirect uri",
			Status:      http.StatusBadRequest,
		}
	}

	if requested != client.RedirectURI {
		return "", &AuthorizationError{
			Code:        ErrorCodeInvalidRequest,
			Description: "Mismatching redirect uri",
			Status:      http.StatusBadRequest,
		}
	}

	return requested, nil
}
