package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/quartzlabs/oauth/scope"
	"github.com/quartzlabs/oauth/storage"
)

// Authorization error codes, as they appear on the wire
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeServerError             = "server_error"
)

// AuthorizationError is a protocol-level authorization failure.
//
// Redirectable reports which error channel the failure belongs to: failures
// detected before the redirect URI is validated must never be sent to that
// URI and are returned directly to the caller, while failures detected
// afterwards travel back to the client application via redirect.
type AuthorizationError struct {
	Code         string
	Description  string
	Status       int
	Redirectable bool

	// RedirectURI and ResponseType are set on redirectable errors so the
	// transport layer knows where to deliver the error and how to encode it
	// (fragment for token flows, query for code flows).
	RedirectURI  string
	ResponseType string
}

// Error implements the error interface
func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}

// AuthorizationRequest carries the raw query parameters of an authorization
// request, before any validation
type AuthorizationRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
}

// ValidatedRequest is an authorization request that passed every check and is
// safe to present to the resource owner for consent
type ValidatedRequest struct {
	Client       *storage.Client
	RedirectURI  string
	ResponseType string
	Scope        []string
	State        string
}

// ValidateAuthorizationRequest checks an authorization request in protocol
// order: client identity first, then the redirect URI, then the response
// type, then the requested scope. The order is load-bearing; only once the
// redirect URI is known good do later failures become redirectable.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, req AuthorizationRequest) (*ValidatedRequest, *AuthorizationError) {
	client, authErr := s.lookupClient(ctx, req.ClientID)
	if authErr != nil {
		return nil, authErr
	}

	redirectURI, authErr := s.resolveRedirectURI(client, req.RedirectURI)
	if authErr != nil {
		return nil, authErr
	}

	// From here on the redirect URI is trusted and errors travel through it.
	if authErr := s.checkResponseType(req.ResponseType); authErr != nil {
		return nil, authErr
	}

	requested, authErr := s.checkScope(client, req.Scope)
	if authErr != nil {
		authErr.RedirectURI = redirectURI
		authErr.ResponseType = req.ResponseType
		return nil, authErr
	}

	return &ValidatedRequest{
		Client:       client,
		RedirectURI:  redirectURI,
		ResponseType: req.ResponseType,
		Scope:        requested,
		State:        req.State,
	}, nil
}

func (s *Server) lookupClient(ctx context.Context, clientID string) (*storage.Client, *AuthorizationError) {
	if clientID == "" {
		return nil, &AuthorizationError{
			Code:        ErrorCodeUnauthorizedClient,
			Description: "Missing client id",
			Status:      http.StatusForbidden,
		}
	}

	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &AuthorizationError{
				Code:        ErrorCodeUnauthorizedClient,
				Description: "Unknown client",
				Status:      http.StatusForbidden,
			}
		}
		s.logger.Error("Client lookup failed", "client_id", clientID, "error", err)
		return nil, &AuthorizationError{
			Code:        ErrorCodeServerError,
			Description: "Client lookup failed",
			Status:      http.StatusInternalServerError,
		}
	}
	return client, nil
}

func (s *Server) checkResponseType(responseType string) *AuthorizationError {
	if responseType == "" {
		// An absent response_type is a malformed request, not an unsupported
		// grant; the error code differs from the unsupported case below.
		return &AuthorizationError{
			Code:        ErrorCodeInvalidRequest,
			Description: "Missing response type",
			Status:      http.StatusNotImplemented,
		}
	}
	if !s.supportsResponseType(responseType) {
		return &AuthorizationError{
			Code:        ErrorCodeUnsupportedResponseType,
			Description: "Unsupported response type",
			Status:      http.StatusNotImplemented,
		}
	}
	return nil
}

// checkScope verifies that every requested scope atom was granted to the
// client at registration time. Matching is whole-atom only: a client
// registered with "readonly" does not satisfy a request for "read".
func (s *Server) checkScope(client *storage.Client, requestedScope string) ([]string, *AuthorizationError) {
	requested := scope.Parse(requestedScope)
	if len(requested) == 0 {
		if s.config.RequireScope {
			return nil, &AuthorizationError{
				Code:         ErrorCodeInvalidScope,
				Description:  "Missing scope",
				Status:       http.StatusFound,
				Redirectable: true,
			}
		}
		// An empty scope request defaults to the client's registered scopes,
		// which still have to pass the server-wide gate below.
		requested = client.Scopes
	}

	if len(s.config.SupportedScopes) > 0 && !scope.Subset(requested, s.config.SupportedScopes) {
		return nil, &AuthorizationError{
			Code:         ErrorCodeInvalidScope,
			Description:  "Unsupported scope",
			Status:       http.StatusFound,
			Redirectable: true,
		}
	}

	if !scope.Subset(requested, client.Scopes) {
		return nil, &AuthorizationError{
			Code:         ErrorCodeInvalidScope,
			Description:  "Invalid scope",
			Status:       http.StatusFound,
			Redirectable: true,
		}
	}
	return requested, nil
}

// Decision is the resource owner's answer to a validated authorization request
type Decision struct {
	// Request must be the result of ValidateAuthorizationRequest
	Request *ValidatedRequest

	// Subject identifies the authenticated resource owner
	Subject string

	// Authorized is true when the resource owner approved the request
	Authorized bool

	// IPAddress is the caller's address, for audit logging
	IPAddress string
}

// Grant is the successful outcome of an authorization decision: exactly one
// of Token or Code is set, matching the request's response type
type Grant struct {
	Token *storage.AccessToken
	Code  *storage.AuthorizationCode

	RedirectURI  string
	ResponseType string
	State        string
}

// Authorize applies the resource owner's decision to a validated request.
// A denial is a redirectable access_denied error; an approval issues an
// access token or an authorization code depending on the response type.
func (s *Server) Authorize(ctx context.Context, decision Decision) (*Grant, *AuthorizationError) {
	req := decision.Request
	if req == nil || req.Client == nil {
		return nil, &AuthorizationError{
			Code:        ErrorCodeInvalidRequest,
			Description: "Authorization request was not validated",
			Status:      http.StatusBadRequest,
		}
	}

	if !decision.Authorized {
		if s.instrumentation != nil {
			s.instrumentation.Metrics().RecordAuthorizationDecision(ctx, req.Client.ID, false)
		}
		if s.auditor != nil {
			s.auditor.LogAccessDenied(decision.Subject, req.Client.ID, decision.IPAddress)
		}
		return nil, &AuthorizationError{
			Code:         ErrorCodeAccessDenied,
			Description:  "The resource owner denied the request",
			Status:       http.StatusFound,
			Redirectable: true,
			RedirectURI:  req.RedirectURI,
			ResponseType: req.ResponseType,
		}
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordAuthorizationDecision(ctx, req.Client.ID, true)
	}

	grant := &Grant{
		RedirectURI:  req.RedirectURI,
		ResponseType: req.ResponseType,
		State:        req.State,
	}

	switch req.ResponseType {
	case ResponseTypeToken:
		token, err := s.IssueToken(ctx, req.Client, decision.Subject, req.Scope)
		if err != nil {
			s.logger.Error("Token issuance failed",
				"client_id", req.Client.ID,
				"error", err)
			return nil, &AuthorizationError{
				Code:         ErrorCodeServerError,
				Description:  "Token issuance failed",
				Status:       http.StatusFound,
				Redirectable: true,
				RedirectURI:  req.RedirectURI,
				ResponseType: req.ResponseType,
			}
		}
		if s.auditor != nil {
			s.auditor.LogTokenIssued(decision.Subject, req.Client.ID, decision.IPAddress, token.Scope)
		}
		grant.Token = token

	case ResponseTypeCode:
		code, err := s.issueAuthorizationCode(ctx, req, decision.Subject)
		if err != nil {
			s.logger.Error("Authorization code issuance failed",
				"client_id", req.Client.ID,
				"error", err)
			return nil, &AuthorizationError{
				Code:         ErrorCodeServerError,
				Description:  "Authorization code issuance failed",
				Status:       http.StatusFound,
				Redirectable: true,
				RedirectURI:  req.RedirectURI,
				ResponseType: req.ResponseType,
			}
		}
		grant.Code = code

	default:
		// Unreachable after validation, kept as a guard.
		return nil, &AuthorizationError{
			Code:        ErrorCodeUnsupportedResponseType,
			Description: "Unsupported response type",
			Status:      http.StatusNotImplemented,
		}
	}

	return grant, nil
}

func (s *Server) issueAuthorizationCode(ctx context.Context, req *ValidatedRequest, subject string) (*storage.AuthorizationCode, error) {
	now := time.Now()
	code := &storage.AuthorizationCode{
		Code:        oauth2.GenerateVerifier(),
		ClientID:    req.Client.ID,
		UserID:      subject,
		RedirectURI: req.RedirectURI,
		Scope:       scope.Join(req.Scope),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.AuthorizationCodeTTL),
	}
	if err := s.codes.SaveAuthorizationCode(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}
