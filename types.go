// Package oauth provides the HTTP surface of the authorization server: the
// authorization endpoint with its consent flow, the authorization management
// endpoints, and middleware for bearer-token protected resources.
package oauth

import (
	"context"
	"net/http"
)

// Subject is an authenticated resource owner
type Subject struct {
	// ID uniquely identifies the resource owner
	ID string

	// Username is a display name, if the session layer knows one
	Username string
}

// SubjectProvider resolves the resource owner behind a request. It is the
// seam to whatever session or login machinery the embedding application runs;
// this package never authenticates resource owners itself.
//
// A nil Subject with a nil error means the request carries no authenticated
// resource owner.
type SubjectProvider interface {
	SubjectFromRequest(ctx context.Context, r *http.Request) (*Subject, error)
}

// ClientInfo is the client summary shown on the consent prompt
type ClientInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ConsentResponse is the payload describing a pending authorization request,
// rendered for the resource owner to approve or deny
type ConsentResponse struct {
	Client       ClientInfo `json:"client"`
	ResponseType string     `json:"response_type"`
	RedirectURI  string     `json:"redirect_uri"`
	Scope        []string   `json:"scope"`
	State        string     `json:"state,omitempty"`
}

// decisionRequest is the body of the authorization decision POST. It carries
// the authorization request parameters alongside the resource owner's answer;
// the parameters are re-validated from scratch, never trusted from the prompt.
type decisionRequest struct {
	ClientID     string `json:"client_id"`
	ResponseType string `json:"response_type"`
	RedirectURI  string `json:"redirect_uri"`
	Scope        string `json:"scope"`
	State        string `json:"state"`
	Authorized   bool   `json:"authorized"`
}

// RevocationResponse reports how many tokens a revocation removed
type RevocationResponse struct {
	Revoked int `json:"revoked"`
}

// subjectContextKey carries the verified token through RequireScope
type contextKey string

const tokenContextKey contextKey = "oauth.token"
