package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/quartzlabs/oauth/security"
)

const (
	// DefaultAccessTokenTTL is how long issued access tokens remain valid
	DefaultAccessTokenTTL = 4 * time.Hour

	// DefaultAuthorizationCodeTTL is how long pending authorization codes
	// remain redeemable
	DefaultAuthorizationCodeTTL = 10 * time.Minute
)

// Config holds the authorization server configuration
type Config struct {
	// Issuer is the base URL of this authorization server
	Issuer string

	// AccessTokenTTL is the lifetime of issued access tokens
	AccessTokenTTL time.Duration

	// AuthorizationCodeTTL is the lifetime of issued authorization codes
	AuthorizationCodeTTL time.Duration

	// ClockSkewGracePeriod is added to expiry checks to tolerate clock drift
	ClockSkewGracePeriod time.Duration

	// SupportedResponseTypes lists the response_type values this server
	// accepts on the authorization endpoint
	SupportedResponseTypes []string

	// SupportedScopes, when non-empty, restricts the scopes a client may
	// request to this set. Empty means any registered client scope is
	// acceptable. The restriction also applies when a request omits scope
	// and falls back to the client's registered scopes.
	SupportedScopes []string

	// RequireScope rejects authorization requests that omit the scope
	// parameter with invalid_scope instead of defaulting to the client's
	// registered scopes.
	RequireScope bool

	// AllowOmittedRedirectURI permits authorization requests without a
	// redirect_uri parameter when the client has exactly one registered
	// redirect URI. Off by default: clients must state where they expect
	// to be sent.
	AllowOmittedRedirectURI bool

	// ErrorURI, when set, is attached to redirected error responses
	ErrorURI string
}

// applySecureDefaults fills zero-valued fields with safe defaults
func (c *Config) applySecureDefaults() {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.AuthorizationCodeTTL <= 0 {
		c.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if c.ClockSkewGracePeriod <= 0 {
		c.ClockSkewGracePeriod = security.DefaultClockSkewGracePeriod
	}
	if len(c.SupportedResponseTypes) == 0 {
		c.SupportedResponseTypes = []string{ResponseTypeToken, ResponseTypeCode}
	}
}

// Validate checks the configuration for obvious misconfiguration
func (c *Config) Validate() error {
	if c.Issuer != "" && !strings.HasPrefix(c.Issuer, "http://") && !strings.HasPrefix(c.Issuer, "https://") {
		return fmt.Errorf("issuer must be an absolute http(s) URL, got %q", c.Issuer)
	}
	for _, rt := range c.SupportedResponseTypes {
		if rt != ResponseTypeToken && rt != ResponseTypeCode {
			return fmt.Errorf("unsupported response type in configuration: %q", rt)
		}
	}
	return nil
}
