// Package server implements the core of the authorization server: validating
// authorization requests in the order the protocol demands, issuing and
// verifying bearer tokens, and revoking grants. The HTTP surface lives one
// level up; this package speaks in requests, decisions, and grants.
package server

import (
	"fmt"
	"log/slog"

	"github.com/quartzlabs/oauth/instrumentation"
	"github.com/quartzlabs/oauth/security"
	"github.com/quartzlabs/oauth/storage"
)

// Response types accepted on the authorization endpoint
const (
	ResponseTypeToken = "token"
	ResponseTypeCode  = "code"
)

// Server validates authorization requests and manages the token lifecycle
type Server struct {
	config  Config
	clients storage.ClientStore
	tokens  storage.TokenStore
	codes   storage.CodeStore

	logger          *slog.Logger
	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation
}

// New creates an authorization server on top of the given stores.
// The code store may be nil when the code response type is not configured.
func New(config Config, clients storage.ClientStore, tokens storage.TokenStore, codes storage.CodeStore) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}

	config.applySecureDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	for _, rt := range config.SupportedResponseTypes {
		if rt == ResponseTypeCode && codes == nil {
			return nil, fmt.Errorf("code response type is configured but no code store was provided")
		}
	}

	return &Server{
		config:  config,
		clients: clients,
		tokens:  tokens,
		codes:   codes,
		logger:  slog.Default(),
	}, nil
}

// SetLogger sets the logger for the server
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetAuditor enables security audit logging
func (s *Server) SetAuditor(auditor *security.Auditor) {
	s.auditor = auditor
}

// SetInstrumentation enables tracing and metrics
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
}

// Config returns a copy of the effective configuration
func (s *Server) Config() Config {
	return s.config
}

func (s *Server) supportsResponseType(responseType string) bool {
	for _, rt := range s.config.SupportedResponseTypes {
		if rt == responseType {
			return true
		}
	}
	return false
}
