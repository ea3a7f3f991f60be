package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/quartzlabs/oauth/storage"
)

// ClientRegistration is a request to register a new client application
type ClientRegistration struct {
	Name        string
	Type        string
	RedirectURI string
	Scopes      []string
}

// RegisterClient registers a new client application and returns the stored
// record plus the plaintext client secret. The secret is generated once and
// only its bcrypt hash is persisted; the caller must hand the plaintext to
// the client operator because it cannot be recovered later. Public clients
// receive no secret.
func (s *Server) RegisterClient(ctx context.Context, reg ClientRegistration) (*storage.Client, string, error) {
	if reg.RedirectURI == "" {
		return nil, "", fmt.Errorf("redirect URI is required")
	}
	parsed, err := url.Parse(reg.RedirectURI)
	if err != nil || !parsed.IsAbs() {
		return nil, "", fmt.Errorf("redirect URI must be an absolute URL")
	}

	clientType := reg.Type
	if clientType == "" {
		clientType = storage.ClientTypeConfidential
	}
	if clientType != storage.ClientTypeConfidential && clientType != storage.ClientTypePublic {
		return nil, "", fmt.Errorf("unknown client type %q", clientType)
	}

	client := &storage.Client{
		ID:          uuid.NewString(),
		Type:        clientType,
		RedirectURI: reg.RedirectURI,
		Name:        reg.Name,
		Scopes:      reg.Scopes,
		CreatedAt:   time.Now(),
	}

	var secret string
	if clientType == storage.ClientTypeConfidential {
		secret = oauth2.GenerateVerifier()
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", fmt.Errorf("hashing client secret: %w", err)
		}
		client.ClientSecretHash = string(hash)
	}

	if err := s.clients.SaveClient(ctx, client); err != nil {
		if errors.Is(err, storage.ErrDuplicateClient) {
			// A UUID collision, which should never happen in practice.
			return nil, "", fmt.Errorf("client ID collision: %w", err)
		}
		return nil, "", fmt.Errorf("saving client: %w", err)
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordClientRegistration(ctx, clientType)
	}
	if s.auditor != nil {
		s.auditor.LogClientRegistered(client.ID, clientType, "")
	}
	s.logger.Info("Registered client",
		"client_id", client.ID,
		"client_type", clientType,
		"name", reg.Name)

	return client, secret, nil
}
