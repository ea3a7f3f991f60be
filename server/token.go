package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/quartzlabs/oauth/scope"
	"github.com/quartzlabs/oauth/security"
	"github.com/quartzlabs/oauth/storage"
)

// Token verification failures
var (
	// ErrInvalidToken means the presented token is unknown
	ErrInvalidToken = errors.New("invalid access token")

	// ErrExpiredToken means the token existed but its lifetime has passed
	ErrExpiredToken = errors.New("access token expired")

	// ErrInsufficientScope means the token is valid but was not granted the
	// required scope
	ErrInsufficientScope = errors.New("insufficient scope")
)

// maxTokenAttempts bounds the retry loop on token value collisions. With
// 128-bit random values a collision is vanishingly rare; hitting the bound
// indicates a broken random source.
const maxTokenAttempts = 3

// IssueToken creates and persists a new access token for the given client,
// resource owner, and granted scopes. Token values are regenerated and the
// insert retried if the store reports a collision.
func (s *Server) IssueToken(ctx context.Context, client *storage.Client, userID string, scopes []string) (*storage.AccessToken, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	// Callers outside the authorization endpoint reach this directly, so the
	// client-grant bound on scope is enforced here as well.
	if !scope.Subset(scopes, client.Scopes) {
		return nil, fmt.Errorf("requested scope %q exceeds client grant", scope.Join(scopes))
	}

	now := time.Now()
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token := &storage.AccessToken{
			ClientID:     client.ID,
			UserID:       userID,
			AccessToken:  oauth2.GenerateVerifier(),
			TokenType:    storage.TokenTypeBearer,
			ExpiresAt:    now.Add(s.config.AccessTokenTTL),
			RefreshToken: oauth2.GenerateVerifier(),
			Scope:        scope.Join(scopes),
		}

		err := s.tokens.InsertToken(ctx, token)
		if err == nil {
			if s.instrumentation != nil {
				s.instrumentation.Metrics().RecordTokenIssued(ctx, client.ID)
			}
			s.logger.Info("Issued access token",
				"client_id", client.ID,
				"scope", token.Scope,
				"expires_at", token.ExpiresAt)
			return token, nil
		}
		if !errors.Is(err, storage.ErrDuplicateToken) {
			return nil, fmt.Errorf("storing access token: %w", err)
		}
		s.logger.Warn("Token value collision, regenerating", "attempt", attempt+1)
	}

	return nil, fmt.Errorf("token generation collided %d times, check the random source", maxTokenAttempts)
}

// VerifyToken checks an access token and, when requiredScope is non-empty,
// that the token was granted that scope. Expired tokens are deleted on
// discovery; there is no background sweep.
func (s *Server) VerifyToken(ctx context.Context, accessToken string, requiredScope string) (*storage.AccessToken, error) {
	if accessToken == "" {
		s.recordVerification(ctx, "invalid")
		return nil, ErrInvalidToken
	}

	token, err := s.tokens.GetToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.recordVerification(ctx, "invalid")
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("token lookup: %w", err)
	}

	if security.IsTokenExpiredWithGracePeriod(token.ExpiresAt, s.config.ClockSkewGracePeriod) {
		// Lazy expiry: delete on discovery. The delete may race another
		// verifier; losing that race is harmless.
		if delErr := s.tokens.DeleteToken(ctx, accessToken); delErr != nil && !errors.Is(delErr, storage.ErrNotFound) {
			s.logger.Warn("Failed to delete expired token", "error", delErr)
		}
		s.recordVerification(ctx, "expired")
		return nil, ErrExpiredToken
	}

	if requiredScope != "" && !scope.Contains(token.Scope, requiredScope) {
		s.recordVerification(ctx, "insufficient_scope")
		return nil, ErrInsufficientScope
	}

	s.recordVerification(ctx, "valid")
	return token, nil
}

func (s *Server) recordVerification(ctx context.Context, result string) {
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordTokenVerification(ctx, result)
	}
}

// RevokeToken revokes a single access token owned by userID. Revoking a token
// that does not exist or belongs to someone else returns storage.ErrNotFound;
// ownership failures are indistinguishable from missing tokens on purpose.
func (s *Server) RevokeToken(ctx context.Context, userID, accessToken string) error {
	token, err := s.tokens.GetToken(ctx, accessToken)
	if err != nil {
		return err
	}
	if token.UserID != userID {
		return storage.ErrNotFound
	}

	if err := s.tokens.DeleteToken(ctx, accessToken); err != nil {
		return err
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordTokenRevocation(ctx, token.ClientID)
	}
	s.logger.Info("Revoked access token", "client_id", token.ClientID)
	return nil
}

// RevokeClientAuthorization removes every token userID has granted to
// clientID and returns how many were revoked. Zero means there was nothing
// to revoke.
func (s *Server) RevokeClientAuthorization(ctx context.Context, userID, clientID string) (int, error) {
	removed, err := s.tokens.DeleteTokensForUserClient(ctx, userID, clientID)
	if err != nil {
		return 0, fmt.Errorf("revoking tokens for client %s: %w", clientID, err)
	}

	if removed > 0 {
		if s.instrumentation != nil {
			s.instrumentation.Metrics().RecordTokenRevocation(ctx, clientID)
		}
		s.logger.Info("Revoked client authorization",
			"client_id", clientID,
			"tokens_removed", removed)
	}
	return removed, nil
}

// Authorization summarizes a resource owner's live grant to one client
type Authorization struct {
	ClientID   string    `json:"client_id"`
	ClientName string    `json:"client_name,omitempty"`
	Scope      string    `json:"scope"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ListAuthorizations returns the live authorizations for userID, one entry
// per client, skipping tokens that are already past their lifetime
func (s *Server) ListAuthorizations(ctx context.Context, userID string) ([]Authorization, error) {
	tokens, err := s.tokens.ListTokensForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}

	byClient := make(map[string]*Authorization)
	var order []string
	for _, token := range tokens {
		if security.IsTokenExpiredWithGracePeriod(token.ExpiresAt, s.config.ClockSkewGracePeriod) {
			continue
		}
		existing, ok := byClient[token.ClientID]
		if !ok {
			entry := &Authorization{
				ClientID:  token.ClientID,
				Scope:     token.Scope,
				ExpiresAt: token.ExpiresAt,
			}
			if client, cerr := s.clients.GetClient(ctx, token.ClientID); cerr == nil {
				entry.ClientName = client.Name
			}
			byClient[token.ClientID] = entry
			order = append(order, token.ClientID)
			continue
		}
		// Keep the latest expiry for the summary.
		if token.ExpiresAt.After(existing.ExpiresAt) {
			existing.ExpiresAt = token.ExpiresAt
			existing.Scope = token.Scope
		}
	}

	authorizations := make([]Authorization, 0, len(order))
	for _, clientID := range order {
		authorizations = append(authorizations, *byClient[clientID])
	}
	return authorizations, nil
}
