// Package testutil provides shared fixtures for tests
package testutil

import (
	"time"

	"github.com/quartzlabs/oauth/storage"
)

// NewClient builds a public client fixture
func NewClient(id, redirectURI string, scopes ...string) *storage.Client {
	return &storage.Client{
		ID:          id,
		Type:        storage.ClientTypePublic,
		RedirectURI: redirectURI,
		Name:        "Test Client " + id,
		Scopes:      scopes,
		CreatedAt:   time.Now(),
	}
}

// NewToken builds a bearer token fixture valid for four hours
func NewToken(access, refresh, userID, clientID string) *storage.AccessToken {
	return &storage.AccessToken{
		ClientID:     clientID,
		UserID:       userID,
		AccessToken:  access,
		TokenType:    storage.TokenTypeBearer,
		ExpiresAt:    time.Now().Add(4 * time.Hour),
		RefreshToken: refresh,
		Scope:        "read",
	}
}

// NewExpiredToken builds a bearer token fixture that is already past its
// lifetime
func NewExpiredToken(access, refresh, userID, clientID string) *storage.AccessToken {
	token := NewToken(access, refresh, userID, clientID)
	token.ExpiresAt = time.Now().Add(-time.Hour)
	return token
}
