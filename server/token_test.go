package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzlabs/oauth/internal/testutil"
	"github.com/quartzlabs/oauth/storage"
	"github.com/quartzlabs/oauth/storage/memory"
)

func issueTestToken(t *testing.T, srv *Server, store *memory.Store, userID string, scopes []string) *storage.AccessToken {
	t.Helper()

	client, err := store.GetClient(context.Background(), "thirdparty")
	require.NoError(t, err)

	token, err := srv.IssueToken(context.Background(), client, userID, scopes)
	require.NoError(t, err)
	return token
}

func TestVerifyToken(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	token := issueTestToken(t, srv, store, "user-1", []string{"read"})

	t.Run("valid token", func(t *testing.T) {
		got, err := srv.VerifyToken(ctx, token.AccessToken, "")
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.UserID)
	})

	t.Run("valid token with required scope", func(t *testing.T) {
		_, err := srv.VerifyToken(ctx, token.AccessToken, "read")
		require.NoError(t, err)
	})

	t.Run("insufficient scope", func(t *testing.T) {
		_, err := srv.VerifyToken(ctx, token.AccessToken, "write")
		assert.ErrorIs(t, err, ErrInsufficientScope)
	})

	t.Run("scope matching is whole atoms only", func(t *testing.T) {
		require.NoError(t, store.SaveClient(ctx, &storage.Client{
			ID:          "narrow",
			Type:        storage.ClientTypePublic,
			RedirectURI: "https://app.tld/callback",
			Scopes:      []string{"readonly"},
		}))
		client, err := store.GetClient(ctx, "narrow")
		require.NoError(t, err)

		narrowToken, err := srv.IssueToken(ctx, client, "user-2", []string{"readonly"})
		require.NoError(t, err)
		_, err = srv.VerifyToken(ctx, narrowToken.AccessToken, "read")
		assert.ErrorIs(t, err, ErrInsufficientScope)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := srv.VerifyToken(ctx, "no-such-token", "")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := srv.VerifyToken(ctx, "", "")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestIssueToken_RejectsScopeOutsideClientGrant(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	client, err := store.GetClient(ctx, "thirdparty")
	require.NoError(t, err)

	// Issuance enforces the client-grant bound itself; it cannot rely on the
	// authorization endpoint having filtered the scope set.
	_, err = srv.IssueToken(ctx, client, "user-1", []string{"admin"})
	require.Error(t, err)
	assert.Equal(t, int64(0), store.TokenCount())

	_, err = srv.IssueToken(ctx, client, "user-1", []string{"read", "admin"})
	require.Error(t, err)
	assert.Equal(t, int64(0), store.TokenCount())
}

func TestVerifyToken_LazyExpiry(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	// Insert a token that is already past its lifetime. Verification must
	// report expiry and remove the record.
	expired := testutil.NewExpiredToken("expired-access", "expired-refresh", "user-1", "thirdparty")
	require.NoError(t, store.InsertToken(ctx, expired))

	_, err := srv.VerifyToken(ctx, "expired-access", "")
	assert.ErrorIs(t, err, ErrExpiredToken)

	// The expired record is gone on the next lookup.
	_, err = store.GetToken(ctx, "expired-access")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRevokeToken(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	token := issueTestToken(t, srv, store, "user-1", []string{"read"})

	t.Run("wrong owner looks like a missing token", func(t *testing.T) {
		err := srv.RevokeToken(ctx, "someone-else", token.AccessToken)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("owner can revoke", func(t *testing.T) {
		require.NoError(t, srv.RevokeToken(ctx, "user-1", token.AccessToken))
		_, err := srv.VerifyToken(ctx, token.AccessToken, "")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRevokeClientAuthorization(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	issueTestToken(t, srv, store, "user-1", []string{"read"})
	issueTestToken(t, srv, store, "user-1", []string{"write"})
	other := issueTestToken(t, srv, store, "user-2", []string{"read"})

	removed, err := srv.RevokeClientAuthorization(ctx, "user-1", "thirdparty")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// The other user's grant survives.
	_, err = srv.VerifyToken(ctx, other.AccessToken, "")
	assert.NoError(t, err)

	// Revoking again finds nothing; the caller decides whether that is 404.
	removed, err = srv.RevokeClientAuthorization(ctx, "user-1", "thirdparty")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestListAuthorizations(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	issueTestToken(t, srv, store, "user-1", []string{"read"})
	issueTestToken(t, srv, store, "user-1", []string{"read", "write"})

	// Expired grants are not listed.
	require.NoError(t, store.InsertToken(ctx,
		testutil.NewExpiredToken("expired-access", "expired-refresh", "user-1", "other-client")))

	authorizations, err := srv.ListAuthorizations(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, authorizations, 1)
	assert.Equal(t, "thirdparty", authorizations[0].ClientID)
	assert.Equal(t, "Third Party App", authorizations[0].ClientName)
}

func TestRegisterClient(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	t.Run("confidential client gets a secret", func(t *testing.T) {
		client, secret, err := srv.RegisterClient(ctx, ClientRegistration{
			Name:        "New App",
			RedirectURI: "https://new.tld/callback",
			Scopes:      []string{"read"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, client.ID)
		assert.NotEmpty(t, secret)
		assert.Equal(t, storage.ClientTypeConfidential, client.Type)

		// The plaintext secret validates against the stored hash.
		assert.NoError(t, store.ValidateClientSecret(ctx, client.ID, secret))
	})

	t.Run("public client gets no secret", func(t *testing.T) {
		client, secret, err := srv.RegisterClient(ctx, ClientRegistration{
			Name:        "SPA",
			Type:        storage.ClientTypePublic,
			RedirectURI: "https://spa.tld/callback",
		})
		require.NoError(t, err)
		assert.Empty(t, secret)
		assert.Empty(t, client.ClientSecretHash)
	})

	t.Run("relative redirect URI is rejected", func(t *testing.T) {
		_, _, err := srv.RegisterClient(ctx, ClientRegistration{
			Name:        "Bad",
			RedirectURI: "/callback",
		})
		assert.Error(t, err)
	})

	t.Run("missing redirect URI is rejected", func(t *testing.T) {
		_, _, err := srv.RegisterClient(ctx, ClientRegistration{Name: "Bad"})
		assert.Error(t, err)
	})
}
