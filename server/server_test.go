package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzlabs/oauth/storage/memory"
)

func TestNew_RequiredStores(t *testing.T) {
	store := memory.New()

	t.Run("nil client store", func(t *testing.T) {
		_, err := New(Config{}, nil, store, store)
		assert.Error(t, err)
	})

	t.Run("nil token store", func(t *testing.T) {
		_, err := New(Config{}, store, nil, store)
		assert.Error(t, err)
	})

	t.Run("code response type without code store", func(t *testing.T) {
		_, err := New(Config{SupportedResponseTypes: []string{ResponseTypeCode}}, store, store, nil)
		assert.Error(t, err)
	})

	t.Run("token-only needs no code store", func(t *testing.T) {
		srv, err := New(Config{SupportedResponseTypes: []string{ResponseTypeToken}}, store, store, nil)
		require.NoError(t, err)
		assert.NotNil(t, srv)
	})
}

func TestNew_AppliesDefaults(t *testing.T) {
	store := memory.New()

	srv, err := New(Config{}, store, store, store)
	require.NoError(t, err)

	cfg := srv.Config()
	assert.Equal(t, 4*time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.AuthorizationCodeTTL)
	assert.Equal(t, []string{ResponseTypeToken, ResponseTypeCode}, cfg.SupportedResponseTypes)
	assert.Positive(t, cfg.ClockSkewGracePeriod)
}

func TestConfig_Validate(t *testing.T) {
	store := memory.New()

	t.Run("bad issuer", func(t *testing.T) {
		_, err := New(Config{Issuer: "not-a-url"}, store, store, store)
		assert.Error(t, err)
	})

	t.Run("bad response type", func(t *testing.T) {
		_, err := New(Config{SupportedResponseTypes: []string{"id_token"}}, store, store, store)
		assert.Error(t, err)
	})
}
