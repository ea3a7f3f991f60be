// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/quartzlabs/oauth/instrumentation"
	"github.com/quartzlabs/oauth/storage"
)

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, TokenStore, and CodeStore.
//
// Token uniqueness is enforced under a single mutex: the duplicate check and
// the insert happen in one critical section, which is the atomic
// check-and-set the TokenStore contract requires. Expired tokens are not
// swept in the background; the verifier evaluates expiry on every read and
// deletes lazily.
type Store struct {
	mu sync.RWMutex

	// Token storage, keyed by access token value, with a secondary unique
	// index mapping refresh token values to access token values.
	tokens       map[string]*storage.AccessToken
	refreshIndex map[string]string

	// Client storage
	clients map[string]*storage.Client

	// Pending authorization codes
	codes map[string]*storage.AuthorizationCode

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free reads during collection)
	tokensCountAtomic  atomic.Int64
	clientsCountAtomic atomic.Int64
	codesCountAtomic   atomic.Int64

	logger *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		tokens:       make(map[string]*storage.AccessToken),
		refreshIndex: make(map[string]string),
		clients:      make(map[string]*storage.Client),
		codes:        make(map[string]*storage.AuthorizationCode),
		logger:       slog.Default(),
	}
}

// SetLogger sets the logger for the store
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables tracing and metrics for storage operations
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// ==================== ClientStore ====================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "save_client", err, startTime) }()

	if client == nil || client.ID == "" {
		err = fmt.Errorf("client with non-empty ID is required")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ID]; exists {
		err = storage.ErrDuplicateClient
		return err
	}

	c := *client
	s.clients[client.ID] = &c
	s.clientsCountAtomic.Add(1)

	s.logger.Debug("Saved client", "client_id", client.ID, "client_type", client.Type)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_client", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, exists := s.clients[clientID]
	if !exists {
		err = storage.ErrNotFound
		return nil, err
	}

	c := *client
	return &c, nil
}

// ValidateClientSecret validates a confidential client's secret against the
// stored bcrypt hash. Public clients have no secret and always fail here.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	ctx, span := s.startStorageSpan(ctx, "validate_client_secret")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "validate_client_secret", err, startTime) }()

	s.mu.RLock()
	client, exists := s.clients[clientID]
	s.mu.RUnlock()

	if !exists {
		err = storage.ErrNotFound
		return err
	}
	if client.ClientSecretHash == "" {
		err = fmt.Errorf("client %s has no secret", clientID)
		return err
	}

	if bcryptErr := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); bcryptErr != nil {
		err = fmt.Errorf("invalid client secret")
		return err
	}
	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "list_clients")
	defer span.End()

	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "list_clients", nil, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		c := *client
		clients = append(clients, &c)
	}
	return clients, nil
}

// ==================== TokenStore ====================

// InsertToken persists a new access token record. The duplicate check and the
// insert are one critical section, so two concurrent inserts can never both
// succeed with colliding token values.
func (s *Store) InsertToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "insert_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "insert_token", err, startTime) }()

	if token == nil {
		err = fmt.Errorf("token cannot be nil")
		return err
	}
	if token.AccessToken == "" || token.RefreshToken == "" {
		err = fmt.Errorf("token values cannot be empty")
		return err
	}
	if token.ClientID == "" || token.UserID == "" {
		err = fmt.Errorf("client_id and user_id are required")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.AccessToken]; exists {
		err = storage.ErrDuplicateToken
		return err
	}
	if _, exists := s.refreshIndex[token.RefreshToken]; exists {
		err = storage.ErrDuplicateToken
		return err
	}

	t := *token
	s.tokens[token.AccessToken] = &t
	s.refreshIndex[token.RefreshToken] = token.AccessToken
	s.tokensCountAtomic.Add(1)

	s.logger.Debug("Inserted token",
		"client_id", token.ClientID,
		"user_id", token.UserID,
		"expires_at", token.ExpiresAt)
	return nil
}

// GetToken retrieves a token record by its access token value.
// Expiry is not evaluated here; verification is the caller's concern.
func (s *Store) GetToken(ctx context.Context, accessToken string) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_token", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, exists := s.tokens[accessToken]
	if !exists {
		err = storage.ErrNotFound
		return nil, err
	}

	t := *token
	return &t, nil
}

// GetTokenByRefresh retrieves a token record via the refresh token index
func (s *Store) GetTokenByRefresh(ctx context.Context, refreshToken string) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_token_by_refresh")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_token_by_refresh", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	accessToken, exists := s.refreshIndex[refreshToken]
	if !exists {
		err = storage.ErrNotFound
		return nil, err
	}
	token, exists := s.tokens[accessToken]
	if !exists {
		// Index entry without a record should not happen; treat as missing.
		err = storage.ErrNotFound
		return nil, err
	}

	t := *token
	return &t, nil
}

// DeleteToken removes a token record and its refresh index entry
func (s *Store) DeleteToken(ctx context.Context, accessToken string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "delete_token", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	token, exists := s.tokens[accessToken]
	if !exists {
		err = storage.ErrNotFound
		return err
	}

	delete(s.tokens, accessToken)
	delete(s.refreshIndex, token.RefreshToken)
	s.tokensCountAtomic.Add(-1)

	s.logger.Debug("Deleted token", "client_id", token.ClientID, "user_id", token.UserID)
	return nil
}

// DeleteTokensForUserClient removes all tokens belonging to userID that were
// issued to clientID and returns how many were removed.
func (s *Store) DeleteTokensForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "delete_tokens_for_user_client")
	defer span.End()

	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "delete_tokens_for_user_client", nil, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for accessToken, token := range s.tokens {
		if token.UserID == userID && token.ClientID == clientID {
			delete(s.tokens, accessToken)
			delete(s.refreshIndex, token.RefreshToken)
			removed++
		}
	}
	s.tokensCountAtomic.Add(int64(-removed))

	if removed > 0 {
		s.logger.Debug("Deleted tokens for user+client",
			"user_id", userID,
			"client_id", clientID,
			"removed", removed)
	}
	return removed, nil
}

// ListTokensForUser returns all token records owned by userID
func (s *Store) ListTokensForUser(ctx context.Context, userID string) ([]*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "list_tokens_for_user")
	defer span.End()

	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "list_tokens_for_user", nil, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []*storage.AccessToken
	for _, token := range s.tokens {
		if token.UserID == userID {
			t := *token
			tokens = append(tokens, &t)
		}
	}
	return tokens, nil
}

// ==================== CodeStore ====================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime) }()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("authorization code is required")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *code
	s.codes[code.Code] = &c
	s.codesCountAtomic.Add(1)
	return nil
}

// GetAuthorizationCode retrieves an authorization code
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "get_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_authorization_code", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.codes[code]
	if !exists {
		err = storage.ErrNotFound
		return nil, err
	}

	c := *record
	return &c, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "delete_authorization_code", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code]; !exists {
		err = storage.ErrNotFound
		return err
	}

	delete(s.codes, code)
	s.codesCountAtomic.Add(-1)
	return nil
}

// ==================== internals ====================

// TokenCount returns the number of live token records (for tests and gauges)
func (s *Store) TokenCount() int64 {
	return s.tokensCountAtomic.Load()
}

// startStorageSpan starts a tracing span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
	}
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
