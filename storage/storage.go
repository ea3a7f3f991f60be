package storage

import (
	"context"
	"errors"
	"time"
)

// Client types per RFC 6749 Section 2.1.
const (
	ClientTypeConfidential = "confidential"
	ClientTypePublic       = "public"
)

// Token types. Bearer is the default; MAC is accepted on the wire for
// compatibility but no proof-of-possession checking is performed.
const (
	TokenTypeBearer = "bearer"
	TokenTypeMAC    = "mac"
)

// Sentinel errors returned by storage backends. Callers match with errors.Is
// and translate to protocol errors at the boundary.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicateToken indicates an insert would violate the uniqueness of
	// access_token or refresh_token values. Issuers retry generation on it.
	ErrDuplicateToken = errors.New("storage: duplicate token value")

	// ErrDuplicateClient indicates a client with the same ID already exists.
	ErrDuplicateClient = errors.New("storage: duplicate client id")
)

// ClientStore defines the interface for managing registered OAuth clients.
// Clients are created by an administrative registration flow and are read-only
// from the authorization flow's perspective.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client. Returns ErrDuplicateClient if the
	// client ID is already taken.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID. Returns ErrNotFound if unknown.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a confidential client's secret against
	// the stored bcrypt hash.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (for admin purposes).
	ListClients(ctx context.Context) ([]*Client, error)
}

// TokenStore defines the interface for storing and retrieving access tokens.
// Inserts must be atomic with respect to the uniqueness of token values:
// a backend must never admit two records sharing an access_token or a
// refresh_token, even under concurrent inserts.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// InsertToken persists a new access token record. Returns
	// ErrDuplicateToken when the access or refresh token value collides with
	// an existing record. The check and the insert are a single atomic step.
	InsertToken(ctx context.Context, token *AccessToken) error

	// GetToken retrieves a token record by its access token value.
	// Returns ErrNotFound if no record exists. Expiry is NOT evaluated here;
	// that is the caller's responsibility (lazy expiry at verify time).
	GetToken(ctx context.Context, accessToken string) (*AccessToken, error)

	// GetTokenByRefresh retrieves a token record by its refresh token value
	// using the secondary unique index.
	GetTokenByRefresh(ctx context.Context, refreshToken string) (*AccessToken, error)

	// DeleteToken removes a token record by its access token value.
	DeleteToken(ctx context.Context, accessToken string) error

	// DeleteTokensForUserClient removes all tokens belonging to userID that
	// were issued to clientID. Returns the number of tokens removed.
	DeleteTokensForUserClient(ctx context.Context, userID, clientID string) (int, error)

	// ListTokensForUser returns all token records owned by userID.
	ListTokensForUser(ctx context.Context, userID string) ([]*AccessToken, error)
}

// CodeStore defines the interface for short-lived authorization codes issued
// by the response_type=code branch of the authorization endpoint.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// Client represents a registered OAuth client.
// RedirectURI is fixed at registration time and compared byte-for-byte during
// authorization; there is no partial or prefix matching.
type Client struct {
	ID               string
	Type             string // "confidential" or "public"
	ClientSecretHash string // bcrypt hash, empty for public clients
	RedirectURI      string
	Name             string
	Scopes           []string // scope atoms the client may be granted
	CreatedAt        time.Time
}

// AccessToken represents an issued bearer token. Records are immutable after
// creation; they disappear through revocation or lazy expiry.
type AccessToken struct {
	ClientID     string
	UserID       string
	AccessToken  string
	TokenType    string // "bearer" (default) or "mac"
	ExpiresAt    time.Time
	RefreshToken string
	Scope        string // space-delimited scope atoms as granted
}

// ExpiresIn returns the whole seconds remaining until the token expires,
// clamped at zero. Used for the expires_in wire parameter.
func (t *AccessToken) ExpiresIn(now time.Time) int64 {
	remaining := int64(t.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AuthorizationCode represents a pending authorization-code grant. The token
// endpoint that exchanges codes is an external collaborator; this subsystem
// only issues and stores them.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	UserID      string
	RedirectURI string
	Scope       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}
