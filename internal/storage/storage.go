// Package storage defines persistence interfaces for the gateway's
// single relational database.
package storage

import (
	"context"

	gateway "github.com/bodhi-run/bodhi/internal"
)

// TokenStore manages ApiToken persistence.
type TokenStore interface {
	CreateToken(ctx context.Context, t *gateway.ApiToken) error
	GetTokenByPrefix(ctx context.Context, prefix string) (*gateway.ApiToken, error)
	GetToken(ctx context.Context, id string) (*gateway.ApiToken, error)
	ListTokens(ctx context.Context, userID string, offset, limit int) ([]*gateway.ApiToken, error)
	UpdateToken(ctx context.Context, t *gateway.ApiToken) error
}

// EncryptedSecret is the ciphertext/salt/nonce trio for one secret
// field, all-or-nothing.
type EncryptedSecret struct {
	Enc   []byte
	Salt  []byte
	Nonce []byte
}

// ApiAliasRow is the persisted form of gateway.ApiAlias plus its
// encrypted API key.
type ApiAliasRow struct {
	Alias  gateway.ApiAlias
	APIKey EncryptedSecret
}

// ApiAliasStore manages remote-provider ApiAlias persistence.
type ApiAliasStore interface {
	CreateApiAlias(ctx context.Context, row *ApiAliasRow) error
	GetApiAlias(ctx context.Context, id string) (*ApiAliasRow, error)
	ListApiAliases(ctx context.Context) ([]*ApiAliasRow, error)
	UpdateApiAlias(ctx context.Context, row *ApiAliasRow) error
	DeleteApiAlias(ctx context.Context, id string) error
}

// ModelMetadataStore manages ModelMetadata persistence, including the
// NULL-distinct delete-then-insert upsert its unique index requires.
type ModelMetadataStore interface {
	// UpsertModelMetadata replaces any row matching
	// (source, repo, filename, snapshot, api_model_id) with m. When
	// APIModelID is nil the implementation must use DELETE-then-INSERT
	// inside one transaction rather than ON CONFLICT, because the
	// unique index treats NULL as distinct from every other NULL.
	UpsertModelMetadata(ctx context.Context, m *gateway.ModelMetadata) error
	FindModelMetadata(ctx context.Context, source string, repo, filename, snapshot *string) (*gateway.ModelMetadata, error)
	// BatchFindModelMetadata returns metadata keyed by "repo|filename|snapshot"
	// for the given keys in one query, never N+1.
	BatchFindModelMetadata(ctx context.Context, keys [][3]string) (map[string]*gateway.ModelMetadata, error)
}

// DownloadRequestStore manages DownloadRequest persistence.
type DownloadRequestStore interface {
	CreateDownloadRequest(ctx context.Context, d *gateway.DownloadRequest) error
	UpdateDownloadRequest(ctx context.Context, d *gateway.DownloadRequest) error
	GetDownloadRequest(ctx context.Context, id string) (*gateway.DownloadRequest, error)
	ListDownloadRequests(ctx context.Context, offset, limit int) ([]*gateway.DownloadRequest, error)
}

// MCPServerConfigStore manages per-MCP-server OAuth client config.
type MCPServerConfigStore interface {
	CreateMCPServerConfig(ctx context.Context, c *gateway.MCPServerConfig) error
	GetMCPServerConfig(ctx context.Context, configID string) (*gateway.MCPServerConfig, error)
	ListMCPServerConfigs(ctx context.Context) ([]*gateway.MCPServerConfig, error)
	DeleteMCPServerConfig(ctx context.Context, configID string) error
}

// MCPOAuthTokenStore manages per-(config,user) OAuth token pairs,
// replaced atomically.
type MCPOAuthTokenStore interface {
	// PutMCPOAuthToken replaces any existing token row for
	// (configID, userID) with t, in a single transaction.
	PutMCPOAuthToken(ctx context.Context, t *gateway.MCPOAuthToken) error
	GetMCPOAuthToken(ctx context.Context, configID, userID string) (*gateway.MCPOAuthToken, error)
	DeleteMCPOAuthToken(ctx context.Context, configID, userID string) error
}

// AccessRequestStore manages AppAccessRequest persistence.
type AccessRequestStore interface {
	CreateAccessRequest(ctx context.Context, r *gateway.AppAccessRequest) error
	UpdateAccessRequest(ctx context.Context, r *gateway.AppAccessRequest) error
	GetAccessRequest(ctx context.Context, id string) (*gateway.AppAccessRequest, error)
	ListAccessRequests(ctx context.Context, status gateway.AccessRequestStatus, offset, limit int) ([]*gateway.AppAccessRequest, error)
}

// Session is a persisted browser session. Access/refresh
// tokens are swapped atomically by ReplaceSessionTokens.
type Session struct {
	ID           string
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // unix seconds, 0 = unknown/non-expiring
	OAuthState   string
	PKCEVerifier string
}

// SessionStore manages browser session persistence.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// ReplaceSessionTokens atomically swaps the access/refresh token pair
	// for a session: readers see either the old pair or the new pair,
	// never a mixed state.
	ReplaceSessionTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt int64) error
	// ClearOAuthState removes oauth_state/pkce_verifier after callback.
	ClearOAuthState(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
}

// SettingStore manages the Settings Store's DB-backed override layer.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (value, valueType, source string, ok bool, err error)
	PutSetting(ctx context.Context, key, value, valueType, source string) error
	DeleteSetting(ctx context.Context, key string) error
	ListSettings(ctx context.Context) (map[string]string, error)
}

// AppStateStore holds the single-row global app lifecycle state and the
// process master key material.
type AppStateStore interface {
	GetAppStatus(ctx context.Context) (gateway.AppStatus, error)
	SetAppStatus(ctx context.Context, status gateway.AppStatus) error
	// GetOrCreateMasterKey returns the persisted master key material,
	// generating and storing one on first run via generate. Implemented
	// atomically so two racing first-run callers never both "win".
	GetOrCreateMasterKey(ctx context.Context, generate func() ([]byte, error)) ([]byte, error)
}

// Store combines all storage interfaces into the single aggregate
// dependency the rest of the services take.
type Store interface {
	TokenStore
	ApiAliasStore
	ModelMetadataStore
	DownloadRequestStore
	MCPServerConfigStore
	MCPOAuthTokenStore
	AccessRequestStore
	SessionStore
	SettingStore
	AppStateStore
	Ping(ctx context.Context) error
	Close() error
}
