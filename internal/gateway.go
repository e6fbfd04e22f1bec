// Package gateway defines the domain types and interfaces shared across
// the inference gateway. This package has no project imports -- it is
// the dependency root.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// --- Ordered role/scope hierarchies ---

// Role is the session-cookie privilege level. Ordered: User < PowerUser <
// Manager < Admin. Comparison is a total order, never set membership.
type Role int

const (
	RoleUser Role = iota
	RolePowerUser
	RoleManager
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "resource_user"
	case RolePowerUser:
		return "resource_power_user"
	case RoleManager:
		return "resource_manager"
	case RoleAdmin:
		return "resource_admin"
	default:
		return "resource_unknown"
	}
}

// HasAccessTo reports whether r is at least as privileged as required.
func (r Role) HasAccessTo(required Role) bool { return r >= required }

// ParseRole parses the resource_* serialization produced by String.
func ParseRole(s string) (Role, error) {
	switch s {
	case "resource_user":
		return RoleUser, nil
	case "resource_power_user":
		return RolePowerUser, nil
	case "resource_manager":
		return RoleManager, nil
	case "resource_admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// TokenScope is the privilege level carried by an opaque API token.
// Parallel hierarchy to Role: User < PowerUser < Manager < Admin.
type TokenScope int

const (
	TokenScopeUser TokenScope = iota
	TokenScopePowerUser
	TokenScopeManager
	TokenScopeAdmin
)

func (s TokenScope) String() string {
	switch s {
	case TokenScopeUser:
		return "scope_token_user"
	case TokenScopePowerUser:
		return "scope_token_power_user"
	case TokenScopeManager:
		return "scope_token_manager"
	case TokenScopeAdmin:
		return "scope_token_admin"
	default:
		return "scope_token_unknown"
	}
}

// HasAccessTo reports whether s is at least as privileged as required.
func (s TokenScope) HasAccessTo(required TokenScope) bool { return s >= required }

// ParseTokenScope parses the scope_token_* serialization.
func ParseTokenScope(s string) (TokenScope, error) {
	switch s {
	case "scope_token_user":
		return TokenScopeUser, nil
	case "scope_token_power_user":
		return TokenScopePowerUser, nil
	case "scope_token_manager":
		return TokenScopeManager, nil
	case "scope_token_admin":
		return TokenScopeAdmin, nil
	default:
		return 0, fmt.Errorf("unknown token scope %q", s)
	}
}

// UserScope is the privilege level carried by an exchanged cross-client
// JWT. Same ordering as Role/TokenScope, distinct serialization.
type UserScope int

const (
	UserScopeUser UserScope = iota
	UserScopePowerUser
	UserScopeManager
	UserScopeAdmin
)

func (s UserScope) String() string {
	switch s {
	case UserScopeUser:
		return "scope_user_user"
	case UserScopePowerUser:
		return "scope_user_power_user"
	case UserScopeManager:
		return "scope_user_manager"
	case UserScopeAdmin:
		return "scope_user_admin"
	default:
		return "scope_user_unknown"
	}
}

// HasAccessTo reports whether s is at least as privileged as required.
func (s UserScope) HasAccessTo(required UserScope) bool { return s >= required }

// ParseUserScope parses a single scope_user_* string. Picking the
// highest of several candidate strings is HighestUserScope's job.
func ParseUserScope(s string) (UserScope, error) {
	switch s {
	case "scope_user_user":
		return UserScopeUser, nil
	case "scope_user_power_user":
		return UserScopePowerUser, nil
	case "scope_user_manager":
		return UserScopeManager, nil
	case "scope_user_admin":
		return UserScopeAdmin, nil
	default:
		return 0, fmt.Errorf("unknown user scope %q", s)
	}
}

// HighestUserScope returns the highest-privilege UserScope found among a
// list of raw scope strings (space-separated OAuth scope claim values
// are expected to already be split by the caller), or ok=false if none
// of the candidates parse as a user scope.
func HighestUserScope(candidates []string) (scope UserScope, ok bool) {
	for _, c := range candidates {
		if parsed, err := ParseUserScope(c); err == nil {
			if !ok || parsed > scope {
				scope = parsed
				ok = true
			}
		}
	}
	return scope, ok
}

// --- Principal ---

// Principal is the per-request authenticated-caller sum type. Exactly
// one of the four variants is ever attached to a request context.
type Principal interface {
	isPrincipal()
}

// SessionPrincipal is a cookie-session caller. Injected as
// X-Resource-Role, never X-Resource-Scope.
type SessionPrincipal struct {
	UserID string
	Role   Role
}

func (SessionPrincipal) isPrincipal() {}

// ApiTokenPrincipal is a caller authenticated by an opaque bodhiapp_
// token. Injected as X-Resource-Scope with a scope_token_* value.
type ApiTokenPrincipal struct {
	UserID string
	Scope  TokenScope
}

func (ApiTokenPrincipal) isPrincipal() {}

// ExchangedUserPrincipal is a caller authenticated by a cross-client JWT
// that was exchanged via AuthService. Injected as X-Resource-Scope with
// a scope_user_* value.
type ExchangedUserPrincipal struct {
	UserID         string
	Scope          UserScope
	OriginClientID string
}

func (ExchangedUserPrincipal) isPrincipal() {}

// AnonymousPrincipal is attached when no credential was presented and the
// route tolerates it (dev mode, or the caller handles 401 itself).
type AnonymousPrincipal struct{}

func (AnonymousPrincipal) isPrincipal() {}

// Headers injected by AuthMiddleware, internal contract only -- never
// surfaced to the client.
const (
	HeaderResourceToken = "X-Resource-Token"
	HeaderResourceRole  = "X-Resource-Role"
	HeaderResourceScope = "X-Resource-Scope"
)

// --- API tokens ---

// TokenPrefix is the fixed prefix for all opaque API tokens.
const TokenPrefix = "bodhiapp_"

// TokenPrefixLookupLen is the number of leading characters of a raw
// token used as the DB lookup key: the fixed prefix plus the first 8
// characters of the random secret.
const TokenPrefixLookupLen = len(TokenPrefix) + 8

// TokenStatus is the lifecycle state of a persisted ApiToken.
type TokenStatus string

const (
	TokenActive   TokenStatus = "active"
	TokenInactive TokenStatus = "inactive"
)

// ApiToken is a persisted opaque bearer credential. Never deleted;
// status flips to TokenInactive to preserve audit history.
type ApiToken struct {
	ID          string
	UserID      string
	Name        string
	TokenPrefix string // first TokenPrefixLookupLen chars of the issued secret
	TokenHash   string // SHA-256 hex of the full secret
	Scope       TokenScope
	Status      TokenStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HashToken returns the hex-encoded SHA-256 hash of a raw token string.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// --- Alias sum type ---

// Alias is the sum of the three alias variants. Use a type switch at
// every call site; there is no common "kind" accessor by design. Go does
// not check a type switch for exhaustiveness, so a default branch that
// returns an error or panics is what catches a forgotten variant, at
// run time.
type Alias interface {
	AliasName() string
	aliasSealed()
}

// UserAlias is a hand-authored, YAML-backed alias.
type UserAlias struct {
	Alias         string
	Repo          string
	Filename      string
	Snapshot      string
	RequestParams json.RawMessage
	ContextParams json.RawMessage
}

func (a *UserAlias) AliasName() string { return a.Alias }
func (*UserAlias) aliasSealed()        {}

// ModelAlias is derived from the HF cache; Alias = "{repo}:{qualifier}"
// where qualifier is the last hyphen-segment before ".gguf".
type ModelAlias struct {
	Alias    string
	Repo     string
	Filename string
	Snapshot string
}

func (a *ModelAlias) AliasName() string { return a.Alias }
func (*ModelAlias) aliasSealed()        {}

// ApiAlias is a remote OpenAI-compatible provider configuration. The
// decrypted API key is never stored on this struct; it is held
// separately as ciphertext+salt+nonce and decrypted only at forward time.
type ApiAlias struct {
	ID                   string
	ApiFormat            string
	BaseURL              string
	Models               []string
	Prefix               string
	ForwardAllWithPrefix bool
	Cache                bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (a *ApiAlias) AliasName() string { return a.ID }
func (*ApiAlias) aliasSealed()        {}

// --- Model metadata ---

// Capabilities describes what a model can do, extracted from its GGUF
// header or configured on an ApiAlias.
type Capabilities struct {
	Vision           bool
	Audio            bool
	Thinking         bool
	FunctionCalling  bool
	StructuredOutput bool
}

// ContextLimits describes a model's token window.
type ContextLimits struct {
	MaxInputTokens  *int
	MaxOutputTokens *int
}

// ModelMetadata is keyed by (source, repo, filename, snapshot,
// api_model_id) with NULLs treated as distinct by the unique index --
// see the delete-then-insert requirement on the store's upsert method.
type ModelMetadata struct {
	Source           string // "model" or "api"
	Repo             *string
	Filename         *string
	Snapshot         *string
	APIModelID       *string
	Capabilities     Capabilities
	Context          ContextLimits
	ArchitectureJSON json.RawMessage
	ChatTemplate     *string
	ExtractedAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// --- Download requests ---

type DownloadStatus string

const (
	DownloadPending   DownloadStatus = "pending"
	DownloadRunning   DownloadStatus = "running"
	DownloadCompleted DownloadStatus = "completed"
	DownloadFailed    DownloadStatus = "failed"
)

type DownloadRequest struct {
	ID              string
	Repo            string
	Filename        string
	Status          DownloadStatus
	TotalBytes      *int64
	DownloadedBytes *int64
	Error           *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// --- Metadata refresh queue ---

// RefreshTask is the in-memory queue element consumed by the metadata
// worker. FIFO order, no persistence.
type RefreshTask interface {
	refreshSealed()
}

type RefreshAll struct {
	EnqueuedAt time.Time
}

func (RefreshAll) refreshSealed() {}

type RefreshSingle struct {
	AliasName  string
	EnqueuedAt time.Time
}

func (RefreshSingle) refreshSealed() {}

// --- OAuth credentials ---

// MCPServerConfig is a registered OAuth client for one MCP server.
type MCPServerConfig struct {
	ConfigID              string
	ClientID              string
	ClientSecretEnc       []byte
	ClientSecretSalt      []byte
	ClientSecretNonce     []byte
	AuthorizationEndpoint string
	TokenEndpoint         string
	Scopes                []string
}

// MCPOAuthToken is the token pair for one (config, user) pair. Replaced
// atomically on refresh, never accumulated.
type MCPOAuthToken struct {
	TokenID           string
	ConfigID          string
	UserID            string
	AccessTokenEnc    []byte
	AccessTokenSalt   []byte
	AccessTokenNonce  []byte
	RefreshTokenEnc   []byte // nil if no refresh token
	RefreshTokenSalt  []byte
	RefreshTokenNonce []byte
	ExpiresAt         time.Time
}

// --- App access requests ---

type AccessRequestStatus string

const (
	AccessRequestDraft    AccessRequestStatus = "draft"
	AccessRequestApproved AccessRequestStatus = "approved"
	AccessRequestDenied   AccessRequestStatus = "denied"
	AccessRequestFailed   AccessRequestStatus = "failed"
)

// AppAccessRequest is a request for elevated access, state machine
// Draft -> Approved|Denied|Failed. AccessRequestScope is unique across
// all rows, whatever their status; NULLs are distinct.
type AppAccessRequest struct {
	ID                 string
	RequestedRole      *Role
	RequestedScope     *TokenScope
	Status             AccessRequestStatus
	AccessRequestScope *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// --- App lifecycle (glossary: AppStatus) ---

type AppStatus string

const (
	AppStatusSetup         AppStatus = "setup"
	AppStatusResourceAdmin AppStatus = "resource_admin"
	AppStatusReady         AppStatus = "ready"
)

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context
// allocation. Principal is set later by the authenticate middleware via
// mutation of the same pointer, avoiding a second context.WithValue +
// Request.WithContext.
type requestMeta struct {
	RequestID string
	Principal Principal
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// PrincipalFromContext extracts the authenticated principal from ctx.
func PrincipalFromContext(ctx context.Context) Principal {
	if m := metaFromContext(ctx); m != nil {
		return m.Principal
	}
	return nil
}

// ContextWithPrincipal stores the principal in the existing requestMeta
// if present, falling back to creating new metadata (e.g. in tests).
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Principal = p
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Principal: p})
}

// RequestIDFromContext extracts the request ID from ctx.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Authenticator ---

// Authenticator validates request credentials and returns the caller's
// Principal. Implemented by TokenService and composed by
// AuthMiddleware with session lookup.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Principal, error)
}
