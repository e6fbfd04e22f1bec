// Package auth implements the TokenService: bearer-credential validation
// for two token shapes -- opaque bodhiapp_ API tokens and cross-client
// JWTs forwarded from the shared OIDC issuer.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/singleflight"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/storage"
)

const (
	tokenCacheTTL    = 30 * time.Second // short enough to pick up revocations promptly
	tokenCacheMaxLen = 10_000

	exchangeCacheTTL    = 5 * time.Minute
	exchangeCacheMaxLen = 10_000

	// digestLen is the number of hex characters of the SHA-256 digest of
	// the full inbound token used as the exchange cache key. Never the
	// JWT jti claim -- two forged tokens can share a jti, but cannot
	// share a content digest.
	digestLen = 12
)

// baseExchangeScopes are unioned into every cross-client exchange
// request regardless of what the inbound token already carries.
var baseExchangeScopes = []string{"openid", "email", "profile", "roles"}

// Validated is the outcome of validating one bearer header: the
// principal to attach to the request, plus (for a JWT path) the access
// token that should be used when forwarding the request upstream.
type Validated struct {
	Principal   gateway.Principal
	AccessToken string // the raw token itself, or the exchanged token for cross-client JWTs
}

// Exchanger is AuthService's token-exchange surface, consumed here
// so TokenService carries no dependency on OIDC discovery or transport.
type Exchanger interface {
	// ExchangeAppToken performs the RFC 8693 token exchange,
	// returning the exchanged access token and its granted scopes.
	ExchangeAppToken(ctx context.Context, subjectToken string, scopes []string) (accessToken string, grantedScopes []string, err error)
}

// TokenService validates the Authorization header of inbound requests
// for both token kinds, using an otter-cache-then-store shape.
type TokenService struct {
	store         storage.TokenStore
	exchanger     Exchanger
	ownClientID   string
	tokenCache    *otter.Cache[string, *gateway.ApiToken]
	exchangeCache *otter.Cache[string, exchangeResult]
	sf            singleflight.Group
}

type exchangeResult struct {
	accessToken string
	scope       gateway.UserScope
}

// New builds a TokenService. ownClientID is this app's OAuth client id,
// compared against a JWT's azp claim to decide same-client vs
// cross-client.
func New(store storage.TokenStore, exchanger Exchanger, ownClientID string) (*TokenService, error) {
	tokenCache, err := otter.New(&otter.Options[string, *gateway.ApiToken]{
		MaximumSize:      tokenCacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *gateway.ApiToken](tokenCacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	exchangeCache, err := otter.New(&otter.Options[string, exchangeResult]{
		MaximumSize:      exchangeCacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, exchangeResult](exchangeCacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create exchange cache: %w", err)
	}
	return &TokenService{
		store:         store,
		exchanger:     exchanger,
		ownClientID:   ownClientID,
		tokenCache:    tokenCache,
		exchangeCache: exchangeCache,
	}, nil
}

// ValidateBearer is the bearer-validation entry point.
// header is the full Authorization header value, e.g. "Bearer bodhiapp_...".
func (s *TokenService) ValidateBearer(ctx context.Context, header string) (Validated, error) {
	raw, ok := splitBearer(header)
	if !ok {
		return Validated{}, gateway.NewAuthentication("token_error-malformed_header", "malformed Authorization header")
	}

	if strings.HasPrefix(raw, gateway.TokenPrefix) {
		return s.validateOpaqueToken(ctx, raw)
	}
	return s.validateJWT(ctx, raw)
}

func splitBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if raw == "" {
		return "", false
	}
	return raw, true
}

// validateOpaqueToken handles the bodhiapp_-prefixed shape: DB lookup by
// prefix, full-hash verification, status check.
func (s *TokenService) validateOpaqueToken(ctx context.Context, raw string) (Validated, error) {
	if len(raw) < gateway.TokenPrefixLookupLen {
		return Validated{}, gateway.NewAuthentication("token_error-malformed_header", "token too short")
	}
	lookupKey := raw[:gateway.TokenPrefixLookupLen]
	hash := gateway.HashToken(raw)

	if cached, ok := s.tokenCache.GetIfPresent(lookupKey); ok {
		return s.checkOpaqueToken(cached, hash, raw)
	}

	t, err := s.store.GetTokenByPrefix(ctx, lookupKey)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return Validated{}, gateway.NewAuthentication("token_error-not_found", "token not found")
		}
		return Validated{}, err
	}
	s.tokenCache.Set(lookupKey, t)
	return s.checkOpaqueToken(t, hash, raw)
}

func (s *TokenService) checkOpaqueToken(t *gateway.ApiToken, hash, raw string) (Validated, error) {
	if subtle.ConstantTimeCompare([]byte(t.TokenHash), []byte(hash)) != 1 {
		return Validated{}, gateway.NewAuthentication("token_error-not_found", "token not found")
	}
	if t.Status != gateway.TokenActive {
		return Validated{}, gateway.ErrTokenInactive
	}
	return Validated{
		Principal:   gateway.ApiTokenPrincipal{UserID: t.UserID, Scope: t.Scope},
		AccessToken: raw,
	}, nil
}

// Authenticate implements gateway.Authenticator for the bearer-token
// path of AuthMiddleware; session-cookie handling happens
// in the server package before falling back to this method.
func (s *TokenService) Authenticate(ctx context.Context, r *http.Request) (gateway.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, gateway.ErrMissingAuth
	}
	v, err := s.ValidateBearer(ctx, header)
	if err != nil {
		return nil, err
	}
	return v.Principal, nil
}

// InvalidateToken drops a cached opaque token lookup, e.g. after an admin
// flips its status to inactive.
func (s *TokenService) InvalidateToken(prefix string) {
	s.tokenCache.Invalidate(prefix)
}

// validateJWT handles the JWT-from-trusted-issuer shape: parse claims
// without verifying the signature -- the token already arrived as an
// opaque forwarded credential, the shared issuer signed it and we only
// read azp/sub/scope -- then branch same-client vs cross-client.
func (s *TokenService) validateJWT(ctx context.Context, raw string) (Validated, error) {
	tok, err := jwt.ParseString(raw, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return Validated{}, gateway.NewAuthentication("token_error-malformed_header", "malformed bearer token").Wrap(err)
	}

	var sub string
	_ = tok.Get(jwt.SubjectKey, &sub)

	var azp string
	_ = tok.Get("azp", &azp)

	var rawScope string
	_ = tok.Get("scope", &rawScope)
	scopes := strings.Fields(rawScope)

	if azp == "" || azp == s.ownClientID {
		scope, ok := gateway.HighestUserScope(scopes)
		if !ok {
			return Validated{}, gateway.ErrScopeEmpty
		}
		return Validated{
			Principal:   gateway.ExchangedUserPrincipal{UserID: sub, Scope: scope},
			AccessToken: raw,
		}, nil
	}

	return s.exchangeCrossClient(ctx, raw, sub, azp, scopes)
}

// exchangeCrossClient implements the cross-client exchange branch:
// augmented-scope exchange through AuthService, coalesced per distinct
// inbound token via singleflight and cached by content digest.
func (s *TokenService) exchangeCrossClient(ctx context.Context, raw, sub, azp string, scopes []string) (Validated, error) {
	key := digest(raw)

	if cached, ok := s.exchangeCache.GetIfPresent(key); ok {
		return Validated{
			Principal:   gateway.ExchangedUserPrincipal{UserID: sub, Scope: cached.scope, OriginClientID: azp},
			AccessToken: cached.accessToken,
		}, nil
	}

	v, err, _ := s.sf.Do(key, func() (any, error) {
		if cached, ok := s.exchangeCache.GetIfPresent(key); ok {
			return cached, nil
		}
		accessToken, granted, err := s.exchanger.ExchangeAppToken(ctx, raw, unionScopes(scopes, baseExchangeScopes))
		if err != nil {
			return nil, gateway.NewAuthentication("token_error-exchange_failed", "cross-client token exchange failed").Wrap(err)
		}
		scope, ok := gateway.HighestUserScope(granted)
		if !ok {
			return nil, gateway.ErrScopeEmpty
		}
		result := exchangeResult{accessToken: accessToken, scope: scope}
		s.exchangeCache.Set(key, result)
		return result, nil
	})
	if err != nil {
		return Validated{}, err
	}
	result := v.(exchangeResult)
	return Validated{
		Principal:   gateway.ExchangedUserPrincipal{UserID: sub, Scope: result.scope, OriginClientID: azp},
		AccessToken: result.accessToken,
	}, nil
}

// digest derives the exchange cache key from the full inbound token --
// never the JWT jti claim, since two forged tokens can share a jti
// while a content digest binds the entry to the exact exchanged bytes.
func digest(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])[:digestLen]
}

// unionScopes returns the deduplicated set-union of a and b, preserving
// a's order then appending b's novel entries.
func unionScopes(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
