package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	gateway "github.com/bodhi-run/bodhi/internal"
)

// makeTestJWT builds a symmetrically-signed JWT carrying claims. The
// signature is never verified by TokenService (the token is an opaque
// forwarded credential), so any valid key works here.
func makeTestJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	b := jwt.NewBuilder()
	for k, v := range claims {
		b = b.Claim(k, v)
	}
	tok, err := b.Build()
	if err != nil {
		t.Fatalf("build jwt: %v", err)
	}
	key := []byte("test-signing-key-not-verified-anyway")
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), key))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return string(signed)
}

// fakeTokenStore is a minimal in-memory storage.TokenStore for auth tests.
type fakeTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*gateway.ApiToken // prefix -> token
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]*gateway.ApiToken)}
}

func (s *fakeTokenStore) addToken(raw string, t *gateway.ApiToken) {
	t.TokenPrefix = raw[:gateway.TokenPrefixLookupLen]
	t.TokenHash = gateway.HashToken(raw)
	s.mu.Lock()
	s.tokens[t.TokenPrefix] = t
	s.mu.Unlock()
}

func (s *fakeTokenStore) CreateToken(_ context.Context, t *gateway.ApiToken) error {
	s.mu.Lock()
	s.tokens[t.TokenPrefix] = t
	s.mu.Unlock()
	return nil
}

func (s *fakeTokenStore) GetTokenByPrefix(_ context.Context, prefix string) (*gateway.ApiToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[prefix]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return t, nil
}

func (s *fakeTokenStore) GetToken(context.Context, string) (*gateway.ApiToken, error) {
	return nil, gateway.ErrNotFound
}
func (s *fakeTokenStore) ListTokens(context.Context, string, int, int) ([]*gateway.ApiToken, error) {
	return nil, nil
}
func (s *fakeTokenStore) UpdateToken(context.Context, *gateway.ApiToken) error { return nil }

// fakeExchanger records calls and returns a canned exchange result.
type fakeExchanger struct {
	mu       sync.Mutex
	calls    int
	gotScope []string
	token    string
	scopes   []string
	err      error
}

func (f *fakeExchanger) ExchangeAppToken(_ context.Context, _ string, scopes []string) (string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotScope = scopes
	if f.err != nil {
		return "", nil, f.err
	}
	return f.token, f.scopes, nil
}

const testToken = "bodhiapp_test1234567890abcdef"

func newTestService(t *testing.T, exch Exchanger) (*TokenService, *fakeTokenStore) {
	t.Helper()
	store := newFakeTokenStore()
	svc, err := New(store, exch, "own-client")
	if err != nil {
		t.Fatal(err)
	}
	return svc, store
}

func makeBearerRequest(raw string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	if raw != "" {
		r.Header.Set("Authorization", "Bearer "+raw)
	}
	return r
}

func TestValidateBearer_OpaqueToken_Active(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, nil)
	store.addToken(testToken, &gateway.ApiToken{
		ID:     "tok-1",
		UserID: "user-1",
		Scope:  gateway.TokenScopeManager,
		Status: gateway.TokenActive,
	})

	v, err := svc.ValidateBearer(context.Background(), "Bearer "+testToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, ok := v.Principal.(gateway.ApiTokenPrincipal)
	if !ok {
		t.Fatalf("principal = %#v, want ApiTokenPrincipal", v.Principal)
	}
	if p.UserID != "user-1" || p.Scope != gateway.TokenScopeManager {
		t.Errorf("principal = %+v, want user-1/manager", p)
	}
}

func TestValidateBearer_OpaqueToken_CacheHit(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, nil)
	store.addToken(testToken, &gateway.ApiToken{
		ID:     "tok-1",
		UserID: "user-1",
		Scope:  gateway.TokenScopeUser,
		Status: gateway.TokenActive,
	})

	if _, err := svc.ValidateBearer(context.Background(), "Bearer "+testToken); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	delete(store.tokens, testToken[:gateway.TokenPrefixLookupLen])
	store.mu.Unlock()

	if _, err := svc.ValidateBearer(context.Background(), "Bearer "+testToken); err != nil {
		t.Fatalf("cache miss: %v", err)
	}
}

func TestValidateBearer_OpaqueToken_Inactive(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, nil)
	store.addToken(testToken, &gateway.ApiToken{
		ID:     "tok-1",
		UserID: "user-1",
		Status: gateway.TokenInactive,
	})

	_, err := svc.ValidateBearer(context.Background(), "Bearer "+testToken)
	if err != gateway.ErrTokenInactive {
		t.Errorf("err = %v, want ErrTokenInactive", err)
	}
}

func TestValidateBearer_OpaqueToken_NotFound(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil)

	_, err := svc.ValidateBearer(context.Background(), "Bearer bodhiapp_unknownunknown")
	if gateway.HTTPStatusOf(err) != 401 {
		t.Errorf("status = %d, want 401", gateway.HTTPStatusOf(err))
	}
}

func TestValidateBearer_MalformedHeader(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil)

	for _, h := range []string{"", "Basic abcdef", "Bearer "} {
		if _, err := svc.ValidateBearer(context.Background(), h); err == nil {
			t.Errorf("header %q: want error, got nil", h)
		}
	}
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil)

	_, err := svc.Authenticate(context.Background(), makeBearerRequest(""))
	if err != gateway.ErrMissingAuth {
		t.Errorf("err = %v, want ErrMissingAuth", err)
	}
}

func TestValidateBearer_SameClientJWT(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil)

	raw := makeTestJWT(t, map[string]any{
		"sub":   "user-2",
		"azp":   "own-client",
		"scope": "scope_user_power_user",
	})

	v, err := svc.ValidateBearer(context.Background(), "Bearer "+raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, ok := v.Principal.(gateway.ExchangedUserPrincipal)
	if !ok {
		t.Fatalf("principal = %#v, want ExchangedUserPrincipal", v.Principal)
	}
	if p.UserID != "user-2" || p.Scope != gateway.UserScopePowerUser || p.OriginClientID != "" {
		t.Errorf("principal = %+v", p)
	}
}

func TestValidateBearer_CrossClientJWT_ExchangesAndCoalesces(t *testing.T) {
	t.Parallel()
	exch := &fakeExchanger{token: "exchanged-token", scopes: []string{"scope_user_admin"}}
	svc, _ := newTestService(t, exch)

	raw := makeTestJWT(t, map[string]any{
		"sub":   "user-3",
		"azp":   "other-client",
		"scope": "scope_user_user",
	})

	var wg sync.WaitGroup
	results := make([]Validated, 5)
	errs := make([]error, 5)
	for i := range 5 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ValidateBearer(context.Background(), "Bearer "+raw)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		p := results[i].Principal.(gateway.ExchangedUserPrincipal)
		if p.UserID != "user-3" || p.Scope != gateway.UserScopeAdmin || p.OriginClientID != "other-client" {
			t.Errorf("call %d: principal = %+v", i, p)
		}
		if results[i].AccessToken != "exchanged-token" {
			t.Errorf("call %d: access token = %q", i, results[i].AccessToken)
		}
	}

	exch.mu.Lock()
	calls := exch.calls
	gotScope := exch.gotScope
	exch.mu.Unlock()
	if calls != 1 {
		t.Errorf("exchange calls = %d, want 1 (singleflight + cache should coalesce)", calls)
	}
	wantScopes := map[string]bool{"scope_user_user": true, "openid": true, "email": true, "profile": true, "roles": true}
	if len(gotScope) != len(wantScopes) {
		t.Errorf("exchange scopes = %v, want union with %v", gotScope, wantScopes)
	}
	for _, s := range gotScope {
		if !wantScopes[s] {
			t.Errorf("unexpected scope %q sent to exchanger", s)
		}
	}
}

func TestValidateBearer_CrossClientJWT_ExchangeFailure(t *testing.T) {
	t.Parallel()
	exch := &fakeExchanger{err: errTestExchange}
	svc, _ := newTestService(t, exch)

	raw := makeTestJWT(t, map[string]any{
		"sub":   "user-4",
		"azp":   "other-client",
		"scope": "scope_user_user",
	})

	_, err := svc.ValidateBearer(context.Background(), "Bearer "+raw)
	if err == nil {
		t.Fatal("want error")
	}
}

func TestValidateBearer_EmptyScope(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil)

	raw := makeTestJWT(t, map[string]any{
		"sub": "user-5",
		"azp": "own-client",
	})

	_, err := svc.ValidateBearer(context.Background(), "Bearer "+raw)
	if err != gateway.ErrScopeEmpty {
		t.Errorf("err = %v, want ErrScopeEmpty", err)
	}
}

func TestInvalidateToken(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, nil)
	store.addToken(testToken, &gateway.ApiToken{
		ID:     "tok-1",
		UserID: "user-1",
		Status: gateway.TokenActive,
	})
	if _, err := svc.ValidateBearer(context.Background(), "Bearer "+testToken); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	store.tokens[testToken[:gateway.TokenPrefixLookupLen]].Status = gateway.TokenInactive
	store.mu.Unlock()
	svc.InvalidateToken(testToken[:gateway.TokenPrefixLookupLen])

	_, err := svc.ValidateBearer(context.Background(), "Bearer "+testToken)
	if err != gateway.ErrTokenInactive {
		t.Errorf("err = %v, want ErrTokenInactive after cache invalidation", err)
	}
}

var errTestExchange = &testErr{"exchange failed upstream"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }
