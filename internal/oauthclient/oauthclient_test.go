package oauthclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestIssuer stands up a minimal OIDC discovery + token + registration
// endpoint, using an httptest-backed service test.
func newTestIssuer(t *testing.T, tokenHandler, registerHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/auth",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/jwks",
			"registration_endpoint":  srv.URL + "/register",
		})
	})
	if tokenHandler != nil {
		mux.HandleFunc("/token", tokenHandler)
	}
	if registerHandler != nil {
		mux.HandleFunc("/register", registerHandler)
	}

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestExchangeAppToken_Success(t *testing.T) {
	srv := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != grantTypeTokenExchange {
			t.Errorf("grant_type = %q, want %q", got, grantTypeTokenExchange)
		}
		if got := r.Form.Get("subject_token"); got != "inbound-jwt" {
			t.Errorf("subject_token = %q, want inbound-jwt", got)
		}
		if user, _, ok := r.BasicAuth(); !ok || user != "this-client" {
			t.Errorf("missing/incorrect client basic auth, got user %q ok %v", user, ok)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":      "exchanged-token",
			"issued_token_type": tokenTypeAccessToken,
			"token_type":        "Bearer",
			"scope":             "openid email profile roles",
		})
	}, nil)

	svc, err := New(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	token, scopes, err := svc.ExchangeAppToken(context.Background(), "this-client", "secret", "inbound-jwt", []string{"openid", "email"})
	if err != nil {
		t.Fatalf("ExchangeAppToken: %v", err)
	}
	if token != "exchanged-token" {
		t.Errorf("token = %q, want exchanged-token", token)
	}
	if strings.Join(scopes, " ") != "openid email profile roles" {
		t.Errorf("scopes = %v", scopes)
	}
}

func TestExchangeAppToken_ServerError(t *testing.T) {
	srv := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
	}, nil)

	svc, err := New(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, _, err = svc.ExchangeAppToken(context.Background(), "this-client", "secret", "inbound-jwt", nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRegisterClient_Success(t *testing.T) {
	srv := newTestIssuer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["client_name"] != "bodhi gateway" {
			t.Errorf("client_name = %v", body["client_name"])
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"client_id":     "generated-client-id",
			"client_secret": "generated-secret",
			"scope":         "openid email profile roles scope_user",
		})
	})

	svc, err := New(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	info, err := svc.RegisterClient(context.Background(), "bodhi gateway", "", []string{"http://localhost:1135/ui/auth/callback"})
	if err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	if info.ClientID != "generated-client-id" || info.ClientSecret != "generated-secret" {
		t.Errorf("info = %+v", info)
	}
}

func TestBuildRedirectURIs_PublicURLConfigured(t *testing.T) {
	got := BuildRedirectURIs("https://bodhi.example.com", "192.168.1.5:1135", 1135)
	want := []string{"https://bodhi.example.com/ui/auth/callback"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBuildRedirectURIs_LoopbackPlusNonLoopbackHost(t *testing.T) {
	got := BuildRedirectURIs("", "192.168.1.5:1135", 1135)
	if len(got) != 4 {
		t.Fatalf("got %d uris, want 4: %v", len(got), got)
	}
	last := got[len(got)-1]
	if last != "http://192.168.1.5:1135/ui/auth/callback" {
		t.Errorf("last uri = %q", last)
	}
}

func TestBoundExchanger_DelegatesWithFixedCredentials(t *testing.T) {
	var gotUser string
	srv := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		gotUser, _, ok = r.BasicAuth()
		if !ok {
			t.Error("missing basic auth")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "issued_token_type": tokenTypeAccessToken})
	}, nil)

	svc, err := New(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ex := NewBoundExchanger(svc, "bound-client", "bound-secret")

	token, _, err := ex.ExchangeAppToken(context.Background(), "inbound-jwt", []string{"openid"})
	if err != nil {
		t.Fatalf("ExchangeAppToken: %v", err)
	}
	if token != "tok" {
		t.Errorf("token = %q", token)
	}
	if gotUser != "bound-client" {
		t.Errorf("basic auth user = %q, want bound-client", gotUser)
	}
}

func TestBuildRedirectURIs_LoopbackRequestHostNotDuplicated(t *testing.T) {
	got := BuildRedirectURIs("", "localhost:1135", 1135)
	if len(got) != 3 {
		t.Errorf("got %d uris, want 3 (no duplicate for loopback request host): %v", len(got), got)
	}
}
