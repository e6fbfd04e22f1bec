// Package oauthclient implements the AuthService: the OAuth2/OIDC
// client the gateway uses against the shared issuer for login
// (authorization-code + PKCE exchange), refresh, cross-client token
// exchange (RFC 8693), and dynamic client registration.
package oauthclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	gateway "github.com/bodhi-run/bodhi/internal"
)

const (
	// grantTypeTokenExchange is the RFC 8693 token-exchange grant type.
	grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	tokenTypeAccessToken   = "urn:ietf:params:oauth:token-type:access_token"

	httpTimeout = 30 * time.Second
	maxBodySize = 1 << 20

	redirectPath = "/ui/auth/callback"
)

// AppRegInfo is the outcome of dynamic client registration.
type AppRegInfo struct {
	ClientID     string
	ClientSecret string
	Scope        string
}

// Service implements AuthService against a single shared OIDC issuer.
type Service struct {
	issuer     *oidc.Provider
	httpClient *http.Client
}

// New discovers the issuer's OIDC metadata (including, opportunistically,
// its registration_endpoint) at issuerURL.
func New(ctx context.Context, issuerURL string) (*Service, error) {
	client := &http.Client{Timeout: httpTimeout}
	ctx = oidc.ClientContext(ctx, client)
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oauthclient: discover issuer %s: %w", issuerURL, err)
	}
	return &Service{issuer: provider, httpClient: client}, nil
}

func (s *Service) oauth2Config(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint:     s.issuer.Endpoint(),
	}
}

func (s *Service) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// AuthCodeURL builds the issuer's authorization endpoint URL for the
// login-initiation step. pkceVerifier is the raw code_verifier;
// oauth2.S256ChallengeOption derives the code_challenge sent in the URL.
func (s *Service) AuthCodeURL(clientID, redirectURI, state, pkceVerifier string) string {
	conf := s.oauth2Config(clientID, "", redirectURI)
	return conf.AuthCodeURL(state, oauth2.S256ChallengeOption(pkceVerifier))
}

// ExchangeAuthCode trades an authorization code plus its PKCE verifier
// for an access/refresh token pair.
func (s *Service) ExchangeAuthCode(ctx context.Context, code, clientID, redirectURI, pkceVerifier string) (accessToken, refreshToken string, err error) {
	conf := s.oauth2Config(clientID, "", redirectURI)
	tok, err := conf.Exchange(s.withHTTPClient(ctx), code, oauth2.VerifierOption(pkceVerifier))
	if err != nil {
		return "", "", fmt.Errorf("oauthclient: exchange auth code: %w", err)
	}
	return tok.AccessToken, tok.RefreshToken, nil
}

// RefreshToken performs a refresh-grant against the issuer. Some issuers
// omit refresh_token on rotation; in that case the original token is
// carried forward.
func (s *Service) RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (accessToken, newRefreshToken string, expiresAt time.Time, err error) {
	conf := s.oauth2Config(clientID, clientSecret, "")
	src := conf.TokenSource(s.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("oauthclient: refresh token: %w", err)
	}
	rt := tok.RefreshToken
	if rt == "" {
		rt = refreshToken
	}
	return tok.AccessToken, rt, tok.Expiry, nil
}

// BoundExchanger adapts ExchangeAppToken to the auth.Exchanger interface
// (internal/auth/token.go), which carries only the subject token and
// scopes -- this app's own client_id/client_secret never vary across
// requests, so they are bound once here instead of threaded through
// TokenService.
type BoundExchanger struct {
	svc          *Service
	clientID     string
	clientSecret string
}

// NewBoundExchanger binds svc to a fixed client_id/client_secret pair.
func NewBoundExchanger(svc *Service, clientID, clientSecret string) *BoundExchanger {
	return &BoundExchanger{svc: svc, clientID: clientID, clientSecret: clientSecret}
}

// ExchangeAppToken satisfies auth.Exchanger.
func (b *BoundExchanger) ExchangeAppToken(ctx context.Context, subjectToken string, scopes []string) (string, []string, error) {
	return b.svc.ExchangeAppToken(ctx, b.clientID, b.clientSecret, subjectToken, scopes)
}

// ExchangeAppToken performs the RFC 8693 token exchange:
// the subject token (a JWT issued to another client) is traded for one
// scoped to thisClientID. x/oauth2 has no native RFC 8693 helper, so the
// form-POST request is built by hand.
func (s *Service) ExchangeAppToken(ctx context.Context, thisClientID, thisClientSecret, subjectToken string, scopes []string) (accessToken string, grantedScopes []string, err error) {
	data := url.Values{}
	data.Set("grant_type", grantTypeTokenExchange)
	data.Set("subject_token", subjectToken)
	data.Set("subject_token_type", tokenTypeAccessToken)
	data.Set("requested_token_type", tokenTypeAccessToken)
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.issuer.Endpoint().TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", nil, fmt.Errorf("oauthclient: build token exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(thisClientID), url.QueryEscape(thisClientSecret))

	body, err := s.doForJSON(req)
	if err != nil {
		return "", nil, err
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", nil, fmt.Errorf("oauthclient: parse token exchange response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", nil, gateway.NewAuthentication("token_error-exchange_failed", "token exchange: server returned empty access_token")
	}
	if tr.Scope != "" {
		grantedScopes = strings.Fields(tr.Scope)
	}
	return tr.AccessToken, grantedScopes, nil
}

// registrationMetadata is the subset of the issuer's discovery document
// this package reads via oidc.Provider.Claims.
type registrationMetadata struct {
	RegistrationEndpoint string `json:"registration_endpoint"`
}

func (s *Service) registrationEndpoint() (string, error) {
	var md registrationMetadata
	if err := s.issuer.Claims(&md); err != nil {
		return "", fmt.Errorf("oauthclient: parse issuer metadata: %w", err)
	}
	if md.RegistrationEndpoint == "" {
		return "", fmt.Errorf("oauthclient: issuer does not advertise a registration_endpoint")
	}
	return md.RegistrationEndpoint, nil
}

// RegisterClient performs OAuth 2.0 Dynamic Client Registration against
// the issuer's registration_endpoint, producing the credentials this app
// uses for every subsequent OAuth flow.
func (s *Service) RegisterClient(ctx context.Context, name, description string, redirectURIs []string) (*AppRegInfo, error) {
	endpoint, err := s.registrationEndpoint()
	if err != nil {
		return nil, err
	}

	reqBody := struct {
		ClientName              string   `json:"client_name"`
		ClientDescription       string   `json:"client_description,omitempty"`
		RedirectURIs            []string `json:"redirect_uris"`
		GrantTypes              []string `json:"grant_types"`
		ResponseTypes           []string `json:"response_types"`
		TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	}{
		ClientName:              name,
		ClientDescription:       description,
		RedirectURIs:            redirectURIs,
		GrantTypes:              []string{"authorization_code", "refresh_token", grantTypeTokenExchange},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_basic",
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("oauthclient: marshal registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("oauthclient: build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := s.doForJSON(req)
	if err != nil {
		return nil, err
	}

	var cr struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("oauthclient: parse registration response: %w", err)
	}
	if cr.ClientID == "" {
		return nil, fmt.Errorf("oauthclient: registration response missing client_id")
	}
	return &AppRegInfo{ClientID: cr.ClientID, ClientSecret: cr.ClientSecret, Scope: cr.Scope}, nil
}

// doForJSON executes req and returns its body, translating non-2xx
// responses into a domain authentication error.
func (s *Service) doForJSON(req *http.Request) ([]byte, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauthclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("oauthclient: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, gateway.NewAuthentication("token_error-exchange_failed",
			fmt.Sprintf("oauth request to %s failed with status %d", req.URL.Path, resp.StatusCode))
	}
	return body, nil
}

// BuildRedirectURIs constructs the redirect_uri set used for dynamic
// client registration. When publicURL is configured, exactly one
// URI is registered; otherwise one per loopback host, plus -- when
// requestHost names a non-loopback address -- that address's own
// callback URI.
func BuildRedirectURIs(publicURL, requestHost string, port int) []string {
	if publicURL != "" {
		return []string{strings.TrimRight(publicURL, "/") + redirectPath}
	}

	loopbackHosts := []string{"localhost", "127.0.0.1", "0.0.0.0"}
	uris := make([]string, 0, len(loopbackHosts)+1)
	for _, h := range loopbackHosts {
		uris = append(uris, "http://"+net.JoinHostPort(h, strconv.Itoa(port))+redirectPath)
	}

	if h := hostOnly(requestHost); h != "" && !isLoopbackHost(h) {
		uris = append(uris, "http://"+net.JoinHostPort(h, strconv.Itoa(port))+redirectPath)
	}
	return uris
}

func hostOnly(hostHeader string) string {
	h, _, err := net.SplitHostPort(hostHeader)
	if err != nil {
		return hostHeader
	}
	return h
}

// isLoopbackHost reports whether h names a loopback address, following
// the RFC 8252 §7.3 convention for loopback redirect-URI matching.
func isLoopbackHost(h string) bool {
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
