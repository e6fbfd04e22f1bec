package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/storage"
)

// handleAuthInitiate begins the login flow: a
// fresh session row is created holding a random oauth_state and PKCE
// verifier, and the issuer's authorization URL (carrying state and the
// derived code_challenge) is returned for the client to redirect to.
func (s *server) handleAuthInitiate(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.Must(uuid.NewV7()).String()
	state := uuid.Must(uuid.NewV7()).String()
	verifier := oauth2.GenerateVerifier()

	if err := s.deps.Store.CreateSession(r.Context(), &storage.Session{
		ID:           sessionID,
		OAuthState:   state,
		PKCEVerifier: verifier,
	}); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(gateway.NewInternalServer("internal_server_error", "failed to create session")))
		return
	}

	redirectURI := strings.TrimRight(s.deps.Config.OAuth.RedirectBase, "/") + "/ui/auth/callback"
	location := s.deps.OAuth.AuthCodeURL(s.clientID(r.Context()), redirectURI, state, verifier)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   !s.devMode(r),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"location": location,
		"state":    state,
	})
}

// handleAuthCallback completes the login flow: the state is checked
// byte-for-byte against the session row, the authorization code is
// exchanged for an access/refresh pair, and AppStatus advances to Ready
// on the first successful login.
func (s *server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse(gateway.ErrMissingAuth))
		return
	}
	sess, err := s.deps.Store.GetSession(r.Context(), cookie.Value)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse(gateway.NewAuthentication("auth_error-session_not_found", "session not found")))
		return
	}

	state := r.URL.Query().Get("state")
	if state == "" || state != sess.OAuthState {
		writeJSON(w, gateway.HTTPStatusOf(gateway.ErrStateMismatch), errorResponse(gateway.ErrStateMismatch))
		return
	}

	code := r.URL.Query().Get("code")
	redirectURI := strings.TrimRight(s.deps.Config.OAuth.RedirectBase, "/") + "/ui/auth/callback"
	accessToken, refreshToken, err := s.deps.OAuth.ExchangeAuthCode(r.Context(), code, s.clientID(r.Context()), redirectURI, sess.PKCEVerifier)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse(gateway.NewAuthentication("auth_error-exchange_failed", "authorization code exchange failed")))
		return
	}

	if err := s.deps.Store.ReplaceSessionTokens(r.Context(), sess.ID, accessToken, refreshToken, time.Now().Add(time.Hour).Unix()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(gateway.NewInternalServer("internal_server_error", "failed to store session tokens")))
		return
	}
	if err := s.deps.Store.ClearOAuthState(r.Context(), sess.ID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(gateway.NewInternalServer("internal_server_error", "failed to clear oauth state")))
		return
	}

	if status, err := s.deps.Store.GetAppStatus(r.Context()); err == nil && status == gateway.AppStatusResourceAdmin {
		_ = s.deps.Store.SetAppStatus(r.Context(), gateway.AppStatusReady)
	}

	writeJSON(w, http.StatusOK, map[string]any{"logged_in": true})
}

// clientID resolves this app's OAuth client_id: the statically
// configured value if present, else the one persisted by handleSetup's
// dynamic registration. A process restart is required to pick up a
// freshly-registered client_id into TokenService's own-client
// comparison (its ownClientID is fixed at construction).
func (s *server) clientID(ctx context.Context) string {
	if s.deps.Config.OAuth.ClientID != "" {
		return s.deps.Config.OAuth.ClientID
	}
	if setting, ok, err := s.deps.Settings.Get(ctx, "oauth.client_id"); err == nil && ok {
		return setting.Value
	}
	return ""
}
