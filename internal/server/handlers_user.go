package server

import (
	"net/http"

	gateway "github.com/bodhi-run/bodhi/internal"
)

// userInfoResponse is shaped for the caller to confirm who it's talking
// as, without re-deriving the AuthMiddleware-injected headers itself.
type userInfoResponse struct {
	UserID     string `json:"user_id,omitempty"`
	TokenType  string `json:"token_type"`
	RoleSource string `json:"role_source"`
	Role       string `json:"role,omitempty"`
	Scope      string `json:"scope,omitempty"`
}

// handleUserInfo reports the authenticated caller's identity, reading
// the Principal attached to the request by AuthMiddleware -- never
// re-parsing headers itself.
func (s *server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	switch p := gateway.PrincipalFromContext(r.Context()).(type) {
	case gateway.SessionPrincipal:
		writeJSON(w, http.StatusOK, userInfoResponse{
			UserID: p.UserID, TokenType: "session", RoleSource: "session", Role: p.Role.String(),
		})
	case gateway.ApiTokenPrincipal:
		writeJSON(w, http.StatusOK, userInfoResponse{
			UserID: p.UserID, TokenType: "api_token", RoleSource: "scope_token", Scope: p.Scope.String(),
		})
	case gateway.ExchangedUserPrincipal:
		writeJSON(w, http.StatusOK, userInfoResponse{
			UserID: p.UserID, TokenType: "exchanged_jwt", RoleSource: "scope_user", Scope: p.Scope.String(),
		})
	default:
		writeJSON(w, http.StatusOK, userInfoResponse{TokenType: "anonymous", RoleSource: "none"})
	}
}
