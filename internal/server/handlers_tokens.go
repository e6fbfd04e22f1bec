package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	gateway "github.com/bodhi-run/bodhi/internal"
)

type createTokenRequest struct {
	Name  string `json:"name"`
	Scope string `json:"scope"` // scope_token_*
}

type tokenResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Scope  string `json:"scope"`
	Status string `json:"status"`
	Token  string `json:"token,omitempty"` // only present on creation
}

// handleCreateToken issues a new opaque API token. A caller can never
// mint a token above its own privilege ceiling: e.g. a
// resource_user session cannot issue a scope_token_power_user token.
func (s *server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(gateway.NewValidation("request_error-invalid_body", "invalid request body")))
		return
	}

	scope, err := gateway.ParseTokenScope(req.Scope)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(gateway.NewValidation("request_error-invalid_scope", "invalid scope")))
		return
	}

	callerLevel, userID, ok := callerPrivilege(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse(gateway.ErrMissingAuth))
		return
	}
	if int(scope) > callerLevel {
		writeJSON(w, http.StatusBadRequest, errorResponse(gateway.NewValidation("request_error-scope_exceeds_privilege", "requested scope exceeds caller's own privilege")))
		return
	}

	raw := gateway.TokenPrefix + uuid.Must(uuid.NewV7()).String()
	t := &gateway.ApiToken{
		ID:          uuid.Must(uuid.NewV7()).String(),
		UserID:      userID,
		Name:        req.Name,
		TokenPrefix: raw[:gateway.TokenPrefixLookupLen],
		TokenHash:   gateway.HashToken(raw),
		Scope:       scope,
		Status:      gateway.TokenActive,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.deps.Store.CreateToken(r.Context(), t); err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{ID: t.ID, Name: t.Name, Scope: req.Scope, Status: string(t.Status), Token: raw})
}

func (s *server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := callerPrivilege(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse(gateway.ErrMissingAuth))
		return
	}
	tokens, err := s.deps.Store.ListTokens(r.Context(), userID, 0, 100)
	if err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}
	out := make([]tokenResponse, len(tokens))
	for i, t := range tokens {
		out[i] = tokenResponse{ID: t.ID, Name: t.Name, Scope: t.Scope.String(), Status: string(t.Status)}
	}
	writeJSON(w, http.StatusOK, out)
}

type updateTokenRequest struct {
	Status string `json:"status"` // "active" or "inactive"
}

// handleUpdateToken flips a token's status, e.g. to revoke it. Tokens
// are never deleted so audit history survives.
func (s *server) handleUpdateToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.deps.Store.GetToken(r.Context(), id)
	if err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}

	var req updateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(gateway.NewValidation("request_error-invalid_body", "invalid request body")))
		return
	}
	switch req.Status {
	case string(gateway.TokenActive):
		t.Status = gateway.TokenActive
	case string(gateway.TokenInactive):
		t.Status = gateway.TokenInactive
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse(gateway.NewValidation("request_error-invalid_status", "status must be active or inactive")))
		return
	}
	t.UpdatedAt = time.Now()
	if err := s.deps.Store.UpdateToken(r.Context(), t); err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}
	s.deps.Auth.InvalidateToken(t.TokenPrefix)
	writeJSON(w, http.StatusOK, tokenResponse{ID: t.ID, Name: t.Name, Scope: t.Scope.String(), Status: string(t.Status)})
}

// callerPrivilege returns the caller's privilege ordinal on the shared
// Role/TokenScope/UserScope total order, plus its user id. Role,
// TokenScope, and UserScope share identical ordinal values by
// construction, so a single int comparison works across all three.
func callerPrivilege(ctx context.Context) (level int, userID string, ok bool) {
	switch p := gateway.PrincipalFromContext(ctx).(type) {
	case gateway.SessionPrincipal:
		return int(p.Role), p.UserID, true
	case gateway.ApiTokenPrincipal:
		return int(p.Scope), p.UserID, true
	case gateway.ExchangedUserPrincipal:
		return int(p.Scope), p.UserID, true
	default:
		return 0, "", false
	}
}
