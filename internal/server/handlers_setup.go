package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/config"
	"github.com/bodhi-run/bodhi/internal/oauthclient"
)

type setupRequest struct {
	Name string `json:"name"`
}

// handleSetup is the one-shot POST /bodhi/v1/setup operation: it dynamically registers this app as an OAuth client against
// the shared issuer, persists the resulting credentials as settings
// overrides, then advances AppStatus via config.Bootstrap. A failed
// registration never advances the app past Setup.
func (s *server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Name == "" {
		req.Name = "bodhi gateway"
	}

	redirectURIs := oauthclient.BuildRedirectURIs(s.deps.Config.OAuth.RedirectBase, r.Host, portOf(s.deps.Config))
	reg, err := s.deps.OAuth.RegisterClient(r.Context(), req.Name, "", redirectURIs)
	if err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(gateway.NewServiceUnavailable("app_service_error-registration_failed", "client registration failed")))
		return
	}

	if err := s.deps.Settings.Put(r.Context(), "oauth.client_id", reg.ClientID, "string"); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(gateway.NewInternalServer("internal_server_error", "failed to persist client_id")))
		return
	}
	if err := s.deps.Settings.Put(r.Context(), "oauth.client_secret", reg.ClientSecret, "string"); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(gateway.NewInternalServer("internal_server_error", "failed to persist client_secret")))
		return
	}

	if err := config.Bootstrap(r.Context(), s.deps.Store); err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    gateway.AppStatusResourceAdmin,
		"client_id": reg.ClientID,
	})
}

func portOf(cfg *config.Config) int {
	_, portStr, ok := strings.Cut(cfg.Server.Addr, ":")
	if !ok {
		return 1135
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 1135
	}
	return port
}
