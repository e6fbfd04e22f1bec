package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/storage"
)

// apiAliasRequest is the wire shape for creating/updating an ApiAlias.
// APIKey is write-only: it is sealed via secret.Box and never
// echoed back in any response.
type apiAliasRequest struct {
	ID                   string   `json:"id"`
	ApiFormat            string   `json:"api_format"`
	BaseURL              string   `json:"base_url"`
	APIKey               string   `json:"api_key"`
	Models               []string `json:"models"`
	Prefix               string   `json:"prefix"`
	ForwardAllWithPrefix bool     `json:"forward_all_with_prefix"`
	Cache                bool     `json:"cache"`
}

func (s *server) handleCreateApiAlias(w http.ResponseWriter, r *http.Request) {
	var req apiAliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(gateway.NewValidation("request_error-invalid_body", "invalid request body")))
		return
	}
	if req.ID == "" {
		req.ID = uuid.Must(uuid.NewV7()).String()
	}

	enc, salt, nonce, err := s.deps.Secrets.Encrypt([]byte(req.APIKey))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(gateway.NewInternalServer("secret_error-encrypt_failed", "failed to seal api key")))
		return
	}

	now := time.Now()
	row := &storage.ApiAliasRow{
		Alias: gateway.ApiAlias{
			ID:                   req.ID,
			ApiFormat:            req.ApiFormat,
			BaseURL:              req.BaseURL,
			Models:               req.Models,
			Prefix:               req.Prefix,
			ForwardAllWithPrefix: req.ForwardAllWithPrefix,
			Cache:                req.Cache,
			CreatedAt:            now,
			UpdatedAt:            now,
		},
		APIKey: storage.EncryptedSecret{Enc: enc, Salt: salt, Nonce: nonce},
	}
	if err := s.deps.Store.CreateApiAlias(r.Context(), row); err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}
	writeJSON(w, http.StatusCreated, toApiAliasResponse(&row.Alias))
}

func (s *server) handleUpdateApiAlias(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.deps.Store.GetApiAlias(r.Context(), id)
	if err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}

	var req apiAliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(gateway.NewValidation("request_error-invalid_body", "invalid request body")))
		return
	}

	existing.Alias.ApiFormat = req.ApiFormat
	existing.Alias.BaseURL = req.BaseURL
	existing.Alias.Models = req.Models
	existing.Alias.Prefix = req.Prefix
	existing.Alias.ForwardAllWithPrefix = req.ForwardAllWithPrefix
	existing.Alias.Cache = req.Cache
	existing.Alias.UpdatedAt = time.Now()

	if req.APIKey != "" {
		enc, salt, nonce, err := s.deps.Secrets.Encrypt([]byte(req.APIKey))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse(gateway.NewInternalServer("secret_error-encrypt_failed", "failed to seal api key")))
			return
		}
		existing.APIKey = storage.EncryptedSecret{Enc: enc, Salt: salt, Nonce: nonce}
	}

	if err := s.deps.Store.UpdateApiAlias(r.Context(), existing); err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, toApiAliasResponse(&existing.Alias))
}

func (s *server) handleDeleteApiAlias(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteApiAlias(r.Context(), id); err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTestApiAlias probes a candidate provider config before it is
// saved: decrypts nothing (the key is supplied fresh in the request) and
// asks ModelLister to confirm the backend is reachable.
func (s *server) handleTestApiAlias(w http.ResponseWriter, r *http.Request) {
	var req apiAliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(gateway.NewValidation("request_error-invalid_body", "invalid request body")))
		return
	}
	models, err := s.deps.Models.ListRemoteModels(r.Context(), req.BaseURL, req.APIKey)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse(gateway.NewServiceUnavailable("provider_error-unreachable", "provider probe failed")))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reachable": true, "models": models})
}

// handleFetchModels lists the models a configured (or candidate)
// provider exposes, for the admin UI's model picker.
func (s *server) handleFetchModels(w http.ResponseWriter, r *http.Request) {
	var req apiAliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(gateway.NewValidation("request_error-invalid_body", "invalid request body")))
		return
	}
	models, err := s.deps.Models.ListRemoteModels(r.Context(), req.BaseURL, req.APIKey)
	if err != nil {
		writeJSON(w, gateway.HTTPStatusOf(gateway.NewServiceUnavailable("provider_error-unreachable", "failed to fetch models")), errorResponse(gateway.NewServiceUnavailable("provider_error-unreachable", "failed to fetch models")))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

type apiAliasResponse struct {
	ID                   string   `json:"id"`
	ApiFormat            string   `json:"api_format"`
	BaseURL              string   `json:"base_url"`
	Models               []string `json:"models"`
	Prefix               string   `json:"prefix,omitempty"`
	ForwardAllWithPrefix bool     `json:"forward_all_with_prefix"`
	Cache                bool     `json:"cache"`
}

func toApiAliasResponse(a *gateway.ApiAlias) apiAliasResponse {
	return apiAliasResponse{
		ID:                   a.ID,
		ApiFormat:            a.ApiFormat,
		BaseURL:              a.BaseURL,
		Models:               a.Models,
		Prefix:               a.Prefix,
		ForwardAllWithPrefix: a.ForwardAllWithPrefix,
		Cache:                a.Cache,
	}
}
