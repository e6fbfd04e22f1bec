package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	gateway "github.com/bodhi-run/bodhi/internal"
)

// handleListSettings returns every known setting, DB overrides layered
// over file/env/default values.
func (s *server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Settings.List(r.Context())
	if err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type putSettingRequest struct {
	Value     string `json:"value"`
	ValueType string `json:"value_type"`
}

func (s *server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req putSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(gateway.NewValidation("request_error-invalid_body", "invalid request body")))
		return
	}
	if err := s.deps.Settings.Put(r.Context(), key, req.Value, req.ValueType); err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.deps.Settings.Delete(r.Context(), key); err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
