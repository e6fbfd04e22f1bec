package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/alias"
)

// handleListModels returns the unified alias catalogue in
// OpenAI-compatible list shape, annotated with extracted metadata.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Aliases.ListAliasesWithMetadata(r.Context(), r.URL.Query().Get("sort"))
	if err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}

	data := make([]modelEntry, len(entries))
	for i, e := range entries {
		data[i] = toModelEntry(e)
	}
	writeJSON(w, http.StatusOK, modelListResponse{Object: "list", Data: data})
}

// handleGetModel resolves a single alias by name, returning
// alias_not_found_error on miss.
func (s *server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.deps.Aliases.FindAlias(r.Context(), id)
	if err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, toModelEntry(alias.Entry{Alias: a}))
}

func toModelEntry(e alias.Entry) modelEntry {
	entry := modelEntry{ID: e.Alias.AliasName(), Object: "model", OwnedBy: "system"}
	if e.Metadata != nil {
		entry.Created = e.Metadata.ExtractedAt.Unix()
	}
	return entry
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}
