package server

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	gateway "github.com/bodhi-run/bodhi/internal"
)

const maxRequestBody = 10 << 20 // 10 MiB, generous for a chat/embeddings payload

// handleChatCompletion forwards POST /v1/chat/completions: the model
// field is probed with gjson before the body is resolved and handed to
// the ForwardProxy, which streams the (possibly SSE) response back
// untouched.
func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	s.forwardByModel(w, r)
}

// handleEmbeddings forwards POST /v1/embeddings identically to chat
// completions -- both are OpenAI-compatible passthrough routes keyed on
// the body's model field.
func (s *server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	s.forwardByModel(w, r)
}

func (s *server) forwardByModel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(gateway.NewValidation("request_error-body_too_large", "failed to read request body")))
		return
	}

	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse(gateway.NewValidation("request_error-invalid_model", "model must be a non-empty string")))
		return
	}

	res, err := s.deps.Aliases.ResolveModel(r.Context(), model)
	if err != nil {
		writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := s.deps.Forward.Forward(r.Context(), w, r, res, body); err != nil {
		slog.LogAttrs(r.Context(), slog.LevelError, "forward failed",
			slog.String("model", model),
			slog.String("error", err.Error()),
		)
	}
}
