// Package openai implements the ModelLister probe against any
// OpenAI-compatible /models endpoint, used by the admin UI's "test
// connection" and "fetch models" actions on a candidate ApiAlias.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/dnscache"

	"github.com/bodhi-run/bodhi/internal/provider"
)

// Lister probes OpenAI-compatible providers for their available models.
// Unlike a per-provider client bound to one base URL and key, it serves
// every ApiAlias, so baseURL and apiKey are per-call arguments.
type Lister struct {
	http *http.Client
}

// NewLister builds a Lister sharing resolver with the rest of the
// gateway's remote-provider traffic.
func NewLister(resolver *dnscache.Resolver) *Lister {
	return &Lister{http: &http.Client{Transport: provider.NewTransport(resolver, true)}}
}

type listModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListRemoteModels satisfies server.ModelLister by calling
// baseURL + "/models" with apiKey as a bearer token.
func (l *Lister) ListRemoteModels(ctx context.Context, baseURL, apiKey string) ([]string, error) {
	url := strings.TrimRight(baseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := l.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError("openai", resp)
	}

	var out listModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai: decode models response: %w", err)
	}
	ids := make([]string, len(out.Data))
	for i, m := range out.Data {
		ids[i] = m.ID
	}
	return ids, nil
}
