// Package server implements the HTTP transport layer of the gateway:
// the chi router, the request-admission middleware chain
// (AuthMiddleware, RoleScopeGuard), and the route handlers.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/alias"
	"github.com/bodhi-run/bodhi/internal/auth"
	"github.com/bodhi-run/bodhi/internal/config"
	"github.com/bodhi-run/bodhi/internal/oauthclient"
	"github.com/bodhi-run/bodhi/internal/secret"
	"github.com/bodhi-run/bodhi/internal/storage"
	"github.com/bodhi-run/bodhi/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Forwarder is the ForwardProxy surface this package depends on: it
// forwards an already-resolved request to its backend and streams the
// response directly onto w.
type Forwarder interface {
	Forward(ctx context.Context, w http.ResponseWriter, r *http.Request, res *alias.Resolution, body []byte) error
}

// ModelLister is the subset of provider probing (POST
// /v1/api-models/test, /v1/api-models/fetch-models) this package
// depends on.
type ModelLister interface {
	// ListRemoteModels calls baseURL's OpenAI-compatible /models endpoint
	// using apiKey and returns the raw model ID list.
	ListRemoteModels(ctx context.Context, baseURL, apiKey string) ([]string, error)
}

// Deps holds every collaborator the HTTP surface needs. Concrete types,
// not further interfaces -- this package is the composition root's leaf,
// not a reusable library.
type Deps struct {
	Config   *config.Config
	Settings *config.SettingsService
	Secrets  *secret.Box

	Store   storage.Store
	Aliases *alias.Service
	Auth    *auth.TokenService
	OAuth   *oauthclient.Service
	Forward Forwarder
	Models  ModelLister

	Metrics        *telemetry.Metrics
	MetricsHandler http.Handler
	Tracer         trace.Tracer
	ReadyCheck     ReadyChecker
}

type server struct {
	deps Deps
}

// New builds the full chi router: global middleware, system endpoints,
// then the client, admin, and auth route groups.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}
	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}
	r.Use(s.canonicalURL)

	r.Get("/health", s.handleHealthz)
	r.Get("/ping", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Post("/bodhi/v1/setup", s.handleSetup)
	r.Get("/bodhi/v1/auth/initiate", s.handleAuthInitiate)
	r.Post("/bodhi/v1/auth/initiate", s.handleAuthInitiate)
	r.Get("/bodhi/v1/auth/callback", s.handleAuthCallback)
	r.Post("/bodhi/v1/auth/callback", s.handleAuthCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.requireRole(gateway.RoleUser))
		r.Post("/v1/chat/completions", s.handleChatCompletion)
		r.Post("/v1/embeddings", s.handleEmbeddings)
		r.Get("/v1/models", s.handleListModels)
		r.Get("/v1/models/{id}", s.handleGetModel)

		r.Get("/bodhi/v1/user", s.handleUserInfo)
		r.Post("/bodhi/v1/tokens", s.handleCreateToken)
		r.Get("/bodhi/v1/tokens", s.handleListTokens)
		r.Put("/bodhi/v1/tokens/{id}", s.handleUpdateToken)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.requireRole(gateway.RolePowerUser))
		r.Post("/v1/api-models", s.handleCreateApiAlias)
		r.Put("/v1/api-models/{id}", s.handleUpdateApiAlias)
		r.Delete("/v1/api-models/{id}", s.handleDeleteApiAlias)
		r.Post("/v1/api-models/test", s.handleTestApiAlias)
		r.Post("/v1/api-models/fetch-models", s.handleFetchModels)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.requireRole(gateway.RoleAdmin))
		r.Get("/bodhi/v1/settings", s.handleListSettings)
		r.Put("/bodhi/v1/settings/{key}", s.handlePutSetting)
		r.Delete("/bodhi/v1/settings/{key}", s.handleDeleteSetting)
	})

	return r
}
