package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/telemetry"
)

const (
	sessionCookieName = "bodhiapp_session_id"
	maxRequestIDLen    = 128
	requestIDHeader    = "X-Request-Id"
)

var (
	nosniffVal = []string{"nosniff"}
	denyVal    = []string{"DENY"}
	jsonCT     = []string{"application/json"}
)

var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{status: http.StatusOK} },
}

// securityHeaders sets defense-in-depth response headers on every request.
func (s *server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h["X-Content-Type-Options"] = nosniffVal
		h["X-Frame-Options"] = denyVal
		next.ServeHTTP(w, r)
	})
}

// recovery catches panics and returns 500.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, errorResponse(gateway.NewInternalServer("internal_server_error", "internal server error")))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestID adds a UUID v7 request ID to the context and response header.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if vals := r.Header[requestIDHeader]; len(vals) > 0 && isValidToken(vals[0], maxRequestIDLen) {
			id = vals[0]
		} else {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		ctx := gateway.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isValidToken checks that s is non-empty, at most maxLen chars, and
// contains only [a-zA-Z0-9._-].
func isValidToken(s string, maxLen int) bool {
	if len(s) == 0 || len(s) > maxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-') {
			return false
		}
	}
	return true
}

// logging logs each request with method, path, status, and duration.
func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false
		next.ServeHTTP(sw, r)
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
		)
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)
	})
}

// metricsMiddleware records request duration, status, and active count.
func metricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.ActiveRequests.Inc()
			start := time.Now()

			sw := statusWriterPool.Get().(*statusWriter)
			sw.ResponseWriter = w
			sw.status = http.StatusOK
			sw.wroteHeader = false

			next.ServeHTTP(sw, r)

			elapsed := time.Since(start).Seconds()
			status := sw.status
			sw.ResponseWriter = nil
			statusWriterPool.Put(sw)

			m.ActiveRequests.Dec()

			pattern := routePattern(r)
			m.RequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, pattern).Observe(elapsed)
		})
	}
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// tracingMiddleware creates a span for each HTTP request.
func tracingMiddleware(tracer trace.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.url", r.URL.Path),
					attribute.String("http.request_id", gateway.RequestIDFromContext(r.Context())),
				),
			)
			defer span.End()

			sw := statusWriterPool.Get().(*statusWriter)
			sw.ResponseWriter = w
			sw.status = http.StatusOK
			sw.wroteHeader = false

			next.ServeHTTP(sw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", sw.status))
			sw.ResponseWriter = nil
			statusWriterPool.Put(sw)
		})
	}
}

// canonicalURL 301-redirects GET/HEAD requests to the configured public
// URL's scheme/host when they differ, so bookmarked non-canonical URLs
// and the OAuth redirect_uri registered at setup always agree.
// Disabled in dev mode and exempt on /health and /ping.
func (s *server) canonicalURL(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/health" || r.URL.Path == "/ping" {
			next.ServeHTTP(w, r)
			return
		}
		if s.devMode(r) {
			next.ServeHTTP(w, r)
			return
		}

		public := strings.TrimRight(s.deps.Config.OAuth.RedirectBase, "/")
		if public == "" {
			next.ServeHTTP(w, r)
			return
		}
		pu, err := url.Parse(public)
		if err != nil || pu.Host == "" {
			next.ServeHTTP(w, r)
			return
		}
		if pu.Scheme == schemeOf(r) && pu.Host == r.Host {
			next.ServeHTTP(w, r)
			return
		}

		target := *pu
		target.Path = r.URL.Path
		target.RawQuery = r.URL.RawQuery
		http.Redirect(w, r, target.String(), http.StatusMovedPermanently)
	})
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

func (s *server) devMode(r *http.Request) bool {
	if s.deps.Settings == nil {
		return s.deps.Config.Server.DevMode
	}
	setting, ok, err := s.deps.Settings.Get(r.Context(), "server.dev_mode")
	if err != nil || !ok {
		return s.deps.Config.Server.DevMode
	}
	return setting.Value == "true"
}

// authenticate resolves the caller's Principal: a session
// cookie is checked first (and, when its stored access token has
// expired, transparently refreshed through AuthService), falling back
// to the Authorization bearer path of TokenService. The resolved
// access token is re-injected as X-Resource-Token and the principal's
// role or scope as X-Resource-Role/X-Resource-Scope so downstream
// handlers never re-derive them.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, accessToken, err := s.resolvePrincipal(r)
		if err != nil {
			writeJSON(w, gateway.HTTPStatusOf(err), errorResponse(err))
			return
		}

		r.Header.Del(gateway.HeaderResourceToken)
		r.Header.Del(gateway.HeaderResourceRole)
		r.Header.Del(gateway.HeaderResourceScope)
		if accessToken != "" {
			r.Header.Set(gateway.HeaderResourceToken, accessToken)
		}
		switch p := principal.(type) {
		case gateway.SessionPrincipal:
			r.Header.Set(gateway.HeaderResourceRole, p.Role.String())
		case gateway.ApiTokenPrincipal:
			r.Header.Set(gateway.HeaderResourceScope, p.Scope.String())
		case gateway.ExchangedUserPrincipal:
			r.Header.Set(gateway.HeaderResourceScope, p.Scope.String())
		}

		ctx := gateway.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) resolvePrincipal(r *http.Request) (gateway.Principal, string, error) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return s.resolveSessionPrincipal(r, cookie.Value)
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, "", gateway.ErrMissingAuth
	}
	v, err := s.deps.Auth.ValidateBearer(r.Context(), header)
	if err != nil {
		return nil, "", err
	}
	return v.Principal, v.AccessToken, nil
}

func (s *server) resolveSessionPrincipal(r *http.Request, sessionID string) (gateway.Principal, string, error) {
	sess, err := s.deps.Store.GetSession(r.Context(), sessionID)
	if err != nil {
		return nil, "", gateway.NewAuthentication("auth_error-session_not_found", "session not found")
	}

	header := "Bearer " + sess.AccessToken
	v, err := s.deps.Auth.ValidateBearer(r.Context(), header)
	if err == nil {
		return v.Principal, v.AccessToken, nil
	}
	if sess.RefreshToken == "" || s.deps.OAuth == nil {
		return nil, "", err
	}

	newAccess, newRefresh, expiresAt, refreshErr := s.deps.OAuth.RefreshToken(r.Context(), s.deps.Config.OAuth.ClientID, s.deps.Config.OAuth.ClientSecret, sess.RefreshToken)
	if refreshErr != nil {
		return nil, "", err
	}
	if storeErr := s.deps.Store.ReplaceSessionTokens(r.Context(), sessionID, newAccess, newRefresh, expiresAt.Unix()); storeErr != nil {
		return nil, "", storeErr
	}
	return s.deps.Auth.ValidateBearer(r.Context(), "Bearer "+newAccess)
}

// statusWriter wraps ResponseWriter to capture the HTTP status code and
// forward Flush so SSE passthrough survives the middleware chain.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// apiError is the JSON error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
		Param   any    `json:"param,omitempty"`
	} `json:"error"`
}

func errorResponse(err error) apiError {
	var e apiError
	e.Error.Message = gateway.MessageOf(err)
	e.Error.Type = gateway.TypeOf(err)
	e.Error.Code = gateway.CodeOf(err)
	return e
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}
