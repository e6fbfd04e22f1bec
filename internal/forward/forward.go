// Package forward implements the ForwardProxy: it takes an
// already-resolved alias.Resolution and streams the client's request to
// whichever backend it names, local or remote.
package forward

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/sjson"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/alias"
	"github.com/bodhi-run/bodhi/internal/circuitbreaker"
	"github.com/bodhi-run/bodhi/internal/hub"
	"github.com/bodhi-run/bodhi/internal/llamasrv"
	"github.com/bodhi-run/bodhi/internal/provider"
	"github.com/bodhi-run/bodhi/internal/secret"
	"github.com/bodhi-run/bodhi/internal/storage"
	"github.com/bodhi-run/bodhi/internal/telemetry"
)

// LocalFileFinder resolves a local alias target to the on-disk GGUF file
// backing it, the same lookup HubService already does for the alias
// package.
type LocalFileFinder interface {
	FindLocalFile(ctx context.Context, repo, filename, snapshot string) (*hub.File, error)
}

// LocalBackend ensures a llama-server child process is running for a
// given target, returning its base URL. *llamasrv.Registry satisfies
// this directly.
type LocalBackend interface {
	EnsureRunning(ctx context.Context, target llamasrv.Target) (string, error)
}

// Proxy is the ForwardProxy. It owns no business logic of its own:
// local requests go through llamasrv to reach a child process, remote
// requests are authenticated with a decrypted ApiAlias key, and both are
// streamed via provider.ForwardRequest so SSE and plain JSON responses
// round-trip identically.
type Proxy struct {
	files   LocalFileFinder
	local   LocalBackend
	aliases storage.ApiAliasStore
	secrets *secret.Box
	// breakers gates remote calls per ApiAlias so a provider already
	// failing doesn't eat the full connect+read timeout on every
	// request in the window -- the local backend has no equivalent
	// since llamasrv.Registry already serializes/reuses a single child
	// process per model.
	breakers *circuitbreaker.Registry
	metrics  *telemetry.Metrics

	localClient  *http.Client
	remoteClient *http.Client
}

// SetMetrics wires Prometheus collectors into the proxy. Optional --
// a nil metrics (the default, matching New) just skips recording.
func (p *Proxy) SetMetrics(m *telemetry.Metrics) {
	p.metrics = m
}

// New builds a Proxy. resolver is shared with HubService's downloader so
// remote provider calls reuse the same DNS cache.
func New(files LocalFileFinder, local LocalBackend, aliases storage.ApiAliasStore, secrets *secret.Box, resolver *dnscache.Resolver) *Proxy {
	return &Proxy{
		files:        files,
		local:        local,
		aliases:      aliases,
		secrets:      secrets,
		breakers:     circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		localClient:  &http.Client{Transport: provider.NewTransport(nil, false)},
		remoteClient: &http.Client{Transport: provider.NewTransport(resolver, true)},
	}
}

// Forward satisfies server.Forwarder.
func (p *Proxy) Forward(ctx context.Context, w http.ResponseWriter, r *http.Request, res *alias.Resolution, body []byte) error {
	switch {
	case res.Local != nil:
		return p.forwardLocal(ctx, w, r, res.Local, body)
	case res.Remote != nil:
		return p.forwardRemote(ctx, w, r, res.Remote, body)
	default:
		return gateway.NewInternalServer("forward_error-empty_resolution", "resolution carries neither a local nor a remote target")
	}
}

// forwardLocal ensures the target GGUF's llama-server child is running
// and proxies the request straight through to it, path unchanged --
// llama-server itself exposes an OpenAI-compatible surface.
func (p *Proxy) forwardLocal(ctx context.Context, w http.ResponseWriter, r *http.Request, target *alias.LocalTarget, body []byte) error {
	file, err := p.files.FindLocalFile(ctx, target.Repo, target.Filename, target.Snapshot)
	if err != nil {
		return err
	}

	baseURL, err := p.local.EnsureRunning(ctx, llamasrv.Target{
		Repo:     file.Repo,
		Filename: file.Filename,
		Snapshot: file.Snapshot,
		Path:     file.Path,
	})
	if err != nil {
		return gateway.NewServiceUnavailable("forward_error-backend_unavailable", "local inference backend failed to start").Wrap(err)
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	start := time.Now()
	fwdErr := provider.ForwardRequest(ctx, p.localClient, baseURL, nil, w, r, r.URL.Path)
	if p.metrics != nil {
		p.metrics.UpstreamDuration.WithLabelValues("local").Observe(time.Since(start).Seconds())
		if fwdErr != nil {
			p.metrics.UpstreamErrors.WithLabelValues("local", "forward_failed").Inc()
		}
	}
	return fwdErr
}

// forwardRemote decrypts the chosen ApiAlias's key, rewrites the body's
// model field when the alias maps it to a different upstream name, and
// forwards to the alias's base URL with a bearer Authorization header.
func (p *Proxy) forwardRemote(ctx context.Context, w http.ResponseWriter, r *http.Request, target *alias.RemoteTarget, body []byte) error {
	breaker := p.breakers.GetOrCreate(target.Alias.ID)
	if p.metrics != nil {
		p.metrics.CircuitBreakerState.WithLabelValues(target.Alias.ID).Set(float64(breaker.State()))
	}
	if !breaker.Allow() {
		if p.metrics != nil {
			p.metrics.CircuitBreakerRejects.WithLabelValues(target.Alias.ID).Inc()
		}
		return gateway.NewServiceUnavailable("forward_error-circuit_open", "provider is temporarily unavailable")
	}

	row, err := p.aliases.GetApiAlias(ctx, target.Alias.ID)
	if err != nil {
		return err
	}
	key, err := p.secrets.Decrypt(row.APIKey.Enc, row.APIKey.Salt, row.APIKey.Nonce)
	if err != nil {
		return gateway.NewInternalServer("forward_error-decrypt_failed", "failed to unseal provider api key").Wrap(err)
	}

	outBody := body
	if target.ForwardedModel != "" {
		if rewritten, err := sjson.SetBytes(body, "model", target.ForwardedModel); err == nil {
			outBody = rewritten
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(outBody))
	r.ContentLength = int64(len(outBody))

	setAuth := func(h http.Header) {
		h.Set("Authorization", "Bearer "+string(key))
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1")
	if path == "" || !strings.HasPrefix(path, "/") {
		path = "/" + strings.TrimPrefix(path, "/")
	}
	start := time.Now()
	fwdErr := provider.ForwardRequest(ctx, p.remoteClient, target.Alias.BaseURL, setAuth, w, r, path)
	if p.metrics != nil {
		p.metrics.UpstreamDuration.WithLabelValues("remote").Observe(time.Since(start).Seconds())
	}
	if fwdErr != nil {
		breaker.RecordError(circuitbreaker.ClassifyError(fwdErr))
		if p.metrics != nil {
			p.metrics.UpstreamErrors.WithLabelValues("remote", "forward_failed").Inc()
		}
	} else {
		breaker.RecordSuccess()
	}
	return fwdErr
}
