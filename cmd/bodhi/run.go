package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/bodhi-run/bodhi/internal/alias"
	"github.com/bodhi-run/bodhi/internal/auth"
	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/config"
	"github.com/bodhi-run/bodhi/internal/forward"
	"github.com/bodhi-run/bodhi/internal/hub"
	"github.com/bodhi-run/bodhi/internal/llamasrv"
	"github.com/bodhi-run/bodhi/internal/oauthclient"
	"github.com/bodhi-run/bodhi/internal/provider/openai"
	"github.com/bodhi-run/bodhi/internal/secret"
	"github.com/bodhi-run/bodhi/internal/server"
	"github.com/bodhi-run/bodhi/internal/storage/sqlite"
	"github.com/bodhi-run/bodhi/internal/telemetry"
	"github.com/bodhi-run/bodhi/internal/worker"
	"go.opentelemetry.io/otel/trace"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting bodhi", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	dsnLog := cfg.Database.DSN
	if i := strings.IndexByte(dsnLog, '?'); i >= 0 {
		dsnLog = dsnLog[:i]
	}
	slog.Info("database opened", "dsn", dsnLog)

	ctx := context.Background()

	// Row-level encryption: env-provided master key, else the one
	// persisted on first run.
	envKey := []byte(os.Getenv("BODHI_MASTER_KEY"))
	masterKey, err := config.LoadMasterKey(ctx, store, envKey)
	if err != nil {
		return fmt.Errorf("load master key: %w", err)
	}
	secrets, err := secret.New(masterKey)
	if err != nil {
		return fmt.Errorf("secret box: %w", err)
	}

	// Settings store: file/env values seed the default layer, DB rows
	// override them live.
	defaults := map[string]config.Setting{}
	if cfg.OAuth.ClientID != "" {
		defaults["oauth.client_id"] = config.Setting{Key: "oauth.client_id", Value: cfg.OAuth.ClientID, ValueType: "string", Source: "file"}
	}
	if cfg.OAuth.ClientSecret != "" {
		defaults["oauth.client_secret"] = config.Setting{Key: "oauth.client_secret", Value: cfg.OAuth.ClientSecret, ValueType: "string", Source: "file"}
	}
	settingsSvc := config.NewSettingsService(store, defaults)

	// This app's own client_id/client_secret, resolved once at startup:
	// the statically configured value if present, else whatever a prior
	// run's dynamic registration persisted to settings. A freshly
	// registered client_id from this process's own /bodhi/v1/setup call
	// only takes effect on the next restart (documented in
	// handlers_auth.go's clientID comment).
	ownClientID := cfg.OAuth.ClientID
	if ownClientID == "" {
		if s, ok, gerr := settingsSvc.Get(ctx, "oauth.client_id"); gerr == nil && ok {
			ownClientID = s.Value
		}
	}
	ownClientSecret := cfg.OAuth.ClientSecret
	if ownClientSecret == "" {
		if s, ok, gerr := settingsSvc.Get(ctx, "oauth.client_secret"); gerr == nil && ok {
			ownClientSecret = s.Value
		}
	}

	// Shared DNS cache for HF downloads, remote API aliases and provider
	// model probing. The OIDC issuer client does not use it.
	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	// HubService: local GGUF resolution plus delegated HF downloads.
	hfToken := os.Getenv("HF_TOKEN")
	downloader := hub.NewHFDownloader(cfg.Hub.CacheDir, hfToken, dnsResolver)
	hubSvc := hub.New(cfg.Hub.CacheDir, downloader, hfToken != "")

	// DataService + AliasResolver: YAML user aliases, HF-cache
	// model aliases, and DB-backed API aliases unified into one catalogue.
	if err := os.MkdirAll(cfg.Hub.AliasDir, 0o755); err != nil {
		return fmt.Errorf("create alias dir: %w", err)
	}
	aliasSvc, err := alias.New(cfg.Hub.AliasDir, hubSvc, store)
	if err != nil {
		return fmt.Errorf("alias service: %w", err)
	}

	// AuthService: OIDC discovery against the shared issuer.
	oauthSvc, err := oauthclient.New(ctx, cfg.OAuth.IssuerURL)
	if err != nil {
		return fmt.Errorf("oauth client: %w", err)
	}
	exchanger := oauthclient.NewBoundExchanger(oauthSvc, ownClientID, ownClientSecret)

	// TokenService: bearer validation for opaque API tokens and
	// cross-client JWT exchange.
	tokenSvc, err := auth.New(store, exchanger, ownClientID)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	// ForwardProxy backends: a per-model llama-server process table
	// for local aliases, remote HTTPS for API aliases.
	llamaRegistry := llamasrv.New(llamasrv.Config{
		BinaryPath:     cfg.LlamaServer.BinaryPath,
		ExtraArgs:      cfg.LlamaServer.ExtraArgs,
		PortRangeStart: cfg.LlamaServer.PortRangeStart,
		PortRangeEnd:   cfg.LlamaServer.PortRangeEnd,
		StartupTimeout: cfg.LlamaServer.StartupTimeout,
	})
	defer llamaRegistry.Shutdown()

	forwardProxy := forward.New(hubSvc, llamaRegistry, store, secrets, dnsResolver)

	// Provider probing (POST /v1/api-models/test, /fetch-models).
	modelLister := openai.NewLister(dnsResolver)

	// MetadataQueue + Worker: single-consumer background GGUF
	// extraction feeding capability data back into alias listings.
	metadataQueue := worker.NewMetadataQueue()
	metadataWorker := worker.NewMetadataWorker(metadataQueue, aliasSvc, hubSvc, store)
	runner := worker.NewRunner(metadataWorker)
	metadataQueue.Enqueue(gateway.RefreshAll{EnqueuedAt: time.Now()})

	// Prometheus metrics.
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	// OpenTelemetry tracing.
	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, terr := telemetry.SetupTracing(ctx, endpoint, sampleRate)
		if terr != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", terr)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("bodhi/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint, "sample_rate", sampleRate)
		}
	}

	handler := server.New(server.Deps{
		Config:   cfg,
		Settings: settingsSvc,
		Secrets:  secrets,

		Store:   store,
		Aliases: aliasSvc,
		Auth:    tokenSvc,
		OAuth:   oauthSvc,
		Forward: forwardProxy,
		Models:  modelLister,

		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
		ReadyCheck:     store.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("bodhi ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("bodhi stopped")
	return nil
}
