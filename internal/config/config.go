// Package config handles YAML configuration loading with environment
// variable expansion, plus a DB-backed settings override layer.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration, loaded env -> file ->
// defaults. Admin-editable runtime settings live in the DB-backed
// SettingsService instead (see settings.go).
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Hub         HubConfig         `yaml:"hub"`
	OAuth       OAuthConfig       `yaml:"oauth"`
	LlamaServer LlamaServerConfig `yaml:"llama_server"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// DevMode disables the canonical-URL redirect and relaxes session
	// cookie Secure/SameSite flags for local development.
	DevMode bool `yaml:"dev_mode"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// HubConfig points at the local model and alias directories.
type HubConfig struct {
	// CacheDir is the HuggingFace-cache-shaped root: models--<owner>--<repo>/snapshots/<hash>/<file>
	// plus refs/main pointers, matching the cache's file-resolution layout.
	CacheDir string `yaml:"cache_dir"`
	// AliasDir holds one YAML file per UserAlias.
	AliasDir string `yaml:"alias_dir"`
}

// OAuthConfig configures the shared OIDC issuer used by AuthService.
type OAuthConfig struct {
	IssuerURL    string `yaml:"issuer_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"` // static secret; a dynamically registered one is stored unencrypted as the "oauth.client_secret" setting
	RedirectBase string `yaml:"redirect_base"` // scheme+host used to build the OAuth redirect_uri
}

// LlamaServerConfig points at the local llama-server binary used by
// ForwardProxy to serve local aliases; the child process lifecycle
// itself is an out-of-scope collaborator, reached through
// internal/llamasrv's typed interface.
type LlamaServerConfig struct {
	BinaryPath     string        `yaml:"binary_path"`
	ExtraArgs      []string      `yaml:"extra_args"`
	PortRangeStart int           `yaml:"port_range_start"`
	PortRangeEnd   int           `yaml:"port_range_end"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "bodhi.db",
		},
		Hub: HubConfig{
			CacheDir: "hub",
			AliasDir: "aliases",
		},
		LlamaServer: LlamaServerConfig{
			BinaryPath:     "llama-server",
			PortRangeStart: 32100,
			PortRangeEnd:   32200,
			StartupTimeout: 30 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
