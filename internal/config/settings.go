package config

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/bodhi-run/bodhi/internal/storage"
)

// settingsCacheTTL mirrors RouterService's route cache: short enough to
// pick up admin changes within seconds, long enough to avoid a DB round
// trip per request.
const settingsCacheTTL = 5 * time.Second

// Setting is a single resolved configuration value plus where it came
// from, for the GET /bodhi/v1/settings response.
type Setting struct {
	Key       string
	Value     string
	ValueType string
	Source    string // "db", "file", "env", "default"
}

// SettingsService is the Settings Store: a DB-backed override layer
// on top of the static Config, read through a short-TTL cache so writes
// through PUT/DELETE take effect without a restart.
type SettingsService struct {
	store    storage.SettingStore
	defaults map[string]Setting
	cache    *otter.Cache[string, Setting]
}

// NewSettingsService builds a SettingsService seeded with the file/env
// derived defaults. Each default's Source should be "file" or "env" as
// appropriate; callers computing defaults from Config should tag them.
func NewSettingsService(store storage.SettingStore, defaults map[string]Setting) *SettingsService {
	cache := otter.Must(&otter.Options[string, Setting]{
		MaximumSize:      256,
		ExpiryCalculator: otter.ExpiryWriting[string, Setting](settingsCacheTTL),
	})
	return &SettingsService{store: store, defaults: defaults, cache: cache}
}

// Get resolves a setting: DB override if present, else the file/env/default
// value registered at construction. ok is false only when no default exists
// either (an unknown key).
func (s *SettingsService) Get(ctx context.Context, key string) (Setting, bool, error) {
	if cached, ok := s.cache.GetIfPresent(key); ok {
		return cached, true, nil
	}

	value, valueType, source, found, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return Setting{}, false, err
	}
	if found {
		result := Setting{Key: key, Value: value, ValueType: valueType, Source: source}
		s.cache.Set(key, result)
		return result, true, nil
	}

	def, ok := s.defaults[key]
	if !ok {
		return Setting{}, false, nil
	}
	s.cache.Set(key, def)
	return def, true, nil
}

// Put writes a DB override and invalidates the cached entry so the next
// Get observes it immediately.
func (s *SettingsService) Put(ctx context.Context, key, value, valueType string) error {
	if err := s.store.PutSetting(ctx, key, value, valueType, "db"); err != nil {
		return err
	}
	s.cache.Invalidate(key)
	return nil
}

// Delete removes a DB override, reverting the key to its file/env/default
// value, and invalidates the cache.
func (s *SettingsService) Delete(ctx context.Context, key string) error {
	if err := s.store.DeleteSetting(ctx, key); err != nil {
		return err
	}
	s.cache.Invalidate(key)
	return nil
}

// List returns every known setting: DB overrides layered over defaults.
func (s *SettingsService) List(ctx context.Context) ([]Setting, error) {
	overrides, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(s.defaults))
	out := make([]Setting, 0, len(s.defaults))
	for key, def := range s.defaults {
		if _, overridden := overrides[key]; overridden {
			setting, ok, err := s.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, setting)
				seen[key] = true
				continue
			}
		}
		out = append(out, def)
		seen[key] = true
	}
	return out, nil
}

// DefaultsFromConfig tags every statically-loaded Config field relevant
// to live admin tuning as a "file" or "env" sourced default. Only the
// fields the settings surface actually exposes are included; the rest of
// Config is process-startup-only (addr, DSN, ...).
func DefaultsFromConfig(cfg *Config) map[string]Setting {
	return map[string]Setting{
		"server.dev_mode": {
			Key: "server.dev_mode", Value: boolStr(cfg.Server.DevMode), ValueType: "bool", Source: "file",
		},
		"telemetry.metrics.enabled": {
			Key: "telemetry.metrics.enabled", Value: boolStr(cfg.Telemetry.Metrics.Enabled), ValueType: "bool", Source: "file",
		},
		"telemetry.tracing.enabled": {
			Key: "telemetry.tracing.enabled", Value: boolStr(cfg.Telemetry.Tracing.Enabled), ValueType: "bool", Source: "file",
		},
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
