package config

import (
	"context"
	"testing"
)

func TestSettingsServiceFallsBackToDefault(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	defaults := map[string]Setting{
		"server.dev_mode": {Key: "server.dev_mode", Value: "false", ValueType: "bool", Source: "file"},
	}
	svc := NewSettingsService(store, defaults)

	setting, ok, err := svc.Get(ctx, "server.dev_mode")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || setting.Value != "false" || setting.Source != "file" {
		t.Fatalf("unexpected default: %+v ok=%v", setting, ok)
	}
}

func TestSettingsServiceOverrideWinsAndCaches(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	defaults := map[string]Setting{
		"server.dev_mode": {Key: "server.dev_mode", Value: "false", ValueType: "bool", Source: "file"},
	}
	svc := NewSettingsService(store, defaults)

	if err := svc.Put(ctx, "server.dev_mode", "true", "bool"); err != nil {
		t.Fatal(err)
	}

	setting, ok, err := svc.Get(ctx, "server.dev_mode")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || setting.Value != "true" || setting.Source != "db" {
		t.Fatalf("expected db override, got %+v ok=%v", setting, ok)
	}

	// Delete reverts to the file default and the cache must not serve
	// the stale override.
	if err := svc.Delete(ctx, "server.dev_mode"); err != nil {
		t.Fatal(err)
	}
	setting, ok, err = svc.Get(ctx, "server.dev_mode")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || setting.Value != "false" || setting.Source != "file" {
		t.Fatalf("expected reverted default, got %+v ok=%v", setting, ok)
	}
}

func TestSettingsServiceUnknownKey(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	svc := NewSettingsService(store, map[string]Setting{})

	_, ok, err := svc.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected unknown key to resolve to ok=false")
	}
}

func TestSettingsServiceList(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	defaults := map[string]Setting{
		"a": {Key: "a", Value: "1", ValueType: "int", Source: "file"},
		"b": {Key: "b", Value: "2", ValueType: "int", Source: "file"},
	}
	svc := NewSettingsService(store, defaults)
	if err := svc.Put(ctx, "a", "100", "int"); err != nil {
		t.Fatal(err)
	}

	all, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 settings, got %d", len(all))
	}

	byKey := make(map[string]Setting, len(all))
	for _, s := range all {
		byKey[s.Key] = s
	}
	if byKey["a"].Value != "100" || byKey["a"].Source != "db" {
		t.Errorf("override not reflected in list: %+v", byKey["a"])
	}
	if byKey["b"].Value != "2" || byKey["b"].Source != "file" {
		t.Errorf("default not reflected in list: %+v", byKey["b"])
	}
}

func TestDefaultsFromConfig(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Server.DevMode = true
	cfg.Telemetry.Metrics.Enabled = true

	defaults := DefaultsFromConfig(cfg)
	if defaults["server.dev_mode"].Value != "true" {
		t.Errorf("server.dev_mode default = %+v", defaults["server.dev_mode"])
	}
	if defaults["telemetry.metrics.enabled"].Value != "true" {
		t.Errorf("telemetry.metrics.enabled default = %+v", defaults["telemetry.metrics.enabled"])
	}
}
