package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitor.Workers != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.Monitor.Workers)
	}
	if cfg.Detection.ThresholdMultiplier != 3.0 {
		t.Fatalf("expected multiplier 3.0, got %v", cfg.Detection.ThresholdMultiplier)
	}
	if !cfg.ML.Enabled || cfg.ML.MinSamples != 20 {
		t.Fatalf("unexpected ML defaults: %+v", cfg.ML)
	}
	if cfg.External.Enabled {
		t.Fatal("external sources should be disabled by default")
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
monitor:
  workers: 4
  anomalyWindow: 10m
detection:
  thresholdMultiplier: 2.5
logging:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("OUTAGE_ENGINE_WORKERS", "16")
	t.Setenv("OUTAGE_ENGINE_NOTIFY_WEBHOOK", "http://alerts.local/hook")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitor.Workers != 16 {
		t.Fatalf("env should override yaml, got %d workers", cfg.Monitor.Workers)
	}
	if cfg.Monitor.AnomalyWindow != 10*time.Minute {
		t.Fatalf("expected 10m anomaly window, got %v", cfg.Monitor.AnomalyWindow)
	}
	if cfg.Detection.ThresholdMultiplier != 2.5 {
		t.Fatalf("expected multiplier 2.5, got %v", cfg.Detection.ThresholdMultiplier)
	}
	if cfg.Notify.WebhookURL != "http://alerts.local/hook" {
		t.Fatalf("unexpected webhook: %q", cfg.Notify.WebhookURL)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("monitor:\n  workers: 0\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for zero workers")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
