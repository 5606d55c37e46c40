package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
webhook:
  verify_token: "0123456789abcdef"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Dispatch.Concurrency != 5 {
		t.Errorf("expected default concurrency, got %d", cfg.Dispatch.Concurrency)
	}
	if cfg.Dispatch.SendTimeout != 30*time.Second {
		t.Errorf("expected default send timeout, got %v", cfg.Dispatch.SendTimeout)
	}
	if cfg.Dispatch.ProviderQPS != 10 || cfg.Dispatch.ProviderBurst != 20 {
		t.Errorf("unexpected rate defaults: %v %v", cfg.Dispatch.ProviderQPS, cfg.Dispatch.ProviderBurst)
	}
	if cfg.Dispatch.PollInterval != 5*time.Second {
		t.Errorf("expected default poll interval, got %v", cfg.Dispatch.PollInterval)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9090"
database:
  path: "/tmp/app.db"
queue:
  path: "/tmp/queue.db"
dispatch:
  concurrency: 12
  send_timeout: 10s
  provider_qps: 50
  provider_burst: 80
  poll_interval: 1s
webhook:
  verify_token: "0123456789abcdef"
logging:
  level: debug
  format: text
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("unexpected listen addr %q", cfg.Server.ListenAddr)
	}
	if cfg.Database.Path != "/tmp/app.db" || cfg.Queue.Path != "/tmp/queue.db" {
		t.Errorf("unexpected paths: %q %q", cfg.Database.Path, cfg.Queue.Path)
	}
	if cfg.Dispatch.Concurrency != 12 || cfg.Dispatch.SendTimeout != 10*time.Second {
		t.Errorf("unexpected dispatch config: %+v", cfg.Dispatch)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoadRequiresVerifyToken(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":8080"
`)
	if _, err := Load(path); err == nil {
		t.Error("expected an error for a missing verify token")
	}

	short := writeConfig(t, `
webhook:
  verify_token: "too-short"
`)
	if _, err := Load(short); err == nil {
		t.Error("expected an error for a short verify token")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "{not yaml")
	if _, err := Load(path); err == nil {
		t.Error("expected an error for malformed yaml")
	}
}
