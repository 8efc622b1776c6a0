package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	// No config file anywhere on the search path: defaults apply.
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8480 {
		t.Errorf("Server.Port = %d, want 8480", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if !cfg.Sync.Enabled || cfg.Sync.IntervalMinutes != 360 {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
server:
  port: 9000
logging:
  level: debug
trakt:
  client_id: my-id
  client_secret: my-secret
sync:
  enabled: false
  interval_minutes: 15
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Trakt.ClientID != "my-id" || cfg.Trakt.ClientSecret != "my-secret" {
		t.Errorf("Trakt = %+v", cfg.Trakt)
	}
	if cfg.Sync.Enabled {
		t.Error("Sync.Enabled = true, want false")
	}
	if cfg.Sync.IntervalMinutes != 15 {
		t.Errorf("Sync.IntervalMinutes = %d, want 15", cfg.Sync.IntervalMinutes)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() error = nil, want invalid port failure")
	}
}
