package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Transport != "mock" {
		t.Fatalf("default transport must be mock, got %q", cfg.Transport)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
transport: mock
rooms: [general, random]
syncLimits:
  messageBurst: 10
  messageRefillPerSec: 5
peers:
  bootstrap:
    - /ip4/192.0.2.1/tcp/60000
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.Rooms) != 2 || cfg.Rooms[1] != "random" {
		t.Fatalf("rooms not loaded: %v", cfg.Rooms)
	}
	limits := cfg.Limits()
	if limits.MessageBurst != 10 || limits.MessageRefillPerSec != 5 {
		t.Fatalf("limits not applied: %+v", limits)
	}
	if limits.VerifyBurst == 0 {
		t.Fatal("unset limits must fall back to defaults")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("transport: warp-drive\n"), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("unknown transport must be rejected")
	}
	if err := os.WriteFile(path, []byte("peers:\n  bootstrap: [not-an-addr]\n"), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("invalid bootstrap multiaddr must be rejected")
	}
}
