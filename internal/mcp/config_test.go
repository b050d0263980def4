package mcp

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jarvis-mcp.toml")
	body := `
[relay]
url = "ws://relay.lan:8765"

[security]
command_secret = "shop-floor"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JARVIS_RELAY_URL", "")
	t.Setenv("JARVIS_COMMAND_SECRET", "")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Relay.URL != "ws://relay.lan:8765" {
		t.Errorf("relay.url = %q", cfg.Relay.URL)
	}
	if cfg.Security.CommandSecret != "shop-floor" {
		t.Errorf("command_secret = %q", cfg.Security.CommandSecret)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}
