package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rcelink.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
email: admin@example.com
password: hunter2
connect_timeout: 5s
servers:
  - identifier: eu-main
    server_id: 1234567
    region: EU
    refresh_players: 2
    rf_broadcasting: true
schedules:
  - server: eu-main
    cron: "0 */6 * * *"
    command: "global.say restart soon"
`)
	t.Setenv("RCELINK_LISTEN", ":9090")
	t.Setenv("RCELINK_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" || cfg.Log.Level != "debug" {
		t.Errorf("env overlay not applied: %+v", cfg)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v", cfg.ConnectTimeout)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0].ServerID != 1234567 || !cfg.Servers[0].RFBroadcasting {
		t.Errorf("servers = %+v", cfg.Servers)
	}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Command != "global.say restart soon" {
		t.Errorf("schedules = %+v", cfg.Schedules)
	}
	if cfg.Journal.Retention != 7*24*time.Hour {
		t.Errorf("default retention = %v", cfg.Journal.Retention)
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("RCELINK_EMAIL", "")
	t.Setenv("RCELINK_PASSWORD", "")
	if _, err := Load(""); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("Load() error = %v, want ErrMissingCredentials", err)
	}
}

func TestValidateServers(t *testing.T) {
	cfg := &Config{Email: "a", Password: "b", Servers: []Server{
		{Identifier: "x", Region: "EU"},
		{Identifier: "x", Region: "US"},
	}}
	if err := cfg.Validate(); !errors.Is(err, ErrDuplicateServer) {
		t.Errorf("duplicate: %v", err)
	}
	cfg.Servers = []Server{{Identifier: "x", Region: "ES"}}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("region: %v", err)
	}
}
