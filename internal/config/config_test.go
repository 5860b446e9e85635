package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Web.Port != 8765 {
		t.Errorf("web port = %d, want 8765", cfg.Web.Port)
	}
	if cfg.PollInterval() != 10*time.Second {
		t.Errorf("poll interval = %v, want 10s", cfg.PollInterval())
	}
	if cfg.DefaultMachine != "local" {
		t.Errorf("default machine = %q, want local", cfg.DefaultMachine)
	}
}

func TestLoadMalformedConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not valid"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted malformed config")
	}
}

func TestLoadJSON5AndNumericUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// telegram settings
		telegramToken: "123:abc",
		authorizedUsers: [386246614, "owl"],
		poll_interval: 5,
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.AuthorizedUsers) != 2 || cfg.AuthorizedUsers[0] != "386246614" || cfg.AuthorizedUsers[1] != "owl" {
		t.Errorf("authorized users = %v", cfg.AuthorizedUsers)
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Errorf("poll interval = %v, want 5s", cfg.PollInterval())
	}
}

func TestLegacyMachineKeysFoldIntoRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"machine_name": "hetzner", "repo_path": "/srv/galaxy"}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m, ok := cfg.Machines["hetzner"]
	if !ok {
		t.Fatalf("machines = %v, want hetzner entry", cfg.Machines)
	}
	if m.RepoPath != "/srv/galaxy" {
		t.Errorf("repo path = %q", m.RepoPath)
	}
	if cfg.DefaultMachine != "hetzner" {
		t.Errorf("default machine = %q, want hetzner", cfg.DefaultMachine)
	}
}

func TestTelegramEnabled(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"", false},
		{"YOUR_TELEGRAM_BOT_TOKEN", false},
		{"  ", false},
		{"123456:real-token", true},
	}
	for _, tt := range tests {
		cfg := &Config{TelegramToken: tt.token}
		if got := cfg.TelegramEnabled(); got != tt.want {
			t.Errorf("TelegramEnabled(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GALAXY_TELEGRAM_TOKEN", "env:token")
	t.Setenv("GALAXY_JWT_SECRET", "env-secret")
	t.Setenv("GALAXY_WEB_PORT", "9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TelegramToken != "env:token" {
		t.Errorf("telegram token = %q", cfg.TelegramToken)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Web.Port != 9999 {
		t.Errorf("web port = %d", cfg.Web.Port)
	}
}
