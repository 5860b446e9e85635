package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8765,
		},
		Auth: AuthConfig{
			TokenExpiryHours: 24,
			DBPath:           "~/.galaxy/users.db",
		},
		DefaultMachine:              "local",
		PollIntervalSeconds:         10,
		ExecutorTimeoutSeconds:      300,
		ExecutorPollIntervalSeconds: 1,
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields defaults; a malformed file is a hard error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.normalizeMachines()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.normalizeMachines()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("GALAXY_TELEGRAM_TOKEN", &c.TelegramToken)
	envStr("GALAXY_JWT_SECRET", &c.Auth.JWTSecret)
	envStr("GALAXY_AUTH_DB", &c.Auth.DBPath)
	envStr("GALAXY_DEFAULT_MACHINE", &c.DefaultMachine)

	if v := os.Getenv("GALAXY_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Web.Port = port
		}
	}
	if v := os.Getenv("GALAXY_WEB_ENABLED"); v != "" {
		c.Web.Enabled = v == "true" || v == "1"
	}
}

// normalizeMachines folds the legacy single-machine keys into the registry
// and guarantees DefaultMachine names a registered machine.
func (c *Config) normalizeMachines() {
	if c.Machines == nil {
		c.Machines = make(map[string]MachineConfig)
	}

	if c.MachineName != "" && c.RepoPath != "" {
		if _, exists := c.Machines[c.MachineName]; !exists {
			c.Machines[c.MachineName] = MachineConfig{RepoPath: c.RepoPath}
		}
		if c.DefaultMachine == "" || c.DefaultMachine == "local" {
			c.DefaultMachine = c.MachineName
		}
	}

	if len(c.Machines) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			wd = "."
		}
		c.Machines["local"] = MachineConfig{RepoPath: wd}
		c.DefaultMachine = "local"
		return
	}

	if _, ok := c.Machines[c.DefaultMachine]; !ok {
		names := make([]string, 0, len(c.Machines))
		for name := range c.Machines {
			names = append(names, name)
		}
		sort.Strings(names)
		c.DefaultMachine = names[0]
	}
}
