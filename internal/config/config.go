// Package config loads the Caduceus gateway configuration from a JSON5
// file with environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
// Telegram user ids are often written as bare numbers in config files.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the Caduceus gateway.
type Config struct {
	TelegramToken   string              `json:"telegramToken"`
	AuthorizedUsers FlexibleStringSlice `json:"authorizedUsers"`

	Web  WebConfig  `json:"web"`
	Auth AuthConfig `json:"auth"`

	// Machine registry. The legacy single-machine form
	// (machine_name + repo_path) is folded into Machines by Load.
	Machines       map[string]MachineConfig `json:"machines,omitempty"`
	MachineName    string                   `json:"machine_name,omitempty"`
	RepoPath       string                   `json:"repo_path,omitempty"`
	DefaultMachine string                   `json:"default_machine,omitempty"`

	// PollIntervalSeconds is the base cadence for ack and outbox polling.
	PollIntervalSeconds float64 `json:"poll_interval"`

	// ExecutorTimeoutSeconds bounds the wait for an agent response.
	ExecutorTimeoutSeconds      float64 `json:"executorTimeout"`
	ExecutorPollIntervalSeconds float64 `json:"executorPollInterval"`

	Features FeaturesConfig `json:"features"`
}

// WebConfig configures the browser channel.
type WebConfig struct {
	Enabled       bool   `json:"enabled"`
	Host          string `json:"host,omitempty"`
	Port          int    `json:"port,omitempty"`
	SecureCookies bool   `json:"secureCookies,omitempty"`
}

// AuthConfig configures the user store and token signing.
// JWTSecret is also settable via GALAXY_JWT_SECRET (env wins).
type AuthConfig struct {
	JWTSecret        string `json:"jwtSecret,omitempty"`
	TokenExpiryHours int    `json:"tokenExpiryHours,omitempty"`
	DBPath           string `json:"dbPath,omitempty"`
}

// MachineConfig describes one execution target.
// An empty Host means the machine is this host (commands run locally).
type MachineConfig struct {
	Host     string `json:"host,omitempty"`
	RepoPath string `json:"repo_path"`
}

// FeaturesConfig gates optional subsystems.
type FeaturesConfig struct {
	Enrichment bool   `json:"enrichment,omitempty"`
	Voice      bool   `json:"voice,omitempty"`
	ImagePDF   bool   `json:"image_pdf,omitempty"`
	Scheduler  bool   `json:"scheduler,omitempty"`
	DigestCron string `json:"digest_cron,omitempty"`
}

// placeholderTokens are values shipped in example configs; a token equal to
// one of these does not enable the Telegram channel.
var placeholderTokens = map[string]bool{
	"":                        true,
	"YOUR_TELEGRAM_BOT_TOKEN": true,
	"REPLACE_ME":              true,
}

// TelegramEnabled reports whether the Telegram channel should start.
func (c *Config) TelegramEnabled() bool {
	return !placeholderTokens[strings.TrimSpace(c.TelegramToken)]
}

// PollInterval returns the base polling cadence.
func (c *Config) PollInterval() time.Duration {
	return secondsOr(c.PollIntervalSeconds, 10*time.Second)
}

// ExecutorTimeout returns the agent-response wait bound.
func (c *Config) ExecutorTimeout() time.Duration {
	return secondsOr(c.ExecutorTimeoutSeconds, 300*time.Second)
}

// ExecutorPollInterval returns the response-file polling cadence.
func (c *Config) ExecutorPollInterval() time.Duration {
	return secondsOr(c.ExecutorPollIntervalSeconds, time.Second)
}

// TokenExpiry returns the web token lifetime.
func (c *Config) TokenExpiry() time.Duration {
	if c.Auth.TokenExpiryHours > 0 {
		return time.Duration(c.Auth.TokenExpiryHours) * time.Hour
	}
	return 24 * time.Hour
}

func secondsOr(s float64, fallback time.Duration) time.Duration {
	if s > 0 {
		return time.Duration(s * float64(time.Second))
	}
	return fallback
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
