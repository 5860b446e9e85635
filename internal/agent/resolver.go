// Package agent invokes the external agent CLI and extracts its responses.
package agent

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// BinaryEnvVar overrides agent binary resolution with an explicit path.
const BinaryEnvVar = "GALAXY_OPENCODE_BIN"

// ErrBinaryNotFound means no agent CLI could be located. The caller releases
// the claimed order so it can be retried once the binary is installed.
var ErrBinaryNotFound = errors.New("agent CLI not found")

// ResolveBinary locates the agent CLI. Tried in order: the env override,
// PATH lookup, well-known home-directory locations. Never fabricates a path.
func ResolveBinary() (string, error) {
	if override := strings.TrimSpace(os.Getenv(BinaryEnvVar)); override != "" {
		expanded := expandHome(override)
		if isExecutable(expanded) {
			return expanded, nil
		}
		if resolved, err := exec.LookPath(override); err == nil {
			return resolved, nil
		}
		return "", fmt.Errorf("%w: %s is set to %q but no executable was found", ErrBinaryNotFound, BinaryEnvVar, override)
	}

	if resolved, err := exec.LookPath("opencode"); err == nil {
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err == nil {
		for _, candidate := range []string{
			filepath.Join(home, ".opencode/bin/opencode"),
			filepath.Join(home, ".local/bin/opencode"),
		} {
			if isExecutable(candidate) {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("%w: opencode is not on PATH; install it or set %s to an absolute binary path", ErrBinaryNotFound, BinaryEnvVar)
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return fi.Mode()&0111 != 0
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// SanitizeEnv strips the agent's own daemon configuration variables so the
// subprocess never inherits a conflicting server endpoint from our caller.
func SanitizeEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if key == "OPENCODE" || strings.HasPrefix(key, "OPENCODE_") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
