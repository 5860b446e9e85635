// Package sessions persists agent session identity and the session event log.
//
// Each agent role (hermes, enrichment) keeps a single JSON record under
// .galaxy/ holding the opaque session id returned by the agent CLI. Lifecycle
// events go to an append-only JSONL file under .sisyphus/notepads/.
package sessions

import (
	"os"
	"path/filepath"
)

// looksLikeProjectRoot reports whether dir carries both protocol markers.
func looksLikeProjectRoot(dir string) bool {
	if fi, err := os.Stat(filepath.Join(dir, ".sisyphus")); err != nil || !fi.IsDir() {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, ".galaxy")); err != nil {
		return false
	}
	return true
}

// DetectRepoRoot finds the directory holding the protocol state.
// The working directory wins if it carries both markers; otherwise parents
// are walked upward. Falls back to a .sisyphus-only working directory, then
// to the working directory itself.
func DetectRepoRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	if looksLikeProjectRoot(cwd) {
		return cwd
	}

	for dir := cwd; ; {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
		if looksLikeProjectRoot(dir) {
			return dir
		}
	}

	if _, err := os.Stat(filepath.Join(cwd, ".sisyphus")); err == nil {
		return cwd
	}
	return cwd
}
