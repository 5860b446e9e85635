package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/galaxyproto/caduceus/internal/sessions"
)

// DefaultTimeout bounds a single agent invocation.
const DefaultTimeout = 180 * time.Second

// MaxTimeout is the upper bound used by long-running enrichment jobs.
const MaxTimeout = 900 * time.Second

// Runner invokes the agent CLI with session continuity.
//
// Session handling: the persisted session id is passed on every run. When the
// agent rejects it as invalid or expired, the runner retries once without a
// session and persists whatever new id the retry emits.
type Runner struct {
	workdir   string
	tracker   *sessions.Tracker
	events    *sessions.EventLog
	timeout   time.Duration
	component string
}

// RunnerOption tunes a Runner.
type RunnerOption func(*Runner)

// WithTimeout overrides the invocation deadline, capped at MaxTimeout.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			if d > MaxTimeout {
				d = MaxTimeout
			}
			r.timeout = d
		}
	}
}

// NewRunner creates a Runner working in the given directory. component names
// the caller in session event records (e.g. "hermes", "enrichment").
func NewRunner(workdir, component string, tracker *sessions.Tracker, events *sessions.EventLog, opts ...RunnerOption) *Runner {
	r := &Runner{
		workdir:   workdir,
		tracker:   tracker,
		events:    events,
		timeout:   DefaultTimeout,
		component: component,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SessionID returns the currently persisted session id, or "".
func (r *Runner) SessionID() string {
	return r.tracker.Load()
}

// Run invokes the agent with the prompt and returns the extracted response
// text. Only a missing binary is reported as an error; execution failures and
// timeouts come back as synthetic response strings so the user always sees
// something.
func (r *Runner) Run(ctx context.Context, prompt string) (string, error) {
	binary, err := ResolveBinary()
	if err != nil {
		return "", err
	}

	sessionID := r.tracker.Load()
	stdout, stderr, exitCode, runErr := r.invoke(ctx, binary, prompt, sessionID)

	if sessionID != "" && exitCode != 0 && isInvalidSession(stderr) {
		r.events.Log("backend_session_invalid", map[string]any{
			"component":  r.component,
			"session_id": sessionID,
			"action":     "recreate",
		})
		// Drop the known-bad id now; the retry may not emit a replacement,
		// and every later run would pay a failed first attempt otherwise.
		if err := r.tracker.Reset(); err != nil {
			slog.Warn("reset session record failed", "error", err)
		}
		stdout, stderr, exitCode, runErr = r.invoke(ctx, binary, prompt, "")
	}

	if newID := ExtractSessionID(stdout); newID != "" {
		if err := r.tracker.Save(newID); err != nil {
			slog.Warn("persist session id failed", "error", err)
		}
		if newID != sessionID {
			r.events.Log("backend_session_assigned", map[string]any{
				"component":           r.component,
				"session_id":          newID,
				"previous_session_id": sessionID,
				"reason":              "agent_response",
			})
		}
	}

	switch {
	case errors.Is(runErr, context.DeadlineExceeded):
		return fmt.Sprintf("Agent execution timed out (%s limit)", r.timeout), nil
	case runErr != nil && exitCode < 0:
		return fmt.Sprintf("Agent connection error: %v", runErr), nil
	case exitCode == 0 && stdout != "":
		return ExtractResponse(stdout), nil
	default:
		detail := stderr
		if len(detail) > 500 {
			detail = detail[:500]
		}
		if detail == "" {
			detail = "Unknown error"
		}
		return fmt.Sprintf("Agent execution failed (exit %d)\n\n%s", exitCode, detail), nil
	}
}

// BootstrapSession ensures a persisted session exists, creating one via a
// bootstrap prompt when needed. Returns the session id or "".
func (r *Runner) BootstrapSession(ctx context.Context) string {
	if existing := r.tracker.Load(); existing != "" {
		r.events.Log("backend_session_reused", map[string]any{
			"component":  r.component,
			"session_id": existing,
		})
		return existing
	}

	prompt := "[Galaxy Bootstrap] Initialize persistent session for Hermes. Reply with exactly: READY"
	result, err := r.Run(ctx, prompt)
	newID := r.tracker.Load()

	if newID != "" {
		r.events.Log("backend_session_created", map[string]any{
			"component":  r.component,
			"session_id": newID,
			"reason":     "startup",
		})
		return newID
	}

	detail := result
	if err != nil {
		detail = err.Error()
	}
	if len(detail) > 200 {
		detail = detail[:200]
	}
	r.events.Log("backend_session_bootstrap_failed", map[string]any{
		"component": r.component,
		"detail":    detail,
	})
	return ""
}

// invoke runs one agent subprocess. exitCode is -1 when the process could not
// be started or was killed before producing an exit status.
func (r *Runner) invoke(ctx context.Context, binary, prompt, sessionID string) (stdout, stderr string, exitCode int, err error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{"run", "--format", "json"}
	if sessionID != "" {
		args = append(args, "--session", sessionID)
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Dir = r.workdir
	cmd.Env = SanitizeEnv(os.Environ())

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	if runCtx.Err() == context.DeadlineExceeded {
		return stdout, stderr, -1, context.DeadlineExceeded
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return stdout, stderr, exitErr.ExitCode(), nil
		}
		return stdout, stderr, -1, runErr
	}
	return stdout, stderr, 0, nil
}

// isInvalidSession matches the agent's stderr complaints about a stale
// session id.
func isInvalidSession(stderr string) bool {
	s := strings.ToLower(stderr)
	if !strings.Contains(s, "session") {
		return false
	}
	return strings.Contains(s, "not found") || strings.Contains(s, "invalid") || strings.Contains(s, "expired")
}
