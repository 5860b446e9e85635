package machines

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// commandTimeout bounds one status/concerns shell-out.
const commandTimeout = 30 * time.Second

// sshConnectTimeout keeps an unreachable remote from stalling a command reply.
const sshConnectTimeout = "5"

// runCommand executes args on a machine: locally with the repo as working
// directory, or through ssh for remote hosts.
func runCommand(ctx context.Context, m Machine, args ...string) (string, string, int, error) {
	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if m.IsLocal() {
		cmd = exec.CommandContext(runCtx, args[0], args[1:]...)
		cmd.Dir = m.RepoPath
	} else {
		target := m.Host
		if m.SSHUser != "" {
			target = m.SSHUser + "@" + m.Host
		}
		quoted := make([]string, len(args))
		for i, a := range args {
			quoted[i] = shellQuote(a)
		}
		remote := "cd " + shellQuote(m.RepoPath) + " && " + strings.Join(quoted, " ")
		cmd = exec.CommandContext(runCtx, "ssh", "-o", "ConnectTimeout="+sshConnectTimeout, target, remote)
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	stdout := strings.TrimSpace(outBuf.String())
	stderr := strings.TrimSpace(errBuf.String())
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout, stderr, exitErr.ExitCode(), nil
		}
		return stdout, stderr, -1, err
	}
	return stdout, stderr, 0, nil
}

// shellQuote wraps s in single quotes for the remote shell, escaping any
// embedded single quotes.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
