package machines

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// concernsLimit bounds a /concerns reply; content at the limit passes intact.
const concernsLimit = 3500

// StatusText builds the /status health summary for one machine. Each section
// degrades independently so a broken tool never hides the rest.
func (r *Registry) StatusText(ctx context.Context, m Machine) string {
	gitLog, _, _, err := r.run(ctx, m, "git", "log", "--oneline", "-5")
	if err != nil || gitLog == "" {
		gitLog = "(git unavailable)"
	}

	gitStatus, _, _, err := r.run(ctx, m, "git", "status", "--short")
	if err != nil {
		gitStatus = "(unknown)"
	} else if gitStatus == "" {
		gitStatus = "(clean)"
	}

	testLine := "(tests unavailable)"
	if stdout, _, _, err := r.run(ctx, m, "python3", "-m", "pytest", "tests/", "-q", "--tb=no"); err == nil && stdout != "" {
		lines := strings.Split(stdout, "\n")
		testLine = lines[len(lines)-1]
	}

	return fmt.Sprintf(
		"📊 <b>%s</b> Status\n\n"+
			"<b>Recent commits:</b>\n<pre>%s</pre>\n\n"+
			"<b>Working tree:</b> <code>%s</code>\n"+
			"<b>Tests:</b> %s\n"+
			"<b>Stargazer:</b> %s\n"+
			"<b>Time:</b> %s",
		m.Name, gitLog, gitStatus, testLine, r.reportSummary(m), time.Now().Format("15:04:05"))
}

// reportSummary counts stargazer reports and surfaces the latest concern
// totals. Reports only exist on local checkouts.
func (r *Registry) reportSummary(m Machine) string {
	if !m.IsLocal() {
		return "(remote, reports unavailable)"
	}
	reports, err := filepath.Glob(filepath.Join(m.RepoPath, ".sisyphus/notepads/stargazer-*/meta.json"))
	if err != nil || len(reports) == 0 {
		return "No reports"
	}
	sort.Strings(reports)

	summary := fmt.Sprintf("%d report(s)", len(reports))
	data, err := os.ReadFile(reports[len(reports)-1])
	if err != nil {
		return summary
	}
	var meta struct {
		CriticalConcerns int `json:"critical_concerns"`
		WarningConcerns  int `json:"warning_concerns"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return summary
	}
	return summary + fmt.Sprintf("\nLatest: %d critical, %d warnings", meta.CriticalConcerns, meta.WarningConcerns)
}

// ConcernsText returns the latest stargazer problems report for a machine,
// truncated past concernsLimit chars.
func (r *Registry) ConcernsText(m Machine) string {
	if !m.IsLocal() {
		return fmt.Sprintf("⚠️ <b>%s</b>: concerns only available for local machines", m.Name)
	}

	reports, err := filepath.Glob(filepath.Join(m.RepoPath, ".sisyphus/notepads/stargazer-*/problems.md"))
	if err != nil || len(reports) == 0 {
		return fmt.Sprintf("✅ <b>%s</b>: No Stargazer concerns on file.", m.Name)
	}
	sort.Strings(reports)

	data, err := os.ReadFile(reports[len(reports)-1])
	if err != nil {
		return fmt.Sprintf("⚠️ <b>%s</b>: latest report unreadable", m.Name)
	}

	content := string(data)
	if runes := []rune(content); len(runes) > concernsLimit {
		content = string(runes[:concernsLimit]) + "\n\n... (truncated, see full in notepads)"
	}
	return fmt.Sprintf("📋 <b>%s</b> — Latest Concerns\n\n%s", m.Name, content)
}
