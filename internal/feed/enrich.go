package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/galaxyproto/caduceus/internal/agent"
	"github.com/galaxyproto/caduceus/internal/orders"
	"github.com/galaxyproto/caduceus/internal/sessions"
)

// NotEnrichedMarker replaces error content in references whose enrichment
// failed.
const NotEnrichedMarker = "DeepWiki analysis unavailable for this repository."

// deepwikiErrorPatterns indicate the enrichment agent wrote upstream error
// text into the reference instead of analysis.
var deepwikiErrorPatterns = []string{
	"Repository not found",
	"Visit https://deepwiki.com to index it",
	"Error processing question",
	"Requested repos:",
}

var (
	relevanceSectionRe = regexp.MustCompile(`(?s)(## Relevance to Our Work\n\n).*?(\n\n## )`)
	patternsSectionRe  = regexp.MustCompile(`(?s)(## Applicable Patterns\n\n).*`)
)

// Enricher runs background agent jobs that replace a reference's placeholder
// sections with repository analysis. Failures surface as outbox warnings;
// the index analysis field tracks the outcome.
type Enricher struct {
	runner *agent.Runner
	store  *orders.Store
	wg     sync.WaitGroup
}

// NewEnricher creates an Enricher working in the repository root. Jobs reuse
// the enrichment session persisted under the root; failure notifications go
// through store's outbox.
func NewEnricher(root string, store *orders.Store, events *sessions.EventLog) *Enricher {
	tracker := sessions.NewTracker(root, sessions.RoleEnrichment)
	return &Enricher{
		runner: agent.NewRunner(root, "enrichment", tracker, events, agent.WithTimeout(agent.MaxTimeout)),
		store:  store,
	}
}

// Start launches an enrichment job for a GitHub reference. It reports
// whether the job was dispatched; failures to even start are notified
// immediately.
func (e *Enricher) Start(ctx context.Context, repoURL, referencesDir, fileName, channel, chatID string) bool {
	owner, repo, ok := ExtractOwnerRepo(repoURL)
	if !ok {
		e.notifyFailure(fmt.Sprintf("DeepWiki enrichment failed to dispatch for %s: not a repository URL", repoURL), channel, chatID)
		return false
	}

	if _, err := agent.ResolveBinary(); err != nil {
		e.notifyFailure(fmt.Sprintf("DeepWiki enrichment unavailable for %s/%s: %v", owner, repo, err), channel, chatID)
		return false
	}

	referencePath := filepath.Join(referencesDir, fileName)
	initial, err := os.ReadFile(referencePath)
	if err != nil {
		e.notifyFailure(fmt.Sprintf("DeepWiki enrichment failed to start for %s/%s: %v", owner, repo, err), channel, chatID)
		return false
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, repoURL, owner, repo, referencesDir, fileName, string(initial), channel, chatID)
	}()
	return true
}

// Wait blocks until every dispatched job has finished. Called on shutdown so
// enrichment children do not outlive the gateway.
func (e *Enricher) Wait() {
	e.wg.Wait()
}

func (e *Enricher) run(ctx context.Context, repoURL, owner, repo, referencesDir, fileName, initial, channel, chatID string) {
	referencePath := filepath.Join(referencesDir, fileName)
	prompt := enrichmentPrompt(repoURL, owner, repo, referencePath)

	response, err := e.runner.Run(ctx, prompt)
	if err != nil {
		e.notifyFailure(fmt.Sprintf("DeepWiki enrichment failed for %s/%s: %v", owner, repo, err), channel, chatID)
		return
	}

	updated, err := os.ReadFile(referencePath)
	if err != nil {
		e.notifyFailure(fmt.Sprintf("DeepWiki enrichment completed but reference file is unreadable for %s/%s: %v", owner, repo, err), channel, chatID)
		setAnalysis(referencesDir, fileName, "deepwiki-error")
		return
	}
	content := string(updated)

	placeholders := strings.Contains(content, RelevancePlaceholder) || strings.Contains(content, PatternsPlaceholder)
	if content == initial || placeholders {
		e.notifyFailure(fmt.Sprintf(
			"DeepWiki enrichment did not update %s/%s reference content. Details: %s",
			owner, repo, lastLine(response)), channel, chatID)
		setAnalysis(referencesDir, fileName, "deepwiki-unchanged")
		return
	}

	if containsDeepwikiErrors(content) {
		if err := cleanFailedEnrichment(referencePath); err != nil {
			slog.Warn("enrichment cleanup failed", "file", fileName, "error", err)
		}
		e.notifyFailure(fmt.Sprintf(
			"DeepWiki enrichment for %s/%s produced error content (repo likely not indexed). Cleaned reference.",
			owner, repo), channel, chatID)
		setAnalysis(referencesDir, fileName, "deepwiki-not-indexed")
		return
	}

	setAnalysis(referencesDir, fileName, "deepwiki-enriched")
	slog.Info("reference enriched", "repo", owner+"/"+repo, "file", fileName)
}

func (e *Enricher) notifyFailure(message, channel, chatID string) {
	n := orders.NewNotification(orders.SeverityWarning, "DeepWiki Enricher", message)
	n.ChatID = chatID
	n.Channel = channel
	name := "deepwiki-enrich-" + orders.NewOrderID(time.Now(), "") + ".json"
	if _, err := e.store.WriteOutbox(name, n); err != nil {
		slog.Error("enrichment failure notification lost", "error", err, "message", message)
	}
}

func enrichmentPrompt(repoURL, owner, repo, referencePath string) string {
	return "[Galaxy DeepWiki Enrichment Job]\n" +
		"You are updating a reference file after /feed capture.\n" +
		fmt.Sprintf("Repository: %s/%s\n", owner, repo) +
		fmt.Sprintf("Repository URL: %s\n", repoURL) +
		fmt.Sprintf("Reference File: %s\n\n", referencePath) +
		"TASK:\n" +
		"1) Use DeepWiki MCP tools to analyze the repository architecture and workflows.\n" +
		"2) Edit the reference file in place.\n" +
		"3) Replace placeholder text in these sections with concrete content:\n" +
		fmt.Sprintf("   - Relevance placeholder: %s\n", RelevancePlaceholder) +
		fmt.Sprintf("   - Patterns placeholder: %s\n", PatternsPlaceholder) +
		"4) Keep metadata header and existing Summary/Key Insights sections intact.\n" +
		"5) Keep the document concise and actionable.\n" +
		"6) If analysis is impossible, explain why in your final response and exit non-zero.\n"
}

func containsDeepwikiErrors(content string) bool {
	for _, pattern := range deepwikiErrorPatterns {
		if strings.Contains(content, pattern) {
			return true
		}
	}
	return false
}

// cleanFailedEnrichment replaces the Relevance and Applicable Patterns
// sections with clean markers, preserving the header and Summary/Key
// Insights.
func cleanFailedEnrichment(referencePath string) error {
	data, err := os.ReadFile(referencePath)
	if err != nil {
		return err
	}
	content := string(data)
	content = relevanceSectionRe.ReplaceAllString(content, "${1}"+NotEnrichedMarker+"${2}")
	content = patternsSectionRe.ReplaceAllString(content, "${1}- "+NotEnrichedMarker+"\n")
	return os.WriteFile(referencePath, []byte(content), 0644)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "No details"
	}
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
