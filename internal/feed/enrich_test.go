package feed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/galaxyproto/caduceus/internal/agent"
	"github.com/galaxyproto/caduceus/internal/orders"
	"github.com/galaxyproto/caduceus/internal/sessions"
)

const sampleReference = `# Example

**Source**: https://github.com/example/repo

---

## Summary

A useful repository.

## Key Insights

- Insight one.

## Relevance to Our Work

Repository not found. Visit https://deepwiki.com to index it.

## Applicable Patterns

Error processing question about the repository.
`

func TestCleanFailedEnrichment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.md")
	if err := os.WriteFile(path, []byte(sampleReference), 0644); err != nil {
		t.Fatal(err)
	}

	if err := cleanFailedEnrichment(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	if strings.Contains(content, "Repository not found") || strings.Contains(content, "Error processing question") {
		t.Error("error content survived cleanup")
	}
	if got := strings.Count(content, NotEnrichedMarker); got != 2 {
		t.Errorf("marker count = %d, want 2", got)
	}
	if !strings.Contains(content, "A useful repository.") || !strings.Contains(content, "- Insight one.") {
		t.Error("summary or insights damaged by cleanup")
	}
}

func TestContainsDeepwikiErrors(t *testing.T) {
	if !containsDeepwikiErrors("prefix Repository not found suffix") {
		t.Error("known error pattern not detected")
	}
	if containsDeepwikiErrors("perfectly good analysis") {
		t.Error("clean content flagged")
	}
}

func TestEnricherStartWithoutBinary(t *testing.T) {
	t.Setenv(agent.BinaryEnvVar, "/nonexistent/opencode")

	root := t.TempDir()
	store := orders.NewStore(root)
	e := NewEnricher(root, store, sessions.NewEventLog(root))

	refsDir := filepath.Join(root, referencesSubdir)
	if err := os.MkdirAll(refsDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(refsDir, "ref.md"), []byte(sampleReference), 0644); err != nil {
		t.Fatal(err)
	}

	started := e.Start(context.Background(), "https://github.com/example/repo", refsDir, "ref.md", "telegram", "42")
	if started {
		t.Fatal("job started without an agent binary")
	}
	e.Wait()

	entries, err := store.ListUnsentOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("outbox entries = %d, want 1", len(entries))
	}
	n := entries[0].Notification
	if n.Severity != orders.SeverityWarning || n.From != "DeepWiki Enricher" {
		t.Errorf("notification = %+v", n)
	}
	if !strings.Contains(n.Message, "unavailable") || n.ChatID != "42" {
		t.Errorf("notification = %+v", n)
	}
}

func TestEnricherRejectsNonRepoURL(t *testing.T) {
	root := t.TempDir()
	store := orders.NewStore(root)
	e := NewEnricher(root, store, sessions.NewEventLog(root))

	if e.Start(context.Background(), "https://example.com/article", t.TempDir(), "ref.md", "telegram", "") {
		t.Error("non-repository URL dispatched")
	}
	entries, err := store.ListUnsentOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.Contains(entries[0].Notification.Message, "not a repository URL") {
		t.Errorf("entries = %+v", entries)
	}
}

func TestSetAnalysis(t *testing.T) {
	dir := t.TempDir()
	idx := &Index{Version: indexVersion, References: []Reference{{
		Slug: "s", URL: "u", Title: "t", Type: "repo", Tags: []string{},
		SharedAt: "now", SharedVia: "telegram", File: "s.md",
	}}}
	if err := writeIndex(dir, idx); err != nil {
		t.Fatal(err)
	}

	setAnalysis(dir, "s.md", "deepwiki-enriched")

	reloaded, err := loadIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.References[0].Analysis != "deepwiki-enriched" {
		t.Errorf("analysis = %q", reloaded.References[0].Analysis)
	}
}
