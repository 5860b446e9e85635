package sessions

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestTrackerRoundTrip(t *testing.T) {
	root := t.TempDir()
	tr := NewTracker(root, RoleHermes)

	if got := tr.Load(); got != "" {
		t.Errorf("Load on empty tracker = %q", got)
	}

	if err := tr.Save("ses_abc123"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := tr.Load(); got != "ses_abc123" {
		t.Errorf("Load = %q, want ses_abc123", got)
	}

	// Overwrite keeps only the newest id.
	if err := tr.Save("ses_def456"); err != nil {
		t.Fatal(err)
	}
	if got := tr.Load(); got != "ses_def456" {
		t.Errorf("Load after overwrite = %q", got)
	}

	if err := tr.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := tr.Load(); got != "" {
		t.Errorf("Load after reset = %q", got)
	}
	// Reset on a missing file is fine.
	if err := tr.Reset(); err != nil {
		t.Errorf("second Reset: %v", err)
	}
}

func TestTrackerRolesAreIsolated(t *testing.T) {
	root := t.TempDir()
	hermes := NewTracker(root, RoleHermes)
	enrich := NewTracker(root, RoleEnrichment)

	if err := hermes.Save("ses_hermes"); err != nil {
		t.Fatal(err)
	}
	if err := enrich.Save("ses_enrich"); err != nil {
		t.Fatal(err)
	}
	if got := hermes.Load(); got != "ses_hermes" {
		t.Errorf("hermes session = %q", got)
	}
	if got := enrich.Load(); got != "ses_enrich" {
		t.Errorf("enrichment session = %q", got)
	}
}

func TestTrackerCorruptRecordReadsEmpty(t *testing.T) {
	root := t.TempDir()
	tr := NewTracker(root, RoleHermes)
	if err := os.MkdirAll(filepath.Dir(tr.Path()), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tr.Path(), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := tr.Load(); got != "" {
		t.Errorf("Load on corrupt record = %q", got)
	}
}

func TestEventLogAppendsJSONL(t *testing.T) {
	root := t.TempDir()
	log := NewEventLog(root)

	log.Log("daemon_started", map[string]any{"component": "hermes", "machine": "local"})
	log.Log("backend_session_assigned", map[string]any{"session_id": "ses_x"})

	f, err := os.Open(filepath.Join(root, eventLogFile))
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		records = append(records, rec)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0]["event_type"] != "daemon_started" || records[0]["component"] != "hermes" {
		t.Errorf("first record = %v", records[0])
	}
	if records[0]["timestamp"] == "" {
		t.Error("timestamp missing")
	}
	if records[1]["session_id"] != "ses_x" {
		t.Errorf("second record = %v", records[1])
	}
}

func TestDetectRepoRootFindsMarkers(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{".sisyphus", ".galaxy", "sub/dir"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			t.Fatal(err)
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	if err := os.Chdir(filepath.Join(root, "sub", "dir")); err != nil {
		t.Fatal(err)
	}
	got := DetectRepoRoot()
	// Resolve symlinks: macOS TempDir lives under /var → /private/var.
	want, _ := filepath.EvalSymlinks(root)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != want {
		t.Errorf("DetectRepoRoot = %q, want %q", gotResolved, want)
	}
}
