package feed

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeExtractor struct {
	extracted *Extracted
	err       error
}

func (f *fakeExtractor) Extract(_ context.Context, _ string) (*Extracted, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.extracted, nil
}

func newTestProcessor(t *testing.T, extracted *Extracted) (*Processor, string) {
	t.Helper()
	root := t.TempDir()
	p := NewProcessor(root, &fakeExtractor{extracted: extracted}, nil)
	p.now = func() time.Time {
		return time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	}
	return p, root
}

func readIndex(t *testing.T, p *Processor) *Index {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(p.dir, "index.json"))
	if err != nil {
		t.Fatal(err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		t.Fatal(err)
	}
	return &idx
}

func TestProcessCreatesReference(t *testing.T) {
	p, _ := newTestProcessor(t, &Extracted{
		Title:    "Example Repo",
		Text:     "A library for parsing orders. It handles atomic renames. Third sentence carries more detail.",
		Keywords: []string{"parsing", "Go", "the"},
	})

	result, err := p.Process(context.Background(), "https://github.com/example/repo", "worth a look", "telegram", "42")
	if err != nil {
		t.Fatal(err)
	}

	if result.Slug != "2026-02-23-example-repo" {
		t.Errorf("slug = %q", result.Slug)
	}
	if result.Type != "repo" || result.UpdatedExisting {
		t.Errorf("result = %+v", result)
	}

	data, err := os.ReadFile(result.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	for _, want := range []string{
		"# Example Repo",
		"**Source**: https://github.com/example/repo",
		"**Type**: repo",
		"**Note**: worth a look",
		"**Via**: telegram",
		"## Summary",
		"## Key Insights",
		RelevancePlaceholder,
		PatternsPlaceholder,
	} {
		if !strings.Contains(content, want) {
			t.Errorf("reference missing %q", want)
		}
	}

	idx := readIndex(t, p)
	if len(idx.References) != 1 {
		t.Fatalf("index has %d references", len(idx.References))
	}
	ref := idx.References[0]
	if ref.Slug != result.Slug || ref.File != result.Slug+".md" || ref.CreatedAt == "" {
		t.Errorf("index entry = %+v", ref)
	}
	hasTag := func(tag string) bool {
		for _, tg := range ref.Tags {
			if tg == tag {
				return true
			}
		}
		return false
	}
	if !hasTag("github") || !hasTag("repo") || !hasTag("parsing") {
		t.Errorf("tags = %v", ref.Tags)
	}
	if hasTag("the") || hasTag("go") {
		t.Errorf("noise tags survived: %v", ref.Tags)
	}
}

func TestProcessUpsertsCanonicalDuplicate(t *testing.T) {
	p, _ := newTestProcessor(t, &Extracted{Title: "Example Repo", Text: "Body text long enough to matter here."})
	ctx := context.Background()

	first, err := p.Process(ctx, "https://github.com/example/repo", "first", "telegram", "")
	if err != nil {
		t.Fatal(err)
	}
	if first.UpdatedExisting {
		t.Error("first capture marked as update")
	}
	createdAt := readIndex(t, p).References[0].CreatedAt

	// Trailing slash and host casing normalize to the same canonical URL.
	second, err := p.Process(ctx, "https://GitHub.com/example/repo/", "second", "web", "")
	if err != nil {
		t.Fatal(err)
	}
	if !second.UpdatedExisting || second.Slug != first.Slug {
		t.Errorf("second = %+v, first slug %q", second, first.Slug)
	}

	idx := readIndex(t, p)
	if len(idx.References) != 1 {
		t.Fatalf("index has %d references, want 1", len(idx.References))
	}
	ref := idx.References[0]
	if ref.Note != "second" {
		t.Errorf("note = %q", ref.Note)
	}
	if ref.CreatedAt != createdAt {
		t.Errorf("created_at changed: %q → %q", createdAt, ref.CreatedAt)
	}
	if ref.UpdatedAt == "" {
		t.Error("updated_at not set")
	}

	data, _ := os.ReadFile(first.FilePath)
	if !strings.Contains(string(data), "**Note**: second") {
		t.Error("markdown not overwritten on upsert")
	}
}

func TestProcessDistinctURLsSameTitle(t *testing.T) {
	p, _ := newTestProcessor(t, &Extracted{Title: "Example Repo", Text: "Body."})
	ctx := context.Background()

	first, err := p.Process(ctx, "https://github.com/example/repo", "", "telegram", "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Process(ctx, "https://github.com/other/fork", "", "telegram", "")
	if err != nil {
		t.Fatal(err)
	}
	if second.Slug != first.Slug+"-2" {
		t.Errorf("collision slug = %q", second.Slug)
	}
	if len(readIndex(t, p).References) != 2 {
		t.Error("expected two distinct references")
	}
}

func TestProcessRejectsCorruptIndex(t *testing.T) {
	p, _ := newTestProcessor(t, &Extracted{Title: "T", Text: "Body."})
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p.dir, "index.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Process(context.Background(), "https://example.com/a", "", "telegram", ""); err == nil {
		t.Error("corrupt index accepted")
	}
}

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://github.com/example/repo/", "https://github.com/example/repo"},
		{"HTTPS://GitHub.com/Example/Repo", "https://github.com/Example/Repo"},
		{"https://example.com", "https://example.com/"},
		{"https://example.com/page?a=1", "https://example.com/page?a=1"},
		{"  https://example.com/x  ", "https://example.com/x"},
	}
	for _, tt := range tests {
		if got := CanonicalURL(tt.in); got != tt.want {
			t.Errorf("CanonicalURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello, World!", "hello-world"},
		{"Café au lait", "cafe-au-lait"},
		{"---", "reference"},
		{"", "reference"},
		{"already-a-slug", "already-a-slug"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := Slugify(strings.Repeat("word ", 100))
	if len(long) > maxSlugLength {
		t.Errorf("slug length %d exceeds cap", len(long))
	}
	if strings.HasSuffix(long, "-") || strings.HasSuffix(long, "wor") {
		t.Errorf("slug cut mid-word: %q", long[len(long)-10:])
	}
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		url, want string
	}{
		{"https://github.com/a/b", "repo"},
		{"https://arxiv.org/abs/1234.5678", "paper"},
		{"https://example.com/whitepaper.pdf", "paper"},
		{"https://docs.example.com/guide", "docs"},
		{"https://news.ycombinator.com/item?id=1", "post"},
		{"https://x.com/user/status/1", "post"},
		{"https://blog.example.com/post", "article"},
	}
	for _, tt := range tests {
		if got := DetectType(tt.url); got != tt.want {
			t.Errorf("DetectType(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestExtractOwnerRepo(t *testing.T) {
	tests := []struct {
		url          string
		owner, repo  string
		ok           bool
	}{
		{"https://github.com/example/repo", "example", "repo", true},
		{"github.com/example/repo/tree/main", "example", "repo", true},
		{"https://github.com/example/repo?tab=readme", "example", "repo", true},
		{"https://gitlab.com/example/repo", "", "", false},
		{"https://github.com/orphan", "", "", false},
	}
	for _, tt := range tests {
		owner, repo, ok := ExtractOwnerRepo(tt.url)
		if owner != tt.owner || repo != tt.repo || ok != tt.ok {
			t.Errorf("ExtractOwnerRepo(%q) = %q, %q, %v", tt.url, owner, repo, ok)
		}
	}
}

func TestURLExtractor(t *testing.T) {
	tests := []struct {
		url, title string
	}{
		{"https://github.com/example/repo", "example/repo"},
		{"https://blog.example.com/my-great-post", "my great post"},
		{"https://example.com/papers/attention.pdf", "attention"},
		{"https://example.com/", "example.com"},
	}
	for _, tt := range tests {
		got, err := URLExtractor{}.Extract(context.Background(), tt.url)
		if err != nil {
			t.Errorf("Extract(%q) error: %v", tt.url, err)
			continue
		}
		if got.Title != tt.title {
			t.Errorf("Extract(%q).Title = %q, want %q", tt.url, got.Title, tt.title)
		}
	}

	if _, err := (URLExtractor{}).Extract(context.Background(), "not a url"); err == nil {
		t.Error("garbage URL accepted")
	}
}

func TestRecentReferences(t *testing.T) {
	p, root := newTestProcessor(t, &Extracted{Title: "Example Repo", Text: "Body."})
	if _, err := p.Process(context.Background(), "https://github.com/example/repo", "", "telegram", ""); err != nil {
		t.Fatal(err)
	}

	refs, err := RecentReferences(root, time.Date(2026, 2, 23, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || !strings.Contains(refs[0], "Example Repo") {
		t.Errorf("refs = %v", refs)
	}

	refs, err = RecentReferences(root, time.Date(2026, 2, 24, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 0 {
		t.Errorf("stale references reported recent: %v", refs)
	}

	if refs, err := RecentReferences(t.TempDir(), time.Now()); err != nil || len(refs) != 0 {
		t.Errorf("missing index: refs = %v, err = %v", refs, err)
	}
}

func TestValidateIndex(t *testing.T) {
	dir := t.TempDir()
	write := func(idx *Index) {
		t.Helper()
		if err := writeIndex(dir, idx); err != nil {
			t.Fatal(err)
		}
	}

	write(&Index{Version: indexVersion, References: []Reference{{
		Slug: "s", URL: "u", Title: "t", Type: "article", Tags: []string{},
		SharedAt: "now", SharedVia: "telegram", File: "s.md",
	}}})
	if err := validateIndex(dir); err != nil {
		t.Errorf("valid index rejected: %v", err)
	}

	write(&Index{Version: indexVersion, References: []Reference{{Slug: "s"}}})
	if err := validateIndex(dir); err == nil {
		t.Error("entry with missing fields accepted")
	}
}
