package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const indexVersion = "1.0"

// Reference is one captured URL in the index.
type Reference struct {
	Slug      string   `json:"slug"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Type      string   `json:"type"`
	Tags      []string `json:"tags"`
	Note      string   `json:"note,omitempty"`
	SharedAt  string   `json:"shared_at"`
	SharedVia string   `json:"shared_via"`
	File      string   `json:"file"`
	Analysis  string   `json:"analysis,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// Index is the reference catalogue persisted as index.json.
type Index struct {
	Version    string      `json:"version"`
	References []Reference `json:"references"`
}

func indexPath(referencesDir string) string {
	return filepath.Join(referencesDir, "index.json")
}

// loadIndex reads the index, creating an empty one on first use. A
// pre-existing unparseable index is an error; refusing to touch it preserves
// the last known good state.
func loadIndex(referencesDir string) (*Index, error) {
	data, err := os.ReadFile(indexPath(referencesDir))
	if errors.Is(err, fs.ErrNotExist) {
		return &Index{Version: indexVersion, References: []Reference{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return &idx, nil
}

// writeIndex persists the index via temp-then-rename.
func writeIndex(referencesDir string, idx *Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return writeFileAtomic(indexPath(referencesDir), data)
}

// validateIndex re-reads the persisted index and checks every entry carries
// the required fields. JSON degrades catastrophically; one bad entry breaks
// every consumer of the file.
func validateIndex(referencesDir string) error {
	data, err := os.ReadFile(indexPath(referencesDir))
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse index: %w", err)
	}
	for i, ref := range idx.References {
		switch {
		case ref.Slug == "", ref.URL == "", ref.Title == "", ref.File == "",
			ref.Type == "", ref.SharedAt == "", ref.SharedVia == "":
			return fmt.Errorf("reference %d is missing required fields", i)
		case ref.Tags == nil:
			return fmt.Errorf("reference %d has no tags list", i)
		}
	}
	return nil
}

// findExisting locates the newest entry whose canonical URL matches, so
// repeated captures upsert instead of duplicating.
func (idx *Index) findExisting(rawURL string) int {
	target := CanonicalURL(rawURL)
	for i := len(idx.References) - 1; i >= 0; i-- {
		if CanonicalURL(idx.References[i].URL) == target {
			return i
		}
	}
	return -1
}

// RecentReferences lists "Title (url)" lines for references shared at or
// after since, in index order. A missing index yields an empty list.
func RecentReferences(root string, since time.Time) ([]string, error) {
	idx, err := loadIndex(filepath.Join(root, referencesSubdir))
	if err != nil {
		return nil, err
	}
	var recent []string
	for _, ref := range idx.References {
		at := ref.UpdatedAt
		if at == "" {
			at = ref.SharedAt
		}
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil || ts.Before(since) {
			continue
		}
		recent = append(recent, ref.Title+" ("+ref.URL+")")
	}
	return recent, nil
}

// setAnalysis updates the analysis status of the entry backing fileName.
// Best effort; enrichment status is advisory metadata.
func setAnalysis(referencesDir, fileName, status string) {
	idx, err := loadIndex(referencesDir)
	if err != nil {
		return
	}
	for i := range idx.References {
		if idx.References[i].File == fileName {
			idx.References[i].Analysis = status
			writeIndex(referencesDir, idx)
			return
		}
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
