package feed

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// URLExtractor derives a title from the URL itself and extracts no body
// text. It is the fallback when no content ingestion backend is wired in;
// references it produces still get type, tags, and enrichment.
type URLExtractor struct{}

// Extract implements Extractor without fetching anything.
func (URLExtractor) Extract(_ context.Context, rawURL string) (*Extracted, error) {
	if owner, repo, ok := ExtractOwnerRepo(rawURL); ok {
		return &Extracted{Title: owner + "/" + repo}, nil
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("unparseable url %q", rawURL)
	}
	segment := path.Base(strings.TrimSuffix(u.Path, "/"))
	if segment == "" || segment == "." || segment == "/" {
		return &Extracted{Title: u.Host}, nil
	}
	segment = strings.TrimSuffix(segment, path.Ext(segment))
	title := cleanWhitespace(strings.NewReplacer("-", " ", "_", " ").Replace(segment))
	if title == "" {
		title = u.Host
	}
	return &Extracted{Title: title}, nil
}
