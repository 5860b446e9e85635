// Package feed captures shared URLs as reference files: a markdown document
// per link plus an entry in the references index, optionally enriched in the
// background by an agent job.
//
// Content ingestion itself (article extraction, OCR, transcription) lives
// behind the Extractor interface; this package owns everything after the
// text exists.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const referencesSubdir = ".sisyphus/references"

const (
	// RelevancePlaceholder marks the section an enrichment job fills in.
	RelevancePlaceholder = "Review and connect this reference to current astraeus or galaxy-protocol efforts."
	// PatternsPlaceholder marks the practices section for enrichment.
	PatternsPlaceholder = "Identify any concrete patterns or practices worth adopting."
)

// Extracted is the content an Extractor pulled from a URL.
type Extracted struct {
	Title       string
	Text        string
	Summary     string
	Keywords    []string
	KeyInsights []string
}

// Extractor fetches and distills the content behind a URL.
type Extractor interface {
	Extract(ctx context.Context, url string) (*Extracted, error)
}

// Result reports one processed feed URL.
type Result struct {
	Slug            string   `json:"slug"`
	Title           string   `json:"title"`
	Tags            []string `json:"tags"`
	Type            string   `json:"type"`
	FilePath        string   `json:"file_path"`
	UpdatedExisting bool     `json:"updated_existing"`
	Warning         string   `json:"warning,omitempty"`
}

// Processor turns URLs into reference files under the repository's
// references directory.
type Processor struct {
	dir       string
	extractor Extractor
	enricher  *Enricher
	now       func() time.Time
}

// NewProcessor creates a Processor rooted at the repository root. enricher
// may be nil when the enrichment feature is disabled.
func NewProcessor(root string, extractor Extractor, enricher *Enricher) *Processor {
	return &Processor{
		dir:       filepath.Join(root, referencesSubdir),
		extractor: extractor,
		enricher:  enricher,
		now:       time.Now,
	}
}

// Process captures one URL: extract content, write the markdown reference,
// and upsert the index entry keyed by canonical URL. via names the capture
// path (e.g. "telegram", "web"); chatID routes enrichment failures back to
// the sharer.
func (p *Processor) Process(ctx context.Context, rawURL, note, via, chatID string) (*Result, error) {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return nil, fmt.Errorf("create references dir: %w", err)
	}

	extracted, err := p.extractor.Extract(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", rawURL, err)
	}

	title := extracted.Title
	if title == "" {
		title = rawURL
	}
	summary := selectSummary(extracted.Text, extracted.Summary)
	insights := extracted.KeyInsights
	if len(insights) == 0 {
		insights = selectKeyInsights(extracted.Text, summary)
	}

	refType := DetectType(rawURL)
	tags := buildTags(rawURL, refType, extracted.Keywords)

	idx, err := loadIndex(p.dir)
	if err != nil {
		return nil, err
	}
	existingIdx := idx.findExisting(rawURL)

	now := p.now().UTC()
	titleASCII := toASCII(title)
	if titleASCII == "" {
		titleASCII = "Untitled"
	}

	var slug, fileName string
	if existingIdx >= 0 {
		slug = idx.References[existingIdx].Slug
		fileName = idx.References[existingIdx].File
	} else {
		slug = p.uniqueSlug(now.Format("2006-01-02") + "-" + Slugify(title))
		fileName = slug + ".md"
	}

	filePath := filepath.Join(p.dir, fileName)
	markdown := p.renderReference(rawURL, titleASCII, refType, toASCII(note), via, now, tags, toASCII(summary), insights)
	if err := os.WriteFile(filePath, []byte(markdown), 0644); err != nil {
		return nil, fmt.Errorf("write reference: %w", err)
	}

	analysis := ""
	if p.enricher != nil && strings.Contains(strings.ToLower(rawURL), "github.com") {
		if p.enricher.Start(ctx, rawURL, p.dir, fileName, via, chatID) {
			analysis = "deepwiki-pending"
		} else {
			analysis = "deepwiki-unavailable"
		}
	}

	sharedAt := now.Format(time.RFC3339)
	entry := Reference{
		Slug:      slug,
		URL:       rawURL,
		Title:     titleASCII,
		Type:      refType,
		Tags:      tags,
		Note:      toASCII(note),
		SharedAt:  sharedAt,
		SharedVia: via,
		File:      fileName,
		Analysis:  analysis,
	}

	var previous Reference
	if existingIdx >= 0 {
		previous = idx.References[existingIdx]
		entry.CreatedAt = previous.CreatedAt
		if entry.CreatedAt == "" {
			entry.CreatedAt = previous.SharedAt
		}
		entry.UpdatedAt = sharedAt
		idx.References[existingIdx] = entry
	} else {
		entry.CreatedAt = sharedAt
		idx.References = append(idx.References, entry)
	}

	result := &Result{
		Slug:            slug,
		Title:           titleASCII,
		Tags:            tags,
		Type:            refType,
		FilePath:        filePath,
		UpdatedExisting: existingIdx >= 0,
	}

	if err := writeIndex(p.dir, idx); err != nil {
		return nil, err
	}
	if err := validateIndex(p.dir); err != nil {
		// Roll back to the pre-upsert state; a broken index takes every
		// reference down with it.
		slog.Error("index validation failed after upsert", "slug", slug, "error", err)
		if existingIdx >= 0 {
			idx.References[existingIdx] = previous
		} else {
			idx.References = idx.References[:len(idx.References)-1]
		}
		writeIndex(p.dir, idx)
		result.Warning = "Reference .md created but index update failed (validation error)"
	}
	return result, nil
}

// ReferencesDir returns the directory reference files are written to.
func (p *Processor) ReferencesDir() string { return p.dir }

func (p *Processor) uniqueSlug(slug string) string {
	candidate := slug
	for counter := 2; ; counter++ {
		if _, err := os.Stat(filepath.Join(p.dir, candidate+".md")); err != nil {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", slug, counter)
	}
}

func (p *Processor) renderReference(rawURL, title, refType, note, via string, ts time.Time, tags []string, summary string, insights []string) string {
	if note == "" {
		note = "None"
	}
	if summary == "" {
		summary = "Summary unavailable; extraction succeeded but content was sparse."
	}

	lines := []string{
		"# " + title,
		"",
		"**Source**: " + rawURL,
		"**Type**: " + refType,
		"**Ingested**: " + ts.Format("2006-01-02T15:04:05Z"),
		"**Tags**: " + strings.Join(tags, ", "),
		"**Note**: " + note,
		"**Via**: " + via,
		"",
		"---",
		"",
		"## Summary",
		"",
		summary,
		"",
		"## Key Insights",
		"",
	}
	for _, insight := range insights {
		if ascii := toASCII(insight); ascii != "" {
			lines = append(lines, "- "+ascii)
		}
	}
	lines = append(lines,
		"",
		"## Relevance to Our Work",
		"",
		RelevancePlaceholder,
		"",
		"## Applicable Patterns",
		"",
		PatternsPlaceholder,
		"",
	)
	return strings.Join(lines, "\n")
}
