package feed

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// stopwords are dropped from keyword-derived tags.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "were": true, "be": true, "x": true, "y": true, "z": true,
	"i": true, "j": true, "k": true, "foo": true, "bar": true, "baz": true,
	"test": true, "example": true, "sample": true, "var": true, "tmp": true,
	"temp": true,
}

const maxTags = 15

const maxSlugLength = 200

var (
	nonSlugRe    = regexp.MustCompile(`[^a-z0-9]+`)
	dashRunRe    = regexp.MustCompile(`-+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	sentenceRe   = regexp.MustCompile(`(?m)([.!?])\s+`)
)

// toASCII folds accented characters and drops everything non-ASCII, keeping
// reference files and slugs byte-safe everywhere they travel.
func toASCII(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cleanWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// splitSentences breaks text on sentence boundaries, keeping only sentences
// long enough to carry content.
func splitSentences(text string) []string {
	parts := sentenceRe.Split(text, -1)
	ends := sentenceRe.FindAllStringSubmatch(text, -1)
	var sentences []string
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i < len(ends) {
			p += ends[i][1]
		}
		if len(p) > 20 {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// selectSummary prefers the extractor's summary and falls back to the first
// two substantial sentences of the body text.
func selectSummary(text, summary string) string {
	if summary != "" {
		return cleanWhitespace(summary)
	}
	sentences := splitSentences(text)
	if len(sentences) > 2 {
		sentences = sentences[:2]
	}
	return cleanWhitespace(strings.Join(sentences, " "))
}

func selectKeyInsights(text, fallbackSummary string) []string {
	sentences := splitSentences(text)
	if len(sentences) > 3 {
		sentences = sentences[:3]
	}
	if len(sentences) > 0 {
		return sentences
	}
	if fallbackSummary != "" {
		return []string{fallbackSummary}
	}
	return []string{"Extracted content is available for review."}
}

// Slugify converts a title to a URL-safe slug, truncated without mid-word
// cuts so the dated filename stays under filesystem limits.
func Slugify(value string) string {
	s := strings.ToLower(toASCII(value))
	s = nonSlugRe.ReplaceAllString(s, "-")
	s = strings.Trim(dashRunRe.ReplaceAllString(s, "-"), "-")

	if len(s) > maxSlugLength {
		s = s[:maxSlugLength]
		if i := strings.LastIndex(s, "-"); i > 0 {
			s = s[:i]
		}
	}
	if s == "" {
		return "reference"
	}
	return s
}

// CanonicalURL normalizes a URL for duplicate detection: lowercased scheme
// and host, trailing slash stripped, query preserved.
func CanonicalURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	path := strings.TrimRight(parsed.Path, "/")
	if path == "" {
		path = "/"
	}
	query := ""
	if parsed.RawQuery != "" {
		query = "?" + parsed.RawQuery
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host) + path + query
}

// DetectType classifies a URL into repo, paper, docs, post, or article.
func DetectType(rawURL string) string {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "github.com"):
		return "repo"
	case strings.Contains(lower, "arxiv.org"), strings.Contains(lower, "doi.org"),
		strings.HasSuffix(lower, ".pdf"):
		return "paper"
	case strings.Contains(lower, "docs."), strings.Contains(lower, "/docs"),
		strings.Contains(lower, "documentation"), strings.Contains(lower, "readthedocs"):
		return "docs"
	case strings.Contains(lower, "news.ycombinator.com"), strings.Contains(lower, "reddit.com"),
		strings.Contains(lower, "x.com"), strings.Contains(lower, "twitter.com"):
		return "post"
	default:
		return "article"
	}
}

func domainTag(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return ""
	}
	return strings.SplitN(host, ".", 2)[0]
}

// buildTags merges extractor keywords with the type and domain tags, filters
// noise, and caps the result.
func buildTags(rawURL, refType string, keywords []string) []string {
	tags := make(map[string]bool)
	for _, kw := range keywords {
		clean := strings.TrimSpace(toASCII(strings.ToLower(kw)))
		if len(clean) >= 3 && !stopwords[clean] {
			tags[clean] = true
		}
	}
	if refType != "" {
		tags[refType] = true
	}
	if d := domainTag(rawURL); d != "" {
		tags[d] = true
	}
	lower := strings.ToLower(rawURL)
	if strings.Contains(lower, "github.com") {
		tags["github"] = true
	}
	if strings.Contains(lower, "arxiv.org") {
		tags["arxiv"] = true
	}

	list := make([]string, 0, len(tags))
	for t := range tags {
		list = append(list, t)
	}
	sort.Strings(list)
	if len(list) > maxTags {
		list = list[:maxTags]
	}
	return list
}

// ExtractOwnerRepo pulls owner and repository name out of a GitHub URL.
func ExtractOwnerRepo(rawURL string) (owner, repo string, ok bool) {
	_, rest, found := strings.Cut(rawURL, "github.com/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	repo = strings.SplitN(parts[1], "?", 2)[0]
	if repo == "" {
		return "", "", false
	}
	return parts[0], repo, true
}
