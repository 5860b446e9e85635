package channels

import (
	"strings"
	"unicode/utf8"
)

// InlineLimit is the response length (in runes) above which the full text is
// delivered as a file attachment with an inline summary.
const InlineLimit = 1000

// compactCap bounds a compact rendering; anything longer went out as an
// attachment anyway.
const compactCap = 1500

// summaryCap bounds the inline summary shown above an attachment.
const summaryCap = 400

// splitBackoff is how far back from the limit a newline boundary is honored
// when splitting; further back than this, a hard cut loses less context.
const splitBackoff = 2048

// CompactMarkup converts a markdown response into compact Telegram HTML:
// headers become iconographic bullets, bold carries over, separators and
// blank lines are stripped.
func CompactMarkup(text string) string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "" || line == "---":
			continue
		case strings.HasPrefix(line, "### "):
			out = append(out, "<b>▪️ "+line[4:]+"</b>")
		case strings.HasPrefix(line, "## "):
			out = append(out, "<b>📌 "+line[3:]+"</b>")
		case strings.HasPrefix(line, "# "):
			out = append(out, "<b>🎯 "+line[2:]+"</b>")
		case strings.Contains(line, "**"):
			line = strings.Replace(line, "**", "<b>", 1)
			line = strings.Replace(line, "**", "</b>", 1)
			out = append(out, line)
		case strings.HasPrefix(line, "- ✅"), strings.HasPrefix(line, "- ❌"):
			out = append(out, line)
		case strings.HasPrefix(line, "- "):
			out = append(out, "  "+line[2:])
		default:
			out = append(out, line)
		}
	}

	result := strings.Join(out, "\n")
	if runes := []rune(result); len(runes) > compactCap {
		result = string(runes[:compactCap])
	}
	return result
}

// Summarize returns the leading content lines of a response, skipping
// headers, capped for use above an attachment.
func Summarize(text string) string {
	var lines []string
	var total int
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			continue
		}
		if line == "" {
			if len(lines) > 0 {
				break
			}
			continue
		}
		lines = append(lines, line)
		total += len(line)
		if total > 300 {
			break
		}
	}
	return Truncate(strings.Join(lines, "\n"), summaryCap)
}

// SplitMessage splits text into chunks of at most limit bytes, preferring a
// newline boundary within the final splitBackoff bytes of each chunk. Hard
// cuts back off to a rune boundary so no chunk carries a torn character.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut < limit-splitBackoff || cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
