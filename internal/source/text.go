package source

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var whitespaceRe = regexp.MustCompile(`\s{3,}`)

// HTMLToText renders markup as plain text. Block elements become line
// breaks; scripts and styles are dropped.
func HTMLToText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("script, style, noscript").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, blockquote, pre, tr").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n\n")
	})

	text := doc.Text()
	text = collapseSpaces(text)
	text = whitespaceRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// collapseSpaces squeezes runs of spaces and tabs within lines.
func collapseSpaces(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses common feed and API timestamp formats. Values
// without a zone are read as UTC. It returns the zero time when nothing
// matches, which is the unknown-date sentinel.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// firstLine returns the first non-empty line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// limitPosts trims posts to at most limit entries. Zero or negative limits
// mean no limit.
func limitPosts(posts []Post, limit int) []Post {
	if limit > 0 && len(posts) > limit {
		return posts[:limit]
	}
	return posts
}
