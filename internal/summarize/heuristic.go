package summarize

import (
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/insight/internal/source"
)

const maxHeadline = 120

// Headline returns a one-line label for p: its title when present,
// otherwise the first sentence of its content.
func Headline(p source.Post) string {
	if t := strings.TrimSpace(p.Title); t != "" {
		return truncateWords(collapse(t), maxHeadline)
	}
	if s := firstSentence(strings.TrimSpace(p.Content), maxHeadline); s != "" {
		return s
	}
	return p.URL
}

// Excerpt returns the first n runes of text, cut at a word boundary.
func Excerpt(text string, n int) string {
	return truncateWords(collapse(text), n)
}

// firstSentence returns text up to the first sentence boundary, capped at maxLen.
func firstSentence(text string, maxLen int) string {
	if text == "" {
		return ""
	}

	end := len(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		end = idx
	}

	// ". " or ".\n" ends a sentence
	for i := 0; i < end-1; i++ {
		if text[i] == '.' && (text[i+1] == ' ' || text[i+1] == '\n') {
			end = i + 1
			break
		}
	}
	return truncateWords(strings.TrimSpace(text[:end]), maxLen)
}

// truncateWords caps s at n runes, backing off to the last space.
func truncateWords(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:n])
	if runes[n] != ' ' {
		if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
			cut = cut[:idx]
		}
	}
	return strings.TrimSpace(cut) + "..."
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
