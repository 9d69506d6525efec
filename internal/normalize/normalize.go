// Package normalize validates connector output and fills the defaults every
// downstream stage relies on.
package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/insight/internal/logger"
	"github.com/ppiankov/insight/internal/privacy"
	"github.com/ppiankov/insight/internal/source"
)

const truncationMarker = "…"

// Drop reasons.
const (
	ReasonNoPlatform = "missing_platform"
	ReasonNoSource   = "missing_source"
	ReasonNoURL      = "missing_url"
	ReasonNoContent  = "missing_content"
)

// Options configures a Normalizer.
type Options struct {
	// Redactor masks sensitive text in Title, Content and ContentHTML. Nil
	// disables it.
	Redactor *privacy.Redactor
	// MaxContentRunes truncates Content. Zero means no limit.
	MaxContentRunes int
}

// Report summarizes one Normalize call.
type Report struct {
	Dropped    int
	ByPlatform map[string]int // dropped records per platform
	ByReason   map[string]int
	Redactions int
}

// Normalizer converts raw connector posts into canonical records.
type Normalizer struct {
	opts Options
	log  logger.Logger
}

// New creates a Normalizer. log may be nil.
func New(opts Options, log logger.Logger) *Normalizer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Normalizer{opts: opts, log: log}
}

// Normalize validates each post independently. Invalid posts are dropped
// and counted; the rest are returned as copies in input order.
func (n *Normalizer) Normalize(posts []source.Post) ([]source.Post, Report) {
	rep := Report{
		ByPlatform: make(map[string]int),
		ByReason:   make(map[string]int),
	}
	valid := make([]source.Post, 0, len(posts))

	for _, p := range posts {
		out, redactions, reason := n.normalizeOne(p)
		if reason != "" {
			rep.Dropped++
			rep.ByPlatform[p.Platform]++
			rep.ByReason[reason]++
			n.log.Debug("dropped invalid post",
				logger.String("platform", p.Platform),
				logger.String("source", p.Source),
				logger.String("url", p.URL),
				logger.String("reason", reason),
			)
			continue
		}
		rep.Redactions += redactions
		valid = append(valid, out)
	}
	return valid, rep
}

func (n *Normalizer) normalizeOne(p source.Post) (source.Post, int, string) {
	if strings.TrimSpace(p.Platform) == "" {
		return source.Post{}, 0, ReasonNoPlatform
	}
	if strings.TrimSpace(p.Source) == "" {
		return source.Post{}, 0, ReasonNoSource
	}
	url := strings.TrimSpace(p.URL)
	if url == "" {
		return source.Post{}, 0, ReasonNoURL
	}

	content := strings.TrimSpace(p.Content)
	if content == "" && p.ContentHTML != "" {
		content = source.HTMLToText(p.ContentHTML)
	}
	if content == "" {
		return source.Post{}, 0, ReasonNoContent
	}

	title, r1 := n.opts.Redactor.Redact(strings.TrimSpace(p.Title))
	content, r2 := n.opts.Redactor.Redact(content)
	html, r3 := n.opts.Redactor.Redact(p.ContentHTML)
	content = truncate(content, n.opts.MaxContentRunes)

	out := source.Post{
		Platform:    p.Platform,
		Source:      p.Source,
		URL:         url,
		Title:       title,
		Content:     content,
		ContentHTML: html,
		MediaURLs:   cloneStrings(p.MediaURLs),
		Categories:  cloneStrings(p.Categories),
		Metadata:    make(map[string]any, len(p.Metadata)),
	}
	if p.HasDate() {
		out.Date = p.Date.UTC()
	}
	for k, v := range p.Metadata {
		out.Metadata[k] = v
	}
	return out, r1 + r2 + r3, ""
}

// truncate cuts s to at most limit runes, marking the cut.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit])) + truncationMarker
}

// cloneStrings copies s, returning an empty non-nil slice for nil input.
func cloneStrings(s []string) []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
