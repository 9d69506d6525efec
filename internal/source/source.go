package source

import (
	"context"
	"time"
)

// Platform identifiers.
const (
	PlatformTelegram = "telegram"
	PlatformRSS      = "rss"
	PlatformYouTube  = "youtube"
	PlatformReddit   = "reddit"
	PlatformHN       = "hn"
)

// Post is the canonical, platform-agnostic content record.
type Post struct {
	Platform    string         // platform identifier, e.g. "rss"
	Source      string         // source identifier exactly as configured
	URL         string         // direct link; identity key for dedup
	Title       string         // optional headline
	Content     string         // plain-text body
	ContentHTML string         // original markup when the platform serves HTML
	Date        time.Time      // UTC publication time; zero means unknown
	MediaURLs   []string       // attachment URLs in platform order
	Categories  []string       // platform-native tags
	Metadata    map[string]any // platform-specific extras
}

// HasDate reports whether the post carries a known publication time.
func (p Post) HasDate() bool {
	return !p.Date.IsZero()
}

// Connector exposes one platform's content. Implementations must be safe for
// concurrent use: the aggregator calls FetchPosts for many sources at once.
type Connector interface {
	// Platform returns the platform identifier (e.g. "reddit").
	Platform() string

	// Connect establishes whatever session the platform needs.
	Connect(ctx context.Context) error

	// Disconnect releases resources. It is idempotent and safe to call
	// when Connect never succeeded.
	Disconnect(ctx context.Context) error

	// FetchPosts returns up to limit posts for one source.
	FetchPosts(ctx context.Context, source string, limit int) ([]Post, error)

	// FetchPostsByTimeframe returns posts from all sources published within
	// the last days days. Zero means since the start of today (UTC).
	FetchPostsByTimeframe(ctx context.Context, sources []string, days int) ([]Post, error)
}

// Since returns the start of the window covering the last days days.
func Since(now time.Time, days int) time.Time {
	start := TodayStart(now)
	if days <= 0 {
		return start
	}
	return start.AddDate(0, 0, -days)
}

// TodayStart returns midnight UTC of now's calendar day.
func TodayStart(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
