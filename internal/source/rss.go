package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ppiankov/insight/internal/logger"
)

const (
	rssFetchTimeout = 30 * time.Second
	rssUserAgent    = "Mozilla/5.0 (compatible; insight/1.0; +https://github.com/ppiankov/insight)"
	rssMaxWorkers   = 10
)

// rssDomainDelay spaces out requests to the same host. Tests shorten it.
var rssDomainDelay = 3 * time.Second

// feedFetcher downloads and parses RSS/Atom documents. Shared by the rss and
// youtube connectors.
type feedFetcher struct {
	client *http.Client
}

func newFeedFetcher(timeout time.Duration) *feedFetcher {
	if timeout <= 0 {
		timeout = rssFetchTimeout
	}
	return &feedFetcher{client: &http.Client{
		Timeout:   timeout,
		Transport: &rssTransport{base: http.DefaultTransport},
	}}
}

// rssTransport injects a User-Agent header into every request.
type rssTransport struct {
	base http.RoundTripper
}

func (t *rssTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", rssUserAgent)
	return t.base.RoundTrip(req)
}

func (f *feedFetcher) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	fp := gofeed.NewParser()
	fp.Client = f.client
	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, &StatusError{Code: httpErr.StatusCode, URL: feedURL}
		}
		if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
			return nil, fmt.Errorf("fetch %s: %w: %w", feedURL, ErrParse, err)
		}
		return nil, fmt.Errorf("fetch %s: %w", feedURL, err)
	}
	return feed, nil
}

func (f *feedFetcher) close() {
	f.client.CloseIdleConnections()
}

// RSSConnector fetches posts from RSS/Atom feeds. The source identifier is
// the feed URL.
type RSSConnector struct {
	feeds *feedFetcher
	log   logger.Logger
	now   func() time.Time
}

// NewRSS creates an RSS/Atom connector. A zero timeout uses the default.
func NewRSS(timeout time.Duration, log logger.Logger) *RSSConnector {
	if log == nil {
		log = logger.NewNop()
	}
	return &RSSConnector{
		feeds: newFeedFetcher(timeout),
		log:   log.With(logger.String("platform", PlatformRSS)),
		now:   time.Now,
	}
}

func (rs *RSSConnector) Platform() string {
	return PlatformRSS
}

// Connect is a no-op: feeds are fetched over plain HTTP.
func (rs *RSSConnector) Connect(context.Context) error {
	return nil
}

func (rs *RSSConnector) Disconnect(context.Context) error {
	rs.feeds.close()
	return nil
}

func (rs *RSSConnector) FetchPosts(ctx context.Context, feedURL string, limit int) ([]Post, error) {
	if strings.TrimSpace(feedURL) == "" {
		return nil, errors.New("rss: feed URL is required")
	}
	feed, err := rs.feeds.fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	return limitPosts(postsFromFeed(feed, feedURL, time.Time{}), limit), nil
}

// FetchPostsByTimeframe fetches every feed, serializing requests to the same
// host. Individual feed failures are logged; an error is returned only when
// every feed failed.
func (rs *RSSConnector) FetchPostsByTimeframe(ctx context.Context, feeds []string, days int) ([]Post, error) {
	if len(feeds) == 0 {
		return nil, nil
	}
	since := Since(rs.now(), days)

	type result struct {
		posts []Post
		err   error
		url   string
	}

	// Group feeds by domain so same-domain requests are serialized.
	domainFeeds := make(map[string][]string)
	for _, feedURL := range feeds {
		d := feedDomain(feedURL)
		domainFeeds[d] = append(domainFeeds[d], feedURL)
	}

	results := make(chan result, len(feeds))
	domainJobs := make(chan []string, len(domainFeeds))

	workers := min(rssMaxWorkers, len(domainFeeds))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range domainJobs {
				for i, feedURL := range group {
					if i > 0 {
						if err := sleepContext(ctx, rssDomainDelay); err != nil {
							results <- result{err: err, url: feedURL}
							continue
						}
					}
					feed, err := rs.feeds.fetch(ctx, feedURL)
					if err != nil {
						results <- result{err: err, url: feedURL}
						continue
					}
					results <- result{posts: postsFromFeed(feed, feedURL, since), url: feedURL}
				}
			}
		}()
	}

	for _, group := range domainFeeds {
		domainJobs <- group
	}
	close(domainJobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		posts []Post
		errs  []error
	)
	for r := range results {
		if r.err != nil {
			rs.log.Warn("feed fetch failed", logger.String("source", r.url), logger.Error(r.err))
			errs = append(errs, r.err)
			continue
		}
		posts = append(posts, r.posts...)
	}

	if len(errs) == len(feeds) {
		return nil, errors.Join(errs...)
	}
	return posts, nil
}

// feedDomain extracts the host from a feed URL for rate limiting grouping.
func feedDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// postsFromFeed converts feed items. Items dated before since are skipped;
// undated items are kept with a zero Date.
func postsFromFeed(feed *gofeed.Feed, feedURL string, since time.Time) []Post {
	var posts []Post
	for _, item := range feed.Items {
		date := itemPublishedTime(item)
		if !date.IsZero() && date.Before(since) {
			continue
		}

		raw := item.Content
		if raw == "" {
			raw = item.Description
		}

		posts = append(posts, Post{
			Platform:    PlatformRSS,
			Source:      feedURL,
			URL:         itemLink(item),
			Title:       strings.TrimSpace(item.Title),
			Content:     itemText(item),
			ContentHTML: raw,
			Date:        date,
			MediaURLs:   itemMedia(item),
			Categories:  item.Categories,
			Metadata:    itemMetadata(feed, item),
		})
	}
	return posts
}

func itemPublishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	if ts := ParseTimestamp(item.Published); !ts.IsZero() {
		return ts
	}
	return ParseTimestamp(item.Updated)
}

// itemLink returns the item link, falling back to a URL-shaped GUID.
func itemLink(item *gofeed.Item) string {
	if item.Link != "" {
		return strings.TrimSpace(item.Link)
	}
	if len(item.Links) > 0 && item.Links[0] != "" {
		return strings.TrimSpace(item.Links[0])
	}
	if strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://") {
		return item.GUID
	}
	return ""
}

// itemText returns the plain-text body, falling back to the title so
// link-only items still carry content.
func itemText(item *gofeed.Item) string {
	raw := item.Content
	if raw == "" {
		raw = item.Description
	}
	text := HTMLToText(raw)
	if text == "" {
		text = strings.TrimSpace(item.Title)
	}
	return text
}

func itemMedia(item *gofeed.Item) []string {
	var media []string
	seen := make(map[string]bool)
	add := func(u string) {
		if u = strings.TrimSpace(u); u != "" && !seen[u] {
			seen[u] = true
			media = append(media, u)
		}
	}
	for _, enc := range item.Enclosures {
		if enc != nil {
			add(enc.URL)
		}
	}
	if item.Image != nil {
		add(item.Image.URL)
	}
	return media
}

func itemMetadata(feed *gofeed.Feed, item *gofeed.Item) map[string]any {
	meta := make(map[string]any)
	if feed.Title != "" {
		meta["feed_title"] = feed.Title
	}
	if item.GUID != "" {
		meta["guid"] = item.GUID
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil && item.Authors[0].Name != "" {
		meta["author"] = item.Authors[0].Name
	}
	return meta
}
