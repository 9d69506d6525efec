package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/ppiankov/insight/internal/logger"
)

const youtubeFeedBase = "https://www.youtube.com/feeds/videos.xml"

// YouTubeConnector reads channel and playlist uploads from YouTube's public
// Atom feeds. Source identifiers are channel ids (UC...), playlist ids
// (PL...), or full feed URLs.
type YouTubeConnector struct {
	feeds    *feedFetcher
	feedBase string
	log      logger.Logger
	now      func() time.Time
}

// NewYouTube creates a YouTube connector. A zero timeout uses the default.
func NewYouTube(timeout time.Duration, log logger.Logger) *YouTubeConnector {
	if log == nil {
		log = logger.NewNop()
	}
	return &YouTubeConnector{
		feeds:    newFeedFetcher(timeout),
		feedBase: youtubeFeedBase,
		log:      log.With(logger.String("platform", PlatformYouTube)),
		now:      time.Now,
	}
}

func (yt *YouTubeConnector) Platform() string {
	return PlatformYouTube
}

func (yt *YouTubeConnector) Connect(context.Context) error {
	return nil
}

func (yt *YouTubeConnector) Disconnect(context.Context) error {
	yt.feeds.close()
	return nil
}

func (yt *YouTubeConnector) FetchPosts(ctx context.Context, source string, limit int) ([]Post, error) {
	return yt.fetch(ctx, source, time.Time{}, limit)
}

func (yt *YouTubeConnector) FetchPostsByTimeframe(ctx context.Context, sources []string, days int) ([]Post, error) {
	since := Since(yt.now(), days)

	var (
		posts []Post
		errs  []error
	)
	for _, src := range sources {
		items, err := yt.fetch(ctx, src, since, 0)
		if err != nil {
			yt.log.Warn("channel fetch failed", logger.String("source", src), logger.Error(err))
			errs = append(errs, err)
			continue
		}
		posts = append(posts, items...)
	}
	if len(sources) > 0 && len(errs) == len(sources) {
		return nil, errors.Join(errs...)
	}
	return posts, nil
}

func (yt *YouTubeConnector) fetch(ctx context.Context, src string, since time.Time, limit int) ([]Post, error) {
	feedURL, err := yt.feedURL(src)
	if err != nil {
		return nil, err
	}
	feed, err := yt.feeds.fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	var posts []Post
	for _, item := range feed.Items {
		date := itemPublishedTime(item)
		if !date.IsZero() && date.Before(since) {
			continue
		}
		posts = append(posts, videoPost(feed, item, src, date))
	}
	return limitPosts(posts, limit), nil
}

// feedURL resolves a configured identifier to a feed URL.
func (yt *YouTubeConnector) feedURL(src string) (string, error) {
	src = strings.TrimSpace(src)
	switch {
	case src == "":
		return "", errors.New("youtube: source is required")
	case strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://"):
		u, err := url.Parse(src)
		if err != nil {
			return "", fmt.Errorf("youtube: %w: %w", ErrParse, err)
		}
		q := u.Query()
		if id := q.Get("list"); id != "" {
			return yt.feedBase + "?playlist_id=" + url.QueryEscape(id), nil
		}
		if strings.Contains(u.Path, "/feeds/") {
			return src, nil
		}
		if id, ok := strings.CutPrefix(u.Path, "/channel/"); ok && id != "" {
			return yt.feedBase + "?channel_id=" + url.QueryEscape(strings.Trim(id, "/")), nil
		}
		return "", fmt.Errorf("youtube: unsupported URL %q (want a channel, playlist, or feed URL)", src)
	case strings.HasPrefix(src, "PL") || strings.HasPrefix(src, "UU"):
		return yt.feedBase + "?playlist_id=" + url.QueryEscape(src), nil
	case strings.HasPrefix(src, "UC"):
		return yt.feedBase + "?channel_id=" + url.QueryEscape(src), nil
	default:
		return "", fmt.Errorf("youtube: unsupported source %q (want a channel id, playlist id, or URL)", src)
	}
}

func videoPost(feed *gofeed.Feed, item *gofeed.Item, src string, date time.Time) Post {
	title := strings.TrimSpace(item.Title)
	description := mediaField(item.Extensions, "description")

	content := title
	if description != "" {
		content = title + "\n\n" + description
	}

	var media []string
	if thumb := mediaAttr(item.Extensions, "thumbnail", "url"); thumb != "" {
		media = append(media, thumb)
	}

	meta := map[string]any{}
	if feed.Title != "" {
		meta["channel_title"] = feed.Title
	}
	if id := youtubeField(item.Extensions, "videoId"); id != "" {
		meta["video_id"] = id
	}

	return Post{
		Platform:   PlatformYouTube,
		Source:     src,
		URL:        itemLink(item),
		Title:      title,
		Content:    strings.TrimSpace(content),
		Date:       date,
		MediaURLs:  media,
		Categories: item.Categories,
		Metadata:   meta,
	}
}

// mediaGroup returns the first media:group extension element.
func mediaGroup(exts ext.Extensions) (ext.Extension, bool) {
	groups := exts["media"]["group"]
	if len(groups) == 0 {
		return ext.Extension{}, false
	}
	return groups[0], true
}

func mediaField(exts ext.Extensions, name string) string {
	g, ok := mediaGroup(exts)
	if !ok || len(g.Children[name]) == 0 {
		return ""
	}
	return strings.TrimSpace(g.Children[name][0].Value)
}

func mediaAttr(exts ext.Extensions, name, attr string) string {
	g, ok := mediaGroup(exts)
	if !ok || len(g.Children[name]) == 0 {
		return ""
	}
	return g.Children[name][0].Attrs[attr]
}

func youtubeField(exts ext.Extensions, name string) string {
	vals := exts["yt"][name]
	if len(vals) == 0 {
		return ""
	}
	return vals[0].Value
}
