package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ppiankov/insight/internal/logger"
)

const (
	redditBaseURL    = "https://www.reddit.com"
	redditTimeout    = 30 * time.Second
	redditUserAgent  = "insight/1.0"
	redditRateLimit  = 1 * time.Second
	redditMaxListing = 100
)

// RedditConnector fetches posts from public subreddits via Reddit's JSON API.
// The source identifier is the subreddit name, with or without "r/".
type RedditConnector struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	log     logger.Logger
	now     func() time.Time
}

// NewReddit creates a Reddit connector. A zero timeout uses the default.
func NewReddit(timeout time.Duration, log logger.Logger) *RedditConnector {
	if timeout <= 0 {
		timeout = redditTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedditConnector{
		client:  &http.Client{Timeout: timeout},
		baseURL: redditBaseURL,
		limiter: rate.NewLimiter(rate.Every(redditRateLimit), 1),
		log:     log.With(logger.String("platform", PlatformReddit)),
		now:     time.Now,
	}
}

func (rc *RedditConnector) Platform() string {
	return PlatformReddit
}

func (rc *RedditConnector) Connect(context.Context) error {
	return nil
}

func (rc *RedditConnector) Disconnect(context.Context) error {
	rc.client.CloseIdleConnections()
	return nil
}

func (rc *RedditConnector) FetchPosts(ctx context.Context, subreddit string, limit int) ([]Post, error) {
	return rc.fetchSubreddit(ctx, subreddit, limit, time.Time{})
}

func (rc *RedditConnector) FetchPostsByTimeframe(ctx context.Context, subreddits []string, days int) ([]Post, error) {
	since := Since(rc.now(), days)

	var (
		posts []Post
		errs  []error
	)
	for _, sub := range subreddits {
		items, err := rc.fetchSubreddit(ctx, sub, redditMaxListing, since)
		if err != nil {
			rc.log.Warn("subreddit fetch failed", logger.String("source", sub), logger.Error(err))
			errs = append(errs, err)
			continue
		}
		posts = append(posts, items...)
	}
	if len(subreddits) > 0 && len(errs) == len(subreddits) {
		return nil, errors.Join(errs...)
	}
	return posts, nil
}

func (rc *RedditConnector) fetchSubreddit(ctx context.Context, subreddit string, limit int, since time.Time) ([]Post, error) {
	name := subredditName(subreddit)
	if name == "" {
		return nil, errors.New("reddit: subreddit is required")
	}
	if limit <= 0 || limit > redditMaxListing {
		limit = redditMaxListing
	}

	if err := rc.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("reddit: wait for rate limiter: %w", ctxErr)
		}
		// The wait would outlast the deadline: the shared pace is exhausted.
		return nil, fmt.Errorf("reddit: wait for rate limiter: %w: %w", ErrRateLimited, err)
	}

	url := fmt.Sprintf("%s/r/%s/new.json?limit=%d&raw_json=1", rc.baseURL, name, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", redditUserAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch r/%s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp, url); err != nil {
		return nil, err
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode r/%s: %w: %w", name, ErrParse, err)
	}

	return postsFromListing(listing, subreddit, since), nil
}

// subredditName strips an optional "r/" or "/r/" prefix.
func subredditName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "/")
	s = strings.TrimPrefix(s, "r/")
	return strings.Trim(s, "/")
}

func postsFromListing(listing redditListing, subreddit string, since time.Time) []Post {
	var posts []Post
	for _, child := range listing.Data.Children {
		p := child.Data

		var date time.Time
		if p.CreatedUTC > 0 {
			date = time.Unix(int64(p.CreatedUTC), 0).UTC()
		}
		if !date.IsZero() && date.Before(since) {
			continue
		}

		content := p.Title
		if strings.TrimSpace(p.Selftext) != "" {
			content = p.Title + "\n\n" + p.Selftext
		}

		var media []string
		if p.URL != "" && !p.IsSelf {
			media = append(media, p.URL)
		}

		var categories []string
		if p.LinkFlairText != "" {
			categories = append(categories, p.LinkFlairText)
		}

		posts = append(posts, Post{
			Platform:   PlatformReddit,
			Source:     subreddit,
			URL:        redditBaseURL + p.Permalink,
			Title:      p.Title,
			Content:    content,
			Date:       date,
			MediaURLs:  media,
			Categories: categories,
			Metadata: map[string]any{
				"id":           p.ID,
				"author":       p.Author,
				"score":        p.Score,
				"num_comments": p.NumComments,
			},
		})
	}
	return posts
}

type redditListing struct {
	Data struct {
		Children []redditChild `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Data redditPost `json:"data"`
}

type redditPost struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Selftext      string  `json:"selftext"`
	URL           string  `json:"url"`
	Permalink     string  `json:"permalink"`
	Author        string  `json:"author"`
	Score         int     `json:"score"`
	NumComments   int     `json:"num_comments"`
	IsSelf        bool    `json:"is_self"`
	LinkFlairText string  `json:"link_flair_text"`
	CreatedUTC    float64 `json:"created_utc"`
}
