package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/insight/internal/logger"
)

const (
	hnAPIBase      = "https://hacker-news.firebaseio.com/v0"
	hnItemBase     = "https://news.ycombinator.com/item?id="
	hnFetchTimeout = 30 * time.Second
	hnMaxStories   = 200
	hnMaxWorkers   = 5
)

// hnLists maps source identifiers to Firebase list endpoints.
var hnLists = map[string]string{
	"top":  "topstories",
	"new":  "newstories",
	"best": "beststories",
}

// HNConnector fetches stories from Hacker News via the Firebase API. Source
// identifiers are list names: top, new, or best.
type HNConnector struct {
	client    *http.Client
	baseURL   string
	minPoints int
	log       logger.Logger
	now       func() time.Time
}

// NewHN creates a Hacker News connector. Stories scoring below minPoints are
// skipped; zero keeps everything.
func NewHN(minPoints int, timeout time.Duration, log logger.Logger) (*HNConnector, error) {
	if minPoints < 0 {
		return nil, errors.New("hn: min_points must not be negative")
	}
	if timeout <= 0 {
		timeout = hnFetchTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &HNConnector{
		client:    &http.Client{Timeout: timeout},
		baseURL:   hnAPIBase,
		minPoints: minPoints,
		log:       log.With(logger.String("platform", PlatformHN)),
		now:       time.Now,
	}, nil
}

func (h *HNConnector) Platform() string {
	return PlatformHN
}

func (h *HNConnector) Connect(context.Context) error {
	return nil
}

func (h *HNConnector) Disconnect(context.Context) error {
	h.client.CloseIdleConnections()
	return nil
}

func (h *HNConnector) FetchPosts(ctx context.Context, list string, limit int) ([]Post, error) {
	posts, err := h.fetchList(ctx, list, limit, time.Time{})
	if err != nil {
		return nil, err
	}
	return limitPosts(posts, limit), nil
}

func (h *HNConnector) FetchPostsByTimeframe(ctx context.Context, lists []string, days int) ([]Post, error) {
	since := Since(h.now(), days)

	var (
		posts []Post
		errs  []error
	)
	for _, list := range lists {
		items, err := h.fetchList(ctx, list, hnMaxStories, since)
		if err != nil {
			h.log.Warn("story list fetch failed", logger.String("source", list), logger.Error(err))
			errs = append(errs, err)
			continue
		}
		posts = append(posts, items...)
	}
	if len(lists) > 0 && len(errs) == len(lists) {
		return nil, errors.Join(errs...)
	}
	return posts, nil
}

// fetchList resolves a story list and fetches up to max items with a worker
// pool. Item failures are logged and skipped.
func (h *HNConnector) fetchList(ctx context.Context, list string, max int, since time.Time) ([]Post, error) {
	endpoint, ok := hnLists[strings.ToLower(strings.TrimSpace(list))]
	if !ok {
		return nil, fmt.Errorf("hn: unknown story list %q (want top, new, or best)", list)
	}

	ids, err := h.fetchIDs(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("hn: fetch %s: %w", endpoint, err)
	}
	if max <= 0 || max > hnMaxStories {
		max = hnMaxStories
	}
	if len(ids) > max {
		ids = ids[:max]
	}
	if len(ids) == 0 {
		return nil, nil
	}

	type result struct {
		idx  int
		post *Post
		err  error
	}

	jobs := make(chan int, len(ids))
	results := make(chan result, len(ids))

	var wg sync.WaitGroup
	for range min(hnMaxWorkers, len(ids)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				item, err := h.fetchItem(ctx, ids[idx])
				if err != nil {
					results <- result{idx: idx, err: err}
					continue
				}
				results <- result{idx: idx, post: h.storyPost(item, list, since)}
			}
		}()
	}

	for i := range ids {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Keep the list's ranking order regardless of worker completion order.
	ranked := make([]*Post, len(ids))
	for r := range results {
		if r.err != nil {
			h.log.Debug("item fetch failed", logger.Int("id", ids[r.idx]), logger.Error(r.err))
			continue
		}
		ranked[r.idx] = r.post
	}

	var posts []Post
	for _, p := range ranked {
		if p != nil {
			posts = append(posts, *p)
		}
	}
	return posts, nil
}

// storyPost converts an item, returning nil for non-stories, low scores, and
// stories older than since.
func (h *HNConnector) storyPost(item *hnItem, list string, since time.Time) *Post {
	if item.Type != "story" || item.Dead || item.Deleted || item.Score < h.minPoints {
		return nil
	}

	var date time.Time
	if item.Time > 0 {
		date = time.Unix(item.Time, 0).UTC()
	}
	if !date.IsZero() && date.Before(since) {
		return nil
	}

	discussion := hnItemBase + strconv.Itoa(item.ID)
	link := item.URL
	if link == "" {
		link = discussion
	}

	content := item.Title
	if text := HTMLToText(item.Text); text != "" {
		content = item.Title + "\n\n" + text
	}

	return &Post{
		Platform: PlatformHN,
		Source:   list,
		URL:      link,
		Title:    item.Title,
		Content:  content,
		Date:     date,
		Metadata: map[string]any{
			"id":         item.ID,
			"author":     item.By,
			"score":      item.Score,
			"comments":   item.Descendants,
			"discussion": discussion,
		},
	}
}

// hnItem represents a Hacker News item from the API.
type hnItem struct {
	ID          int    `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Score       int    `json:"score"`
	Time        int64  `json:"time"`
	Descendants int    `json:"descendants"`
	By          string `json:"by"`
	Dead        bool   `json:"dead"`
	Deleted     bool   `json:"deleted"`
}

func (h *HNConnector) fetchIDs(ctx context.Context, endpoint string) ([]int, error) {
	var ids []int
	if err := h.getJSON(ctx, fmt.Sprintf("%s/%s.json", h.baseURL, endpoint), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (h *HNConnector) fetchItem(ctx context.Context, id int) (*hnItem, error) {
	var item hnItem
	if err := h.getJSON(ctx, fmt.Sprintf("%s/item/%d.json", h.baseURL, id), &item); err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	return &item, nil
}

func (h *HNConnector) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp, url); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrParse, err)
	}
	return nil
}
