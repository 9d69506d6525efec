package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func makeListing(posts ...redditPost) redditListing {
	var children []redditChild
	for _, p := range posts {
		children = append(children, redditChild{Data: p})
	}
	return redditListing{Data: struct {
		Children []redditChild `json:"children"`
	}{Children: children}}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func redditWithTransport(rt roundTripFunc) *RedditConnector {
	rc := NewReddit(0, nil)
	rc.baseURL = "https://reddit.test"
	rc.limiter = rate.NewLimiter(rate.Inf, 1)
	rc.client = &http.Client{
		Timeout:   redditTimeout,
		Transport: rt,
	}
	return rc
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal json: %v", err)
	}
	return string(b)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestRedditConnector_Platform(t *testing.T) {
	if got := NewReddit(0, nil).Platform(); got != "reddit" {
		t.Errorf("platform = %q, want reddit", got)
	}
}

func TestSubredditName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"devops", "devops"},
		{"r/devops", "devops"},
		{"/r/devops/", "devops"},
		{"  golang ", "golang"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := subredditName(tt.in); got != tt.want {
			t.Errorf("subredditName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReddit_FetchPosts(t *testing.T) {
	now := time.Now()
	rc := redditWithTransport(func(r *http.Request) (*http.Response, error) {
		if r.Header.Get("User-Agent") != redditUserAgent {
			t.Errorf("user-agent = %q, want %q", r.Header.Get("User-Agent"), redditUserAgent)
		}
		if r.URL.Path != "/r/devops/new.json" {
			t.Errorf("path = %q, want /r/devops/new.json", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "25" {
			t.Errorf("limit query = %q, want 25", got)
		}

		listing := makeListing(
			redditPost{
				ID:            "abc123",
				Title:         "CVE Alert",
				Selftext:      "Critical vulnerability found",
				Permalink:     "/r/devops/comments/abc123/cve_alert/",
				IsSelf:        true,
				LinkFlairText: "Security",
				Score:         42,
				CreatedUTC:    float64(now.Unix()),
			},
			redditPost{
				ID:         "def456",
				Title:      "Link Post",
				URL:        "https://example.com",
				Permalink:  "/r/devops/comments/def456/link_post/",
				CreatedUTC: float64(now.Unix()),
			},
		)
		return response(http.StatusOK, mustJSON(t, listing)), nil
	})

	posts, err := rc.FetchPosts(context.Background(), "r/devops", 25)
	if err != nil {
		t.Fatalf("FetchPosts: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}

	p := posts[0]
	if p.Platform != "reddit" {
		t.Errorf("platform = %q", p.Platform)
	}
	if p.Source != "r/devops" {
		t.Errorf("source = %q, want configured identifier", p.Source)
	}
	if p.Content != "CVE Alert\n\nCritical vulnerability found" {
		t.Errorf("content = %q, want title + selftext", p.Content)
	}
	if p.URL != redditBaseURL+"/r/devops/comments/abc123/cve_alert/" {
		t.Errorf("url = %q", p.URL)
	}
	if len(p.Categories) != 1 || p.Categories[0] != "Security" {
		t.Errorf("categories = %v", p.Categories)
	}
	if len(p.MediaURLs) != 0 {
		t.Errorf("self post media = %v, want none", p.MediaURLs)
	}
	if p.Metadata["score"] != 42 {
		t.Errorf("score = %v", p.Metadata["score"])
	}

	if posts[1].Content != "Link Post" {
		t.Errorf("link post content = %q, want just title", posts[1].Content)
	}
	if len(posts[1].MediaURLs) != 1 || posts[1].MediaURLs[0] != "https://example.com" {
		t.Errorf("link post media = %v", posts[1].MediaURLs)
	}
}

func TestReddit_FetchPostsByTimeframe(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	rc := redditWithTransport(func(r *http.Request) (*http.Response, error) {
		if strings.Contains(r.URL.Path, "/r/broken/") {
			return response(http.StatusInternalServerError, ""), nil
		}
		listing := makeListing(
			redditPost{ID: "new1", Title: "New", CreatedUTC: float64(now.Add(-time.Hour).Unix()), Permalink: "/r/test/new1"},
			redditPost{ID: "old1", Title: "Old", CreatedUTC: float64(now.Add(-72 * time.Hour).Unix()), Permalink: "/r/test/old1"},
			redditPost{ID: "nodate", Title: "Undated", Permalink: "/r/test/nodate"},
		)
		return response(http.StatusOK, mustJSON(t, listing)), nil
	})
	rc.now = func() time.Time { return now }

	posts, err := rc.FetchPostsByTimeframe(context.Background(), []string{"test", "broken"}, 1)
	if err != nil {
		t.Fatalf("partial failure should not error: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2 (recent + undated)", len(posts))
	}
	if posts[1].HasDate() {
		t.Errorf("undated post got date %v", posts[1].Date)
	}

	if _, err := rc.FetchPostsByTimeframe(context.Background(), []string{"broken"}, 1); err == nil {
		t.Fatal("expected error when every subreddit fails")
	}
}

func TestReddit_EmptyListing(t *testing.T) {
	rc := redditWithTransport(func(_ *http.Request) (*http.Response, error) {
		return response(http.StatusOK, mustJSON(t, makeListing())), nil
	})

	posts, err := rc.FetchPosts(context.Background(), "empty", 10)
	if err != nil {
		t.Fatalf("FetchPosts: %v", err)
	}
	if len(posts) != 0 {
		t.Errorf("got %d posts, want 0", len(posts))
	}
}

func TestReddit_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, "", ErrRateLimited},
		{"forbidden", http.StatusForbidden, "", ErrAuth},
		{"malformed json", http.StatusOK, "{{{not json", ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := redditWithTransport(func(_ *http.Request) (*http.Response, error) {
				return response(tt.status, tt.body), nil
			})
			_, err := rc.FetchPosts(context.Background(), "x", 10)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

// Subreddit fetches share one limiter. A fetch whose deadline comes before
// its turn fails at once as rate limited instead of an unclassified error.
func TestReddit_SharedLimiterExhausted(t *testing.T) {
	rc := redditWithTransport(func(_ *http.Request) (*http.Response, error) {
		return response(http.StatusOK, mustJSON(t, makeListing())), nil
	})
	rc.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	subs := []string{"a", "b", "c", "d"}
	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	start := time.Now()
	for i, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
			defer cancel()
			_, errs[i] = rc.FetchPosts(ctx, sub, 10)
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("fetches took %v, want immediate failure", elapsed)
	}
	failed := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		if !errors.Is(err, ErrRateLimited) {
			t.Errorf("%s: err = %v, want ErrRateLimited", subs[i], err)
		}
	}
	if failed != len(subs)-1 {
		t.Errorf("%d fetches failed, want %d", failed, len(subs)-1)
	}
}

func TestReddit_LimiterWaitAfterDeadline(t *testing.T) {
	rc := redditWithTransport(func(_ *http.Request) (*http.Response, error) {
		t.Error("no request expected after the deadline")
		return response(http.StatusOK, "{}"), nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	_, err := rc.FetchPosts(ctx, "x", 10)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestReddit_EmptySubreddit(t *testing.T) {
	if _, err := NewReddit(0, nil).FetchPosts(context.Background(), " ", 10); err == nil {
		t.Fatal("expected error for empty subreddit")
	}
}

func TestPostsFromListing(t *testing.T) {
	now := time.Now()
	since := now.Add(-24 * time.Hour)

	listing := makeListing(
		redditPost{
			ID:         "abc",
			Title:      "Test Post",
			Selftext:   "Body text",
			Permalink:  "/r/test/comments/abc/test_post/",
			CreatedUTC: float64(now.Unix()),
		},
	)

	posts := postsFromListing(listing, "test", since)
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}

	p := posts[0]
	if p.Content != "Test Post\n\nBody text" {
		t.Errorf("content = %q, want title + body", p.Content)
	}
	if p.Date.Location() != time.UTC {
		t.Errorf("date location = %v, want UTC", p.Date.Location())
	}
}
