package summarize

import (
	"fmt"
	"testing"

	"github.com/ppiankov/insight/internal/source"
)

func testPosts(n int) []source.Post {
	posts := make([]source.Post, n)
	for i := range posts {
		posts[i] = source.Post{
			Platform: "rss",
			Source:   "feed",
			URL:      fmt.Sprintf("https://example.com/%d", i+1),
			Title:    fmt.Sprintf("Post %d", i+1),
			Content:  "body",
		}
	}
	return posts
}

func TestHeadline(t *testing.T) {
	tests := []struct {
		name string
		post source.Post
		want string
	}{
		{"title wins", source.Post{Title: "  Kubernetes 1.32\n released ", Content: "ignored"}, "Kubernetes 1.32 released"},
		{"first sentence", source.Post{Content: "Kubernetes 1.32 has been released. More below."}, "Kubernetes 1.32 has been released."},
		{"first line", source.Post{Content: "Release notes\nline two"}, "Release notes"},
		{"url fallback", source.Post{URL: "https://example.com/x"}, "https://example.com/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Headline(tt.post); got != tt.want {
				t.Errorf("Headline() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHeadline_LongSentenceTruncated(t *testing.T) {
	long := ""
	for range 40 {
		long += "word "
	}
	got := Headline(source.Post{Content: long})
	if len([]rune(got)) > maxHeadline+3 {
		t.Errorf("len = %d, want <= %d", len([]rune(got)), maxHeadline+3)
	}
	if got[len(got)-3:] != "..." {
		t.Errorf("missing ellipsis: %q", got)
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("short text", 50); got != "short text" {
		t.Errorf("Excerpt = %q", got)
	}
	if got := Excerpt("héllo wörld again", 11); got != "héllo wörld..." {
		t.Errorf("Excerpt = %q", got)
	}
	if got := Excerpt("a  b\n\tc", 0); got != "a b c" {
		t.Errorf("Excerpt = %q", got)
	}
}
