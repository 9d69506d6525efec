// Package sourcetest provides a scriptable connector for tests.
package sourcetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ppiankov/insight/internal/source"
)

// Fake is a source.Connector whose behavior is scripted per source
// identifier. The zero value of each map means "no behavior".
type Fake struct {
	Name       string
	ConnectErr error

	Posts  map[string][]source.Post
	Errs   map[string]error
	Delays map[string]time.Duration
	Panics map[string]any

	// IgnoreContext makes delays ignore cancellation, like a connector that
	// blocks in a call without a context. Close Release to unblock them.
	IgnoreContext bool
	Release       chan struct{}

	mu          sync.Mutex
	calls       []string
	connects    int
	disconnects int
}

// NewFake returns a Fake for platform with a fresh Release channel.
func NewFake(platform string) *Fake {
	return &Fake{
		Name:    platform,
		Posts:   map[string][]source.Post{},
		Errs:    map[string]error{},
		Delays:  map[string]time.Duration{},
		Panics:  map[string]any{},
		Release: make(chan struct{}),
	}
}

func (f *Fake) Platform() string {
	return f.Name
}

func (f *Fake) Connect(context.Context) error {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	return f.ConnectErr
}

func (f *Fake) Disconnect(context.Context) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *Fake) FetchPosts(ctx context.Context, src string, limit int) ([]source.Post, error) {
	posts, err := f.fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (f *Fake) FetchPostsByTimeframe(ctx context.Context, sources []string, _ int) ([]source.Post, error) {
	var (
		all  []source.Post
		errs []error
	)
	for _, src := range sources {
		posts, err := f.fetch(ctx, src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all = append(all, posts...)
	}
	if len(sources) > 0 && len(errs) == len(sources) {
		return nil, errors.Join(errs...)
	}
	return all, nil
}

func (f *Fake) fetch(ctx context.Context, src string) ([]source.Post, error) {
	f.mu.Lock()
	f.calls = append(f.calls, src)
	delay := f.Delays[src]
	pv, shouldPanic := f.Panics[src]
	err := f.Errs[src]
	posts := f.Posts[src]
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		if f.IgnoreContext {
			select {
			case <-timer.C:
			case <-f.Release:
			}
		} else {
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if shouldPanic {
		panic(pv)
	}
	if err != nil {
		return nil, err
	}
	out := make([]source.Post, len(posts))
	copy(out, posts)
	return out, nil
}

// Calls returns the source identifiers fetched so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Connects returns how many times Connect was called.
func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Disconnects returns how many times Disconnect was called.
func (f *Fake) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// Post builds a minimal valid post.
func Post(platform, src, url string, date time.Time) source.Post {
	return source.Post{
		Platform: platform,
		Source:   src,
		URL:      url,
		Content:  "content of " + url,
		Date:     date,
	}
}
