package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ppiankov/insight/internal/briefing"
	"github.com/ppiankov/insight/internal/executor"
	"github.com/ppiankov/insight/internal/source"
	"github.com/ppiankov/insight/internal/source/sourcetest"
	"github.com/ppiankov/insight/internal/timeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticProvider []PlatformSources

func (p staticProvider) EnabledSources(context.Context) ([]PlatformSources, error) {
	return p, nil
}

type failingProvider struct{ err error }

func (p failingProvider) EnabledSources(context.Context) ([]PlatformSources, error) {
	return nil, p.err
}

type runObserver struct {
	mu       sync.Mutex
	runs     []string
	dropped  map[string]int
	outcomes int
}

func (r *runObserver) ObserveRun(mode, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, mode+":"+status)
}

func (r *runObserver) ObserveDropped(platform, reason string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dropped == nil {
		r.dropped = map[string]int{}
	}
	r.dropped[platform+"/"+reason] += n
}

func (r *runObserver) ObserveOutcome(executor.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes++
}

var day = time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

func postsFor(platform, src string, n int, base time.Time) []source.Post {
	out := make([]source.Post, n)
	for i := range out {
		out[i] = sourcetest.Post(platform, src, fmt.Sprintf("https://%s/%s/%d", platform, src, i), base.Add(time.Duration(i)*time.Hour))
	}
	return out
}

func newOrchestrator(t *testing.T, provider SourceProvider, obs Observer, conns ...source.Connector) *Orchestrator {
	t.Helper()
	reg, err := source.NewRegistry(conns...)
	require.NoError(t, err)
	o, err := New(Config{
		Registry: reg,
		Provider: provider,
		Executor: executor.New(executor.Config{Timeout: time.Second}, nil, nil),
		Observer: obs,
	})
	require.NoError(t, err)
	o.now = func() time.Time { return day.Add(12 * time.Hour) }
	return o
}

func TestNew_RequiresRegistryAndProvider(t *testing.T) {
	_, err := New(Config{Provider: staticProvider{}})
	assert.Error(t, err)

	reg, err := source.NewRegistry()
	require.NoError(t, err)
	_, err = New(Config{Registry: reg})
	assert.Error(t, err)
}

func TestAggregate_IsolatesFailingSource(t *testing.T) {
	rss := sourcetest.NewFake("rss")
	rss.Posts["a"] = postsFor("rss", "a", 5, day)
	rss.Posts["c"] = postsFor("rss", "c", 5, day)
	rss.Errs["b"] = source.ErrConnection
	obs := &runObserver{}

	o := newOrchestrator(t, staticProvider{{Platform: "rss", Sources: []string{"a", "b", "c"}}}, obs, rss)
	res, err := o.Aggregate(context.Background(), Options{})
	require.NoError(t, err)

	assert.Len(t, res.Posts, 10)
	assert.Equal(t, 2, res.SuccessfulSources)
	assert.Equal(t, 1, res.FailedSources)
	assert.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Failed(), 1)
	assert.Equal(t, executor.KindNetwork, res.Failed()[0].ErrorKind())
	assert.Equal(t, "b", res.Failed()[0].Source())
	assert.Equal(t, 1, rss.Connects())
	assert.Equal(t, 1, rss.Disconnects())
	assert.Equal(t, []string{"latest:ok"}, obs.runs)
}

func TestAggregate_PanicAndTimeoutAreIsolated(t *testing.T) {
	reddit := sourcetest.NewFake("reddit")
	reddit.Posts["golang"] = postsFor("reddit", "golang", 3, day)
	reddit.Panics["broken"] = "nil map"
	reddit.Delays["slow"] = 5 * time.Second

	reg, err := source.NewRegistry(reddit)
	require.NoError(t, err)
	o, err := New(Config{
		Registry: reg,
		Provider: staticProvider{{Platform: "reddit", Sources: []string{"golang", "broken", "slow"}}},
		Executor: executor.New(executor.Config{Timeout: 20 * time.Millisecond}, nil, nil),
	})
	require.NoError(t, err)

	start := time.Now()
	res, err := o.Aggregate(context.Background(), Options{})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, res.Posts, 3)
	assert.Equal(t, 1, res.SuccessfulSources)
	assert.Equal(t, 2, res.FailedSources)

	kinds := map[string]executor.Kind{}
	for _, out := range res.Failed() {
		kinds[out.Source()] = out.ErrorKind()
		assert.Empty(t, out.Posts)
	}
	assert.Equal(t, map[string]executor.Kind{"broken": executor.KindPanic, "slow": executor.KindTimeout}, kinds)
}

func TestAggregate_DedupAcrossPlatforms(t *testing.T) {
	rss := sourcetest.NewFake("rss")
	rss.Posts["feed"] = []source.Post{sourcetest.Post("rss", "feed", "https://x/1", day)}
	hn := sourcetest.NewFake("hn")
	hn.Posts["top"] = []source.Post{sourcetest.Post("hn", "top", "https://x/1", day.Add(time.Hour))}

	o := newOrchestrator(t, staticProvider{
		{Platform: "rss", Sources: []string{"feed"}},
		{Platform: "hn", Sources: []string{"top"}},
	}, nil, rss, hn)

	res, err := o.Aggregate(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, res.Posts, 1)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, "rss", res.Posts[0].Platform, "schedule order decides the survivor")
}

func TestAggregate_OrderAndLimit(t *testing.T) {
	rss := sourcetest.NewFake("rss")
	rss.Posts["feed"] = postsFor("rss", "feed", 5, day)
	rss.Posts["feed"][2].Date = time.Time{}

	o := newOrchestrator(t, staticProvider{{Platform: "rss", Sources: []string{"feed"}}}, nil, rss)

	res, err := o.Aggregate(context.Background(), Options{Limit: 4, Order: timeline.Ascending})
	require.NoError(t, err)
	require.Len(t, res.Posts, 4)
	assert.True(t, res.Posts[0].Date.Before(res.Posts[1].Date))
	assert.False(t, res.Posts[3].HasDate(), "undated posts trail")

	res, err = o.Aggregate(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, res.Posts[0].Date.After(res.Posts[1].Date), "default order is newest first")
}

func TestAggregate_DropsInvalidPosts(t *testing.T) {
	rss := sourcetest.NewFake("rss")
	rss.Posts["feed"] = []source.Post{
		sourcetest.Post("rss", "feed", "https://x/1", day),
		{Platform: "rss", Source: "feed", URL: "https://x/2"},
	}
	obs := &runObserver{}

	o := newOrchestrator(t, staticProvider{{Platform: "rss", Sources: []string{"feed"}}}, obs, rss)
	res, err := o.Aggregate(context.Background(), Options{})
	require.NoError(t, err)

	assert.Len(t, res.Posts, 1)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, 1, obs.dropped["rss/invalid"])
}

func TestAggregate_NoSources(t *testing.T) {
	obs := &runObserver{}
	o := newOrchestrator(t, staticProvider{{Platform: "rss"}}, obs)

	res, err := o.Aggregate(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusNoSources, res.Status)
	assert.Empty(t, res.Posts)
	assert.NotNil(t, res.Posts)
	assert.Equal(t, []string{"latest:no_sources"}, obs.runs)
}

func TestAggregate_AllSourcesFail(t *testing.T) {
	rss := sourcetest.NewFake("rss")
	rss.Errs["a"] = source.ErrAuth

	o := newOrchestrator(t, staticProvider{{Platform: "rss", Sources: []string{"a"}}}, nil, rss)
	res, err := o.Aggregate(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusNoPosts, res.Status)
	assert.Equal(t, 1, res.FailedSources)
}

func TestAggregate_ProviderError(t *testing.T) {
	o := newOrchestrator(t, failingProvider{err: errors.New("config unreadable")}, nil)
	_, err := o.Aggregate(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config unreadable")
}

func TestAggregate_UnregisteredPlatform(t *testing.T) {
	rss := sourcetest.NewFake("rss")
	rss.Posts["feed"] = postsFor("rss", "feed", 2, day)
	obs := &runObserver{}

	o := newOrchestrator(t, staticProvider{
		{Platform: "mastodon", Sources: []string{"a", "b"}},
		{Platform: "rss", Sources: []string{"feed"}},
	}, obs, rss)

	res, err := o.Aggregate(context.Background(), Options{})
	require.NoError(t, err)
	assert.Len(t, res.Posts, 2)
	assert.Equal(t, 2, res.FailedSources)
	for _, out := range res.Failed() {
		assert.Equal(t, "mastodon", out.Platform)
		assert.Equal(t, executor.KindUnknown, out.ErrorKind())
	}
	assert.Equal(t, 2, obs.outcomes)
}

func TestAggregate_ConnectFailureFailsEverySource(t *testing.T) {
	tg := sourcetest.NewFake("telegram")
	tg.ConnectErr = fmt.Errorf("login: %w", source.ErrAuth)
	tg.Posts["a"] = postsFor("telegram", "a", 2, day)

	o := newOrchestrator(t, staticProvider{{Platform: "telegram", Sources: []string{"a", "b", "c"}}}, nil, tg)
	res, err := o.Aggregate(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.FailedSources)
	assert.Empty(t, tg.Calls(), "sources of an unconnected platform are not fetched")
	for _, out := range res.Failed() {
		assert.Equal(t, executor.KindAuth, out.ErrorKind())
	}
}

func TestAggregate_PlatformFilter(t *testing.T) {
	rss := sourcetest.NewFake("rss")
	rss.Posts["feed"] = postsFor("rss", "feed", 2, day)
	hn := sourcetest.NewFake("hn")
	hn.Posts["top"] = postsFor("hn", "top", 2, day)

	o := newOrchestrator(t, staticProvider{
		{Platform: "rss", Sources: []string{"feed"}},
		{Platform: "hn", Sources: []string{"top"}},
	}, nil, rss, hn)

	res, err := o.Aggregate(context.Background(), Options{Platforms: []string{"hn"}})
	require.NoError(t, err)
	assert.Len(t, res.Posts, 2)
	assert.Zero(t, rss.Connects())
}

func TestAggregate_ConcurrencyLimit(t *testing.T) {
	rss := sourcetest.NewFake("rss")
	srcs := []string{"a", "b", "c", "d"}
	for _, s := range srcs {
		rss.Posts[s] = postsFor("rss", s, 1, day)
		rss.Delays[s] = 20 * time.Millisecond
	}
	reg, err := source.NewRegistry(rss)
	require.NoError(t, err)
	o, err := New(Config{
		Registry:    reg,
		Provider:    staticProvider{{Platform: "rss", Sources: srcs}},
		Concurrency: 1,
	})
	require.NoError(t, err)

	start := time.Now()
	res, err := o.Aggregate(context.Background(), Options{})
	require.NoError(t, err)
	assert.Len(t, res.Posts, 4)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestAggregateTimeframe(t *testing.T) {
	rss := sourcetest.NewFake("rss")
	rss.Posts["a"] = []source.Post{
		sourcetest.Post("rss", "a", "https://x/old", day.AddDate(0, 0, -5)),
		sourcetest.Post("rss", "a", "https://x/new", day.Add(time.Hour)),
	}
	rss.Errs["b"] = source.ErrConnection
	hn := sourcetest.NewFake("hn")
	hn.Errs["top"] = source.ErrRateLimited
	obs := &runObserver{}

	o := newOrchestrator(t, staticProvider{
		{Platform: "rss", Sources: []string{"a", "b"}},
		{Platform: "hn", Sources: []string{"top"}},
	}, obs, rss, hn)

	res, err := o.AggregateTimeframe(context.Background(), 1, Options{})
	require.NoError(t, err)

	require.Len(t, res.Posts, 1)
	assert.Equal(t, "https://x/new", res.Posts[0].URL)
	assert.Equal(t, 2, res.SuccessfulSources, "a platform outcome counts all its sources")
	assert.Equal(t, 1, res.FailedSources)
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, []string{"timeframe:ok"}, obs.runs)

	_, err = o.AggregateTimeframe(context.Background(), -1, Options{})
	assert.Error(t, err)
}

func TestDailyBriefing(t *testing.T) {
	rss := sourcetest.NewFake("rss")
	rss.Posts["feed"] = []source.Post{
		sourcetest.Post("rss", "feed", "https://x/late", day.Add(20*time.Hour)),
		sourcetest.Post("rss", "feed", "https://x/yesterday", day.Add(-time.Minute)),
		sourcetest.Post("rss", "feed", "https://x/early", day.Add(time.Hour)),
		sourcetest.Post("rss", "feed", "https://x/undated", time.Time{}),
	}
	obs := &runObserver{}
	o := newOrchestrator(t, staticProvider{{Platform: "rss", Sources: []string{"feed"}}}, obs, rss)

	var got []string
	composer := briefing.NewComposer(briefing.CollaboratorFunc(func(_ context.Context, req briefing.Request) (*briefing.Response, error) {
		for _, p := range req.Posts {
			got = append(got, p.URL)
		}
		return &briefing.Response{Topics: []briefing.ProposedTopic{{ID: "t", Title: "Morning", PostIDs: []int{1}}}}, nil
	}), briefing.Options{}, nil, nil)

	br, err := o.DailyBriefing(context.Background(), day.Add(9*time.Hour), composer, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://x/early", "https://x/late"}, got)
	assert.Equal(t, day, br.Day)
	require.Len(t, br.Briefing.Topics, 1)
	assert.Equal(t, []int{2}, br.Briefing.Unreferenced)
	assert.Equal(t, []string{"briefing:ok"}, obs.runs, "a briefing is reported as one run")

	br, err = o.DailyBriefing(context.Background(), day, nil, Options{IncludeUndated: true})
	require.NoError(t, err)
	assert.Len(t, br.Result.Posts, 3)
	assert.True(t, br.Briefing.Fallback)
	assert.Equal(t, []int{1, 2, 3}, br.Briefing.Unreferenced)
}

func TestDailyBriefing_NoPostsOnDay(t *testing.T) {
	rss := sourcetest.NewFake("rss")
	rss.Posts["feed"] = postsFor("rss", "feed", 2, day.AddDate(0, 0, -3))
	obs := &runObserver{}
	o := newOrchestrator(t, staticProvider{{Platform: "rss", Sources: []string{"feed"}}}, obs, rss)

	br, err := o.DailyBriefing(context.Background(), day, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusNoPosts, br.Result.Status)
	assert.Equal(t, []string{"briefing:no_posts"}, obs.runs)
	assert.Empty(t, br.Briefing.Posts)
	assert.False(t, br.Briefing.Fallback)
}
