// Package aggregate fans fetches out across every enabled (platform, source)
// pair, joins them, and produces one ordered, deduplicated post set.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/insight/internal/executor"
	"github.com/ppiankov/insight/internal/logger"
	"github.com/ppiankov/insight/internal/normalize"
	"github.com/ppiankov/insight/internal/source"
	"github.com/ppiankov/insight/internal/timeline"
)

const defaultLimit = 10

// PlatformSources is one enabled platform and its configured sources.
type PlatformSources struct {
	Platform string
	Sources  []string
}

// SourceProvider supplies the enabled sources for a run.
type SourceProvider interface {
	EnabledSources(ctx context.Context) ([]PlatformSources, error)
}

// Status summarizes a run.
type Status string

const (
	StatusOK        Status = "ok"
	StatusNoSources Status = "no_sources"
	StatusNoPosts   Status = "no_posts"
)

// Run modes reported to the observer.
const (
	ModeLatest    = "latest"
	ModeTimeframe = "timeframe"
	ModeBriefing  = "briefing"
)

// Options tunes one run.
type Options struct {
	// Limit is the per-source post cap for latest-post runs. Zero means 10.
	Limit int
	// Platforms restricts the run to these platforms. Empty means all.
	Platforms []string
	// Order of the final post set. Empty means descending.
	Order timeline.Order
	// Since drops posts published before it. Zero disables the filter.
	Since time.Time
	// IncludeUndated keeps posts without a date through window filters.
	IncludeUndated bool
}

// Result is the outcome of one aggregation run.
type Result struct {
	Posts             []source.Post
	SuccessfulSources int
	FailedSources     int
	Outcomes          []executor.Outcome
	Invalid           int // records dropped by validation
	Duplicates        int
	Status            Status
	StartedAt         time.Time
	Duration          time.Duration
}

// Failed returns the failed outcomes in schedule order.
func (r *Result) Failed() []executor.Outcome {
	var out []executor.Outcome
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

// Observer receives run-level statistics.
type Observer interface {
	ObserveDropped(platform, reason string, n int)
	ObserveRun(mode, status string, d time.Duration)
}

// Config wires an Orchestrator.
type Config struct {
	Registry   *source.Registry
	Provider   SourceProvider
	Executor   *executor.Executor
	Normalizer *normalize.Normalizer
	Logger     logger.Logger
	Observer   Observer
	// Concurrency caps in-flight fetch tasks. Zero means unlimited.
	Concurrency int
}

// Orchestrator runs aggregation passes. It holds no per-run state and is
// safe for concurrent use.
type Orchestrator struct {
	registry    *source.Registry
	provider    SourceProvider
	exec        *executor.Executor
	normalizer  *normalize.Normalizer
	log         logger.Logger
	obs         Observer
	concurrency int
	now         func() time.Time
}

// New creates an Orchestrator. Registry and Provider are required.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("aggregate: nil connector registry")
	}
	if cfg.Provider == nil {
		return nil, errors.New("aggregate: nil source provider")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Executor == nil {
		cfg.Executor = executor.New(executor.Config{}, cfg.Logger, nil)
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = normalize.New(normalize.Options{}, cfg.Logger)
	}
	return &Orchestrator{
		registry:    cfg.Registry,
		provider:    cfg.Provider,
		exec:        cfg.Executor,
		normalizer:  cfg.Normalizer,
		log:         cfg.Logger,
		obs:         cfg.Observer,
		concurrency: cfg.Concurrency,
		now:         time.Now,
	}, nil
}

// task is one scheduled fetch. Sources has one entry for latest-post runs
// and every platform source for timeframe runs.
type task struct {
	conn    source.Connector
	group   PlatformSources
	sources []string
}

// Aggregate fetches the latest posts from every enabled source. Source
// failures are isolated into outcomes; only a provider failure is returned
// as an error.
func (o *Orchestrator) Aggregate(ctx context.Context, opts Options) (*Result, error) {
	res, err := o.latest(ctx, ModeLatest, opts)
	if err != nil {
		return nil, err
	}
	return o.finish(ModeLatest, res), nil
}

// latest runs the per-source fetch under mode without reporting the run.
func (o *Orchestrator) latest(ctx context.Context, mode string, opts Options) (*Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	return o.run(ctx, mode, opts, func(groups []PlatformSources, conns map[string]source.Connector) []task {
		var tasks []task
		for _, g := range groups {
			for _, src := range g.Sources {
				tasks = append(tasks, task{conn: conns[g.Platform], group: g, sources: []string{src}})
			}
		}
		return tasks
	}, func(ctx context.Context, t task) executor.Outcome {
		return o.exec.Fetch(ctx, t.conn, t.sources[0], limit)
	})
}

// AggregateTimeframe fetches posts from the last days days with one
// timeframe call per platform. Posts outside the window are dropped.
func (o *Orchestrator) AggregateTimeframe(ctx context.Context, days int, opts Options) (*Result, error) {
	if days < 0 {
		return nil, fmt.Errorf("aggregate: negative day count %d", days)
	}
	if opts.Since.IsZero() {
		opts.Since = source.Since(o.now(), days)
	}
	res, err := o.run(ctx, ModeTimeframe, opts, func(groups []PlatformSources, conns map[string]source.Connector) []task {
		tasks := make([]task, 0, len(groups))
		for _, g := range groups {
			tasks = append(tasks, task{conn: conns[g.Platform], group: g, sources: g.Sources})
		}
		return tasks
	}, func(ctx context.Context, t task) executor.Outcome {
		return o.exec.FetchTimeframe(ctx, t.conn, t.sources, days)
	})
	if err != nil {
		return nil, err
	}
	return o.finish(ModeTimeframe, res), nil
}

// run fetches, merges and orders posts. The caller reports the run with
// finish, except on provider failure which run reports itself.
func (o *Orchestrator) run(
	ctx context.Context,
	mode string,
	opts Options,
	schedule func([]PlatformSources, map[string]source.Connector) []task,
	fetch func(context.Context, task) executor.Outcome,
) (*Result, error) {
	res := &Result{StartedAt: o.now(), Posts: []source.Post{}}

	groups, err := o.enabled(ctx, opts.Platforms)
	if err != nil {
		o.observeRun(mode, "error", time.Since(res.StartedAt))
		return nil, err
	}
	if len(groups) == 0 {
		o.log.Info("no enabled sources", logger.String("mode", mode))
		res.Status = StatusNoSources
		return res, nil
	}

	conns, failed := o.connectAll(ctx, groups)
	defer o.disconnectAll(ctx, conns)

	// Unconnected platforms are not scheduled; their outcomes come first.
	var ready []PlatformSources
	for _, g := range groups {
		if _, ok := conns[g.Platform]; ok {
			ready = append(ready, g)
		}
	}
	tasks := schedule(ready, conns)
	outcomes := make([]executor.Outcome, len(tasks))

	var eg errgroup.Group
	if o.concurrency > 0 {
		eg.SetLimit(o.concurrency)
	}
	for i, t := range tasks {
		eg.Go(func() error {
			outcomes[i] = fetch(ctx, t)
			return nil
		})
	}
	_ = eg.Wait()

	res.Outcomes = append(failed, outcomes...)

	var merged []source.Post
	for _, out := range res.Outcomes {
		if out.Succeeded() {
			res.SuccessfulSources += len(out.Sources)
			merged = append(merged, out.Posts...)
		} else {
			res.FailedSources += len(out.Sources)
		}
	}

	valid, rep := o.normalizer.Normalize(merged)
	res.Invalid = rep.Dropped
	o.observeDropped(rep)

	deduped, dupes := timeline.Dedup(valid)
	res.Duplicates = dupes
	if dupes > 0 && o.obs != nil {
		o.obs.ObserveDropped("all", "duplicate", dupes)
	}

	if !opts.Since.IsZero() {
		deduped = timeline.FilterSince(deduped, opts.Since, opts.IncludeUndated)
	}
	res.Posts = timeline.Sort(deduped, orderOf(opts.Order))

	res.Status = StatusOK
	if len(res.Posts) == 0 {
		res.Status = StatusNoPosts
	}
	return res, nil
}

func (o *Orchestrator) enabled(ctx context.Context, only []string) ([]PlatformSources, error) {
	groups, err := o.provider.EnabledSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("load enabled sources: %w", err)
	}
	want := make(map[string]bool, len(only))
	for _, p := range only {
		want[p] = true
	}
	out := make([]PlatformSources, 0, len(groups))
	for _, g := range groups {
		if len(g.Sources) == 0 || (len(want) > 0 && !want[g.Platform]) {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

// connectAll connects each platform once, concurrently. Platforms that are
// unregistered or fail to connect yield one failed outcome per source.
func (o *Orchestrator) connectAll(ctx context.Context, groups []PlatformSources) (map[string]source.Connector, []executor.Outcome) {
	type connected struct {
		conn source.Connector
		err  error
	}
	results := make([]connected, len(groups))

	var eg errgroup.Group
	for i, g := range groups {
		conn, ok := o.registry.Get(g.Platform)
		if !ok {
			results[i].err = fmt.Errorf("no connector registered for platform %q", g.Platform)
			o.log.Warn("skipping unregistered platform", logger.String("platform", g.Platform))
			continue
		}
		eg.Go(func() error {
			results[i] = connected{conn: conn, err: o.exec.Connect(ctx, conn)}
			return nil
		})
	}
	_ = eg.Wait()

	conns := make(map[string]source.Connector, len(groups))
	var failed []executor.Outcome
	for i, g := range groups {
		if results[i].err != nil {
			for _, src := range g.Sources {
				out := executor.FailedOutcome(g.Platform, []string{src}, results[i].err)
				if o.obs != nil {
					o.observeOutcome(out)
				}
				failed = append(failed, out)
			}
			if results[i].conn != nil {
				// A half-open session may still hold resources.
				_ = o.exec.Disconnect(ctx, results[i].conn)
			}
			continue
		}
		conns[g.Platform] = results[i].conn
	}
	return conns, failed
}

func (o *Orchestrator) disconnectAll(ctx context.Context, conns map[string]source.Connector) {
	// Disconnect must run even when the run context is already done.
	ctx = context.WithoutCancel(ctx)
	var eg errgroup.Group
	for _, conn := range conns {
		eg.Go(func() error {
			_ = o.exec.Disconnect(ctx, conn)
			return nil
		})
	}
	_ = eg.Wait()
}

func (o *Orchestrator) observeOutcome(out executor.Outcome) {
	if ob, ok := o.obs.(executor.Observer); ok {
		ob.ObserveOutcome(out)
	}
}

func (o *Orchestrator) observeDropped(rep normalize.Report) {
	if o.obs == nil {
		return
	}
	for platform, n := range rep.ByPlatform {
		o.obs.ObserveDropped(platform, "invalid", n)
	}
}

func (o *Orchestrator) observeRun(mode, status string, d time.Duration) {
	if o.obs != nil {
		o.obs.ObserveRun(mode, status, d)
	}
}

func (o *Orchestrator) finish(mode string, res *Result) *Result {
	res.Duration = time.Since(res.StartedAt)
	o.observeRun(mode, string(res.Status), res.Duration)
	o.log.Info("aggregation finished",
		logger.String("mode", mode),
		logger.String("status", string(res.Status)),
		logger.Int("posts", len(res.Posts)),
		logger.Int("successful_sources", res.SuccessfulSources),
		logger.Int("failed_sources", res.FailedSources),
		logger.Int("invalid", res.Invalid),
		logger.Int("duplicates", res.Duplicates),
		logger.Duration("duration", res.Duration),
	)
	return res
}

func orderOf(o timeline.Order) timeline.Order {
	if o == "" {
		return timeline.Descending
	}
	return o
}
