// Package executor runs connector calls under bounded deadlines and turns
// every failure, including panics, into a classified Outcome.
package executor

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/ppiankov/insight/internal/logger"
	"github.com/ppiankov/insight/internal/source"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultPerSource  = 10 * time.Second
	defaultMaxTimeout = 5 * time.Minute
)

// Config bounds connector calls.
type Config struct {
	// Timeout is the deadline for single-source fetches and Connect.
	Timeout time.Duration
	// PerSource is added to Timeout for each source in a timeframe fetch.
	PerSource time.Duration
	// MaxTimeout caps the scaled timeframe deadline.
	MaxTimeout time.Duration
	// StrictPanics re-raises recovered connector panics after the outcome is
	// recorded. Tests use it to surface contract violations.
	StrictPanics bool
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.PerSource < 0 {
		c.PerSource = 0
	}
	if c.PerSource == 0 {
		c.PerSource = defaultPerSource
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = defaultMaxTimeout
	}
	if c.MaxTimeout < c.Timeout {
		c.MaxTimeout = c.Timeout
	}
}

// Observer receives every outcome the executor produces.
type Observer interface {
	ObserveOutcome(Outcome)
}

// Executor wraps connector calls. It is safe for concurrent use.
type Executor struct {
	cfg Config
	log logger.Logger
	obs Observer
}

// New creates an executor. log and obs may be nil.
func New(cfg Config, log logger.Logger, obs Observer) *Executor {
	cfg.setDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor{cfg: cfg, log: log, obs: obs}
}

// Config returns the effective configuration after defaults.
func (e *Executor) Config() Config {
	return e.cfg
}

// TimeframeDeadline returns the deadline for a timeframe fetch spanning n
// sources: Timeout + PerSource*n, capped at MaxTimeout.
func (e *Executor) TimeframeDeadline(n int) time.Duration {
	d := e.cfg.Timeout + e.cfg.PerSource*time.Duration(max(n, 0))
	return min(d, e.cfg.MaxTimeout)
}

// Fetch calls conn.FetchPosts for one source under the per-call deadline.
func (e *Executor) Fetch(ctx context.Context, conn source.Connector, src string, limit int) Outcome {
	return e.run(ctx, conn.Platform(), []string{src}, e.cfg.Timeout, func(ctx context.Context) ([]source.Post, error) {
		return conn.FetchPosts(ctx, src, limit)
	})
}

// FetchTimeframe calls conn.FetchPostsByTimeframe under a deadline scaled by
// the number of sources.
func (e *Executor) FetchTimeframe(ctx context.Context, conn source.Connector, sources []string, days int) Outcome {
	return e.run(ctx, conn.Platform(), sources, e.TimeframeDeadline(len(sources)), func(ctx context.Context) ([]source.Post, error) {
		return conn.FetchPostsByTimeframe(ctx, sources, days)
	})
}

// Connect runs conn.Connect under the per-call deadline. The returned error,
// if any, is a *FetchError.
func (e *Executor) Connect(ctx context.Context, conn source.Connector) error {
	platform := conn.Platform()
	_, err := e.call(ctx, e.cfg.Timeout, func(ctx context.Context) ([]source.Post, error) {
		return nil, conn.Connect(ctx)
	})
	if err == nil {
		return nil
	}
	fe := classifyError(platform, "", err)
	e.logFailure(fe, "connect failed")
	return fe
}

// Disconnect runs conn.Disconnect under the per-call deadline. Failures are
// logged and returned; callers are free to ignore them.
func (e *Executor) Disconnect(ctx context.Context, conn source.Connector) error {
	_, err := e.call(ctx, e.cfg.Timeout, func(ctx context.Context) ([]source.Post, error) {
		return nil, conn.Disconnect(ctx)
	})
	if err == nil {
		return nil
	}
	fe := classifyError(conn.Platform(), "", err)
	e.logFailure(fe, "disconnect failed")
	return fe
}

func (e *Executor) run(ctx context.Context, platform string, sources []string, timeout time.Duration, fn func(context.Context) ([]source.Post, error)) Outcome {
	start := time.Now()
	posts, err := e.call(ctx, timeout, fn)

	out := Outcome{
		Platform: platform,
		Sources:  sources,
		Duration: time.Since(start),
	}
	switch {
	case err != nil:
		out.Err = classifyError(platform, out.Source(), err)
		out.Status = StatusError
		if out.Err.Kind == KindTimeout {
			out.Status = StatusTimeout
		}
	case len(posts) == 0:
		out.Status = StatusEmpty
	default:
		out.Status = StatusSuccess
		out.Posts = posts
	}

	e.record(out)

	var pe *panicError
	if e.cfg.StrictPanics && errors.As(err, &pe) {
		panic(pe.value)
	}
	return out
}

type callResult struct {
	posts []source.Post
	err   error
}

// call runs fn in its own goroutine and waits for it or the deadline,
// whichever comes first. The result channel is buffered so a connector that
// ignores cancellation can still finish and exit.
func (e *Executor) call(ctx context.Context, timeout time.Duration, fn func(context.Context) ([]source.Post, error)) ([]source.Post, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: &panicError{value: r, stack: debug.Stack()}}
			}
		}()
		posts, err := fn(ctx)
		done <- callResult{posts: posts, err: err}
	}()

	select {
	case r := <-done:
		return r.posts, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) record(out Outcome) {
	if e.obs != nil {
		e.obs.ObserveOutcome(out)
	}

	if out.Err == nil {
		e.log.Debug("source fetched",
			logger.String("platform", out.Platform),
			logger.String("source", out.Source()),
			logger.String("status", string(out.Status)),
			logger.Int("posts", len(out.Posts)),
			logger.Duration("duration", out.Duration),
		)
		return
	}
	e.logFailure(out.Err, "source fetch failed", logger.Duration("duration", out.Duration))
}

func (e *Executor) logFailure(fe *FetchError, msg string, extra ...logger.Field) {
	fields := append([]logger.Field{
		logger.String("platform", fe.Platform),
		logger.String("source", fe.Source),
		logger.String("kind", string(fe.Kind)),
		logger.Error(fe.Err),
	}, extra...)

	var pe *panicError
	if errors.As(fe.Err, &pe) {
		e.log.Error(msg, append(fields, logger.String("stack", string(pe.stack)))...)
		return
	}
	e.log.Warn(msg, fields...)
}
