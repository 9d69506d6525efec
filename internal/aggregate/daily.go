package aggregate

import (
	"context"
	"time"

	"github.com/ppiankov/insight/internal/briefing"
	"github.com/ppiankov/insight/internal/logger"
	"github.com/ppiankov/insight/internal/timeline"
)

// BriefingResult pairs the aggregation run with the briefing composed
// from its posts.
type BriefingResult struct {
	Result   *Result
	Day      time.Time
	Briefing *briefing.Briefing
}

// DailyBriefing aggregates the latest posts, keeps those published on day's
// UTC calendar day, orders them oldest first, and composes a briefing. A
// nil composer yields a fallback briefing with every post unreferenced.
func (o *Orchestrator) DailyBriefing(ctx context.Context, day time.Time, composer *briefing.Composer, opts Options) (*BriefingResult, error) {
	opts.Order = timeline.Ascending
	opts.Since = time.Time{}

	res, err := o.latest(ctx, ModeBriefing, opts)
	if err != nil {
		return nil, err
	}

	start, _ := timeline.DayWindow(day)
	posts := timeline.FilterDay(res.Posts, start, opts.IncludeUndated)
	res.Posts = timeline.Sort(posts, timeline.Ascending)
	if res.Status == StatusOK && len(res.Posts) == 0 {
		res.Status = StatusNoPosts
	}

	if composer == nil {
		composer = briefing.NewComposer(nil, briefing.Options{}, o.log, nil)
	}
	b := composer.Compose(ctx, res.Posts)
	o.finish(ModeBriefing, res)

	o.log.Info("daily briefing ready",
		logger.Time("day", start),
		logger.Int("posts", len(res.Posts)),
		logger.Int("topics", len(b.Topics)),
		logger.Bool("fallback", b.Fallback),
	)
	return &BriefingResult{Result: res, Day: start, Briefing: b}, nil
}
