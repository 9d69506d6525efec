package digest

import (
	"context"
	"errors"
	"time"

	"github.com/ppiankov/insight/internal/aggregate"
	"github.com/ppiankov/insight/internal/briefing"
	"github.com/ppiankov/insight/internal/executor"
	"github.com/ppiankov/insight/internal/source"
)

var now = time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC)

func makePost(platform, src, url, title string, date time.Time) source.Post {
	return source.Post{Platform: platform, Source: src, URL: url, Title: title, Content: title + " body", Date: date}
}

func sampleResult() *aggregate.Result {
	return &aggregate.Result{
		Posts: []source.Post{
			makePost("rss", "lwn", "https://lwn.net/1", "Kernel 6.9 released", now.Add(-2*time.Hour)),
			makePost("hn", "top", "https://news.ycombinator.com/item?id=2", "Show HN: a tiny database", now.Add(-26*time.Hour)),
			makePost("reddit", "golang", "https://reddit.com/r/golang/3", "", time.Time{}),
		},
		SuccessfulSources: 3,
		FailedSources:     1,
		Outcomes: []executor.Outcome{
			{Platform: "rss", Sources: []string{"lwn"}, Status: executor.StatusSuccess},
			executor.FailedOutcome("telegram", []string{"@durov"}, source.ErrAuth),
		},
		Status:    aggregate.StatusOK,
		StartedAt: now,
		Duration:  1500 * time.Millisecond,
	}
}

func sampleBriefing(res *aggregate.Result) *briefing.Briefing {
	collab := briefing.CollaboratorFunc(func(context.Context, briefing.Request) (*briefing.Response, error) {
		return &briefing.Response{
			Overview: "- Kernel news dominates.",
			Topics: []briefing.ProposedTopic{
				{ID: "topic-1", Title: "Linux", Summary: "- 6.9 is out.", PostIDs: []int{1, 1}},
			},
			Usage: briefing.Usage{PromptTokens: 812, ResponseTokens: 96, TotalTokens: 908},
		}, nil
	})
	return briefing.NewComposer(collab, briefing.Options{}, nil, nil).Compose(context.Background(), res.Posts)
}

func fallbackBriefing(res *aggregate.Result) *briefing.Briefing {
	collab := briefing.CollaboratorFunc(func(context.Context, briefing.Request) (*briefing.Response, error) {
		return nil, errors.New("quota exceeded")
	})
	return briefing.NewComposer(collab, briefing.Options{}, nil, nil).Compose(context.Background(), res.Posts)
}
