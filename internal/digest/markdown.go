package digest

import (
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/insight/internal/aggregate"
	"github.com/ppiankov/insight/internal/briefing"
	"github.com/ppiankov/insight/internal/source"
	"github.com/ppiankov/insight/internal/summarize"
	"github.com/ppiankov/insight/internal/timeline"
)

// MarkdownFormatter formats a digest as Markdown.
type MarkdownFormatter struct{}

// NewMarkdown creates a Markdown formatter.
func NewMarkdown() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

// Format writes the digest as Markdown to w. Plain aggregation runs are
// grouped by day.
func (f *MarkdownFormatter) Format(w io.Writer, input Input) error {
	res := input.Result
	if res == nil {
		res = &aggregate.Result{}
	}

	if input.Day.IsZero() {
		fmt.Fprintf(w, "# insight digest\n\n")
	} else {
		fmt.Fprintf(w, "# insight briefing for %s\n\n", input.Day.Format("2006-01-02"))
	}
	fmt.Fprintf(w, "%d posts from %d sources", len(res.Posts), res.SuccessfulSources)
	if input.Window != "" {
		fmt.Fprintf(w, ", since %s", input.Window)
	}
	fmt.Fprint(w, "\n\n")

	switch {
	case input.Briefing != nil:
		f.writeBriefing(w, input.Briefing)
	case len(res.Posts) == 0:
		fmt.Fprintln(w, "No posts found.")
		fmt.Fprintln(w)
	default:
		for _, day := range timeline.GroupByDay(res.Posts) {
			if day.Date.IsZero() {
				fmt.Fprintf(w, "## Undated (%d)\n\n", len(day.Posts))
			} else {
				fmt.Fprintf(w, "## %s (%d)\n\n", day.Date.Format("2006-01-02"), len(day.Posts))
			}
			for _, p := range day.Posts {
				writeMarkdownPost(w, p)
			}
			fmt.Fprintln(w)
		}
	}

	if failed := failures(res); len(failed) > 0 {
		fmt.Fprintf(w, "## Failed sources (%d)\n\n", res.FailedSources)
		for _, o := range failed {
			fmt.Fprintf(w, "- `%s/%s`: %s\n", o.Platform, o.Source(), o.ErrorKind())
		}
		fmt.Fprintln(w)
	}
	return nil
}

func (f *MarkdownFormatter) writeBriefing(w io.Writer, b *briefing.Briefing) {
	if len(b.Posts) == 0 {
		fmt.Fprintln(w, "No posts found.")
		fmt.Fprintln(w)
		return
	}
	if b.Fallback {
		fmt.Fprintf(w, "> Topic grouping unavailable: %s\n\n", b.FallbackReason)
	}
	if b.Overview != "" {
		fmt.Fprintf(w, "## Overview\n\n%s\n\n", b.Overview)
	}

	for i, t := range b.Topics {
		fmt.Fprintf(w, "## %d. %s\n\n", i+1, topicTitle(t))
		if t.Summary != "" {
			fmt.Fprintf(w, "%s\n\n", t.Summary)
		}
		for _, p := range b.TopicPosts(t) {
			writeMarkdownPost(w, p)
		}
		fmt.Fprintln(w)
	}

	if rest := b.UnreferencedPosts(); len(rest) > 0 {
		fmt.Fprintf(w, "## Other posts (%d)\n\n", len(rest))
		for _, p := range rest {
			writeMarkdownPost(w, p)
		}
		fmt.Fprintln(w)
	}
}

func writeMarkdownPost(w io.Writer, p source.Post) {
	title := strings.ReplaceAll(summarize.Headline(p), "]", "\\]")
	fmt.Fprintf(w, "- [%s](%s) _%s/%s, %s_\n", title, p.URL, p.Platform, p.Source, dateLabel(p.Date))
}
