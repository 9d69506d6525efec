package digest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/insight/internal/aggregate"
	"github.com/ppiankov/insight/internal/briefing"
	"github.com/ppiankov/insight/internal/source"
	"github.com/ppiankov/insight/internal/summarize"
)

// TerminalFormatter formats a digest for terminal output.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Format writes the run header, then either the briefing or the post list,
// then any failed sources.
func (f *TerminalFormatter) Format(w io.Writer, input Input) error {
	res := input.Result
	if res == nil {
		res = &aggregate.Result{}
	}

	fmt.Fprintln(w, f.bold(f.header(input, res)))
	fmt.Fprintln(w)

	switch {
	case input.Briefing != nil:
		f.writeBriefing(w, input, input.Briefing)
	case len(res.Posts) == 0:
		fmt.Fprintln(w, "No posts found.")
		fmt.Fprintln(w)
	default:
		for _, p := range res.Posts {
			f.writePost(w, input.now(), p)
		}
	}

	f.writeFailures(w, res)
	return nil
}

func (f *TerminalFormatter) header(input Input, res *aggregate.Result) string {
	var b strings.Builder
	b.WriteString("insight")
	if !input.Day.IsZero() {
		b.WriteString(" briefing for " + input.Day.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, ": %s posts from %d sources", humanize.Comma(int64(len(res.Posts))), res.SuccessfulSources)
	if input.Window != "" {
		b.WriteString(", since " + input.Window)
	}
	if res.FailedSources > 0 {
		fmt.Fprintf(&b, " (%d failed)", res.FailedSources)
	}
	return b.String()
}

func (f *TerminalFormatter) writeBriefing(w io.Writer, input Input, b *briefing.Briefing) {
	if len(b.Posts) == 0 {
		fmt.Fprintln(w, "No posts found.")
		fmt.Fprintln(w)
		return
	}
	if b.Fallback {
		fmt.Fprintln(w, f.yellow("Topic grouping unavailable: "+b.FallbackReason))
		fmt.Fprintln(w)
	}
	if b.Overview != "" {
		fmt.Fprintln(w, f.bold("--- Overview ---"))
		fmt.Fprintln(w)
		for _, line := range strings.Split(b.Overview, "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
		fmt.Fprintln(w)
	}

	for i, t := range b.Topics {
		fmt.Fprintln(w, f.green(f.bold(fmt.Sprintf("--- %d. %s (%d) ---", i+1, topicTitle(t), len(t.PostIDs)))))
		if t.Summary != "" {
			for _, line := range strings.Split(t.Summary, "\n") {
				fmt.Fprintf(w, "  %s\n", f.dim(strings.TrimSpace(line)))
			}
		}
		fmt.Fprintln(w)
		for _, p := range b.TopicPosts(t) {
			f.writePost(w, input.now(), p)
		}
	}

	if rest := b.UnreferencedPosts(); len(rest) > 0 {
		fmt.Fprintln(w, f.bold(fmt.Sprintf("--- Other posts (%d) ---", len(rest))))
		fmt.Fprintln(w)
		for _, p := range rest {
			f.writePost(w, input.now(), p)
		}
	}
}

func (f *TerminalFormatter) writePost(w io.Writer, now time.Time, p source.Post) {
	age := "undated"
	if p.HasDate() {
		age = humanize.RelTime(p.Date, now, "ago", "from now")
	}
	fmt.Fprintf(w, "  %s %s — %s\n",
		f.dim("["+p.Platform+"]"),
		p.Source,
		summarize.Headline(p),
	)
	fmt.Fprintf(w, "      %s\n", f.dim(age+"  "+p.URL))
}

func (f *TerminalFormatter) writeFailures(w io.Writer, res *aggregate.Result) {
	failed := failures(res)
	if len(failed) == 0 {
		return
	}
	fmt.Fprintln(w, f.yellow(f.bold(fmt.Sprintf("--- Failed sources (%d) ---", res.FailedSources))))
	for _, o := range failed {
		fmt.Fprintf(w, "  %s/%s: %s\n", o.Platform, o.Source(), f.dim(string(o.ErrorKind())))
	}
	fmt.Fprintln(w)
}

func topicTitle(t briefing.Topic) string {
	if t.Title == "" {
		return "Untitled topic"
	}
	return t.Title
}

// ANSI helpers; no-op when color=false.

func (f *TerminalFormatter) bold(s string) string {
	if !f.color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (f *TerminalFormatter) green(s string) string {
	if !f.color {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func (f *TerminalFormatter) yellow(s string) string {
	if !f.color {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

func (f *TerminalFormatter) dim(s string) string {
	if !f.color {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}
