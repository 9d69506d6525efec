// Package digest renders aggregation results and briefings for people and
// for other programs.
package digest

import (
	"fmt"
	"io"
	"time"

	"github.com/ppiankov/insight/internal/aggregate"
	"github.com/ppiankov/insight/internal/briefing"
	"github.com/ppiankov/insight/internal/executor"
)

// Output formats.
const (
	FormatTerminal = "terminal"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// Input is everything a formatter may render. Briefing is nil for plain
// aggregation runs.
type Input struct {
	Result   *aggregate.Result
	Briefing *briefing.Briefing
	Day      time.Time // briefing day; zero for aggregation runs
	Window   string    // human description of the fetch window, e.g. "3d"
	Now      time.Time // reference for relative ages; zero means time.Now
}

func (in Input) now() time.Time {
	if in.Now.IsZero() {
		return time.Now()
	}
	return in.Now
}

// Formatter writes a formatted digest to w.
type Formatter interface {
	Format(w io.Writer, input Input) error
}

// New returns the formatter for format. color only affects the terminal
// formatter.
func New(format string, color bool) (Formatter, error) {
	switch format {
	case "", FormatTerminal:
		return NewTerminal(color), nil
	case FormatJSON:
		return NewJSON(), nil
	case FormatMarkdown:
		return NewMarkdown(), nil
	}
	return nil, fmt.Errorf("unknown format %q (want terminal, json, or markdown)", format)
}

func failures(res *aggregate.Result) []executor.Outcome {
	if res == nil {
		return nil
	}
	return res.Failed()
}

func dateLabel(t time.Time) string {
	if t.IsZero() {
		return "undated"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
