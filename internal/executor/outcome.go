package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/insight/internal/source"
)

// Status is the terminal state of one fetch attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusEmpty   Status = "empty"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// Kind classifies why a fetch failed.
type Kind string

const (
	KindNetwork   Kind = "network"
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindTimeout   Kind = "timeout"
	KindParse     Kind = "parse"
	KindUnknown   Kind = "unknown"
	KindPanic     Kind = "panic" // connector broke its contract
)

// FetchError is a classified connector failure.
type FetchError struct {
	Kind     Kind
	Platform string
	Source   string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s: %s: %v", e.Platform, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Platform, e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Outcome is the immutable result of one executor-wrapped fetch. Failed
// outcomes never carry posts.
type Outcome struct {
	Platform string
	Sources  []string
	Posts    []source.Post
	Status   Status
	Err      *FetchError
	Duration time.Duration
}

// Succeeded reports whether the fetch completed. Empty results count.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess || o.Status == StatusEmpty
}

// Source returns the source identifier, or a comma-joined list for
// timeframe outcomes.
func (o Outcome) Source() string {
	return strings.Join(o.Sources, ",")
}

// ErrorKind returns the failure kind, or "" for successful outcomes.
func (o Outcome) ErrorKind() Kind {
	if o.Err == nil {
		return ""
	}
	return o.Err.Kind
}

// FailedOutcome builds a failed outcome without running a connector. The
// orchestrator uses it for sources whose platform could not connect.
func FailedOutcome(platform string, sources []string, err error) Outcome {
	var prior *FetchError
	if errors.As(err, &prior) {
		err = prior.Err
	}
	fe := classifyError(platform, strings.Join(sources, ","), err)
	status := StatusError
	if fe.Kind == KindTimeout {
		status = StatusTimeout
	}
	return Outcome{
		Platform: platform,
		Sources:  sources,
		Status:   status,
		Err:      fe,
	}
}
