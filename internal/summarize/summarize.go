// Package summarize turns a post set into a topic proposal using a
// text-generation model.
package summarize

import (
	"context"

	"github.com/ppiankov/insight/internal/briefing"
)

// Generation is a model's reply and the tokens the call consumed.
type Generation struct {
	Text  string
	Usage briefing.Usage
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Generation, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (Generation, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (Generation, error) {
	return f(ctx, prompt)
}
