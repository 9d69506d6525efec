package summarize

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/insight/internal/briefing"
	"github.com/ppiankov/insight/internal/logger"
)

// DefaultMaxContentChars caps each post's content in the prompt.
const DefaultMaxContentChars = 1500

// Response markers.
const (
	overviewStart = "===DAILY_BRIEFING_START==="
	overviewEnd   = "===DAILY_BRIEFING_END==="
	topicsStart   = "===TOPICS_START==="
	topicsEnd     = "===TOPICS_END==="
)

// ErrMalformedResponse is returned when the model output has no topics section.
var ErrMalformedResponse = errors.New("malformed topic response")

// TopicCollaborator implements briefing.Collaborator on top of a Generator.
type TopicCollaborator struct {
	gen             Generator
	maxContentChars int
	log             logger.Logger
}

// NewTopicCollaborator creates a collaborator. maxContentChars <= 0 uses
// DefaultMaxContentChars.
func NewTopicCollaborator(gen Generator, maxContentChars int, log logger.Logger) *TopicCollaborator {
	if maxContentChars <= 0 {
		maxContentChars = DefaultMaxContentChars
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &TopicCollaborator{gen: gen, maxContentChars: maxContentChars, log: log}
}

// ProposeTopics prompts the model and parses its marker-delimited answer.
func (c *TopicCollaborator) ProposeTopics(ctx context.Context, req briefing.Request) (*briefing.Response, error) {
	prompt := c.buildPrompt(req)

	start := time.Now()
	gen, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate topics: %w", err)
	}
	c.log.Debug("topic proposal generated",
		logger.Int("posts", len(req.Posts)),
		logger.Int("prompt_chars", len(prompt)),
		logger.Int("response_chars", len(gen.Text)),
		logger.Int("prompt_tokens", gen.Usage.PromptTokens),
		logger.Int("response_tokens", gen.Usage.ResponseTokens),
		logger.Duration("duration", time.Since(start)),
	)

	resp, err := ParseTopics(gen.Text)
	if err != nil {
		return &briefing.Response{Usage: gen.Usage}, err
	}
	resp.Usage = gen.Usage
	return resp, nil
}

func (c *TopicCollaborator) buildPrompt(req briefing.Request) string {
	var b strings.Builder
	b.WriteString(`You are a senior analyst. Group the posts below into topics and write a short briefing.

Rules:
- Reference posts ONLY by their numeric id. Never output URLs.
- A post belongs to at most one topic. Posts that fit no topic may be left out.
- Do not invent ids.

Answer in exactly this format:
`)
	b.WriteString(overviewStart + "\n")
	b.WriteString("A few bullets on the overall situation and what changed today.\n")
	b.WriteString(overviewEnd + "\n\n")
	b.WriteString(topicsStart + "\n")
	b.WriteString("Topic 1: <title>\nID: topic-1\nSummary:\n- What happened and why it matters.\nPosts: 1,2,3\n\n")
	b.WriteString("Topic 2: <title>\nID: topic-2\nSummary:\n- ...\nPosts: 4\n")
	b.WriteString(topicsEnd + "\n\n")
	b.WriteString("POSTS:\n")

	for _, p := range req.Posts {
		fmt.Fprintf(&b, "\n[%d] %s\n", p.ID, oneLine(p.Title))
		fmt.Fprintf(&b, "source: %s/%s", p.Platform, p.Source)
		if !p.Date.IsZero() {
			fmt.Fprintf(&b, " date: %s", p.Date.UTC().Format(time.RFC3339))
		}
		b.WriteString("\n")
		if content := strings.TrimSpace(p.Content); content != "" {
			b.WriteString(truncateRunes(content, c.maxContentChars))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ParseTopics extracts the overview and topics from a model answer. The
// overview section is optional; the topics section is not.
func ParseTopics(text string) (*briefing.Response, error) {
	body, ok := between(text, topicsStart, topicsEnd)
	if !ok {
		return nil, ErrMalformedResponse
	}
	overview, _ := between(text, overviewStart, overviewEnd)

	resp := &briefing.Response{Overview: strings.TrimSpace(overview)}

	var (
		cur       *briefing.ProposedTopic
		summary   []string
		inSummary bool
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Summary = strings.TrimSpace(strings.Join(summary, "\n"))
		resp.Topics = append(resp.Topics, *cur)
		cur, summary, inSummary = nil, nil, false
	}

	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimRight(raw, " \t\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "Topic ") && strings.Contains(trimmed, ":"):
			flush()
			cur = &briefing.ProposedTopic{Title: afterColon(trimmed), PostIDs: []int{}}
		case cur == nil:
			continue
		case strings.HasPrefix(trimmed, "ID:"):
			cur.ID = afterColon(trimmed)
		case strings.HasPrefix(trimmed, "Summary:"):
			inSummary = true
			if s := afterColon(trimmed); s != "" {
				summary = append(summary, s)
			}
		case strings.HasPrefix(trimmed, "Posts:"):
			inSummary = false
			cur.PostIDs = parseIDs(afterColon(trimmed))
		case inSummary:
			summary = append(summary, line)
		}
	}
	flush()
	return resp, nil
}

func between(text, start, end string) (string, bool) {
	i := strings.Index(text, start)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

func afterColon(s string) string {
	_, after, _ := strings.Cut(s, ":")
	return strings.TrimSpace(after)
}

// parseIDs reads a comma-separated id list, skipping anything that is not
// a plain integer.
func parseIDs(s string) []int {
	ids := []int{}
	for _, tok := range strings.Split(s, ",") {
		tok = strings.Trim(strings.TrimSpace(tok), "[]#")
		n, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	return ids
}

func oneLine(s string) string {
	s = collapse(s)
	if s == "" {
		return "(untitled)"
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
