package briefing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/insight/internal/logger"
	"github.com/ppiankov/insight/internal/source"
)

// ErrNoTopics is the fallback reason when a response has no usable topics.
var ErrNoTopics = errors.New("collaborator returned no usable topics")

// Options configures a Composer.
type Options struct {
	Policy  DuplicatePolicy
	Timeout time.Duration // bounds the collaborator call; zero means none
}

// Observer receives composed briefing statistics.
type Observer interface {
	ObserveBriefing(topics, unreferenced int, fallback bool)
}

// UsageObserver is implemented by observers that also count tokens.
type UsageObserver interface {
	ObserveUsage(u Usage)
}

// Composer turns a post set into a Briefing with one collaborator call.
type Composer struct {
	collab Collaborator
	opts   Options
	log    logger.Logger
	obs    Observer
}

// NewComposer creates a Composer. collab may be nil, in which case every
// briefing is a fallback.
func NewComposer(collab Collaborator, opts Options, log logger.Logger, obs Observer) *Composer {
	if opts.Policy == "" {
		opts.Policy = FirstWins
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Composer{collab: collab, opts: opts, log: log, obs: obs}
}

// Compose assigns ids 1..N to posts in input order, asks the collaborator
// for topics, and reconciles the answer. It never fails: collaborator
// errors produce a fallback briefing with every post unreferenced.
func (c *Composer) Compose(ctx context.Context, posts []source.Post) *Briefing {
	b := &Briefing{
		Posts:          make(map[int]source.Post, len(posts)),
		Unreferenced:   []int{},
		Reconciliation: Reconciliation{Policy: c.opts.Policy},
	}
	req := Request{Posts: make([]RequestPost, 0, len(posts))}
	for i, p := range posts {
		id := i + 1
		b.Posts[id] = p
		req.Posts = append(req.Posts, RequestPost{
			ID:       id,
			Platform: p.Platform,
			Source:   p.Source,
			URL:      p.URL,
			Title:    p.Title,
			Content:  p.Content,
			Date:     p.Date,
		})
	}
	if len(posts) == 0 {
		return b
	}

	resp, err := c.propose(ctx, req)
	if resp != nil {
		b.Usage = resp.Usage
	}
	if err != nil {
		c.fallback(b, err)
		return c.done(b)
	}

	b.Overview = strings.TrimSpace(resp.Overview)
	b.Topics, b.Unreferenced = reconcile(resp.Topics, len(posts), c.opts.Policy, &b.Reconciliation)
	c.logReconciliation(b.Reconciliation)

	if len(b.Topics) == 0 {
		c.fallback(b, ErrNoTopics)
	}
	return c.done(b)
}

type proposal struct {
	resp *Response
	err  error
}

// propose runs the collaborator in its own goroutine and returns when it
// answers or the deadline passes, whichever is first. The buffered channel
// lets a collaborator that ignores ctx finish and exit on its own.
func (c *Composer) propose(ctx context.Context, req Request) (*Response, error) {
	if c.collab == nil {
		return nil, errors.New("no collaborator configured")
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	done := make(chan proposal, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- proposal{err: fmt.Errorf("collaborator panic: %v", r)}
			}
		}()
		resp, err := c.collab.ProposeTopics(ctx, req)
		done <- proposal{resp: resp, err: err}
	}()

	var p proposal
	select {
	case p = <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("collaborator: %w", ctx.Err())
	}
	if p.err != nil {
		if p.resp != nil {
			return &Response{Usage: p.resp.Usage}, p.err
		}
		return nil, p.err
	}
	if p.resp == nil {
		return nil, errors.New("collaborator returned no response")
	}
	return p.resp, nil
}

func (c *Composer) fallback(b *Briefing, reason error) {
	b.Fallback = true
	b.FallbackReason = reason.Error()
	b.Topics = nil
	b.Unreferenced = make([]int, 0, len(b.Posts))
	for id := range b.Posts {
		b.Unreferenced = append(b.Unreferenced, id)
	}
	sort.Ints(b.Unreferenced)
	c.log.Warn("topic partition fell back to unreferenced posts",
		logger.Int("posts", len(b.Posts)),
		logger.String("reason", b.FallbackReason),
	)
}

func (c *Composer) done(b *Briefing) *Briefing {
	if c.obs != nil {
		c.obs.ObserveBriefing(len(b.Topics), len(b.Unreferenced), b.Fallback)
		if uo, ok := c.obs.(UsageObserver); ok && !b.Usage.IsZero() {
			uo.ObserveUsage(b.Usage)
		}
	}
	c.log.Info("briefing composed",
		logger.Int("posts", len(b.Posts)),
		logger.Int("topics", len(b.Topics)),
		logger.Int("unreferenced", len(b.Unreferenced)),
		logger.Bool("fallback", b.Fallback),
		logger.Int("total_tokens", b.Usage.TotalTokens),
	)
	return b
}

func (c *Composer) logReconciliation(r Reconciliation) {
	for _, d := range r.Duplicates {
		c.log.Warn("dropped duplicate topic reference",
			logger.String("policy", string(r.Policy)),
			logger.String("topic", d.TopicID),
			logger.Int("post_id", d.PostID),
			logger.String("kept_in", d.KeptIn),
		)
	}
	for _, d := range r.Unknown {
		c.log.Warn("dropped unknown post id",
			logger.String("topic", d.TopicID),
			logger.Int("post_id", d.PostID),
		)
	}
	if len(r.EmptyTopics) > 0 {
		c.log.Info("dropped empty topics", logger.Strings("topics", r.EmptyTopics))
	}
}

// reconcile enforces the partition: each known id lands in at most one
// topic, unknown ids are discarded, empty topics are dropped, and ids no
// topic keeps are returned ascending.
func reconcile(proposed []ProposedTopic, n int, policy DuplicatePolicy, rec *Reconciliation) ([]Topic, []int) {
	ids := topicIDs(proposed)

	// owner[id] is the index of the topic that keeps id under policy.
	owner := make(map[int]int, n)
	for ti, t := range proposed {
		for _, id := range t.PostIDs {
			if id < 1 || id > n {
				continue
			}
			if _, taken := owner[id]; !taken || policy == LastWins {
				owner[id] = ti
			}
		}
	}

	var topics []Topic
	for ti, t := range proposed {
		kept := make([]int, 0, len(t.PostIDs))
		inTopic := make(map[int]bool, len(t.PostIDs))
		for _, id := range t.PostIDs {
			switch {
			case id < 1 || id > n:
				rec.Unknown = append(rec.Unknown, DroppedRef{TopicID: ids[ti], PostID: id})
			case owner[id] != ti || inTopic[id]:
				rec.Duplicates = append(rec.Duplicates, DroppedRef{TopicID: ids[ti], PostID: id, KeptIn: ids[owner[id]]})
			default:
				inTopic[id] = true
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			rec.EmptyTopics = append(rec.EmptyTopics, ids[ti])
			continue
		}
		topics = append(topics, Topic{
			ID:      ids[ti],
			Title:   strings.TrimSpace(t.Title),
			Summary: strings.TrimSpace(t.Summary),
			PostIDs: kept,
		})
	}

	unreferenced := make([]int, 0)
	for id := 1; id <= n; id++ {
		if _, ok := owner[id]; !ok {
			unreferenced = append(unreferenced, id)
		}
	}
	return topics, unreferenced
}

// topicIDs returns a unique id per proposed topic, generating one when the
// collaborator left it blank or reused it.
func topicIDs(proposed []ProposedTopic) []string {
	ids := make([]string, len(proposed))
	seen := make(map[string]bool, len(proposed))
	for i, t := range proposed {
		id := strings.TrimSpace(t.ID)
		if id == "" || seen[id] {
			id = uuid.NewString()
		}
		seen[id] = true
		ids[i] = id
	}
	return ids
}
