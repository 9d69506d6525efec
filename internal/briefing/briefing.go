// Package briefing partitions a post set into topics proposed by an external
// text-generation collaborator and reconciles the proposal so that every
// post is accounted for exactly once.
package briefing

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/insight/internal/source"
)

// RequestPost is one post as presented to the collaborator. ID is a small
// integer assigned for a single Compose call.
type RequestPost struct {
	ID       int
	Platform string
	Source   string
	URL      string
	Title    string
	Content  string
	Date     time.Time
}

// Request is the collaborator input.
type Request struct {
	Posts []RequestPost
}

// ProposedTopic is a topic as returned by the collaborator, before
// reconciliation.
type ProposedTopic struct {
	ID      string
	Title   string
	Summary string
	PostIDs []int
}

// Usage is the token count reported for collaborator calls.
type Usage struct {
	PromptTokens   int
	ResponseTokens int
	TotalTokens    int
}

// IsZero reports whether no tokens were reported.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:   u.PromptTokens + o.PromptTokens,
		ResponseTokens: u.ResponseTokens + o.ResponseTokens,
		TotalTokens:    u.TotalTokens + o.TotalTokens,
	}
}

// Response is the collaborator's proposal. A collaborator may return a
// Response alongside an error so the tokens it spent are still counted;
// only Usage is read in that case.
type Response struct {
	Overview string
	Topics   []ProposedTopic
	Usage    Usage
}

// Collaborator proposes a topic partition for a set of posts.
type Collaborator interface {
	ProposeTopics(ctx context.Context, req Request) (*Response, error)
}

// CollaboratorFunc adapts a function to Collaborator.
type CollaboratorFunc func(ctx context.Context, req Request) (*Response, error)

func (f CollaboratorFunc) ProposeTopics(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// DuplicatePolicy decides which topic keeps a post referenced by several.
type DuplicatePolicy string

const (
	// FirstWins keeps the post in the first topic, in response order.
	FirstWins DuplicatePolicy = "first_wins"
	// LastWins keeps the post in the last topic that references it.
	LastWins DuplicatePolicy = "last_wins"
)

// ParseDuplicatePolicy parses a policy name. Empty means FirstWins.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", FirstWins:
		return FirstWins, nil
	case LastWins:
		return LastWins, nil
	}
	return "", fmt.Errorf("unknown duplicate policy %q (want first_wins or last_wins)", s)
}

// Topic is a reconciled topic. PostIDs are non-empty, unique across the
// briefing, and keep the collaborator's order.
type Topic struct {
	ID      string
	Title   string
	Summary string
	PostIDs []int
}

// DroppedRef is a topic reference removed during reconciliation.
type DroppedRef struct {
	TopicID string
	PostID  int
	KeptIn  string // owning topic for duplicates, empty for unknown ids
}

// Reconciliation reports every change made to the collaborator's proposal.
type Reconciliation struct {
	Policy      DuplicatePolicy
	Duplicates  []DroppedRef
	Unknown     []DroppedRef
	EmptyTopics []string
}

// Clean reports whether the proposal was accepted unchanged.
func (r Reconciliation) Clean() bool {
	return len(r.Duplicates) == 0 && len(r.Unknown) == 0 && len(r.EmptyTopics) == 0
}

// Briefing is the composed result. Every id in Posts appears in exactly one
// topic or in Unreferenced.
type Briefing struct {
	Topics         []Topic
	Posts          map[int]source.Post
	Unreferenced   []int
	Overview       string
	Fallback       bool
	FallbackReason string
	Reconciliation Reconciliation
	Usage          Usage // tokens spent by the collaborator, zero if unreported
}

// TopicPosts returns the posts of t in topic order.
func (b *Briefing) TopicPosts(t Topic) []source.Post {
	return b.lookup(t.PostIDs)
}

// UnreferencedPosts returns posts no topic claimed, in id order.
func (b *Briefing) UnreferencedPosts() []source.Post {
	return b.lookup(b.Unreferenced)
}

func (b *Briefing) lookup(ids []int) []source.Post {
	out := make([]source.Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := b.Posts[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
