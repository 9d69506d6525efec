package digest

import (
	"encoding/json"
	"io"
	"time"

	"github.com/ppiankov/insight/internal/aggregate"
	"github.com/ppiankov/insight/internal/briefing"
	"github.com/ppiankov/insight/internal/source"
)

type jsonDigest struct {
	Meta     jsonMeta      `json:"meta"`
	Posts    []jsonPost    `json:"posts,omitempty"`
	Briefing *jsonBriefing `json:"briefing,omitempty"`
	Failed   []jsonFailure `json:"failed_sources"`
}

type jsonMeta struct {
	Status            string  `json:"status"`
	Day               string  `json:"day,omitempty"`
	Window            string  `json:"window,omitempty"`
	StartedAt         string  `json:"started_at,omitempty"`
	DurationSeconds   float64 `json:"duration_seconds"`
	TotalPosts        int     `json:"total_posts"`
	SuccessfulSources int     `json:"successful_sources"`
	FailedSources     int     `json:"failed_sources"`
	Invalid           int     `json:"invalid"`
	Duplicates        int     `json:"duplicates"`
}

type jsonPost struct {
	ID         int            `json:"id,omitempty"`
	Platform   string         `json:"platform"`
	Source     string         `json:"source"`
	URL        string         `json:"url"`
	Title      string         `json:"title,omitempty"`
	Content    string         `json:"content"`
	Date       *string        `json:"date"`
	MediaURLs  []string       `json:"media_urls"`
	Categories []string       `json:"categories"`
	Metadata   map[string]any `json:"metadata"`
}

type jsonBriefing struct {
	Overview          string          `json:"overview,omitempty"`
	Fallback          bool            `json:"fallback"`
	FallbackReason    string          `json:"fallback_reason,omitempty"`
	Topics            []jsonTopic     `json:"topics"`
	UnreferencedIDs   []int           `json:"unreferenced_post_ids"`
	Posts             []jsonPost      `json:"posts"`
	DuplicatePolicy   string          `json:"duplicate_policy"`
	DroppedReferences []jsonDroppedID `json:"dropped_references,omitempty"`
	Usage             *jsonUsage      `json:"usage,omitempty"`
}

type jsonUsage struct {
	PromptTokens   int `json:"prompt_tokens"`
	ResponseTokens int `json:"response_tokens"`
	TotalTokens    int `json:"total_tokens"`
}

type jsonTopic struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	PostIDs []int  `json:"post_ids"`
}

type jsonDroppedID struct {
	TopicID string `json:"topic_id"`
	PostID  int    `json:"post_id"`
	Reason  string `json:"reason"`
	KeptIn  string `json:"kept_in,omitempty"`
}

type jsonFailure struct {
	Platform string `json:"platform"`
	Source   string `json:"source"`
	Status   string `json:"status"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

// JSONFormatter formats a digest as JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes the digest as JSON to w.
func (f *JSONFormatter) Format(w io.Writer, input Input) error {
	res := input.Result
	if res == nil {
		res = &aggregate.Result{}
	}

	out := jsonDigest{
		Meta: jsonMeta{
			Status:            string(res.Status),
			Window:            input.Window,
			DurationSeconds:   res.Duration.Seconds(),
			TotalPosts:        len(res.Posts),
			SuccessfulSources: res.SuccessfulSources,
			FailedSources:     res.FailedSources,
			Invalid:           res.Invalid,
			Duplicates:        res.Duplicates,
		},
		Failed: []jsonFailure{},
	}
	if !res.StartedAt.IsZero() {
		out.Meta.StartedAt = res.StartedAt.UTC().Format(time.RFC3339)
	}
	if !input.Day.IsZero() {
		out.Meta.Day = input.Day.Format("2006-01-02")
	}

	if input.Briefing != nil {
		out.Briefing = toJSONBriefing(input.Briefing)
	} else {
		out.Posts = make([]jsonPost, 0, len(res.Posts))
		for _, p := range res.Posts {
			out.Posts = append(out.Posts, toJSONPost(0, p))
		}
	}

	for _, o := range failures(res) {
		jf := jsonFailure{
			Platform: o.Platform,
			Source:   o.Source(),
			Status:   string(o.Status),
			Kind:     string(o.ErrorKind()),
		}
		if o.Err != nil {
			jf.Error = o.Err.Err.Error()
		}
		out.Failed = append(out.Failed, jf)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func toJSONBriefing(b *briefing.Briefing) *jsonBriefing {
	jb := &jsonBriefing{
		Overview:        b.Overview,
		Fallback:        b.Fallback,
		FallbackReason:  b.FallbackReason,
		Topics:          make([]jsonTopic, 0, len(b.Topics)),
		UnreferencedIDs: b.Unreferenced,
		Posts:           make([]jsonPost, 0, len(b.Posts)),
		DuplicatePolicy: string(b.Reconciliation.Policy),
	}
	if jb.UnreferencedIDs == nil {
		jb.UnreferencedIDs = []int{}
	}
	for _, t := range b.Topics {
		jb.Topics = append(jb.Topics, jsonTopic{ID: t.ID, Title: t.Title, Summary: t.Summary, PostIDs: t.PostIDs})
	}
	for id := 1; id <= len(b.Posts); id++ {
		if p, ok := b.Posts[id]; ok {
			jb.Posts = append(jb.Posts, toJSONPost(id, p))
		}
	}
	for _, d := range b.Reconciliation.Duplicates {
		jb.DroppedReferences = append(jb.DroppedReferences, jsonDroppedID{TopicID: d.TopicID, PostID: d.PostID, Reason: "duplicate", KeptIn: d.KeptIn})
	}
	for _, d := range b.Reconciliation.Unknown {
		jb.DroppedReferences = append(jb.DroppedReferences, jsonDroppedID{TopicID: d.TopicID, PostID: d.PostID, Reason: "unknown"})
	}
	if !b.Usage.IsZero() {
		jb.Usage = &jsonUsage{
			PromptTokens:   b.Usage.PromptTokens,
			ResponseTokens: b.Usage.ResponseTokens,
			TotalTokens:    b.Usage.TotalTokens,
		}
	}
	return jb
}

func toJSONPost(id int, p source.Post) jsonPost {
	jp := jsonPost{
		ID:         id,
		Platform:   p.Platform,
		Source:     p.Source,
		URL:        p.URL,
		Title:      p.Title,
		Content:    p.Content,
		MediaURLs:  p.MediaURLs,
		Categories: p.Categories,
		Metadata:   p.Metadata,
	}
	if p.HasDate() {
		d := p.Date.UTC().Format(time.RFC3339)
		jp.Date = &d
	}
	if jp.MediaURLs == nil {
		jp.MediaURLs = []string{}
	}
	if jp.Categories == nil {
		jp.Categories = []string{}
	}
	if jp.Metadata == nil {
		jp.Metadata = map[string]any{}
	}
	return jp
}
