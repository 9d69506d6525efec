package digest

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestJSON_PostList(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSON().Format(&buf, Input{Result: sampleResult(), Window: "1d"}); err != nil {
		t.Fatalf("format: %v", err)
	}

	var out jsonDigest
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, buf.String())
	}

	if out.Meta.Status != "ok" || out.Meta.TotalPosts != 3 || out.Meta.FailedSources != 1 {
		t.Errorf("meta = %+v", out.Meta)
	}
	if out.Meta.DurationSeconds != 1.5 {
		t.Errorf("duration = %v", out.Meta.DurationSeconds)
	}
	if len(out.Posts) != 3 {
		t.Fatalf("posts = %d", len(out.Posts))
	}
	if out.Posts[0].Date == nil || *out.Posts[0].Date != "2025-01-15T16:00:00Z" {
		t.Errorf("date = %v", out.Posts[0].Date)
	}
	if out.Posts[2].Date != nil {
		t.Errorf("undated post date = %v, want null", *out.Posts[2].Date)
	}
	if out.Posts[0].Categories == nil || out.Posts[0].Metadata == nil {
		t.Error("collections must be present, not null")
	}
	if out.Briefing != nil {
		t.Error("briefing must be omitted for aggregation runs")
	}
	if len(out.Failed) != 1 || out.Failed[0].Kind != "auth" || out.Failed[0].Source != "@durov" {
		t.Errorf("failed = %+v", out.Failed)
	}
}

func TestJSON_Briefing(t *testing.T) {
	res := sampleResult()
	var buf bytes.Buffer
	if err := NewJSON().Format(&buf, Input{Result: res, Briefing: sampleBriefing(res), Day: now}); err != nil {
		t.Fatalf("format: %v", err)
	}

	var out jsonDigest
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if out.Meta.Day != "2025-01-15" {
		t.Errorf("day = %q", out.Meta.Day)
	}
	b := out.Briefing
	if b == nil {
		t.Fatal("missing briefing")
	}
	if len(b.Topics) != 1 || b.Topics[0].ID != "topic-1" || len(b.Topics[0].PostIDs) != 1 {
		t.Errorf("topics = %+v", b.Topics)
	}
	if len(b.UnreferencedIDs) != 2 || b.UnreferencedIDs[0] != 2 || b.UnreferencedIDs[1] != 3 {
		t.Errorf("unreferenced = %v", b.UnreferencedIDs)
	}
	if len(b.Posts) != 3 || b.Posts[0].ID != 1 {
		t.Errorf("posts = %+v", b.Posts)
	}
	if b.DuplicatePolicy != "first_wins" {
		t.Errorf("policy = %q", b.DuplicatePolicy)
	}
	if len(b.DroppedReferences) != 1 || b.DroppedReferences[0].Reason != "duplicate" {
		t.Errorf("dropped = %+v", b.DroppedReferences)
	}
	if len(out.Posts) != 0 {
		t.Error("top-level posts must be omitted when a briefing is present")
	}
	if b.Usage == nil || b.Usage.PromptTokens != 812 || b.Usage.ResponseTokens != 96 || b.Usage.TotalTokens != 908 {
		t.Errorf("usage = %+v", b.Usage)
	}
}

func TestJSON_BriefingWithoutUsage(t *testing.T) {
	res := sampleResult()
	var buf bytes.Buffer
	if err := NewJSON().Format(&buf, Input{Result: res, Briefing: fallbackBriefing(res), Day: now}); err != nil {
		t.Fatalf("format: %v", err)
	}
	if bytes.Contains(buf.Bytes(), []byte(`"usage"`)) {
		t.Errorf("usage must be omitted when no tokens were reported:\n%s", buf.String())
	}
}

func TestJSON_EmptyResult(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSON().Format(&buf, Input{}); err != nil {
		t.Fatalf("format: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if failed, ok := out["failed_sources"].([]any); !ok || len(failed) != 0 {
		t.Errorf("failed_sources = %v, want []", out["failed_sources"])
	}
}
