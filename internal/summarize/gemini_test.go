package summarize

import (
	"context"
	"testing"

	"google.golang.org/genai"

	"github.com/ppiankov/insight/internal/briefing"
)

func TestNewGemini_RequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), "", ""); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestCandidateText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "===TOPICS_START===\n"},
				nil,
				{Text: "===TOPICS_END==="},
			}},
		}},
	}
	got, err := candidateText(resp)
	if err != nil {
		t.Fatalf("candidateText: %v", err)
	}
	if got != "===TOPICS_START===\n===TOPICS_END===" {
		t.Errorf("text = %q", got)
	}

	for _, bad := range []*genai.GenerateContentResponse{
		nil,
		{},
		{Candidates: []*genai.Candidate{{}}},
		{Candidates: []*genai.Candidate{{Content: &genai.Content{}}}},
	} {
		if _, err := candidateText(bad); err == nil {
			t.Errorf("candidateText(%+v) = nil error", bad)
		}
	}
}

func TestUsageOf(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     2048,
			CandidatesTokenCount: 512,
			TotalTokenCount:      2700,
		},
	}
	want := briefing.Usage{PromptTokens: 2048, ResponseTokens: 512, TotalTokens: 2700}
	if got := usageOf(resp); got != want {
		t.Errorf("usageOf = %+v, want %+v", got, want)
	}

	resp.UsageMetadata.TotalTokenCount = 0
	if got := usageOf(resp); got.TotalTokens != 2560 {
		t.Errorf("total = %d, want prompt + response 2560", got.TotalTokens)
	}

	if got := usageOf(&genai.GenerateContentResponse{}); !got.IsZero() {
		t.Errorf("usageOf without metadata = %+v, want zero", got)
	}
	if got := usageOf(nil); !got.IsZero() {
		t.Errorf("usageOf(nil) = %+v, want zero", got)
	}
}
