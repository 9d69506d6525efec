package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/ppiankov/insight/internal/briefing"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiGenerator generates text with Google Gemini.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGemini creates a Gemini generator. The API key is required.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiGenerator{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			ResponseMIMEType: "text/plain",
			Temperature:      genai.Ptr[float32](0.1),
		},
	}, nil
}

// Model returns the model name.
func (g *GeminiGenerator) Model() string {
	return g.model
}

// Generate sends prompt as a single user turn and joins the text parts of
// the first candidate.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (Generation, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), g.config)
	if err != nil {
		return Generation{}, fmt.Errorf("gemini generate: %w", err)
	}
	text, err := candidateText(resp)
	if err != nil {
		return Generation{Usage: usageOf(resp)}, err
	}
	return Generation{Text: text, Usage: usageOf(resp)}, nil
}

// usageOf reads the token counts Gemini reports. Thinking tokens are part
// of the total but neither prompt nor response.
func usageOf(resp *genai.GenerateContentResponse) briefing.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return briefing.Usage{}
	}
	md := resp.UsageMetadata
	u := briefing.Usage{
		PromptTokens:   int(md.PromptTokenCount),
		ResponseTokens: int(md.CandidatesTokenCount),
		TotalTokens:    int(md.TotalTokenCount),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.ResponseTokens
	}
	return u
}

func candidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no response from gemini")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("gemini returned no text")
	}
	return b.String(), nil
}
