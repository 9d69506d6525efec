package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ppiankov/insight/internal/briefing"
	"github.com/ppiankov/insight/internal/source"
)

const (
	defaultEndpoint  = "https://api.openai.com/v1/chat/completions"
	defaultMaxTokens = 4096
	httpTimeout      = 120 * time.Second
	systemPrompt     = "You organize news posts into topics. Follow the requested output format exactly."
)

// OpenAIGenerator calls an OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	apiKey    string
	model     string
	maxTokens int
	endpoint  string
	client    *http.Client
}

// NewOpenAI creates a generator. An empty endpoint uses the OpenAI API.
func NewOpenAI(apiKey, model string, maxTokens int, endpoint string) *OpenAIGenerator {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAIGenerator{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		endpoint:  endpoint,
		client:    &http.Client{Timeout: httpTimeout},
	}
}

// Generate sends prompt as the user message and returns the first choice
// with the token usage the endpoint reported.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (Generation, error) {
	reqBody := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   g.maxTokens,
		Temperature: 0.1,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Generation{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return Generation{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return Generation{}, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Generation{}, &source.StatusError{Code: resp.StatusCode, URL: g.endpoint}
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return Generation{}, fmt.Errorf("decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return Generation{}, fmt.Errorf("empty choices in response")
	}
	return Generation{
		Text:  chatResp.Choices[0].Message.Content,
		Usage: chatResp.Usage.toUsage(),
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u chatUsage) toUsage() briefing.Usage {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return briefing.Usage{
		PromptTokens:   u.PromptTokens,
		ResponseTokens: u.CompletionTokens,
		TotalTokens:    total,
	}
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}
