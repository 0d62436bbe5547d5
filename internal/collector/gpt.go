package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/olexisomar/ai-visibility/internal/db"
)

const (
	gptBaseURL        = "https://api.openai.com/v1"
	gptDefaultModel   = "gpt-4o-mini"
	gptDefaultTimeout = 60 * time.Second

	// Rough blended price per call for the default model
	gptCostPerCall = 0.012
)

// GPTClient collects answers from the OpenAI chat completions API
type GPTClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// GPTOption customises a GPTClient
type GPTOption func(*GPTClient)

// WithGPTModel overrides the default model
func WithGPTModel(model string) GPTOption {
	return func(c *GPTClient) { c.model = model }
}

// WithGPTBaseURL points the client at a different endpoint, used in tests
func WithGPTBaseURL(url string) GPTOption {
	return func(c *GPTClient) { c.baseURL = url }
}

// NewGPTClient creates a GPT provider with the given API key
func NewGPTClient(apiKey string, opts ...GPTOption) *GPTClient {
	c := &GPTClient{
		apiKey:  apiKey,
		model:   gptDefaultModel,
		baseURL: gptBaseURL,
		httpClient: &http.Client{
			Timeout: gptDefaultTimeout,
		},
		// 2 requests/second with small bursts keeps us well inside tier limits
		limiter: rate.NewLimiter(rate.Limit(2), 4),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the source identifier for this provider
func (c *GPTClient) Name() string {
	return db.SourceGPT
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Collect asks the model the prompt as a plain user message and returns the
// first choice
func (c *GPTClient) Collect(ctx context.Context, prompt string) (*ProviderResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gpt: rate limit wait cancelled: %w", err)
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("gpt: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gpt: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gpt: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gpt: failed to read response: %w", err)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("gpt: failed to decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsed.Error != nil {
			return nil, fmt.Errorf("gpt: API error %d (%s): %s", resp.StatusCode, parsed.Error.Type, parsed.Error.Message)
		}
		return nil, fmt.Errorf("gpt: API error %d: %s", resp.StatusCode, string(raw))
	}

	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("gpt: response contained no choices")
	}

	return &ProviderResponse{
		Answer:  parsed.Choices[0].Message.Content,
		CostUSD: gptCostPerCall,
	}, nil
}
