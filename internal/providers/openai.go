package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/brightline/outreach-engine/internal/config"
	"github.com/brightline/outreach-engine/internal/pkg/httpretry"
)

// OpenAIClient implements LLM against the chat completions API.
type OpenAIClient struct {
	apiKey  string
	baseURL string
	model   string
	client  httpretry.HTTPDoer
	limiter *RateLimiter
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIClient builds the adapter. limiter may be nil.
func NewOpenAIClient(cfg config.LLMConfig, limiter *RateLimiter) *OpenAIClient {
	return &OpenAIClient{
		apiKey:  cfg.OpenAIAPIKey,
		baseURL: cfg.OpenAIBaseURL,
		model:   cfg.OpenAIModel,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: 120 * time.Second}, 2),
		limiter: limiter,
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

// Validate reports whether an API key is configured.
func (c *OpenAIClient) Validate(ctx context.Context) bool { return c.apiKey != "" }

// Chat sends the conversation and returns the first choice. ThinkingBudget
// has no wire representation here and is ignored.
func (c *OpenAIClient) Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (*ChatResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("openai: API key not configured")
	}
	if err := c.limiter.Reserve(ctx, "llm:openai"); err != nil {
		return nil, err
	}

	reqBody := openAIRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{Provider: "openai", RetryAfter: retryAfterHeader(resp, time.Minute)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("openai: parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("openai: api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices")
	}

	return &ChatResult{
		Content:      parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func retryAfterHeader(resp *http.Response, fallback time.Duration) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
