package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/brightline/outreach-engine/internal/config"
)

// BedrockClient implements LLM against AWS Bedrock (Anthropic models).
// Unlike the OpenAI adapter this one carries ThinkingBudget onto the wire.
type BedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
	region  string
	limiter *RateLimiter
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      *float64         `json:"temperature,omitempty"`
	Thinking         *bedrockThinking `json:"thinking,omitempty"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewBedrockClient builds the adapter using the default AWS credential
// chain.
func NewBedrockClient(ctx context.Context, cfg config.LLMConfig, limiter *RateLimiter) (*BedrockClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BedrockRegion))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	c := &BedrockClient{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: cfg.BedrockModel,
		region:  cfg.BedrockRegion,
		limiter: limiter,
	}
	log.Printf("[Bedrock] Initialized model=%s region=%s", c.modelID, c.region)
	return c, nil
}

func (c *BedrockClient) Name() string { return "bedrock" }

func (c *BedrockClient) Validate(ctx context.Context) bool {
	return c.client != nil && c.modelID != ""
}

// Chat invokes the model. System-role messages fold into the request's
// system field; thinking mode requires temperature unset.
func (c *BedrockClient) Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (*ChatResult, error) {
	if err := c.limiter.Reserve(ctx, "llm:bedrock"); err != nil {
		return nil, err
	}

	var system []string
	var turns []bedrockMessage
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, bedrockMessage{
			Role:    m.Role,
			Content: []bedrockContentBlock{{Type: "text", Text: m.Content}},
		})
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	req := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           strings.Join(system, "\n\n"),
		Messages:         turns,
	}
	if opts.ThinkingBudget > 0 {
		req.Thinking = &bedrockThinking{Type: "enabled", BudgetTokens: opts.ThinkingBudget}
		if req.MaxTokens <= opts.ThinkingBudget {
			req.MaxTokens = opts.ThinkingBudget + 4000
		}
	} else {
		t := opts.Temperature
		req.Temperature = &t
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		if strings.Contains(err.Error(), "ThrottlingException") {
			return nil, &RateLimitedError{Provider: "bedrock", RetryAfter: 30 * time.Second}
		}
		return nil, fmt.Errorf("bedrock: invoke model: %w", err)
	}

	var parsed bedrockResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return nil, fmt.Errorf("bedrock: parse response: %w", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &ChatResult{
		Content:      text.String(),
		FinishReason: parsed.StopReason,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, nil
}
