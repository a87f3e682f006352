package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/kavymi/meepo/internal/retry"
)

// bedrockAnthropicVersion is the Messages-API wire version Bedrock
// expects for Anthropic models invoked through InvokeModel.
const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockConfig configures a BedrockClient. It reuses the standard AWS
// credential chain (env vars, shared config, IAM role) unless Region is
// set to override the resolved default.
type BedrockConfig struct {
	Region       string
	DefaultModel string // e.g. "anthropic.claude-3-5-sonnet-20241022-v2:0"
	MaxRetries   int
	RetryDelay   time.Duration
}

// BedrockClient implements Client against a Bedrock-hosted Claude model,
// demonstrating that modelclient.Client is swappable across backends
// without the agent loop knowing which one it's talking to.
type BedrockClient struct {
	runtime      *bedrockruntime.Client
	defaultModel string
	retryConfig  retry.Config
}

// NewBedrockClient builds a Client backed by aws-sdk-go-v2's bedrockruntime.
func NewBedrockClient(ctx context.Context, cfg BedrockConfig) (*BedrockClient, error) {
	if cfg.DefaultModel == "" {
		return nil, errors.New("modelclient: bedrock default model is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("modelclient: load AWS config: %w", err)
	}

	return &BedrockClient{
		runtime:      bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		retryConfig: retry.Config{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     30 * time.Second,
			Factor:       2.0,
			Jitter:       true,
		},
	}, nil
}

type bedrockMessage struct {
	Role    string           `json:"role"`
	Content []bedrockContent `json:"content"`
}

type bedrockContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type bedrockTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Tools            []bedrockTool    `json:"tools,omitempty"`
}

type bedrockResponse struct {
	Content    []bedrockContent `json:"content"`
	StopReason string           `json:"stop_reason"`
}

func toBedrockMessages(messages []Message) []bedrockMessage {
	out := make([]bedrockMessage, 0, len(messages))
	for _, m := range messages {
		content := make([]bedrockContent, 0, len(m.Content))
		for _, c := range m.Content {
			switch c.Type {
			case "text":
				content = append(content, bedrockContent{Type: "text", Text: c.Text})
			case "tool_use":
				content = append(content, bedrockContent{Type: "tool_use", ID: c.ToolUseID, Name: c.ToolName, Input: c.ToolInput})
			case "tool_result":
				content = append(content, bedrockContent{Type: "tool_result", ToolUseID: c.ToolResultFor, Content: c.ToolResult, IsError: c.IsError})
			}
		}
		out = append(out, bedrockMessage{Role: m.Role, Content: content})
	}
	return out
}

func toBedrockTools(tools []ToolDefinition) []bedrockTool {
	out := make([]bedrockTool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.InputSchema, &schema)
		out = append(out, bedrockTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

func fromBedrockResponse(resp bedrockResponse) Response {
	out := Response{StopReason: resp.StopReason}
	for _, c := range resp.Content {
		switch c.Type {
		case "text":
			out.Content = append(out.Content, ContentBlock{Type: "text", Text: c.Text})
		case "tool_use":
			out.Content = append(out.Content, ContentBlock{Type: "tool_use", ToolUseID: c.ID, ToolName: c.Name, ToolInput: c.Input})
		}
	}
	return out
}

// Complete implements Client.
func (c *BedrockClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	payload := bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        maxTokens,
		System:           req.System,
		Messages:         toBedrockMessages(req.Messages),
		Tools:            toBedrockTools(req.Tools),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("modelclient: marshal bedrock request: %w", err)
	}

	value, result := retry.DoWithValue(ctx, c.retryConfig, func() (bedrockResponse, error) {
		out, err := c.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return bedrockResponse{}, fmt.Errorf("bedrock: %w", err)
		}
		var parsed bedrockResponse
		if err := json.Unmarshal(out.Body, &parsed); err != nil {
			return bedrockResponse{}, fmt.Errorf("bedrock: parse response: %w", err)
		}
		return parsed, nil
	})
	if result.Err != nil {
		return Response{}, result.Err
	}
	return fromBedrockResponse(value), nil
}
