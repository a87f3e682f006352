// Package modelclient defines the language-model service contract the
// agent loop depends on, plus a concrete Anthropic-backed implementation.
// The interface is small and provider-agnostic so the core agent loop
// stays testable with a stub and swappable to alternate backends.
package modelclient

import (
	"context"
	"encoding/json"
)

// Message is one turn in a conversation sent to the model.
type Message struct {
	Role    string // "user" or "assistant"
	Content []ContentBlock
}

// ContentBlock is one piece of a message: text, a tool-use request, or a
// tool result.
type ContentBlock struct {
	Type string // "text", "tool_use", "tool_result"

	Text string

	// ToolUse fields.
	ToolUseID string
	ToolName  string
	ToolInput map[string]any

	// ToolResult fields.
	ToolResultFor string
	ToolResult    string
	IsError       bool
}

// ToolDefinition describes a callable tool, including its JSON Schema input
// shape, to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Response is what the model returned for one turn.
type Response struct {
	Content    []ContentBlock
	StopReason string // "end_turn", "tool_use", "max_tokens"
}

// Request bundles everything a single model call needs.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// Client is the language-model service contract. Implementations must be
// safe for concurrent use.
type Client interface {
	// Complete sends one request and returns the model's full response.
	Complete(ctx context.Context, req Request) (Response, error)
}
