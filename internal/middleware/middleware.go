// Package middleware implements the agent loop's composable pre/post
// processing hooks around model calls and tool calls.
package middleware

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/kavymi/meepo/internal/modelclient"
)

// Ctx is passed through every hook in a chain invocation.
type Ctx struct {
	Query    string
	Channel  string
	Sender   string
	Metadata map[string]any
}

// Middleware hooks into the agent loop. Embed Base to get no-op defaults for
// hooks you don't need to implement.
type Middleware interface {
	Name() string
	BeforeModel(ctx context.Context, messages []modelclient.Message, tools []modelclient.ToolDefinition, mctx Ctx) ([]modelclient.Message, []modelclient.ToolDefinition, error)
	AfterModel(ctx context.Context, blocks []modelclient.ContentBlock, mctx Ctx) ([]modelclient.ContentBlock, error)
	// BeforeTool returns (input, proceed, error). proceed=false skips the tool call.
	BeforeTool(ctx context.Context, toolName string, input map[string]any, mctx Ctx) (map[string]any, bool, error)
	AfterTool(ctx context.Context, toolName, result string, mctx Ctx) (string, error)
	AfterAgent(ctx context.Context, response string, mctx Ctx) (string, error)
}

// Base provides no-op implementations for every hook; embed it so concrete
// middlewares only override what they need.
type Base struct{}

func (Base) BeforeModel(_ context.Context, messages []modelclient.Message, tools []modelclient.ToolDefinition, _ Ctx) ([]modelclient.Message, []modelclient.ToolDefinition, error) {
	return messages, tools, nil
}

func (Base) AfterModel(_ context.Context, blocks []modelclient.ContentBlock, _ Ctx) ([]modelclient.ContentBlock, error) {
	return blocks, nil
}

func (Base) BeforeTool(_ context.Context, _ string, input map[string]any, _ Ctx) (map[string]any, bool, error) {
	return input, true, nil
}

func (Base) AfterTool(_ context.Context, _, result string, _ Ctx) (string, error) {
	return result, nil
}

func (Base) AfterAgent(_ context.Context, response string, _ Ctx) (string, error) {
	return response, nil
}

// Chain runs a sequence of middlewares in registration order.
type Chain struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// NewChain returns an empty chain.
func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{logger: logger}
}

// Add appends a middleware to the chain.
func (c *Chain) Add(m Middleware) {
	c.logger.Debug("middleware: adding", "name", m.Name())
	c.middlewares = append(c.middlewares, m)
}

func (c *Chain) Len() int      { return len(c.middlewares) }
func (c *Chain) IsEmpty() bool { return len(c.middlewares) == 0 }

// RunBeforeModel runs every before_model hook in order.
func (c *Chain) RunBeforeModel(ctx context.Context, messages []modelclient.Message, tools []modelclient.ToolDefinition, mctx Ctx) ([]modelclient.Message, []modelclient.ToolDefinition, error) {
	var err error
	for _, mw := range c.middlewares {
		messages, tools, err = mw.BeforeModel(ctx, messages, tools, mctx)
		if err != nil {
			return nil, nil, err
		}
	}
	return messages, tools, nil
}

// RunAfterModel runs every after_model hook in order.
func (c *Chain) RunAfterModel(ctx context.Context, blocks []modelclient.ContentBlock, mctx Ctx) ([]modelclient.ContentBlock, error) {
	var err error
	for _, mw := range c.middlewares {
		blocks, err = mw.AfterModel(ctx, blocks, mctx)
		if err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

// RunBeforeTool runs every before_tool hook in order. If any middleware asks
// to skip, the tool call is short-circuited and proceed is false.
func (c *Chain) RunBeforeTool(ctx context.Context, toolName string, input map[string]any, mctx Ctx) (map[string]any, bool, error) {
	for _, mw := range c.middlewares {
		modified, proceed, err := mw.BeforeTool(ctx, toolName, input, mctx)
		if err != nil {
			return nil, false, err
		}
		if !proceed {
			return nil, false, nil
		}
		input = modified
	}
	return input, true, nil
}

// RunAfterTool runs every after_tool hook in order.
func (c *Chain) RunAfterTool(ctx context.Context, toolName, result string, mctx Ctx) (string, error) {
	var err error
	for _, mw := range c.middlewares {
		result, err = mw.AfterTool(ctx, toolName, result, mctx)
		if err != nil {
			return "", err
		}
	}
	return result, nil
}

// RunAfterAgent runs every after_agent hook in order.
func (c *Chain) RunAfterAgent(ctx context.Context, response string, mctx Ctx) (string, error) {
	var err error
	for _, mw := range c.middlewares {
		response, err = mw.AfterAgent(ctx, response, mctx)
		if err != nil {
			return "", err
		}
	}
	return response, nil
}

// LoggingMiddleware logs every model and tool call for debugging.
type LoggingMiddleware struct {
	Base
	logger *slog.Logger
}

func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Name() string { return "logging" }

func (m *LoggingMiddleware) BeforeModel(_ context.Context, messages []modelclient.Message, tools []modelclient.ToolDefinition, mctx Ctx) ([]modelclient.Message, []modelclient.ToolDefinition, error) {
	preview := mctx.Query
	if len(preview) > 50 {
		preview = preview[:50]
	}
	m.logger.Debug("middleware: before_model", "messages", len(messages), "tools", len(tools), "query", preview)
	return messages, tools, nil
}

func (m *LoggingMiddleware) BeforeTool(_ context.Context, toolName string, input map[string]any, _ Ctx) (map[string]any, bool, error) {
	m.logger.Debug("middleware: before_tool", "tool", toolName)
	return input, true, nil
}

func (m *LoggingMiddleware) AfterTool(_ context.Context, toolName, result string, _ Ctx) (string, error) {
	m.logger.Debug("middleware: after_tool", "tool", toolName, "chars", len(result))
	return result, nil
}

func (m *LoggingMiddleware) AfterAgent(_ context.Context, response string, _ Ctx) (string, error) {
	m.logger.Debug("middleware: after_agent", "chars", len(response))
	return response, nil
}

// ToolCallLimitMiddleware enforces a maximum number of tool calls per
// agent-loop invocation.
type ToolCallLimitMiddleware struct {
	Base
	maxCalls  int
	callCount atomic.Int64
}

func NewToolCallLimitMiddleware(maxCalls int) *ToolCallLimitMiddleware {
	return &ToolCallLimitMiddleware{maxCalls: maxCalls}
}

func (m *ToolCallLimitMiddleware) Name() string { return "tool_call_limit" }

func (m *ToolCallLimitMiddleware) BeforeTool(_ context.Context, _ string, input map[string]any, _ Ctx) (map[string]any, bool, error) {
	count := m.callCount.Add(1) - 1
	if count >= int64(m.maxCalls) {
		return nil, false, nil
	}
	return input, true, nil
}

// ToolOutputTruncationMiddleware truncates oversized tool outputs.
type ToolOutputTruncationMiddleware struct {
	Base
	MaxChars int
}

func NewToolOutputTruncationMiddleware(maxChars int) *ToolOutputTruncationMiddleware {
	return &ToolOutputTruncationMiddleware{MaxChars: maxChars}
}

func (m *ToolOutputTruncationMiddleware) Name() string { return "tool_output_truncation" }

func (m *ToolOutputTruncationMiddleware) AfterTool(_ context.Context, _, result string, _ Ctx) (string, error) {
	if len(result) > m.MaxChars {
		return result[:m.MaxChars] + "\n[Output truncated]", nil
	}
	return result, nil
}
