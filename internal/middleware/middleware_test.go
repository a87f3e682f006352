package middleware

import (
	"context"
	"strings"
	"testing"

	"github.com/kavymi/meepo/internal/modelclient"
)

type recordingMiddleware struct {
	Base
	name  string
	calls *[]string
	skip  bool
}

func (m *recordingMiddleware) Name() string { return m.name }

func (m *recordingMiddleware) BeforeTool(_ context.Context, toolName string, input map[string]any, _ Ctx) (map[string]any, bool, error) {
	*m.calls = append(*m.calls, m.name)
	if m.skip {
		return nil, false, nil
	}
	return input, true, nil
}

func (m *recordingMiddleware) AfterTool(_ context.Context, _, result string, _ Ctx) (string, error) {
	return result + "|" + m.name, nil
}

func TestChainRunsInRegistrationOrder(t *testing.T) {
	var calls []string
	chain := NewChain(nil)
	chain.Add(&recordingMiddleware{name: "first", calls: &calls})
	chain.Add(&recordingMiddleware{name: "second", calls: &calls})

	if _, proceed, err := chain.RunBeforeTool(context.Background(), "t", nil, Ctx{}); err != nil || !proceed {
		t.Fatalf("unexpected before_tool result: proceed=%v err=%v", proceed, err)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("expected registration order, got %v", calls)
	}

	result, err := chain.RunAfterTool(context.Background(), "t", "r", Ctx{})
	if err != nil {
		t.Fatalf("after_tool: %v", err)
	}
	if result != "r|first|second" {
		t.Fatalf("expected ordered after_tool composition, got %q", result)
	}
}

func TestBeforeToolShortCircuits(t *testing.T) {
	var calls []string
	chain := NewChain(nil)
	chain.Add(&recordingMiddleware{name: "skipper", calls: &calls, skip: true})
	chain.Add(&recordingMiddleware{name: "never", calls: &calls})

	_, proceed, err := chain.RunBeforeTool(context.Background(), "t", map[string]any{"a": 1}, Ctx{})
	if err != nil {
		t.Fatalf("before_tool: %v", err)
	}
	if proceed {
		t.Fatal("expected skip to short-circuit the chain")
	}
	if len(calls) != 1 || calls[0] != "skipper" {
		t.Fatalf("expected later middlewares not to run, got %v", calls)
	}
}

func TestToolCallLimit(t *testing.T) {
	m := NewToolCallLimitMiddleware(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, proceed, _ := m.BeforeTool(ctx, "t", nil, Ctx{}); !proceed {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	if _, proceed, _ := m.BeforeTool(ctx, "t", nil, Ctx{}); proceed {
		t.Fatal("call over the limit should be skipped")
	}
}

func TestToolOutputTruncation(t *testing.T) {
	m := NewToolOutputTruncationMiddleware(10)

	short, err := m.AfterTool(context.Background(), "t", "tiny", Ctx{})
	if err != nil || short != "tiny" {
		t.Fatalf("short output should pass through, got %q (%v)", short, err)
	}

	long, err := m.AfterTool(context.Background(), "t", strings.Repeat("x", 50), Ctx{})
	if err != nil {
		t.Fatalf("after_tool: %v", err)
	}
	if len(long) >= 50 {
		t.Fatalf("expected truncation, got %d chars", len(long))
	}
	if !strings.HasSuffix(long, "[Output truncated]") {
		t.Fatalf("expected visible truncation marker, got %q", long)
	}
}

func TestEmptyChainPassesThrough(t *testing.T) {
	chain := NewChain(nil)
	msgs := []modelclient.Message{{Role: "user", Content: []modelclient.ContentBlock{{Type: "text", Text: "hi"}}}}

	outMsgs, outTools, err := chain.RunBeforeModel(context.Background(), msgs, nil, Ctx{})
	if err != nil {
		t.Fatalf("before_model: %v", err)
	}
	if len(outMsgs) != 1 || outTools != nil {
		t.Fatalf("expected pass-through, got %d messages", len(outMsgs))
	}

	final, err := chain.RunAfterAgent(context.Background(), "done", Ctx{})
	if err != nil || final != "done" {
		t.Fatalf("expected pass-through response, got %q (%v)", final, err)
	}
}
