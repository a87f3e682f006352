package agentloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/kavymi/meepo/internal/middleware"
	"github.com/kavymi/meepo/internal/modelclient"
)

// turnOptions configures one middleware-wrapped conversation, shared by
// the main per-message pipeline and sub-agent runs dispatched by the
// task orchestrator.
type turnOptions struct {
	model        string
	maxTokens    int
	maxTurns     int
	systemPrompt string
	toolDefs     []modelclient.ToolDefinition

	// allowedTools restricts which tool names may actually be executed,
	// independent of which ones are visible to the model via toolDefs.
	// nil means unrestricted.
	allowedTools map[string]bool

	mctx middleware.Ctx
}

// runConversation drives the model/tool loop: before_model, a model call,
// after_model, then either a terminal text response (after_agent runs and
// the loop returns) or a round of tool calls whose results are appended
// before looping again. It stops after maxTurns rounds even if the model
// keeps requesting tools.
func (l *Loop) runConversation(ctx context.Context, messages []modelclient.Message, opts turnOptions) (string, []modelclient.Message, error) {
	maxTurns := opts.maxTurns
	if maxTurns <= 0 {
		maxTurns = 8
	}
	cur := messages

	for turn := 0; turn < maxTurns; turn++ {
		msgsForModel, toolsForModel, err := l.chain.RunBeforeModel(ctx, cur, opts.toolDefs, opts.mctx)
		if err != nil {
			return "", cur, fmt.Errorf("agentloop: before_model: %w", err)
		}

		resp, err := l.client.Complete(ctx, modelclient.Request{
			Model:     opts.model,
			System:    opts.systemPrompt,
			Messages:  msgsForModel,
			Tools:     toolsForModel,
			MaxTokens: opts.maxTokens,
		})
		if err != nil {
			return "", cur, fmt.Errorf("agentloop: model call: %w", err)
		}

		blocks, err := l.chain.RunAfterModel(ctx, resp.Content, opts.mctx)
		if err != nil {
			return "", cur, fmt.Errorf("agentloop: after_model: %w", err)
		}
		cur = append(cur, modelclient.Message{Role: "assistant", Content: blocks})

		toolUses := toolUseBlocks(blocks)
		if len(toolUses) == 0 {
			finalText, err := l.chain.RunAfterAgent(ctx, textOf(blocks), opts.mctx)
			if err != nil {
				return "", cur, fmt.Errorf("agentloop: after_agent: %w", err)
			}
			return finalText, cur, nil
		}

		resultBlocks := make([]modelclient.ContentBlock, 0, len(toolUses))
		for _, use := range toolUses {
			resultBlocks = append(resultBlocks, l.executeTool(ctx, use, opts))
		}
		cur = append(cur, modelclient.Message{Role: "user", Content: resultBlocks})
	}

	return "I ran out of turns before finishing this request.", cur, nil
}

// executeTool runs one tool_use block through before_tool, the registry
// (subject to opts.allowedTools), and after_tool, folding any failure
// into the tool_result text rather than aborting the conversation.
func (l *Loop) executeTool(ctx context.Context, use modelclient.ContentBlock, opts turnOptions) modelclient.ContentBlock {
	input, proceed, err := l.chain.RunBeforeTool(ctx, use.ToolName, use.ToolInput, opts.mctx)

	var result string
	var isErr bool
	switch {
	case err != nil:
		result, isErr = fmt.Sprintf("error: %v", err), true
	case !proceed:
		result = "skipped by middleware"
	case opts.allowedTools != nil && !opts.allowedTools[use.ToolName]:
		result, isErr = fmt.Sprintf("error: tool %q is not permitted for this task", use.ToolName), true
	default:
		out, toolErr := l.tools.Execute(ctx, use.ToolName, input)
		if toolErr != nil {
			result, isErr = fmt.Sprintf("error: %v", toolErr), true
		} else {
			result = out
		}
	}

	if after, afterErr := l.chain.RunAfterTool(ctx, use.ToolName, result, opts.mctx); afterErr != nil {
		result, isErr = fmt.Sprintf("error: %v", afterErr), true
	} else {
		result = after
	}

	return modelclient.ContentBlock{
		Type:          "tool_result",
		ToolResultFor: use.ToolUseID,
		ToolResult:    result,
		IsError:       isErr,
	}
}

func toolUseBlocks(blocks []modelclient.ContentBlock) []modelclient.ContentBlock {
	var out []modelclient.ContentBlock
	for _, b := range blocks {
		if b.Type == "tool_use" {
			out = append(out, b)
		}
	}
	return out
}

func textOf(blocks []modelclient.ContentBlock) string {
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}
