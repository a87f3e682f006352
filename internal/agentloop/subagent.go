package agentloop

import (
	"context"
	"fmt"

	"github.com/kavymi/meepo/internal/middleware"
	"github.com/kavymi/meepo/internal/modelclient"
	"github.com/kavymi/meepo/internal/orchestrator"
	"github.com/kavymi/meepo/internal/session"
	"github.com/kavymi/meepo/internal/toolregistry"
)

// RunSubAgent implements orchestrator.Runner: one self-contained turn for
// a delegated sub-task, seeded with a transient Subagent-kind session
// that is torn down once the turn completes, and a tool set scoped to
// exactly task.AllowedTools (already stripped of delegate_tasks and
// sessions_spawn by the orchestrator before this runs).
func (l *Loop) RunSubAgent(ctx context.Context, task orchestrator.SubTask, registry *toolregistry.Registry) (string, error) {
	sess, err := l.sessions.CreateSubagent("subagent", "", task.TaskID)
	if err != nil {
		return "", fmt.Errorf("agentloop: create subagent session: %w", err)
	}
	defer func() { _ = l.sessions.Delete(sess.ID) }()

	if err := l.sessions.AppendMessage(sess.ID, "user", task.Prompt, session.SubagentTaskProvenance(sess.ParentSession)); err != nil {
		return "", fmt.Errorf("agentloop: seed subagent session: %w", err)
	}

	systemPrompt := task.Prompt
	if task.ContextSummary != "" {
		systemPrompt = task.Prompt + "\n\nContext:\n" + task.ContextSummary
	}

	allowed := make(map[string]bool, len(task.AllowedTools))
	for _, n := range task.AllowedTools {
		allowed[n] = true
	}

	messages := []modelclient.Message{
		{Role: "user", Content: []modelclient.ContentBlock{{Type: "text", Text: task.Prompt}}},
	}
	mctx := middleware.Ctx{Query: task.Prompt, Channel: "subagent", Sender: task.TaskID}

	finalText, _, err := l.runConversation(ctx, messages, turnOptions{
		model:        l.cfg.Model,
		maxTokens:    l.cfg.MaxTokens,
		maxTurns:     l.cfg.MaxTurns,
		systemPrompt: systemPrompt,
		toolDefs:     registry.Filtered(task.AllowedTools),
		allowedTools: allowed,
		mctx:         mctx,
	})
	if err != nil {
		return "", err
	}
	return finalText, nil
}
