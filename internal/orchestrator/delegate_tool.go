package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/kavymi/meepo/internal/toolregistry"
)

const delegateTasksSchema = `{
  "type": "object",
  "properties": {
    "mode": {
      "type": "string",
      "enum": ["parallel", "background"],
      "description": "parallel: blocks until all complete, returns combined results. background: returns immediately, notifies the channel on completion."
    },
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "task_id": {"type": "string", "description": "Short identifier like 'search_events' or 'check_weather'"},
          "prompt": {"type": "string", "description": "Focused instruction for this sub-agent"},
          "context_summary": {"type": "string", "description": "Relevant context from the conversation this sub-agent needs"},
          "tools": {"type": "array", "items": {"type": "string"}, "description": "Tool names this sub-agent can use"}
        },
        "required": ["task_id", "prompt", "tools"]
      },
      "description": "Array of sub-tasks to delegate"
    }
  },
  "required": ["mode", "tasks"]
}`

// DelegateTasksTool returns the delegate_tasks tool, which splits work
// across one-off sub-agents in parallel or background mode. The
// registry slot must be filled (via RegistrySlot.Set) once the full tool
// registry, including this tool itself, has been assembled.
func DelegateTasksTool(orch *Orchestrator, slot *RegistrySlot, channel string) toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "delegate_tasks",
		Description: "Delegate focused sub-tasks to parallel or background sub-agents with scoped toolsets. Use 'parallel' to run several sub-agents at once and wait for all results. Use 'background' to fire off sub-agents and be notified when they finish.",
		InputSchema: []byte(delegateTasksSchema),
		Execute: func(ctx context.Context, input map[string]any) (string, error) {
			registry, err := slot.Get()
			if err != nil {
				return "", err
			}

			modeStr, _ := input["mode"].(string)
			if modeStr == "" {
				return "", fmt.Errorf("delegate_tasks: missing 'mode' parameter")
			}
			mode, err := ParseMode(modeStr)
			if err != nil {
				return "", err
			}

			rawTasks, _ := input["tasks"].([]any)
			if len(rawTasks) == 0 {
				return "", ErrEmptyTasks
			}

			tasks := make([]SubTask, 0, len(rawTasks))
			for i, rt := range rawTasks {
				m, ok := rt.(map[string]any)
				if !ok {
					return "", fmt.Errorf("delegate_tasks: task %d is not an object", i)
				}
				taskID, _ := m["task_id"].(string)
				if taskID == "" {
					return "", fmt.Errorf("delegate_tasks: task %d missing 'task_id'", i)
				}
				prompt, _ := m["prompt"].(string)
				if prompt == "" {
					return "", fmt.Errorf("delegate_tasks: task %d missing 'prompt'", i)
				}
				contextSummary, _ := m["context_summary"].(string)

				var toolNames []string
				if rawTools, ok := m["tools"].([]any); ok {
					for _, rt := range rawTools {
						if s, ok := rt.(string); ok {
							toolNames = append(toolNames, s)
						}
					}
				}

				tasks = append(tasks, SubTask{
					TaskID:         taskID,
					Prompt:         prompt,
					ContextSummary: contextSummary,
					AllowedTools:   SanitizeAllowedTools(toolNames),
				})
			}

			group := TaskGroup{
				GroupID:   NewGroupID(mode),
				Mode:      mode,
				Channel:   channel,
				Tasks:     tasks,
				CreatedAt: time.Now().UTC(),
			}

			switch mode {
			case ModeParallel:
				return orch.RunParallel(ctx, group, registry)
			case ModeBackground:
				return orch.RunBackground(ctx, group, registry)
			default:
				return "", fmt.Errorf("%w: %q", ErrInvalidMode, modeStr)
			}
		},
	}
}
