// Package orchestrator implements the delegate_tasks tool and the
// parallel/background sub-agent execution it drives: a one-off sub-agent
// run per sub-task, with its own filtered tool set and no session
// persistence beyond a transient subagent session.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kavymi/meepo/internal/toolregistry"
)

// Mode selects how a TaskGroup's sub-tasks are run.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeBackground Mode = "background"
)

// ParseMode validates a mode string from a tool call.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeParallel, ModeBackground:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: must be 'parallel' or 'background', got %q", ErrInvalidMode, s)
	}
}

// deniedSubAgentTools are stripped from every sub-task's allowed tools
// regardless of what the model requested, so a spawned sub-agent can
// never recurse into delegate_tasks or spawn a further sub-agent of its
// own via sessions_spawn.
var deniedSubAgentTools = map[string]bool{
	"delegate_tasks": true,
	"sessions_spawn": true,
}

// SubTask is one unit of delegated work.
type SubTask struct {
	TaskID         string
	Prompt         string
	ContextSummary string
	AllowedTools   []string
}

// SanitizeAllowedTools removes delegate_tasks and sessions_spawn from a
// requested tool list, even if a model explicitly asked for them.
func SanitizeAllowedTools(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if deniedSubAgentTools[n] {
			continue
		}
		out = append(out, n)
	}
	return out
}

// TaskGroup is one delegate_tasks invocation: a batch of sub-tasks run
// together under one group ID.
type TaskGroup struct {
	GroupID   string
	Mode      Mode
	Channel   string
	ReplyTo   string
	Tasks     []SubTask
	CreatedAt time.Time
}

// NewGroupID returns a group ID namespaced by mode and a short random
// token, e.g. "parallel-a1b2c3d4".
func NewGroupID(mode Mode) string {
	return fmt.Sprintf("%s-%s", mode, uuid.NewString()[:8])
}

// SubTaskResult is the outcome of running one sub-task. Err is non-nil on
// failure but is still aggregated into the group's combined result
// (fail-soft) rather than aborting the whole group.
type SubTaskResult struct {
	TaskID string
	Output string
	Err    error
}

// Runner executes one sub-task as a one-off sub-agent turn: its own
// middleware-wrapped model loop, with tools restricted to task's
// AllowedTools, no session persistence beyond a transient subagent
// session. Implementations live in internal/agentloop, injected here to
// avoid a circular import (the agent loop depends on the tool registry,
// which contains the delegate_tasks tool that depends on this runner).
type Runner func(ctx context.Context, task SubTask, registry *toolregistry.Registry) (string, error)

// Notifier delivers a background task group's completion summary back
// onto the originating channel.
type Notifier func(ctx context.Context, channel, content string) error

// Orchestrator runs TaskGroups in parallel or background mode.
type Orchestrator struct {
	runner Runner
	notify Notifier
	logger *slog.Logger
}

// New returns an orchestrator driving sub-agent runs via runner and
// background completions via notify.
func New(runner Runner, notify Notifier, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{runner: runner, notify: notify, logger: logger}
}

// RunParallel runs every sub-task concurrently, waits for all to finish,
// and returns one combined text result. A failed sub-task's error is
// folded into the combined result rather than aborting the group.
func (o *Orchestrator) RunParallel(ctx context.Context, group TaskGroup, registry *toolregistry.Registry) (string, error) {
	if len(group.Tasks) == 0 {
		return "", ErrEmptyTasks
	}

	results := make([]SubTaskResult, len(group.Tasks))
	var wg sync.WaitGroup
	for i, task := range group.Tasks {
		wg.Add(1)
		go func(i int, task SubTask) {
			defer wg.Done()
			output, err := o.runner(ctx, task, registry)
			results[i] = SubTaskResult{TaskID: task.TaskID, Output: output, Err: err}
		}(i, task)
	}
	wg.Wait()

	o.logger.Info("orchestrator: parallel group complete", "group_id", group.GroupID, "tasks", len(group.Tasks))
	return formatResults(results), nil
}

// RunBackground spawns the same sub-agent runs as RunParallel but does
// not block: it returns an acknowledgment immediately and, once every
// sub-task completes, calls notify with a summary on group.Channel.
func (o *Orchestrator) RunBackground(ctx context.Context, group TaskGroup, registry *toolregistry.Registry) (string, error) {
	if len(group.Tasks) == 0 {
		return "", ErrEmptyTasks
	}

	go func() {
		bgCtx := context.Background()
		summary, err := o.RunParallel(bgCtx, group, registry)
		if err != nil {
			o.logger.Error("orchestrator: background group failed", "group_id", group.GroupID, "error", err)
			return
		}
		if o.notify == nil {
			return
		}
		content := fmt.Sprintf("Task group %s completed:\n%s", group.GroupID, summary)
		if err := o.notify(bgCtx, group.Channel, content); err != nil {
			o.logger.Error("orchestrator: background notification failed", "group_id", group.GroupID, "error", err)
		}
	}()

	return fmt.Sprintf("Task group %s started in background (%d tasks).", group.GroupID, len(group.Tasks)), nil
}

func formatResults(results []SubTaskResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(r.TaskID)
		b.WriteString("\n")
		if r.Err != nil {
			b.WriteString("error: ")
			b.WriteString(r.Err.Error())
			continue
		}
		b.WriteString(r.Output)
	}
	return b.String()
}
