package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kavymi/meepo/internal/toolregistry"
)

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("parallel"); err != nil || m != ModeParallel {
		t.Fatalf("ParseMode(parallel) = %v, %v", m, err)
	}
	if m, err := ParseMode("background"); err != nil || m != ModeBackground {
		t.Fatalf("ParseMode(background) = %v, %v", m, err)
	}
	if _, err := ParseMode("invalid"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestSanitizeAllowedToolsStripsDeniedTools(t *testing.T) {
	got := SanitizeAllowedTools([]string{"read_file", "delegate_tasks", "browse_url", "sessions_spawn"})
	want := []string{"read_file", "browse_url"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNewGroupIDNamespacedByMode(t *testing.T) {
	id := NewGroupID(ModeParallel)
	if len(id) <= len("parallel-") {
		t.Fatalf("unexpected group id %q", id)
	}
	if id[:len("parallel-")] != "parallel-" {
		t.Fatalf("expected group id namespaced by mode, got %q", id)
	}
}

func TestRunParallelFailSoft(t *testing.T) {
	runner := func(_ context.Context, task SubTask, _ *toolregistry.Registry) (string, error) {
		if task.TaskID == "bad" {
			return "", errors.New("boom")
		}
		return "ok: " + task.Prompt, nil
	}
	orch := New(runner, nil, nil)

	group := TaskGroup{
		GroupID: "parallel-test",
		Mode:    ModeParallel,
		Tasks: []SubTask{
			{TaskID: "good", Prompt: "do thing"},
			{TaskID: "bad", Prompt: "do bad thing"},
		},
	}

	result, err := orch.RunParallel(context.Background(), group, nil)
	if err != nil {
		t.Fatalf("RunParallel: %v", err)
	}
	if !strings.Contains(result, "ok: do thing") || !strings.Contains(result, "error: boom") {
		t.Fatalf("expected both success and failure folded into result, got %q", result)
	}
}

func TestRunParallelRejectsEmptyTasks(t *testing.T) {
	orch := New(func(context.Context, SubTask, *toolregistry.Registry) (string, error) { return "", nil }, nil, nil)
	if _, err := orch.RunParallel(context.Background(), TaskGroup{}, nil); !errors.Is(err, ErrEmptyTasks) {
		t.Fatalf("expected ErrEmptyTasks, got %v", err)
	}
}

func TestRunBackgroundReturnsImmediatelyAndNotifiesOnCompletion(t *testing.T) {
	notified := make(chan string, 1)
	runner := func(_ context.Context, task SubTask, _ *toolregistry.Registry) (string, error) {
		return "done: " + task.TaskID, nil
	}
	notify := func(_ context.Context, channel, content string) error {
		notified <- content
		return nil
	}
	orch := New(runner, notify, nil)

	group := TaskGroup{
		GroupID: "background-test",
		Mode:    ModeBackground,
		Channel: "slack",
		Tasks:   []SubTask{{TaskID: "t1", Prompt: "work"}},
	}

	ack, err := orch.RunBackground(context.Background(), group, nil)
	if err != nil {
		t.Fatalf("RunBackground: %v", err)
	}
	if !strings.Contains(ack, "background-test") {
		t.Fatalf("expected ack to mention group id, got %q", ack)
	}

	select {
	case content := <-notified:
		if !strings.Contains(content, "done: t1") {
			t.Fatalf("expected notification to contain sub-task output, got %q", content)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for background notification")
	}
}

func TestRegistrySlotWriteOnce(t *testing.T) {
	slot := NewRegistrySlot()
	if _, err := slot.Get(); !errors.Is(err, ErrRegistryNotSet) {
		t.Fatalf("expected ErrRegistryNotSet before Set, got %v", err)
	}

	reg := toolregistry.New()
	if err := slot.Set(reg); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := slot.Set(toolregistry.New()); !errors.Is(err, ErrRegistryAlreadySet) {
		t.Fatalf("expected ErrRegistryAlreadySet on second Set, got %v", err)
	}

	got, err := slot.Get()
	if err != nil || got != reg {
		t.Fatalf("Get() = %v, %v, want original registry", got, err)
	}
}

func TestDelegateTasksToolRejectsEmptyTasks(t *testing.T) {
	slot := NewRegistrySlot()
	_ = slot.Set(toolregistry.New())
	orch := New(func(context.Context, SubTask, *toolregistry.Registry) (string, error) { return "", nil }, nil, nil)
	tool := DelegateTasksTool(orch, slot, "internal")

	_, err := tool.Execute(context.Background(), map[string]any{
		"mode":  "parallel",
		"tasks": []any{},
	})
	if !errors.Is(err, ErrEmptyTasks) {
		t.Fatalf("expected ErrEmptyTasks, got %v", err)
	}
}

func TestDelegateTasksToolErrorsWithoutRegistry(t *testing.T) {
	slot := NewRegistrySlot()
	orch := New(func(context.Context, SubTask, *toolregistry.Registry) (string, error) { return "", nil }, nil, nil)
	tool := DelegateTasksTool(orch, slot, "internal")

	_, err := tool.Execute(context.Background(), map[string]any{
		"mode": "parallel",
		"tasks": []any{
			map[string]any{"task_id": "t1", "prompt": "test", "tools": []any{}},
		},
	})
	if !errors.Is(err, ErrRegistryNotSet) {
		t.Fatalf("expected ErrRegistryNotSet, got %v", err)
	}
}

func TestDelegateTasksToolStripsRecursiveTools(t *testing.T) {
	slot := NewRegistrySlot()
	_ = slot.Set(toolregistry.New())

	var captured SubTask
	runner := func(_ context.Context, task SubTask, _ *toolregistry.Registry) (string, error) {
		captured = task
		return "ok", nil
	}
	orch := New(runner, nil, nil)
	tool := DelegateTasksTool(orch, slot, "internal")

	_, err := tool.Execute(context.Background(), map[string]any{
		"mode": "parallel",
		"tasks": []any{
			map[string]any{
				"task_id": "t1",
				"prompt":  "test",
				"tools":   []any{"read_file", "delegate_tasks", "sessions_spawn"},
			},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, name := range captured.AllowedTools {
		if name == "delegate_tasks" || name == "sessions_spawn" {
			t.Fatalf("expected recursive tools stripped, got %v", captured.AllowedTools)
		}
	}
}

func TestDelegateTasksToolRejectsInvalidMode(t *testing.T) {
	slot := NewRegistrySlot()
	_ = slot.Set(toolregistry.New())
	orch := New(func(context.Context, SubTask, *toolregistry.Registry) (string, error) { return "", nil }, nil, nil)
	tool := DelegateTasksTool(orch, slot, "internal")

	_, err := tool.Execute(context.Background(), map[string]any{
		"mode": "invalid_mode",
		"tasks": []any{
			map[string]any{"task_id": "t1", "prompt": "test", "tools": []any{}},
		},
	})
	if !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

