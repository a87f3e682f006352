package intersession

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kavymi/meepo/internal/session"
	"github.com/kavymi/meepo/internal/toolregistry"
)

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	return cfg
}

func restrictedConfig() Config {
	cfg := enabledConfig()
	cfg.Allow = []string{"main", "work"}
	return cfg
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestSessionsListBasic(t *testing.T) {
	mgr := session.New()
	tool := SessionsListTool(mgr, enabledConfig())

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	resp := decode(t, result)
	if resp["count"].(float64) != 1 {
		t.Fatalf("expected 1 session, got %v", resp["count"])
	}
}

func TestSessionsListDisabled(t *testing.T) {
	mgr := session.New()
	tool := SessionsListTool(mgr, DefaultConfig())
	if _, err := tool.Execute(context.Background(), nil); err == nil {
		t.Fatalf("expected error when disabled")
	}
}

func TestSessionsListFilterByKind(t *testing.T) {
	mgr := session.New()
	if _, err := mgr.CreateSubagent("main", "main", "sub"); err != nil {
		t.Fatalf("CreateSubagent() error = %v", err)
	}

	tool := SessionsListTool(mgr, enabledConfig())
	result, err := tool.Execute(context.Background(), map[string]any{"kinds": []any{"subagent"}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	resp := decode(t, result)
	if resp["count"].(float64) != 1 {
		t.Fatalf("expected 1 subagent session, got %v", resp["count"])
	}
}

func TestSessionsHistoryBasic(t *testing.T) {
	mgr := session.New()
	_ = mgr.AppendMessage("main", "user", "Hello", session.ProvenanceUser)
	_ = mgr.AppendMessage("main", "assistant", "Hi!", session.ProvenanceAssistant)

	tool := SessionsHistoryTool(mgr, enabledConfig())
	result, err := tool.Execute(context.Background(), map[string]any{"session_id": "main"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	resp := decode(t, result)
	if resp["count"].(float64) != 2 {
		t.Fatalf("expected 2 messages, got %v", resp["count"])
	}
}

func TestSessionsHistoryMissingSession(t *testing.T) {
	mgr := session.New()
	tool := SessionsHistoryTool(mgr, enabledConfig())
	if _, err := tool.Execute(context.Background(), map[string]any{"session_id": "nonexistent"}); err == nil {
		t.Fatalf("expected error for missing session")
	}
}

func TestSessionsSendInjectsMessage(t *testing.T) {
	mgr := session.New()
	tool := SessionsSendTool(mgr, enabledConfig())

	result, err := tool.Execute(context.Background(), map[string]any{
		"session_id": "main",
		"message":    "Hello from another agent",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	resp := decode(t, result)
	if resp["status"] != "accepted" {
		t.Fatalf("expected accepted status, got %v", resp["status"])
	}

	history, err := mgr.GetHistory("main", 10, true)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Content != "Hello from another agent" {
		t.Fatalf("expected message injected into history, got %+v", history)
	}
}

func TestSessionsSendEmptyMessageRejected(t *testing.T) {
	mgr := session.New()
	tool := SessionsSendTool(mgr, enabledConfig())
	if _, err := tool.Execute(context.Background(), map[string]any{"session_id": "main", "message": ""}); err == nil {
		t.Fatalf("expected error for empty message")
	}
}

func TestSessionsSendAgentNotAllowed(t *testing.T) {
	mgr := session.New()
	other, err := mgr.CreateWithKind("Other", "personal", session.KindOther, "")
	if err != nil {
		t.Fatalf("CreateWithKind() error = %v", err)
	}

	tool := SessionsSendTool(mgr, restrictedConfig())
	_, err = tool.Execute(context.Background(), map[string]any{"session_id": other.ID, "message": "hi"})
	if err == nil {
		t.Fatalf("expected allow-list rejection")
	}
}

func TestSessionsSpawnCreatesSubagent(t *testing.T) {
	mgr := session.New()
	tool := SessionsSpawnTool(mgr, enabledConfig())

	result, err := tool.Execute(context.Background(), map[string]any{"task": "Research something"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	resp := decode(t, result)
	if resp["status"] != "accepted" {
		t.Fatalf("expected accepted, got %v", resp["status"])
	}

	childID, _ := resp["child_session_id"].(string)
	child, err := mgr.Get(childID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if child.Kind != session.KindSubagent || child.ParentSession != "main" {
		t.Fatalf("unexpected child session: %+v", child)
	}

	history, err := mgr.GetHistory(childID, 10, true)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Content != "Research something" {
		t.Fatalf("expected task injected, got %+v", history)
	}
}

func TestSessionsSpawnEmptyTaskRejected(t *testing.T) {
	mgr := session.New()
	tool := SessionsSpawnTool(mgr, enabledConfig())
	if _, err := tool.Execute(context.Background(), map[string]any{"task": ""}); err == nil {
		t.Fatalf("expected error for empty task")
	}
}

func TestSessionsSpawnNonexistentParent(t *testing.T) {
	mgr := session.New()
	tool := SessionsSpawnTool(mgr, enabledConfig())
	_, err := tool.Execute(context.Background(), map[string]any{"task": "x", "parent_session_id": "nonexistent"})
	if err == nil {
		t.Fatalf("expected error for nonexistent parent")
	}
}

func TestAgentsListRestricted(t *testing.T) {
	tool := AgentsListTool([]string{"main", "work", "personal"}, restrictedConfig())
	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	resp := decode(t, result)
	if resp["count"].(float64) != 2 {
		t.Fatalf("expected 2 allowed agents, got %v", resp["count"])
	}
}

func TestRegisterAllAddsEveryTool(t *testing.T) {
	mgr := session.New()
	reg := toolregistry.New()
	if err := RegisterAll(reg, mgr, []string{"main"}, enabledConfig()); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	for _, name := range []string{"sessions_list", "sessions_history", "sessions_send", "sessions_spawn", "agents_list"} {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("expected %q to be registered", name)
		}
	}
}
