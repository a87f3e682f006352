// Package intersession implements the agent-to-agent tools
// (sessions_list, sessions_history, sessions_send, sessions_spawn,
// agents_list) that let one agent discover, read, and message another
// session, and spawn isolated sub-agent sessions.
package intersession

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kavymi/meepo/internal/session"
	"github.com/kavymi/meepo/internal/toolregistry"
)

// Config controls whether agent-to-agent messaging is enabled and which
// agents may participate.
type Config struct {
	Enabled                     bool               `yaml:"enabled"`
	Allow                       []string           `yaml:"allow"` // empty means every agent is allowed
	Visibility                  session.Visibility `yaml:"visibility"`
	MaxPingPongTurns            int                `yaml:"max_ping_pong_turns"`
	SubagentArchiveAfterMinutes int                `yaml:"subagent_archive_after_minutes"`
}

// DefaultConfig: disabled, unrestricted allow-list once enabled, tree
// visibility, 5 ping-pong turns.
func DefaultConfig() Config {
	return Config{
		Enabled:                     false,
		Visibility:                  session.VisibilityTree,
		MaxPingPongTurns:            5,
		SubagentArchiveAfterMinutes: 60,
	}
}

// ReplySkip is the sentinel a side of a sessions_send ping-pong exchange
// returns to stop the loop.
const ReplySkip = "REPLY_SKIP"

func (c Config) isAgentAllowed(agentID string) bool {
	if len(c.Allow) == 0 {
		return true
	}
	for _, a := range c.Allow {
		if a == agentID || a == "*" {
			return true
		}
	}
	return false
}

func errDisabled() error {
	return fmt.Errorf("intersession: agent-to-agent communication is disabled")
}

func getInt(input map[string]any, key string, def int) int {
	v, ok := input[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

func getString(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return v
}

func getStringSlice(input map[string]any, key string) []string {
	raw, ok := input[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func marshalPretty(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("intersession: serialize response: %w", err)
	}
	return string(b), nil
}

// sessionsListSchema etc. are declared as JSON schema literals matching the
// tool input each handler below parses.
var sessionsListSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"kinds": {"type": "array", "items": {"type": "string"}, "description": "Filter by session kind(s). Omit for all kinds."},
		"agent_id": {"type": "string", "description": "Filter by agent ID. Omit for all agents (subject to visibility)."},
		"limit": {"type": "integer", "description": "Maximum number of sessions to return (default: 50)"},
		"active_minutes": {"type": "integer", "description": "Only sessions updated within N minutes"}
	}
}`)

// SessionsListTool lists active sessions and their metadata for discovery.
func SessionsListTool(mgr *session.Manager, cfg Config) toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "sessions_list",
		Description: "List active sessions (agents) and their metadata. Use to discover other sessions for inter-agent communication.",
		InputSchema: sessionsListSchema,
		Execute: func(_ context.Context, input map[string]any) (string, error) {
			if !cfg.Enabled {
				return "", errDisabled()
			}

			limit := getInt(input, "limit", 50)
			agentID := getString(input, "agent_id")

			var sessions []session.Session
			if agentID != "" {
				sessions = mgr.ListForAgent(agentID)
			} else {
				sessions = mgr.List()
			}

			if kinds := getStringSlice(input, "kinds"); len(kinds) > 0 {
				want := make(map[string]bool, len(kinds))
				for _, k := range kinds {
					want[k] = true
				}
				filtered := sessions[:0]
				for _, s := range sessions {
					if want[string(s.Kind)] {
						filtered = append(filtered, s)
					}
				}
				sessions = filtered
			}

			if minutes := getInt(input, "active_minutes", 0); minutes > 0 {
				cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute)
				filtered := sessions[:0]
				for _, s := range sessions {
					if !s.LastActivity.Before(cutoff) {
						filtered = append(filtered, s)
					}
				}
				sessions = filtered
			}

			if limit > 0 && len(sessions) > limit {
				sessions = sessions[:limit]
			}

			entries := make([]map[string]any, 0, len(sessions))
			for _, s := range sessions {
				entries = append(entries, map[string]any{
					"id":             s.ID,
					"name":           s.Name,
					"agent_id":       s.AgentID,
					"kind":           string(s.Kind),
					"message_count":  s.MessageCount,
					"last_activity":  s.LastActivity.Format(time.RFC3339),
					"created_at":     s.CreatedAt.Format(time.RFC3339),
					"parent_session": s.ParentSession,
				})
			}

			return marshalPretty(map[string]any{"sessions": entries, "count": len(entries)})
		},
	}
}

var sessionsHistorySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"session_id": {"type": "string", "description": "Session ID to fetch history for"},
		"limit": {"type": "integer", "description": "Maximum number of messages to return (default: 50)"},
		"include_tools": {"type": "boolean", "description": "Include tool result messages (default: false)"}
	},
	"required": ["session_id"]
}`)

// SessionsHistoryTool fetches a session's transcript, with credentials
// redacted at read time.
func SessionsHistoryTool(mgr *session.Manager, cfg Config) toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "sessions_history",
		Description: "Fetch message history for a session. Use to read what another agent/session has been doing.",
		InputSchema: sessionsHistorySchema,
		Execute: func(_ context.Context, input map[string]any) (string, error) {
			if !cfg.Enabled {
				return "", errDisabled()
			}
			sessionID := getString(input, "session_id")
			if sessionID == "" {
				return "", fmt.Errorf("intersession: missing 'session_id'")
			}
			limit := getInt(input, "limit", 50)
			includeTools, _ := input["include_tools"].(bool)

			messages, err := mgr.GetHistory(sessionID, limit, includeTools)
			if err != nil {
				return "", fmt.Errorf("intersession: get history: %w", err)
			}

			entries := make([]map[string]any, 0, len(messages))
			for _, m := range messages {
				entries = append(entries, map[string]any{
					"role":       m.Role,
					"content":    session.RedactCredentials(m.Content),
					"timestamp":  m.At.Format(time.RFC3339),
					"provenance": m.Provenance.Kind,
				})
			}

			return marshalPretty(map[string]any{
				"session_id": sessionID,
				"messages":   entries,
				"count":      len(entries),
			})
		},
	}
}

var sessionsSendSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"session_id": {"type": "string", "description": "Target session ID to send the message to"},
		"message": {"type": "string", "description": "Message content to send"},
		"timeout_seconds": {"type": "integer", "description": "0 = fire-and-forget; any other value adds the ping-pong turn budget to the acknowledgment. The call never waits for a reply (default: 30)"}
	},
	"required": ["session_id", "message"]
}`)

const (
	maxSendMessageChars = 32_000
	maxSpawnTaskChars   = 64_000
)

// SessionsSendTool injects a message into another session with
// inter-session provenance and returns a run_id without waiting for a
// reply: timeout 0 returns a bare acknowledgment, any other value adds the
// ping-pong turn budget and a note to poll sessions_history for replies.
// Either side of the resulting ping-pong exchange may reply ReplySkip to
// stop it.
func SessionsSendTool(mgr *session.Manager, cfg Config) toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "sessions_send",
		Description: "Send a message to another session/agent. The message is added to the target session's history; check for replies with sessions_history. Use timeout_seconds=0 for fire-and-forget. Reply 'REPLY_SKIP' to stop ping-pong.",
		InputSchema: sessionsSendSchema,
		Execute: func(_ context.Context, input map[string]any) (string, error) {
			if !cfg.Enabled {
				return "", errDisabled()
			}
			sessionID := getString(input, "session_id")
			if sessionID == "" {
				return "", fmt.Errorf("intersession: missing 'session_id'")
			}
			message := getString(input, "message")
			if message == "" {
				return "", fmt.Errorf("intersession: message cannot be empty")
			}
			if len(message) > maxSendMessageChars {
				return "", fmt.Errorf("intersession: message too long (max %d chars)", maxSendMessageChars)
			}
			timeoutSeconds := getInt(input, "timeout_seconds", 30)

			target, err := mgr.Get(sessionID)
			if err != nil {
				return "", fmt.Errorf("intersession: target session %q not found", sessionID)
			}
			if !cfg.isAgentAllowed(target.AgentID) {
				return "", fmt.Errorf("intersession: agent %q is not in the agent-to-agent allow list", target.AgentID)
			}

			runID := uuid.NewString()
			if err := mgr.AppendMessage(sessionID, "user", message, session.InterSessionProvenance("current")); err != nil {
				return "", fmt.Errorf("intersession: inject message: %w", err)
			}

			if timeoutSeconds == 0 {
				return marshalPretty(map[string]any{
					"run_id":     runID,
					"status":     "accepted",
					"session_id": sessionID,
				})
			}

			return marshalPretty(map[string]any{
				"run_id":               runID,
				"status":               "accepted",
				"session_id":           sessionID,
				"max_ping_pong_turns":  cfg.MaxPingPongTurns,
				"note":                 "Message injected. Use sessions_history to check for replies.",
			})
		},
	}
}

var sessionsSpawnSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"task": {"type": "string", "description": "Task description for the sub-agent"},
		"label": {"type": "string", "description": "Optional label for the sub-agent session (used in logs/UI)"},
		"agent_id": {"type": "string", "description": "Optional agent ID to spawn under (default: 'main')"},
		"parent_session_id": {"type": "string", "description": "Parent session ID (default: 'main')"},
		"run_timeout_seconds": {"type": "integer", "description": "Sub-agent run timeout in seconds; not applied by this tool, which starts no run"},
		"cleanup": {"type": "string", "enum": ["delete", "keep"], "description": "Whether to delete or keep the sub-agent session after completion (default: keep); validated and echoed back, not applied by this tool"}
	},
	"required": ["task"]
}`)

// SessionsSpawnTool creates an isolated subagent session, injects the task,
// and returns a run handle immediately. It does not start a model run for
// the new session, and it does not act on run_timeout_seconds or cleanup
// (cleanup is only echoed back). Sub-agents cannot call sessions_spawn
// themselves (enforced by the orchestrator
// excluding it from a sub-agent's visible tool set, not by this tool).
func SessionsSpawnTool(mgr *session.Manager, cfg Config) toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "sessions_spawn",
		Description: "Spawn a sub-agent in an isolated session for a focused task. Creates the session, seeds it with the task and returns immediately with a run handle; this tool does not start the sub-agent's run. Sub-agents cannot spawn further sub-agents.",
		InputSchema: sessionsSpawnSchema,
		Execute: func(_ context.Context, input map[string]any) (string, error) {
			if !cfg.Enabled {
				return "", errDisabled()
			}
			task := getString(input, "task")
			if task == "" {
				return "", fmt.Errorf("intersession: task cannot be empty")
			}
			if len(task) > maxSpawnTaskChars {
				return "", fmt.Errorf("intersession: task too long (max %d chars)", maxSpawnTaskChars)
			}

			label := getString(input, "label")
			agentID := getString(input, "agent_id")
			if agentID == "" {
				agentID = "main"
			}
			parentSessionID := getString(input, "parent_session_id")
			if parentSessionID == "" {
				parentSessionID = "main"
			}
			cleanup := getString(input, "cleanup")
			if cleanup == "" {
				cleanup = "keep"
			}
			if cleanup != "delete" && cleanup != "keep" {
				return "", fmt.Errorf("intersession: invalid cleanup value: must be 'delete' or 'keep'")
			}

			if !cfg.isAgentAllowed(agentID) {
				return "", fmt.Errorf("intersession: agent %q is not in the agent-to-agent allow list", agentID)
			}

			if _, err := mgr.Get(parentSessionID); err != nil {
				return "", fmt.Errorf("intersession: parent session %q not found", parentSessionID)
			}

			child, err := mgr.CreateSubagent(agentID, parentSessionID, label)
			if err != nil {
				return "", fmt.Errorf("intersession: create sub-agent session: %w", err)
			}

			if err := mgr.AppendMessage(child.ID, "user", task, session.SubagentTaskProvenance(parentSessionID)); err != nil {
				return "", fmt.Errorf("intersession: inject task: %w", err)
			}

			runID := uuid.NewString()
			return marshalPretty(map[string]any{
				"status":            "accepted",
				"run_id":            runID,
				"child_session_id":  child.ID,
				"child_session_name": child.Name,
				"agent_id":          agentID,
				"parent_session_id": parentSessionID,
				"cleanup":           cleanup,
			})
		},
	}
}

var agentsListSchema = json.RawMessage(`{"type": "object", "properties": {}}`)

// AgentsListTool lists the known agent IDs a caller may target with
// sessions_send or sessions_spawn, filtered by the allow-list.
func AgentsListTool(agentIDs []string, cfg Config) toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "agents_list",
		Description: "List available agent IDs. Use to discover which agents can be targeted by sessions_send or sessions_spawn.",
		InputSchema: agentsListSchema,
		Execute: func(_ context.Context, _ map[string]any) (string, error) {
			if !cfg.Enabled {
				return "", errDisabled()
			}
			var allowed []string
			for _, id := range agentIDs {
				if cfg.isAgentAllowed(id) {
					allowed = append(allowed, id)
				}
			}
			return marshalPretty(map[string]any{
				"agents":                 allowed,
				"count":                  len(allowed),
				"agent_to_agent_enabled": cfg.Enabled,
			})
		},
	}
}

// RegisterAll adds every agent-to-agent tool to reg.
func RegisterAll(reg *toolregistry.Registry, mgr *session.Manager, agentIDs []string, cfg Config) error {
	tools := []toolregistry.Tool{
		SessionsListTool(mgr, cfg),
		SessionsHistoryTool(mgr, cfg),
		SessionsSendTool(mgr, cfg),
		SessionsSpawnTool(mgr, cfg),
		AgentsListTool(agentIDs, cfg),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
