// Package session manages the in-memory set of conversation sessions that
// the agent loop, channel adapters and inter-session tools all read and
// write through.
package session

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Limits on session identity and history retention.
const (
	MaxSessionIDLen       = 128
	MaxSessionNameLen     = 256
	MaxSessions           = 1000
	MaxHistoryPerSession  = 500
	mainSessionKey        = "main"
)

// Kind classifies why a session exists.
type Kind string

const (
	KindMain     Kind = "main"
	KindGroup    Kind = "group"
	KindCron     Kind = "cron"
	KindHook     Kind = "hook"
	KindNode     Kind = "node"
	KindSubagent Kind = "subagent"
	KindOther    Kind = "other"
)

// Provenance records where a message in a session's history came from.
type Provenance struct {
	Kind string // "user", "assistant", "tool_result", "inter_session", "subagent_task"

	// FromSession is set when Kind == "inter_session".
	FromSession string

	// ParentSession is set when Kind == "subagent_task".
	ParentSession string
}

var (
	ProvenanceUser       = Provenance{Kind: "user"}
	ProvenanceAssistant  = Provenance{Kind: "assistant"}
	ProvenanceToolResult = Provenance{Kind: "tool_result"}
)

// InterSessionProvenance marks a message injected by another session.
func InterSessionProvenance(from string) Provenance {
	return Provenance{Kind: "inter_session", FromSession: from}
}

// SubagentTaskProvenance marks a message that seeded a spawned subagent.
func SubagentTaskProvenance(parent string) Provenance {
	return Provenance{Kind: "subagent_task", ParentSession: parent}
}

// Message is one entry in a session's rolling history.
type Message struct {
	Role       string
	Content    string
	Provenance Provenance
	At         time.Time
}

// Visibility controls which sessions an agent-to-agent tool call may see.
type Visibility string

const (
	VisibilityOwn   Visibility = "own"
	VisibilityTree  Visibility = "tree"
	VisibilityAgent Visibility = "agent"
	VisibilityAll   Visibility = "all"
)

// Session is one conversation thread, identified by a normalized key.
type Session struct {
	ID            string
	Name          string
	AgentID       string
	Kind          Kind
	CreatedAt     time.Time
	LastActivity  time.Time
	MessageCount  int
	ParentSession string

	messages []Message
}

func (s Session) clone() Session {
	out := s
	out.messages = nil
	return out
}

var (
	ErrInvalidKey     = errors.New("session: invalid session key")
	ErrNotFound       = errors.New("session: not found")
	ErrLimitReached   = errors.New("session: session limit reached")
	ErrInvalidName    = errors.New("session: invalid session name")
	ErrMainUndeletable = errors.New("session: the main session cannot be deleted")
)

var controlChar = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// NormalizeKey trims and lowercases a caller-supplied session key and
// rejects anything that could be used for path traversal or that carries
// control characters.
func NormalizeKey(key string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(key))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(trimmed) > MaxSessionIDLen {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidKey, MaxSessionIDLen)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) || strings.Contains(trimmed, "..") {
		return "", fmt.Errorf("%w: path-like characters", ErrInvalidKey)
	}
	if strings.Contains(trimmed, "\x00") || controlChar.MatchString(trimmed) {
		return "", fmt.Errorf("%w: control characters", ErrInvalidKey)
	}
	return trimmed, nil
}

var redactPatterns = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`), "[REDACTED_API_KEY]"},
	{regexp.MustCompile(`key-[a-zA-Z0-9]{20,}`), "[REDACTED_API_KEY]"},
	{regexp.MustCompile(`Bearer [a-zA-Z0-9._-]{20,}`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`[a-fA-F0-9]{40,}`), "[REDACTED_TOKEN]"},
}

// RedactCredentials strips credential-shaped substrings from text before it
// is handed to a tool, logged, or surfaced through sessions_history.
func RedactCredentials(text string) string {
	for _, p := range redactPatterns {
		if p.re.MatchString(text) {
			text = p.re.ReplaceAllString(text, p.with)
		}
	}
	return text
}

// Manager owns the live session table.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// New creates a manager pre-populated with the undeletable "main" session.
func New() *Manager {
	return NewWithClock(time.Now)
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(now func() time.Time) *Manager {
	m := &Manager{sessions: make(map[string]*Session), now: now}
	main := &Session{
		ID:           mainSessionKey,
		Name:         "main",
		AgentID:      "main",
		Kind:         KindMain,
		CreatedAt:    now(),
		LastActivity: now(),
	}
	m.sessions[mainSessionKey] = main
	return m
}

// List returns all sessions ordered by most recent activity first.
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out
}

// ListForAgent returns sessions owned by a specific agent ID.
func (m *Manager) ListForAgent(agentID string) []Session {
	all := m.List()
	out := make([]Session, 0, len(all))
	for _, s := range all {
		if s.AgentID == agentID {
			out = append(out, s)
		}
	}
	return out
}

// ListByKind returns sessions matching any of the given kinds.
func (m *Manager) ListByKind(kinds ...Kind) []Session {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	all := m.List()
	out := make([]Session, 0, len(all))
	for _, s := range all {
		if want[s.Kind] {
			out = append(out, s)
		}
	}
	return out
}

// ListChildren returns subagent sessions spawned under parentID.
func (m *Manager) ListChildren(parentID string) []Session {
	all := m.List()
	out := make([]Session, 0, len(all))
	for _, s := range all {
		if s.ParentSession == parentID {
			out = append(out, s)
		}
	}
	return out
}

// Get returns the session for a key, or ErrNotFound if the key is invalid
// or unknown.
func (m *Manager) Get(key string) (Session, error) {
	norm, err := NormalizeKey(key)
	if err != nil {
		return Session{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[norm]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s.clone(), nil
}

// Create makes a new session owned by the "main" agent, kind Other.
func (m *Manager) Create(name string) (Session, error) {
	return m.CreateWithKind(name, "main", KindOther, "")
}

// CreateWithKind makes a new session with an explicit agent, kind and
// optional parent.
func (m *Manager) CreateWithKind(name, agentID string, kind Kind, parentSession string) (Session, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Session{}, fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(trimmed) > MaxSessionNameLen {
		return Session{}, fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, MaxSessionNameLen)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= MaxSessions {
		return Session{}, ErrLimitReached
	}

	now := m.now()
	s := &Session{
		ID:            uuid.NewString(),
		Name:          trimmed,
		AgentID:       agentID,
		Kind:          kind,
		CreatedAt:     now,
		LastActivity:  now,
		ParentSession: parentSession,
	}
	m.sessions[s.ID] = s
	return s.clone(), nil
}

// CreateSubagent creates a Subagent-kind session under a parent, used by
// the delegate-tasks orchestrator and the sessions_spawn tool.
func (m *Manager) CreateSubagent(agentID, parentSessionID, label string) (Session, error) {
	if label == "" {
		label = "subagent"
	}
	return m.CreateWithKind(label, agentID, KindSubagent, parentSessionID)
}

// Delete removes a session. The main session can never be deleted.
func (m *Manager) Delete(key string) error {
	norm, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	if norm == mainSessionKey {
		return ErrMainUndeletable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[norm]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, norm)
	return nil
}

// RecordActivity bumps last-activity and message count without recording a
// message body. Invalid keys are silently ignored; the touch is
// best-effort.
func (m *Manager) RecordActivity(key string) {
	norm, err := NormalizeKey(key)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[norm]
	if !ok {
		return
	}
	s.LastActivity = m.now()
	s.MessageCount++
}

// AppendMessage appends a message to a session's history, evicting the
// oldest entries once MaxHistoryPerSession is exceeded.
func (m *Manager) AppendMessage(key, role, content string, prov Provenance) error {
	norm, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[norm]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	s.messages = append(s.messages, Message{Role: role, Content: content, Provenance: prov, At: now})
	s.MessageCount++
	s.LastActivity = now
	if over := len(s.messages) - MaxHistoryPerSession; over > 0 {
		s.messages = s.messages[over:]
	}
	return nil
}

// GetHistory returns up to limit most-recent messages, optionally
// including tool-result provenance entries (excluded by default).
func (m *Manager) GetHistory(key string, limit int, includeToolResults bool) ([]Message, error) {
	norm, err := NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[norm]
	if !ok {
		return nil, ErrNotFound
	}

	filtered := make([]Message, 0, len(s.messages))
	for _, msg := range s.messages {
		if msg.Provenance.Kind == "tool_result" && !includeToolResults {
			continue
		}
		filtered = append(filtered, msg)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
