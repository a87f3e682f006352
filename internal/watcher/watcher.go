// Package watcher defines reactive watchers (polling, event-driven, cron,
// one-shot) and the scheduler that drives them, converting triggered
// conditions into events delivered back into the agent loop.
package watcher

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the seven watcher variants. A Watcher's Kind field
// determines which of the type-specific fields below are populated.
type Kind string

const (
	KindEmailWatch    Kind = "EmailWatch"
	KindCalendarWatch Kind = "CalendarWatch"
	KindGitHubWatch   Kind = "GitHubWatch"
	KindFileWatch     Kind = "FileWatch"
	KindMessageWatch  Kind = "MessageWatch"
	KindScheduled     Kind = "Scheduled"
	KindOneShot       Kind = "OneShot"
)

// WatcherKind is the type and configuration of a watcher. Only the fields
// relevant to Type are meaningful; this flattened shape (rather than a Go
// interface per variant) is what gets persisted as the watcher's config
// JSON in the knowledge store.
type WatcherKind struct {
	Type Kind `json:"type"`

	// EmailWatch
	From            string `json:"from,omitempty"`
	SubjectContains string `json:"subject_contains,omitempty"`
	IntervalSecs    uint64 `json:"interval_secs,omitempty"`

	// CalendarWatch
	LookaheadHours uint64 `json:"lookahead_hours,omitempty"`

	// GitHubWatch
	Repo        string   `json:"repo,omitempty"`
	Events      []string `json:"events,omitempty"`
	GitHubToken string   `json:"github_token,omitempty"`

	// FileWatch
	Path string `json:"path,omitempty"`

	// MessageWatch
	Keyword string `json:"keyword,omitempty"`

	// Scheduled
	CronExpr string `json:"cron_expr,omitempty"`
	Task     string `json:"task,omitempty"`

	// OneShot
	At time.Time `json:"at,omitempty"`
}

// MinIntervalSecs returns the minimum safe polling interval for this
// watcher type; hard floors, not suggestions — a smaller configured
// interval is raised to this value.
func (k WatcherKind) MinIntervalSecs() uint64 {
	switch k.Type {
	case KindEmailWatch:
		return 60
	case KindCalendarWatch:
		return 300
	case KindGitHubWatch:
		return 30
	default:
		return 0
	}
}

// IsPolling reports whether this watcher type is driven by a periodic tick.
func (k WatcherKind) IsPolling() bool {
	switch k.Type {
	case KindEmailWatch, KindCalendarWatch, KindGitHubWatch:
		return true
	default:
		return false
	}
}

// IsEventDriven reports whether this watcher type reacts to external
// notifications rather than polling.
func (k WatcherKind) IsEventDriven() bool {
	return k.Type == KindFileWatch || k.Type == KindMessageWatch
}

// IsScheduled reports whether this watcher type is driven by wall-clock
// time (cron or a one-shot timestamp).
func (k WatcherKind) IsScheduled() bool {
	return k.Type == KindScheduled || k.Type == KindOneShot
}

// EffectiveIntervalSecs is the interval actually used for a polling
// watcher: the configured value raised to the type's hard floor.
func (k WatcherKind) EffectiveIntervalSecs() uint64 {
	if floor := k.MinIntervalSecs(); k.IntervalSecs < floor {
		return floor
	}
	return k.IntervalSecs
}

// Watcher monitors a source and triggers an action when its condition is
// met.
type Watcher struct {
	ID           string
	Kind         WatcherKind
	Action       string
	ReplyChannel string
	Active       bool
	CreatedAt    time.Time
}

// NewWatcher creates a watcher with a generated ID, active by default.
func NewWatcher(kind WatcherKind, action, replyChannel string) Watcher {
	return Watcher{
		ID:           uuid.NewString(),
		Kind:         kind,
		Action:       action,
		ReplyChannel: replyChannel,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
}

// Description returns a human-readable summary of what this watcher does,
// for logs and UI listings.
func (w Watcher) Description() string {
	k := w.Kind
	switch k.Type {
	case KindEmailWatch:
		desc := fmt.Sprintf("Email watcher (every %ds)", k.IntervalSecs)
		if k.From != "" {
			desc += fmt.Sprintf(" from: %s", k.From)
		}
		if k.SubjectContains != "" {
			desc += fmt.Sprintf(" subject contains: %s", k.SubjectContains)
		}
		return desc
	case KindCalendarWatch:
		return fmt.Sprintf("Calendar watcher (%dh lookahead, every %ds)", k.LookaheadHours, k.IntervalSecs)
	case KindGitHubWatch:
		return fmt.Sprintf("GitHub watcher for %s (events: %v, every %ds)", k.Repo, k.Events, k.IntervalSecs)
	case KindFileWatch:
		return fmt.Sprintf("File watcher for %s", k.Path)
	case KindMessageWatch:
		return fmt.Sprintf("Message watcher for keyword: %s", k.Keyword)
	case KindScheduled:
		return fmt.Sprintf("Scheduled task '%s' (cron: %s)", k.Task, k.CronExpr)
	case KindOneShot:
		return fmt.Sprintf("One-shot task '%s' at %s", k.Task, k.At.Format(time.RFC3339))
	default:
		return "unknown watcher"
	}
}

// WatcherEvent is emitted by a watcher when its condition is met.
type WatcherEvent struct {
	WatcherID string
	Kind      string
	Payload   map[string]any
	Timestamp time.Time
}

// NewEvent constructs an event with the current time.
func NewEvent(watcherID, kind string, payload map[string]any) WatcherEvent {
	return WatcherEvent{WatcherID: watcherID, Kind: kind, Payload: payload, Timestamp: time.Now().UTC()}
}

// EmailEvent builds an "email_received" event.
func EmailEvent(watcherID, from, subject, body string) WatcherEvent {
	return NewEvent(watcherID, "email_received", map[string]any{"from": from, "subject": subject, "body": body})
}

// CalendarEvent builds a "calendar_event" event.
func CalendarEvent(watcherID, title string, eventTime time.Time) WatcherEvent {
	return NewEvent(watcherID, "calendar_event", map[string]any{"title": title, "time": eventTime.Format(time.RFC3339)})
}

// FileChangedEvent builds a "file_changed" event.
func FileChangedEvent(watcherID, path, changeType string) WatcherEvent {
	return NewEvent(watcherID, "file_changed", map[string]any{"path": path, "change_type": changeType})
}

// GitHubEvent builds a "github_<event_type>" event.
func GitHubEvent(watcherID, eventType string, data map[string]any) WatcherEvent {
	return NewEvent(watcherID, "github_"+eventType, data)
}

// TaskEvent builds a "task_triggered" event.
func TaskEvent(watcherID, taskName string) WatcherEvent {
	return NewEvent(watcherID, "task_triggered", map[string]any{"task": taskName})
}
