// Package agenttools implements the built-in knowledge and watcher tools
// the model can call: remembering entities and relationships, searching
// the knowledge graph, reviewing recent channel traffic, and managing
// watchers that feed events back into the agent loop.
package agenttools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kavymi/meepo/internal/knowledge"
	"github.com/kavymi/meepo/internal/toolregistry"
	"github.com/kavymi/meepo/internal/watcher"
)

func getString(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return v
}

func getInt(input map[string]any, key string, def int) int {
	switch n := input[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

func marshalPretty(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("agenttools: serialize response: %w", err)
	}
	return string(b), nil
}

var rememberSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "description": "Name of the entity to remember (person, project, preference, fact...)"},
		"entity_type": {"type": "string", "description": "Entity type tag, e.g. 'person', 'project', 'preference', 'fact'"},
		"metadata": {"type": "object", "description": "Optional structured details to store with the entity"}
	},
	"required": ["name", "entity_type"]
}`)

// RememberTool stores an entity in the knowledge graph and indexes it for
// full-text search.
func RememberTool(store *knowledge.Store) toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "remember",
		Description: "Store something in the knowledge graph: a person, project, preference or fact. Returns the entity ID for later relationship links.",
		InputSchema: rememberSchema,
		Execute: func(ctx context.Context, input map[string]any) (string, error) {
			name := getString(input, "name")
			entityType := getString(input, "entity_type")
			if name == "" || entityType == "" {
				return "", fmt.Errorf("agenttools: 'name' and 'entity_type' are required")
			}
			metadata, _ := input["metadata"].(map[string]any)

			id, err := store.InsertEntity(ctx, name, entityType, metadata)
			if err != nil {
				return "", fmt.Errorf("agenttools: remember: %w", err)
			}
			if entity, err := store.GetEntity(ctx, id); err == nil {
				// Index failure degrades search to substring match; the
				// entity itself is already durable.
				_ = store.IndexEntity(ctx, entity)
			}
			return marshalPretty(map[string]any{"entity_id": id, "name": name, "entity_type": entityType})
		},
	}
}

var searchKnowledgeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "What to look for; matched against entity names, types and metadata"},
		"entity_type": {"type": "string", "description": "Restrict the substring match to one entity type"},
		"limit": {"type": "integer", "description": "Maximum results (default: 10)"}
	},
	"required": ["query"]
}`)

// SearchKnowledgeTool queries the knowledge graph by full-text relevance,
// falling back to substring matching, and attaches each hit's
// relationships so the model sees the surrounding graph.
func SearchKnowledgeTool(store *knowledge.Store) toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "search_knowledge",
		Description: "Search the knowledge graph for entities matching a query. Returns matching entities with their relationships.",
		InputSchema: searchKnowledgeSchema,
		Execute: func(ctx context.Context, input map[string]any) (string, error) {
			query := getString(input, "query")
			if query == "" {
				return "", fmt.Errorf("agenttools: 'query' is required")
			}
			limit := getInt(input, "limit", 10)

			type hit struct {
				EntityID      string                   `json:"entity_id"`
				Name          string                   `json:"name"`
				EntityType    string                   `json:"entity_type"`
				Metadata      json.RawMessage          `json:"metadata,omitempty"`
				Relationships []knowledge.Relationship `json:"relationships,omitempty"`
			}

			seen := make(map[string]bool)
			var hits []hit
			add := func(id string) {
				if seen[id] || len(hits) >= limit {
					return
				}
				entity, err := store.GetEntity(ctx, id)
				if err != nil {
					return
				}
				seen[id] = true
				rels, _ := store.GetRelationshipsFor(ctx, id)
				hits = append(hits, hit{
					EntityID:      entity.ID,
					Name:          entity.Name,
					EntityType:    entity.EntityType,
					Metadata:      entity.Metadata,
					Relationships: rels,
				})
			}

			if ftHits, err := store.FullTextSearch(ctx, query, limit); err == nil {
				for _, h := range ftHits {
					add(h.EntityID)
				}
			}
			if len(hits) < limit {
				entities, err := store.SearchEntities(ctx, query, getString(input, "entity_type"))
				if err != nil {
					return "", fmt.Errorf("agenttools: search: %w", err)
				}
				for _, e := range entities {
					add(e.ID)
				}
			}

			return marshalPretty(map[string]any{"query": query, "results": hits, "count": len(hits)})
		},
	}
}

var linkEntitiesSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"source_id": {"type": "string", "description": "Entity ID the relationship starts from"},
		"target_id": {"type": "string", "description": "Entity ID the relationship points to"},
		"relation_type": {"type": "string", "description": "Relationship label, e.g. 'works_on', 'prefers', 'knows'"}
	},
	"required": ["source_id", "target_id", "relation_type"]
}`)

// LinkEntitiesTool records a relationship between two known entities.
func LinkEntitiesTool(store *knowledge.Store) toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "link_entities",
		Description: "Create a relationship between two entities in the knowledge graph, by their entity IDs.",
		InputSchema: linkEntitiesSchema,
		Execute: func(ctx context.Context, input map[string]any) (string, error) {
			sourceID := getString(input, "source_id")
			targetID := getString(input, "target_id")
			relationType := getString(input, "relation_type")
			if sourceID == "" || targetID == "" || relationType == "" {
				return "", fmt.Errorf("agenttools: 'source_id', 'target_id' and 'relation_type' are required")
			}
			id, err := store.InsertRelationship(ctx, sourceID, targetID, relationType, nil)
			if err != nil {
				return "", fmt.Errorf("agenttools: link entities: %w", err)
			}
			return marshalPretty(map[string]any{"relationship_id": id, "source_id": sourceID, "target_id": targetID, "relation_type": relationType})
		},
	}
}

var recentConversationsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"channel": {"type": "string", "description": "Restrict to one channel; omit for all channels"},
		"limit": {"type": "integer", "description": "Maximum entries (default: 20)"}
	}
}`)

// RecentConversationsTool reads the channel-traffic log back to the model.
func RecentConversationsTool(store *knowledge.Store) toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "recent_conversations",
		Description: "List recent channel messages from the conversation log, newest first. Optionally filtered to one channel.",
		InputSchema: recentConversationsSchema,
		Execute: func(ctx context.Context, input map[string]any) (string, error) {
			limit := getInt(input, "limit", 20)
			conversations, err := store.GetRecentConversations(ctx, getString(input, "channel"), limit)
			if err != nil {
				return "", fmt.Errorf("agenttools: recent conversations: %w", err)
			}
			entries := make([]map[string]any, 0, len(conversations))
			for _, c := range conversations {
				entries = append(entries, map[string]any{
					"channel":    c.Channel,
					"sender":     c.Sender,
					"content":    c.Content,
					"created_at": c.CreatedAt.Format(time.RFC3339),
				})
			}
			return marshalPretty(map[string]any{"conversations": entries, "count": len(entries)})
		},
	}
}

var createWatcherSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"kind": {"type": "string", "description": "Watcher kind: 'EmailWatch', 'CalendarWatch', 'GitHubWatch', 'FileWatch', 'MessageWatch', 'Scheduled' or 'OneShot'"},
		"config": {"type": "object", "description": "Kind-specific configuration, e.g. {\"cron_expr\": \"0 9 * * *\", \"task\": \"morning briefing\"} for Scheduled or {\"path\": \"/tmp/inbox\"} for FileWatch"},
		"action": {"type": "string", "description": "What the agent should do when the watcher fires; prepended to every triggered event"},
		"reply_channel": {"type": "string", "description": "Channel the triggered event is delivered on"}
	},
	"required": ["kind", "action", "reply_channel"]
}`)

// CreateWatcherTool lets the model set up a watcher: a cron schedule, a
// one-shot timer, a file/message trigger, or a polled external source.
func CreateWatcherTool(scheduler *watcher.Scheduler) toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "create_watcher",
		Description: "Create a watcher that fires events back into the conversation: on a cron schedule, at a single future time, when a file changes, when a message matches a keyword, or when a polled source (email, calendar, GitHub) has news.",
		InputSchema: createWatcherSchema,
		Execute: func(ctx context.Context, input map[string]any) (string, error) {
			kindName := getString(input, "kind")
			action := getString(input, "action")
			replyChannel := getString(input, "reply_channel")
			if kindName == "" || action == "" || replyChannel == "" {
				return "", fmt.Errorf("agenttools: 'kind', 'action' and 'reply_channel' are required")
			}
			config, _ := input["config"].(map[string]any)

			kind, err := parseWatcherKind(kindName, config)
			if err != nil {
				return "", err
			}

			added, err := scheduler.Add(ctx, watcher.NewWatcher(kind, action, replyChannel))
			if err != nil {
				return "", fmt.Errorf("agenttools: create watcher: %w", err)
			}
			return marshalPretty(map[string]any{
				"watcher_id":  added.ID,
				"description": added.Description(),
				"active":      added.Active,
			})
		},
	}
}

// parseWatcherKind builds the typed WatcherKind for one of the seven
// variants, validating the variant's required config fields.
func parseWatcherKind(kindName string, config map[string]any) (watcher.WatcherKind, error) {
	kind := watcher.WatcherKind{Type: watcher.Kind(kindName)}
	if config == nil {
		config = map[string]any{}
	}
	str := func(key string) string { v, _ := config[key].(string); return v }
	num := func(key string) uint64 {
		if f, ok := config[key].(float64); ok && f > 0 {
			return uint64(f)
		}
		return 0
	}

	switch kind.Type {
	case watcher.KindEmailWatch:
		kind.From = str("from")
		kind.SubjectContains = str("subject_contains")
		kind.IntervalSecs = num("interval_secs")
	case watcher.KindCalendarWatch:
		kind.LookaheadHours = num("lookahead_hours")
		if kind.LookaheadHours == 0 {
			kind.LookaheadHours = 24
		}
		kind.IntervalSecs = num("interval_secs")
	case watcher.KindGitHubWatch:
		kind.Repo = str("repo")
		if kind.Repo == "" {
			return kind, fmt.Errorf("agenttools: GitHubWatch requires config.repo")
		}
		if raw, ok := config["events"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					kind.Events = append(kind.Events, s)
				}
			}
		}
		kind.IntervalSecs = num("interval_secs")
		kind.GitHubToken = str("token")
	case watcher.KindFileWatch:
		kind.Path = str("path")
		if kind.Path == "" {
			return kind, fmt.Errorf("agenttools: FileWatch requires config.path")
		}
	case watcher.KindMessageWatch:
		kind.Keyword = str("keyword")
		if kind.Keyword == "" {
			return kind, fmt.Errorf("agenttools: MessageWatch requires config.keyword")
		}
	case watcher.KindScheduled:
		kind.CronExpr = str("cron_expr")
		kind.Task = str("task")
		if kind.CronExpr == "" || kind.Task == "" {
			return kind, fmt.Errorf("agenttools: Scheduled requires config.cron_expr and config.task")
		}
	case watcher.KindOneShot:
		kind.Task = str("task")
		at := str("at")
		if kind.Task == "" || at == "" {
			return kind, fmt.Errorf("agenttools: OneShot requires config.task and config.at (RFC 3339)")
		}
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return kind, fmt.Errorf("agenttools: OneShot config.at must be RFC 3339: %w", err)
		}
		kind.At = parsed
	default:
		return kind, fmt.Errorf("agenttools: unknown watcher kind %q", kindName)
	}
	return kind, nil
}

var listWatchersSchema = json.RawMessage(`{"type": "object", "properties": {}}`)

// ListWatchersTool reports every scheduled watcher and its state.
func ListWatchersTool(scheduler *watcher.Scheduler) toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "list_watchers",
		Description: "List every watcher currently scheduled, with its kind, description and active state.",
		InputSchema: listWatchersSchema,
		Execute: func(_ context.Context, _ map[string]any) (string, error) {
			watchers := scheduler.List()
			entries := make([]map[string]any, 0, len(watchers))
			for _, w := range watchers {
				entries = append(entries, map[string]any{
					"watcher_id":  w.ID,
					"kind":        string(w.Kind.Type),
					"description": w.Description(),
					"active":      w.Active,
					"created_at":  w.CreatedAt.Format(time.RFC3339),
				})
			}
			return marshalPretty(map[string]any{"watchers": entries, "count": len(entries)})
		},
	}
}

var cancelWatcherSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"watcher_id": {"type": "string", "description": "ID of the watcher to cancel"}
	},
	"required": ["watcher_id"]
}`)

// CancelWatcherTool removes a watcher permanently.
func CancelWatcherTool(scheduler *watcher.Scheduler) toolregistry.Tool {
	return toolregistry.Tool{
		Name:        "cancel_watcher",
		Description: "Cancel a watcher by ID, removing it from the schedule and the store.",
		InputSchema: cancelWatcherSchema,
		Execute: func(ctx context.Context, input map[string]any) (string, error) {
			id := getString(input, "watcher_id")
			if id == "" {
				return "", fmt.Errorf("agenttools: 'watcher_id' is required")
			}
			if err := scheduler.Remove(ctx, id); err != nil {
				return "", fmt.Errorf("agenttools: cancel watcher: %w", err)
			}
			return marshalPretty(map[string]any{"watcher_id": id, "status": "cancelled"})
		},
	}
}

// RegisterAll adds every knowledge and watcher tool to reg.
func RegisterAll(reg *toolregistry.Registry, store *knowledge.Store, scheduler *watcher.Scheduler) error {
	tools := []toolregistry.Tool{
		RememberTool(store),
		SearchKnowledgeTool(store),
		LinkEntitiesTool(store),
		RecentConversationsTool(store),
		CreateWatcherTool(scheduler),
		ListWatchersTool(scheduler),
		CancelWatcherTool(scheduler),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
