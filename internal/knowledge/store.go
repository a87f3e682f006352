// Package knowledge implements the entity/relationship graph, full-text and
// vector indexes, hybrid retrieval and GraphRAG expansion backing the
// assistant's long-term memory. The relational state lives in a single
// SQLite database file, via a pure-Go (no cgo) driver.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup by ID finds nothing.
var ErrNotFound = errors.New("knowledge: not found")

// Entity is a node in the knowledge graph.
type Entity struct {
	ID         string
	Name       string
	EntityType string
	Metadata   json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Relationship is a directed edge between two entities.
type Relationship struct {
	ID           string
	SourceID     string
	TargetID     string
	RelationType string
	Metadata     json.RawMessage
	CreatedAt    time.Time
}

// Conversation is one logged inbound/outbound message.
type Conversation struct {
	ID        string
	Channel   string
	Sender    string
	Content   string
	Metadata  json.RawMessage
	CreatedAt time.Time
}

// WatcherRecord is the persisted form of a watcher definition (see
// internal/watcher for the runtime type this config drives).
type WatcherRecord struct {
	ID           string
	Kind         string
	Config       json.RawMessage
	Action       string
	ReplyChannel string
	Active       bool
	CreatedAt    time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	metadata TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS relationships (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	metadata TEXT,
	created_at TEXT NOT NULL,
	FOREIGN KEY(source_id) REFERENCES entities(id) ON DELETE CASCADE,
	FOREIGN KEY(target_id) REFERENCES entities(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	channel TEXT NOT NULL,
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS watchers (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	config TEXT NOT NULL,
	action TEXT NOT NULL,
	reply_channel TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS embeddings (
	entity_id TEXT PRIMARY KEY,
	vector BLOB NOT NULL,
	dimension INTEGER NOT NULL,
	FOREIGN KEY(entity_id) REFERENCES entities(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);
CREATE INDEX IF NOT EXISTS idx_conversations_channel ON conversations(channel);
CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at);
CREATE INDEX IF NOT EXISTS idx_watchers_active ON watchers(active);
`

// Store is the SQLite-backed knowledge store. A single *sql.DB already
// serializes writers internally; the additional mu guards the
// panic-recovery boundary so one corrupted write cannot wedge the
// connection for subsequent callers.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger
}

// Open initializes (or reopens) a knowledge database file at path,
// creating the schema if it does not already exist.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("knowledge: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("knowledge: create schema: %w", err)
	}
	logger.Info("knowledge: database initialized", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// withRecover runs fn under the store's mutex, converting any panic inside
// fn into a logged, returned error instead of propagating it. This is the
// Go equivalent of recovering a poisoned mutex: one bad write can't wedge
// the store for the next caller.
func (s *Store) withRecover(fn func() error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("knowledge: recovered panic in critical section", "panic", r)
			err = fmt.Errorf("knowledge: internal error: %v", r)
		}
	}()
	return fn()
}

func marshalMetadata(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// InsertEntity creates a new entity and returns its generated ID.
func (s *Store) InsertEntity(ctx context.Context, name, entityType string, metadata any) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return "", fmt.Errorf("knowledge: marshal metadata: %w", err)
	}
	err = s.withRecover(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO entities (id, name, entity_type, metadata, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, name, entityType, metaJSON, now.Format(timeLayout), now.Format(timeLayout))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("knowledge: insert entity: %w", err)
	}
	s.logger.Debug("knowledge: inserted entity", "name", name, "id", id)
	return id, nil
}

func scanEntity(row interface {
	Scan(dest ...any) error
}) (Entity, error) {
	var e Entity
	var meta sql.NullString
	var created, updated string
	if err := row.Scan(&e.ID, &e.Name, &e.EntityType, &meta, &created, &updated); err != nil {
		return Entity{}, err
	}
	if meta.Valid {
		e.Metadata = json.RawMessage(meta.String)
	}
	e.CreatedAt = parseTimeOrNow(created)
	e.UpdatedAt = parseTimeOrNow(updated)
	return e, nil
}

// timeLayout is RFC 3339 with fixed-width nanoseconds so the TEXT column
// sorts lexicographically in timestamp order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseTimeOrNow(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

// GetEntity fetches an entity by ID, returning ErrNotFound if it doesn't exist.
func (s *Store) GetEntity(ctx context.Context, id string) (Entity, error) {
	var e Entity
	err := s.withRecover(func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, name, entity_type, metadata, created_at, updated_at FROM entities WHERE id = ?`, id)
		var err error
		e, err = scanEntity(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, fmt.Errorf("knowledge: get entity: %w", err)
	}
	return e, nil
}

// SearchEntities finds entities whose name or type contains query
// (SQLite LIKE, ASCII case-insensitive), optionally restricted to
// entityType, capped at 100 results ordered by most recently updated.
func (s *Store) SearchEntities(ctx context.Context, query string, entityType string) ([]Entity, error) {
	pattern := "%" + query + "%"
	var rows *sql.Rows
	var err error
	err = s.withRecover(func() error {
		if entityType != "" {
			rows, err = s.db.QueryContext(ctx,
				`SELECT id, name, entity_type, metadata, created_at, updated_at
				 FROM entities
				 WHERE (name LIKE ? OR entity_type LIKE ?) AND entity_type = ?
				 ORDER BY updated_at DESC LIMIT 100`, pattern, pattern, entityType)
		} else {
			rows, err = s.db.QueryContext(ctx,
				`SELECT id, name, entity_type, metadata, created_at, updated_at
				 FROM entities
				 WHERE name LIKE ? OR entity_type LIKE ?
				 ORDER BY updated_at DESC LIMIT 100`, pattern, pattern)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: search entities: %w", err)
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("knowledge: scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetAllEntities returns every entity, most recently updated first, capped
// at 50000 rows to bound memory on very large stores.
func (s *Store) GetAllEntities(ctx context.Context) ([]Entity, error) {
	var rows *sql.Rows
	var err error
	err = s.withRecover(func() error {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name, entity_type, metadata, created_at, updated_at
			 FROM entities ORDER BY updated_at DESC LIMIT 50000`)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: get all entities: %w", err)
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("knowledge: scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertRelationship creates a directed edge between two entities.
func (s *Store) InsertRelationship(ctx context.Context, sourceID, targetID, relationType string, metadata any) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return "", fmt.Errorf("knowledge: marshal metadata: %w", err)
	}
	err = s.withRecover(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO relationships (id, source_id, target_id, relation_type, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, sourceID, targetID, relationType, metaJSON, now.Format(timeLayout))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("knowledge: insert relationship: %w", err)
	}
	s.logger.Debug("knowledge: inserted relationship", "source", sourceID, "target", targetID, "type", relationType)
	return id, nil
}

// GetRelationshipsFor returns every relationship where entityID is either
// the source or the target, newest first.
func (s *Store) GetRelationshipsFor(ctx context.Context, entityID string) ([]Relationship, error) {
	var rows *sql.Rows
	var err error
	err = s.withRecover(func() error {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, source_id, target_id, relation_type, metadata, created_at
			 FROM relationships WHERE source_id = ? OR target_id = ?
			 ORDER BY created_at DESC`, entityID, entityID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: get relationships: %w", err)
	}
	defer rows.Close()
	var out []Relationship
	for rows.Next() {
		var r Relationship
		var meta sql.NullString
		var created string
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.RelationType, &meta, &created); err != nil {
			return nil, fmt.Errorf("knowledge: scan relationship: %w", err)
		}
		if meta.Valid {
			r.Metadata = json.RawMessage(meta.String)
		}
		r.CreatedAt = parseTimeOrNow(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertConversation logs one piece of channel traffic.
func (s *Store) InsertConversation(ctx context.Context, channel, sender, content string, metadata any) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return "", fmt.Errorf("knowledge: marshal metadata: %w", err)
	}
	err = s.withRecover(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO conversations (id, channel, sender, content, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, channel, sender, content, metaJSON, now.Format(timeLayout))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("knowledge: insert conversation: %w", err)
	}
	return id, nil
}

// GetRecentConversations returns the most recent conversations, optionally
// restricted to one channel.
func (s *Store) GetRecentConversations(ctx context.Context, channel string, limit int) ([]Conversation, error) {
	var rows *sql.Rows
	var err error
	err = s.withRecover(func() error {
		if channel != "" {
			rows, err = s.db.QueryContext(ctx,
				`SELECT id, channel, sender, content, metadata, created_at
				 FROM conversations WHERE channel = ?
				 ORDER BY created_at DESC LIMIT ?`, channel, limit)
		} else {
			rows, err = s.db.QueryContext(ctx,
				`SELECT id, channel, sender, content, metadata, created_at
				 FROM conversations ORDER BY created_at DESC LIMIT ?`, limit)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: get recent conversations: %w", err)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		var meta sql.NullString
		var created string
		if err := rows.Scan(&c.ID, &c.Channel, &c.Sender, &c.Content, &meta, &created); err != nil {
			return nil, fmt.Errorf("knowledge: scan conversation: %w", err)
		}
		if meta.Valid {
			c.Metadata = json.RawMessage(meta.String)
		}
		c.CreatedAt = parseTimeOrNow(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CleanupOldConversations deletes conversations older than retainDays and
// reports how many rows were removed.
func (s *Store) CleanupOldConversations(ctx context.Context, retainDays int) (int64, error) {
	var n int64
	err := s.withRecover(func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM conversations WHERE created_at < ?`,
			time.Now().UTC().AddDate(0, 0, -retainDays).Format(timeLayout))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("knowledge: cleanup conversations: %w", err)
	}
	if n > 0 {
		s.logger.Info("knowledge: cleaned up old conversations", "deleted", n)
	}
	return n, nil
}

// InsertWatcher persists a watcher definition.
func (s *Store) InsertWatcher(ctx context.Context, kind string, config any, action, replyChannel string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	cfgJSON, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("knowledge: marshal watcher config: %w", err)
	}
	err = s.withRecover(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO watchers (id, kind, config, action, reply_channel, active, created_at)
			 VALUES (?, ?, ?, ?, ?, 1, ?)`,
			id, kind, string(cfgJSON), action, replyChannel, now.Format(timeLayout))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("knowledge: insert watcher: %w", err)
	}
	return id, nil
}

// GetActiveWatchers returns every watcher with active=true, newest first.
func (s *Store) GetActiveWatchers(ctx context.Context) ([]WatcherRecord, error) {
	var rows *sql.Rows
	var err error
	err = s.withRecover(func() error {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, kind, config, action, reply_channel, active, created_at
			 FROM watchers WHERE active = 1 ORDER BY created_at DESC`)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: get active watchers: %w", err)
	}
	defer rows.Close()
	var out []WatcherRecord
	for rows.Next() {
		var w WatcherRecord
		var cfg, created string
		var active int64
		if err := rows.Scan(&w.ID, &w.Kind, &cfg, &w.Action, &w.ReplyChannel, &active, &created); err != nil {
			return nil, fmt.Errorf("knowledge: scan watcher: %w", err)
		}
		w.Config = json.RawMessage(cfg)
		w.Active = active != 0
		w.CreatedAt = parseTimeOrNow(created)
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateWatcherActive flips a watcher's active flag.
func (s *Store) UpdateWatcherActive(ctx context.Context, id string, active bool) error {
	err := s.withRecover(func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE watchers SET active = ? WHERE id = ?`, active, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("knowledge: update watcher active: %w", err)
	}
	return nil
}

// DeleteWatcher removes a watcher definition permanently.
func (s *Store) DeleteWatcher(ctx context.Context, id string) error {
	err := s.withRecover(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM watchers WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("knowledge: delete watcher: %w", err)
	}
	return nil
}
