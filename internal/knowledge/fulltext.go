package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// fts5Schema is created lazily by EnsureFullText so callers that never use
// full-text search don't pay for the virtual table.
const fts5Schema = `CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
	id UNINDEXED,
	content
);`

// EnsureFullText creates the entities_fts virtual table if it doesn't
// already exist. SQLite's FTS5 extension is this store's full-text
// index; it ships inside the sqlite driver already in go.mod.
func (s *Store) EnsureFullText(ctx context.Context) error {
	return s.withRecover(func() error {
		_, err := s.db.ExecContext(ctx, fts5Schema)
		return err
	})
}

// fullTextContent is the indexed representation of an entity: name,
// entity type, and a flattened rendering of metadata, space-joined.
func fullTextContent(e Entity) string {
	parts := []string{e.Name, e.EntityType}
	if len(e.Metadata) > 0 {
		parts = append(parts, string(e.Metadata))
	}
	return strings.Join(parts, " ")
}

// IndexEntity replaces (delete-then-insert) the full-text document for one
// entity so re-indexing an updated entity never leaves a stale row behind.
func (s *Store) IndexEntity(ctx context.Context, e Entity) error {
	return s.withRecover(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities_fts WHERE id = ?`, e.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO entities_fts (id, content) VALUES (?, ?)`,
			e.ID, fullTextContent(e)); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ReindexAllFromEntities rebuilds the full-text index from scratch inside
// a single transaction: delete every row, then insert one per entity, so
// readers never observe a half-built index.
func (s *Store) ReindexAllFromEntities(ctx context.Context) (int, error) {
	var n int
	err := s.withRecover(func() error {
		entities, err := s.getAllEntitiesLocked(ctx)
		if err != nil {
			return err
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities_fts`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO entities_fts (id, content) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range entities {
			if _, err := stmt.ExecContext(ctx, e.ID, fullTextContent(e)); err != nil {
				return err
			}
		}
		n = len(entities)
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("knowledge: reindex full text: %w", err)
	}
	return n, nil
}

// getAllEntitiesLocked is GetAllEntities without re-taking the store's
// mutex; only callable from inside withRecover.
func (s *Store) getAllEntitiesLocked(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, entity_type, metadata, created_at, updated_at
		 FROM entities ORDER BY updated_at DESC LIMIT 50000`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FullTextHit is one full-text search result: an entity ID, its BM25-ish
// FTS5 rank, and a truncated content snippet.
type FullTextHit struct {
	EntityID string
	Rank     float64
	Snippet  string
}

const snippetHeadChars = 197

// snippet truncates content to the first 197 characters plus "..." when
// it exceeds 200 characters, otherwise returns it unchanged.
func snippet(content string) string {
	if len(content) > 200 {
		return content[:snippetHeadChars] + "..."
	}
	return content
}

// ftsQuery rewrites free-form query text into FTS5 syntax: each word
// becomes a quoted term and terms are OR-joined, so punctuation in user
// text can't produce a MATCH syntax error and any term may hit.
func ftsQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// FullTextSearch runs an FTS5 MATCH query and returns hits ordered by rank
// (best match first), each carrying a truncated snippet of its content.
func (s *Store) FullTextSearch(ctx context.Context, query string, limit int) ([]FullTextHit, error) {
	if limit <= 0 {
		limit = 20
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	var rows *sql.Rows
	var err error
	err = s.withRecover(func() error {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, content, rank FROM entities_fts WHERE entities_fts MATCH ? ORDER BY rank LIMIT ?`,
			match, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: full text search: %w", err)
	}
	defer rows.Close()
	var out []FullTextHit
	for rows.Next() {
		var id, content string
		var rank float64
		if err := rows.Scan(&id, &content, &rank); err != nil {
			return nil, fmt.Errorf("knowledge: scan full text hit: %w", err)
		}
		out = append(out, FullTextHit{EntityID: id, Rank: rank, Snippet: snippet(content)})
	}
	return out, rows.Err()
}

// DeleteFullText removes one entity's full-text document, e.g. after the
// entity itself is deleted.
func (s *Store) DeleteFullText(ctx context.Context, entityID string) error {
	return s.withRecover(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM entities_fts WHERE id = ?`, entityID)
		return err
	})
}
