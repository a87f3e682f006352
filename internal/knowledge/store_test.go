package knowledge

import (
	"context"
	"testing"
)

func TestEntityInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertEntity(ctx, "Ada Lovelace", "person", map[string]any{"role": "mathematician"})
	if err != nil {
		t.Fatalf("insert entity: %v", err)
	}

	e, err := s.GetEntity(ctx, id)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if e.Name != "Ada Lovelace" || e.EntityType != "person" {
		t.Fatalf("unexpected entity: %+v", e)
	}
	if len(e.Metadata) == 0 {
		t.Fatal("expected metadata to round-trip")
	}
}

func TestGetEntityNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetEntity(context.Background(), "no-such-id"); err == nil {
		t.Fatal("expected error for unknown entity")
	}
}

func TestSearchEntitiesSubstringAndTypeFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertEntity(ctx, "Project Apollo", "project", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertEntity(ctx, "Apollo Creed", "person", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	all, err := s.SearchEntities(ctx, "apollo", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 case-insensitive matches, got %d", len(all))
	}

	people, err := s.SearchEntities(ctx, "apollo", "person")
	if err != nil {
		t.Fatalf("search with type: %v", err)
	}
	if len(people) != 1 || people[0].Name != "Apollo Creed" {
		t.Fatalf("expected only the person match, got %+v", people)
	}
}

func TestRelationshipsBothDirectionsAndCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, _ := s.InsertEntity(ctx, "Alice", "person", nil)
	bob, _ := s.InsertEntity(ctx, "Bob", "person", nil)
	if _, err := s.InsertRelationship(ctx, alice, bob, "knows", nil); err != nil {
		t.Fatalf("insert relationship: %v", err)
	}

	fromAlice, err := s.GetRelationshipsFor(ctx, alice)
	if err != nil {
		t.Fatalf("relationships for source: %v", err)
	}
	fromBob, err := s.GetRelationshipsFor(ctx, bob)
	if err != nil {
		t.Fatalf("relationships for target: %v", err)
	}
	if len(fromAlice) != 1 || len(fromBob) != 1 {
		t.Fatalf("expected the edge visible from both endpoints, got %d and %d", len(fromAlice), len(fromBob))
	}

	// Deleting an endpoint entity removes the relationship via the
	// cascading foreign key.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, alice); err != nil {
		t.Fatalf("delete entity: %v", err)
	}
	left, err := s.GetRelationshipsFor(ctx, bob)
	if err != nil {
		t.Fatalf("relationships after cascade: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("expected cascade to remove the relationship, got %d", len(left))
	}
}

func TestInsertRelationshipRejectsUnknownEntity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice, _ := s.InsertEntity(ctx, "Alice", "person", nil)
	if _, err := s.InsertRelationship(ctx, alice, "no-such-entity", "knows", nil); err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestConversationsRecencyOrderAndChannelFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, c := range []struct{ channel, content string }{
		{"imessage", "first"},
		{"email", "second"},
		{"imessage", "third"},
	} {
		if _, err := s.InsertConversation(ctx, c.channel, "alice", c.content, nil); err != nil {
			t.Fatalf("insert conversation: %v", err)
		}
	}

	recent, err := s.GetRecentConversations(ctx, "", 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(recent))
	}
	if recent[0].Content != "third" {
		t.Fatalf("expected newest first, got %q", recent[0].Content)
	}

	imessage, err := s.GetRecentConversations(ctx, "imessage", 10)
	if err != nil {
		t.Fatalf("get by channel: %v", err)
	}
	if len(imessage) != 2 {
		t.Fatalf("expected 2 imessage conversations, got %d", len(imessage))
	}
}

func TestCleanupOldConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertConversation(ctx, "email", "alice", "keep me", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Backdate one row past the retention horizon.
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, channel, sender, content, created_at)
		 VALUES ('old', 'email', 'bob', 'stale', '2020-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("insert stale row: %v", err)
	}

	n, err := s.CleanupOldConversations(ctx, 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted row, got %d", n)
	}
	left, _ := s.GetRecentConversations(ctx, "", 10)
	if len(left) != 1 || left[0].Content != "keep me" {
		t.Fatalf("expected only the fresh conversation to remain, got %+v", left)
	}
}

func TestWatcherCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertWatcher(ctx, "Scheduled", map[string]any{"cron_expr": "*/5 * * * *", "task": "ping"}, "run the task", "cli")
	if err != nil {
		t.Fatalf("insert watcher: %v", err)
	}

	active, err := s.GetActiveWatchers(ctx)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if len(active) != 1 || active[0].ID != id || active[0].Kind != "Scheduled" {
		t.Fatalf("unexpected active watchers: %+v", active)
	}

	if err := s.UpdateWatcherActive(ctx, id, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, _ = s.GetActiveWatchers(ctx)
	if len(active) != 0 {
		t.Fatalf("expected no active watchers after deactivation, got %d", len(active))
	}

	if err := s.DeleteWatcher(ctx, id); err != nil {
		t.Fatalf("delete watcher: %v", err)
	}
}

func TestFullTextIndexAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureFullText(ctx); err != nil {
		t.Fatalf("ensure fts: %v", err)
	}

	id, _ := s.InsertEntity(ctx, "Tokio runtime notes", "note", map[string]any{"topic": "async scheduling"})
	e, _ := s.GetEntity(ctx, id)
	if err := s.IndexEntity(ctx, e); err != nil {
		t.Fatalf("index entity: %v", err)
	}

	hits, err := s.FullTextSearch(ctx, "async runtime?", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].EntityID != id {
		t.Fatalf("expected one hit for %s, got %+v", id, hits)
	}

	// Re-indexing the same entity replaces its document instead of
	// accumulating a duplicate.
	if err := s.IndexEntity(ctx, e); err != nil {
		t.Fatalf("reindex entity: %v", err)
	}
	hits, _ = s.FullTextSearch(ctx, "runtime", 10)
	if len(hits) != 1 {
		t.Fatalf("expected reindex to replace, got %d hits", len(hits))
	}
}

func TestFullTextRebuild(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureFullText(ctx); err != nil {
		t.Fatalf("ensure fts: %v", err)
	}

	for _, name := range []string{"alpha release plan", "beta release plan"} {
		if _, err := s.InsertEntity(ctx, name, "plan", nil); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	n, err := s.ReindexAllFromEntities(ctx)
	if err != nil {
		t.Fatalf("reindex all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 indexed entities, got %d", n)
	}
	hits, err := s.FullTextSearch(ctx, "release", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits after rebuild, got %d", len(hits))
	}
}

func TestFullTextSearchEmptyQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureFullText(ctx); err != nil {
		t.Fatalf("ensure fts: %v", err)
	}
	hits, err := s.FullTextSearch(ctx, "?!...", 10)
	if err != nil {
		t.Fatalf("punctuation-only query should not error: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
}
