// Package notesadapter is a concrete example channel adapter: a polling
// adapter backed by a local flat-file "notes" store instead of an
// OS-scripting bridge (Contacts.app/AppleScript, in the adapter this one
// is grounded on), demonstrating the channel.PollingAdapter contract end
// to end.
package notesadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kavymi/meepo/internal/channel"
)

const (
	startTag = "<<NOTE_START>>"
	endTag   = "<<NOTE_END>>"

	// TagInbox marks a note as not yet delivered to the bus.
	TagInbox = "inbox"
	// TagDone marks a note as already delivered, the polling loop's
	// consumption side-effect.
	TagDone = "done"
)

// ChannelType is the Type this adapter registers under.
const ChannelType channel.Type = "notes"

// Note is one entry in the flat-file store.
type Note struct {
	ID    string
	Title string
	Body  string
	Tag   string
}

func (n Note) render() string {
	return channel.FormatDelimitedBlock(startTag, endTag, [][2]string{
		{"ID", n.ID},
		{"Title", n.Title},
		{"Body", n.Body},
		{"Tag", n.Tag},
	})
}

func parseNote(fields map[string]string) (Note, bool) {
	id := fields["ID"]
	if id == "" {
		return Note{}, false
	}
	return Note{
		ID:    id,
		Title: fields["Title"],
		Body:  fields["Body"],
		Tag:   fields["Tag"],
	}, true
}

// Store is the flat-file persistence layer: every note is rendered as a
// delimited block, one per line group, in a single text file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by path, creating its parent directory
// if necessary.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("notesadapter: create store dir: %w", err)
	}
	return &Store{path: path}, nil
}

func (s *Store) load() ([]Note, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notesadapter: read store: %w", err)
	}
	var notes []Note
	for _, fields := range channel.ParseDelimitedBlocks(string(data), startTag, endTag) {
		if n, ok := parseNote(fields); ok {
			notes = append(notes, n)
		}
	}
	return notes, nil
}

func (s *Store) save(notes []Note) error {
	var b strings.Builder
	for _, n := range notes {
		b.WriteString(n.render())
		b.WriteString("\n")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("notesadapter: write store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Append adds a new note tagged TagInbox and returns its generated ID.
func (s *Store) Append(title, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	notes, err := s.load()
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	notes = append(notes, Note{ID: id, Title: title, Body: body, Tag: TagInbox})
	return id, s.save(notes)
}

// ListByTag returns every note currently carrying the given tag.
func (s *Store) ListByTag(tag string) ([]Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []Note
	for _, n := range notes {
		if n.Tag == tag {
			out = append(out, n)
		}
	}
	return out, nil
}

// SetTag rewrites one note's tag in place — the consumption side-effect
// that keeps an emitted note from being re-enumerated.
func (s *Store) SetTag(id, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes, err := s.load()
	if err != nil {
		return err
	}
	found := false
	for i := range notes {
		if notes[i].ID == id {
			notes[i].Tag = tag
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("notesadapter: note %q not found", id)
	}
	return s.save(notes)
}

// enumerator adapts Store into channel.Enumerator, filtering on TagInbox.
type enumerator struct {
	store  *Store
	logger *slog.Logger
}

func (e *enumerator) Enumerate(_ context.Context) ([]channel.PolledItem, error) {
	notes, err := e.store.ListByTag(TagInbox)
	if err != nil {
		return nil, err
	}
	items := make([]channel.PolledItem, 0, len(notes))
	for _, n := range notes {
		n := n
		content := n.Title
		if n.Body != "" {
			content = n.Title + "\n" + n.Body
		}
		items = append(items, channel.PolledItem{
			ID:      "note_" + n.ID,
			Sender:  "notes",
			Content: content,
			Consume: func(_ context.Context) error {
				return e.store.SetTag(n.ID, TagDone)
			},
		})
	}
	return items, nil
}

// Adapter is a notes channel: a PollingAdapter for inbound delivery plus
// Send to create new notes from outgoing messages.
type Adapter struct {
	*channel.PollingAdapter
	store  *Store
	logger *slog.Logger
}

// New returns a notes adapter reading/writing notesPath, polling every
// pollInterval via the embedded channel.PollingAdapter.
func New(notesPath string, pollInterval time.Duration, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := NewStore(notesPath)
	if err != nil {
		return nil, err
	}
	enum := &enumerator{store: store, logger: logger}
	return &Adapter{
		PollingAdapter: channel.NewPollingAdapter(ChannelType, pollInterval, enum, logger),
		store:          store,
		logger:         logger,
	}, nil
}

// Send creates a new inbox note from an outgoing message. Acknowledgments
// have no note-store representation and are silently dropped, matching
// the "no back-channel" rule for adapters that cannot carry an ack.
func (a *Adapter) Send(_ context.Context, msg channel.OutgoingMessage) error {
	if msg.Kind == channel.KindAcknowledgment {
		a.logger.Debug("notesadapter: dropping acknowledgment, no back-channel")
		return nil
	}
	title, body := splitTitleBody(msg.Content)
	_, err := a.store.Append(title, body)
	return err
}

// splitTitleBody treats the first line as the title and the remainder as
// the body, matching the plain-text fallback this adapter's grounding
// source uses when content carries no structured fields.
func splitTitleBody(content string) (string, string) {
	title, body, found := strings.Cut(content, "\n")
	if !found {
		return strings.TrimSpace(content), ""
	}
	return strings.TrimSpace(title), strings.TrimSpace(body)
}
