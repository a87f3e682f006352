package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/kavymi/meepo/internal/knowledge"
)

// PollSource fetches whatever a polling watcher is watching for (new mail,
// upcoming calendar events, repository activity) and returns any events
// that should fire. A nil source makes its watcher kind a no-op.
type PollSource interface {
	Poll(ctx context.Context, w Watcher) ([]WatcherEvent, error)
}

// EmitFunc delivers a triggered watcher's rendered content to its reply
// channel, mirroring the step where a WatcherEvent becomes an inbound
// message back into the agent loop.
type EmitFunc func(ctx context.Context, replyChannel, content string) error

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithTickInterval overrides the polling-loop granularity (default 1s).
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithPollSource registers the source used to poll watchers of the given
// kind.
func WithPollSource(kind Kind, source PollSource) Option {
	return func(s *Scheduler) { s.pollSources[kind] = source }
}

// WithNow overrides the scheduler's clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

type entry struct {
	watcher      Watcher
	nextRun      time.Time
	cronSchedule cron.Schedule
}

// Scheduler drives the full set of active watchers: ticking polling
// sources at their floor interval, evaluating cron/one-shot schedules,
// reacting to filesystem events via fsnotify, and routing inbound bus
// messages to MessageWatch entries.
type Scheduler struct {
	mu      sync.Mutex
	logger  *slog.Logger
	store   *knowledge.Store
	emit    EmitFunc
	now     func() time.Time
	entries map[string]*entry

	pollSources map[Kind]PollSource

	tickInterval time.Duration
	started      bool
	stopCh       chan struct{}
	wg           sync.WaitGroup

	fsWatcher    *fsnotify.Watcher
	pathToIDs    map[string][]string
}

// New creates a scheduler. store may be nil for tests that never call
// Load/persist; emit must not be nil once Start is called against a
// non-empty watcher set.
func New(store *knowledge.Store, emit EmitFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		emit:         emit,
		now:          func() time.Time { return time.Now().UTC() },
		entries:      make(map[string]*entry),
		pollSources:  make(map[Kind]PollSource),
		tickInterval: time.Second,
		pathToIDs:    make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Load reads every active watcher from the store and schedules it.
func (s *Scheduler) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	records, err := s.store.GetActiveWatchers(ctx)
	if err != nil {
		return fmt.Errorf("watcher: load active watchers: %w", err)
	}
	for _, rec := range records {
		var kind WatcherKind
		if err := json.Unmarshal(rec.Config, &kind); err != nil {
			s.logger.Warn("watcher: skipping record with unreadable config", "id", rec.ID, "error", err)
			continue
		}
		kind.Type = Kind(rec.Kind)
		w := Watcher{
			ID:           rec.ID,
			Kind:         kind,
			Action:       rec.Action,
			ReplyChannel: rec.ReplyChannel,
			Active:       rec.Active,
			CreatedAt:    rec.CreatedAt,
		}
		if err := s.schedule(w); err != nil {
			s.logger.Warn("watcher: could not schedule watcher", "id", w.ID, "error", err)
		}
	}
	return nil
}

// Add persists a new watcher and schedules it immediately.
func (s *Scheduler) Add(ctx context.Context, w Watcher) (Watcher, error) {
	if s.store != nil {
		id, err := s.store.InsertWatcher(ctx, string(w.Kind.Type), w.Kind, w.Action, w.ReplyChannel)
		if err != nil {
			return Watcher{}, fmt.Errorf("watcher: persist: %w", err)
		}
		w.ID = id
	}
	if err := s.schedule(w); err != nil {
		return Watcher{}, err
	}
	return w, nil
}

// Remove deactivates and forgets a watcher.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	s.unscheduleLocked(id)
	s.mu.Unlock()
	if s.store != nil {
		return s.store.DeleteWatcher(ctx, id)
	}
	return nil
}

// SetActive activates or deactivates a watcher.
func (s *Scheduler) SetActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		e.watcher.Active = active
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("watcher: unknown watcher %q", id)
	}
	if !active {
		s.mu.Lock()
		s.unscheduleFSLocked(id)
		s.mu.Unlock()
	}
	if s.store != nil {
		return s.store.UpdateWatcherActive(ctx, id, active)
	}
	return nil
}

// List returns a snapshot of every scheduled watcher, sorted by ID.
func (s *Scheduler) List() []Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Watcher, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.watcher)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) schedule(w Watcher) error {
	e := &entry{watcher: w}
	if w.Kind.Type == KindScheduled {
		sched, err := cron.ParseStandard(w.Kind.CronExpr)
		if err != nil {
			return fmt.Errorf("watcher: invalid cron expression %q: %w", w.Kind.CronExpr, err)
		}
		e.cronSchedule = sched
		e.nextRun = sched.Next(s.now())
	} else if w.Kind.Type == KindOneShot {
		e.nextRun = w.Kind.At
	} else if w.Kind.IsPolling() {
		e.nextRun = s.now()
	}

	s.mu.Lock()
	s.entries[w.ID] = e
	s.mu.Unlock()

	if w.Kind.Type == KindFileWatch && w.Active {
		s.watchPath(w.ID, w.Kind.Path)
	}
	return nil
}

func (s *Scheduler) unscheduleLocked(id string) {
	delete(s.entries, id)
	s.unscheduleFSLocked(id)
}

func (s *Scheduler) unscheduleFSLocked(id string) {
	for path, ids := range s.pathToIDs {
		kept := ids[:0]
		for _, existing := range ids {
			if existing != id {
				kept = append(kept, existing)
			}
		}
		if len(kept) == 0 {
			delete(s.pathToIDs, path)
			if s.fsWatcher != nil {
				_ = s.fsWatcher.Remove(path)
			}
		} else {
			s.pathToIDs[path] = kept
		}
	}
}

func (s *Scheduler) watchPath(id, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fsWatcher == nil {
		return
	}
	if _, ok := s.pathToIDs[path]; !ok {
		if err := s.fsWatcher.Add(path); err != nil {
			s.logger.Warn("watcher: could not watch path", "path", path, "error", err)
			return
		}
	}
	s.pathToIDs[path] = append(s.pathToIDs[path], id)
}

// Start creates the fsnotify watcher, registers active FileWatch paths,
// and begins the ticker loop and the fsnotify event loop. It returns an
// error if the fsnotify watcher cannot be created. Start is idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	// The fsnotify watcher is created unconditionally so FileWatch
	// watchers added after Start can register their paths.
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}
	s.mu.Lock()
	s.fsWatcher = fw
	for _, e := range s.entries {
		if e.watcher.Kind.Type == KindFileWatch && e.watcher.Active {
			s.watchPathLocked(e.watcher.ID, e.watcher.Kind.Path)
		}
	}
	s.mu.Unlock()
	s.wg.Add(1)
	go s.runFSLoop(ctx)

	s.wg.Add(1)
	go s.runTickLoop(ctx)
	return nil
}

func (s *Scheduler) watchPathLocked(id, path string) {
	if _, ok := s.pathToIDs[path]; !ok {
		if err := s.fsWatcher.Add(path); err != nil {
			s.logger.Warn("watcher: could not watch path", "path", path, "error", err)
			return
		}
	}
	s.pathToIDs[path] = append(s.pathToIDs[path], id)
}

// Stop signals every running loop to exit and waits for them, up to the
// given context's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stopCh)
	fw := s.fsWatcher
	s.mu.Unlock()

	if fw != nil {
		_ = fw.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runTickLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) runFSLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-s.fsWatcher.Events:
			if !ok {
				return
			}
			s.handleFSEvent(ctx, ev)
		case err, ok := <-s.fsWatcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher: fsnotify error", "error", err)
		}
	}
}

func (s *Scheduler) handleFSEvent(ctx context.Context, ev fsnotify.Event) {
	s.mu.Lock()
	ids := append([]string(nil), s.pathToIDs[ev.Name]...)
	s.mu.Unlock()

	changeType := "modified"
	switch {
	case ev.Op&fsnotify.Create != 0:
		changeType = "created"
	case ev.Op&fsnotify.Remove != 0:
		changeType = "removed"
	case ev.Op&fsnotify.Rename != 0:
		changeType = "renamed"
	case ev.Op&fsnotify.Write != 0:
		changeType = "modified"
	}

	for _, id := range ids {
		s.mu.Lock()
		e, ok := s.entries[id]
		s.mu.Unlock()
		if !ok || !e.watcher.Active {
			continue
		}
		s.deliver(ctx, e.watcher, FileChangedEvent(id, ev.Name, changeType))
	}
}

// NotifyMessage runs every active MessageWatch against content observed on
// the bus and delivers events for keyword matches.
func (s *Scheduler) NotifyMessage(ctx context.Context, content string) {
	lower := strings.ToLower(content)
	s.mu.Lock()
	var matched []Watcher
	for _, e := range s.entries {
		if e.watcher.Kind.Type != KindMessageWatch || !e.watcher.Active {
			continue
		}
		if strings.Contains(lower, strings.ToLower(e.watcher.Kind.Keyword)) {
			matched = append(matched, e.watcher)
		}
	}
	s.mu.Unlock()

	for _, w := range matched {
		s.deliver(ctx, w, NewEvent(w.ID, "message_matched", map[string]any{"keyword": w.Kind.Keyword, "content": content}))
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	due := make([]*entry, 0)
	for _, e := range s.entries {
		if !e.watcher.Active {
			continue
		}
		if e.watcher.Kind.IsPolling() || e.watcher.Kind.IsScheduled() {
			if !e.nextRun.IsZero() && !now.Before(e.nextRun) {
				due = append(due, e)
			}
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.runEntry(ctx, e, now)
	}
}

func (s *Scheduler) runEntry(ctx context.Context, e *entry, now time.Time) {
	w := e.watcher

	switch {
	case w.Kind.IsPolling():
		source := s.pollSources[w.Kind.Type]
		var events []WatcherEvent
		if source != nil {
			var err error
			events, err = source.Poll(ctx, w)
			if err != nil {
				s.logger.Warn("watcher: poll failed", "id", w.ID, "kind", w.Kind.Type, "error", err)
			}
		}
		for _, ev := range events {
			s.deliver(ctx, w, ev)
		}
		s.mu.Lock()
		e.nextRun = now.Add(time.Duration(w.Kind.EffectiveIntervalSecs()) * time.Second)
		s.mu.Unlock()

	case w.Kind.Type == KindScheduled:
		s.deliver(ctx, w, TaskEvent(w.ID, w.Kind.Task))
		s.mu.Lock()
		if e.cronSchedule != nil {
			e.nextRun = e.cronSchedule.Next(now)
		}
		s.mu.Unlock()

	case w.Kind.Type == KindOneShot:
		s.deliver(ctx, w, TaskEvent(w.ID, w.Kind.Task))
		s.mu.Lock()
		e.watcher.Active = false
		e.nextRun = time.Time{}
		s.mu.Unlock()
		if s.store != nil {
			if err := s.store.UpdateWatcherActive(ctx, w.ID, false); err != nil {
				s.logger.Warn("watcher: could not deactivate one-shot watcher", "id", w.ID, "error", err)
			}
		}
	}
}

func (s *Scheduler) deliver(ctx context.Context, w Watcher, ev WatcherEvent) {
	if s.emit == nil {
		return
	}
	content := FormatEvent(w, ev)
	if err := s.emit(ctx, w.ReplyChannel, content); err != nil {
		s.logger.Warn("watcher: delivery failed", "id", w.ID, "channel", w.ReplyChannel, "error", err)
	}
}

// FormatEvent renders a triggered watcher event as the body of an inbound
// message, prepending the watcher's action as context.
func FormatEvent(w Watcher, ev WatcherEvent) string {
	payload, _ := json.Marshal(ev.Payload)
	return fmt.Sprintf("Watcher triggered (%s): %s\n\n%s", ev.Kind, w.Action, string(payload))
}
