package watcher

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type emitRecorder struct {
	mu      sync.Mutex
	entries []struct{ channel, content string }
}

func (r *emitRecorder) emit(_ context.Context, replyChannel, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, struct{ channel, content string }{replyChannel, content})
	return nil
}

func (r *emitRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *emitRecorder) last() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return "", ""
	}
	e := r.entries[len(r.entries)-1]
	return e.channel, e.content
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestScheduler(t *testing.T) (*Scheduler, *emitRecorder, *fakeClock) {
	t.Helper()
	rec := &emitRecorder{}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)}
	s := New(nil, rec.emit, WithNow(clock.Now))
	return s, rec, clock
}

func TestEffectiveIntervalRaisedToFloor(t *testing.T) {
	cases := []struct {
		kind Kind
		set  uint64
		want uint64
	}{
		{KindEmailWatch, 1, 60},
		{KindEmailWatch, 120, 120},
		{KindCalendarWatch, 60, 300},
		{KindGitHubWatch, 5, 30},
		{KindGitHubWatch, 45, 45},
	}
	for _, c := range cases {
		k := WatcherKind{Type: c.kind, IntervalSecs: c.set}
		if got := k.EffectiveIntervalSecs(); got != c.want {
			t.Errorf("%s interval %d: got %d, want %d", c.kind, c.set, got, c.want)
		}
	}
}

func TestScheduledCronFiresOnMatch(t *testing.T) {
	s, rec, clock := newTestScheduler(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, NewWatcher(WatcherKind{Type: KindScheduled, CronExpr: "*/1 * * * *", Task: "ping"}, "run the ping task", "cli")); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Before the next minute boundary, nothing fires.
	s.runDue(ctx)
	if rec.count() != 0 {
		t.Fatalf("expected no emissions before the cron match, got %d", rec.count())
	}

	// Every elapsed minute fires exactly once.
	for i := 1; i <= 3; i++ {
		clock.Advance(time.Minute)
		s.runDue(ctx)
		if rec.count() != i {
			t.Fatalf("after %d minutes: expected %d emissions, got %d", i, i, rec.count())
		}
	}

	channel, content := rec.last()
	if channel != "cli" {
		t.Fatalf("expected delivery on reply channel, got %q", channel)
	}
	if want := "run the ping task"; !contains(content, want) {
		t.Fatalf("expected action %q in content, got %q", want, content)
	}
	if !contains(content, "ping") {
		t.Fatalf("expected task payload in content, got %q", content)
	}
}

func TestOneShotFiresOnceThenDeactivates(t *testing.T) {
	s, rec, clock := newTestScheduler(t)
	ctx := context.Background()

	at := clock.Now().Add(30 * time.Second)
	w, err := s.Add(ctx, NewWatcher(WatcherKind{Type: KindOneShot, At: at, Task: "remind me"}, "deliver the reminder", "imessage"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	s.runDue(ctx)
	if rec.count() != 0 {
		t.Fatal("one-shot fired before its timestamp")
	}

	clock.Advance(time.Minute)
	s.runDue(ctx)
	if rec.count() != 1 {
		t.Fatalf("expected exactly one emission, got %d", rec.count())
	}

	clock.Advance(time.Hour)
	s.runDue(ctx)
	if rec.count() != 1 {
		t.Fatalf("one-shot fired again after deactivation, got %d emissions", rec.count())
	}

	for _, listed := range s.List() {
		if listed.ID == w.ID && listed.Active {
			t.Fatal("expected one-shot watcher to be inactive after firing")
		}
	}
}

type fakePollSource struct {
	events []WatcherEvent
	calls  int
}

func (f *fakePollSource) Poll(_ context.Context, w Watcher) ([]WatcherEvent, error) {
	f.calls++
	return f.events, nil
}

func TestPollingWatcherTicksAtFloorInterval(t *testing.T) {
	rec := &emitRecorder{}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	source := &fakePollSource{}
	s := New(nil, rec.emit, WithNow(clock.Now), WithPollSource(KindEmailWatch, source))
	ctx := context.Background()

	// interval_secs below the EmailWatch floor of 60 is raised, not honored.
	_, err := s.Add(ctx, NewWatcher(WatcherKind{Type: KindEmailWatch, IntervalSecs: 5}, "summarize new mail", "email"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	s.runDue(ctx)
	if source.calls != 1 {
		t.Fatalf("expected first poll immediately, got %d calls", source.calls)
	}

	clock.Advance(30 * time.Second)
	s.runDue(ctx)
	if source.calls != 1 {
		t.Fatalf("polled again before the floor interval elapsed (%d calls)", source.calls)
	}

	clock.Advance(31 * time.Second)
	s.runDue(ctx)
	if source.calls != 2 {
		t.Fatalf("expected second poll after 61s, got %d calls", source.calls)
	}
}

func TestPollingWatcherDeliversSourceEvents(t *testing.T) {
	rec := &emitRecorder{}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	source := &fakePollSource{events: []WatcherEvent{EmailEvent("w1", "boss@example.com", "urgent", "please review")}}
	s := New(nil, rec.emit, WithNow(clock.Now), WithPollSource(KindEmailWatch, source))
	ctx := context.Background()

	if _, err := s.Add(ctx, NewWatcher(WatcherKind{Type: KindEmailWatch}, "summarize new mail", "email")); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.runDue(ctx)
	if rec.count() != 1 {
		t.Fatalf("expected 1 delivered event, got %d", rec.count())
	}
	_, content := rec.last()
	if !contains(content, "urgent") {
		t.Fatalf("expected event payload in content, got %q", content)
	}
}

func TestMessageWatchMatchesKeywordCaseInsensitively(t *testing.T) {
	s, rec, _ := newTestScheduler(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, NewWatcher(WatcherKind{Type: KindMessageWatch, Keyword: "deploy"}, "watch for deploys", "slack")); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.NotifyMessage(ctx, "nothing to see here")
	if rec.count() != 0 {
		t.Fatal("expected no match for unrelated content")
	}

	s.NotifyMessage(ctx, "The DEPLOY finished")
	if rec.count() != 1 {
		t.Fatalf("expected a case-insensitive keyword match, got %d emissions", rec.count())
	}
}

func TestAddRejectsInvalidCronExpression(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	if _, err := s.Add(context.Background(), NewWatcher(WatcherKind{Type: KindScheduled, CronExpr: "not a cron", Task: "x"}, "a", "cli")); err == nil {
		t.Fatal("expected invalid cron expression to be rejected")
	}
}

func TestSetActiveUnknownWatcher(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	if err := s.SetActive(context.Background(), "missing", false); err == nil {
		t.Fatal("expected error for unknown watcher ID")
	}
}

func TestDeactivatedWatcherDoesNotFire(t *testing.T) {
	s, rec, clock := newTestScheduler(t)
	ctx := context.Background()

	w, err := s.Add(ctx, NewWatcher(WatcherKind{Type: KindScheduled, CronExpr: "*/1 * * * *", Task: "ping"}, "run", "cli"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.SetActive(ctx, w.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	clock.Advance(2 * time.Minute)
	s.runDue(ctx)
	if rec.count() != 0 {
		t.Fatalf("deactivated watcher fired %d times", rec.count())
	}
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
