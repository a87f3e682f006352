// Package ratelimit implements a per-sender sliding-window rate limiter for
// channel adapters.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Limiter tracks a sliding window of message timestamps per sender and
// decides whether a new message from that sender should be allowed.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	maxMessages    int
	windowDuration time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// New creates a limiter allowing maxMessages per sender within window.
func New(maxMessages int, window time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		windows:        make(map[string][]time.Time),
		maxMessages:    maxMessages,
		windowDuration: window,
		now:            time.Now,
		logger:         logger,
	}
}

// CheckAndRecord reports whether a message from sender is within the rate
// limit. If allowed, the message's timestamp is recorded against the
// sender's window as a side effect.
func (l *Limiter) CheckAndRecord(sender string) bool {
	now := l.now()
	cutoff := now.Add(-l.windowDuration)

	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.windows[sender]
	i := 0
	for i < len(window) && window[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		window = window[i:]
	}

	if len(window) >= l.maxMessages {
		l.logger.Warn("rate limit exceeded",
			"sender", sender,
			"count", len(window),
			"window", l.windowDuration,
			"limit", l.maxMessages,
		)
		l.windows[sender] = window
		return false
	}

	l.windows[sender] = append(window, now)
	return true
}

// Prune drops any sender whose window is currently empty, bounding map
// growth for adapters with many transient senders.
func (l *Limiter) Prune() {
	now := l.now()
	cutoff := now.Add(-l.windowDuration)

	l.mu.Lock()
	defer l.mu.Unlock()
	for sender, window := range l.windows {
		i := 0
		for i < len(window) && window[i].Before(cutoff) {
			i++
		}
		if i == len(window) {
			delete(l.windows, sender)
			continue
		}
		if i > 0 {
			l.windows[sender] = window[i:]
		}
	}
}
