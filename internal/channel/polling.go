package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PolledItem is one candidate item surfaced by an Enumerator: a durable ID
// to dedupe on, the content to deliver as an IncomingMessage, and the
// consumption side-effect to apply once it has been emitted so the same
// item is not re-emitted on the next tick.
type PolledItem struct {
	ID      string
	Sender  string
	Content string
	Consume func(ctx context.Context) error
}

// Enumerator lists candidate items from a backing store matching whatever
// filter the concrete adapter was configured with. Errors are logged and
// swallowed by PollingAdapter so one bad poll does not stop the loop.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]PolledItem, error)
}

// PollingAdapter is the shared loop behind email/contact/note-style
// adapters: tick on an interval, enumerate candidates, emit one
// IncomingMessage per item not already in seen_ids, then apply the item's
// consumption side-effect. It satisfies LifecycleAdapter and Adapter;
// embed or wrap it to add OutboundAdapter/HealthAdapter as needed.
type PollingAdapter struct {
	channelType Type
	interval    time.Duration
	source      Enumerator
	logger      *slog.Logger

	mu   sync.Mutex
	seen map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPollingAdapter returns a polling adapter for channelType, ticking at
// interval and drawing candidates from source.
func NewPollingAdapter(channelType Type, interval time.Duration, source Enumerator, logger *slog.Logger) *PollingAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingAdapter{
		channelType: channelType,
		interval:    interval,
		source:      source,
		logger:      logger,
		seen:        make(map[string]bool),
	}
}

func (p *PollingAdapter) Type() Type { return p.channelType }

// Start begins the tick loop in a background goroutine, feeding incoming.
// It returns once the loop goroutine has been launched.
func (p *PollingAdapter) Start(ctx context.Context, incoming chan<- IncomingMessage) error {
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				p.poll(loopCtx, incoming)
			}
		}
	}()
	return nil
}

// Stop cancels the tick loop and waits for it to exit.
func (p *PollingAdapter) Stop(_ context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
	return nil
}

func (p *PollingAdapter) poll(ctx context.Context, incoming chan<- IncomingMessage) {
	items, err := p.source.Enumerate(ctx)
	if err != nil {
		p.logger.Warn("channel: poll failed", "channel_type", p.channelType, "error", err)
		return
	}

	for _, item := range items {
		if item.ID == "" {
			continue
		}
		p.mu.Lock()
		if p.seen[item.ID] {
			p.mu.Unlock()
			continue
		}
		p.seen[item.ID] = true
		p.mu.Unlock()

		msg := IncomingMessage{
			ID:      item.ID,
			Channel: p.channelType,
			Sender:  item.Sender,
			Content: item.Content,
			At:      time.Now().UTC(),
		}
		select {
		case incoming <- msg:
		case <-ctx.Done():
			return
		}

		if item.Consume != nil {
			if err := item.Consume(ctx); err != nil {
				p.logger.Warn("channel: consumption side-effect failed", "channel_type", p.channelType, "item_id", item.ID, "error", err)
			}
		}
	}
}

// SeenCount reports how many item IDs this adapter has deduplicated
// against during its lifetime, for tests and diagnostics.
func (p *PollingAdapter) SeenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}
