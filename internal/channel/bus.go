package channel

import (
	"context"
	"fmt"
	"log/slog"
)

// Bus is the single bounded incoming queue plus the adapter directory it
// is paired with. Adapters publish into it; one consumer task drains it
// and hands each message to the agent loop; outgoing messages are routed
// back out through the same directory.
type Bus struct {
	registry *Registry
	incoming chan IncomingMessage
	logger   *slog.Logger
}

// New returns a bus with a bounded queue of the given capacity.
func New(registry *Registry, capacity int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		registry: registry,
		incoming: make(chan IncomingMessage, capacity),
		logger:   logger,
	}
}

// Registry returns the bus's adapter directory.
func (b *Bus) Registry() *Registry { return b.registry }

// StartAdapters starts every registered lifecycle adapter, wiring them to
// feed this bus's incoming queue.
func (b *Bus) StartAdapters(ctx context.Context) error {
	return b.registry.StartAll(ctx, b.incoming)
}

// StopAdapters stops every registered lifecycle adapter.
func (b *Bus) StopAdapters(ctx context.Context) error {
	return b.registry.StopAll(ctx)
}

// Publish pushes an incoming message onto the queue, blocking (with
// backpressure) until there is room or ctx is done. Adapters not built on
// the PollingAdapter helper call this directly from their own Start loop.
func (b *Bus) Publish(ctx context.Context, msg IncomingMessage) error {
	select {
	case b.incoming <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler processes one incoming message. Returning an error only logs;
// it does not stop the consumer loop.
type Handler func(ctx context.Context, msg IncomingMessage) error

// Run drains the incoming queue, calling handler for each message in
// arrival order, until ctx is cancelled. This is the bus's single
// consumer task; FIFO delivery per producer follows from the channel's
// own ordering guarantee.
func (b *Bus) Run(ctx context.Context, handler Handler) error {
	for {
		select {
		case msg, ok := <-b.incoming:
			if !ok {
				return nil
			}
			if err := handler(ctx, msg); err != nil {
				b.logger.Error("bus: handler failed", "channel", msg.Channel, "sender", msg.Sender, "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send routes an outgoing message to its channel's outbound adapter.
// A missing adapter is logged and the message is dropped, per the
// adapter directory's routing contract — acknowledgments in particular
// are expected to be silently dropped by adapters with no back-channel.
func (b *Bus) Send(ctx context.Context, msg OutgoingMessage) error {
	adapter, ok := b.registry.GetOutbound(msg.Channel)
	if !ok {
		if msg.Kind == KindAcknowledgment {
			b.logger.Debug("bus: no outbound adapter for acknowledgment, dropping", "channel", msg.Channel)
			return nil
		}
		b.logger.Warn("bus: no outbound adapter registered, dropping message", "channel", msg.Channel, "kind", msg.Kind)
		return fmt.Errorf("channel: no outbound adapter registered for %q", msg.Channel)
	}
	if err := adapter.Send(ctx, msg); err != nil {
		b.logger.Error("bus: send failed", "channel", msg.Channel, "kind", msg.Kind, "error", err)
		return err
	}
	return nil
}
