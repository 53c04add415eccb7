package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/1ureka/nexzi/internal/util"
)

// MemoryBus is an in-process Channel. The relay uses it as its default
// backplane and tests use it in place of a network.
type MemoryBus struct {
	hub  *hub
	once sync.Once
}

// MemoryOption configures a MemoryBus.
type MemoryOption func(*MemoryBus)

// WithDelay holds every delivery back by the duration fn returns for it.
// Ordering per subscriber is unaffected.
func WithDelay(fn func(Message) time.Duration) MemoryOption {
	return func(b *MemoryBus) { b.hub.delay = fn }
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus(opts ...MemoryOption) *MemoryBus {
	b := &MemoryBus{hub: newHub()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish validates msg and queues it for every subscriber.
func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	b.hub.mu.RLock()
	closed := b.hub.closed
	b.hub.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	util.LogDebug("bus: %s → %s", msg.Type, msg.Target)
	b.hub.broadcast(msg)
	return nil
}

func (b *MemoryBus) Subscribe(handler Handler) Subscription { return b.hub.subscribe(handler) }

func (b *MemoryBus) Unsubscribe(sub Subscription) { b.hub.unsubscribe(sub) }

// Close stops every subscriber; later publishes fail with ErrClosed.
func (b *MemoryBus) Close() error {
	b.once.Do(b.hub.close)
	return nil
}
