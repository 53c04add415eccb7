package signaling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handler receives inbound messages. Calls for one subscription are
// sequential and in publish order.
type Handler func(Message)

// Subscription identifies a registered handler.
type Subscription struct {
	ID string
}

// Channel is a broadcast bus: every published message reaches every current
// subscriber, in order per sender, at least once. Publish never waits for
// handlers to run.
type Channel interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(handler Handler) Subscription
	Unsubscribe(sub Subscription)
	Close() error
}

var ErrClosed = errors.New("signaling channel closed")

// ---------------------------------------------------------------------------
// hub: fan-out to per-subscriber ordered queues
// ---------------------------------------------------------------------------

// hub is shared by every Channel implementation. Each subscriber owns an
// unbounded FIFO drained by its own goroutine, so a slow handler delays
// only itself.
type hub struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	delay  func(Message) time.Duration
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[string]*subscriber)}
}

func (h *hub) subscribe(handler Handler) Subscription {
	s := &subscriber{
		handler: handler,
		delay:   h.delay,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	sub := Subscription{ID: uuid.NewString()}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return sub
	}
	h.subs[sub.ID] = s
	go s.run()
	return sub
}

func (h *hub) unsubscribe(sub Subscription) {
	h.mu.Lock()
	s, ok := h.subs[sub.ID]
	delete(h.subs, sub.ID)
	h.mu.Unlock()

	if ok {
		s.stop()
	}
}

func (h *hub) broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		s.push(msg)
	}
}

func (h *hub) close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*subscriber)
	h.closed = true
	h.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

type subscriber struct {
	handler Handler
	delay   func(Message) time.Duration

	mu    sync.Mutex
	queue []Message

	wake    chan struct{}
	done    chan struct{}
	stopped atomic.Bool
}

func (s *subscriber) push(msg Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pop() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Message{}, false
	}
	msg := s.queue[0]
	s.queue[0] = Message{}
	s.queue = s.queue[1:]
	return msg, true
}

func (s *subscriber) stop() {
	if s.stopped.CompareAndSwap(false, true) {
		close(s.done)
	}
}

// run delivers queued messages one at a time. A per-message delay, when
// configured, holds back the rest of the queue too, so order is kept.
func (s *subscriber) run() {
	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}

		for {
			msg, ok := s.pop()
			if !ok {
				break
			}

			if s.delay != nil {
				if d := s.delay(msg); d > 0 {
					timer := time.NewTimer(d)
					select {
					case <-timer.C:
					case <-s.done:
						timer.Stop()
						return
					}
				}
			}

			if s.stopped.Load() {
				return
			}
			s.handler(msg)
		}
	}
}
