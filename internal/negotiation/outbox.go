package negotiation

import (
	"context"
	"sync"

	"github.com/1ureka/nexzi/internal/signaling"
	"github.com/1ureka/nexzi/internal/util"
)

// outbox publishes signaling messages in order on its own goroutine, so a
// slow channel never holds up the loop.
type outbox struct {
	pub Publisher

	mu     sync.Mutex
	queue  []outgoing
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// outgoing is a queued message, or a flush marker when ack is set.
type outgoing struct {
	msg signaling.Message
	ack chan struct{}
}

func newOutbox(pub Publisher) *outbox {
	o := &outbox{
		pub:  pub,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) push(item outgoing) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.queue = append(o.queue, item)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return true
}

// send queues msg behind everything sent before it.
func (o *outbox) send(msg signaling.Message) {
	if !o.push(outgoing{msg: msg}) {
		util.LogDebug("outbox closed, dropping %s to %s", msg.Type, msg.Target)
	}
}

// flush waits until every message queued before the call has been handed
// to the channel.
func (o *outbox) flush() {
	ack := make(chan struct{})
	if !o.push(outgoing{ack: ack}) {
		<-o.done
		return
	}
	<-ack
}

// close publishes what is still queued and stops the goroutine.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	<-o.done
}

func (o *outbox) take() (outgoing, bool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return outgoing{}, false, o.closed
	}
	item := o.queue[0]
	o.queue[0] = outgoing{}
	o.queue = o.queue[1:]
	return item, true, false
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		item, ok, closed := o.take()
		switch {
		case ok && item.ack != nil:
			close(item.ack)
		case ok:
			o.publish(item.msg)
		case closed:
			return
		default:
			<-o.wake
		}
	}
}

// publish hands msg to the channel. Delivery is not acknowledged, so
// failures are logged and otherwise ignored.
func (o *outbox) publish(msg signaling.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := o.pub.Publish(ctx, msg); err != nil {
		util.LogWarning("failed to publish %s to %s: %v", msg.Type, msg.Target, err)
		return
	}
	util.Stats.AddSignalSent()
}
