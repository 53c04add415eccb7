// Package negotiation implements the offer/answer state machine behind a
// screen-sharing session: who shares and who views, accepting or declining
// a call, candidate exchange and teardown.
//
// A Machine owns at most one attempt at a time. Every command, inbound
// message and transport callback is turned into a closure and run on a
// single loop goroutine, so attempt state needs no locks. Work that can
// block (description creation, ICE gathering, screen capture) runs in its
// own goroutine and posts its result back tagged with the attempt's epoch;
// results for an attempt that is no longer current are dropped.
package negotiation

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nexzi/internal/address"
	"github.com/1ureka/nexzi/internal/media"
	"github.com/1ureka/nexzi/internal/signaling"
	"github.com/1ureka/nexzi/internal/util"
)

const (
	defaultGatherTimeout = 10 * time.Second
	publishTimeout       = 10 * time.Second
)

// Config wires a Machine to its collaborators.
type Config struct {
	Channel  Publisher
	Dial     Dialer
	Capturer media.Capturer
	Binding  media.Binding // optional

	Addresses   *address.Generator // optional
	Candidates  CandidatePolicy
	Conflict    ConflictPolicy
	Constraints media.Constraints // zero value means video only

	GatherTimeout time.Duration

	// OnChange and OnEvent run on the loop goroutine. They must not block
	// or call back into the Machine synchronously.
	OnChange func(Snapshot)
	OnEvent  func(Event)
}

// EventKind names a lifecycle event.
type EventKind uint8

const (
	EventIncomingCall EventKind = iota + 1
	EventConnected
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventIncomingCall:
		return "incoming-call"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is emitted on lifecycle transitions so a UI can navigate without
// polling.
type Event struct {
	Kind   EventKind
	Remote address.Address
	Err    *Error
}

// Snapshot is a read-only copy of the machine state.
type Snapshot struct {
	Local  address.Address
	Remote address.Address
	Role   Role
	Phase  Phase

	// Caller is set while an incoming call waits for Accept or Reject.
	Caller address.Address

	// OfferCode and AnswerCode are the copy/paste renderings of the local
	// description under BufferUntilGatheringComplete.
	OfferCode  string
	AnswerCode string

	LocalStream  *media.Stream
	RemoteStream *media.RemoteStream

	Err *Error
}

func (s Snapshot) Connected() bool  { return s.Phase == PhaseConnected }
func (s Snapshot) Connecting() bool { return s.Phase.Negotiating() }

// Machine is the negotiation actor.
type Machine struct {
	cfg Config

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	out *outbox // nil without a channel

	// owned by the loop goroutine
	local   address.Address
	epoch   uint64
	attempt *attempt
	lastErr *Error
	last    Snapshot

	snapMu sync.RWMutex
	snap   Snapshot
}

// New creates a Machine with a fresh local address and starts its loop.
func New(cfg Config) *Machine {
	if cfg.Addresses == nil {
		cfg.Addresses = address.NewGenerator()
	}
	if cfg.Binding == nil {
		cfg.Binding = media.NopBinding{}
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = defaultGatherTimeout
	}
	if !cfg.Constraints.Video && !cfg.Constraints.Audio {
		cfg.Constraints.Video = true
	}

	m := &Machine{
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		local:    cfg.Addresses.Next(),
	}
	if cfg.Channel != nil {
		m.out = newOutbox(cfg.Channel)
	}
	m.publish()

	go m.loop()
	return m
}

// ---------------------------------------------------------------------------
// Mailbox
// ---------------------------------------------------------------------------

// post queues fn for the loop. It never blocks; it reports false once the
// machine is closed.
func (m *Machine) post(fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}

	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

func (m *Machine) next() (func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	fn := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return fn, true
}

func (m *Machine) loop() {
	defer close(m.loopDone)
	for {
		select {
		case <-m.wake:
		case <-m.done:
			return
		}

		for {
			fn, ok := m.next()
			if !ok {
				break
			}
			fn()
			m.publish()
		}
	}
}

// do runs fn on the loop and waits for its result. The snapshot is
// refreshed before do returns.
func (m *Machine) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	ok := m.post(func() {
		err := fn()
		m.publish()
		errc <- err
	})
	if !ok {
		return ErrClosed
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.loopDone:
		return ErrClosed
	}
}

// Close ends any attempt without notifying the peer and stops the loop.
// Messages already sent are still published before Close returns.
func (m *Machine) Close() error {
	err := m.do(context.Background(), func() error {
		m.closeAttempt(false, false)
		return nil
	})

	m.closeOnce.Do(func() { close(m.done) })
	<-m.loopDone
	if m.out != nil {
		m.out.close()
	}
	if err == ErrClosed {
		return nil
	}
	return err
}

// ---------------------------------------------------------------------------
// State projection
// ---------------------------------------------------------------------------

// Snapshot returns the state as of the last processed event.
func (m *Machine) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

// Local returns the current local address.
func (m *Machine) Local() address.Address {
	return m.Snapshot().Local
}

func (m *Machine) snapshot() Snapshot {
	s := Snapshot{Local: m.local, Phase: PhaseIdle, Err: m.lastErr}

	if a := m.attempt; a != nil {
		s.Remote = a.remote
		s.Role = a.role
		s.Phase = a.phase
		if a.phase == PhaseAwaitingUserAccept && !a.manual {
			s.Caller = a.remote
		}
		s.OfferCode = a.offerCode
		s.AnswerCode = a.answerCode
		s.LocalStream = a.local
		s.RemoteStream = a.remoteStream
	}
	return s
}

// publish stores the new snapshot and notifies OnChange if anything moved.
func (m *Machine) publish() {
	s := m.snapshot()
	if s == m.last {
		return
	}
	m.last = s

	m.snapMu.Lock()
	m.snap = s
	m.snapMu.Unlock()

	if m.cfg.OnChange != nil {
		m.cfg.OnChange(s)
	}
}

func (m *Machine) emit(ev Event) {
	util.LogDebug("event: %s remote=%s", ev.Kind, ev.Remote)
	if m.cfg.OnEvent != nil {
		m.cfg.OnEvent(ev)
	}
}

// send queues msg for the signaling channel. Messages leave in the order
// they were sent.
func (m *Machine) send(msg signaling.Message) {
	if m.out != nil {
		m.out.send(msg)
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// Connect starts a viewer attempt towards remote. It returns once the offer
// is being created; the outcome is reported through snapshots and events.
// Under BufferUntilGatheringComplete remote may be empty, in which case the
// offer is only rendered as OfferCode.
func (m *Machine) Connect(ctx context.Context, remote address.Address) error {
	return m.do(ctx, func() error { return m.connect(remote) })
}

// Accept answers the pending incoming call.
func (m *Machine) Accept(ctx context.Context) error {
	return m.do(ctx, m.accept)
}

// CreateAnswer answers an offer pasted as a code. While an incoming call is
// pending and code is empty it behaves like Accept.
func (m *Machine) CreateAnswer(ctx context.Context, code string) error {
	return m.do(ctx, func() error { return m.createAnswer(code) })
}

// AcceptAnswer applies an answer pasted as a code and completes the viewer
// side of a manual exchange.
func (m *Machine) AcceptAnswer(ctx context.Context, code string) error {
	return m.do(ctx, func() error { return m.acceptAnswer(code) })
}

// Reject declines the pending incoming call.
func (m *Machine) Reject(ctx context.Context) error {
	return m.do(ctx, m.reject)
}

// End tears down the current attempt and tells the peer. It is a no-op
// when there is no attempt.
func (m *Machine) End(ctx context.Context) error {
	return m.do(ctx, func() error {
		m.closeAttempt(true, true)
		return nil
	})
}

// Deliver hands an inbound signaling message to the machine. It never
// blocks; use it directly as a signaling.Handler.
func (m *Machine) Deliver(msg signaling.Message) {
	m.post(func() { m.receive(msg) })
}

// awaitDescription returns the local description to ship. Under
// BufferUntilGatheringComplete it first waits for gathering, giving up
// after GatherTimeout and shipping what was gathered.
func (m *Machine) awaitDescription(a *attempt) (webrtc.SessionDescription, error) {
	if m.cfg.Candidates == BufferUntilGatheringComplete {
		timer := time.NewTimer(m.cfg.GatherTimeout)
		defer timer.Stop()

		select {
		case <-a.conn.GatheringComplete():
		case <-timer.C:
			util.LogWarning("ICE gathering still running after %s, sending the candidates found so far", m.cfg.GatherTimeout)
		case <-a.ctx.Done():
			return webrtc.SessionDescription{}, a.ctx.Err()
		}
	}

	desc := a.conn.LocalDescription()
	if desc == nil {
		return webrtc.SessionDescription{}, errNoLocalDescription
	}
	return *desc, nil
}
