// Package session ties a negotiation Machine to a signaling channel and
// projects its state for a user interface.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/nexzi/internal/address"
	"github.com/1ureka/nexzi/internal/media"
	"github.com/1ureka/nexzi/internal/negotiation"
	"github.com/1ureka/nexzi/internal/signaling"
	"github.com/1ureka/nexzi/internal/transport"
	"github.com/1ureka/nexzi/internal/util"
)

const (
	lifecycleBuffer = 16
	closeTimeout    = 5 * time.Second
)

var _ negotiation.Connection = (*transport.Transport)(nil)

// View is what a screen shows about the session.
type View struct {
	Local  address.Address
	Remote address.Address
	Role   negotiation.Role
	Phase  negotiation.Phase

	Connected  bool
	Connecting bool

	// Caller is set while an incoming call waits for a decision.
	Caller address.Address

	OfferCode  string
	AnswerCode string

	LocalStream  *media.Stream
	RemoteStream *media.RemoteStream

	ErrorKind    negotiation.Kind // zero when there is no error
	ErrorMessage string
}

func project(s negotiation.Snapshot) View {
	v := View{
		Local:        s.Local,
		Remote:       s.Remote,
		Role:         s.Role,
		Phase:        s.Phase,
		Connected:    s.Connected(),
		Connecting:   s.Connecting(),
		Caller:       s.Caller,
		OfferCode:    s.OfferCode,
		AnswerCode:   s.AnswerCode,
		LocalStream:  s.LocalStream,
		RemoteStream: s.RemoteStream,
	}
	if s.Err != nil {
		v.ErrorKind = s.Err.Kind
		v.ErrorMessage = s.Err.Message()
	}
	return v
}

// LifecycleKind names a navigation-worthy event.
type LifecycleKind string

const (
	Connected    LifecycleKind = "connected"
	Disconnected LifecycleKind = "disconnected"
	IncomingCall LifecycleKind = "incoming-call"
	Failed       LifecycleKind = "error"
)

// LifecycleEvent is delivered on the channel returned by Lifecycle.
type LifecycleEvent struct {
	Kind    LifecycleKind
	Remote  address.Address
	Message string // user-facing text for Failed
}

func lifecycle(ev negotiation.Event) LifecycleEvent {
	out := LifecycleEvent{Remote: ev.Remote}
	switch ev.Kind {
	case negotiation.EventConnected:
		out.Kind = Connected
	case negotiation.EventDisconnected:
		out.Kind = Disconnected
	case negotiation.EventIncomingCall:
		out.Kind = IncomingCall
	case negotiation.EventError:
		out.Kind = Failed
		if ev.Err != nil {
			out.Message = ev.Err.Message()
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Option customises a Manager.
type Option func(*negotiation.Config)

// WithDialer replaces the default pion transport.
func WithDialer(d negotiation.Dialer) Option {
	return func(c *negotiation.Config) { c.Dial = d }
}

// WithCapturer sets the display capturer used when a call is accepted.
func WithCapturer(capt media.Capturer) Option {
	return func(c *negotiation.Config) { c.Capturer = capt }
}

// WithBinding attaches streams to a renderer.
func WithBinding(b media.Binding) Option {
	return func(c *negotiation.Config) { c.Binding = b }
}

// WithCandidatePolicy selects streaming or buffered candidate exchange.
func WithCandidatePolicy(p negotiation.CandidatePolicy) Option {
	return func(c *negotiation.Config) { c.Candidates = p }
}

// WithConflictPolicy decides what happens to a second caller.
func WithConflictPolicy(p negotiation.ConflictPolicy) Option {
	return func(c *negotiation.Config) { c.Conflict = p }
}

// WithConstraints sets the requested media kinds and frame rate.
func WithConstraints(mc media.Constraints) Option {
	return func(c *negotiation.Config) { c.Constraints = mc }
}

// WithGatherTimeout bounds the wait for ICE gathering in buffered mode.
func WithGatherTimeout(d time.Duration) Option {
	return func(c *negotiation.Config) { c.GatherTimeout = d }
}

// TransportDialer creates pion-backed connections with cfg.
func TransportDialer(cfg transport.Config) negotiation.Dialer {
	return func(ctx context.Context) (negotiation.Connection, error) {
		t, err := transport.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager owns one Machine and its subscription to a signaling channel.
type Manager struct {
	channel signaling.Channel
	sub     signaling.Subscription
	machine *negotiation.Machine

	mu        sync.Mutex
	nextID    int
	views     map[int]chan View
	events    map[int]chan LifecycleEvent
	closed    bool
	closeOnce sync.Once
}

// New builds a Manager listening on channel. Without options it uses the
// default STUN server, a synthetic capturer and streamed candidates.
func New(channel signaling.Channel, opts ...Option) (*Manager, error) {
	if channel == nil {
		return nil, errors.New("session: nil signaling channel")
	}

	mgr := &Manager{
		channel: channel,
		views:   make(map[int]chan View),
		events:  make(map[int]chan LifecycleEvent),
	}

	cfg := negotiation.Config{
		Channel:  channel,
		Dial:     TransportDialer(transport.DefaultConfig()),
		Capturer: &media.TestPattern{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.OnChange = mgr.onChange
	cfg.OnEvent = mgr.onEvent

	mgr.machine = negotiation.New(cfg)
	mgr.sub = channel.Subscribe(mgr.machine.Deliver)

	util.LogDebug("session manager ready, local address %s", mgr.machine.Local())
	return mgr, nil
}

// Connect places a call to remote as the viewer.
func (mgr *Manager) Connect(ctx context.Context, remote address.Address) error {
	return mgr.machine.Connect(ctx, remote)
}

// Accept takes the pending incoming call and starts sharing.
func (mgr *Manager) Accept(ctx context.Context) error {
	return mgr.machine.Accept(ctx)
}

// CreateAnswer answers a pasted offer code.
func (mgr *Manager) CreateAnswer(ctx context.Context, code string) error {
	return mgr.machine.CreateAnswer(ctx, code)
}

// AcceptAnswer completes a manual exchange with a pasted answer code.
func (mgr *Manager) AcceptAnswer(ctx context.Context, code string) error {
	return mgr.machine.AcceptAnswer(ctx, code)
}

// Reject declines the pending incoming call.
func (mgr *Manager) Reject(ctx context.Context) error {
	return mgr.machine.Reject(ctx)
}

// End hangs up. Calling it with no session is harmless.
func (mgr *Manager) End(ctx context.Context) error {
	return mgr.machine.End(ctx)
}

// View returns the current state.
func (mgr *Manager) View() View {
	return project(mgr.machine.Snapshot())
}

// Subscribe returns a channel carrying the latest View. A slow reader skips
// intermediate views but always sees the most recent one. The channel is
// closed by cancel or Close.
func (mgr *Manager) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	ch <- mgr.View()
	if mgr.closed {
		close(ch)
		return ch, func() {}
	}
	id := mgr.nextID
	mgr.nextID++
	mgr.views[id] = ch

	return ch, func() {
		mgr.mu.Lock()
		defer mgr.mu.Unlock()
		if c, ok := mgr.views[id]; ok {
			delete(mgr.views, id)
			close(c)
		}
	}
}

// Lifecycle returns a buffered channel of lifecycle events. Events are
// dropped, with a warning, if the reader falls too far behind.
func (mgr *Manager) Lifecycle() (<-chan LifecycleEvent, func()) {
	ch := make(chan LifecycleEvent, lifecycleBuffer)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.closed {
		close(ch)
		return ch, func() {}
	}
	id := mgr.nextID
	mgr.nextID++
	mgr.events[id] = ch

	return ch, func() {
		mgr.mu.Lock()
		defer mgr.mu.Unlock()
		if c, ok := mgr.events[id]; ok {
			delete(mgr.events, id)
			close(c)
		}
	}
}

// Close ends the session, notifying the peer, stops listening on the
// channel and closes every subscription. The channel itself is left open.
func (mgr *Manager) Close() error {
	var err error
	mgr.closeOnce.Do(func() {
		mgr.channel.Unsubscribe(mgr.sub)

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if endErr := mgr.machine.End(ctx); endErr != nil {
			util.LogWarning("failed to end session: %v", endErr)
		}
		err = mgr.machine.Close()

		mgr.mu.Lock()
		defer mgr.mu.Unlock()
		mgr.closed = true
		for id, c := range mgr.views {
			delete(mgr.views, id)
			close(c)
		}
		for id, c := range mgr.events {
			delete(mgr.events, id)
			close(c)
		}
	})
	return err
}

// onChange runs on the machine loop and must not block.
func (mgr *Manager) onChange(s negotiation.Snapshot) {
	v := project(s)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for _, ch := range mgr.views {
		// replace a view the reader has not picked up yet
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (mgr *Manager) onEvent(ev negotiation.Event) {
	out := lifecycle(ev)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for _, ch := range mgr.events {
		select {
		case ch <- out:
		default:
			util.LogWarning("lifecycle reader is behind, dropping %s event", out.Kind)
		}
	}
}
