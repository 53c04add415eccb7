package negotiation

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nexzi/internal/address"
	"github.com/1ureka/nexzi/internal/media"
	"github.com/1ureka/nexzi/internal/signaling"
	"github.com/1ureka/nexzi/internal/util"
)

var errNoLocalDescription = errors.New("no local description")

// attempt is one negotiation from creation to teardown. Only the loop
// goroutine touches it, except for the immutable fields (epoch, ctx, conn)
// read by background tasks.
type attempt struct {
	epoch  uint64
	ctx    context.Context
	cancel context.CancelFunc
	conn   Connection

	remote address.Address
	role   Role
	phase  Phase
	manual bool // started from a pasted code; nothing goes over signaling

	remoteSet bool                      // remote description applied
	described bool                      // local description handed out
	pending   []webrtc.ICECandidateInit // inbound, waiting for remoteSet
	outbound  []webrtc.ICECandidateInit // local, waiting for described

	offerCode  string
	answerCode string

	local        *media.Stream
	remoteStream *media.RemoteStream
}

// begin dials a connection and makes it the current attempt.
func (m *Machine) begin(role Role, remote address.Address) (*attempt, error) {
	ctx, cancel := context.WithCancel(context.Background())

	conn, err := m.cfg.Dial(ctx)
	if err != nil {
		cancel()
		return nil, failure(KindTransport, "create connection", err)
	}

	m.epoch++
	a := &attempt{
		epoch:  m.epoch,
		ctx:    ctx,
		cancel: cancel,
		conn:   conn,
		remote: remote,
		role:   role,
	}

	epoch := a.epoch
	conn.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		m.post(func() { m.onLocalCandidate(epoch, c) })
	})
	conn.OnTrack(func(t media.RemoteTrack) {
		m.post(func() { m.onRemoteTrack(epoch, t) })
	})
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.post(func() { m.onConnectionState(epoch, s) })
	})

	m.attempt = a
	util.Stats.AddSession()
	util.LogDebug("attempt #%d: %s, remote=%q", epoch, role, remote)
	return a, nil
}

// current returns the attempt for epoch, or nil if it has been replaced
// or torn down.
func (m *Machine) current(epoch uint64) *attempt {
	if a := m.attempt; a != nil && a.epoch == epoch {
		return a
	}
	return nil
}

// closeAttempt releases everything the attempt holds and returns to Idle.
// With notify set the peer gets a disconnect message. A new local address
// is drawn when regenerate is set so stale messages for the old one are
// filtered out.
func (m *Machine) closeAttempt(notify, regenerate bool) {
	a := m.attempt
	if a == nil {
		return
	}

	if notify && a.remote != "" {
		m.send(signaling.NewDisconnect(a.remote, m.local))
	}

	m.attempt = nil
	a.cancel()
	if a.local != nil {
		a.local.Stop()
	}
	m.cfg.Binding.Detach()
	if err := a.conn.Close(); err != nil {
		util.LogDebug("attempt #%d: close connection: %v", a.epoch, err)
	}

	if regenerate {
		m.local = m.cfg.Addresses.Next()
	}

	util.LogDebug("attempt #%d closed in %s", a.epoch, a.phase)
	m.emit(Event{Kind: EventDisconnected, Remote: a.remote})
}

// fail records err, reports it and then tears the attempt down. The error
// event always precedes the attempt's disconnect event.
func (m *Machine) fail(err *Error, notify bool) {
	m.lastErr = err
	util.Stats.AddFailed()
	util.LogWarning("%v", err)

	var remote address.Address
	if m.attempt != nil {
		remote = m.attempt.remote
	}
	m.emit(Event{Kind: EventError, Remote: remote, Err: err})
	m.closeAttempt(notify, true)
}

// refuse records err for a command that could not start. The active
// attempt, if any, is left alone.
func (m *Machine) refuse(err *Error) error {
	m.lastErr = err
	util.Stats.AddFailed()
	return err
}

// reportPrecondition records a command issued in the wrong phase.
func (m *Machine) reportPrecondition(op string) error {
	return m.refuse(failure(KindNotInitialized, op, nil))
}

func (m *Machine) refuseActive(op string) error {
	e := failure(KindNegotiationFailed, op, ErrSessionActive)
	e.text = "A session is already active. End it first."
	return m.refuse(e)
}

func (m *Machine) connected(a *attempt) {
	a.phase = PhaseConnected
	util.Stats.AddConnected()
	util.LogSuccess("connected to %s as %s", a.remote, a.role)
	m.emit(Event{Kind: EventConnected, Remote: a.remote})
}

// flushPending applies buffered remote candidates in arrival order.
func (m *Machine) flushPending(a *attempt) {
	if !a.remoteSet {
		return
	}
	for _, c := range a.pending {
		if err := a.conn.AddICECandidate(c); err != nil {
			util.LogWarning("failed to add remote candidate: %v", err)
		}
	}
	a.pending = nil
}

// flushOutbound publishes local candidates gathered before the description
// went out.
func (m *Machine) flushOutbound(a *attempt) {
	for _, c := range a.outbound {
		m.sendCandidate(a, c)
	}
	a.outbound = nil
}

func (m *Machine) sendCandidate(a *attempt, c webrtc.ICECandidateInit) {
	if a.remote == "" || a.manual {
		return
	}
	m.send(signaling.NewCandidate(a.remote, m.local, c))
}
