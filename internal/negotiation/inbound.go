package negotiation

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nexzi/internal/media"
	"github.com/1ureka/nexzi/internal/signaling"
	"github.com/1ureka/nexzi/internal/util"
)

// receive dispatches one inbound message. Messages for other addresses are
// dropped before anything else happens.
func (m *Machine) receive(msg signaling.Message) {
	if msg.Target != m.local {
		return
	}
	if err := msg.Validate(); err != nil {
		util.LogDebug("dropping message: %v", err)
		return
	}
	util.Stats.AddSignalRecv()

	switch msg.Type {
	case signaling.TypeOffer:
		m.onOffer(msg)
	case signaling.TypeAnswer:
		m.onAnswer(msg)
	case signaling.TypeCandidate:
		m.onCandidate(msg)
	case signaling.TypeDisconnect:
		m.onDisconnect(msg)
	case signaling.TypeBusy:
		m.onBusy(msg)
	}
}

func (m *Machine) onOffer(msg signaling.Message) {
	if a := m.attempt; a != nil {
		if a.role == RoleSharer && a.remote == msg.From {
			util.LogDebug("dropping duplicate offer from %s", msg.From)
			return
		}

		switch m.cfg.Conflict {
		case ConflictIgnore:
			util.LogDebug("busy, ignoring offer from %s", msg.From)
			return
		case ConflictRejectBusy:
			util.LogInfo("busy, rejecting call from %s", msg.From)
			m.send(signaling.NewBusy(msg.From, m.local))
			return
		case ConflictReplace:
			// keep the address: the new caller already holds it
			util.LogInfo("replacing session with %s by call from %s", a.remote, msg.From)
			m.closeAttempt(true, false)
		}
	}

	m.lastErr = nil
	a, err := m.begin(RoleSharer, msg.From)
	if err != nil {
		m.lastErr = err.(*Error)
		util.Stats.AddFailed()
		m.send(signaling.NewDisconnect(msg.From, m.local))
		return
	}
	a.phase = PhaseReceivingOffer

	if err := a.conn.SetRemoteDescription(*msg.Offer); err != nil {
		m.fail(failure(KindNegotiationFailed, "apply offer", err), true)
		return
	}
	a.remoteSet = true
	m.flushPending(a)

	a.phase = PhaseAwaitingUserAccept
	util.LogInfo("incoming call from %s", msg.From.Format())
	m.emit(Event{Kind: EventIncomingCall, Remote: msg.From})
}

func (m *Machine) onAnswer(msg signaling.Message) {
	a := m.attempt
	if a == nil || a.role != RoleViewer || a.remote != msg.From || a.phase != PhaseAwaitingAnswer {
		util.LogDebug("dropping unexpected answer from %s", msg.From)
		return
	}
	_ = m.applyAnswer(a, *msg.Answer, false)
}

func (m *Machine) onCandidate(msg signaling.Message) {
	a := m.attempt
	if a == nil || a.remote != msg.From {
		util.LogDebug("dropping candidate from %s", msg.From)
		return
	}

	a.pending = append(a.pending, *msg.Candidate)
	m.flushPending(a)
}

// onDisconnect ends the attempt. A disconnect naming a different sender is
// left over from an earlier session on this address (one replaced under
// ConflictReplace, say) and is dropped.
func (m *Machine) onDisconnect(msg signaling.Message) {
	a := m.attempt
	if a == nil {
		return
	}
	if msg.From != "" && a.remote != "" && msg.From != a.remote {
		util.LogDebug("dropping disconnect from %s, talking to %s", msg.From, a.remote)
		return
	}
	util.LogInfo("%s ended the session", a.remote.Format())
	m.closeAttempt(false, true)
}

func (m *Machine) onBusy(msg signaling.Message) {
	a := m.attempt
	if a == nil || a.role != RoleViewer || a.remote != msg.From || !a.phase.Negotiating() {
		return
	}
	m.fail(failure(KindBusy, "connect", nil), false)
}

// ---------------------------------------------------------------------------
// Connection callbacks
// ---------------------------------------------------------------------------

func (m *Machine) onLocalCandidate(epoch uint64, c *webrtc.ICECandidateInit) {
	a := m.current(epoch)
	if a == nil || c == nil || m.cfg.Candidates == BufferUntilGatheringComplete {
		return
	}
	if !a.described {
		a.outbound = append(a.outbound, *c)
		return
	}
	m.sendCandidate(a, *c)
}

func (m *Machine) onRemoteTrack(epoch uint64, t media.RemoteTrack) {
	a := m.current(epoch)
	if a == nil {
		return
	}

	if a.remoteStream == nil {
		a.remoteStream = media.NewRemoteStream(t.StreamID())
	}
	a.remoteStream.Add(t)
	m.cfg.Binding.AttachRemote(a.remoteStream, t)

	if a.role == RoleViewer && a.phase == PhaseAwaitingAnswer && a.remoteSet {
		m.connected(a)
	}
}

func (m *Machine) onConnectionState(epoch uint64, s webrtc.PeerConnectionState) {
	a := m.current(epoch)
	if a == nil {
		return
	}

	switch s {
	case webrtc.PeerConnectionStateFailed:
		m.fail(failure(KindTransport, "connection", nil), true)
	case webrtc.PeerConnectionStateDisconnected:
		util.LogWarning("connection to %s interrupted", a.remote)
	}
}
