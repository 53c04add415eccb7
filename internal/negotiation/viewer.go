package negotiation

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nexzi/internal/address"
	"github.com/1ureka/nexzi/internal/protocol"
	"github.com/1ureka/nexzi/internal/signaling"
	"github.com/1ureka/nexzi/internal/util"
)

func (m *Machine) connect(remote address.Address) error {
	if m.attempt != nil {
		return m.refuseActive("connect")
	}

	var invalid error
	switch {
	case remote == "" && m.cfg.Candidates == StreamImmediately:
		invalid = address.ErrInvalid
	case remote != "" && !remote.Valid():
		invalid = fmt.Errorf("%q: %w", remote, address.ErrInvalid)
	case remote == m.local:
		invalid = fmt.Errorf("%s is this device's own address", remote)
	}
	if invalid != nil {
		e := failure(KindNegotiationFailed, "connect", invalid)
		e.text = "Enter the 9-digit address of another device."
		return m.refuse(e)
	}

	m.lastErr = nil
	a, err := m.begin(RoleViewer, remote)
	if err != nil {
		return m.refuse(err.(*Error))
	}
	a.phase = PhaseCreatingOffer

	// Nothing is sent by the viewer, so the offer has to ask for media.
	kinds := []webrtc.RTPCodecType{}
	if m.cfg.Constraints.Video {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	if m.cfg.Constraints.Audio {
		kinds = append(kinds, webrtc.RTPCodecTypeAudio)
	}
	for _, kind := range kinds {
		if err := a.conn.AddReceiver(kind); err != nil {
			e := failure(KindNegotiationFailed, "create offer", err)
			m.fail(e, false)
			return e
		}
	}

	go m.runOffer(a)
	return nil
}

// runOffer creates and applies the offer off the loop.
func (m *Machine) runOffer(a *attempt) {
	desc, err := func() (webrtc.SessionDescription, error) {
		offer, err := a.conn.CreateOffer()
		if err != nil {
			return offer, err
		}
		if err := a.conn.SetLocalDescription(offer); err != nil {
			return offer, err
		}
		return m.awaitDescription(a)
	}()

	m.post(func() { m.offerReady(a.epoch, desc, err) })
}

func (m *Machine) offerReady(epoch uint64, desc webrtc.SessionDescription, err error) {
	a := m.current(epoch)
	if a == nil {
		util.LogDebug("attempt #%d: discarding stale offer", epoch)
		return
	}
	if err != nil {
		m.fail(failure(KindNegotiationFailed, "create offer", err), false)
		return
	}

	if m.cfg.Candidates == BufferUntilGatheringComplete {
		code, err := protocol.Encode(desc, m.local)
		if err != nil {
			m.fail(failure(KindNegotiationFailed, "encode offer", err), false)
			return
		}
		a.offerCode = code
	}

	if a.remote != "" {
		m.send(signaling.NewOffer(a.remote, m.local, desc))
	}
	a.described = true
	m.flushOutbound(a)
	a.phase = PhaseAwaitingAnswer
}

func (m *Machine) acceptAnswer(code string) error {
	a := m.attempt
	if a == nil || a.role != RoleViewer || a.phase != PhaseAwaitingAnswer {
		return m.reportPrecondition("accept answer")
	}

	desc, from, err := protocol.Decode(code, webrtc.SDPTypeAnswer)
	if err != nil {
		e := failure(KindInvalidPayload, "accept answer", err)
		m.fail(e, true)
		return e
	}
	if a.remote == "" {
		a.remote = from
	}

	return m.applyAnswer(a, desc, true)
}

// applyAnswer sets the remote description. The viewer is connected right
// away when the answer is self-contained, otherwise when the first remote
// track shows up.
func (m *Machine) applyAnswer(a *attempt, desc webrtc.SessionDescription, complete bool) error {
	if err := a.conn.SetRemoteDescription(desc); err != nil {
		e := failure(KindNegotiationFailed, "apply answer", err)
		m.fail(e, true)
		return e
	}
	a.remoteSet = true
	m.flushPending(a)

	if complete || m.cfg.Candidates == BufferUntilGatheringComplete || a.remoteStream != nil {
		m.connected(a)
	}
	return nil
}
