package negotiation

import (
	"errors"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nexzi/internal/media"
	"github.com/1ureka/nexzi/internal/protocol"
	"github.com/1ureka/nexzi/internal/signaling"
	"github.com/1ureka/nexzi/internal/util"
)

func (m *Machine) accept() error {
	a := m.attempt
	if a == nil || a.role != RoleSharer || a.phase != PhaseAwaitingUserAccept {
		return m.reportPrecondition("accept call")
	}

	m.lastErr = nil
	m.startCapture(a)
	return nil
}

func (m *Machine) createAnswer(code string) error {
	if a := m.attempt; a != nil {
		if strings.TrimSpace(code) == "" {
			return m.accept()
		}
		return m.refuseActive("create answer")
	}
	if strings.TrimSpace(code) == "" {
		return m.reportPrecondition("create answer")
	}

	desc, from, err := protocol.Decode(code, webrtc.SDPTypeOffer)
	if err != nil {
		return m.refuse(failure(KindInvalidPayload, "create answer", err))
	}

	m.lastErr = nil
	a, err := m.begin(RoleSharer, from)
	if err != nil {
		return m.refuse(err.(*Error))
	}
	a.manual = true
	a.phase = PhaseReceivingOffer

	if err := a.conn.SetRemoteDescription(desc); err != nil {
		e := failure(KindNegotiationFailed, "apply offer", err)
		m.fail(e, false)
		return e
	}
	a.remoteSet = true

	m.startCapture(a)
	return nil
}

func (m *Machine) reject() error {
	a := m.attempt
	if a == nil || a.role != RoleSharer || a.phase == PhaseConnected {
		return m.reportPrecondition("reject call")
	}

	m.closeAttempt(true, true)
	return nil
}

// startCapture acquires the display off the loop. The capturer may sit on
// a permission prompt indefinitely; teardown cancels it through a.ctx.
func (m *Machine) startCapture(a *attempt) {
	a.phase = PhaseCreatingAnswer

	go func() {
		stream, err := m.cfg.Capturer.AcquireDisplayMedia(a.ctx, m.cfg.Constraints)
		if !m.post(func() { m.captureReady(a.epoch, stream, err) }) && stream != nil {
			stream.Stop()
		}
	}()
}

func (m *Machine) captureReady(epoch uint64, stream *media.Stream, err error) {
	a := m.current(epoch)
	if a == nil {
		if stream != nil {
			stream.Stop()
		}
		util.LogDebug("attempt #%d: discarding stale capture", epoch)
		return
	}

	if err != nil {
		if errors.Is(err, media.ErrPermissionDenied) {
			// declining capture declines the call
			m.fail(failure(KindPermissionDenied, "share screen", err), true)
			return
		}
		e := failure(KindNegotiationFailed, "share screen", err)
		e.text = "Failed to start screen sharing."
		m.fail(e, true)
		return
	}

	a.local = stream
	for _, track := range stream.Tracks() {
		if err := a.conn.AddTrack(track); err != nil {
			m.fail(failure(KindNegotiationFailed, "attach track", err), true)
			return
		}
	}
	m.cfg.Binding.AttachLocal(stream)

	go func() {
		select {
		case <-stream.Ended():
			m.post(func() { m.captureEnded(epoch) })
		case <-a.ctx.Done():
		}
	}()

	go m.runAnswer(a)
}

// runAnswer creates and applies the answer off the loop.
func (m *Machine) runAnswer(a *attempt) {
	desc, err := func() (webrtc.SessionDescription, error) {
		answer, err := a.conn.CreateAnswer()
		if err != nil {
			return answer, err
		}
		if err := a.conn.SetLocalDescription(answer); err != nil {
			return answer, err
		}
		return m.awaitDescription(a)
	}()

	m.post(func() { m.answerReady(a.epoch, desc, err) })
}

func (m *Machine) answerReady(epoch uint64, desc webrtc.SessionDescription, err error) {
	a := m.current(epoch)
	if a == nil {
		util.LogDebug("attempt #%d: discarding stale answer", epoch)
		return
	}
	if err != nil {
		m.fail(failure(KindNegotiationFailed, "create answer", err), true)
		return
	}

	if m.cfg.Candidates == BufferUntilGatheringComplete {
		code, err := protocol.Encode(desc, m.local)
		if err != nil {
			m.fail(failure(KindNegotiationFailed, "encode answer", err), true)
			return
		}
		a.answerCode = code
	}

	if !a.manual && a.remote != "" {
		m.send(signaling.NewAnswer(a.remote, m.local, desc))
	}
	a.described = true
	m.flushOutbound(a)
	m.connected(a)
}

// captureEnded handles the user stopping the share from outside the app.
func (m *Machine) captureEnded(epoch uint64) {
	if m.current(epoch) == nil {
		return
	}
	util.LogInfo("screen sharing stopped, ending session")
	m.closeAttempt(true, true)
}
