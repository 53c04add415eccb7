// Package transport wraps a pion PeerConnection with the small surface the
// negotiation core needs: descriptions, candidates, tracks and state.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nexzi/internal/media"
	"github.com/1ureka/nexzi/internal/util"
)

// Transport is one media connection attempt. Its lifecycle ends with Close
// or with cancellation of the context passed to New.
type Transport struct {
	pc *webrtc.PeerConnection

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	pcState  webrtc.PeerConnectionState
	gathered <-chan struct{}
}

// New creates a Transport backed by a fresh PeerConnection.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	tCtx, tCancel := context.WithCancel(ctx)

	return &Transport{
		pc:      pc,
		ctx:     tCtx,
		cancel:  tCancel,
		pcState: webrtc.PeerConnectionStateNew,
	}, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Done returns a channel that is closed when the Transport is shut down.
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the PeerConnection.
func (t *Transport) Close() error {
	t.cancel()
	return t.pc.Close()
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// OnConnectionStateChange records every state change and forwards it to fn.
func (t *Transport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()
		fn(state)
	})
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP and starts candidate gathering.
// The gathering-complete signal is armed before gathering starts, so it
// cannot be missed.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(t.pc)

	t.mu.Lock()
	t.gathered = gathered
	t.mu.Unlock()

	if err := t.pc.SetLocalDescription(sdp); err != nil {
		return err
	}
	util.LogDebug("local %s set (sdp %08x)", sdp.Type, util.Fingerprint(sdp.SDP))
	return nil
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}
	util.LogDebug("remote %s set (sdp %08x)", sdp.Type, util.Fingerprint(sdp.SDP))
	return nil
}

// LocalDescription returns the local description including every candidate
// gathered so far.
func (t *Transport) LocalDescription() *webrtc.SessionDescription {
	return t.pc.LocalDescription()
}

// HasRemoteDescription reports whether a remote description is applied.
func (t *Transport) HasRemoteDescription() bool {
	return t.pc.RemoteDescription() != nil
}

// GatheringComplete is closed once ICE gathering for the current local
// description has finished. It is nil before SetLocalDescription.
func (t *Transport) GatheringComplete() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gathered
}

// OnICECandidate registers a callback invoked for every gathered local
// candidate. A nil argument signals the end of gathering.
func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&init)
	})
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AddTrack sends a local track to the peer.
func (t *Transport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
	}
	go drainRTCP(t.ctx, sender)
	return nil
}

// AddReceiver declares interest in receiving one track of the given kind,
// so an offer can be made before any local media exists.
func (t *Transport) AddReceiver(kind webrtc.RTPCodecType) error {
	_, err := t.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("failed to add %s receiver: %w", kind, err)
	}
	return nil
}

// OnTrack registers a callback invoked when the first RTP packet of a remote
// track arrives.
func (t *Transport) OnTrack(fn func(media.RemoteTrack)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogDebug("remote track: kind=%s codec=%s stream=%s", track.Kind(), track.Codec().MimeType, track.StreamID())
		fn(&remoteTrack{track})
	})
}

// remoteTrack hides the interceptor attributes of TrackRemote.Read.
type remoteTrack struct {
	*webrtc.TrackRemote
}

func (r *remoteTrack) Read(b []byte) (int, error) {
	n, _, err := r.TrackRemote.Read(b)
	return n, err
}
