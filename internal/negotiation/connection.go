package negotiation

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nexzi/internal/media"
	"github.com/1ureka/nexzi/internal/signaling"
)

// Connection is the media transport a Machine drives. *transport.Transport
// implements it; tests use an in-memory fake.
type Connection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	GatheringComplete() <-chan struct{}
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error
	AddReceiver(kind webrtc.RTPCodecType) error

	OnICECandidate(func(*webrtc.ICECandidateInit))
	OnTrack(func(media.RemoteTrack))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))

	Close() error
}

// Dialer creates a Connection for a new attempt.
type Dialer func(ctx context.Context) (Connection, error)

// Publisher is the outbound half of a signaling channel.
type Publisher interface {
	Publish(ctx context.Context, msg signaling.Message) error
}
