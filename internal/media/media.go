// Package media describes the local capture and remote playback sides of a
// screen-sharing session.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrPermissionDenied means the user declined to share the screen.
	ErrPermissionDenied = errors.New("screen capture permission denied")
	// ErrCaptureFailed covers every other capture failure.
	ErrCaptureFailed = errors.New("screen capture failed")
)

// Constraints select what to capture.
type Constraints struct {
	Video     bool
	Audio     bool
	FrameRate int
}

// Capturer acquires the local display. Implementations may block on a
// permission prompt and must return promptly when ctx is cancelled.
type Capturer interface {
	AcquireDisplayMedia(ctx context.Context, c Constraints) (*Stream, error)
}

// Stream is a captured local display: a set of outbound tracks plus an
// end-of-capture notification.
type Stream struct {
	id     string
	tracks []webrtc.TrackLocal

	ended   chan struct{}
	endOnce sync.Once
	onStop  func()
}

// NewStream groups tracks under id. onStop, if non-nil, runs once when the
// stream ends for any reason.
func NewStream(id string, onStop func(), tracks ...webrtc.TrackLocal) *Stream {
	return &Stream{
		id:     id,
		tracks: tracks,
		ended:  make(chan struct{}),
		onStop: onStop,
	}
}

func (s *Stream) ID() string { return s.id }

// Tracks returns the outbound tracks to attach to a connection.
func (s *Stream) Tracks() []webrtc.TrackLocal { return s.tracks }

// Ended is closed when capture stops, whether the user stopped sharing or
// Stop was called.
func (s *Stream) Ended() <-chan struct{} { return s.ended }

// Stop releases the capture. Safe to call more than once.
func (s *Stream) Stop() {
	s.endOnce.Do(func() {
		if s.onStop != nil {
			s.onStop()
		}
		close(s.ended)
	})
}

// RemoteTrack is the read side of a track received from the peer.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Read(b []byte) (int, error)
}

// RemoteStream collects the tracks received from the peer.
type RemoteStream struct {
	id string

	mu     sync.RWMutex
	tracks []RemoteTrack
}

// NewRemoteStream creates an empty stream with the sender's stream id.
func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (s *RemoteStream) ID() string { return s.id }

func (s *RemoteStream) Add(t RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RemoteTrack(nil), s.tracks...)
}

// Binding hands streams to whatever displays them.
type Binding interface {
	AttachLocal(s *Stream)
	AttachRemote(s *RemoteStream, t RemoteTrack)
	Detach()
}

// NopBinding ignores every stream.
type NopBinding struct{}

func (NopBinding) AttachLocal(*Stream)                     {}
func (NopBinding) AttachRemote(*RemoteStream, RemoteTrack) {}
func (NopBinding) Detach()                                 {}
