package media

import (
	"errors"
	"io"
	"sync"

	"github.com/1ureka/nexzi/internal/util"
)

// CountingBinding drains remote tracks and counts the bytes received. It is
// the terminal's stand-in for a video element.
type CountingBinding struct {
	mu      sync.Mutex
	local   *Stream
	remote  *RemoteStream
	readers int
	stop    chan struct{}
}

// NewCountingBinding creates an idle binding.
func NewCountingBinding() *CountingBinding {
	return &CountingBinding{stop: make(chan struct{})}
}

func (b *CountingBinding) AttachLocal(s *Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.local = s
	util.LogInfo("sharing screen (stream %s, %d tracks)", s.ID(), len(s.Tracks()))
}

// AttachRemote starts a reader for t.
func (b *CountingBinding) AttachRemote(s *RemoteStream, t RemoteTrack) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remote = s
	b.readers++
	util.LogInfo("receiving %s track %s from stream %s", t.Kind(), t.ID(), s.ID())

	stop := b.stop
	go func() {
		buf := make([]byte, 1500)
		for {
			n, err := t.Read(buf)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					util.LogDebug("remote %s track: %v", t.Kind(), err)
				}
				return
			}
			util.Stats.AddMediaRecv(n)

			select {
			case <-stop:
				return
			default:
			}
		}
	}()
}

// Detach forgets both streams. Readers exit on their next read, which fails
// once the connection is closed.
func (b *CountingBinding) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.local == nil && b.remote == nil {
		return
	}
	close(b.stop)
	b.stop = make(chan struct{})
	b.local = nil
	b.remote = nil
	b.readers = 0
}

// Remote returns the stream currently bound for playback, if any.
func (b *CountingBinding) Remote() *RemoteStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remote
}

// Readers reports how many remote tracks are being drained.
func (b *CountingBinding) Readers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readers
}
