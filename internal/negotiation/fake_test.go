package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/nexzi/internal/address"
	"github.com/1ureka/nexzi/internal/media"
	"github.com/1ureka/nexzi/internal/signaling"
)

var _ Connection = (*fakeConn)(nil)

// fakeConn is an in-memory Connection. Gates, when set, hold the matching
// call until closed.
type fakeConn struct {
	offerGate chan struct{}
	described chan struct{} // closed when LocalDescription is first read

	mu         sync.Mutex
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	receivers  []webrtc.RTPCodecType
	gathered   chan struct{}
	closed     bool
	emitOnSet  *webrtc.ICECandidateInit

	onCandidate func(*webrtc.ICECandidateInit)
	onTrack     func(media.RemoteTrack)
	onState     func(webrtc.PeerConnectionState)

	describedOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{described: make(chan struct{})}
}

func (f *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	if f.offerGate != nil {
		<-f.offerGate
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (f *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (f *fakeConn) SetLocalDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	f.local = &d
	f.gathered = make(chan struct{})
	close(f.gathered)
	emit, cb := f.emitOnSet, f.onCandidate
	f.mu.Unlock()

	if emit != nil && cb != nil {
		cb(emit)
	}
	return nil
}

func (f *fakeConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.SDP == "" {
		return errors.New("empty sdp")
	}
	f.remote = &d
	return nil
}

func (f *fakeConn) LocalDescription() *webrtc.SessionDescription {
	f.describedOnce.Do(func() { close(f.described) })
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakeConn) GatheringComplete() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gathered
}

func (f *fakeConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return errors.New("candidate before remote description")
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeConn) AddTrack(t webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, t)
	return nil
}

func (f *fakeConn) AddReceiver(kind webrtc.RTPCodecType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receivers = append(f.receivers, kind)
	return nil
}

func (f *fakeConn) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeConn) OnTrack(fn func(media.RemoteTrack)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) appliedCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.candidates...)
}

func (f *fakeConn) fireTrack(t media.RemoteTrack) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	fn(t)
}

func (f *fakeConn) fireState(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(s)
}

// fakeDialer hands out prepared connections in order, then fresh ones.
type fakeDialer struct {
	mu       sync.Mutex
	prepared []*fakeConn
	dialed   []*fakeConn
}

func (d *fakeDialer) dial(context.Context) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var c *fakeConn
	if len(d.prepared) > 0 {
		c, d.prepared = d.prepared[0], d.prepared[1:]
	} else {
		c = newFakeConn()
	}
	d.dialed = append(d.dialed, c)
	return c, nil
}

func (d *fakeDialer) conns() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.dialed...)
}

func (d *fakeDialer) last() *fakeConn {
	conns := d.conns()
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// fakeCapturer returns an empty stream, or err. With a gate it waits for
// the gate regardless of ctx, like a capture API that ignores cancellation.
type fakeCapturer struct {
	err  error
	gate chan struct{}

	mu      sync.Mutex
	streams []*media.Stream
}

func (c *fakeCapturer) AcquireDisplayMedia(ctx context.Context, _ media.Constraints) (*media.Stream, error) {
	if c.gate != nil {
		<-c.gate
	}
	if c.err != nil {
		return nil, c.err
	}
	s := media.NewStream("local", nil)
	c.mu.Lock()
	c.streams = append(c.streams, s)
	c.mu.Unlock()
	return s, nil
}

func (c *fakeCapturer) stream(i int) *media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.streams) {
		return nil
	}
	return c.streams[i]
}

// recorder is a Publisher that keeps every message. With flush set, reads
// first wait for the machine's queued messages.
type recorder struct {
	flush func()

	mu   sync.Mutex
	msgs []signaling.Message
}

func (r *recorder) Publish(_ context.Context, msg signaling.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) sent() []signaling.Message {
	if r.flush != nil {
		r.flush()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signaling.Message(nil), r.msgs...)
}

func (r *recorder) count(typ signaling.MessageType) int {
	n := 0
	for _, m := range r.sent() {
		if m.Type == typ {
			n++
		}
	}
	return n
}

type fakeTrack struct{}

func (fakeTrack) ID() string                { return "video" }
func (fakeTrack) StreamID() string          { return "remote-stream" }
func (fakeTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }
func (fakeTrack) Read([]byte) (int, error)  { return 0, context.Canceled }

// harness bundles a Machine with its fakes.
type harness struct {
	m        *Machine
	dialer   *fakeDialer
	capturer *fakeCapturer
	rec      *recorder

	mu      sync.Mutex
	events  []Event
	changes int
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		dialer:   &fakeDialer{},
		capturer: &fakeCapturer{},
		rec:      &recorder{},
	}

	cfg := Config{
		Channel:  h.rec,
		Dial:     h.dialer.dial,
		Capturer: h.capturer,
		OnEvent: func(ev Event) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		},
		OnChange: func(Snapshot) {
			h.mu.Lock()
			h.changes++
			h.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h.m = New(cfg)
	if h.m.out != nil {
		h.rec.flush = h.m.out.flush
	}
	t.Cleanup(func() { h.m.Close() })
	return h
}

func (h *harness) eventKinds() []EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	kinds := make([]EventKind, len(h.events))
	for i, ev := range h.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (h *harness) changeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changes
}

// sync round-trips through the loop so every previously posted event has
// been handled.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	if err := h.m.do(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func waitFor(t *testing.T, m *Machine, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		s := m.Snapshot()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last snapshot: phase=%s role=%s err=%v", what, s.Phase, s.Role, s.Err)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func inPhase(p Phase) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.Phase == p }
}

func offerFrom(from, to address.Address) signaling.Message {
	return signaling.NewOffer(to, from, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote-offer"})
}

func answerFrom(from, to address.Address) signaling.Message {
	return signaling.NewAnswer(to, from, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 remote-answer"})
}

func candidateFrom(from, to address.Address, label string) signaling.Message {
	return signaling.NewCandidate(to, from, webrtc.ICECandidateInit{Candidate: label})
}
