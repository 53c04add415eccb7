package session

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/1ureka/nexzi/internal/address"
	"github.com/1ureka/nexzi/internal/media"
	"github.com/1ureka/nexzi/internal/negotiation"
	"github.com/1ureka/nexzi/internal/signaling"
	"github.com/1ureka/nexzi/internal/transport"
)

const roundTripTimeout = 30 * time.Second

// jitter delivers every message after a random delay of up to 5 ms.
func jitter(signaling.Message) time.Duration {
	return time.Duration(rand.IntN(5)) * time.Millisecond
}

func newBus(t *testing.T) *signaling.MemoryBus {
	t.Helper()
	bus := signaling.NewMemoryBus(signaling.WithDelay(jitter))
	t.Cleanup(func() { bus.Close() })
	return bus
}

// newManager uses host candidates only, so tests never touch the network.
func newManager(t *testing.T, bus signaling.Channel, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{
		WithDialer(TransportDialer(transport.Config{})),
		WithCapturer(&media.TestPattern{}),
	}, opts...)

	mgr, err := New(bus, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func waitView(t *testing.T, mgr *Manager, what string, cond func(View) bool) View {
	t.Helper()
	views, cancel := mgr.Subscribe()
	defer cancel()

	timeout := time.After(roundTripTimeout)
	for {
		select {
		case v, ok := <-views:
			if !ok {
				t.Fatalf("view channel closed while waiting for %s", what)
			}
			if cond(v) {
				return v
			}
		case <-timeout:
			v := mgr.View()
			t.Fatalf("timed out waiting for %s; phase=%s error=%q", what, v.Phase, v.ErrorMessage)
		}
	}
}

func waitEvent(t *testing.T, events <-chan LifecycleEvent, kind LifecycleKind) LifecycleEvent {
	t.Helper()
	timeout := time.After(roundTripTimeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("lifecycle channel closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

// TestStreamingRoundTrip runs a full call over real pion connections with
// trickled candidates and a jittery signaling bus.
func TestStreamingRoundTrip(t *testing.T) {
	ctx := context.Background()
	bus := newBus(t)
	viewer := newManager(t, bus)
	sharer := newManager(t, bus)

	calls, cancel := sharer.Lifecycle()
	defer cancel()

	if err := viewer.Connect(ctx, sharer.View().Local); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ev := waitEvent(t, calls, IncomingCall)
	if ev.Remote != viewer.View().Local {
		t.Fatalf("incoming call from %s, want %s", ev.Remote, viewer.View().Local)
	}
	if v := sharer.View(); v.Caller != ev.Remote || v.Connected {
		t.Fatalf("sharer view before accepting: %+v", v)
	}

	if err := sharer.Accept(ctx); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	sv := waitView(t, sharer, "sharer connected", func(v View) bool { return v.Connected })
	if sv.LocalStream == nil || sv.Role != negotiation.RoleSharer {
		t.Errorf("sharer view: %+v", sv)
	}

	vv := waitView(t, viewer, "viewer connected", func(v View) bool { return v.Connected && v.RemoteStream != nil })
	if vv.Role != negotiation.RoleViewer || vv.Remote != sharer.View().Local {
		t.Errorf("viewer view: %+v", vv)
	}
	if got := vv.RemoteStream.ID(); got != sv.LocalStream.ID() {
		t.Errorf("remote stream %s, want %s", got, sv.LocalStream.ID())
	}

	if err := viewer.End(ctx); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	waitView(t, sharer, "sharer idle", func(v View) bool { return v.Phase == negotiation.PhaseIdle })
}

// TestManualRoundTrip exchanges copy/paste codes only; the bus carries
// nothing.
func TestManualRoundTrip(t *testing.T) {
	ctx := context.Background()
	bus := newBus(t)

	var seen atomic.Int32
	sub := bus.Subscribe(func(signaling.Message) { seen.Add(1) })
	defer bus.Unsubscribe(sub)

	manual := WithCandidatePolicy(negotiation.BufferUntilGatheringComplete)
	viewer := newManager(t, bus, manual)
	sharer := newManager(t, bus, manual)

	if err := viewer.Connect(ctx, ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	offer := waitView(t, viewer, "offer code", func(v View) bool { return v.OfferCode != "" }).OfferCode

	if err := sharer.CreateAnswer(ctx, "  "+offer+"\n"); err != nil {
		t.Fatalf("CreateAnswer failed: %v", err)
	}
	sv := waitView(t, sharer, "answer code", func(v View) bool { return v.AnswerCode != "" })
	if !sv.Connected || sv.Remote != viewer.View().Local {
		t.Errorf("sharer view: %+v", sv)
	}

	if err := viewer.AcceptAnswer(ctx, sv.AnswerCode); err != nil {
		t.Fatalf("AcceptAnswer failed: %v", err)
	}
	if v := viewer.View(); !v.Connected {
		t.Fatalf("viewer not connected after AcceptAnswer: %+v", v)
	}

	waitView(t, viewer, "remote media", func(v View) bool { return v.RemoteStream != nil })

	if n := seen.Load(); n != 0 {
		t.Errorf("manual exchange put %d messages on the bus", n)
	}
}

// TestRejectedCall declines a call; both sides end up idle and the viewer
// is told.
func TestRejectedCall(t *testing.T) {
	ctx := context.Background()
	bus := newBus(t)
	viewer := newManager(t, bus)
	sharer := newManager(t, bus)

	viewerEvents, cancelViewer := viewer.Lifecycle()
	defer cancelViewer()
	calls, cancelCalls := sharer.Lifecycle()
	defer cancelCalls()

	sharerAddr := sharer.View().Local
	if err := viewer.Connect(ctx, sharerAddr); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitEvent(t, calls, IncomingCall)

	if err := sharer.Reject(ctx); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if v := sharer.View(); v.Phase != negotiation.PhaseIdle || v.Local == sharerAddr || v.LocalStream != nil {
		t.Errorf("sharer view after Reject: %+v", v)
	}

	waitEvent(t, viewerEvents, Disconnected)
	if v := viewer.View(); v.Phase != negotiation.PhaseIdle || v.RemoteStream != nil {
		t.Errorf("viewer view after rejection: %+v", v)
	}
}

// TestDeclinedCaptureReportsError checks that a failure reaches lifecycle
// listeners before the teardown it causes, so a listener that stops at the
// first disconnect still sees why.
func TestDeclinedCaptureReportsError(t *testing.T) {
	ctx := context.Background()
	bus := newBus(t)
	viewer := newManager(t, bus)
	deny := &media.TestPattern{Prompt: func(context.Context) (bool, error) { return false, nil }}
	sharer := newManager(t, bus, WithCapturer(deny))

	events, cancel := sharer.Lifecycle()
	defer cancel()

	caller := viewer.View().Local
	if err := viewer.Connect(ctx, sharer.View().Local); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitEvent(t, events, IncomingCall)
	if err := sharer.Accept(ctx); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	var got []LifecycleEvent
	timeout := time.After(roundTripTimeout)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out; events so far: %+v", got)
		}
	}

	if got[0].Kind != Failed || got[1].Kind != Disconnected {
		t.Fatalf("events = %+v, want error then disconnected", got)
	}
	if got[0].Message != "Permission to share screen was denied." {
		t.Errorf("message = %q", got[0].Message)
	}
	if got[0].Remote != caller {
		t.Errorf("error event remote = %s, want %s", got[0].Remote, caller)
	}
	if v := sharer.View(); v.ErrorKind != negotiation.KindPermissionDenied {
		t.Errorf("view error kind = %v", v.ErrorKind)
	}
}

// TestAddressChangesEverySession checks that no two consecutive sessions
// share a local address.
func TestAddressChangesEverySession(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, newBus(t))
	remote := address.Address("123456789")

	prev := mgr.View().Local
	for i := 0; i < 20; i++ {
		if err := mgr.Connect(ctx, remote); err != nil {
			t.Fatalf("Connect #%d failed: %v", i, err)
		}
		if err := mgr.End(ctx); err != nil {
			t.Fatalf("End #%d failed: %v", i, err)
		}
		next := mgr.View().Local
		if next == prev {
			t.Fatalf("session %d reused address %s", i, next)
		}
		prev = next
	}
}

func TestSubscribeLatestWins(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, newBus(t))

	views, cancel := mgr.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := mgr.Connect(ctx, "123456789"); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if err := mgr.End(ctx); err != nil {
			t.Fatalf("End failed: %v", err)
		}
	}

	want := mgr.View().Local
	deadline := time.After(time.Second)
	for {
		select {
		case v := <-views:
			if v.Local == want && v.Phase == negotiation.PhaseIdle {
				return
			}
		case <-deadline:
			t.Fatalf("never saw the latest view with address %s", want)
		}
	}
}

func TestCloseReleasesSubscriptions(t *testing.T) {
	bus := newBus(t)
	mgr, err := New(bus, WithDialer(TransportDialer(transport.Config{})))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	views, _ := mgr.Subscribe()
	events, _ := mgr.Lifecycle()

	if err := mgr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	for range views {
	}
	for range events {
	}

	// a late message for the old address must not reach the closed machine
	msg := signaling.NewDisconnect(mgr.View().Local, "")
	if err := bus.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	late, _ := mgr.Subscribe()
	if _, ok := <-late; !ok {
		t.Error("subscribe after Close should still deliver the final view")
	}
	if _, ok := <-late; ok {
		t.Error("subscription after Close left open")
	}
}

func TestNewRequiresChannel(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("New(nil) succeeded")
	}
}
