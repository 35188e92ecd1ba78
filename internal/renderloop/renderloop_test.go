package renderloop

import (
	"context"
	"testing"

	"github.com/openxrd/runtime/internal/compositor"
	"github.com/openxrd/runtime/internal/eventqueue"
	"github.com/openxrd/runtime/internal/pacing"
	"github.com/openxrd/runtime/internal/session"
	"github.com/openxrd/runtime/internal/swapchain"
)

type fakeClock struct{ now int64 }

func (c *fakeClock) NowNs() int64                { return c.now }
func (c *fakeClock) SleepUntil(deadlineNs int64) {
	if deadlineNs > c.now {
		c.now = deadlineNs
	}
}

type recordingDispatcher struct {
	calls []int
}

func (d *recordingDispatcher) DispatchLayer(clientID int, l compositor.Layer) error {
	d.calls = append(d.calls, clientID)
	return nil
}

func newTestLoop() (*Loop, *fakeClock, *recordingDispatcher) {
	engine := pacing.NewFake(int64(11_111_111))
	sessions := session.NewTable()
	comp := compositor.NewTable()
	var gc swapchain.GCStack
	disp := &recordingDispatcher{}
	loop := New(engine, sessions, comp, &gc, disp, nil)
	clock := &fakeClock{}
	loop.Clock = clock
	return loop, clock, disp
}

func TestTickBroadcastsToRegisteredHelpers(t *testing.T) {
	loop, _, _ := newTestLoop()
	helper, _ := loop.AddClient(1)

	loop.Tick(context.Background())

	if _, _, _, ok := helper.Latest(); !ok {
		t.Fatal("expected helper to have received a broadcast sample")
	}
}

func TestTickDispatchesOnlyPromotedSlots(t *testing.T) {
	loop, _, disp := newTestLoop()
	sess := loop.Sessions.Add(1)
	if _, err := sess.SessionCreate(); err != nil {
		t.Fatalf("SessionCreate: %v", err)
	}
	sess.Active = true

	slot := loop.Compositor.Add(1, false, 0)
	slot.BeginProgress()
	slot.Progress().DisplayTimeNs = 0
	slot.Progress().Layers = []compositor.Layer{{Type: compositor.LayerStereoProjection}}
	slot.CommitScheduled()

	loop.Tick(context.Background())

	if len(disp.calls) != 1 || disp.calls[0] != 1 {
		t.Fatalf("dispatch calls = %v, want [1]", disp.calls)
	}
}

func TestTickPromotesLossPendingToExitingNextTick(t *testing.T) {
	loop, _, _ := newTestLoop()
	_, q := loop.AddClient(1)
	sess := loop.Sessions.Add(1)
	sess.LoseConnection()

	loop.Tick(context.Background())

	ev, ok := q.Poll()
	if !ok {
		t.Fatal("expected an EXITING event after the first tick")
	}
	se, isSession := ev.Payload.(session.Event)
	if !isSession || se.To != session.Exiting {
		t.Fatalf("event = %+v, want transition to EXITING", ev)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	loop, _, _ := newTestLoop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := loop.Run(ctx); err == nil {
		t.Fatal("expected Run to return ctx.Err() once cancelled")
	}
}

func TestTickRendersPrimaryThenOverlaysByZ(t *testing.T) {
	loop, _, disp := newTestLoop()

	submit := func(clientID int, overlay bool, z int32) {
		s := loop.Sessions.Add(clientID)
		s.Overlay = overlay
		s.ZOrder = z
		if _, err := s.SessionCreate(); err != nil {
			t.Fatalf("SessionCreate(%d): %v", clientID, err)
		}
		s.FirstBeginFrame()
		slot := loop.Compositor.Add(clientID, overlay, z)
		slot.BeginProgress()
		slot.Progress().Layers = []compositor.Layer{{Type: compositor.LayerQuad}}
		slot.CommitScheduled()
		loop.AddClient(clientID)
	}
	submit(3, true, 20)
	submit(2, true, 10)
	submit(1, false, 0)

	// Every tick renders the primary first, then the overlays by z; the
	// third tick is checked after the first two ticks' calls are cleared.
	loop.Tick(context.Background())
	loop.Tick(context.Background())
	disp.calls = nil
	loop.Tick(context.Background())

	if len(disp.calls) != 3 || disp.calls[0] != 1 || disp.calls[1] != 2 || disp.calls[2] != 3 {
		t.Fatalf("render order = %v, want [1 2 3]", disp.calls)
	}
}

func TestTickEmitsOverlayVisibilityOnce(t *testing.T) {
	loop, _, _ := newTestLoop()
	_, primaryQ := loop.AddClient(1)
	_, overlayQ := loop.AddClient(2)
	_ = primaryQ

	for _, c := range []struct {
		id      int
		overlay bool
		z       int32
	}{{1, false, 0}, {2, true, 10}} {
		s := loop.Sessions.Add(c.id)
		s.Overlay = c.overlay
		s.ZOrder = c.z
		if _, err := s.SessionCreate(); err != nil {
			t.Fatalf("SessionCreate(%d): %v", c.id, err)
		}
		s.FirstBeginFrame()
		slot := loop.Compositor.Add(c.id, c.overlay, c.z)
		slot.BeginProgress()
		slot.CommitScheduled()
	}

	loop.Tick(context.Background())
	loop.Tick(context.Background())
	loop.Tick(context.Background())

	visible := 0
	for {
		ev, ok := overlayQ.Poll()
		if !ok {
			break
		}
		if ev.Kind == eventqueue.OverlayVisibilityChanged {
			ov := ev.Payload.(session.OverlayEvent)
			if !ov.Visible {
				t.Fatalf("overlay visibility event = %+v, want visible=true", ov)
			}
			visible++
		}
	}
	if visible != 1 {
		t.Fatalf("OVERLAY_VISIBILITY_CHANGED(visible=true) delivered %d times, want exactly once", visible)
	}
}

type scriptedFeedback struct {
	calls int
}

func (f *scriptedFeedback) PresentInfo(frameID uint64) (int64, int64, int64, int64, bool) {
	f.calls++
	desired := int64(1_000_000_000)
	return desired, desired, desired - 500_000, 1_000_000, true
}

func TestTickForwardsPresentFeedbackToEngine(t *testing.T) {
	loop, _, _ := newTestLoop()
	fb := &scriptedFeedback{}
	loop.Feedback = fb

	loop.Tick(context.Background())
	loop.Tick(context.Background())

	if fb.calls != 2 {
		t.Fatalf("PresentInfo called %d times, want once per tick", fb.calls)
	}
}
