package compositor

import (
	"math"
	"testing"
)

func TestCommitAndPromoteDelivered(t *testing.T) {
	tbl := NewTable()
	slot := tbl.Add(1, false, 0)

	slot.BeginProgress()
	slot.Progress().DisplayTimeNs = 1000
	slot.Progress().Layers = []Layer{{Type: LayerQuad}}
	slot.CommitScheduled()

	tbl.PromoteAll(500) // before display time: should not promote
	if slot.Delivered().Active {
		t.Fatal("promoted before display time")
	}

	tbl.PromoteAll(1000)
	if !slot.Delivered().Active {
		t.Fatal("expected promotion at display time")
	}
	if len(slot.Delivered().Layers) != 1 {
		t.Fatalf("delivered layers = %d, want 1", len(slot.Delivered().Layers))
	}
}

// commitAndPromote pushes an empty frame through a slot so it has a
// delivered stack, the precondition for joining the composite.
func commitAndPromote(s *Slot) {
	s.BeginProgress()
	s.Progress().DisplayTimeNs = 0
	s.CommitScheduled()
	s.PromoteIfDue(0)
}

func TestZOrderedPrimaryFirstThenStableByZ(t *testing.T) {
	tbl := NewTable()
	primary := tbl.Add(1, false, 0)
	overlayA := tbl.Add(2, true, 5)
	overlayB := tbl.Add(3, true, 2)
	commitAndPromote(primary)
	commitAndPromote(overlayA)
	commitAndPromote(overlayB)

	ordered := tbl.ZOrdered(primary.ClientID)
	if len(ordered) != 3 {
		t.Fatalf("ordered len = %d, want 3", len(ordered))
	}
	if ordered[0].ClientID != primary.ClientID {
		t.Fatalf("primary not first: %+v", ordered)
	}
	if ordered[0].ZOrder != math.MinInt32 {
		t.Fatalf("primary z-order = %d, want MinInt32", ordered[0].ZOrder)
	}
	if ordered[1].ClientID != overlayB.ClientID || ordered[2].ClientID != overlayA.ClientID {
		t.Fatalf("overlays not ascending by z: %+v", ordered)
	}
}

func TestZOrderedNoPrimary(t *testing.T) {
	tbl := NewTable()
	commitAndPromote(tbl.Add(2, true, 1))
	ordered := tbl.ZOrdered(-1)
	if len(ordered) != 1 {
		t.Fatalf("ordered len = %d, want 1", len(ordered))
	}
}

type recordingDispatcher struct {
	calls []int
}

func (d *recordingDispatcher) DispatchLayer(clientID int, l Layer) error {
	d.calls = append(d.calls, clientID)
	return nil
}

func TestZOrderedExcludesUncommittedOverlays(t *testing.T) {
	tbl := NewTable()
	active := tbl.Add(1, false, 0)
	active.BeginProgress()
	active.Progress().DisplayTimeNs = 0
	active.Progress().Layers = []Layer{{Type: LayerStereoProjection}}
	active.CommitScheduled()
	tbl.PromoteAll(0)

	tbl.Add(2, true, 1) // never committed a frame; delivered stays inactive

	ordered := tbl.ZOrdered(active.ClientID)
	if len(ordered) != 1 || ordered[0].ClientID != 1 {
		t.Fatalf("ordered = %v, want only the primary (client 1)", clientIDs(ordered))
	}

	d := &recordingDispatcher{}
	if err := Dispatch(ordered, d); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(d.calls) != 1 || d.calls[0] != 1 {
		t.Fatalf("calls = %v, want [1]", d.calls)
	}
}

func clientIDs(slots []*Slot) []int {
	ids := make([]int, 0, len(slots))
	for _, s := range slots {
		ids = append(ids, s.ClientID)
	}
	return ids
}
