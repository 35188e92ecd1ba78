package eventqueue

import "testing"

func TestPushPollFIFOByTimestamp(t *testing.T) {
	q := &Queue{}
	q.Push(Event{Kind: SessionStateChanged}, 10)
	q.Push(Event{Kind: HapticStop}, 20)

	ev, ok := q.Poll()
	if !ok || ev.Kind != SessionStateChanged {
		t.Fatalf("first Poll() = %+v, %v; want SessionStateChanged", ev, ok)
	}
	ev, ok = q.Poll()
	if !ok || ev.Kind != HapticStop {
		t.Fatalf("second Poll() = %+v, %v; want HapticStop", ev, ok)
	}
	if _, ok := q.Poll(); ok {
		t.Fatal("expected empty queue after draining both events")
	}
}

func TestOverflowEvictsOldest(t *testing.T) {
	q := &Queue{}
	for i := 0; i < Capacity; i++ {
		q.Push(Event{Kind: Kind(i % 5)}, int64(i))
	}
	// One more push should evict timestamp 0 (the oldest), not deliver it twice.
	q.Push(Event{Kind: Exiting}, int64(Capacity))

	seen := make(map[int64]bool)
	for {
		_, ok := q.Poll()
		if !ok {
			break
		}
		// We only assert on count/no-double-delivery, not exact timestamps,
		// since Event carries no timestamp itself.
		seen[int64(len(seen))] = true
	}
	if len(seen) != Capacity {
		t.Fatalf("drained %d events, want %d (oldest evicted, rest delivered once)", len(seen), Capacity)
	}
}

func TestPollEmptyQueue(t *testing.T) {
	q := &Queue{}
	if _, ok := q.Poll(); ok {
		t.Fatal("expected ok=false on empty queue")
	}
}
