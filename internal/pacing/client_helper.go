package pacing

import "sync"

// sampleRingSize bounds how many recent global samples a client helper
// remembers; only the most recent is ever actually used (see Latest), but a
// small ring keeps the type ready for a future revision that needs history
// without changing its interface.
const sampleRingSize = 4

type sample struct {
	displayNs int64
	periodNs  int64
}

// PerClientHelper smooths the render loop's single global prediction
// (Open Question #1, resolved in DESIGN.md: one broadcast sample per tick,
// fanned out under global_state_lock) across a client's own frame-id
// sequence. It caps re-prediction to the most recent server sample and
// guarantees the predicted display time it returns is non-decreasing for
// this client.
type PerClientHelper struct {
	mu sync.Mutex

	ring        [sampleRingSize]sample
	ringHead    int
	hasSample   bool
	lastDisplay int64

	nextLocalFrameID uint64
}

// Broadcast is called once per render tick (under global_state_lock in the
// caller) with the render loop's new global sample.
func (h *PerClientHelper) Broadcast(displayNs, periodNs int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.ringHead] = sample{displayNs: displayNs, periodNs: periodNs}
	h.ringHead = (h.ringHead + 1) % sampleRingSize
	h.hasSample = true
}

// Latest derives this client's next wait_frame reply from the most recent
// broadcast sample, assigning it a local, monotonically increasing frame
// id. The returned predicted display time never regresses below the
// previous call's.
func (h *PerClientHelper) Latest() (frameID uint64, predictedDisplayNs, periodNs int64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.hasSample {
		return 0, 0, 0, false
	}
	latestIdx := (h.ringHead - 1 + sampleRingSize) % sampleRingSize
	s := h.ring[latestIdx]

	display := s.displayNs
	if display < h.lastDisplay {
		display = h.lastDisplay
	}
	h.lastDisplay = display

	id := h.nextLocalFrameID
	h.nextLocalFrameID++
	return id, display, s.periodNs, true
}
