package pacing

import (
	"log/slog"
	"sync"

	"github.com/openxrd/runtime/internal/xrlog"
)

// NumFrames is the frame-record ring capacity.
const NumFrames = 16

type frameRecord struct {
	valid              bool
	phase              Phase
	frameID            uint64
	whenPredictNs      int64
	wakeUpNs           int64
	desiredPresentNs   int64
	predictedDisplayNs int64
	whenWokeNs         int64
	whenBeganNs        int64
	whenSubmittedNs    int64
	actualPresentNs    int64
	earliestPresentNs  int64
	presentMarginNs    int64
	appTimeNs          int64
}

// DisplayTiming is the closed-loop engine: it predicts wake/present/display
// deadlines from the last-known-good frame record and adapts app_time from
// observed present feedback.
type DisplayTiming struct {
	mu sync.Mutex

	periodNs       int64
	appTimeNs      int64
	appTimeMaxNs   int64
	presentOffsetNs int64
	targetMarginNs int64

	nextFrameID uint64
	ring        [NumFrames]frameRecord
}

// NewDisplayTiming creates a closed-loop engine for a display refreshing
// every periodNs nanoseconds. Initial app_time is 10% of the period,
// present offset 4ms, target margin 1ms.
func NewDisplayTiming(periodNs int64) *DisplayTiming {
	return &DisplayTiming{
		periodNs:        periodNs,
		appTimeNs:       periodNs / 10, // 10% of period
		appTimeMaxNs:    (periodNs * 30) / 100,
		presentOffsetNs: 4 * 1000 * 1000, // 4ms
		targetMarginNs:  1 * 1000 * 1000, // 1ms
	}
}

func (d *DisplayTiming) slot(id uint64) *frameRecord { return &d.ring[id%NumFrames] }

// Predict implements predict(): find the most recent record with feedback
// or a prior prediction, then walk forward by period until the desired
// present time clears now + app_time + margin.
func (d *DisplayTiming) Predict(nowNs int64) Prediction {
	d.mu.Lock()
	defer d.mu.Unlock()

	base := d.mostRecentBase()
	desired := base
	margin := d.targetMarginNs
	for desired < nowNs+d.appTimeNs+margin {
		desired += d.periodNs
	}

	id := d.nextFrameID
	d.nextFrameID++

	predictedDisplay := desired + d.presentOffsetNs
	wakeUp := desired - (d.appTimeNs + margin)

	rec := d.slot(id)
	*rec = frameRecord{
		valid:              true,
		phase:              Predicted,
		frameID:            id,
		whenPredictNs:      nowNs,
		wakeUpNs:           wakeUp,
		desiredPresentNs:   desired,
		predictedDisplayNs: predictedDisplay,
		appTimeNs:          d.appTimeNs,
	}

	return Prediction{
		FrameID:            id,
		WakeUpNs:           wakeUp,
		DesiredPresentNs:   desired,
		PresentSlopNs:      presentSlopNs,
		PredictedDisplayNs: predictedDisplay,
		PeriodNs:           d.periodNs,
		MinPeriodNs:        d.periodNs,
	}
}

// mostRecentBase returns the desired_present_ns of the highest-numbered
// valid record to walk forward from, or 0 if the ring is empty (first
// prediction ever made).
func (d *DisplayTiming) mostRecentBase() int64 {
	if d.nextFrameID == 0 {
		return 0
	}
	last := d.slot(d.nextFrameID - 1)
	if last.valid {
		return last.desiredPresentNs
	}
	return 0
}

// MarkPoint advances a frame record's phase. Out-of-phase marks are logged
// and ignored (see package doc); marks for a frame no longer in the ring are
// ignored without a log.
func (d *DisplayTiming) MarkPoint(phase Phase, frameID uint64, whenNs int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := d.slot(frameID)
	if !rec.valid || rec.frameID != frameID {
		return
	}
	outOfPhase := func() {
		xrlog.Logger().Warn("pacing: out-of-phase mark ignored", slog.Int("phase", int(phase)), slog.Int("current", int(rec.phase)), slog.Uint64("frame_id", frameID))
	}
	switch phase {
	case Woke:
		if rec.phase != Predicted {
			outOfPhase()
			return
		}
		rec.whenWokeNs = whenNs
	case Began:
		if rec.phase != Woke {
			outOfPhase()
			return
		}
		rec.whenBeganNs = whenNs
	case Submitted:
		if rec.phase != Began {
			outOfPhase()
			return
		}
		rec.whenSubmittedNs = whenNs
	default:
		return
	}
	rec.phase = phase
}

// Feedback implements info(): records present feedback and applies the
// adaptive app_time controller.
func (d *DisplayTiming) Feedback(frameID uint64, desiredNs, actualNs, earliestNs, marginNs int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := d.slot(frameID)
	if rec.valid && rec.frameID == frameID {
		rec.actualPresentNs = actualNs
		rec.earliestPresentNs = earliestNs
		rec.presentMarginNs = marginNs
		rec.phase = Info
	}

	adjustMissed := (d.periodNs * 4) / 100   // 4% of period
	adjustNonMiss := (d.periodNs * 2) / 100  // 2% of period
	missThresholdNs := int64(500 * 1000)     // 0.5ms

	switch {
	case actualNs > desiredNs+missThresholdNs:
		d.appTimeNs += adjustMissed
		if d.appTimeNs > d.appTimeMaxNs {
			d.appTimeNs = d.appTimeMaxNs
		}
	case abs64(marginNs-d.targetMarginNs) > adjustNonMiss:
		if marginNs > d.targetMarginNs {
			d.appTimeNs -= adjustNonMiss
		} else {
			d.appTimeNs += adjustNonMiss
		}
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// AppTimeNs exposes the current adaptive app_time value, chiefly for tests.
func (d *DisplayTiming) AppTimeNs() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appTimeNs
}
