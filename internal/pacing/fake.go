package pacing

import "sync"

// Fake is the open-loop engine used when no presentation feedback is
// available: a stateless affine predictor with no adaptation.
type Fake struct {
	mu sync.Mutex

	periodNs        int64
	presentOffsetNs int64
	appTimeNs       int64

	nextFrameID uint64
	lastDisplay int64
}

// NewFake creates an open-loop engine for a display refreshing every
// periodNs nanoseconds.
func NewFake(periodNs int64) *Fake {
	return &Fake{
		periodNs:        periodNs,
		presentOffsetNs: 4 * 1000 * 1000,
		appTimeNs:       periodNs / 10,
	}
}

// Predict returns predicted_display = last_display + k*period, the
// smallest k making the result beat now + present_offset + app_time.
func (f *Fake) Predict(nowNs int64) Prediction {
	f.mu.Lock()
	defer f.mu.Unlock()

	threshold := nowNs + f.presentOffsetNs + f.appTimeNs
	display := f.lastDisplay
	if display == 0 {
		display = threshold
	}
	for display < threshold {
		display += f.periodNs
	}
	f.lastDisplay = display

	id := f.nextFrameID
	f.nextFrameID++

	desired := display - f.presentOffsetNs
	return Prediction{
		FrameID:            id,
		WakeUpNs:           desired - f.appTimeNs,
		DesiredPresentNs:   desired,
		PresentSlopNs:      presentSlopNs,
		PredictedDisplayNs: display,
		PeriodNs:           f.periodNs,
		MinPeriodNs:        f.periodNs,
	}
}

// MarkPoint is accepted and ignored; the open-loop engine keeps no records.
func (f *Fake) MarkPoint(phase Phase, frameID uint64, whenNs int64) {}

// Feedback is accepted and ignored; the open-loop engine does not adapt.
func (f *Fake) Feedback(frameID uint64, desiredNs, actualNs, earliestNs, marginNs int64) {}

var _ Engine = (*DisplayTiming)(nil)
var _ Engine = (*Fake)(nil)
