package pacing

import "testing"

const testPeriodNs = int64(11_111_111) // ~90Hz

func TestDisplayTimingPredictionsMonotone(t *testing.T) {
	dt := NewDisplayTiming(testPeriodNs)
	var prevDisplay int64
	now := int64(0)
	for i := 0; i < 5; i++ {
		p := dt.Predict(now)
		if p.PredictedDisplayNs < prevDisplay {
			t.Fatalf("frame %d: predicted_display regressed: %d < %d", i, p.PredictedDisplayNs, prevDisplay)
		}
		prevDisplay = p.PredictedDisplayNs
		now = p.DesiredPresentNs + 1
	}
}

func TestDisplayTimingAdaptiveControllerMissThenStabilize(t *testing.T) {
	dt := NewDisplayTiming(testPeriodNs)
	initial := dt.AppTimeNs()

	p := dt.Predict(0)
	dt.MarkPoint(Woke, p.FrameID, p.WakeUpNs)
	dt.MarkPoint(Began, p.FrameID, p.WakeUpNs+1000)
	dt.MarkPoint(Submitted, p.FrameID, p.WakeUpNs+2000)

	// Synthetic trace: actual-desired deltas of +Δ, 0, 0, 0, 0
	missDelta := int64(2_000_000)
	dt.Feedback(p.FrameID, p.DesiredPresentNs, p.DesiredPresentNs+missDelta, p.DesiredPresentNs, 0)
	afterMiss := dt.AppTimeNs()
	adjustMissed := (testPeriodNs * 4) / 100
	if afterMiss != initial+adjustMissed {
		t.Fatalf("app_time after miss = %d, want initial %d + adjust_missed %d", afterMiss, initial, adjustMissed)
	}

	for i := 0; i < 4; i++ {
		p = dt.Predict(p.DesiredPresentNs + 1)
		dt.Feedback(p.FrameID, p.DesiredPresentNs, p.DesiredPresentNs, p.DesiredPresentNs, dt.targetMarginNs)
	}
	stabilized := dt.AppTimeNs()
	if stabilized != afterMiss {
		t.Fatalf("app_time did not stabilize after the miss: %d -> %d", afterMiss, stabilized)
	}
}

func TestDisplayTimingAppTimeClampedToMax(t *testing.T) {
	dt := NewDisplayTiming(testPeriodNs)
	p := dt.Predict(0)
	for i := 0; i < 50; i++ {
		dt.Feedback(p.FrameID, p.DesiredPresentNs, p.DesiredPresentNs+1_000_000_000, p.DesiredPresentNs, 0)
	}
	if dt.AppTimeNs() > dt.appTimeMaxNs {
		t.Fatalf("app_time %d exceeded max %d", dt.AppTimeNs(), dt.appTimeMaxNs)
	}
}

func TestFakePredictionsMonotoneAndBeatThreshold(t *testing.T) {
	f := NewFake(testPeriodNs)
	var prevDisplay int64
	now := int64(0)
	for i := 0; i < 5; i++ {
		p := f.Predict(now)
		if p.PredictedDisplayNs < prevDisplay {
			t.Fatalf("frame %d: predicted_display regressed: %d < %d", i, p.PredictedDisplayNs, prevDisplay)
		}
		threshold := now + f.presentOffsetNs + f.appTimeNs
		if p.PredictedDisplayNs < threshold {
			t.Fatalf("frame %d: predicted_display %d does not beat threshold %d", i, p.PredictedDisplayNs, threshold)
		}
		prevDisplay = p.PredictedDisplayNs
		now += testPeriodNs
	}
}

func TestPerClientHelperNonDecreasingAcrossBroadcasts(t *testing.T) {
	h := &PerClientHelper{}
	h.Broadcast(1000, testPeriodNs)
	_, d1, _, ok := h.Latest()
	if !ok || d1 != 1000 {
		t.Fatalf("first Latest() = %d, %v; want 1000, true", d1, ok)
	}

	// Stale/regressed broadcast should not move this client backwards.
	h.Broadcast(500, testPeriodNs)
	_, d2, _, ok := h.Latest()
	if !ok || d2 < d1 {
		t.Fatalf("Latest() regressed: %d < %d", d2, d1)
	}
}

func TestPerClientHelperNoSampleYet(t *testing.T) {
	h := &PerClientHelper{}
	if _, _, _, ok := h.Latest(); ok {
		t.Fatal("expected ok=false before any Broadcast")
	}
}

// Steady state: 100 frames at 90Hz with actual = desired and a fixed app
// workload. The controller converges app_time so the simulated margin
// (app_time minus workload) lands within one adjust_non_miss of the 1ms
// target and holds there.
func TestDisplayTimingSteadyStateConvergesToTargetMargin(t *testing.T) {
	dt := NewDisplayTiming(testPeriodNs)
	workNs := int64(2_000_000) // fixed per-frame app workload
	adjustNonMiss := (testPeriodNs * 2) / 100

	now := int64(0)
	for i := 0; i < 100; i++ {
		p := dt.Predict(now)
		margin := dt.AppTimeNs() - workNs
		dt.Feedback(p.FrameID, p.DesiredPresentNs, p.DesiredPresentNs, p.DesiredPresentNs, margin)
		now = p.DesiredPresentNs
	}

	finalMargin := dt.AppTimeNs() - workNs
	if diff := abs64(finalMargin - dt.targetMarginNs); diff > adjustNonMiss {
		t.Fatalf("margin after 100 frames = %d, want within %d of target %d", finalMargin, adjustNonMiss, dt.targetMarginNs)
	}
}

// Missed frame: steady cadence through frame 50, then actual lands 3ms
// after desired. app_time grows by exactly one adjust_missed, and the next
// prediction — made after the late wake — lands a full extra period out:
// desired_51 = desired_50 + 2*period.
func TestDisplayTimingMissPushesNextFrameOutFullPeriod(t *testing.T) {
	dt := NewDisplayTiming(testPeriodNs)

	var p Prediction
	now := int64(0)
	for i := 0; i <= 50; i++ {
		p = dt.Predict(now)
		if p.FrameID != 50 {
			dt.Feedback(p.FrameID, p.DesiredPresentNs, p.DesiredPresentNs, p.DesiredPresentNs, dt.targetMarginNs)
		}
		now = p.DesiredPresentNs
	}
	desired50 := p.DesiredPresentNs
	before := dt.AppTimeNs()

	dt.Feedback(50, desired50, desired50+3_000_000, desired50, 0)

	adjustMissed := (testPeriodNs * 4) / 100
	if got := dt.AppTimeNs(); got != before+adjustMissed {
		t.Fatalf("app_time after miss = %d, want %d + exactly one adjust_missed %d", got, before, adjustMissed)
	}

	// The app, having missed, wakes a full period late.
	p51 := dt.Predict(desired50 + testPeriodNs)
	if want := desired50 + 2*testPeriodNs; p51.DesiredPresentNs != want {
		t.Fatalf("desired_51 = %d, want desired_50 + 2*period = %d", p51.DesiredPresentNs, want)
	}
	if p51.PredictedDisplayNs != p.PredictedDisplayNs+2*testPeriodNs {
		t.Fatalf("predicted display of frame 51 = %d, want frame 50's %d + 2*period", p51.PredictedDisplayNs, p.PredictedDisplayNs)
	}
}
