/*
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package pacing implements the frame-pacing engine: a closed-loop
// DisplayTiming controller used when presentation feedback is available,
// and a stateless open-loop Fake predictor used when it isn't, both behind
// the Engine interface.
package pacing

// Phase is a frame record's lifecycle stage. Transitions are monotone:
// Predicted -> Woke -> Began -> Submitted -> Info. Out-of-phase marks are a
// programmer error; DisplayTiming.MarkPoint logs and ignores them, it never
// panics.
type Phase int

const (
	Predicted Phase = iota
	Woke
	Began
	Submitted
	Info
	Skipped
	Cleared
)

// Prediction is what predict() returns: the next frame's schedule.
type Prediction struct {
	FrameID            uint64
	WakeUpNs           int64
	DesiredPresentNs   int64
	PresentSlopNs      int64
	PredictedDisplayNs int64
	PeriodNs           int64
	MinPeriodNs        int64
}

// Engine is the common interface DisplayTiming and Fake both satisfy.
type Engine interface {
	Predict(nowNs int64) Prediction
	MarkPoint(phase Phase, frameID uint64, whenNs int64)
	Feedback(frameID uint64, desiredNs, actualNs, earliestNs, marginNs int64)
}

const presentSlopNs = int64(500 * 1000) // 0.5ms
