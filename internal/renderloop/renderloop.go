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

// Package renderloop implements the single dedicated render task:
//
//	loop:
//	  (frame_id, t_display, t_period) = wait_frame()
//	  broadcast(t_display, t_period) to all per-client timing helpers   # under global lock
//	  begin_frame(frame_id)
//	  layer_begin(frame_id, 0)
//	  merge_and_submit_layers(target_display_time = t_display)
//	  layer_commit(frame_id)
//	  poll_control_epoll(non_blocking)
//
// Blocking happens only in wait_frame; every other step either runs
// in-process or polls with a zero timeout, so a shutdown signal is caught
// every vsync.
package renderloop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openxrd/runtime/internal/compositor"
	"github.com/openxrd/runtime/internal/eventqueue"
	"github.com/openxrd/runtime/internal/pacing"
	"github.com/openxrd/runtime/internal/session"
	"github.com/openxrd/runtime/internal/swapchain"
	"github.com/openxrd/runtime/internal/xrlog"
)

// Clock abstracts wall-clock access so tests can run the loop without real
// sleeps. Production code uses realClock.
type Clock interface {
	NowNs() int64
	SleepUntil(deadlineNs int64)
}

type realClock struct{}

func (realClock) NowNs() int64 { return time.Now().UnixNano() }

func (realClock) SleepUntil(deadlineNs int64) {
	d := time.Duration(deadlineNs - time.Now().UnixNano())
	if d > 0 {
		time.Sleep(d)
	}
}

// ControlPoller is satisfied by internal/controlsocket.Poller; kept as an
// interface here so the render loop doesn't import a platform-specific
// package directly.
type ControlPoller interface {
	PollNonBlocking() ([]int, error)
}

// PresentFeedback reports per-frame presentation timing from the display
// path, closing the pacing loop. A backend without timing feedback leaves
// this nil and the engine runs open loop.
type PresentFeedback interface {
	PresentInfo(frameID uint64) (desiredNs, actualNs, earliestNs, marginNs int64, ok bool)
}

// TickPublisher pushes a fresh input-snapshot generation to shared memory
// once per tick, so every client reads the same generation regardless of
// when it asks.
type TickPublisher interface {
	PublishTick(nowNs uint64)
}

// Loop owns the native compositor handle (abstracted behind Engine and
// Dispatcher) and runs the render task described in the package doc.
type Loop struct {
	Engine     pacing.Engine
	Sessions   *session.Table
	Compositor *compositor.Table
	GC         *swapchain.GCStack
	Dispatcher compositor.LayerDispatcher
	Poller     ControlPoller
	Feedback   PresentFeedback
	Publisher  TickPublisher
	Clock      Clock

	// global_state_lock: guards Helpers and any caller-owned client table
	// walked during the broadcast step.
	mu      sync.Mutex
	Helpers map[int]*pacing.PerClientHelper

	// Events is the per-client event-queue fan-out; update_server_state's
	// transitions are pushed here so poll_event can observe them.
	Events map[int]*eventqueue.Queue
}

// New creates a render loop with empty, client-keyed Helpers and Events
// tables; AddClient populates them, and may do so concurrently with Run.
func New(engine pacing.Engine, sessions *session.Table, comp *compositor.Table, gc *swapchain.GCStack, dispatcher compositor.LayerDispatcher, poller ControlPoller) *Loop {
	return &Loop{
		Engine:     engine,
		Sessions:   sessions,
		Compositor: comp,
		GC:         gc,
		Dispatcher: dispatcher,
		Poller:     poller,
		Clock:      realClock{},
		Helpers:    make(map[int]*pacing.PerClientHelper),
		Events:     make(map[int]*eventqueue.Queue),
	}
}

// AddClient registers a new client's timing helper and event queue under
// global_state_lock.
func (l *Loop) AddClient(clientID int) (*pacing.PerClientHelper, *eventqueue.Queue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := &pacing.PerClientHelper{}
	q := &eventqueue.Queue{}
	l.Helpers[clientID] = h
	l.Events[clientID] = q
	return h, q
}

// RemoveClient drops a client's timing helper and event queue on teardown.
func (l *Loop) RemoveClient(clientID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.Helpers, clientID)
	delete(l.Events, clientID)
}

// Run drives the loop until ctx is cancelled. Each iteration is exactly
// one render tick; Tick is exported separately so tests can drive single
// ticks deterministically.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.Tick(ctx)
	}
}

// Tick runs one iteration of the render loop's pseudocode.
func (l *Loop) Tick(ctx context.Context) {
	now := l.Clock.NowNs()
	pred := l.Engine.Predict(now)

	l.Clock.SleepUntil(pred.WakeUpNs)
	l.Engine.MarkPoint(pacing.Woke, pred.FrameID, l.Clock.NowNs())

	l.mu.Lock()
	for _, h := range l.Helpers {
		h.Broadcast(pred.PredictedDisplayNs, pred.PeriodNs)
	}
	l.mu.Unlock()

	if l.Publisher != nil {
		l.Publisher.PublishTick(uint64(l.Clock.NowNs()))
	}

	l.Engine.MarkPoint(pacing.Began, pred.FrameID, l.Clock.NowNs())

	for _, id := range l.Compositor.PromoteAll(pred.PredictedDisplayNs) {
		if ev, ok := l.Sessions.MarkVisible(id); ok {
			l.pushEvent(id, eventqueue.Event{Kind: eventqueue.SessionStateChanged, Payload: ev})
		}
	}

	stateEvents, overlayEvents := l.Sessions.Update()
	for _, ev := range stateEvents {
		l.pushEvent(ev.ClientID, eventqueue.Event{Kind: kindForTransition(ev.To), Payload: ev})
	}
	for _, ov := range overlayEvents {
		l.pushEvent(ov.ClientID, eventqueue.Event{Kind: eventqueue.OverlayVisibilityChanged, Payload: ov})
	}

	activePrimary := -1
	if id, ok := l.Sessions.ActivePrimary(); ok {
		activePrimary = id
	}
	ordered := l.Compositor.ZOrdered(activePrimary)
	if l.Dispatcher != nil {
		if err := compositor.Dispatch(ordered, l.Dispatcher); err != nil {
			xrlog.Logger().Warn("render tick: layer dispatch failed", slog.Int64("frame_id", int64(pred.FrameID)), slog.Any("error", err))
		}
	}

	l.Engine.MarkPoint(pacing.Submitted, pred.FrameID, l.Clock.NowNs())

	if l.Feedback != nil {
		if desired, actual, earliest, margin, ok := l.Feedback.PresentInfo(pred.FrameID); ok {
			l.Engine.Feedback(pred.FrameID, desired, actual, earliest, margin)
		}
	}

	for _, sc := range l.GC.Drain() {
		_ = sc // images already released by their owning client; nothing further to do in-process
	}

	if l.Poller != nil {
		_, _ = l.Poller.PollNonBlocking()
	}
}

func (l *Loop) pushEvent(clientID int, ev eventqueue.Event) {
	l.mu.Lock()
	q := l.Events[clientID]
	l.mu.Unlock()
	if q != nil {
		q.Push(ev, l.Clock.NowNs())
	}
}

// kindForTransition maps a state-machine transition to the outbound event
// kind clients observe: terminal transitions get their own kinds so a
// client can shut down gracefully before the forced exit.
func kindForTransition(to session.State) eventqueue.Kind {
	switch to {
	case session.LossPending:
		return eventqueue.LossPending
	case session.Exiting:
		return eventqueue.Exiting
	default:
		return eventqueue.SessionStateChanged
	}
}
