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

// Package dispatch is the opcode dispatch table the control-socket worker
// loop (internal/controlsocket.Serve) calls into: it satisfies
// controlsocket.Handler by routing each decoded request to the
// session/compositor/swapchain/pacing/device state the control socket
// itself knows nothing about.
package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/openxrd/runtime/internal/compositor"
	"github.com/openxrd/runtime/internal/device"
	"github.com/openxrd/runtime/internal/eventqueue"
	"github.com/openxrd/runtime/internal/pacing"
	"github.com/openxrd/runtime/internal/renderloop"
	"github.com/openxrd/runtime/internal/session"
	"github.com/openxrd/runtime/internal/swapchain"
	"github.com/openxrd/runtime/internal/wire"
	"github.com/openxrd/runtime/internal/xrerr"
	"github.com/openxrd/runtime/internal/xrlog"
)

// ClientContext is one client's server-side state: the session, this
// client's swapchain table, and the compositor slot it was given once its
// session reaches READY. sem (capacity 1) serializes wait_frame against
// the previous begin_frame; activeWaits bounds outstanding wait_frames
// at 2.
type ClientContext struct {
	ID int

	mu              sync.Mutex
	swapchains      map[uint32]*swapchain.Swapchain
	nextSwapchainID uint32
	beganFrame      bool
	activeWaits     int
	framesWaited    uint64
	framesBegun     uint64

	sem chan struct{}

	sessionCreated bool
	helper         *pacing.PerClientHelper
	events         *eventqueue.Queue
	slot           *compositor.Slot
}

// Service wires every core component together and implements
// controlsocket.Handler. It is the thing cmd/xrsvc constructs and hands to
// each accepted connection's worker goroutine.
type Service struct {
	Devices    *device.Table
	Sessions   *session.Table
	Compositor *compositor.Table
	Loop       *renderloop.Loop
	GC         *swapchain.GCStack

	// PeriodNs is the display's refresh period; system_get_properties
	// reports it as refresh_hz = 1e9 / PeriodNs.
	PeriodNs int64

	// FenceSignal abstracts the GPU fence swapchain.Wait blocks on; the
	// real renderer binding supplies its own, the default just returns true
	// immediately, and tests may install one that reports a timeout.
	FenceSignal func(time.Duration) bool

	// ExtraWaitFrame is the debug-only additional sleep applied to every
	// wait_frame reply (XRT_EXTRA_WAIT_FRAME_MS).
	ExtraWaitFrame time.Duration

	mu      sync.Mutex
	clients map[int]*ClientContext
}

// NewService creates a dispatcher over already-constructed core tables.
func NewService(devices *device.Table, sessions *session.Table, comp *compositor.Table, loop *renderloop.Loop, gc *swapchain.GCStack, periodNs int64) *Service {
	return &Service{
		Devices:     devices,
		Sessions:    sessions,
		Compositor:  comp,
		Loop:        loop,
		GC:          gc,
		PeriodNs:    periodNs,
		FenceSignal: func(time.Duration) bool { return true },
		clients:     make(map[int]*ClientContext),
	}
}

func (s *Service) clientFor(clientID int) *ClientContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.clients[clientID]
	if !ok {
		cc = &ClientContext{ID: clientID, swapchains: make(map[uint32]*swapchain.Swapchain), sem: make(chan struct{}, 1)}
		cc.sem <- struct{}{}
		s.clients[clientID] = cc
	}
	return cc
}

// Disconnect tears a client's context down: mark LOSS_PENDING, enqueue
// the event, and let the next render tick promote to EXITING. The render
// loop keeps serving other clients.
func (s *Service) Disconnect(clientID int) {
	ev, ok := s.Sessions.LoseConnection(clientID)
	if !ok {
		return
	}
	xrlog.Logger().Info("client disconnected, session marked loss-pending", slog.Int("client", clientID))

	s.mu.Lock()
	cc := s.clients[clientID]
	s.mu.Unlock()
	if cc == nil {
		return
	}
	cc.mu.Lock()
	q := cc.events
	for _, sc := range cc.swapchains {
		if s.GC != nil {
			s.GC.Defer(sc)
		}
	}
	cc.swapchains = make(map[uint32]*swapchain.Swapchain)
	cc.mu.Unlock()
	if q != nil {
		q.Push(eventqueue.Event{Kind: eventqueue.LossPending, Payload: ev}, time.Now().UnixNano())
	}
}

// Handle implements controlsocket.Handler.
func (s *Service) Handle(clientID int, op wire.Opcode, payload []byte) ([]byte, []int, error) {
	cc := s.clientFor(clientID)
	r := wire.NewReader(payload)

	switch op {
	case wire.OpInstanceCreate:
		return s.handleInstanceCreate(cc, r)
	case wire.OpSystemGetProperties:
		return s.handleSystemGetProperties(cc, r)
	case wire.OpSessionCreate:
		return s.handleSessionCreate(cc, r)
	case wire.OpBeginSession:
		return s.handleBeginSession(cc, r)
	case wire.OpEndSession:
		return s.handleEndSession(cc, r)
	case wire.OpRequestExit:
		return s.handleRequestExit(cc, r)
	case wire.OpSwapchainCreate:
		return s.handleSwapchainCreate(cc, r)
	case wire.OpSwapchainAcquire:
		return s.handleSwapchainAcquire(cc, r)
	case wire.OpSwapchainWait:
		return s.handleSwapchainWait(cc, r)
	case wire.OpSwapchainRelease:
		return s.handleSwapchainRelease(cc, r)
	case wire.OpWaitFrame:
		return s.handleWaitFrame(cc, r)
	case wire.OpBeginFrame:
		return s.handleBeginFrame(cc, r)
	case wire.OpEndFrame:
		return s.handleEndFrame(cc, r)
	case wire.OpPollEvent:
		return s.handlePollEvent(cc, r)
	case wire.OpGetViewPoses:
		return s.handleGetViewPoses(cc, r)
	case wire.OpRequestRecenter:
		return s.handleRequestRecenter(cc, r)
	case wire.OpActionSync:
		return s.handleActionSync(cc, r)
	case wire.OpApplyHaptic:
		return s.handleApplyHaptic(cc, r)
	case wire.OpStopHaptic:
		return s.handleStopHaptic(cc, r)
	default:
		return nil, nil, xrerr.New(xrerr.Validation, "dispatch: unknown opcode %d", op)
	}
}

// pushEvent enqueues ev on this client's outbound queue, if one exists yet.
func (cc *ClientContext) pushEvent(ev eventqueue.Event, whenNs int64) {
	cc.mu.Lock()
	q := cc.events
	cc.mu.Unlock()
	if q != nil {
		q.Push(ev, whenNs)
	}
}

// broadcastEvent fans ev out to every client with a live session.
func (s *Service) broadcastEvent(ev eventqueue.Event) {
	now := time.Now().UnixNano()
	s.mu.Lock()
	clients := make([]*ClientContext, 0, len(s.clients))
	for _, cc := range s.clients {
		clients = append(clients, cc)
	}
	s.mu.Unlock()
	for _, cc := range clients {
		cc.pushEvent(ev, now)
	}
}

func requireSession(cc *ClientContext) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if !cc.sessionCreated {
		return xrerr.New(xrerr.CallOrder, "client %d: no session created", cc.ID)
	}
	return nil
}
