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

// Package session implements the per-client session state machine and the
// central update_server_state transition function that selects the active
// primary client by fallback order.
package session

import "fmt"

// State is one of the eight visible session states.
type State int

const (
	Idle State = iota
	Ready
	Synchronized
	Visible
	Focused
	Stopping
	LossPending
	Exiting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Ready:
		return "READY"
	case Synchronized:
		return "SYNCHRONIZED"
	case Visible:
		return "VISIBLE"
	case Focused:
		return "FOCUSED"
	case Stopping:
		return "STOPPING"
	case LossPending:
		return "LOSS_PENDING"
	case Exiting:
		return "EXITING"
	default:
		return "UNKNOWN"
	}
}

// Event describes one transition, as returned by the Session and Table
// methods; callers that enqueue it put it on the client's event queue,
// from which poll_event returns it.
type Event struct {
	ClientID int
	From, To State
}

// Session is one client's session lifecycle state plus the flags
// update_server_state needs to pick the active primary.
type Session struct {
	ClientID         int
	State            State
	Overlay          bool
	ZOrder           int32
	Active         bool // session-active: set once a layer slot is delivered; never cleared
	requestedExit  bool
	overlayVisible bool // last visibility this overlay was told about
}

// New creates a session in IDLE.
func New(clientID int) *Session {
	return &Session{ClientID: clientID, State: Idle}
}

func (s *Session) transition(to State) Event {
	ev := Event{ClientID: s.ClientID, From: s.State, To: to}
	s.State = to
	return ev
}

// SessionCreate handles IDLE → READY on session_create success; a client
// that previously called request_exit goes IDLE → EXITING instead.
func (s *Session) SessionCreate() (Event, error) {
	if s.State != Idle {
		return Event{}, fmt.Errorf("session: session_create called in state %s, want IDLE", s.State)
	}
	if s.requestedExit {
		return s.transition(Exiting), nil
	}
	return s.transition(Ready), nil
}

// FirstBeginFrame handles READY → SYNCHRONIZED on the first successful
// begin_frame.
func (s *Session) FirstBeginFrame() (Event, bool) {
	if s.State != Ready {
		return Event{}, false
	}
	return s.transition(Synchronized), true
}

// RequestExit handles any→STOPPING on request_exit or service shutdown. It
// is advisory: actual teardown waits for EndSession or a socket drop.
func (s *Session) RequestExit() Event {
	s.requestedExit = true
	if s.State == Stopping || s.State == Exiting {
		return Event{ClientID: s.ClientID, From: s.State, To: s.State}
	}
	return s.transition(Stopping)
}

// EndSession handles STOPPING → IDLE after end_session.
func (s *Session) EndSession() (Event, error) {
	if s.State != Stopping {
		return Event{}, fmt.Errorf("session: end_session called in state %s, want STOPPING", s.State)
	}
	return s.transition(Idle), nil
}

// LoseConnection handles any→LOSS_PENDING on IPC/device loss.
func (s *Session) LoseConnection() Event {
	return s.transition(LossPending)
}

// PromoteLossPendingToExiting advances a LOSS_PENDING session to EXITING.
// This runs from the render loop's per-tick update_server_state call, one
// tick after LoseConnection, not synchronously with it, so a fallback
// primary is promoted on the next tick rather than immediately.
func (s *Session) PromoteLossPendingToExiting() (Event, bool) {
	if s.State != LossPending {
		return Event{}, false
	}
	return s.transition(Exiting), true
}
