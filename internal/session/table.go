package session

import (
	"fmt"
	"sort"
	"sync"
)

// Table owns every live session and runs the centralized
// update_server_state transition function once per render tick. Its mutex
// is the global state lock: the render task and every client worker go
// through it for session transitions, held briefly and never across I/O.
type Table struct {
	mu            sync.Mutex
	sessions      map[int]*Session
	activePrimary int // client id of the current active primary; valid only while hasActivePrim is set
	hasActivePrim bool
}

// NewTable creates an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[int]*Session)}
}

// Add registers a new session, created in IDLE.
func (t *Table) Add(clientID int) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := New(clientID)
	t.sessions[clientID] = s
	return s
}

// Remove drops a session from the table (on worker teardown).
func (t *Table) Remove(clientID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, clientID)
	if t.hasActivePrim && t.activePrimary == clientID {
		t.hasActivePrim = false
	}
}

// Get returns the session for clientID, if present. The returned pointer
// is shared; callers mutate it only through the transition wrappers below.
func (t *Table) Get(clientID int) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[clientID]
	return s, ok
}

// Create registers a session with the given overlay placement and runs the
// IDLE → READY transition, dropping the entry again if the transition is
// rejected.
func (t *Table) Create(clientID int, overlay bool, zOrder int32) (Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.sessions[clientID]; exists {
		return Event{}, errAlreadyExists(clientID)
	}
	s := New(clientID)
	s.Overlay = overlay
	s.ZOrder = zOrder
	ev, err := s.SessionCreate()
	if err != nil {
		return Event{}, err
	}
	t.sessions[clientID] = s
	return ev, nil
}

// RequestExitAll pushes every live session through STOPPING, the service
// shutdown drain. Returns the transitions raised, in client-id order.
func (t *Table) RequestExitAll() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var events []Event
	for _, id := range t.sortedIDs() {
		s := t.sessions[id]
		if s.State == Stopping || s.State == Exiting {
			continue
		}
		events = append(events, s.RequestExit())
	}
	return events
}

// RequestExit runs the any → STOPPING transition for clientID.
func (t *Table) RequestExit(clientID int) (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[clientID]
	if !ok {
		return Event{}, false
	}
	return s.RequestExit(), true
}

// EndSession runs the STOPPING → IDLE transition for clientID.
func (t *Table) EndSession(clientID int) (Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[clientID]
	if !ok {
		return Event{}, errNoSession(clientID)
	}
	return s.EndSession()
}

// FirstBeginFrame runs the READY → SYNCHRONIZED transition for clientID if
// this is its first begin_frame.
func (t *Table) FirstBeginFrame(clientID int) (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[clientID]
	if !ok {
		return Event{}, false
	}
	return s.FirstBeginFrame()
}

// LoseConnection runs the any → LOSS_PENDING transition for clientID.
func (t *Table) LoseConnection(clientID int) (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[clientID]
	if !ok {
		return Event{}, false
	}
	return s.LoseConnection(), true
}

// Overlay reports the overlay flag and z-order clientID registered with.
func (t *Table) Overlay(clientID int) (overlay bool, zOrder int32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, found := t.sessions[clientID]
	if !found {
		return false, 0, false
	}
	return s.Overlay, s.ZOrder, true
}

// MarkVisible handles SYNCHRONIZED → VISIBLE when the compositor reports
// this client now has a delivered layer slot.
func (t *Table) MarkVisible(clientID int) (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[clientID]
	if !ok {
		return Event{}, false
	}
	s.Active = true
	if s.State != Synchronized {
		return Event{}, false
	}
	return s.transition(Visible), true
}

// OverlayEvent reports an overlay session's visibility flipping as an
// active primary appears or disappears.
type OverlayEvent struct {
	ClientID int
	Visible  bool
}

// Update runs update_server_state: selects the active primary by fallback
// order (most-recently-set active primary; else first session-active,
// non-overlay client; else none), promotes VISIBLE↔FOCUSED accordingly,
// flips overlay visibility, and advances any LOSS_PENDING session to
// EXITING. Returns every event raised this tick, in client-id order for
// deterministic test assertions.
func (t *Table) Update() ([]Event, []OverlayEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var events []Event
	var overlayEvents []OverlayEvent

	if t.hasActivePrim {
		if s, ok := t.sessions[t.activePrimary]; !ok || s.Overlay || !s.Active || s.State == LossPending {
			t.hasActivePrim = false
		}
	}
	if !t.hasActivePrim {
		for _, id := range t.sortedIDs() {
			s := t.sessions[id]
			if s.Active && !s.Overlay && s.State != LossPending {
				t.activePrimary = id
				t.hasActivePrim = true
				break
			}
		}
	}

	for _, id := range t.sortedIDs() {
		s := t.sessions[id]
		isPrimary := t.hasActivePrim && id == t.activePrimary

		if s.Overlay && s.Active && s.State != LossPending && s.State != Exiting {
			if vis := t.hasActivePrim; vis != s.overlayVisible {
				s.overlayVisible = vis
				overlayEvents = append(overlayEvents, OverlayEvent{ClientID: id, Visible: vis})
			}
		}

		switch s.State {
		case Visible:
			if isPrimary {
				events = append(events, s.transition(Focused))
			}
		case Focused:
			if !isPrimary {
				events = append(events, s.transition(Visible))
			}
		case LossPending:
			if ev, ok := s.PromoteLossPendingToExiting(); ok {
				events = append(events, ev)
			}
		case Idle:
			if s.requestedExit {
				events = append(events, s.transition(Exiting))
			}
		}
	}
	return events, overlayEvents
}

// ActivePrimary returns the current active primary's client id, if any.
func (t *Table) ActivePrimary() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activePrimary, t.hasActivePrim
}

func errAlreadyExists(clientID int) error {
	return fmt.Errorf("session: client %d already has a session", clientID)
}

func errNoSession(clientID int) error {
	return fmt.Errorf("session: client %d has no session", clientID)
}

func (t *Table) sortedIDs() []int {
	ids := make([]int, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
