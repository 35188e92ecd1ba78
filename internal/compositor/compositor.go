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

// Package compositor maintains the multi-client layer-slot table: one
// {progress, scheduled, delivered} triple buffer per client, each guarded
// by its own lock, promoted scheduled->delivered once per render tick,
// then z-sorted and dispatched.
package compositor

import (
	"math"
	"sort"
	"sync"
)

// LayerType enumerates the layer kinds a client may submit.
type LayerType int

const (
	LayerStereoProjection LayerType = iota
	LayerQuad
	LayerCube
	LayerCylinder
	LayerEquirect
	LayerPassthrough
)

// Layer is one entry of a layer stack. Per-eye rectangles, poses, and
// blend flags live in the caller's richer type; compositing math is the
// renderer capability's concern. This package only needs enough of the
// shape to z-sort and dispatch by type.
type Layer struct {
	Type       LayerType
	Swapchains []uint32
}

// Stack is one client's submitted layer stack for a single frame.
type Stack struct {
	DisplayTimeNs  int64
	EnvBlendMode   int
	Layers         []Layer
	Active         bool
}

// Slot is one client's triple buffer.
type Slot struct {
	mu sync.Mutex

	ClientID int
	Overlay  bool
	ZOrder   int32

	progress  Stack
	scheduled Stack
	delivered Stack
}

// BeginProgress is called by the client worker on begin_frame: it resets
// the progress buffer for a new frame. Only the client worker touches
// progress, so no lock is needed.
func (s *Slot) BeginProgress() { s.progress = Stack{} }

// Progress returns a pointer to the in-progress stack for the client
// worker to populate between begin_frame and end_frame.
func (s *Slot) Progress() *Stack { return &s.progress }

// CommitScheduled atomically copies progress into scheduled under the
// slot lock, on end_frame.
func (s *Slot) CommitScheduled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = s.progress
	s.scheduled.Active = true
}

// PromoteIfDue promotes scheduled->delivered under the slot lock if
// scheduled.display_time <= targetDisplayNs, the render loop's per-tick
// check. Reports whether a promotion happened.
func (s *Slot) PromoteIfDue(targetDisplayNs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduled.Active && s.scheduled.DisplayTimeNs <= targetDisplayNs {
		s.delivered = s.scheduled
		s.scheduled.Active = false
		return true
	}
	return false
}

// Delivered returns the stack currently being rendered; only the render
// task calls this.
func (s *Slot) Delivered() Stack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

// deliveredActive reports whether this slot has a delivered stack, i.e.
// the client is composite-active this tick.
func (s *Slot) deliveredActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered.Active
}

// Table is the live map of per-client composite slots.
type Table struct {
	mu    sync.Mutex
	slots map[int]*Slot
}

// NewTable creates an empty compositor table.
func NewTable() *Table {
	return &Table{slots: make(map[int]*Slot)}
}

// Add registers a new client slot.
func (t *Table) Add(clientID int, overlay bool, zOrder int32) *Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &Slot{ClientID: clientID, Overlay: overlay, ZOrder: zOrder}
	t.slots[clientID] = s
	return s
}

// Remove drops a client's slot (on session teardown).
func (t *Table) Remove(clientID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.slots, clientID)
}

// PromoteAll walks every slot and promotes scheduled->delivered where due,
// the render loop's per-tick sweep. Returns the ids of clients that got a
// newly delivered slot, so the session layer can mark them visible.
func (t *Table) PromoteAll(targetDisplayNs int64) []int {
	t.mu.Lock()
	snapshot := make([]*Slot, 0, len(t.slots))
	for _, s := range t.slots {
		snapshot = append(snapshot, s)
	}
	t.mu.Unlock()

	var promoted []int
	for _, s := range snapshot {
		if s.PromoteIfDue(targetDisplayNs) {
			promoted = append(promoted, s.ClientID)
		}
	}
	return promoted
}

// ZOrdered computes the per-tick render order:
//  1. collect (client_index, z_order) for every overlay with a delivered
//     stack; overlays that never committed a frame are not part of the
//     composite
//  2. if an active primary exists, prepend it with z = INT32_MIN
//  3. stable sort ascending by z, ties broken by client id so the order
//     is deterministic across ticks
//
// activePrimary is -1 if no client currently holds focus.
func (t *Table) ZOrdered(activePrimary int) []*Slot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ordered []*Slot
	var primary *Slot
	for id, s := range t.slots {
		if id == activePrimary {
			primary = s
			continue
		}
		if s.Overlay && s.deliveredActive() {
			ordered = append(ordered, s)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ClientID < ordered[j].ClientID })
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ZOrder < ordered[j].ZOrder })

	if primary != nil {
		primary.ZOrder = math.MinInt32
		ordered = append([]*Slot{primary}, ordered...)
	}
	return ordered
}

// LayerDispatcher is the capability seam layer commands are sent through;
// the renderer backend satisfies it.
type LayerDispatcher interface {
	DispatchLayer(clientID int, l Layer) error
}

// Dispatch walks the z-ordered slot list and dispatches each visible
// client's delivered layers in order.
func Dispatch(ordered []*Slot, d LayerDispatcher) error {
	for _, s := range ordered {
		stack := s.Delivered()
		if !stack.Active {
			continue
		}
		for _, l := range stack.Layers {
			if err := d.DispatchLayer(s.ClientID, l); err != nil {
				return err
			}
		}
	}
	return nil
}
