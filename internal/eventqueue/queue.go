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

// Package eventqueue is the per-client bounded outbound-event ring,
// consumed by poll_event. Events never cross shared memory, only the
// control socket, so a plain mutex-guarded ring is enough; the lock-free
// atomic machinery in internal/shm stays with cross-process state.
package eventqueue

import "sync"

// Capacity is the fixed ring size.
const Capacity = 32

// Kind enumerates outbound event payloads.
type Kind int

const (
	SessionStateChanged Kind = iota
	OverlayVisibilityChanged
	LossPending
	Exiting
	HapticStop
	ReferenceSpaceChanged
)

// Event is one queued outbound event.
type Event struct {
	Kind    Kind
	Payload any
}

type slot struct {
	timestampNs int64
	pending     bool
	event       Event
}

// Queue is a per-client fixed-size ring of pending events.
type Queue struct {
	mu    sync.Mutex
	slots [Capacity]slot
}

// Push enqueues ev, timestamped at whenNs. If every slot is pending, the
// oldest entry is evicted.
func (q *Queue) Push(ev Event, whenNs int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.findSlot()
	q.slots[idx] = slot{timestampNs: whenNs, pending: true, event: ev}
}

// findSlot returns the first non-pending slot, else the oldest pending one
// (lowest timestamp).
func (q *Queue) findSlot() int {
	for i := range q.slots {
		if !q.slots[i].pending {
			return i
		}
	}
	oldest := 0
	for i := 1; i < Capacity; i++ {
		if q.slots[i].timestampNs < q.slots[oldest].timestampNs {
			oldest = i
		}
	}
	return oldest
}

// Poll implements poll_event: returns and consumes the oldest pending
// event, or ok=false if the queue is empty. No entry is ever delivered
// twice.
func (q *Queue) Poll() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	oldest := -1
	for i := range q.slots {
		if q.slots[i].pending && (oldest == -1 || q.slots[i].timestampNs < q.slots[oldest].timestampNs) {
			oldest = i
		}
	}
	if oldest == -1 {
		return Event{}, false
	}
	ev := q.slots[oldest].event
	q.slots[oldest].pending = false
	return ev, true
}
