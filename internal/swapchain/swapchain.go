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

// Package swapchain implements per-client swapchain image acquire/release:
// a FIFO of image indices sized image_count, plus deferred, GC-style
// destroy so the render thread can finish in-flight references before a
// swapchain's images are reclaimed. The bookkeeping is in-process; only
// the exported image handle crosses the process boundary, over the
// control socket.
package swapchain

import (
	"fmt"
	"sync"
	"time"
)

// imageState is one image's acquire/wait/release state.
type imageState int

const (
	released imageState = iota
	acquired
	waited
)

// Swapchain is one client's swapchain: a fixed image count and a FIFO of
// released image indices.
type Swapchain struct {
	ID         uint32
	ImageCount int

	states         []imageState
	fifo           []int // released image indices, oldest first
	outstanding    int   // currently acquired-but-not-released count
	maxOutstanding int
}

// New creates a swapchain with imageCount images, all initially released
// and FIFO-ordered 0..imageCount-1. At most imageCount-1 images may be
// acquired at once (or 1, for a single-image chain), so the FIFO never
// starves the render thread of a released image to deliver.
func New(id uint32, imageCount int) *Swapchain {
	max := imageCount - 1
	if max < 1 {
		max = 1
	}
	s := &Swapchain{ID: id, ImageCount: imageCount, states: make([]imageState, imageCount), maxOutstanding: max}
	for i := 0; i < imageCount; i++ {
		s.fifo = append(s.fifo, i)
	}
	return s
}

// Acquire returns the oldest released image and marks it acquired. Fails
// with an error the caller should surface as CALL_ORDER if the client
// already has the maximum outstanding acquisitions.
func (s *Swapchain) Acquire() (int, error) {
	if s.outstanding >= s.maxOutstanding {
		return 0, fmt.Errorf("swapchain %d: acquire called with %d already outstanding", s.ID, s.outstanding)
	}
	if len(s.fifo) == 0 {
		return 0, fmt.Errorf("swapchain %d: no released images available", s.ID)
	}
	idx := s.fifo[0]
	s.fifo = s.fifo[1:]
	s.states[idx] = acquired
	s.outstanding++
	return idx, nil
}

// Wait blocks until the GPU fence for idx signals or timeout elapses,
// marking the image waited on success. The actual fence wait belongs to
// the renderer capability; this takes a fence-poll function so tests and
// the real renderer binding share the same timeout semantics.
func (s *Swapchain) Wait(idx int, timeout time.Duration, fenceSignal func(time.Duration) bool) error {
	if idx < 0 || idx >= s.ImageCount || s.states[idx] != acquired {
		return fmt.Errorf("swapchain %d: wait called on non-acquired image %d", s.ID, idx)
	}
	if !fenceSignal(timeout) {
		return errTimeout
	}
	s.states[idx] = waited
	return nil
}

var errTimeout = fmt.Errorf("swapchain: wait timed out")

// IsTimeout reports whether err is the TIMEOUT_EXPIRED condition Wait
// returns on fence-wait expiration.
func IsTimeout(err error) bool { return err == errTimeout }

// Release returns idx to the FIFO's tail, marking it released.
func (s *Swapchain) Release(idx int) error {
	if idx < 0 || idx >= s.ImageCount || s.states[idx] == released {
		return fmt.Errorf("swapchain %d: release called on non-acquired image %d", s.ID, idx)
	}
	s.states[idx] = released
	s.fifo = append(s.fifo, idx)
	s.outstanding--
	return nil
}

// GCStack is the deferred-destroy stack the render thread drains once per
// tick, so destroy requests racing in-flight composite reads never free a
// swapchain's images out from under the render thread. Client workers push
// concurrently; only the render task drains.
type GCStack struct {
	mu      sync.Mutex
	pending []*Swapchain
}

// Defer enqueues sc for destruction at the next safe point.
func (g *GCStack) Defer(sc *Swapchain) {
	g.mu.Lock()
	g.pending = append(g.pending, sc)
	g.mu.Unlock()
}

// Drain returns every swapchain queued for destruction and empties the
// stack. Called once per render tick.
func (g *GCStack) Drain() []*Swapchain {
	g.mu.Lock()
	drained := g.pending
	g.pending = nil
	g.mu.Unlock()
	return drained
}
