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

package shm

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// Segment is a mapped shared-memory region: one Header plus five flat record
// arrays. The service process constructs it via CreateSegment; client
// processes attach to an existing one via OpenSegment.
type Segment struct {
	File   *os.File
	Mem    []byte
	Path   string
	Layout Layout
}

func (s *Segment) header() *Header {
	return (*Header)(unsafe.Pointer(&s.Mem[0]))
}

// Header returns the segment's header view for callers outside the package
// that need read access to counts and offsets (e.g. internal/device.Load).
func (s *Segment) Header() *Header { return s.header() }

// --- Header atomic accessors -------------------------------------------------

func (h *Header) Version() uint32 { return atomic.LoadUint32(&h.version) }
func (h *Header) setVersion(v uint32) { atomic.StoreUint32(&h.version, v) }

func (h *Header) Size() uint32 { return atomic.LoadUint32(&h.size) }
func (h *Header) setSize(v uint32) { atomic.StoreUint32(&h.size, v) }

func (h *Header) EpochNs() uint64 { return atomic.LoadUint64(&h.epochNs) }
func (h *Header) setEpochNs(v uint64) { atomic.StoreUint64(&h.epochNs, v) }

func (h *Header) NumTrackingOrigins() uint32 { return atomic.LoadUint32(&h.numTrackOrig) }
func (h *Header) NumDevices() uint32         { return atomic.LoadUint32(&h.numDevices) }
func (h *Header) NumInputs() uint32          { return atomic.LoadUint32(&h.numInputs) }
func (h *Header) NumOutputs() uint32         { return atomic.LoadUint32(&h.numOutputs) }

func (h *Header) OffsetTrackingOrigins() uint32 { return atomic.LoadUint32(&h.offTrackOrig) }
func (h *Header) OffsetDevices() uint32         { return atomic.LoadUint32(&h.offDevices) }
func (h *Header) OffsetInputs() uint32          { return atomic.LoadUint32(&h.offInputs) }
func (h *Header) OffsetOutputs() uint32         { return atomic.LoadUint32(&h.offOutputs) }
func (h *Header) OffsetSlots() uint32           { return atomic.LoadUint32(&h.offSlots) }

func (h *Header) epochSequence() uint32        { return atomic.LoadUint32(&h.epochSeq) }
func (h *Header) incrementEpochSequence() uint32 { return atomic.AddUint32(&h.epochSeq, 1) }

// IsValid checks the magic and version fields.
func (h *Header) IsValid() bool {
	return h.magic == Magic && h.Version() == HeaderVersion
}

// ValidateHeader checks magic, version, and section geometry for consistency.
func ValidateHeader(h *Header) error {
	if h.magic != Magic {
		return fmt.Errorf("invalid magic bytes")
	}
	if h.Version() != HeaderVersion {
		return fmt.Errorf("unsupported version %d, expected %d", h.Version(), HeaderVersion)
	}
	layout, err := CalculateLayout(int(h.NumTrackingOrigins()), int(h.NumDevices()), int(h.NumInputs()), int(h.NumOutputs()))
	if err != nil {
		return fmt.Errorf("layout calculation failed: %w", err)
	}
	if h.Size() != layout.TotalSize {
		return fmt.Errorf("size mismatch: got %d, expected %d", h.Size(), layout.TotalSize)
	}
	if h.OffsetTrackingOrigins() != layout.OffTrackOrig {
		return fmt.Errorf("tracking-origin offset mismatch")
	}
	if h.OffsetDevices() != layout.OffDevices {
		return fmt.Errorf("device offset mismatch")
	}
	if h.OffsetInputs() != layout.OffInputs {
		return fmt.Errorf("input offset mismatch")
	}
	if h.OffsetOutputs() != layout.OffOutputs {
		return fmt.Errorf("output offset mismatch")
	}
	if h.OffsetSlots() != layout.OffSlots {
		return fmt.Errorf("slot offset mismatch")
	}
	return nil
}

// --- Typed array views --------------------------------------------------

// TrackingOrigin returns a pointer to tracking-origin record i within the
// mapped memory. The caller must not retain it past Segment.Close.
func (s *Segment) TrackingOrigin(i int) *TrackingOriginRecord {
	return (*TrackingOriginRecord)(unsafe.Pointer(uintptr(unsafe.Pointer(&s.Mem[0])) + uintptr(s.Layout.OffTrackOrig) + uintptr(i)*TrackingOriginRecSize))
}

// Device returns a pointer to device record i.
func (s *Segment) Device(i int) *DeviceRecord {
	return (*DeviceRecord)(unsafe.Pointer(uintptr(unsafe.Pointer(&s.Mem[0])) + uintptr(s.Layout.OffDevices) + uintptr(i)*DeviceRecSize))
}

// Input returns a pointer to input record i.
func (s *Segment) Input(i int) *InputRecord {
	return (*InputRecord)(unsafe.Pointer(uintptr(unsafe.Pointer(&s.Mem[0])) + uintptr(s.Layout.OffInputs) + uintptr(i)*InputRecSize))
}

// Output returns a pointer to output record i.
func (s *Segment) Output(i int) *OutputRecord {
	return (*OutputRecord)(unsafe.Pointer(uintptr(unsafe.Pointer(&s.Mem[0])) + uintptr(s.Layout.OffOutputs) + uintptr(i)*OutputRecSize))
}

// ClientSlot returns a pointer to the status slot for client index i
// (0 ≤ i < MaxClients).
func (s *Segment) ClientSlot(i int) *ClientSlotRecord {
	return (*ClientSlotRecord)(unsafe.Pointer(uintptr(unsafe.Pointer(&s.Mem[0])) + uintptr(s.Layout.OffSlots) + uintptr(i)*ClientSlotRecSize))
}

// --- ClientSlotRecord atomic accessors --------------------------------------

func (c *ClientSlotRecord) SetState(state uint32)    { atomic.StoreUint32(&c.State, state) }
func (c *ClientSlotRecord) GetState() uint32         { return atomic.LoadUint32(&c.State) }
func (c *ClientSlotRecord) SetActive(v bool)         { storeBool(&c.Active, v) }
func (c *ClientSlotRecord) GetActive() bool          { return loadBool(&c.Active) }
func (c *ClientSlotRecord) SetOverlay(v bool)        { storeBool(&c.Overlay, v) }
func (c *ClientSlotRecord) GetOverlay() bool         { return loadBool(&c.Overlay) }
func (c *ClientSlotRecord) SetVisible(v bool)        { storeBool(&c.Visible, v) }
func (c *ClientSlotRecord) GetVisible() bool         { return loadBool(&c.Visible) }
func (c *ClientSlotRecord) SetFocused(v bool)        { storeBool(&c.Focused, v) }
func (c *ClientSlotRecord) GetFocused() bool         { return loadBool(&c.Focused) }
func (c *ClientSlotRecord) SetZOrder(z int32)        { atomic.StoreInt32(&c.ZOrder, z) }
func (c *ClientSlotRecord) GetZOrder() int32         { return atomic.LoadInt32(&c.ZOrder) }
func (c *ClientSlotRecord) SetLastFrameID(v uint64)  { atomic.StoreUint64(&c.LastFrameID, v) }
func (c *ClientSlotRecord) GetLastFrameID() uint64   { return atomic.LoadUint64(&c.LastFrameID) }
func (c *ClientSlotRecord) SetPredictedDisplayNs(v uint64) {
	atomic.StoreUint64(&c.PredictedDisplayNs, v)
}
func (c *ClientSlotRecord) GetPredictedDisplayNs() uint64 { return atomic.LoadUint64(&c.PredictedDisplayNs) }
func (c *ClientSlotRecord) bumpGeneration()               { atomic.AddUint32(&c.Generation, 1) }
func (c *ClientSlotRecord) Generation32() uint32          { return atomic.LoadUint32(&c.Generation) }

func storeBool(addr *uint32, v bool) {
	var n uint32
	if v {
		n = 1
	}
	atomic.StoreUint32(addr, n)
}

func loadBool(addr *uint32) bool { return atomic.LoadUint32(addr) != 0 }
