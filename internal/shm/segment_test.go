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
	"context"
	"fmt"
	"testing"
	"time"
	"unsafe"
)

func TestHeaderSize(t *testing.T) {
	size := unsafe.Sizeof(Header{})
	if size != HeaderSize {
		t.Errorf("Header size = %d, want %d", size, HeaderSize)
	}
}

func TestCalculateLayoutRejectsOverCapacity(t *testing.T) {
	if _, err := CalculateLayout(MaxTrackingOrigins+1, 1, 1, 1); err == nil {
		t.Fatal("expected error for too many tracking origins")
	}
	if _, err := CalculateLayout(1, MaxDevices+1, 1, 1); err == nil {
		t.Fatal("expected error for too many devices")
	}
	if _, err := CalculateLayout(1, 1, MaxInputs+1, 1); err == nil {
		t.Fatal("expected error for too many inputs")
	}
	if _, err := CalculateLayout(1, 1, 1, MaxOutputs+1); err == nil {
		t.Fatal("expected error for too many outputs")
	}
}

func TestCalculateLayoutMonotonicOffsets(t *testing.T) {
	l, err := CalculateLayout(2, 3, 10, 4)
	if err != nil {
		t.Fatalf("CalculateLayout: %v", err)
	}
	if !(HeaderSize <= l.OffTrackOrig && l.OffTrackOrig < l.OffDevices && l.OffDevices < l.OffInputs &&
		l.OffInputs < l.OffOutputs && l.OffOutputs < l.OffSlots && l.OffSlots < l.TotalSize) {
		t.Fatalf("offsets not monotonic: %+v", l)
	}
	if l.OffTrackOrig%64 != 0 || l.OffDevices%64 != 0 || l.TotalSize%64 != 0 {
		t.Fatalf("offsets not 64-byte aligned: %+v", l)
	}
}

func TestCreateOpenRoundTrip(t *testing.T) {
	name := fmt.Sprintf("test-%d", time.Now().UnixNano())
	seg, err := CreateSegment(name, 1, 2, 4, 1)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	defer func() {
		seg.Close()
		RemoveSegment(name)
	}()

	seg.Device(0).NameEnum = DeviceClassHMD
	copy(seg.Device(0).Str[:], "test-hmd")
	seg.Device(1).NameEnum = DeviceClassLeftController

	opened, err := OpenSegment(name)
	if err != nil {
		t.Fatalf("OpenSegment: %v", err)
	}
	defer opened.Close()

	if opened.header().NumDevices() != 2 {
		t.Fatalf("NumDevices = %d, want 2", opened.header().NumDevices())
	}
	if opened.Device(0).NameEnum != DeviceClassHMD {
		t.Fatalf("device 0 class = %v, want HMD", opened.Device(0).NameEnum)
	}
	if opened.Device(1).NameEnum != DeviceClassLeftController {
		t.Fatalf("device 1 class = %v, want LeftController", opened.Device(1).NameEnum)
	}
}

func TestOpenSegmentRejectsBadMagic(t *testing.T) {
	name := fmt.Sprintf("test-badmagic-%d", time.Now().UnixNano())
	seg, err := CreateSegment(name, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	seg.header().magic[0] = 'X'
	seg.Close()
	defer RemoveSegment(name)

	if _, err := OpenSegment(name); err == nil {
		t.Fatal("expected error opening segment with corrupted magic")
	}
}

func TestClientSlotAtomicRoundTrip(t *testing.T) {
	name := fmt.Sprintf("test-slot-%d", time.Now().UnixNano())
	seg, err := CreateSegment(name, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	defer func() {
		seg.Close()
		RemoveSegment(name)
	}()

	slot := seg.ClientSlot(3)
	slot.SetActive(true)
	slot.SetVisible(true)
	slot.SetZOrder(-1)
	slot.SetLastFrameID(42)

	if !slot.GetActive() || !slot.GetVisible() {
		t.Fatal("active/visible not round-tripped")
	}
	if slot.GetZOrder() != -1 {
		t.Fatalf("z-order = %d, want -1", slot.GetZOrder())
	}
	if slot.GetLastFrameID() != 42 {
		t.Fatalf("last frame id = %d, want 42", slot.GetLastFrameID())
	}
}

func TestWaitForEpochObservesPublish(t *testing.T) {
	name := fmt.Sprintf("test-epoch-%d", time.Now().UnixNano())
	seg, err := CreateSegment(name, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	defer func() {
		seg.Close()
		RemoveSegment(name)
	}()

	start := seg.EpochSeq()
	done := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		seg.PublishTick(1000)
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := seg.WaitForEpoch(ctx, start)
	<-done
	if err != nil {
		t.Fatalf("WaitForEpoch: %v", err)
	}
	if got == start {
		t.Fatal("epoch sequence did not advance")
	}
}

func TestWaitForEpochHonorsContextDeadline(t *testing.T) {
	name := fmt.Sprintf("test-epoch-deadline-%d", time.Now().UnixNano())
	seg, err := CreateSegment(name, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	defer func() {
		seg.Close()
		RemoveSegment(name)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = seg.WaitForEpoch(ctx, seg.EpochSeq())
	if err == nil {
		t.Fatal("expected deadline error, got nil")
	}
}
