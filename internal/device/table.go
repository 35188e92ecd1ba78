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

// Package device holds the in-memory device table: tracking origins,
// devices, and their input/output descriptors. The table is populated once
// at startup and is read-only thereafter, except for input snapshot values
// which the render loop refreshes every tick. Table.Publish marshals the
// model into the shared-memory segment; input updates publish straight to
// shared memory without touching the in-memory copy, since clients only
// ever read shared memory.
package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/openxrd/runtime/internal/shm"
)

// TrackingOrigin is one named reference frame devices can be anchored to.
type TrackingOrigin struct {
	Name   string
	Class  shm.OriginClass
	Offset shm.Pose
}

// Input is one named, typed input descriptor on a device.
type Input struct {
	Name string
	Type shm.InputType
}

// Output is one named output descriptor on a device (haptic only today).
type Output struct {
	Name string
	Type shm.OutputType
}

// HMDParts carries the optional per-eye display parameters an HMD device
// exposes; zero value means "not an HMD".
type HMDParts struct {
	HasHMD          bool
	EyeViewport     [2][4]uint32
	DisplayResW     uint32
	DisplayResH     uint32
	FovRadLRTB      [2][4]float32
	DistortionModel uint32
}

// Device is one entry of the device table.
type Device struct {
	Name             string
	Class            shm.DeviceClass
	TrackingOrigin   int
	Inputs           []Input
	Outputs          []Output
	HMD              HMDParts
}

// HapticState is the most recent haptic request recorded against an
// output descriptor. The driver behind the device capability consumes it;
// the table only records best-effort.
type HapticState struct {
	Amplitude  float32
	DurationNs uint64
	StartNs    uint64
	Active     bool
}

// Table is the full, startup-populated device table. Descriptor lists are
// read-only after startup; the haptic request state on output descriptors
// is the one mutable exception and has its own lock.
type Table struct {
	Origins []TrackingOrigin
	Devices []Device

	hapticMu sync.Mutex
	haptics  map[string]HapticState // keyed device "/" output
}

func hapticKey(deviceName, outputName string) string { return deviceName + "/" + outputName }

// findOutput reports whether deviceName has a haptic output descriptor
// named outputName.
func (t *Table) findOutput(deviceName, outputName string) bool {
	for _, d := range t.Devices {
		if d.Name != deviceName {
			continue
		}
		for _, out := range d.Outputs {
			if out.Name == outputName && out.Type == shm.OutputTypeHaptic {
				return true
			}
		}
	}
	return false
}

// ApplyHaptic records a haptic request against the named output, replacing
// any effect already active there. Returns superseded=true when a prior
// active effect was replaced, and ok=false when no such output exists.
func (t *Table) ApplyHaptic(deviceName, outputName string, amplitude float32, durationNs, nowNs uint64) (superseded, ok bool) {
	if !t.findOutput(deviceName, outputName) {
		return false, false
	}
	t.hapticMu.Lock()
	defer t.hapticMu.Unlock()
	if t.haptics == nil {
		t.haptics = make(map[string]HapticState)
	}
	key := hapticKey(deviceName, outputName)
	superseded = t.haptics[key].Active
	t.haptics[key] = HapticState{Amplitude: amplitude, DurationNs: durationNs, StartNs: nowNs, Active: true}
	return superseded, true
}

// StopHaptic clears any active effect on the named output. Returns
// ok=false when no such output exists.
func (t *Table) StopHaptic(deviceName, outputName string) bool {
	if !t.findOutput(deviceName, outputName) {
		return false
	}
	t.hapticMu.Lock()
	defer t.hapticMu.Unlock()
	if t.haptics != nil {
		delete(t.haptics, hapticKey(deviceName, outputName))
	}
	return true
}

// Haptic returns the recorded request state for the named output, for the
// driver (and tests) to observe.
func (t *Table) Haptic(deviceName, outputName string) (HapticState, bool) {
	t.hapticMu.Lock()
	defer t.hapticMu.Unlock()
	st, ok := t.haptics[hapticKey(deviceName, outputName)]
	return st, ok
}

// Publish creates a shared-memory segment sized for this table and writes
// every record into it. The returned segment is owned by the caller (the
// service), which must Close it (and RemoveSegment) on shutdown.
func (t *Table) Publish(name string) (*shm.Segment, error) {
	numInputs, numOutputs := 0, 0
	for _, d := range t.Devices {
		numInputs += len(d.Inputs)
		numOutputs += len(d.Outputs)
	}

	seg, err := shm.CreateSegment(name, len(t.Origins), len(t.Devices), numInputs, numOutputs)
	if err != nil {
		return nil, fmt.Errorf("device: publish segment: %w", err)
	}

	for i, o := range t.Origins {
		rec := seg.TrackingOrigin(i)
		copy(rec.Name[:], o.Name)
		rec.Type = uint32(o.Class)
		rec.Offset = o.Offset
	}

	inputCursor, outputCursor := 0, 0
	for i, d := range t.Devices {
		rec := seg.Device(i)
		rec.NameEnum = d.Class
		copy(rec.Str[:], d.Name)
		rec.TrackingOriginIndex = uint32(d.TrackingOrigin)
		rec.NumInputs = uint32(len(d.Inputs))
		rec.FirstInputIndex = uint32(inputCursor)
		rec.NumOutputs = uint32(len(d.Outputs))
		rec.FirstOutputIndex = uint32(outputCursor)
		if d.HMD.HasHMD {
			rec.HMD.HasHMD = 1
			rec.HMD.EyeViewport = d.HMD.EyeViewport
			rec.HMD.DisplayResW = d.HMD.DisplayResW
			rec.HMD.DisplayResH = d.HMD.DisplayResH
			rec.HMD.FovRadLRTB = d.HMD.FovRadLRTB
			rec.HMD.DistortionModel = d.HMD.DistortionModel
		}

		for _, in := range d.Inputs {
			irec := seg.Input(inputCursor)
			copy(irec.Name[:], in.Name)
			irec.Type = in.Type
			inputCursor++
		}
		for _, out := range d.Outputs {
			orec := seg.Output(outputCursor)
			copy(orec.Name[:], out.Name)
			orec.Type = out.Type
			outputCursor++
		}
	}

	return seg, nil
}

// RefreshInputs publishes a new generation of input snapshots into seg,
// one restamped record per descriptor, so simultaneous readers across
// clients observe the same snapshot generation. Pose-typed inputs sample
// the provider; with none bound the previous value is kept and only
// restamped. The caller follows up with seg.PublishTick to wake blocked
// readers.
func (t *Table) RefreshInputs(seg *shm.Segment, provider PoseProvider, nowNs uint64) {
	cursor := 0
	for _, d := range t.Devices {
		for _, in := range d.Inputs {
			rec := seg.Input(cursor)
			if in.Type == shm.InputTypePose && provider != nil {
				if pose, ok := provider.PoseAt(d.Name, nowNs); ok {
					rec.X, rec.Y, rec.Z = pose.PX, pose.PY, pose.PZ
					rec.W = pose.QW
				}
			}
			atomic.StoreUint32(&rec.Valid, 1)
			atomic.StoreUint64(&rec.TimestampNs, nowNs)
			cursor++
		}
	}
}

// Load reconstructs a Table from an already-opened shared-memory segment,
// the read path clients use.
func Load(seg *shm.Segment) *Table {
	t := &Table{}
	numOrigins := int(seg.Header().NumTrackingOrigins())
	numDevices := int(seg.Header().NumDevices())

	for i := 0; i < numOrigins; i++ {
		rec := seg.TrackingOrigin(i)
		t.Origins = append(t.Origins, TrackingOrigin{
			Name:   cstr(rec.Name[:]),
			Class:  shm.OriginClass(rec.Type),
			Offset: rec.Offset,
		})
	}

	for i := 0; i < numDevices; i++ {
		rec := seg.Device(i)
		d := Device{
			Name:           cstr(rec.Str[:]),
			Class:          rec.NameEnum,
			TrackingOrigin: int(rec.TrackingOriginIndex),
		}
		for j := uint32(0); j < rec.NumInputs; j++ {
			irec := seg.Input(int(rec.FirstInputIndex + j))
			d.Inputs = append(d.Inputs, Input{Name: cstr(irec.Name[:]), Type: irec.Type})
		}
		for j := uint32(0); j < rec.NumOutputs; j++ {
			orec := seg.Output(int(rec.FirstOutputIndex + j))
			d.Outputs = append(d.Outputs, Output{Name: cstr(orec.Name[:]), Type: orec.Type})
		}
		if rec.HMD.HasHMD != 0 {
			d.HMD = HMDParts{
				HasHMD:          true,
				EyeViewport:     rec.HMD.EyeViewport,
				DisplayResW:     rec.HMD.DisplayResW,
				DisplayResH:     rec.HMD.DisplayResH,
				FovRadLRTB:      rec.HMD.FovRadLRTB,
				DistortionModel: rec.HMD.DistortionModel,
			}
		}
		t.Devices = append(t.Devices, d)
	}
	return t
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
