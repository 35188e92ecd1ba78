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

import "fmt"

// Fixed capacities per the data model: N≈32 devices, up to 64 concurrently
// connected clients with a status slot each.
const (
	MaxTrackingOrigins = 32
	MaxDevices         = 32
	MaxInputs          = 256
	MaxOutputs         = 64
	MaxClients         = 64

	HeaderSize             = 128
	TrackingOriginRecSize  = 128
	DeviceRecSize          = 384
	InputRecSize           = 96
	OutputRecSize          = 80
	ClientSlotRecSize      = 64
	HeaderVersion   uint32 = 1
)

// Magic is the 8-byte identifier at the start of every segment.
var Magic = [8]byte{'M', 'O', 'N', 'X', 'R', 'T', 0, 0}

// Header is the fixed-width block at offset 0: magic, version, total size,
// monotonic epoch, record counts, and section offsets. epochSeq is carved
// from the reserved tail and is used only to futex-wake readers blocked in
// WaitForEpoch.
type Header struct {
	magic         [8]byte
	version       uint32
	size          uint32
	epochNs       uint64
	numTrackOrig  uint32
	numDevices    uint32
	numInputs     uint32
	numOutputs    uint32
	offTrackOrig  uint32
	offDevices    uint32
	offInputs     uint32
	offOutputs    uint32
	offSlots      uint32
	epochSeq      uint32   // extension: futex word, bumped on every PublishTick
	reserved      [64]byte // pad to HeaderSize
}

// DeviceClass enumerates device kinds.
type DeviceClass uint32

const (
	DeviceClassHMD DeviceClass = iota
	DeviceClassLeftController
	DeviceClassRightController
	DeviceClassGamepad
	DeviceClassTracker
	DeviceClassEyes
)

// OriginClass enumerates tracking-origin kinds.
type OriginClass uint32

const (
	OriginStatic OriginClass = iota
	OriginDeviceRelative
	OriginWorld
)

// Pose is a rigid-body transform: position + orientation quaternion (xyzw).
type Pose struct {
	PX, PY, PZ     float32
	QX, QY, QZ, QW float32
}

// TrackingOriginRecord is one entry of the tracking-origin array.
type TrackingOriginRecord struct {
	Name   [32]byte
	Type   uint32
	pad    uint32
	Offset Pose
}

// HMDParts carries the optional per-device HMD block: per-eye viewport,
// display resolution, FOV angles, and distortion model.
type HMDParts struct {
	HasHMD           uint32
	EyeViewport      [2][4]uint32 // x, y, w, h per eye
	DisplayResW      uint32
	DisplayResH      uint32
	FovRadLRTB       [2][4]float32 // per eye: left, right, up, down (radians)
	DistortionModel  uint32
	_                uint32
}

// DeviceRecord is one entry of the device array.
type DeviceRecord struct {
	NameEnum            DeviceClass
	Str                 [256]byte
	TrackingOriginIndex  uint32
	NumInputs            uint32
	FirstInputIndex      uint32
	NumOutputs           uint32
	FirstOutputIndex     uint32
	HMD                  HMDParts
}

// InputType enumerates input descriptor kinds.
type InputType uint32

const (
	InputTypeBoolean InputType = iota
	InputTypeFloat
	InputTypeVec2
	InputTypePose
)

// InputRecord is one entry of the input snapshot array. Snapshot fields are a
// generic 4-float payload wide enough for boolean/float/vec2/pose-position,
// timestamped so every reader observes a consistent generation.
type InputRecord struct {
	Name        [64]byte
	Type        InputType
	Valid       uint32
	TimestampNs uint64
	X, Y, Z, W  float32
}

// OutputType enumerates output descriptor kinds (haptic only).
type OutputType uint32

const (
	OutputTypeHaptic OutputType = iota
)

// OutputRecord is one entry of the output descriptor array.
type OutputRecord struct {
	Name [64]byte
	Type OutputType
}

// ClientSlotRecord is the per-client, service-written, client-polled status
// snapshot: session state bits and the latest broadcast predicted display
// time. The layer stack itself crosses the control socket, not shared
// memory.
type ClientSlotRecord struct {
	ClientID           uint32
	State              uint32
	Active             uint32
	Overlay            uint32
	Visible            uint32
	Focused            uint32
	ZOrder             int32
	LastFrameID        uint64
	PredictedDisplayNs uint64
	Generation         uint32
	_                  uint32
}

// Layout is the computed set of section offsets and total size for a given
// set of record counts.
type Layout struct {
	TotalSize   uint32
	OffTrackOrig uint32
	OffDevices   uint32
	OffInputs    uint32
	OffOutputs   uint32
	OffSlots     uint32
}

func alignTo64(n uint32) uint32 { return (n + 63) &^ 63 }

// CalculateLayout computes section offsets for the given counts, validating
// each against its fixed capacity.
func CalculateLayout(numOrigins, numDevices, numInputs, numOutputs int) (Layout, error) {
	if numOrigins < 0 || numOrigins > MaxTrackingOrigins {
		return Layout{}, fmt.Errorf("tracking origin count %d exceeds capacity %d", numOrigins, MaxTrackingOrigins)
	}
	if numDevices < 0 || numDevices > MaxDevices {
		return Layout{}, fmt.Errorf("device count %d exceeds capacity %d", numDevices, MaxDevices)
	}
	if numInputs < 0 || numInputs > MaxInputs {
		return Layout{}, fmt.Errorf("input count %d exceeds capacity %d", numInputs, MaxInputs)
	}
	if numOutputs < 0 || numOutputs > MaxOutputs {
		return Layout{}, fmt.Errorf("output count %d exceeds capacity %d", numOutputs, MaxOutputs)
	}

	offTrackOrig := alignTo64(HeaderSize)
	offDevices := alignTo64(offTrackOrig + uint32(numOrigins)*TrackingOriginRecSize)
	offInputs := alignTo64(offDevices + uint32(numDevices)*DeviceRecSize)
	offOutputs := alignTo64(offInputs + uint32(numInputs)*InputRecSize)
	offSlots := alignTo64(offOutputs + uint32(numOutputs)*OutputRecSize)
	total := alignTo64(offSlots + MaxClients*ClientSlotRecSize)

	return Layout{
		TotalSize:    total,
		OffTrackOrig: offTrackOrig,
		OffDevices:   offDevices,
		OffInputs:    offInputs,
		OffOutputs:   offOutputs,
		OffSlots:     offSlots,
	}, nil
}
