//go:build unix

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
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CreateSegment creates a new shared-memory segment sized for the given
// record counts and initializes its header. Only the service process should
// call this.
func CreateSegment(name string, numOrigins, numDevices, numInputs, numOutputs int) (*Segment, error) {
	layout, err := CalculateLayout(numOrigins, numDevices, numInputs, numOutputs)
	if err != nil {
		return nil, fmt.Errorf("layout calculation failed: %w", err)
	}

	path := generateSegmentPath(name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file %s: %w", path, err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(layout.TotalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize segment file: %w", err)
	}

	mem, err := mmapFile(file, int(layout.TotalSize))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	seg := &Segment{File: file, Mem: mem, Path: path, Layout: layout}
	h := seg.header()
	h.magic = Magic
	h.setVersion(HeaderVersion)
	h.setSize(layout.TotalSize)
	h.numTrackOrig = uint32(numOrigins)
	h.numDevices = uint32(numDevices)
	h.numInputs = uint32(numInputs)
	h.numOutputs = uint32(numOutputs)
	h.offTrackOrig = layout.OffTrackOrig
	h.offDevices = layout.OffDevices
	h.offInputs = layout.OffInputs
	h.offOutputs = layout.OffOutputs
	h.offSlots = layout.OffSlots

	return seg, nil
}

// OpenSegment attaches to an existing segment by name and validates its
// header. Client processes call this.
func OpenSegment(name string) (*Segment, error) {
	path := generateSegmentPath(name)
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}
	if info.Size() < HeaderSize {
		file.Close()
		return nil, fmt.Errorf("segment file too small: %d bytes", info.Size())
	}

	mem, err := mmapFile(file, int(info.Size()))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	seg := &Segment{File: file, Mem: mem, Path: path}
	h := seg.header()
	if err := ValidateHeader(h); err != nil {
		unix.Munmap(mem)
		file.Close()
		return nil, fmt.Errorf("invalid segment header: %w", err)
	}

	layout, err := CalculateLayout(int(h.NumTrackingOrigins()), int(h.NumDevices()), int(h.NumInputs()), int(h.NumOutputs()))
	if err != nil {
		unix.Munmap(mem)
		file.Close()
		return nil, fmt.Errorf("layout calculation failed: %w", err)
	}
	seg.Layout = layout

	return seg, nil
}

// Close unmaps the segment and closes its backing file. The service should
// additionally call RemoveSegment once no client can still attach.
func (s *Segment) Close() error {
	if len(s.Mem) == 0 {
		return s.File.Close()
	}
	if err := unix.Munmap(s.Mem); err != nil {
		s.File.Close()
		return fmt.Errorf("munmap failed: %w", err)
	}
	s.Mem = nil
	return s.File.Close()
}

// RemoveSegment deletes the backing file for name, if present.
func RemoveSegment(name string) error {
	path := generateSegmentPath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func generateSegmentPath(name string) string {
	shmPath := filepath.Join("/dev/shm", "xrsvc_"+name)
	if isDevShmAvailable() {
		return shmPath
	}
	return filepath.Join(os.TempDir(), "xrsvc_"+name)
}

func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil {
		return false
	}
	return info.IsDir()
}

func mmapFile(file *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}
