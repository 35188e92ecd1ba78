package dispatch

import (
	"time"

	"github.com/openxrd/runtime/internal/compositor"
	"github.com/openxrd/runtime/internal/device"
	"github.com/openxrd/runtime/internal/eventqueue"
	"github.com/openxrd/runtime/internal/swapchain"
	"github.com/openxrd/runtime/internal/wire"
	"github.com/openxrd/runtime/internal/xrerr"
)

// handleInstanceCreate reads the app name and acknowledges; the shared
// memory handle and device-table offset are communicated out-of-band
// (the client maps the same named segment the service published at
// startup), so the reply carries only the instance id.
func (s *Service) handleInstanceCreate(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if _, err := r.String(); err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "instance_create: %v", err)
	}
	w := wire.NewWriter()
	w.PutUint32(uint32(cc.ID))
	return w.Bytes(), nil, nil
}

func (s *Service) handleSystemGetProperties(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	w := wire.NewWriter()
	var hmd device.HMDParts
	for _, d := range s.Devices.Devices {
		if d.HMD.HasHMD {
			hmd = d.HMD
			break
		}
	}
	w.PutUint32(2) // view_count: stereo
	w.PutUint32(hmd.DisplayResW)
	w.PutUint32(hmd.DisplayResH)
	refreshHz := float32(0)
	if s.PeriodNs > 0 {
		refreshHz = float32(1e9 / float64(s.PeriodNs))
	}
	w.PutFloat32(refreshHz)
	return w.Bytes(), nil, nil
}

func (s *Service) handleSessionCreate(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	cc.mu.Lock()
	if cc.sessionCreated {
		cc.mu.Unlock()
		return nil, nil, xrerr.New(xrerr.CallOrder, "client %d: session already created", cc.ID)
	}
	cc.mu.Unlock()

	if _, err := r.Uint32(); err != nil { // graphics_binding_type
		return nil, nil, xrerr.New(xrerr.Validation, "session_create: missing graphics_binding_type")
	}
	// binding_args: overlay flag plus compositing z-order. Zero for a
	// primary session.
	overlay, err := r.Uint32()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "session_create: missing overlay flag")
	}
	zOrder, err := r.Int32()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "session_create: missing z_order")
	}

	if _, err := s.Sessions.Create(cc.ID, overlay != 0, zOrder); err != nil {
		return nil, nil, xrerr.New(xrerr.CallOrder, "session_create: %v", err)
	}

	if s.Loop != nil {
		h, q := s.Loop.AddClient(cc.ID)
		cc.mu.Lock()
		cc.helper = h
		cc.events = q
		cc.mu.Unlock()
	} else {
		cc.mu.Lock()
		cc.events = &eventqueue.Queue{}
		cc.mu.Unlock()
	}

	cc.mu.Lock()
	cc.sessionCreated = true
	cc.mu.Unlock()

	w := wire.NewWriter()
	w.PutUint32(uint32(cc.ID))
	return w.Bytes(), nil, nil
}

func (s *Service) handleBeginSession(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if err := requireSession(cc); err != nil {
		return nil, nil, err
	}
	// primary_view_config is advisory (no state transition); the renderer
	// capability is what would act on it.
	if _, err := r.Uint32(); err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "begin_session: %v", err)
	}
	if s.Compositor != nil {
		overlay, zOrder, _ := s.Sessions.Overlay(cc.ID)
		cc.mu.Lock()
		if cc.slot == nil {
			cc.slot = s.Compositor.Add(cc.ID, overlay, zOrder)
		}
		cc.mu.Unlock()
	}
	return nil, nil, nil
}

func (s *Service) handleEndSession(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if err := requireSession(cc); err != nil {
		return nil, nil, err
	}
	if _, err := s.Sessions.EndSession(cc.ID); err != nil {
		return nil, nil, xrerr.New(xrerr.CallOrder, "end_session: %v", err)
	}
	if s.Compositor != nil {
		s.Compositor.Remove(cc.ID)
	}
	cc.mu.Lock()
	cc.slot = nil
	cc.mu.Unlock()
	return nil, nil, nil
}

func (s *Service) handleRequestExit(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if err := requireSession(cc); err != nil {
		return nil, nil, err
	}
	s.Sessions.RequestExit(cc.ID)
	return nil, nil, nil
}

func (s *Service) handleSwapchainCreate(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if err := requireSession(cc); err != nil {
		return nil, nil, err
	}
	imageCount, err := r.Uint32()
	if err != nil || imageCount == 0 {
		return nil, nil, xrerr.New(xrerr.Validation, "swapchain_create: bad image_count")
	}

	cc.mu.Lock()
	id := cc.nextSwapchainID
	cc.nextSwapchainID++
	sc := swapchain.New(id, int(imageCount))
	cc.swapchains[id] = sc
	cc.mu.Unlock()

	w := wire.NewWriter()
	w.PutUint32(id)
	w.PutUint32(imageCount)
	return w.Bytes(), nil, nil
}

func (s *Service) swapchainFor(cc *ClientContext, r *wire.Reader) (*swapchain.Swapchain, error) {
	id, err := r.Uint32()
	if err != nil {
		return nil, xrerr.New(xrerr.Validation, "swapchain op: missing swapchain_id")
	}
	cc.mu.Lock()
	sc, ok := cc.swapchains[id]
	cc.mu.Unlock()
	if !ok {
		return nil, xrerr.New(xrerr.Validation, "swapchain op: unknown swapchain %d", id)
	}
	return sc, nil
}

func (s *Service) handleSwapchainAcquire(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	sc, err := s.swapchainFor(cc, r)
	if err != nil {
		return nil, nil, err
	}
	idx, err := sc.Acquire()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.CallOrder, "swapchain_acquire: %v", err)
	}
	w := wire.NewWriter()
	w.PutInt32(int32(idx))
	return w.Bytes(), nil, nil
}

func (s *Service) handleSwapchainWait(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	sc, err := s.swapchainFor(cc, r)
	if err != nil {
		return nil, nil, err
	}
	idx, err := r.Int32()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "swapchain_wait: missing image_index")
	}
	timeoutNs, err := r.Uint64()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "swapchain_wait: missing timeout_ns")
	}
	if err := sc.Wait(int(idx), time.Duration(timeoutNs), s.FenceSignal); err != nil {
		if swapchain.IsTimeout(err) {
			return nil, nil, xrerr.New(xrerr.Timeout, "swapchain_wait: %v", err)
		}
		return nil, nil, xrerr.New(xrerr.CallOrder, "swapchain_wait: %v", err)
	}
	w := wire.NewWriter()
	w.PutInt32(idx)
	return w.Bytes(), nil, nil
}

func (s *Service) handleSwapchainRelease(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	sc, err := s.swapchainFor(cc, r)
	if err != nil {
		return nil, nil, err
	}
	idx, err := r.Int32()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "swapchain_release: missing image_index")
	}
	if err := sc.Release(int(idx)); err != nil {
		return nil, nil, xrerr.New(xrerr.CallOrder, "swapchain_release: %v", err)
	}
	return nil, nil, nil
}

// handleWaitFrame bounds outstanding waits at two: the first wait_frame
// takes the semaphore token immediately, a second blocks until the prior
// begin_frame posts it back, a third is a call-order error.
func (s *Service) handleWaitFrame(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if err := requireSession(cc); err != nil {
		return nil, nil, err
	}
	cc.mu.Lock()
	helper := cc.helper
	if cc.activeWaits >= 2 {
		cc.mu.Unlock()
		return nil, nil, xrerr.New(xrerr.CallOrder, "wait_frame: client %d already has 2 outstanding", cc.ID)
	}
	cc.activeWaits++
	cc.mu.Unlock()
	if helper == nil {
		cc.mu.Lock()
		cc.activeWaits--
		cc.mu.Unlock()
		return nil, nil, xrerr.New(xrerr.IPCFailure, "wait_frame: client %d has no timing helper", cc.ID)
	}

	<-cc.sem

	if s.ExtraWaitFrame > 0 {
		time.Sleep(s.ExtraWaitFrame)
	}

	frameID, displayNs, periodNs, ok := helper.Latest()
	if !ok {
		cc.mu.Lock()
		cc.activeWaits--
		cc.mu.Unlock()
		cc.sem <- struct{}{}
		return nil, nil, xrerr.New(xrerr.Timeout, "wait_frame: no prediction available yet")
	}
	cc.mu.Lock()
	cc.framesWaited = frameID
	cc.mu.Unlock()

	w := wire.NewWriter()
	w.PutUint64(frameID)
	w.PutUint64(uint64(displayNs))
	w.PutUint64(uint64(periodNs))
	return w.Bytes(), nil, nil
}

func (s *Service) handleBeginFrame(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if err := requireSession(cc); err != nil {
		return nil, nil, err
	}
	frameID, err := r.Uint64()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "begin_frame: missing frame_id")
	}

	cc.mu.Lock()
	if cc.activeWaits == 0 {
		cc.mu.Unlock()
		return nil, nil, xrerr.New(xrerr.CallOrder, "begin_frame: called without a prior wait_frame")
	}
	cc.activeWaits--
	discarded := cc.beganFrame // previous frame begun but never ended
	cc.beganFrame = true
	cc.framesBegun = frameID
	if cc.slot != nil {
		cc.slot.BeginProgress()
	}
	q := cc.events
	cc.mu.Unlock()

	select {
	case cc.sem <- struct{}{}:
	default:
	}

	if ev, ok := s.Sessions.FirstBeginFrame(cc.ID); ok && q != nil {
		q.Push(eventqueue.Event{Kind: eventqueue.SessionStateChanged, Payload: ev}, time.Now().UnixNano())
	}

	w := wire.NewWriter()
	if discarded {
		w.PutUint32(1) // FRAME_DISCARDED
	} else {
		w.PutUint32(0) // OK
	}
	return w.Bytes(), nil, nil
}

func (s *Service) handleEndFrame(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if err := requireSession(cc); err != nil {
		return nil, nil, err
	}
	if _, err := r.Uint64(); err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "end_frame: missing frame_id")
	}
	displayTimeNs, err := r.Uint64()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "end_frame: missing display_time_ns")
	}
	envBlendMode, err := r.Uint32()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "end_frame: missing env_blend_mode")
	}
	layerCount, err := r.Uint32()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "end_frame: missing layer_count")
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.slot == nil {
		return nil, nil, xrerr.New(xrerr.CallOrder, "end_frame: client %d has no compositor slot", cc.ID)
	}
	if !cc.beganFrame {
		return nil, nil, xrerr.New(xrerr.CallOrder, "end_frame: called without begin_frame")
	}
	cc.beganFrame = false

	layers := make([]compositor.Layer, 0, layerCount)
	for i := uint32(0); i < layerCount; i++ {
		t, err := r.Uint32()
		if err != nil {
			return nil, nil, xrerr.New(xrerr.Validation, "end_frame: truncated layer list")
		}
		layers = append(layers, compositor.Layer{Type: compositor.LayerType(t)})
	}

	cc.slot.Progress().DisplayTimeNs = int64(displayTimeNs)
	cc.slot.Progress().EnvBlendMode = int(envBlendMode)
	cc.slot.Progress().Layers = layers
	cc.slot.CommitScheduled()
	return nil, nil, nil
}

func (s *Service) handlePollEvent(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if err := requireSession(cc); err != nil {
		return nil, nil, err
	}
	cc.mu.Lock()
	q := cc.events
	cc.mu.Unlock()
	if q == nil {
		w := wire.NewWriter()
		w.PutUint32(0)
		return w.Bytes(), nil, nil
	}

	ev, ok := q.Poll()
	w := wire.NewWriter()
	if !ok {
		w.PutUint32(0)
		return w.Bytes(), nil, nil
	}
	w.PutUint32(1)
	w.PutUint32(uint32(ev.Kind))
	return w.Bytes(), nil, nil
}

func (s *Service) handleGetViewPoses(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if err := requireSession(cc); err != nil {
		return nil, nil, err
	}
	fromRaw, err := r.Uint32()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "get_view_poses: missing from_space")
	}
	toRaw, err := r.Uint32()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "get_view_poses: missing to_space")
	}
	displayTimeNs, err := r.Uint64()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "get_view_poses: missing display_time_ns")
	}

	pose, ok := s.Devices.PredictRelation(nil, spaceFromWire(fromRaw), spaceFromWire(toRaw), displayTimeNs)
	if !ok {
		return nil, nil, xrerr.New(xrerr.Validation, "get_view_poses: space could not be resolved")
	}

	w := wire.NewWriter()
	w.PutFloat32(pose.PX)
	w.PutFloat32(pose.PY)
	w.PutFloat32(pose.PZ)
	w.PutFloat32(pose.QX)
	w.PutFloat32(pose.QY)
	w.PutFloat32(pose.QZ)
	w.PutFloat32(pose.QW)
	return w.Bytes(), nil, nil
}

// spaceFromWire maps the wire's space-index encoding (0=VIEW, 1=LOCAL,
// 2=STAGE) to a device.Space; unrecognized values fall through to STAGE
// rather than erroring, since an unknown space still resolves to a usable
// identity-backed origin.
func spaceFromWire(v uint32) device.Space {
	switch v {
	case 0:
		return device.SpaceView
	case 1:
		return device.SpaceLocal
	default:
		return device.SpaceStage
	}
}

// handleRequestRecenter validates the tracking-origin index and notifies
// every client bound to it, so clients re-query their space relations. It
// does not rebase the origin's offset; the offset is left unchanged.
func (s *Service) handleRequestRecenter(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if err := requireSession(cc); err != nil {
		return nil, nil, err
	}
	originIndex, err := r.Uint32()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "request_recenter: missing origin index")
	}
	if int(originIndex) >= len(s.Devices.Origins) {
		return nil, nil, xrerr.New(xrerr.Validation, "request_recenter: unknown origin %d", originIndex)
	}
	// Every connected client reads the same origin table, so all of them
	// are bound to the recentred origin.
	s.broadcastEvent(eventqueue.Event{Kind: eventqueue.ReferenceSpaceChanged, Payload: originIndex})
	return nil, nil, nil
}

func (s *Service) handleActionSync(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if err := requireSession(cc); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

// handleApplyHaptic records the request against the device table's output
// descriptor (best-effort; the driver consumes it). Replacing a
// still-active effect enqueues HAPTIC_STOP for the old one.
func (s *Service) handleApplyHaptic(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if err := requireSession(cc); err != nil {
		return nil, nil, err
	}
	deviceName, err := r.String()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "apply_haptic: missing device name")
	}
	outputName, err := r.String()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "apply_haptic: missing output name")
	}
	amplitude, err := r.Float32()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "apply_haptic: missing amplitude")
	}
	durationNs, err := r.Uint64()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "apply_haptic: missing duration_ns")
	}

	now := time.Now().UnixNano()
	superseded, ok := s.Devices.ApplyHaptic(deviceName, outputName, amplitude, durationNs, uint64(now))
	if !ok {
		return nil, nil, xrerr.New(xrerr.Validation, "apply_haptic: no haptic output %s on %s", outputName, deviceName)
	}
	if superseded {
		cc.pushEvent(eventqueue.Event{Kind: eventqueue.HapticStop, Payload: outputName}, now)
	}
	return nil, nil, nil
}

// handleStopHaptic clears the recorded request and enqueues HAPTIC_STOP.
func (s *Service) handleStopHaptic(cc *ClientContext, r *wire.Reader) ([]byte, []int, error) {
	if err := requireSession(cc); err != nil {
		return nil, nil, err
	}
	deviceName, err := r.String()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "stop_haptic: missing device name")
	}
	outputName, err := r.String()
	if err != nil {
		return nil, nil, xrerr.New(xrerr.Validation, "stop_haptic: missing output name")
	}
	if !s.Devices.StopHaptic(deviceName, outputName) {
		return nil, nil, xrerr.New(xrerr.Validation, "stop_haptic: no haptic output %s on %s", outputName, deviceName)
	}
	cc.pushEvent(eventqueue.Event{Kind: eventqueue.HapticStop, Payload: outputName}, time.Now().UnixNano())
	return nil, nil, nil
}
