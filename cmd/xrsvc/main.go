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

// Command xrsvc is the OpenXR runtime service: it publishes the device
// table to shared memory, listens on a SOCK_SEQPACKET control socket, and
// runs the render loop until terminated. A minimal `test` subcommand dumps
// a sample device table without starting the service, useful for
// conformance debugging without a client library.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openxrd/runtime/internal/compositor"
	"github.com/openxrd/runtime/internal/config"
	"github.com/openxrd/runtime/internal/controlsocket"
	"github.com/openxrd/runtime/internal/device"
	"github.com/openxrd/runtime/internal/dispatch"
	"github.com/openxrd/runtime/internal/pacing"
	"github.com/openxrd/runtime/internal/renderloop"
	"github.com/openxrd/runtime/internal/session"
	"github.com/openxrd/runtime/internal/shm"
	"github.com/openxrd/runtime/internal/swapchain"
	"github.com/openxrd/runtime/internal/xrlog"
)

const (
	exitOK      = 0
	exitInit    = 1
	exitRuntime = 2

	// ninetyHzPeriodNs is the frame period used when nothing else on the
	// host names a display refresh rate.
	ninetyHzPeriodNs = 11_111_111

	shmSegmentName = "openxrd_runtime_v1"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitInit
	}

	switch args[0] {
	case "service":
		return runService(args[1:])
	case "test":
		return runTest(args[1:])
	default:
		usage()
		return exitInit
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: xrsvc service [--socket PATH] | xrsvc test")
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/openxrd_runtime_ipc"
	}
	return "/tmp/openxrd_runtime_ipc"
}

func sampleDeviceTable() *device.Table {
	return &device.Table{
		Origins: []device.TrackingOrigin{
			{Name: "local", Class: shm.OriginWorld},
			{Name: "stage", Class: shm.OriginWorld},
		},
		Devices: []device.Device{
			{
				Name:           "hmd",
				Class:          shm.DeviceClassHMD,
				TrackingOrigin: 0,
				HMD: device.HMDParts{
					HasHMD:      true,
					DisplayResW: 1600,
					DisplayResH: 1440,
				},
				Inputs: []device.Input{
					{Name: "head/pose", Type: shm.InputTypePose},
				},
			},
			{
				Name:           "left_controller",
				Class:          shm.DeviceClassLeftController,
				TrackingOrigin: 0,
				Inputs: []device.Input{
					{Name: "grip/pose", Type: shm.InputTypePose},
					{Name: "trigger/value", Type: shm.InputTypeFloat},
					{Name: "trackpad/value", Type: shm.InputTypeVec2},
					{Name: "select/click", Type: shm.InputTypeBoolean},
				},
				Outputs: []device.Output{
					{Name: "haptic", Type: shm.OutputTypeHaptic},
				},
			},
			{
				Name:           "right_controller",
				Class:          shm.DeviceClassRightController,
				TrackingOrigin: 0,
				Inputs: []device.Input{
					{Name: "grip/pose", Type: shm.InputTypePose},
					{Name: "trigger/value", Type: shm.InputTypeFloat},
					{Name: "trackpad/value", Type: shm.InputTypeVec2},
					{Name: "select/click", Type: shm.InputTypeBoolean},
				},
				Outputs: []device.Output{
					{Name: "haptic", Type: shm.OutputTypeHaptic},
				},
			},
		},
	}
}

// runTest publishes a sample device table to a throwaway segment, loads it
// back, and prints every tracking origin and device descriptor — exercising
// the same publish/load round trip the running service relies on, without
// needing a client library or a live control socket.
func runTest(args []string) int {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return exitInit
	}

	table := sampleDeviceTable()
	segName := shmSegmentName + "_test"
	seg, err := table.Publish(segName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xrsvc test: publish device table: %v\n", err)
		return exitInit
	}
	defer seg.Close()
	defer shm.RemoveSegment(segName)

	loaded := device.Load(seg)

	fmt.Println("=== Tracking Origins ===")
	for i, o := range loaded.Origins {
		fmt.Printf("[%d] %-16s class=%d offset=%+v\n", i, o.Name, o.Class, o.Offset)
	}

	fmt.Println("\n=== Devices ===")
	for i, d := range loaded.Devices {
		fmt.Printf("[%d] %-20s class=%d origin=%d\n", i, d.Name, d.Class, d.TrackingOrigin)
		for _, in := range d.Inputs {
			fmt.Printf("      input  %-16s type=%d\n", in.Name, in.Type)
		}
		for _, out := range d.Outputs {
			fmt.Printf("      output %-16s type=%d\n", out.Name, out.Type)
		}
		if d.HMD.HasHMD {
			fmt.Printf("      hmd    res=%dx%d\n", d.HMD.DisplayResW, d.HMD.DisplayResH)
		}
	}
	return exitOK
}

// noopDispatcher satisfies compositor.LayerDispatcher; actual GPU
// submission lives behind the renderer capability.
type noopDispatcher struct{}

func (noopDispatcher) DispatchLayer(clientID int, l compositor.Layer) error { return nil }

// inputPublisher restamps the shared-memory input snapshots and bumps the
// segment epoch once per render tick.
type inputPublisher struct {
	seg     *shm.Segment
	devices *device.Table
}

func (p inputPublisher) PublishTick(nowNs uint64) {
	p.devices.RefreshInputs(p.seg, nil, nowNs)
	p.seg.PublishTick(nowNs)
}

func runService(args []string) int {
	fs := flag.NewFlagSet("service", flag.ContinueOnError)
	socketPath := fs.String("socket", defaultSocketPath(), "control socket path")
	if err := fs.Parse(args); err != nil {
		return exitInit
	}

	debug := config.Load()
	logLevel := slog.LevelInfo
	if debug.VerboseSessionLog {
		logLevel = slog.LevelDebug
	}
	xrlog.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	log := xrlog.Logger()

	devices := sampleDeviceTable()
	seg, err := devices.Publish(shmSegmentName)
	if err != nil {
		log.Error("publish device table", slog.Any("error", err))
		return exitInit
	}
	defer seg.Close()
	defer shm.RemoveSegment(shmSegmentName)

	sessions := session.NewTable()
	comp := compositor.NewTable()
	gc := &swapchain.GCStack{}

	var engine pacing.Engine
	if debug.TracingEnable {
		engine = pacing.NewFake(ninetyHzPeriodNs)
	} else {
		engine = pacing.NewDisplayTiming(ninetyHzPeriodNs)
	}

	listener, err := controlsocket.Listen(*socketPath)
	if err != nil {
		log.Error("listen on control socket", slog.String("path", *socketPath), slog.Any("error", err))
		return exitInit
	}
	defer listener.Close()

	poller, err := controlsocket.NewPoller()
	if err != nil {
		log.Error("create epoll poller", slog.Any("error", err))
		return exitInit
	}
	defer poller.Close()
	if err := poller.Register(listener.Fd()); err != nil {
		log.Error("register listener with poller", slog.Any("error", err))
		return exitInit
	}

	loop := renderloop.New(engine, sessions, comp, gc, noopDispatcher{}, poller)
	loop.Publisher = inputPublisher{seg: seg, devices: devices}
	svc := dispatch.NewService(devices, sessions, comp, loop, gc, ninetyHzPeriodNs)
	svc.ExtraWaitFrame = time.Duration(debug.ExtraWaitFrameMs) * time.Millisecond

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	nextClientID := 1
	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				acceptErr <- err
				return
			}
			clientID := nextClientID
			nextClientID++
			cc := controlsocket.NewClientConn(clientID, conn)
			log.Info("client connected", slog.Int("client", clientID))
			go func() {
				controlsocket.Serve(cc, svc, log)
				svc.Disconnect(clientID)
				log.Info("client worker exited", slog.Int("client", clientID))
			}()
		}
	}()

	select {
	case <-ctx.Done():
		// Drain: every live session is moved to STOPPING. The transitions
		// are only counted in the log line below; they are not put on the
		// clients' event queues before the sockets close.
		drained := sessions.RequestExitAll()
		log.Info("shutting down on signal", slog.Int("sessions_drained", len(drained)))
		return exitOK
	case err := <-acceptErr:
		log.Error("accept loop failed", slog.Any("error", err))
		return exitRuntime
	case err := <-loopDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("render loop exited", slog.Any("error", err))
			return exitRuntime
		}
		return exitOK
	}
}
