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

// Package controlsocket is the cross-process control plane: a unix
// SOCK_SEQPACKET listener accepting one connection per client, each handed
// to its own worker goroutine, with SCM_RIGHTS ancillary data carrying
// swapchain image handles out-of-band from the datagram payload.
//
// The client table itself is owned by the caller (internal/dispatch wires
// it to the session and compositor tables); this package only moves
// datagrams and file descriptors.
package controlsocket

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Listener accepts client connections on a unix SOCK_SEQPACKET path.
type Listener struct {
	path string
	fd   int
}

// Listen binds and listens on path, removing any stale socket file first
// (a prior unclean shutdown can leave one behind).
func Listen(path string) (*Listener, error) {
	os.Remove(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, fmt.Errorf("controlsocket: socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("controlsocket: bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("controlsocket: listen: %w", err)
	}
	return &Listener{path: path, fd: fd}, nil
}

// Accept blocks until a client connects, returning a Conn wrapping the
// accepted socket.
func (l *Listener) Accept() (*Conn, error) {
	fd, _, err := unix.Accept(l.fd)
	if err != nil {
		return nil, fmt.Errorf("controlsocket: accept: %w", err)
	}
	return &Conn{fd: fd}, nil
}

// Fd returns the listening socket's file descriptor, for epoll
// registration in the render loop.
func (l *Listener) Fd() int { return l.fd }

// Close shuts down the listener and removes the socket file.
func (l *Listener) Close() error {
	err := unix.Close(l.fd)
	os.Remove(l.path)
	return err
}
