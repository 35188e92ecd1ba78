package controlsocket

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/openxrd/runtime/internal/wire"
)

// Conn is one accepted client connection: a SOCK_SEQPACKET socket carrying
// length-prefixed wire datagrams, with SCM_RIGHTS fd passing available on
// any datagram whose header sets wire.FlagHasHandles.
type Conn struct {
	fd int
}

// Fd returns the connection's socket file descriptor.
func (c *Conn) Fd() int { return c.fd }

// Send writes one datagram: header + payload, plus optional ancillary file
// descriptors (e.g. swapchain image handles).
func (c *Conn) Send(h wire.Header, payload []byte, handles []int) error {
	h.Length = uint32(wire.HeaderSize + len(payload))
	if len(handles) > 0 {
		h.Flags |= wire.FlagHasHandles
	}

	buf := make([]byte, wire.HeaderSize+len(payload))
	wire.EncodeHeader(buf, h)
	copy(buf[wire.HeaderSize:], payload)

	var oob []byte
	if len(handles) > 0 {
		oob = unix.UnixRights(handles...)
	}

	if err := unix.Sendmsg(c.fd, buf, oob, nil, 0); err != nil {
		return fmt.Errorf("controlsocket: sendmsg: %w", err)
	}
	return nil
}

// maxDatagramSize bounds a single recvmsg call; SOCK_SEQPACKET datagrams
// never span multiple reads, so this just needs to be generous.
const maxDatagramSize = 64 * 1024
const maxOOBSize = 4096 // enough for several SCM_RIGHTS fds

// Recv reads one datagram, returning its header, payload, and any
// ancillary file descriptors that rode alongside it.
func (c *Conn) Recv() (wire.Header, []byte, []int, error) {
	buf := make([]byte, maxDatagramSize)
	oob := make([]byte, maxOOBSize)

	n, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, 0)
	if err != nil {
		return wire.Header{}, nil, nil, fmt.Errorf("controlsocket: recvmsg: %w", err)
	}
	if n < wire.HeaderSize {
		return wire.Header{}, nil, nil, fmt.Errorf("controlsocket: short datagram: %d bytes", n)
	}

	h, err := wire.DecodeHeader(buf[:n])
	if err != nil {
		return wire.Header{}, nil, nil, err
	}
	payload := buf[wire.HeaderSize:n]

	var handles []int
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return wire.Header{}, nil, nil, fmt.Errorf("controlsocket: parse control message: %w", err)
		}
		for _, cmsg := range cmsgs {
			fds, err := unix.ParseUnixRights(&cmsg)
			if err != nil {
				continue
			}
			handles = append(handles, fds...)
		}
	}

	return h, payload, handles, nil
}

// Close closes the connection's socket.
func (c *Conn) Close() error { return unix.Close(c.fd) }
