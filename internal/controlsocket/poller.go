package controlsocket

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Poller wraps an epoll instance used for the render loop's non-blocking
// poll step.
type Poller struct {
	epfd int
}

// NewPoller creates an epoll instance.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("controlsocket: epoll_create1: %w", err)
	}
	return &Poller{epfd: epfd}, nil
}

// Register adds fd to the poll set for readability notifications.
func (p *Poller) Register(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("controlsocket: epoll_ctl add %d: %w", fd, err)
	}
	return nil
}

// Unregister removes fd from the poll set (on connection close).
func (p *Poller) Unregister(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("controlsocket: epoll_ctl del %d: %w", fd, err)
	}
	return nil
}

// PollNonBlocking returns the fds currently readable without blocking, the
// render loop's per-tick check for new control-socket traffic.
func (p *Poller) PollNonBlocking() ([]int, error) {
	events := make([]unix.EpollEvent, 32)
	n, err := unix.EpollWait(p.epfd, events, 0)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("controlsocket: epoll_wait: %w", err)
	}
	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ready = append(ready, int(events[i].Fd))
	}
	return ready, nil
}

// Close closes the epoll instance.
func (p *Poller) Close() error { return unix.Close(p.epfd) }
