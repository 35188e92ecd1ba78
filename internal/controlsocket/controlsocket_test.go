package controlsocket

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openxrd/runtime/internal/wire"
)

func dial(t *testing.T, path string) *Conn {
	t.Helper()
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		t.Fatalf("connect: %v", err)
	}
	return &Conn{fd: fd}
}

func TestListenAcceptRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "ctrl.sock")
	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- c
	}()

	client := dial(t, sockPath)
	defer client.Close()

	var server *Conn
	select {
	case server = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("Accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	defer server.Close()

	payload := []byte("hello")
	if err := client.Send(wire.Header{Sequence: 7, Opcode: uint32(wire.OpWaitFrame)}, payload, nil); err != nil {
		t.Fatalf("client Send: %v", err)
	}

	hdr, got, handles, err := server.Recv()
	if err != nil {
		t.Fatalf("server Recv: %v", err)
	}
	if hdr.Sequence != 7 || wire.Opcode(hdr.Opcode) != wire.OpWaitFrame {
		t.Fatalf("header mismatch: %+v", hdr)
	}
	if string(got) != "hello" {
		t.Fatalf("payload = %q, want %q", got, "hello")
	}
	if len(handles) != 0 {
		t.Fatalf("unexpected handles: %v", handles)
	}
}

type echoHandler struct{}

func (echoHandler) Handle(clientID int, op wire.Opcode, payload []byte) ([]byte, []int, error) {
	return payload, nil, nil
}

func TestServeEchoesExactlyOneReplyPerRequest(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "ctrl.sock")
	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan *ClientConn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		cc := NewClientConn(1, c)
		serverDone <- cc
		Serve(cc, echoHandler{}, nil)
	}()

	client := dial(t, sockPath)
	defer client.Close()
	<-serverDone

	req := wire.Header{Sequence: 42, Opcode: uint32(wire.OpBeginFrame)}
	if err := client.Send(req, []byte("payload"), nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	hdr, body, _, err := client.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if hdr.Sequence != 42 {
		t.Fatalf("reply sequence = %d, want 42", hdr.Sequence)
	}
	if !wire.IsReply(hdr.Opcode) || wire.Opcode(wire.RequestOpcode(hdr.Opcode)) != wire.OpBeginFrame {
		t.Fatalf("reply opcode not tagged correctly: %x", hdr.Opcode)
	}

	r := wire.NewReader(body)
	code, err := wire.DecodeReplyStatus(r)
	if err != nil {
		t.Fatalf("DecodeReplyStatus: %v", err)
	}
	if code != 0 {
		t.Fatalf("status code = %d, want OK(0)", code)
	}
	rest := body[4:]
	if string(rest) != "payload" {
		t.Fatalf("echoed payload = %q, want %q", rest, "payload")
	}
}

func TestSendEventUsesIndependentIncreasingSequence(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "ctrl.sock")
	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		accepted <- c
	}()

	client := dial(t, sockPath)
	defer client.Close()
	server := <-accepted
	cc := NewClientConn(1, server)
	defer cc.Close()

	if err := cc.SendEvent(wire.EventLossPending, []byte("first")); err != nil {
		t.Fatalf("SendEvent 1: %v", err)
	}
	if err := cc.SendEvent(wire.EventExiting, []byte("second")); err != nil {
		t.Fatalf("SendEvent 2: %v", err)
	}

	hdr1, body1, _, err := client.Recv()
	if err != nil {
		t.Fatalf("Recv 1: %v", err)
	}
	hdr2, body2, _, err := client.Recv()
	if err != nil {
		t.Fatalf("Recv 2: %v", err)
	}
	if hdr1.Sequence != 0 || hdr2.Sequence != 1 {
		t.Fatalf("event sequence not increasing: %d, %d", hdr1.Sequence, hdr2.Sequence)
	}
	if string(body1) != "first" || string(body2) != "second" {
		t.Fatalf("event order not preserved: %q, %q", body1, body2)
	}
}

func TestPollerObservesNewConnectionData(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "ctrl.sock")
	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()
	if err := p.Register(ln.Fd()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ready, err := p.PollNonBlocking()
	if err != nil {
		t.Fatalf("PollNonBlocking: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no pending connections, got %v", ready)
	}

	client := dial(t, sockPath)
	defer client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		ready, err = p.PollNonBlocking()
		if err != nil {
			t.Fatalf("PollNonBlocking: %v", err)
		}
		if len(ready) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for listener to become readable")
		}
		time.Sleep(time.Millisecond)
	}
	if ready[0] != ln.Fd() {
		t.Fatalf("ready fd = %d, want listener fd %d", ready[0], ln.Fd())
	}
	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	server.Close()
}
