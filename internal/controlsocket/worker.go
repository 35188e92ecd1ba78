package controlsocket

import (
	"errors"
	"log/slog"
	"sync"

	"google.golang.org/grpc/codes"

	"github.com/openxrd/runtime/internal/wire"
	"github.com/openxrd/runtime/internal/xrerr"
)

// Handler processes one decoded request and returns the reply payload
// (status word excluded; Serve prepends it) plus any file descriptors to
// pass back, e.g. newly created swapchain image handles. The opcode
// dispatch table itself lives above this package, since it needs to reach
// into session/compositor/swapchain state this package knows nothing about.
type Handler interface {
	Handle(clientID int, op wire.Opcode, payload []byte) (reply []byte, handles []int, err error)
}

// ClientConn pairs an accepted Conn with sequence-number bookkeeping:
// replies carry the request's sequence number unchanged, while events get
// the connection's own monotonically increasing sequence so per-client
// event order is preserved independent of request/reply traffic.
type ClientConn struct {
	*Conn
	ClientID int

	mu       sync.Mutex
	eventSeq uint32
}

// NewClientConn wraps an accepted Conn with the client ID the caller
// assigned it; session/compositor table keys are caller-owned.
func NewClientConn(clientID int, c *Conn) *ClientConn {
	return &ClientConn{Conn: c, ClientID: clientID}
}

// SendEvent pushes an event datagram with the next per-connection sequence
// number, independent of any in-flight request/reply exchange.
func (c *ClientConn) SendEvent(op uint32, payload []byte) error {
	c.mu.Lock()
	seq := c.eventSeq
	c.eventSeq++
	c.mu.Unlock()

	h := wire.Header{Sequence: seq, Opcode: op}
	return c.Send(h, payload, nil)
}

func (c *ClientConn) sendReply(seq uint32, requestOp wire.Opcode, code codes.Code, body []byte, handles []int) error {
	w := wire.NewWriter()
	wire.EncodeReplyStatus(w, code)
	payload := append(w.Bytes(), body...)

	h := wire.Header{Sequence: seq, Opcode: wire.ReplyOpcode(uint32(requestOp))}
	return c.Send(h, payload, handles)
}

func (c *ClientConn) sendErrorReply(seq uint32, requestOp wire.Opcode, err error) error {
	code := codes.Internal
	var xe *xrerr.Error
	if errors.As(err, &xe) {
		code = xe.Status().Code()
	}
	return c.sendReply(seq, requestOp, code, nil, nil)
}

// Serve runs the per-connection worker loop: read one request datagram,
// dispatch it through h, write exactly one reply, repeat until the
// connection closes or a read fails.
func Serve(cc *ClientConn, h Handler, log *slog.Logger) {
	defer cc.Close()
	for {
		hdr, payload, _, err := cc.Recv()
		if err != nil {
			if log != nil {
				log.Debug("controlsocket: connection closed", "client", cc.ClientID, "err", err)
			}
			return
		}
		if wire.IsEvent(hdr.Opcode) || wire.IsReply(hdr.Opcode) {
			// clients only ever originate plain request opcodes
			continue
		}

		op := wire.Opcode(hdr.Opcode)
		reply, outHandles, herr := h.Handle(cc.ClientID, op, payload)
		if herr != nil {
			if err := cc.sendErrorReply(hdr.Sequence, op, herr); err != nil {
				if log != nil {
					log.Warn("controlsocket: failed to send error reply", "client", cc.ClientID, "err", err)
				}
				return
			}
			continue
		}
		if err := cc.sendReply(hdr.Sequence, op, codes.OK, reply, outHandles); err != nil {
			if log != nil {
				log.Warn("controlsocket: failed to send reply", "client", cc.ClientID, "err", err)
			}
			return
		}
	}
}
