package gateway

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
	"github.com/dgnsrekt/RemoteLoginCore/internal/screencast"
)

var errPeerClosed = errors.New("gateway: client sent close")

const (
	controlBufSize = 64
	pongBufSize    = 4
	writeTimeout   = 10 * time.Second
)

// conn is the outbound half of one client socket. Control events queue in
// order; frames go through a newest-wins slot so a slow client never builds
// up a backlog of stale images. writeLoop is the only goroutine that writes
// to raw, pong replies included.
type conn struct {
	raw    net.Conn
	userID string

	control chan protocol.Outbound
	pongs   chan []byte
	frames  *screencast.Latest

	closing   chan struct{}
	closeOnce sync.Once
	closeCode ws.StatusCode
	closeText string
	done      chan struct{}

	sent    atomic.Int64
	dropped atomic.Int64
}

func newConn(raw net.Conn, userID string) *conn {
	return &conn{
		raw:     raw,
		userID:  userID,
		control: make(chan protocol.Outbound, controlBufSize),
		pongs:   make(chan []byte, pongBufSize),
		frames:  screencast.NewLatest(),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Send queues a control event without blocking. A client that lets the
// control queue fill up is too far behind to be useful and is disconnected.
func (c *conn) Send(o protocol.Outbound) {
	select {
	case <-c.closing:
		return
	default:
	}
	select {
	case c.control <- o:
	default:
		c.dropped.Add(1)
		slog.Warn("control queue full, closing socket", "user_id", c.userID, "event", o.Type)
		c.Close()
	}
}

func (c *conn) SendFrame(f screencast.Frame) {
	select {
	case <-c.closing:
	default:
		c.frames.Put(f)
	}
}

// Close asks the writer to flush queued control events and close the socket.
func (c *conn) Close() {
	c.closeWith(ws.StatusNormalClosure, "")
}

func (c *conn) closeWith(code ws.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeText = code, reason
		close(c.closing)
	})
}

// onControl handles a client control frame on the read goroutine. Pings are
// answered through writeLoop; a close frame ends the read loop.
func (c *conn) onControl(hdr ws.Header, r io.Reader) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	switch hdr.OpCode {
	case ws.OpPing:
		select {
		case c.pongs <- payload:
		default:
			// Pings beyond the buffer go unanswered.
		}
	case ws.OpClose:
		return errPeerClosed
	}
	return nil
}

// Done is closed after the socket is closed.
func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) writeLoop() {
	defer close(c.done)
	defer c.raw.Close()

	for {
		// Control events take priority over frames.
		select {
		case p := <-c.pongs:
			if !c.writeFrame(ws.NewPongFrame(p)) {
				return
			}
			continue
		case o := <-c.control:
			if !c.write(o) {
				return
			}
			continue
		default:
		}

		select {
		case p := <-c.pongs:
			if !c.writeFrame(ws.NewPongFrame(p)) {
				return
			}
		case o := <-c.control:
			if !c.write(o) {
				return
			}
		case f := <-c.frames.C():
			if !c.write(frameEvent(f)) {
				return
			}
		case <-c.closing:
			c.drain()
			c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(c.closeCode, c.closeText)))
			return
		}
	}
}

func (c *conn) drain() {
	for {
		select {
		case o := <-c.control:
			if !c.write(o) {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(o protocol.Outbound) bool {
	data, err := protocol.Encode(o)
	if err != nil {
		slog.Error("encode outbound event", "event", o.Type, "error", err)
		return true
	}
	_ = c.raw.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wsutil.WriteServerText(c.raw, data); err != nil {
		slog.Debug("socket write failed", "user_id", c.userID, "error", err)
		c.Close()
		return false
	}
	c.sent.Add(1)
	return true
}

func (c *conn) writeFrame(f ws.Frame) bool {
	_ = c.raw.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteFrame(c.raw, f); err != nil {
		slog.Debug("socket write failed", "user_id", c.userID, "opcode", f.Header.OpCode, "error", err)
		return false
	}
	return true
}

func frameEvent(f screencast.Frame) protocol.Outbound {
	return protocol.Outbound{Type: protocol.TypeScreencast, Payload: protocol.Screencast{
		Frame:  base64.StdEncoding.EncodeToString(f.Data),
		Seq:    f.Seq,
		Format: f.Format,
	}}
}
