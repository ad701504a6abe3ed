// Package gateway is the websocket endpoint that binds one client socket to
// the user's session and routes events in both directions.
package gateway

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
	"github.com/dgnsrekt/RemoteLoginCore/internal/session"
)

const maxMessageSize = 64 << 10

// Options configures the socket endpoint.
type Options struct {
	// AllowedOrigins restricts browser Origin headers. Empty or "*" allows all.
	AllowedOrigins []string
	// ReadTimeout bounds how long a socket may stay silent.
	ReadTimeout time.Duration
}

// Handler upgrades HTTP requests to websocket sessions.
type Handler struct {
	reg  *session.Registry
	opts Options
}

func NewHandler(reg *session.Registry, opts Options) *Handler {
	return &Handler{reg: reg, opts: opts}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id query parameter is required", http.StatusBadRequest)
		return
	}
	if !h.originAllowed(r.Header.Get("Origin")) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	c := newConn(raw, userID)
	go c.writeLoop()

	s, resumed, err := h.reg.Attach(userID, r.URL.Query().Get("token"), c)
	if err != nil {
		slog.Info("connection refused", "user_id", userID, "code", protocol.CodeOf(err))
		c.Send(protocol.ErrorEvent("", err))
		c.Close()
		<-c.Done()
		return
	}
	slog.Info("client connected", "user_id", userID, "session_id", s.ID(), "resumed", resumed, "remote", r.RemoteAddr)

	h.readLoop(c, s)

	h.reg.Detach(s, c)
	c.Close()
	<-c.Done()
	slog.Info("client disconnected", "user_id", userID, "session_id", s.ID(), "sent", c.sent.Load())
}

func (h *Handler) readLoop(c *conn, s *session.Session) {
	rd := &wsutil.Reader{
		Source:         c.raw,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   maxMessageSize,
		OnIntermediate: c.onControl,
	}
	for {
		if h.opts.ReadTimeout > 0 {
			_ = c.raw.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
		}
		hdr, err := rd.NextFrame()
		if errors.Is(err, wsutil.ErrFrameTooLarge) {
			// The payload was never read, so the stream cannot be resynced.
			h.tooLarge(c)
			return
		}
		if err != nil {
			return
		}
		if hdr.OpCode.IsControl() {
			if err := c.onControl(hdr, rd); err != nil {
				return
			}
			continue
		}
		if hdr.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				return
			}
			c.Send(protocol.ErrorEvent("", protocol.NewError(protocol.CodeMalformed, "only text frames are accepted", nil)))
			continue
		}
		// Fragmented messages are bounded as a whole, not per frame.
		data, err := io.ReadAll(io.LimitReader(rd, maxMessageSize+1))
		if err != nil {
			return
		}
		if len(data) > maxMessageSize {
			h.tooLarge(c)
			return
		}
		select {
		case <-c.closing:
			return
		default:
		}
		in, err := protocol.DecodeInbound(data)
		if err != nil {
			// Payload content is never logged; it may carry typed text.
			slog.Debug("rejected inbound event", "user_id", c.userID, "type", in.Type, "code", protocol.CodeOf(err))
			c.Send(protocol.ErrorEvent(in.Type, err))
			continue
		}
		s.Handle(c, in)
	}
}

func (h *Handler) tooLarge(c *conn) {
	slog.Warn("inbound message too large, closing socket", "user_id", c.userID, "limit", maxMessageSize)
	c.Send(protocol.ErrorEvent("", protocol.NewError(protocol.CodeMalformed, "message too large", nil)))
	c.closeWith(ws.StatusMessageTooBig, "message too large")
}

func (h *Handler) originAllowed(origin string) bool {
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
