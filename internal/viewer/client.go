package viewer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
	"github.com/dgnsrekt/RemoteLoginCore/internal/screencast"
)

const eventBufSize = 64

// Message is one decoded server message.
type Message struct {
	Type protocol.Type   `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return errors.New("message has no data")
	}
	return json.Unmarshal(m.Data, v)
}

// Client is a socket connection to the gateway. Control events are
// delivered in order on Events; screencast frames go to a newest-wins slot.
type Client struct {
	conn    net.Conn
	writeMu sync.Mutex

	events chan Message
	frames *screencast.Latest
	done   chan struct{}
	err    error

	closeOnce sync.Once
}

// SocketURL builds the gateway websocket URL from an http(s) or ws(s) base.
func SocketURL(base, userID, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	}
	q := u.Query()
	q.Set("user_id", userID)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to the gateway and starts the read loop.
func Dial(ctx context.Context, base, userID, token string) (*Client, error) {
	target, err := SocketURL(base, userID, token)
	if err != nil {
		return nil, err
	}
	conn, _, _, err := ws.Dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("viewer: dial: %w", err)
	}
	c := &Client{
		conn:   conn,
		events: make(chan Message, eventBufSize),
		frames: screencast.NewLatest(),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers every non-frame message. It is closed when the socket ends.
func (c *Client) Events() <-chan Message { return c.events }

// Frames delivers decoded frames, newest wins.
func (c *Client) Frames() <-chan screencast.Frame { return c.frames.C() }

// LastFrame returns the newest frame received so far.
func (c *Client) LastFrame() (screencast.Frame, bool) { return c.frames.Last() }

// Done is closed when the read loop exits; Err then reports why.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			var closed wsutil.ClosedError
			if !errors.As(err, &closed) {
				c.err = err
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("viewer: undecodable server message", "error", err)
			continue
		}
		if msg.Type == protocol.TypeScreencast {
			c.putFrame(msg)
			continue
		}
		c.events <- msg
	}
}

func (c *Client) putFrame(msg Message) {
	var sc protocol.Screencast
	if err := msg.Decode(&sc); err != nil {
		return
	}
	data, err := base64.StdEncoding.DecodeString(sc.Frame)
	if err != nil {
		slog.Warn("viewer: bad frame encoding", "seq", sc.Seq)
		return
	}
	c.frames.Put(screencast.Frame{Seq: sc.Seq, Data: data, Format: sc.Format, CapturedAt: time.Now()})
}

func (c *Client) send(t protocol.Type, data any) error {
	env := struct {
		Type protocol.Type `json:"type"`
		Data any           `json:"data,omitempty"`
	}{Type: t, Data: data}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return wsutil.WriteClientText(c.conn, b)
}

func (c *Client) StartLogin(canvas protocol.Size) error {
	return c.send(protocol.TypeStartLogin, protocol.StartLogin{CanvasWidth: canvas.Width, CanvasHeight: canvas.Height})
}

func (c *Client) Click(canvas protocol.Size, x, y float64) error {
	return c.send(protocol.TypeMouse, protocol.Mouse{Type: protocol.MouseClick, X: x, Y: y, CanvasWidth: canvas.Width, CanvasHeight: canvas.Height})
}

func (c *Client) Type(text string) error {
	return c.send(protocol.TypeKeyboard, protocol.Keyboard{Type: protocol.KeyType, Key: text})
}

func (c *Client) Press(key string) error {
	return c.send(protocol.TypeKeyboard, protocol.Keyboard{Type: protocol.KeyPress, Key: key})
}

func (c *Client) Scroll(deltaY float64) error {
	return c.send(protocol.TypeScroll, protocol.Scroll{DeltaY: deltaY})
}

func (c *Client) Status() error { return c.send(protocol.TypeGetSessionStatus, nil) }

func (c *Client) CloseSession() error { return c.send(protocol.TypeCloseSession, nil) }

// Close closes the socket without ending the server session, which stays
// resumable for its grace window.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
