package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/RemoteLoginCore/internal/driver"
	"github.com/dgnsrekt/RemoteLoginCore/internal/driver/drivertest"
	"github.com/dgnsrekt/RemoteLoginCore/internal/login"
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
	"github.com/dgnsrekt/RemoteLoginCore/internal/screencast"
	"github.com/dgnsrekt/RemoteLoginCore/internal/session"
)

var viewport = protocol.Size{Width: 1920, Height: 1080}

func newTestServer(t *testing.T, policy session.ConflictPolicy, fakes ...*drivertest.Fake) (*httptest.Server, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(drivertest.Factory(fakes...), login.NewDetector(login.DefaultRules()), session.RegistryOptions{
		Session: session.Options{
			Canvas:         protocol.Size{Width: 1280, Height: 720},
			Screencast:     screencast.Options{Interval: 15 * time.Millisecond},
			DetectInterval: 15 * time.Millisecond,
		},
		Policy:      policy,
		GraceWindow: 50 * time.Millisecond,
		Viewport:    viewport,
	})
	srv := httptest.NewServer(NewHandler(reg, Options{}))
	t.Cleanup(func() {
		reg.Shutdown(session.ReasonShutdown)
		srv.Close()
	})
	return srv, reg
}

func dial(t *testing.T, srv *httptest.Server, query string) net.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, _, err := ws.Dial(ctx, u)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func send(t *testing.T, c net.Conn, typ protocol.Type, data any) {
	t.Helper()
	env := map[string]any{"type": typ}
	if data != nil {
		env["data"] = data
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	if err := wsutil.WriteClientText(c, b); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

type received struct {
	Type protocol.Type   `json:"type"`
	Data json.RawMessage `json:"data"`
}

// readUntil reads messages until one of type want arrives, counting the
// types seen on the way.
func readUntil(t *testing.T, c net.Conn, want protocol.Type, seen map[protocol.Type]int) received {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	defer c.SetReadDeadline(time.Time{})
	for {
		b, err := wsutil.ReadServerText(c)
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		var msg received
		if err := json.Unmarshal(b, &msg); err != nil {
			t.Fatalf("bad server message %q: %v", b, err)
		}
		if seen != nil {
			seen[msg.Type]++
		}
		if msg.Type == want {
			return msg
		}
	}
}

func decode[T any](t *testing.T, m received) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(m.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", m.Type, err)
	}
	return v
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoginFlowEndToEnd(t *testing.T) {
	f := drivertest.New(viewport)
	srv, reg := newTestServer(t, session.PolicyReplace, f)
	c := dial(t, srv, "user_id=u1")

	hello := decode[protocol.Connected](t, readUntil(t, c, protocol.TypeConnected, nil))
	if hello.Token == "" || hello.State != "idle" {
		t.Fatalf("connected = %+v", hello)
	}

	send(t, c, protocol.TypeStartLogin, protocol.StartLogin{CanvasWidth: 1280, CanvasHeight: 720})
	readUntil(t, c, protocol.TypeLoginStarted, nil)
	ready := decode[protocol.ReadyForLogin](t, readUntil(t, c, protocol.TypeReadyForLogin, nil))
	if ready.URL != login.DefaultRules().LoginURL {
		t.Fatalf("readyForLogin url = %q", ready.URL)
	}

	frame := decode[protocol.Screencast](t, readUntil(t, c, protocol.TypeScreencast, nil))
	raw, err := base64.StdEncoding.DecodeString(frame.Frame)
	if err != nil || !strings.HasPrefix(string(raw), "frame-") || frame.Format != "jpeg" {
		t.Fatalf("screencast frame = %+v (%v)", frame, err)
	}

	send(t, c, protocol.TypeMouse, protocol.Mouse{Type: protocol.MouseClick, X: 150, Y: 300})
	waitUntil(t, "click", func() bool { return len(f.Calls()) == 1 })
	if call := f.Calls()[0]; call.X != 225 || call.Y != 450 {
		t.Fatalf("driver click at (%v,%v); want (225,450)", call.X, call.Y)
	}

	f.SetCookies(driver.Cookie{Name: "li_at", Value: "AQEDAT"})
	f.SetURL("https://www.linkedin.com/feed/")
	seen := map[protocol.Type]int{}
	success := decode[protocol.LoginSuccess](t, readUntil(t, c, protocol.TypeLoginSuccess, seen))
	if success.Cookies.LiAt != "AQEDAT" {
		t.Fatalf("loginSuccess = %+v", success)
	}

	f.SetURL("https://www.linkedin.com/mynetwork/")
	send(t, c, protocol.TypeGetSessionStatus, nil)
	status := decode[protocol.SessionStatus](t, readUntil(t, c, protocol.TypeSessionStatus, seen))
	if !status.IsLoggedIn || !status.HasSession {
		t.Fatalf("sessionStatus = %+v", status)
	}
	if seen[protocol.TypeLoginSuccess] != 1 {
		t.Fatalf("loginSuccess seen %d times; want 1", seen[protocol.TypeLoginSuccess])
	}

	send(t, c, protocol.TypeCloseSession, nil)
	closed := decode[protocol.SessionClosed](t, readUntil(t, c, protocol.TypeSessionClosed, nil))
	if closed.Reason != session.ReasonClientRequest {
		t.Fatalf("sessionClosed = %+v", closed)
	}
	if f.ReleaseCount() != 1 {
		t.Fatalf("ReleaseCount() = %d; want 1", f.ReleaseCount())
	}
	waitUntil(t, "registry empty", func() bool { return reg.Len() == 0 })
}

func TestProtocolErrorsKeepSessionAlive(t *testing.T) {
	srv, reg := newTestServer(t, session.PolicyReplace)
	c := dial(t, srv, "user_id=u1")
	readUntil(t, c, protocol.TypeConnected, nil)

	tests := []struct {
		name string
		msg  string
		code string
	}{
		{"not json", `{oops`, protocol.CodeMalformed},
		{"unknown type", `{"type":"teleport"}`, protocol.CodeUnknownEvent},
		{"bad mouse", `{"type":"mouse","data":{"type":"dblclick","x":1,"y":1}}`, protocol.CodeValidation},
		{"input before start", `{"type":"scroll","data":{"deltaY":3}}`, protocol.CodeNoSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := wsutil.WriteClientText(c, []byte(tt.msg)); err != nil {
				t.Fatal(err)
			}
			e := decode[protocol.Error](t, readUntil(t, c, protocol.TypeError, nil))
			if e.Code != tt.code {
				t.Fatalf("error code = %q; want %q (%s)", e.Code, tt.code, e.Message)
			}
		})
	}

	send(t, c, protocol.TypeGetSessionStatus, nil)
	status := decode[protocol.SessionStatus](t, readUntil(t, c, protocol.TypeSessionStatus, nil))
	if status.HasSession || status.State != "idle" {
		t.Fatalf("sessionStatus = %+v", status)
	}
	if reg.Len() != 1 {
		t.Fatalf("registry Len() = %d; want 1", reg.Len())
	}
}

func TestRejectPolicyRefusesSecondSocket(t *testing.T) {
	srv, reg := newTestServer(t, session.PolicyReject)
	first := dial(t, srv, "user_id=u1")
	readUntil(t, first, protocol.TypeConnected, nil)

	second := dial(t, srv, "user_id=u1")
	e := decode[protocol.Error](t, readUntil(t, second, protocol.TypeError, nil))
	if e.Code != protocol.CodeSessionConflict {
		t.Fatalf("error = %+v; want SESSION_CONFLICT", e)
	}
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := wsutil.ReadServerText(second); err == nil {
		t.Fatal("refused socket stayed open")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry Len() = %d; want 1", reg.Len())
	}
}

func TestReconnectWithTokenResumes(t *testing.T) {
	srv, _ := newTestServer(t, session.PolicyReject)
	first := dial(t, srv, "user_id=u1")
	hello := decode[protocol.Connected](t, readUntil(t, first, protocol.TypeConnected, nil))
	first.Close()

	second := dial(t, srv, "user_id=u1&token="+hello.Token)
	again := decode[protocol.Connected](t, readUntil(t, second, protocol.TypeConnected, nil))
	if !again.Resumed || again.SessionID != hello.SessionID {
		t.Fatalf("reconnect = %+v; want resumed %s", again, hello.SessionID)
	}
}

func TestMissingUserRejected(t *testing.T) {
	srv, _ := newTestServer(t, session.PolicyReplace)
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", resp.StatusCode)
	}
}

func TestOriginAllowed(t *testing.T) {
	h := NewHandler(nil, Options{AllowedOrigins: []string{"https://app.example.com"}})
	if !h.originAllowed("") || !h.originAllowed("https://APP.example.com") {
		t.Fatal("expected origin allowed")
	}
	if h.originAllowed("https://evil.example.com") {
		t.Fatal("foreign origin allowed")
	}
	if !NewHandler(nil, Options{AllowedOrigins: []string{"*"}}).originAllowed("https://x") {
		t.Fatal("wildcard did not allow")
	}
}

// readFrame reads one raw server frame without handling control frames.
func readFrame(t *testing.T, c net.Conn) ws.Frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	defer c.SetReadDeadline(time.Time{})
	f, err := ws.ReadFrame(c)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestPingAnsweredWithoutCorruptingFrames(t *testing.T) {
	f := drivertest.New(viewport)
	srv, _ := newTestServer(t, session.PolicyReplace, f)
	c := dial(t, srv, "user_id=u1")
	readUntil(t, c, protocol.TypeConnected, nil)
	send(t, c, protocol.TypeStartLogin, protocol.StartLogin{CanvasWidth: 1280, CanvasHeight: 720})
	readUntil(t, c, protocol.TypeScreencast, nil)

	for i := 0; i < 10; i++ {
		payload := []byte(fmt.Sprintf("hb-%d", i))
		if err := ws.WriteFrame(c, ws.MaskFrame(ws.NewPingFrame(payload))); err != nil {
			t.Fatalf("write ping: %v", err)
		}
		for {
			fr := readFrame(t, c)
			if fr.Header.OpCode == ws.OpText {
				if !json.Valid(fr.Payload) {
					t.Fatalf("interleaved text frame: %q", fr.Payload)
				}
				continue
			}
			if fr.Header.OpCode != ws.OpPong || string(fr.Payload) != string(payload) {
				t.Fatalf("got opcode %v payload %q; want pong %q", fr.Header.OpCode, fr.Payload, payload)
			}
			break
		}
	}
}

func TestOversizedMessageRejectedBeforeRead(t *testing.T) {
	srv, _ := newTestServer(t, session.PolicyReplace)
	c := dial(t, srv, "user_id=u1")
	readUntil(t, c, protocol.TypeConnected, nil)

	// Only the header is sent: the server must refuse on the declared length.
	hdr := ws.Header{Fin: true, OpCode: ws.OpText, Masked: true, Mask: ws.NewMask(), Length: maxMessageSize + 1}
	if err := ws.WriteHeader(c, hdr); err != nil {
		t.Fatal(err)
	}

	var gotError bool
	for {
		fr := readFrame(t, c)
		switch fr.Header.OpCode {
		case ws.OpText:
			var msg received
			if err := json.Unmarshal(fr.Payload, &msg); err != nil {
				t.Fatalf("bad server message %q: %v", fr.Payload, err)
			}
			if msg.Type == protocol.TypeError && decode[protocol.Error](t, msg).Code == protocol.CodeMalformed {
				gotError = true
			}
		case ws.OpClose:
			code, _ := ws.ParseCloseFrameData(fr.Payload)
			if code != ws.StatusMessageTooBig {
				t.Fatalf("close code = %d; want %d", code, ws.StatusMessageTooBig)
			}
			if !gotError {
				t.Fatal("socket closed without a MALFORMED error")
			}
			return
		}
	}
}
