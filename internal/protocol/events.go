package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Type tags every message on the socket.
type Type string

// Inbound (client → server).
const (
	TypeGetSessionStatus Type = "getSessionStatus"
	TypeStartLogin       Type = "startLogin"
	TypeMouse            Type = "mouse"
	TypeKeyboard         Type = "keyboard"
	TypeScroll           Type = "scroll"
	TypeCloseSession     Type = "closeSession"
)

// Outbound (server → client).
const (
	TypeConnected     Type = "connected"
	TypeSessionStatus Type = "sessionStatus"
	TypeReadyForLogin Type = "readyForLogin"
	TypeLoginStarted  Type = "loginStarted"
	TypeScreencast    Type = "screencast"
	TypeInputUpdated  Type = "inputUpdated"
	TypeLoginSuccess  Type = "loginSuccess"
	TypeSessionClosed Type = "sessionClosed"
	TypeError         Type = "error"
)

const (
	MouseClick = "click"

	KeyPress = "press"
	KeyType  = "type"
)

// Envelope is the wire framing shared by both directions.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StartLogin optionally carries the client's canvas size, which fixes the
// rescale ratio for the rest of the session.
type StartLogin struct {
	CanvasWidth  int `json:"canvasWidth,omitempty"`
	CanvasHeight int `json:"canvasHeight,omitempty"`
}

// Mouse is a pointer event in canvas pixels.
type Mouse struct {
	Type         string  `json:"type"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	CanvasWidth  int     `json:"canvasWidth,omitempty"`
	CanvasHeight int     `json:"canvasHeight,omitempty"`
}

// Keyboard is either a named key press or literal text.
type Keyboard struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// Scroll is a vertical wheel delta.
type Scroll struct {
	DeltaY float64 `json:"deltaY"`
}

// Inbound is the decoded tagged variant. Exactly one payload pointer is set
// for the types that carry one.
type Inbound struct {
	Type       Type
	StartLogin *StartLogin
	Mouse      *Mouse
	Keyboard   *Keyboard
	Scroll     *Scroll
}

// IsInput reports whether the event is forwarded to the driver.
func (in Inbound) IsInput() bool {
	return in.Type == TypeMouse || in.Type == TypeKeyboard || in.Type == TypeScroll
}

// DecodeInbound parses and validates one client message.
func DecodeInbound(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, NewError(CodeMalformed, "message is not a valid envelope", err)
	}
	in := Inbound{Type: env.Type}
	switch env.Type {
	case TypeGetSessionStatus, TypeCloseSession:
		return in, nil
	case TypeStartLogin:
		in.StartLogin = &StartLogin{}
		if err := decodeData(env.Data, in.StartLogin, false); err != nil {
			return in, err
		}
		if in.StartLogin.CanvasWidth < 0 || in.StartLogin.CanvasHeight < 0 {
			return in, NewError(CodeValidation, "canvas size must not be negative", nil)
		}
		return in, nil
	case TypeMouse:
		in.Mouse = &Mouse{}
		if err := decodeData(env.Data, in.Mouse, true); err != nil {
			return in, err
		}
		if in.Mouse.Type != MouseClick {
			return in, NewError(CodeValidation, "unsupported mouse event type "+quote(in.Mouse.Type), nil)
		}
		if in.Mouse.X < 0 || in.Mouse.Y < 0 {
			return in, NewError(CodeValidation, "mouse coordinates must not be negative", nil)
		}
		return in, nil
	case TypeKeyboard:
		in.Keyboard = &Keyboard{}
		if err := decodeData(env.Data, in.Keyboard, true); err != nil {
			return in, err
		}
		if in.Keyboard.Type != KeyPress && in.Keyboard.Type != KeyType {
			return in, NewError(CodeValidation, "unsupported keyboard event type "+quote(in.Keyboard.Type), nil)
		}
		if in.Keyboard.Key == "" {
			return in, NewError(CodeValidation, "key is required", nil)
		}
		return in, nil
	case TypeScroll:
		in.Scroll = &Scroll{}
		if err := decodeData(env.Data, in.Scroll, true); err != nil {
			return in, err
		}
		return in, nil
	case "":
		return in, NewError(CodeMalformed, "message type is required", nil)
	default:
		return in, NewError(CodeUnknownEvent, "unknown event type "+quote(string(env.Type)), nil)
	}
}

func decodeData(raw json.RawMessage, dst any, required bool) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if required {
			return NewError(CodeMalformed, "payload is required", nil)
		}
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return NewError(CodeMalformed, "invalid payload", err)
	}
	return nil
}

func quote(s string) string {
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return `"` + strings.ReplaceAll(s, `"`, `'`) + `"`
}

// Outbound payloads.

type Connected struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	Resumed   bool   `json:"resumed"`
	State     string `json:"state"`
	Canvas    Size   `json:"canvas"`
	Viewport  Size   `json:"viewport"`
}

type SessionStatus struct {
	HasSession bool   `json:"hasSession"`
	IsLoggedIn bool   `json:"isLoggedIn"`
	URL        string `json:"url,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	State      string `json:"state"`
}

type ReadyForLogin struct {
	URL string `json:"url"`
}

type LoginStarted struct {
	SessionID string `json:"sessionId"`
}

type Screencast struct {
	Frame  string `json:"frame"`
	Seq    int64  `json:"seq"`
	Format string `json:"format"`
}

// Element is the echoed state of the focused form field. It is display-only.
type Element struct {
	Field  string `json:"field"`
	Name   string `json:"name,omitempty"`
	Value  string `json:"value"`
	Length int    `json:"length"`
	Masked bool   `json:"masked"`
}

type InputUpdated struct {
	Element Element `json:"element"`
}

// CredentialBundle is the authentication cookie pair handed to persistence.
type CredentialBundle struct {
	LiAt string `json:"li_at"`
	LiA  string `json:"li_a,omitempty"`
}

type LoginSuccess struct {
	Cookies CredentialBundle `json:"cookies"`
}

type SessionClosed struct {
	Reason string `json:"reason"`
}

type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Event   Type   `json:"event,omitempty"`
}

// Outbound is one server → client message prior to encoding.
type Outbound struct {
	Type    Type
	Payload any
}

// MarshalJSON renders the envelope form {"type": ..., "data": ...}.
func (o Outbound) MarshalJSON() ([]byte, error) {
	wire := struct {
		Type Type `json:"type"`
		Data any  `json:"data,omitempty"`
	}{Type: o.Type, Data: o.Payload}
	return json.Marshal(wire)
}

// Encode marshals an outbound message.
func Encode(o Outbound) ([]byte, error) {
	return json.Marshal(o)
}

// ErrorEvent converts err into an outbound error message for the given inbound type.
func ErrorEvent(event Type, err error) Outbound {
	e := Error{Message: err.Error(), Event: event}
	var coded *CodedError
	if errors.As(err, &coded) {
		e.Code = coded.Code
		e.Message = coded.Message
	}
	return Outbound{Type: TypeError, Payload: e}
}
