package session

import (
	"time"

	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

// State is a position in the session lifecycle.
type State string

const (
	Idle            State = "idle"
	AwaitingLogin   State = "awaiting_login"
	LoginInProgress State = "login_in_progress"
	LoggedIn        State = "logged_in"
	Closed          State = "closed"
)

// Close reasons reported in sessionClosed and transitions.
const (
	ReasonClientRequest = "client_request"
	ReasonDisconnected  = "disconnected"
	ReasonIdleTimeout   = "idle_timeout"
	ReasonReplaced      = "replaced"
	ReasonLoggedIn      = "logged_in"
	ReasonDriverError   = "driver_error"
	ReasonAdmin         = "admin"
	ReasonShutdown      = "shutdown"
)

// forward lists the legal non-closing transitions. Closed is reachable from
// every non-terminal state and is handled separately.
var forward = map[State][]State{
	Idle:            {AwaitingLogin},
	AwaitingLogin:   {LoginInProgress},
	LoginInProgress: {LoggedIn},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	if from == Closed {
		return false
	}
	if to == Closed {
		return true
	}
	for _, s := range forward[from] {
		if s == to {
			return true
		}
	}
	return false
}

// accepts reports whether an inbound event is valid in state st.
// navigated is true once the login page finished loading.
func accepts(st State, navigated bool, t protocol.Type) error {
	if st == Closed {
		return protocol.NewError(protocol.CodeNoSession, "session is closed", nil)
	}
	switch t {
	case protocol.TypeGetSessionStatus, protocol.TypeCloseSession:
		return nil
	case protocol.TypeStartLogin:
		if st != Idle {
			return protocol.NewError(protocol.CodeInvalidState, "login already started (state "+string(st)+")", nil)
		}
		return nil
	case protocol.TypeMouse, protocol.TypeKeyboard, protocol.TypeScroll:
		switch st {
		case Idle:
			return protocol.NewError(protocol.CodeNoSession, "no browser session; send startLogin first", nil)
		case AwaitingLogin:
			if !navigated {
				return protocol.NewError(protocol.CodeInvalidState, "login page is still loading", nil)
			}
			return nil
		case LoginInProgress:
			return nil
		default:
			return protocol.NewError(protocol.CodeInvalidState, "input not accepted in state "+string(st), nil)
		}
	}
	return protocol.NewError(protocol.CodeUnknownEvent, "unknown event type", nil)
}

// Transition is one lifecycle step, published to observers.
type Transition struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	From      State     `json:"from,omitempty"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Observer receives transitions synchronously; it must not block.
type Observer func(Transition)
