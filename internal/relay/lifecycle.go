package relay

import (
	"log/slog"

	"github.com/dgnsrekt/RemoteLoginCore/internal/session"
)

// FeedTransitions is the feed name for session lifecycle events.
const FeedTransitions = "session.transition"

// Transitions returns an observer that republishes session transitions.
// Transitions carry ids and states only, never credentials.
func Transitions(b *Broker) session.Observer {
	return func(t session.Transition) {
		if err := b.PublishJSON(FeedTransitions, t.UserID, t); err != nil {
			slog.Warn("relay publish failed", "session_id", t.SessionID, "error", err)
		}
	}
}
