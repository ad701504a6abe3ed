package session

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/RemoteLoginCore/internal/driver"
	"github.com/dgnsrekt/RemoteLoginCore/internal/login"
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

// ConflictPolicy decides what a second connection for a user does when the
// first one's session is still registered and no valid resume token is given.
type ConflictPolicy string

const (
	// PolicyReplace closes the existing session, then creates a fresh one.
	PolicyReplace ConflictPolicy = "replace"
	// PolicyReject refuses the new connection.
	PolicyReject ConflictPolicy = "reject"
)

// ParsePolicy maps a config string to a policy. Unknown values fall back to replace.
func ParsePolicy(v string) ConflictPolicy {
	if ConflictPolicy(v) == PolicyReject {
		return PolicyReject
	}
	return PolicyReplace
}

// RegistryOptions configures session ownership and reclamation.
type RegistryOptions struct {
	Session      Options
	Policy       ConflictPolicy
	IdleTimeout  time.Duration
	GraceWindow  time.Duration
	ReapInterval time.Duration
	// Viewport is advertised in the connected event before a driver exists.
	Viewport protocol.Size
}

// Registry maps a user to at most one live session.
type Registry struct {
	factory  driver.Factory
	detector *login.Detector
	opts     RegistryOptions

	// lifecycle serializes create, replace and destroy decisions.
	lifecycle sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*Session

	observersMu sync.RWMutex
	observers   []Observer
}

func NewRegistry(factory driver.Factory, detector *login.Detector, opts RegistryOptions) *Registry {
	if opts.Policy == "" {
		opts.Policy = PolicyReplace
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 15 * time.Minute
	}
	if opts.GraceWindow < 0 {
		opts.GraceWindow = 0
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = 30 * time.Second
	}
	if !opts.Viewport.Valid() {
		opts.Viewport = protocol.Size{Width: 1920, Height: 1080}
	}
	return &Registry{
		factory:  factory,
		detector: detector,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Observe registers fn for every session transition.
func (r *Registry) Observe(fn Observer) {
	r.observersMu.Lock()
	r.observers = append(r.observers, fn)
	r.observersMu.Unlock()
}

func (r *Registry) publish(t Transition) {
	r.observersMu.RLock()
	defer r.observersMu.RUnlock()
	for _, fn := range r.observers {
		fn(t)
	}
}

// Attach binds client c to userID's session. A matching resume token rebinds
// the live session; otherwise the conflict policy decides. The returned bool
// is true when an existing session was resumed.
func (r *Registry) Attach(userID, token string, c Client) (*Session, bool, error) {
	if userID == "" {
		return nil, false, protocol.NewError(protocol.CodeValidation, "user_id is required", nil)
	}
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if existing := r.Get(userID); existing != nil {
		if token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(existing.Token())) == 1 {
			if existing.attach(c, true, r.opts.Viewport) {
				slog.Info("session resumed", "user_id", userID, "session_id", existing.ID())
				return existing, true, nil
			}
		} else if r.opts.Policy == PolicyReject && existing.State() != Closed {
			return nil, false, protocol.NewError(protocol.CodeSessionConflict, "user already has an active session", nil)
		}
		// Released before the record goes away and before a replacement exists.
		existing.Close(ReasonReplaced)
	}

	s := newSession(config{
		id:       uuid.NewString(),
		userID:   userID,
		token:    uuid.NewString(),
		opts:     r.opts.Session,
		factory:  r.factory,
		detector: r.detector,
		observer: r.publish,
		onClosed: r.remove,
	})
	r.mu.Lock()
	r.sessions[userID] = s
	r.mu.Unlock()
	s.attach(c, false, r.opts.Viewport)
	return s, false, nil
}

// Detach is called when c's socket goes away. The session survives for the
// grace window so the client can resume with its token.
func (r *Registry) Detach(s *Session, c Client) {
	if s == nil || !s.detach(c, r.opts.GraceWindow) {
		return
	}
	if r.opts.GraceWindow <= 0 {
		s.Close(ReasonDisconnected)
		return
	}
	slog.Info("session detached", "user_id", s.UserID(), "session_id", s.ID(), "grace", r.opts.GraceWindow)
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.UserID()]; ok && cur == s {
		delete(r.sessions, s.UserID())
	}
}

// Get returns userID's live session or nil.
func (r *Registry) Get(userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

// List returns snapshots of all registered sessions ordered by user.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(all))
	for _, s := range all {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseUser closes userID's session.
func (r *Registry) CloseUser(userID, reason string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	s := r.Get(userID)
	if s == nil {
		return protocol.NewError(protocol.CodeSessionNotFound, "no session for user", nil)
	}
	s.Close(reason)
	return nil
}

// Reap closes sessions idle for longer than the idle timeout.
func (r *Registry) Reap(now time.Time) int {
	r.mu.RLock()
	var stale []*Session
	for _, s := range r.sessions {
		if now.Sub(s.idleSince()) > r.opts.IdleTimeout {
			stale = append(stale, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		slog.Info("reaping idle session", "user_id", s.UserID(), "session_id", s.ID())
		s.Close(ReasonIdleTimeout)
	}
	return len(stale)
}

// Run reaps idle sessions until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Reap(now)
		}
	}
}

// Shutdown closes every session; each driver is released before it returns.
func (r *Registry) Shutdown(reason string) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()
	for _, s := range all {
		s.Close(reason)
	}
}
