package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/RemoteLoginCore/internal/driver"
	"github.com/dgnsrekt/RemoteLoginCore/internal/login"
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
	"github.com/dgnsrekt/RemoteLoginCore/internal/screencast"
)

// Client is the outbound side of one socket bound to a session.
type Client interface {
	// Send queues a control event. It must not block.
	Send(protocol.Outbound)
	// SendFrame offers a frame; undelivered older frames are replaced.
	SendFrame(screencast.Frame)
	// Close flushes queued control events and closes the socket.
	Close()
}

// Options tunes one session actor.
type Options struct {
	Canvas            protocol.Size
	Screencast        screencast.Options
	NavigationTimeout time.Duration
	InputTimeout      time.Duration
	DetectInterval    time.Duration
	InputQueue        int
	AutoCloseOnLogin  bool
}

func (o Options) withDefaults() Options {
	if !o.Canvas.Valid() {
		o.Canvas = protocol.Size{Width: 1280, Height: 720}
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 45 * time.Second
	}
	if o.InputTimeout <= 0 {
		o.InputTimeout = 10 * time.Second
	}
	if o.DetectInterval <= 0 {
		o.DetectInterval = 2 * time.Second
	}
	if o.InputQueue <= 0 {
		o.InputQueue = 64
	}
	return o
}

// Snapshot is a point-in-time, cookie-free view of a session.
type Snapshot struct {
	SessionID    string        `json:"session_id"`
	UserID       string        `json:"user_id"`
	State        State         `json:"state"`
	URL          string        `json:"url,omitempty"`
	HasDriver    bool          `json:"has_driver"`
	Connected    bool          `json:"connected"`
	Canvas       protocol.Size `json:"canvas"`
	Viewport     protocol.Size `json:"viewport"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	CloseReason  string        `json:"close_reason,omitempty"`
	FrameCount   int64         `json:"frame_count"`
	// CredentialsPending is set while a confirmed login waits for a client.
	CredentialsPending bool `json:"credentials_pending"`
}

// Session is an actor owning one driver, one inbound queue and one outbound
// stream. Handle is its single entry point for client events.
type Session struct {
	id       string
	userID   string
	token    string
	opts     Options
	factory  driver.Factory
	detector *login.Detector
	observer Observer
	onClosed func(*Session)

	ctx    context.Context
	cancel context.CancelFunc
	inputs chan protocol.Inbound
	done   chan struct{}

	closeOnce sync.Once

	mu           sync.Mutex // protects everything below
	state        State
	client       Client
	drv          driver.Driver
	enc          *screencast.Encoder
	navigated    bool
	canvas       protocol.Size
	url          string
	createdAt    time.Time
	lastActivity time.Time
	closeReason  string
	lastFrame    screencast.Frame
	hasFrame     bool
	graceTimer   *time.Timer
	// pending holds a confirmed bundle nobody received yet. Memory only.
	pending *protocol.CredentialBundle
}

type config struct {
	id, userID, token string
	opts              Options
	factory           driver.Factory
	detector          *login.Detector
	observer          Observer
	onClosed          func(*Session)
}

func newSession(c config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	opts := c.opts.withDefaults()
	s := &Session{
		id:           c.id,
		userID:       c.userID,
		token:        c.token,
		opts:         opts,
		factory:      c.factory,
		detector:     c.detector,
		observer:     c.observer,
		onClosed:     c.onClosed,
		ctx:          ctx,
		cancel:       cancel,
		inputs:       make(chan protocol.Inbound, opts.InputQueue),
		done:         make(chan struct{}),
		state:        Idle,
		canvas:       opts.Canvas,
		createdAt:    now,
		lastActivity: now,
	}
	go s.inputLoop()
	s.notify("", Idle, "connected")
	return s
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }
func (s *Session) Token() string  { return s.token }

// Done is closed once the session reached Closed and released its driver.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current status without touching the driver.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID:    s.id,
		UserID:       s.userID,
		State:        s.state,
		URL:          s.url,
		HasDriver:    s.drv != nil && s.state != Closed,
		Connected:    s.client != nil,
		Canvas:       s.canvas,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		CloseReason:  s.closeReason,

		CredentialsPending: s.pending != nil,
	}
	if s.drv != nil {
		snap.Viewport = s.drv.Viewport()
	}
	if s.enc != nil {
		snap.FrameCount = s.enc.Info().FrameCount
	}
	return snap
}

// LastFrame returns the most recent captured frame, if any.
func (s *Session) LastFrame() (screencast.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame, s.hasFrame
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// attach binds c as the session's client and greets it. A previously bound
// client is evicted. A login confirmed while no client was bound is handed to
// c right after the greeting.
func (s *Session) attach(c Client, resumed bool, viewport protocol.Size) bool {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return false
	}
	prev := s.client
	s.client = c
	s.lastActivity = time.Now()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.drv != nil {
		viewport = s.drv.Viewport()
	}
	hello := protocol.Connected{
		SessionID: s.id,
		Token:     s.token,
		Resumed:   resumed,
		State:     string(s.state),
		Canvas:    s.canvas,
		Viewport:  viewport,
	}
	held := s.pending
	s.pending = nil
	s.mu.Unlock()

	if prev != nil && prev != c {
		prev.Send(protocol.ErrorEvent("", protocol.NewError(protocol.CodeSessionConflict, "session resumed by another connection", nil)))
		prev.Close()
	}
	c.Send(protocol.Outbound{Type: protocol.TypeConnected, Payload: hello})
	if held != nil {
		slog.Info("held credentials delivered", "user_id", s.userID, "session_id", s.id)
		s.deliverLogin(c, *held)
	}
	return true
}

// detach unbinds c if it is still the current client. It returns true when
// the session is now without a client and still alive.
func (s *Session) detach(c Client, grace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != c || s.state == Closed {
		return false
	}
	s.client = nil
	if grace <= 0 {
		return true
	}
	s.graceTimer = time.AfterFunc(grace, func() {
		s.mu.Lock()
		orphaned := s.client == nil
		s.mu.Unlock()
		if orphaned {
			s.Close(ReasonDisconnected)
		}
	})
	return true
}

// Handle routes one client event. Every event that does not fit the current
// state is answered with an error and otherwise ignored.
func (s *Session) Handle(from Client, in protocol.Inbound) {
	s.mu.Lock()
	if from != nil && s.client != from && s.state != Closed {
		s.mu.Unlock()
		from.Send(protocol.ErrorEvent(in.Type, protocol.NewError(protocol.CodeSessionConflict, "connection no longer owns this session", nil)))
		return
	}
	st, navigated := s.state, s.navigated
	if err := accepts(st, navigated, in.Type); err != nil {
		s.mu.Unlock()
		s.reply(from, protocol.ErrorEvent(in.Type, err))
		return
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	switch in.Type {
	case protocol.TypeGetSessionStatus:
		s.reply(from, protocol.Outbound{Type: protocol.TypeSessionStatus, Payload: s.status()})
	case protocol.TypeStartLogin:
		s.startLogin(from, in.StartLogin)
	case protocol.TypeCloseSession:
		s.Close(ReasonClientRequest)
	default:
		s.enqueue(from, in)
	}
}

func (s *Session) reply(to Client, o protocol.Outbound) {
	if to != nil {
		to.Send(o)
		return
	}
	s.emit(o)
}

// emit sends to whichever client is currently attached, if any.
func (s *Session) emit(o protocol.Outbound) {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c != nil {
		c.Send(o)
	}
}

func (s *Session) status() protocol.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.SessionStatus{
		HasSession: s.drv != nil && s.state != Closed,
		IsLoggedIn: s.state == LoggedIn,
		URL:        s.url,
		SessionID:  s.id,
		State:      string(s.state),
	}
}

// transitionLocked moves the state forward. Callers hold s.mu.
func (s *Session) transitionLocked(to State) (State, bool) {
	from := s.state
	if !CanTransition(from, to) {
		return from, false
	}
	s.state = to
	return from, true
}

func (s *Session) notify(from, to State, reason string) {
	slog.Info("session transition", "user_id", s.userID, "session_id", s.id, "from", from, "to", to, "reason", reason)
	if s.observer != nil {
		s.observer(Transition{UserID: s.userID, SessionID: s.id, From: from, To: to, Reason: reason, At: time.Now()})
	}
}

func (s *Session) startLogin(from Client, req *protocol.StartLogin) {
	s.mu.Lock()
	if req != nil && req.CanvasWidth > 0 && req.CanvasHeight > 0 {
		s.canvas = protocol.Size{Width: req.CanvasWidth, Height: req.CanvasHeight}
	}
	prev, ok := s.transitionLocked(AwaitingLogin)
	s.mu.Unlock()
	if !ok {
		s.reply(from, protocol.ErrorEvent(protocol.TypeStartLogin, protocol.NewError(protocol.CodeInvalidState, "login already started", nil)))
		return
	}
	s.notify(prev, AwaitingLogin, "start_login")
	s.reply(from, protocol.Outbound{Type: protocol.TypeLoginStarted, Payload: protocol.LoginStarted{SessionID: s.id}})

	// Allocation and navigation run off the gateway goroutine; closeSession
	// cancels s.ctx and preempts both.
	go s.launch()
}

func (s *Session) launch() {
	drv, err := s.factory.NewDriver(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		if protocol.CodeOf(err) == "" {
			err = protocol.NewError(protocol.CodeDriverUnavailable, "could not allocate browser", err)
		}
		s.fail(protocol.TypeStartLogin, err)
		return
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		// Close already ran and never saw this driver.
		if err := drv.Release(); err != nil {
			slog.Warn("driver release failed", "session_id", s.id, "error", err)
		}
		return
	}
	s.drv = drv
	s.mu.Unlock()

	loginURL := s.detector.LoginURL()
	navCtx, cancel := context.WithTimeout(s.ctx, s.opts.NavigationTimeout)
	err = drv.Navigate(navCtx, loginURL)
	cancel()
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		if protocol.CodeOf(err) == "" {
			err = protocol.NewError(protocol.CodeNavigationFailed, "navigation to login page failed", err)
		}
		s.fail(protocol.TypeStartLogin, err)
		return
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.navigated = true
	if s.url == "" {
		s.url = loginURL
	}
	s.enc = screencast.Start(s.ctx, s.id, drv, s.opts.Screencast, s.deliverFrame, func(err error) {
		s.fail("", err)
	})
	s.mu.Unlock()

	slog.Info("login page ready", "user_id", s.userID, "session_id", s.id)
	s.emit(protocol.Outbound{Type: protocol.TypeReadyForLogin, Payload: protocol.ReadyForLogin{URL: loginURL}})
	go s.watch(drv)
}

func (s *Session) deliverFrame(f screencast.Frame) {
	s.mu.Lock()
	s.lastFrame, s.hasFrame = f, true
	c := s.client
	s.mu.Unlock()
	if c != nil {
		c.SendFrame(f)
	}
}

// watch runs the login detector after each navigation and on a slow poll,
// and turns a dead browser target into session closure.
func (s *Session) watch(drv driver.Driver) {
	ticker := time.NewTicker(s.opts.DetectInterval)
	defer ticker.Stop()
	s.detect(drv)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-drv.Crashed():
			s.fail("", protocol.NewError(protocol.CodeDriverCrashed, "browser target crashed", nil))
			return
		case u := <-drv.Navigations():
			s.mu.Lock()
			s.url = u
			s.mu.Unlock()
			s.detect(drv)
		case <-ticker.C:
			s.detect(drv)
		}
	}
}

func (s *Session) detect(drv driver.Driver) {
	if st := s.State(); st != AwaitingLogin && st != LoginInProgress {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.InputTimeout)
	bundle, dec, err := s.detector.Check(ctx, drv)
	cancel()
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		if protocol.Fatal(protocol.CodeOf(err)) {
			s.fail("", err)
			return
		}
		slog.Debug("login check failed", "session_id", s.id, "error", err)
		return
	}
	if !dec.Confirmed {
		return
	}
	s.confirmLogin(bundle)
}

// confirmLogin is one-shot: only the first confirmation transitions and
// emits. A login detected before any input still passes through
// LoginInProgress. With no client bound the bundle is held for the next
// attach and auto-close waits for that delivery or the grace window.
func (s *Session) confirmLogin(bundle protocol.CredentialBundle) {
	type step struct {
		from, to State
		reason   string
	}
	var steps []step

	s.mu.Lock()
	if s.state == AwaitingLogin {
		if from, ok := s.transitionLocked(LoginInProgress); ok {
			steps = append(steps, step{from, LoginInProgress, "detector"})
		}
	}
	from, ok := s.transitionLocked(LoggedIn)
	if !ok {
		s.mu.Unlock()
		for _, st := range steps {
			s.notify(st.from, st.to, st.reason)
		}
		return
	}
	steps = append(steps, step{from, LoggedIn, "auth_cookie_present"})
	c := s.client
	if c == nil {
		s.pending = &bundle
	}
	s.mu.Unlock()

	for _, st := range steps {
		s.notify(st.from, st.to, st.reason)
	}
	if c == nil {
		slog.Info("login confirmed with no client attached, holding credentials", "user_id", s.userID, "session_id", s.id)
		return
	}
	s.deliverLogin(c, bundle)
}

func (s *Session) deliverLogin(c Client, bundle protocol.CredentialBundle) {
	c.Send(protocol.Outbound{Type: protocol.TypeLoginSuccess, Payload: protocol.LoginSuccess{Cookies: bundle}})
	if s.opts.AutoCloseOnLogin {
		s.Close(ReasonLoggedIn)
	}
}

func (s *Session) enqueue(from Client, in protocol.Inbound) {
	if in.Type == protocol.TypeMouse {
		if err := s.checkClick(in.Mouse); err != nil {
			s.reply(from, protocol.ErrorEvent(in.Type, err))
			return
		}
	}

	s.mu.Lock()
	prev, advanced := State(""), false
	if s.state == AwaitingLogin {
		prev, advanced = s.transitionLocked(LoginInProgress)
	}
	s.mu.Unlock()
	if advanced {
		s.notify(prev, LoginInProgress, "first_input")
	}

	select {
	case s.inputs <- in:
	default:
		s.reply(from, protocol.ErrorEvent(in.Type, protocol.NewError(protocol.CodeQueueFull, "too many pending inputs", nil)))
	}
}

func (s *Session) canvasFor(m *protocol.Mouse) protocol.Size {
	if m.CanvasWidth > 0 && m.CanvasHeight > 0 {
		return protocol.Size{Width: m.CanvasWidth, Height: m.CanvasHeight}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canvas
}

func (s *Session) viewport() protocol.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drv == nil {
		return protocol.Size{}
	}
	return s.drv.Viewport()
}

func (s *Session) checkClick(m *protocol.Mouse) error {
	vp := s.viewport()
	x, y := protocol.Rescale(s.canvasFor(m), vp, m.X, m.Y)
	if vp.Valid() && !vp.Contains(x, y) {
		return protocol.NewError(protocol.CodeValidation, "click outside the canvas", nil)
	}
	return nil
}

// inputLoop applies queued inputs in arrival order until the session closes.
func (s *Session) inputLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case in := <-s.inputs:
			s.apply(in)
		}
	}
}

func (s *Session) apply(in protocol.Inbound) {
	s.mu.Lock()
	drv := s.drv
	s.mu.Unlock()
	if drv == nil || s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.InputTimeout)
	defer cancel()

	var err error
	switch in.Type {
	case protocol.TypeMouse:
		x, y := protocol.Rescale(s.canvasFor(in.Mouse), drv.Viewport(), in.Mouse.X, in.Mouse.Y)
		err = drv.Click(ctx, x, y)
	case protocol.TypeScroll:
		vp := drv.Viewport()
		err = drv.Scroll(ctx, float64(vp.Width)/2, float64(vp.Height)/2, in.Scroll.DeltaY)
	case protocol.TypeKeyboard:
		if in.Keyboard.Type == protocol.KeyPress {
			err = drv.PressKey(ctx, in.Keyboard.Key)
		} else {
			err = drv.InsertText(ctx, in.Keyboard.Key)
		}
	}
	if err != nil {
		s.inputFailed(in.Type, err)
		return
	}
	if in.Type == protocol.TypeKeyboard {
		s.echo(ctx, drv)
	}
}

func (s *Session) inputFailed(t protocol.Type, err error) {
	if s.ctx.Err() != nil {
		return
	}
	if protocol.Fatal(protocol.CodeOf(err)) {
		s.fail(t, err)
		return
	}
	// Local to this one event: report it, keep the session.
	slog.Warn("input dispatch failed", "session_id", s.id, "event", t, "error", err)
	if protocol.CodeOf(err) == "" {
		err = protocol.NewError(protocol.CodeInputFailed, "input could not be applied", err)
	}
	s.emit(protocol.ErrorEvent(t, err))
}

func (s *Session) echo(ctx context.Context, drv driver.Driver) {
	field, err := drv.FocusedField(ctx)
	if err != nil {
		slog.Debug("focused field unavailable", "session_id", s.id, "error", err)
		return
	}
	if field.Tag == "" {
		return
	}
	s.emit(protocol.Outbound{Type: protocol.TypeInputUpdated, Payload: protocol.InputUpdated{Element: echoElement(field)}})
}

// fail reports an unrecoverable error to the client and closes the session.
func (s *Session) fail(event protocol.Type, err error) {
	if s.ctx.Err() != nil {
		return
	}
	slog.Error("session failed", "user_id", s.userID, "session_id", s.id, "code", protocol.CodeOf(err), "error", err)
	s.emit(protocol.ErrorEvent(event, err))
	s.Close(ReasonDriverError)
}

// Close moves the session to Closed. It cancels pending work, stops the
// screencast, releases the driver synchronously and only then reports
// closure. Later calls are no-ops.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		from := s.state
		s.state = Closed
		s.closeReason = reason
		drv, enc, c := s.drv, s.enc, s.client
		s.client = nil
		s.pending = nil
		if s.graceTimer != nil {
			s.graceTimer.Stop()
			s.graceTimer = nil
		}
		s.mu.Unlock()

		s.cancel()
		if enc != nil {
			info := enc.Stop()
			slog.Debug("screencast stopped", "session_id", s.id, "frames", info.FrameCount)
		}
		if drv != nil {
			if err := drv.Release(); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("driver release failed", "session_id", s.id, "error", err)
			}
		}
		if c != nil {
			c.Send(protocol.Outbound{Type: protocol.TypeSessionClosed, Payload: protocol.SessionClosed{Reason: reason}})
			c.Close()
		}
		s.notify(from, Closed, reason)
		close(s.done)
		if s.onClosed != nil {
			s.onClosed(s)
		}
	})
}
