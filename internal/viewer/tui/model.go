// Package tui is the terminal front end of the viewer: a Bubble Tea program
// that drives a remote login from typed commands and shows the masked field
// overlay.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dgnsrekt/RemoteLoginCore/internal/credentials"
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
	"github.com/dgnsrekt/RemoteLoginCore/internal/screencast"
	"github.com/dgnsrekt/RemoteLoginCore/internal/viewer"
)

// Conn is the subset of viewer.Client the model drives.
type Conn interface {
	Events() <-chan viewer.Message
	Frames() <-chan screencast.Frame
	Done() <-chan struct{}
	StartLogin(canvas protocol.Size) error
	Click(canvas protocol.Size, x, y float64) error
	Type(text string) error
	Press(key string) error
	Scroll(deltaY float64) error
	Status() error
	CloseSession() error
}

// Handoff delivers the credential bundle once login is confirmed.
type Handoff func(ctx context.Context, bundle protocol.CredentialBundle) (credentials.Result, error)

type Config struct {
	Conn      Conn
	UserID    string
	FramePath string
	Handoff   Handoff
	AutoStart bool
}

type eventMsg viewer.Message

type frameMsg screencast.Frame

type frameSavedMsg struct{ err error }

type handoffMsg struct {
	res credentials.Result
	err error
}

type disconnectedMsg struct{}

const maxLogLines = 10

var (
	colorOK     = lipgloss.Color("#22c55e")
	colorWarn   = lipgloss.Color("#d97706")
	colorDanger = lipgloss.Color("#dc2626")
	colorDimmed = lipgloss.Color("#6b7280")
	colorBorder = lipgloss.Color("#4b5563")

	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDimmed)
	overlayStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder).Padding(0, 1)
)

type keyMap struct {
	Submit key.Binding
	Quit   key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "run command")),
		Quit:   key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

// Model is the root Bubble Tea model.
type Model struct {
	cfg   Config
	keys  keyMap
	input textinput.Model

	sessionID string
	state     string
	canvas    protocol.Size
	viewport  protocol.Size
	started   bool
	loggedIn  bool
	closed    bool

	overlay   viewer.Overlay
	frames    int64
	lastSeq   int64
	saveErr   error
	lines     []string
	width     int
	handedOff bool
}

func New(cfg Config) Model {
	in := textinput.New()
	in.Placeholder = "start | click x y | type text | key Enter | scroll dy | status | close | quit"
	in.Prompt = "› "
	in.CharLimit = 512
	in.Focus()
	return Model{
		cfg:    cfg,
		keys:   defaultKeys(),
		input:  in,
		state:  "connecting",
		canvas: protocol.Size{Width: 1280, Height: 720},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitEvent(m.cfg.Conn), waitFrame(m.cfg.Conn))
}

func waitEvent(c Conn) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-c.Events()
		if !ok {
			return disconnectedMsg{}
		}
		return eventMsg(msg)
	}
}

func waitFrame(c Conn) tea.Cmd {
	return func() tea.Msg {
		select {
		case f := <-c.Frames():
			return frameMsg(f)
		case <-c.Done():
			return nil
		}
	}
}

func saveFrame(path string, f screencast.Frame) tea.Cmd {
	return func() tea.Msg {
		return frameSavedMsg{err: viewer.WriteFrame(path, f)}
	}
}

func (m Model) handoff(bundle protocol.CredentialBundle) tea.Cmd {
	h := m.cfg.Handoff
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		res, err := h(ctx, bundle)
		return handoffMsg{res: res, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Submit):
			line := m.input.Value()
			m.input.Reset()
			m.input.EchoMode = textinput.EchoNormal
			return m.run(line)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		// Text queued for the page is never echoed locally.
		if strings.HasPrefix(strings.TrimLeft(m.input.Value(), " "), "type ") {
			m.input.EchoMode = textinput.EchoPassword
		} else {
			m.input.EchoMode = textinput.EchoNormal
		}
		return m, cmd

	case eventMsg:
		next, cmd := m.onEvent(viewer.Message(msg))
		return next, tea.Batch(cmd, waitEvent(m.cfg.Conn))

	case frameMsg:
		m.frames++
		m.lastSeq = msg.Seq
		cmds := []tea.Cmd{waitFrame(m.cfg.Conn)}
		if m.cfg.FramePath != "" {
			cmds = append(cmds, saveFrame(m.cfg.FramePath, screencast.Frame(msg)))
		}
		return m, tea.Batch(cmds...)

	case frameSavedMsg:
		if msg.err != nil && m.saveErr == nil {
			m.logf("frame write failed: %v", msg.err)
		}
		m.saveErr = msg.err
		return m, nil

	case handoffMsg:
		if msg.err != nil {
			m.logf("credential handoff failed: %v", msg.err)
		} else {
			m.handedOff = true
			m.logf("credentials %s for %s", msg.res.Status, msg.res.UserID)
		}
		return m, nil

	case disconnectedMsg:
		m.closed = true
		m.state = "disconnected"
		m.logf("socket closed")
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) onEvent(msg viewer.Message) (Model, tea.Cmd) {
	m.overlay = m.overlay.Project(msg)
	switch msg.Type {
	case protocol.TypeConnected:
		var ev protocol.Connected
		if err := msg.Decode(&ev); err != nil {
			return m, nil
		}
		m.sessionID, m.state = ev.SessionID, ev.State
		if ev.Canvas.Valid() {
			m.canvas = ev.Canvas
		}
		m.viewport = ev.Viewport
		m.logf("connected session=%s resumed=%v", ev.SessionID, ev.Resumed)
		if m.cfg.AutoStart && ev.State == "idle" && !m.started {
			return m.execute(Command{Kind: KindStart})
		}
	case protocol.TypeLoginStarted:
		m.state = "awaiting_login"
		m.logf("login started")
	case protocol.TypeReadyForLogin:
		var ev protocol.ReadyForLogin
		_ = msg.Decode(&ev)
		m.logf("login page ready: %s", ev.URL)
	case protocol.TypeLoginSuccess:
		var ev protocol.LoginSuccess
		if err := msg.Decode(&ev); err != nil {
			return m, nil
		}
		m.loggedIn, m.state = true, "logged_in"
		m.logf("login confirmed")
		if m.cfg.Handoff != nil && !m.handedOff {
			return m, m.handoff(ev.Cookies)
		}
	case protocol.TypeSessionStatus:
		var ev protocol.SessionStatus
		if err := msg.Decode(&ev); err == nil {
			m.state = ev.State
			m.loggedIn = ev.IsLoggedIn
			m.logf("status: state=%s logged_in=%v url=%s", ev.State, ev.IsLoggedIn, ev.URL)
		}
	case protocol.TypeSessionClosed:
		var ev protocol.SessionClosed
		_ = msg.Decode(&ev)
		m.state = "closed"
		m.logf("session closed: %s", ev.Reason)
	case protocol.TypeError:
		var ev protocol.Error
		_ = msg.Decode(&ev)
		m.logf("error %s: %s", ev.Code, ev.Message)
	}
	return m, nil
}

func (m Model) run(line string) (tea.Model, tea.Cmd) {
	cmd, err := ParseCommand(line)
	if err == errEmpty {
		return m, nil
	}
	if err != nil {
		m.logf("%v", err)
		return m, nil
	}
	if cmd.Kind == KindQuit {
		return m, tea.Quit
	}
	return m.execute(cmd)
}

func (m Model) execute(cmd Command) (Model, tea.Cmd) {
	c := m.cfg.Conn
	var err error
	switch cmd.Kind {
	case KindStart:
		m.started = true
		err = c.StartLogin(m.canvas)
	case KindClick:
		canvas := viewer.Canvas{Size: m.canvas, Viewport: m.viewport}
		if !canvas.Contains(cmd.X, cmd.Y) {
			m.logf("(%g,%g) is outside the %dx%d canvas", cmd.X, cmd.Y, m.canvas.Width, m.canvas.Height)
			return m, nil
		}
		err = c.Click(m.canvas, cmd.X, cmd.Y)
	case KindType:
		err = c.Type(cmd.Text)
		if err == nil {
			m.logf("typed %d characters", len([]rune(cmd.Text)))
		}
	case KindKey:
		err = c.Press(cmd.Key)
	case KindScroll:
		err = c.Scroll(cmd.DeltaY)
	case KindStatus:
		err = c.Status()
	case KindClose:
		err = c.CloseSession()
	}
	if err != nil {
		m.logf("send %s failed: %v", cmd.Kind, err)
	}
	return m, nil
}

func (m *Model) logf(format string, args ...any) {
	m.lines = append(m.lines, fmt.Sprintf(format, args...))
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
}

func (m Model) stateColor() lipgloss.Color {
	switch m.state {
	case "logged_in":
		return colorOK
	case "closed", "disconnected":
		return colorDanger
	default:
		return colorWarn
	}
}

func (m Model) View() string {
	var b strings.Builder

	state := lipgloss.NewStyle().Foreground(m.stateColor()).Render(m.state)
	b.WriteString(headerStyle.Render("remote login · " + m.cfg.UserID))
	b.WriteString(" " + state)
	b.WriteString(dimStyle.Render(fmt.Sprintf("  canvas %dx%d  frames %d (seq %d)", m.canvas.Width, m.canvas.Height, m.frames, m.lastSeq)))
	b.WriteString("\n")
	if m.cfg.FramePath != "" {
		b.WriteString(dimStyle.Render("latest frame: "+m.cfg.FramePath) + "\n")
	}

	if fields := m.overlay.Render(); fields != "" {
		b.WriteString(overlayStyle.Render(strings.TrimRight(fields, "\n")))
		b.WriteString("\n")
	}
	for _, l := range m.lines {
		b.WriteString(l + "\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	return b.String()
}
