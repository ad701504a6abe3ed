package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

const (
	ModeExec   = "exec"
	ModeRemote = "remote"

	startTimeout   = 30 * time.Second
	connectTimeout = 15 * time.Second
)

// Options configures how session browsers are allocated.
type Options struct {
	// Mode is ModeExec (one Chromium process per session) or ModeRemote
	// (one isolated browser context per session on a shared Chromium).
	Mode          string
	ExecPath      string
	Headless      bool
	RemoteURL     string
	ProfileRoot   string
	Viewport      protocol.Size
	UserAgent     string
	CookieURLs    []string
	ActionTimeout time.Duration
}

// Allocator is the chromedp-backed Factory.
type Allocator struct {
	opts Options

	mu           sync.Mutex
	rootCtx      context.Context
	rootCancel   context.CancelFunc
	remoteCancel context.CancelFunc
}

// NewAllocator validates opts and returns a Factory. Remote mode connects lazily
// on the first NewDriver call.
func NewAllocator(opts Options) (*Allocator, error) {
	if opts.Mode == "" {
		opts.Mode = ModeExec
	}
	if opts.Mode != ModeExec && opts.Mode != ModeRemote {
		return nil, fmt.Errorf("driver: unknown mode %q", opts.Mode)
	}
	if opts.Mode == ModeRemote && opts.RemoteURL == "" {
		return nil, errors.New("driver: remote mode requires a CDP URL")
	}
	if !opts.Viewport.Valid() {
		opts.Viewport = protocol.Size{Width: 1920, Height: 1080}
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}
	return &Allocator{opts: opts}, nil
}

// NewDriver allocates a browser target exclusively owned by the caller.
func (a *Allocator) NewDriver(ctx context.Context) (Driver, error) {
	var (
		tabCtx    context.Context
		tabCancel context.CancelFunc
		cleanup   func()
	)

	switch a.opts.Mode {
	case ModeRemote:
		root, err := a.remoteRoot(ctx)
		if err != nil {
			return nil, err
		}
		tabCtx, tabCancel = chromedp.NewContext(root, chromedp.WithNewBrowserContext())
		cleanup = func() {}
	default:
		profileDir, err := os.MkdirTemp(a.opts.ProfileRoot, "session-*")
		if err != nil {
			return nil, protocol.NewError(protocol.CodeDriverUnavailable, "create browser profile", err)
		}
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", a.opts.Headless),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("disable-breakpad", true),
			chromedp.Flag("mute-audio", true),
			chromedp.WindowSize(a.opts.Viewport.Width, a.opts.Viewport.Height),
			chromedp.UserDataDir(profileDir),
		)
		if os.Geteuid() == 0 {
			// Chromium refuses to start its sandbox as root (containers).
			allocOpts = append(allocOpts, chromedp.NoSandbox)
		}
		if a.opts.ExecPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(a.opts.ExecPath))
		}
		if a.opts.UserAgent != "" {
			allocOpts = append(allocOpts, chromedp.UserAgent(a.opts.UserAgent))
		}
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
		tabCtx, tabCancel = chromedp.NewContext(allocCtx)
		cleanup = func() {
			allocCancel()
			if err := os.RemoveAll(profileDir); err != nil {
				slog.Debug("driver profile cleanup failed", "dir", profileDir, "error", err)
			}
		}
	}

	d := &chromeDriver{
		opts:        a.opts,
		ctx:         tabCtx,
		cancel:      tabCancel,
		cleanup:     cleanup,
		navigations: make(chan string, 8),
		crashed:     make(chan struct{}),
	}
	chromedp.ListenTarget(tabCtx, d.onEvent)

	actions := []chromedp.Action{
		network.Enable(),
		inspector.Enable(),
		chromedp.EmulateViewport(int64(a.opts.Viewport.Width), int64(a.opts.Viewport.Height)),
	}
	if a.opts.UserAgent != "" && a.opts.Mode == ModeRemote {
		actions = append(actions, emulation.SetUserAgentOverride(a.opts.UserAgent))
	}
	if err := startRun(ctx, tabCtx, tabCancel, startTimeout, actions...); err != nil {
		_ = d.Release()
		return nil, protocol.NewError(protocol.CodeDriverUnavailable, "start browser", err)
	}
	slog.Info("driver allocated", "mode", a.opts.Mode, "viewport_w", a.opts.Viewport.Width, "viewport_h", a.opts.Viewport.Height)
	return d, nil
}

func (a *Allocator) remoteRoot(ctx context.Context) (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rootCtx != nil && a.rootCtx.Err() == nil {
		return a.rootCtx, nil
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), a.opts.RemoteURL)
	rootCtx, rootCancel := chromedp.NewContext(allocCtx)

	if err := startRun(ctx, rootCtx, rootCancel, connectTimeout); err != nil {
		rootCancel()
		allocCancel()
		return nil, protocol.NewError(protocol.CodeDriverUnavailable, "connect to shared browser", err)
	}
	a.rootCtx, a.rootCancel, a.remoteCancel = rootCtx, rootCancel, allocCancel
	slog.Info("driver connected to shared browser", "cdp_url", a.opts.RemoteURL)
	return rootCtx, nil
}

// startRun performs the first Run on a fresh chromedp context. That Run
// starts the browser, its target and their event loops on runCtx itself, so
// runCtx must outlive the call: a derived timeout would tear the browser down
// on return. The deadline and the caller's cancellation cancel runCtx only
// while the start is in flight.
func startRun(caller, runCtx context.Context, cancel context.CancelFunc, timeout time.Duration, actions ...chromedp.Action) error {
	timer := time.AfterFunc(timeout, cancel)
	stop := context.AfterFunc(caller, cancel)
	err := chromedp.Run(runCtx, actions...)
	timedOut := !timer.Stop()
	callerDone := !stop()
	switch {
	case err != nil:
		return err
	case timedOut || callerDone || runCtx.Err() != nil:
		return fmt.Errorf("browser start aborted: %w", context.Cause(runCtx))
	}
	return nil
}

// Close drops the shared remote connection. Per-session drivers must be
// released by their owners first.
func (a *Allocator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rootCancel != nil {
		a.rootCancel()
		a.remoteCancel()
		a.rootCtx, a.rootCancel, a.remoteCancel = nil, nil, nil
	}
}

type chromeDriver struct {
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup func()

	navigations chan string
	crashed     chan struct{}
	crashOnce   sync.Once
	releaseOnce sync.Once
	releaseErr  error
}

// onEvent runs on chromedp's event goroutine and must not block.
func (d *chromeDriver) onEvent(ev any) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			d.notifyNavigation(e.Frame.URL)
		}
	case *page.EventNavigatedWithinDocument:
		d.notifyNavigation(e.URL)
	case *inspector.EventTargetCrashed:
		slog.Warn("driver target crashed")
		d.markCrashed()
	case *inspector.EventDetached:
		slog.Warn("driver target detached", "reason", e.Reason)
		d.markCrashed()
	}
}

func (d *chromeDriver) notifyNavigation(url string) {
	select {
	case d.navigations <- url:
	default:
	}
}

func (d *chromeDriver) markCrashed() {
	d.crashOnce.Do(func() { close(d.crashed) })
}

// action derives a bounded chromedp context that also honours the caller's ctx.
func (d *chromeDriver) action(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	actx, cancel := context.WithTimeout(d.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return actx, func() {
		stop()
		cancel()
	}
}

func (d *chromeDriver) run(ctx context.Context, code, msg string, actions ...chromedp.Action) error {
	actx, cancel := d.action(ctx, d.opts.ActionTimeout)
	defer cancel()
	if err := chromedp.Run(actx, actions...); err != nil {
		return d.wrap(ctx, code, msg, err)
	}
	return nil
}

func (d *chromeDriver) wrap(ctx context.Context, code, msg string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	select {
	case <-d.crashed:
		return protocol.NewError(protocol.CodeDriverCrashed, msg, err)
	default:
	}
	if d.ctx.Err() != nil {
		return protocol.NewError(protocol.CodeDriverCrashed, msg, err)
	}
	return protocol.NewError(code, msg, err)
}

func (d *chromeDriver) Navigate(ctx context.Context, url string) error {
	actx, cancel := d.action(ctx, 45*time.Second)
	defer cancel()
	if err := chromedp.Run(actx, chromedp.Navigate(url)); err != nil {
		return d.wrap(ctx, protocol.CodeNavigationFailed, "navigate", err)
	}
	return nil
}

func (d *chromeDriver) URL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, protocol.CodeDriverCrashed, "read location", chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (d *chromeDriver) Click(ctx context.Context, x, y float64) error {
	return d.run(ctx, protocol.CodeInputFailed, "click", chromedp.MouseClickXY(x, y))
}

func (d *chromeDriver) PressKey(ctx context.Context, key string) error {
	seq, ok := KeySequence(key)
	if !ok {
		return protocol.NewError(protocol.CodeValidation, "unsupported key", nil)
	}
	return d.run(ctx, protocol.CodeInputFailed, "key press", chromedp.KeyEvent(seq))
}

func (d *chromeDriver) InsertText(ctx context.Context, text string) error {
	return d.run(ctx, protocol.CodeInputFailed, "insert text", input.InsertText(text))
}

func (d *chromeDriver) Scroll(ctx context.Context, x, y, deltaY float64) error {
	wheel := input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(0).WithDeltaY(deltaY)
	return d.run(ctx, protocol.CodeInputFailed, "scroll", wheel)
}

func (d *chromeDriver) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := d.run(ctx, protocol.CodeDriverCrashed, "read cookies", chromedp.ActionFunc(func(ctx context.Context) error {
		params := network.GetCookies()
		if len(d.opts.CookieURLs) > 0 {
			params = params.WithURLs(d.opts.CookieURLs)
		}
		var err error
		raw, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		ck := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			ck.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		out = append(out, ck)
	}
	return out, nil
}

func (d *chromeDriver) CaptureFrame(ctx context.Context, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	var buf []byte
	err := d.run(ctx, protocol.CodeDriverCrashed, "capture frame", chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(quality)).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

const jsFocusedField = `(() => {
  const el = document.activeElement;
  if (!el || el === document.body) return {tag: "", type: "", name: "", id: "", autocomplete: "", value: ""};
  return {
    tag: (el.tagName || "").toLowerCase(),
    type: (el.getAttribute("type") || "").toLowerCase(),
    name: el.getAttribute("name") || "",
    id: el.id || "",
    autocomplete: (el.getAttribute("autocomplete") || "").toLowerCase(),
    value: typeof el.value === "string" ? el.value : ""
  };
})()`

func (d *chromeDriver) FocusedField(ctx context.Context) (Field, error) {
	var f Field
	if err := d.run(ctx, protocol.CodeInputFailed, "read focused field", chromedp.Evaluate(jsFocusedField, &f)); err != nil {
		return Field{}, err
	}
	f.Tag = strings.ToLower(f.Tag)
	return f, nil
}

func (d *chromeDriver) Viewport() protocol.Size { return d.opts.Viewport }

func (d *chromeDriver) Navigations() <-chan string { return d.navigations }

func (d *chromeDriver) Crashed() <-chan struct{} { return d.crashed }

func (d *chromeDriver) Release() error {
	d.releaseOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(d.ctx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				d.releaseErr = err
			}
		case <-closeCtx.Done():
			d.releaseErr = errors.New("driver: graceful close timed out")
		}
		d.cancel()
		d.cleanup()
		slog.Info("driver released", "mode", d.opts.Mode)
	})
	return d.releaseErr
}
