// Package drivertest provides a scriptable in-memory driver for tests.
package drivertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/RemoteLoginCore/internal/driver"
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

// Call is one recorded driver input.
type Call struct {
	Op     string
	X, Y   float64
	DeltaY float64
	Text   string
}

// Fake implements driver.Driver. Zero value is not usable; call New.
type Fake struct {
	viewport protocol.Size

	mu        sync.Mutex
	url       string
	cookies   []driver.Cookie
	field     driver.Field
	calls     []Call
	navErr    error
	inputErr  error
	frameErr  error
	navGate   chan struct{}
	navStart  chan struct{}
	frameSeq  int
	released  atomic.Int32
	frames    atomic.Int64
	closed    chan struct{}
	crashed   chan struct{}
	crashOnce sync.Once
	navs      chan string
}

// New returns a fake with the given native viewport.
func New(viewport protocol.Size) *Fake {
	return &Fake{
		viewport: viewport,
		closed:   make(chan struct{}),
		crashed:  make(chan struct{}),
		navs:     make(chan string, 16),
		navStart: make(chan struct{}, 1),
	}
}

// Factory returns a driver.Factory that hands out fakes in order, then errors.
func Factory(fakes ...*Fake) driver.Factory {
	var mu sync.Mutex
	next := 0
	return driver.FactoryFunc(func(ctx context.Context) (driver.Driver, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(fakes) {
			return nil, protocol.NewError(protocol.CodeDriverUnavailable, "no fake driver left", nil)
		}
		f := fakes[next]
		next++
		return f, nil
	})
}

// BlockNavigation makes Navigate wait until UnblockNavigation or ctx cancel.
func (f *Fake) BlockNavigation() {
	f.mu.Lock()
	f.navGate = make(chan struct{})
	f.mu.Unlock()
}

func (f *Fake) UnblockNavigation() {
	f.mu.Lock()
	if f.navGate != nil {
		close(f.navGate)
		f.navGate = nil
	}
	f.mu.Unlock()
}

// NavigationStarted is signalled when Navigate is entered.
func (f *Fake) NavigationStarted() <-chan struct{} { return f.navStart }

func (f *Fake) SetNavigateError(err error) {
	f.mu.Lock()
	f.navErr = err
	f.mu.Unlock()
}

func (f *Fake) SetInputError(err error) {
	f.mu.Lock()
	f.inputErr = err
	f.mu.Unlock()
}

func (f *Fake) SetFrameError(err error) {
	f.mu.Lock()
	f.frameErr = err
	f.mu.Unlock()
}

// SetURL changes the current URL and emits a navigation notification.
func (f *Fake) SetURL(url string) {
	f.mu.Lock()
	f.url = url
	f.mu.Unlock()
	select {
	case f.navs <- url:
	default:
	}
}

func (f *Fake) SetCookies(cookies ...driver.Cookie) {
	f.mu.Lock()
	f.cookies = append([]driver.Cookie(nil), cookies...)
	f.mu.Unlock()
}

func (f *Fake) SetField(field driver.Field) {
	f.mu.Lock()
	f.field = field
	f.mu.Unlock()
}

// Crash simulates the browser target dying.
func (f *Fake) Crash() {
	f.crashOnce.Do(func() { close(f.crashed) })
}

// Calls returns a copy of recorded inputs in dispatch order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// ReleaseCount reports how many times Release was called.
func (f *Fake) ReleaseCount() int { return int(f.released.Load()) }

// Released is closed on the first Release.
func (f *Fake) Released() <-chan struct{} { return f.closed }

// FramesCaptured reports successful CaptureFrame calls.
func (f *Fake) FramesCaptured() int64 { return f.frames.Load() }

func (f *Fake) alive() error {
	select {
	case <-f.closed:
		return protocol.NewError(protocol.CodeDriverCrashed, "driver released", nil)
	case <-f.crashed:
		return protocol.NewError(protocol.CodeDriverCrashed, "driver crashed", nil)
	default:
		return nil
	}
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	select {
	case f.navStart <- struct{}{}:
	default:
	}
	f.mu.Lock()
	gate, navErr := f.navGate, f.navErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		case <-f.closed:
			return protocol.NewError(protocol.CodeDriverCrashed, "driver released", nil)
		}
	}
	if err := f.alive(); err != nil {
		return err
	}
	if navErr != nil {
		return navErr
	}
	f.SetURL(url)
	return nil
}

func (f *Fake) URL(ctx context.Context) (string, error) {
	if err := f.alive(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *Fake) record(c Call) error {
	if err := f.alive(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inputErr != nil {
		return f.inputErr
	}
	f.calls = append(f.calls, c)
	return nil
}

func (f *Fake) Click(ctx context.Context, x, y float64) error {
	return f.record(Call{Op: "click", X: x, Y: y})
}

func (f *Fake) PressKey(ctx context.Context, key string) error {
	if _, ok := driver.KeySequence(key); !ok {
		return protocol.NewError(protocol.CodeValidation, "unsupported key", nil)
	}
	return f.record(Call{Op: "press", Text: key})
}

func (f *Fake) InsertText(ctx context.Context, text string) error {
	if err := f.record(Call{Op: "type", Text: text}); err != nil {
		return err
	}
	f.mu.Lock()
	f.field.Value += text
	f.mu.Unlock()
	return nil
}

func (f *Fake) Scroll(ctx context.Context, x, y, deltaY float64) error {
	return f.record(Call{Op: "scroll", X: x, Y: y, DeltaY: deltaY})
}

func (f *Fake) Cookies(ctx context.Context) ([]driver.Cookie, error) {
	if err := f.alive(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]driver.Cookie(nil), f.cookies...), nil
}

func (f *Fake) CaptureFrame(ctx context.Context, quality int) ([]byte, error) {
	if err := f.alive(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	if f.frameErr != nil {
		err := f.frameErr
		f.mu.Unlock()
		return nil, err
	}
	f.frameSeq++
	n := f.frameSeq
	f.mu.Unlock()
	f.frames.Add(1)
	return []byte(fmt.Sprintf("frame-%d-q%d", n, quality)), nil
}

func (f *Fake) FocusedField(ctx context.Context) (driver.Field, error) {
	if err := f.alive(); err != nil {
		return driver.Field{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.field, nil
}

func (f *Fake) Viewport() protocol.Size { return f.viewport }

func (f *Fake) Navigations() <-chan string { return f.navs }

func (f *Fake) Crashed() <-chan struct{} { return f.crashed }

func (f *Fake) Release() error {
	if f.released.Add(1) == 1 {
		close(f.closed)
	}
	return nil
}
