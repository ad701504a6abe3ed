package driver

import (
	"context"
	"time"

	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

// Cookie is a browser cookie as reported by the driver.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"-"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"http_only"`
	Secure   bool      `json:"secure"`
}

// Field describes the currently focused form control.
type Field struct {
	Tag          string `json:"tag"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	ID           string `json:"id"`
	Autocomplete string `json:"autocomplete"`
	Value        string `json:"value"`
}

// Driver is one exclusively owned, remotely controllable browser page.
// Methods other than Release may be called concurrently; implementations
// serialize access to the underlying browser where required.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Click(ctx context.Context, x, y float64) error
	PressKey(ctx context.Context, key string) error
	InsertText(ctx context.Context, text string) error
	Scroll(ctx context.Context, x, y, deltaY float64) error
	Cookies(ctx context.Context) ([]Cookie, error)
	CaptureFrame(ctx context.Context, quality int) ([]byte, error)
	FocusedField(ctx context.Context) (Field, error)

	// Viewport is the fixed native resolution for the driver's lifetime.
	Viewport() protocol.Size
	// Navigations delivers main-frame URLs after each committed navigation.
	// Sends are non-blocking; slow readers miss intermediate URLs.
	Navigations() <-chan string
	// Crashed is closed when the browser target dies underneath the driver.
	Crashed() <-chan struct{}
	// Release terminates the browser target or process. It is safe to call
	// more than once; only the first call does work.
	Release() error
}

// Factory allocates a fresh driver for one session.
type Factory interface {
	NewDriver(ctx context.Context) (Driver, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Driver, error)

func (f FactoryFunc) NewDriver(ctx context.Context) (Driver, error) { return f(ctx) }
