package viewer

import (
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

// Canvas relates the client's drawing surface to the driver viewport.
type Canvas struct {
	Size     protocol.Size
	Viewport protocol.Size
}

// FitCanvas picks the largest canvas within bound that keeps the viewport's
// aspect ratio.
func FitCanvas(viewport, bound protocol.Size) protocol.Size {
	if !viewport.Valid() || !bound.Valid() {
		return bound
	}
	w := bound.Width
	h := w * viewport.Height / viewport.Width
	if h > bound.Height {
		h = bound.Height
		w = h * viewport.Width / viewport.Height
	}
	return protocol.Size{Width: w, Height: h}
}

// FromDisplay maps a point on a scaled on-screen element of size display
// into canvas pixels.
func (c Canvas) FromDisplay(display protocol.Size, x, y float64) (float64, float64) {
	return protocol.Rescale(display, c.Size, x, y)
}

// ToDriver previews where a canvas point lands in the driver viewport. The
// server applies the same mapping.
func (c Canvas) ToDriver(x, y float64) (float64, float64) {
	return protocol.Rescale(c.Size, c.Viewport, x, y)
}

// Contains reports whether a canvas point is on the canvas.
func (c Canvas) Contains(x, y float64) bool {
	return c.Size.Contains(x, y)
}
