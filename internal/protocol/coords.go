package protocol

import "math"

// Size is a pixel extent, used for both the client canvas and the driver viewport.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Contains reports whether (x, y) lies inside the extent.
func (s Size) Contains(x, y float64) bool {
	return x >= 0 && y >= 0 && x < float64(s.Width) && y < float64(s.Height)
}

// Rescale maps a point from canvas space to viewport space:
// vx = x * viewport.Width / canvas.Width, and likewise for y.
// An invalid canvas leaves the point unchanged.
func Rescale(canvas, viewport Size, x, y float64) (float64, float64) {
	if !canvas.Valid() || !viewport.Valid() {
		return x, y
	}
	vx := x * float64(viewport.Width) / float64(canvas.Width)
	vy := y * float64(viewport.Height) / float64(canvas.Height)
	return round2(vx), round2(vy)
}

// round2 trims float noise so 150*1920/1280 lands on 225 exactly.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
