package geometry

import (
	"fmt"
	"math"
)

// Point is a position in display space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DisplayRect is a box in display space
type DisplayRect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Contains reports whether p lies inside the box, edges included
func (d DisplayRect) Contains(p Point) bool {
	return p.X >= d.X && p.X <= d.X+d.W && p.Y >= d.Y && p.Y <= d.Y+d.H
}

// Span returns the normalised box between two corners
func Span(a, b Point) DisplayRect {
	return DisplayRect{
		X: math.Min(a.X, b.X),
		Y: math.Min(a.Y, b.Y),
		W: math.Abs(b.X - a.X),
		H: math.Abs(b.Y - a.Y),
	}
}

// Scale is displaySize / naturalSize on each axis
type Scale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Identity is the scale of an image rendered at its natural size
var Identity = Scale{X: 1, Y: 1}

// NewScale derives the scale from the rendered and natural image sizes
func NewScale(displayW, displayH float64, natural Size) (Scale, error) {
	if natural.W <= 0 || natural.H <= 0 {
		return Scale{}, fmt.Errorf("%w: natural size %dx%d", ErrInvalidGeometry, natural.W, natural.H)
	}
	if displayW <= 0 || displayH <= 0 || math.IsNaN(displayW) || math.IsNaN(displayH) {
		return Scale{}, fmt.Errorf("%w: display size %gx%g", ErrInvalidGeometry, displayW, displayH)
	}
	return Scale{X: displayW / float64(natural.W), Y: displayH / float64(natural.H)}, nil
}

// DeltaToImage converts a display-space delta into image pixels.
// math.Round is odd-symmetric, so opposite deltas cancel exactly
func (s Scale) DeltaToImage(dx, dy float64) (int, int) {
	return int(math.Round(dx / s.X)), int(math.Round(dy / s.Y))
}

// ToImage converts a display-space point into image pixels
func (s Scale) ToImage(p Point) (int, int) {
	return s.DeltaToImage(p.X, p.Y)
}

// ToDisplay converts an image pixel position into display space
func (s Scale) ToDisplay(x, y int) Point {
	return Point{X: float64(x) * s.X, Y: float64(y) * s.Y}
}

// RectToDisplay converts an image-space rect into display space
func (s Scale) RectToDisplay(r Rect) DisplayRect {
	return DisplayRect{
		X: float64(r.Left) * s.X,
		Y: float64(r.Top) * s.Y,
		W: float64(r.W()) * s.X,
		H: float64(r.H()) * s.Y,
	}
}

// RectToImage converts a display-space box into image space. The result may
// be empty or out of bounds; callers clamp and validate
func (s Scale) RectToImage(d DisplayRect) Rect {
	left, top := s.ToImage(Point{X: d.X, Y: d.Y})
	right, bottom := s.ToImage(Point{X: d.X + d.W, Y: d.Y + d.H})
	return Rect{Top: top, Left: left, Bottom: bottom, Right: right}
}

// snap absorbs float noise so exact pixel edges do not spill over
const snap = 1e-9

// RectToImageOuter converts a display-space box into the smallest image rect
// covering it. Every box with positive display size maps to at least one
// pixel per axis
func (s Scale) RectToImageOuter(d DisplayRect) Rect {
	r := Rect{
		Top:    int(math.Floor(d.Y/s.Y + snap)),
		Left:   int(math.Floor(d.X/s.X + snap)),
		Bottom: int(math.Ceil((d.Y+d.H)/s.Y - snap)),
		Right:  int(math.Ceil((d.X+d.W)/s.X - snap)),
	}
	if d.W > 0 && r.Right <= r.Left {
		r.Right = r.Left + 1
	}
	if d.H > 0 && r.Bottom <= r.Top {
		r.Bottom = r.Top + 1
	}
	return r
}
