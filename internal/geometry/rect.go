package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
)

// ErrInvalidGeometry is returned when a rectangle has a non-positive size or
// lies outside the image it belongs to
var ErrInvalidGeometry = errors.New("invalid geometry")

// Size is the pixel size of an image
type Size struct {
	W int `json:"width"`
	H int `json:"height"`
}

// Bounds returns the full-frame rectangle for the size
func (s Size) Bounds() Rect {
	return Rect{Top: 0, Left: 0, Bottom: s.H, Right: s.W}
}

// Rect is an axis-aligned box in original-image pixel space.
// Right and Bottom are exclusive
type Rect struct {
	Top    int
	Left   int
	Bottom int
	Right  int
}

// XYWH builds a Rect from an origin and a size
func XYWH(x, y, w, h int) Rect {
	return Rect{Top: y, Left: x, Bottom: y + h, Right: x + w}
}

// FromImageRect converts an image.Rectangle into a Rect
func FromImageRect(r image.Rectangle) Rect {
	return Rect{Top: r.Min.Y, Left: r.Min.X, Bottom: r.Max.Y, Right: r.Max.X}
}

func (r Rect) X() int { return r.Left }
func (r Rect) Y() int { return r.Top }
func (r Rect) W() int { return r.Right - r.Left }
func (r Rect) H() int { return r.Bottom - r.Top }

// Empty reports whether the rect has no area
func (r Rect) Empty() bool {
	return r.Right <= r.Left || r.Bottom <= r.Top
}

// ImageRect converts the Rect into an image.Rectangle
func (r Rect) ImageRect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

// Translate shifts the rect by (dx, dy)
func (r Rect) Translate(dx, dy int) Rect {
	return Rect{Top: r.Top + dy, Left: r.Left + dx, Bottom: r.Bottom + dy, Right: r.Right + dx}
}

// Pad grows the rect by margin on every side
func (r Rect) Pad(margin int) Rect {
	return Rect{Top: r.Top - margin, Left: r.Left - margin, Bottom: r.Bottom + margin, Right: r.Right + margin}
}

// Clamp limits every edge to [0,W]x[0,H]
func (r Rect) Clamp(size Size) Rect {
	return Rect{
		Top:    clamp(r.Top, 0, size.H),
		Left:   clamp(r.Left, 0, size.W),
		Bottom: clamp(r.Bottom, 0, size.H),
		Right:  clamp(r.Right, 0, size.W),
	}
}

// Contains reports whether the pixel (x, y) lies inside the rect
func (r Rect) Contains(x, y int) bool {
	return x >= r.Left && x < r.Right && y >= r.Top && y < r.Bottom
}

func (r Rect) String() string {
	return fmt.Sprintf("{top:%d left:%d bottom:%d right:%d}", r.Top, r.Left, r.Bottom, r.Right)
}

// Validate checks that r has a positive size and lies within size
func (r Rect) Validate(size Size) error {
	if r.Empty() {
		return fmt.Errorf("%w: %s has non-positive size", ErrInvalidGeometry, r)
	}
	if r.Left < 0 || r.Top < 0 || r.Right > size.W || r.Bottom > size.H {
		return fmt.Errorf("%w: %s outside %dx%d", ErrInvalidGeometry, r, size.W, size.H)
	}
	return nil
}

type tlbr struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Bottom int `json:"bottom"`
	Right  int `json:"right"`
}

type xywh struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// MarshalJSON writes the {top,left,bottom,right} form
func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal(tlbr{Top: r.Top, Left: r.Left, Bottom: r.Bottom, Right: r.Right})
}

// UnmarshalJSON accepts either the {top,left,bottom,right} or the {x,y,w,h} form
func (r *Rect) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	if _, ok := keys["w"]; ok {
		var v xywh
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*r = XYWH(v.X, v.Y, v.W, v.H)
		return nil
	}
	var v tlbr
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Rect{Top: v.Top, Left: v.Left, Bottom: v.Bottom, Right: v.Right}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
