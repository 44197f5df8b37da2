package geometry

import (
	"fmt"
	"strings"
)

// Handle is one of the eight resize grips of a box
type Handle uint8

const (
	HandleNone Handle = iota
	HandleN
	HandleS
	HandleE
	HandleW
	HandleNE
	HandleNW
	HandleSE
	HandleSW
)

// Handles lists every resize grip in hit-test order
var Handles = []Handle{HandleNW, HandleN, HandleNE, HandleE, HandleSE, HandleS, HandleSW, HandleW}

var handleNames = map[Handle]string{
	HandleN:  "n",
	HandleS:  "s",
	HandleE:  "e",
	HandleW:  "w",
	HandleNE: "ne",
	HandleNW: "nw",
	HandleSE: "se",
	HandleSW: "sw",
}

func (h Handle) String() string {
	if name, ok := handleNames[h]; ok {
		return name
	}
	return "none"
}

// ParseHandle parses a compass name such as "ne"
func ParseHandle(s string) (Handle, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for h, name := range handleNames {
		if name == s {
			return h, nil
		}
	}
	return HandleNone, fmt.Errorf("unknown handle %q", s)
}

// Edges reports which edges the handle moves
func (h Handle) Edges() (top, bottom, left, right bool) {
	name := h.String()
	if h == HandleNone {
		return false, false, false, false
	}
	return strings.Contains(name, "n"), strings.Contains(name, "s"),
		strings.Contains(name, "w"), strings.Contains(name, "e")
}

// Anchor returns the handle position on r
func (h Handle) Anchor(r DisplayRect) Point {
	top, bottom, left, right := h.Edges()
	p := Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
	switch {
	case left:
		p.X = r.X
	case right:
		p.X = r.X + r.W
	}
	switch {
	case top:
		p.Y = r.Y
	case bottom:
		p.Y = r.Y + r.H
	}
	return p
}

// Move translates start by (dx, dy) and keeps it inside the image,
// preserving its size
func Move(start Rect, dx, dy int, size Size) Rect {
	w, h := start.W(), start.H()
	left := clamp(start.Left+dx, 0, max(size.W-w, 0))
	top := clamp(start.Top+dy, 0, max(size.H-h, 0))
	return Rect{Top: top, Left: left, Bottom: top + h, Right: left + w}
}

// Resize moves only the edges named by the handle. An edge may not pass
// (opposite edge - minSize) and is then clamped to the image
func Resize(start Rect, h Handle, dx, dy int, size Size, minSize int) Rect {
	top, bottom, left, right := h.Edges()
	r := start
	if top {
		r.Top = max(min(start.Top+dy, start.Bottom-minSize), 0)
	}
	if bottom {
		r.Bottom = min(max(start.Bottom+dy, start.Top+minSize), size.H)
	}
	if left {
		r.Left = max(min(start.Left+dx, start.Right-minSize), 0)
	}
	if right {
		r.Right = min(max(start.Right+dx, start.Left+minSize), size.W)
	}
	return r
}

// Grow widens r about its centre to at least minSize on each axis, then
// shifts it back inside the image. An image smaller than minSize caps it
func Grow(r Rect, minSize int, size Size) Rect {
	if w := r.W(); w < minSize {
		r.Left -= (minSize - w) / 2
		r.Right = r.Left + minSize
	}
	if h := r.H(); h < minSize {
		r.Top -= (minSize - h) / 2
		r.Bottom = r.Top + minSize
	}
	return Move(r, 0, 0, size).Clamp(size)
}
