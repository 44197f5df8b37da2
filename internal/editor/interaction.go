package editor

import (
	"math"

	"github.com/zombor/receipt-crop/internal/geometry"
)

// State is the interaction state of a session
type State uint8

const (
	StateIdle State = iota
	StateDragging
)

func (s State) String() string {
	if s == StateDragging {
		return "dragging"
	}
	return "idle"
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TargetKind says which box an interaction edits
type TargetKind uint8

const (
	TargetCrop TargetKind = iota
	TargetRedaction
)

func (k TargetKind) String() string {
	if k == TargetRedaction {
		return "redaction"
	}
	return "crop"
}

// MarshalText encodes the kind by name
func (k TargetKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Target identifies the crop or one redaction by index
type Target struct {
	Kind  TargetKind `json:"kind"`
	Index int        `json:"index"`
}

// Mode is what a drag does to its target
type Mode uint8

const (
	ModeMove Mode = iota
	ModeResize
	ModeDraw
)

func (m Mode) String() string {
	switch m {
	case ModeResize:
		return "resize"
	case ModeDraw:
		return "draw"
	default:
		return "move"
	}
}

// MarshalText encodes the mode by name
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Interaction is the transient context of an active drag. Deltas are always
// applied to Start so rounding never accumulates across pointer moves
type Interaction struct {
	Target  Target          `json:"target"`
	Mode    Mode            `json:"mode"`
	Handle  geometry.Handle `json:"-"`
	Anchor  geometry.Point  `json:"anchor"`
	Current geometry.Point  `json:"current"`
	Start   geometry.Rect   `json:"start"`

	cropUnset bool
}

// State reports whether the session is idle or dragging
func (s *Session) State() State {
	if s.drag != nil {
		return StateDragging
	}
	return StateIdle
}

// PointerDown hit-tests p (display space) and starts a drag when it lands on
// something editable. It reports whether a drag started
func (s *Session) PointerDown(p geometry.Point) (bool, error) {
	if s.drag != nil {
		return false, ErrDragInProgress
	}

	if s.selected >= 0 {
		box := s.scale.RectToDisplay(s.redactions[s.selected])
		if h := s.hitHandle(box, p); h != geometry.HandleNone {
			s.begin(Target{Kind: TargetRedaction, Index: s.selected}, ModeResize, h, p)
			return true, nil
		}
	}

	for i := len(s.redactions) - 1; i >= 0; i-- {
		if s.scale.RectToDisplay(s.redactions[i]).Contains(p) {
			s.selected = i
			s.begin(Target{Kind: TargetRedaction, Index: i}, ModeMove, geometry.HandleNone, p)
			return true, nil
		}
	}

	s.selected = -1

	if s.redactMode {
		if !s.imageBox().Contains(p) {
			return false, nil
		}
		s.drag = &Interaction{
			Target:  Target{Kind: TargetRedaction, Index: len(s.redactions)},
			Mode:    ModeDraw,
			Anchor:  p,
			Current: p,
		}
		return true, nil
	}

	crop := s.scale.RectToDisplay(s.rect(Target{Kind: TargetCrop}))
	if h := s.hitHandle(crop, p); h != geometry.HandleNone {
		s.begin(Target{Kind: TargetCrop}, ModeResize, h, p)
		return true, nil
	}
	if crop.Contains(p) {
		s.begin(Target{Kind: TargetCrop}, ModeMove, geometry.HandleNone, p)
		return true, nil
	}
	return false, nil
}

// PointerMove updates the active drag. Without one it does nothing
func (s *Session) PointerMove(p geometry.Point) {
	d := s.drag
	if d == nil {
		return
	}
	d.Current = p
	if d.Mode == ModeDraw {
		return
	}

	dx, dy := s.scale.DeltaToImage(p.X-d.Anchor.X, p.Y-d.Anchor.Y)
	var r geometry.Rect
	if d.Mode == ModeResize {
		r = geometry.Resize(d.Start, d.Handle, dx, dy, s.natural, s.minSize(d.Target))
	} else {
		r = geometry.Move(d.Start, dx, dy, s.natural)
	}
	s.setRect(d.Target, r)
}

// PointerUp ends the active drag at p, which may lie anywhere. A drawn
// redaction is kept only when its display size exceeds the draw threshold on
// both axes. It covers every pixel under the box, grows to the minimum
// redaction size and becomes the selection
func (s *Session) PointerUp(p geometry.Point) {
	d := s.drag
	if d == nil {
		return
	}
	s.PointerMove(p)
	s.drag = nil

	if d.Mode != ModeDraw {
		return
	}
	span := geometry.Span(d.Anchor, d.Current)
	if span.W <= s.opts.DrawThreshold || span.H <= s.opts.DrawThreshold {
		return
	}
	r := s.scale.RectToImageOuter(span).Clamp(s.natural)
	r = geometry.Grow(r, s.opts.MinRedactionSize, s.natural)
	if r.Validate(s.natural) != nil {
		return
	}
	s.redactions = append(s.redactions, r)
	s.selected = len(s.redactions) - 1
}

// Cancel abandons the active drag and restores its target to the drag-start
// snapshot. A draw in progress is dropped
func (s *Session) Cancel() {
	d := s.drag
	if d == nil {
		return
	}
	s.drag = nil
	switch {
	case d.Mode == ModeDraw:
	case d.Target.Kind == TargetCrop && d.cropUnset:
		s.crop = nil
	default:
		s.setRect(d.Target, d.Start)
	}
}

// Draft is the live display-space box of a redaction being drawn
func (s *Session) Draft() (geometry.DisplayRect, bool) {
	if s.drag == nil || s.drag.Mode != ModeDraw {
		return geometry.DisplayRect{}, false
	}
	return geometry.Span(s.drag.Anchor, s.drag.Current), true
}

func (s *Session) begin(t Target, m Mode, h geometry.Handle, p geometry.Point) {
	s.drag = &Interaction{
		Target:    t,
		Mode:      m,
		Handle:    h,
		Anchor:    p,
		Current:   p,
		Start:     s.rect(t),
		cropUnset: t.Kind == TargetCrop && s.crop == nil,
	}
}

func (s *Session) imageBox() geometry.DisplayRect {
	return s.scale.RectToDisplay(s.natural.Bounds())
}

// hitHandle returns the handle of box whose square contains p
func (s *Session) hitHandle(box geometry.DisplayRect, p geometry.Point) geometry.Handle {
	half := s.opts.HandleSize / 2
	for _, h := range geometry.Handles {
		a := h.Anchor(box)
		if math.Abs(p.X-a.X) <= half && math.Abs(p.Y-a.Y) <= half {
			return h
		}
	}
	return geometry.HandleNone
}
