package editor

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zombor/receipt-crop/internal/geometry"
)

var (
	// ErrDragInProgress is returned when an operation needs the session idle
	ErrDragInProgress = errors.New("drag in progress")
	// ErrNoSelection is returned when a command needs a selected redaction
	ErrNoSelection = errors.New("no redaction selected")
)

// Options tune interaction limits
type Options struct {
	// MinCropSize is the smallest crop width/height in image pixels
	MinCropSize int
	// MinRedactionSize is the smallest redaction width/height in image pixels
	MinRedactionSize int
	// DrawThreshold is the display-space size a new redaction must exceed on
	// both axes to be kept
	DrawThreshold float64
	// HandleSize is the side of a handle's hit square in display pixels
	HandleSize float64
}

// DefaultOptions returns the standard interaction limits
func DefaultOptions() Options {
	return Options{
		MinCropSize:      50,
		MinRedactionSize: 10,
		DrawThreshold:    5,
		HandleSize:       12,
	}
}

// Session is the mutable region state of one open image. It is not safe for
// concurrent use; callers serialise access
type Session struct {
	id      string
	natural geometry.Size
	opts    Options

	committed  geometry.Geometry
	crop       *geometry.Rect
	redactions []geometry.Rect

	displayW   float64
	displayH   float64
	scale      geometry.Scale
	redactMode bool
	selected   int

	drag *Interaction
}

// Open starts a session for an image of the given natural size, seeded with
// previously saved or auto-detected geometry and the image's rendered size
func Open(natural geometry.Size, seed geometry.Geometry, displayW, displayH float64, opts Options) (*Session, error) {
	scale, err := geometry.NewScale(displayW, displayH, natural)
	if err != nil {
		return nil, err
	}
	if err := seed.Validate(natural); err != nil {
		return nil, err
	}

	def := DefaultOptions()
	if opts.MinCropSize <= 0 {
		opts.MinCropSize = def.MinCropSize
	}
	if opts.MinRedactionSize <= 0 {
		opts.MinRedactionSize = def.MinRedactionSize
	}
	if opts.DrawThreshold < 0 {
		opts.DrawThreshold = def.DrawThreshold
	}
	if opts.HandleSize <= 0 {
		opts.HandleSize = def.HandleSize
	}

	s := &Session{
		id:        uuid.NewString(),
		natural:   natural,
		opts:      opts,
		committed: seed.Clone(),
		displayW:  displayW,
		displayH:  displayH,
		scale:     scale,
		selected:  -1,
	}
	s.restore(s.committed)
	return s, nil
}

// ID identifies the session
func (s *Session) ID() string { return s.id }

// NaturalSize is the size of the original image
func (s *Session) NaturalSize() geometry.Size { return s.natural }

// Scale is the current display scale
func (s *Session) Scale() geometry.Scale { return s.scale }

// RedactMode reports whether pointer-down on empty space draws a redaction
func (s *Session) RedactMode() bool { return s.redactMode }

// Dragging reports whether an interaction is active
func (s *Session) Dragging() bool { return s.drag != nil }

// Interaction returns a copy of the active interaction, if any
func (s *Session) Interaction() (Interaction, bool) {
	if s.drag == nil {
		return Interaction{}, false
	}
	return *s.drag, true
}

// Selected returns the selected redaction index
func (s *Session) Selected() (int, bool) {
	return s.selected, s.selected >= 0
}

// Geometry returns a snapshot of the current geometry
func (s *Session) Geometry() geometry.Geometry {
	return geometry.Geometry{Crop: s.crop, Redactions: s.redactions}.Clone()
}

// SetDisplaySize recomputes the scale after the rendered image changed size
func (s *Session) SetDisplaySize(displayW, displayH float64) error {
	if s.drag != nil {
		return ErrDragInProgress
	}
	scale, err := geometry.NewScale(displayW, displayH, s.natural)
	if err != nil {
		return err
	}
	s.displayW, s.displayH = displayW, displayH
	s.scale = scale
	return nil
}

// SetRedactMode toggles redaction drawing. Leaving redact mode clears the
// selection
func (s *Session) SetRedactMode(on bool) {
	s.redactMode = on
	if !on {
		s.selected = -1
	}
}

// Select marks redaction i as selected
func (s *Session) Select(i int) error {
	if i < 0 || i >= len(s.redactions) {
		return fmt.Errorf("%w: redaction %d of %d", geometry.ErrInvalidGeometry, i, len(s.redactions))
	}
	s.selected = i
	return nil
}

// Deselect clears the selection
func (s *Session) Deselect() {
	s.selected = -1
}

// DeleteSelected removes the selected redaction and clears the selection
func (s *Session) DeleteSelected() error {
	if s.drag != nil {
		return ErrDragInProgress
	}
	if s.selected < 0 {
		return ErrNoSelection
	}
	s.redactions = append(s.redactions[:s.selected], s.redactions[s.selected+1:]...)
	s.selected = -1
	return nil
}

// ClearRedactions removes every redaction and the selection
func (s *Session) ClearRedactions() error {
	if s.drag != nil {
		return ErrDragInProgress
	}
	s.redactions = nil
	s.selected = -1
	return nil
}

// SetCrop replaces the crop. A nil crop means the full image. Invalid
// rectangles are rejected and the previous crop is kept
func (s *Session) SetCrop(r *geometry.Rect) error {
	if s.drag != nil {
		return ErrDragInProgress
	}
	if r == nil {
		s.crop = nil
		return nil
	}
	if err := r.Validate(s.natural); err != nil {
		return err
	}
	c := *r
	s.crop = &c
	return nil
}

// AddRedaction appends a redaction on top of the others
func (s *Session) AddRedaction(r geometry.Rect) error {
	if s.drag != nil {
		return ErrDragInProgress
	}
	if err := r.Validate(s.natural); err != nil {
		return err
	}
	s.redactions = append(s.redactions, r)
	return nil
}

// Commit promotes the current geometry to the committed state and returns it
func (s *Session) Commit() (geometry.Geometry, error) {
	if s.drag != nil {
		return geometry.Geometry{}, ErrDragInProgress
	}
	s.committed = s.Geometry()
	return s.committed.Clone(), nil
}

// Discard drops uncommitted edits, including any active drag, and returns the
// committed geometry
func (s *Session) Discard() geometry.Geometry {
	s.drag = nil
	s.restore(s.committed)
	return s.committed.Clone()
}

func (s *Session) restore(g geometry.Geometry) {
	g = g.Clone()
	s.crop = g.Crop
	s.redactions = g.Redactions
	s.selected = -1
}

func (s *Session) minSize(t Target) int {
	if t.Kind == TargetCrop {
		return s.opts.MinCropSize
	}
	return s.opts.MinRedactionSize
}

func (s *Session) rect(t Target) geometry.Rect {
	if t.Kind == TargetCrop {
		if s.crop == nil {
			return s.natural.Bounds()
		}
		return *s.crop
	}
	return s.redactions[t.Index]
}

func (s *Session) setRect(t Target, r geometry.Rect) {
	if t.Kind == TargetCrop {
		s.crop = &r
		return
	}
	s.redactions[t.Index] = r
}
