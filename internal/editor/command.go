package editor

import (
	"errors"
	"fmt"

	"github.com/zombor/receipt-crop/internal/geometry"
)

// ErrInvalidCommand is returned for commands that cannot be applied
var ErrInvalidCommand = errors.New("invalid command")

// Op names a Command
type Op string

const (
	OpPointerDown     Op = "pointer_down"
	OpPointerMove     Op = "pointer_move"
	OpPointerUp       Op = "pointer_up"
	OpCancel          Op = "cancel"
	OpResizeDisplay   Op = "resize_display"
	OpRedactMode      Op = "redact_mode"
	OpSelect          Op = "select"
	OpDeselect        Op = "deselect"
	OpDeleteSelected  Op = "delete_selected"
	OpClearRedactions Op = "clear_redactions"
	OpSetCrop         Op = "set_crop"
	OpAddRedaction    Op = "add_redaction"
)

// Command is one serialisable editor input, so a remote UI can drive a
// session. Only the fields relevant to Op are read
type Command struct {
	Op Op `json:"op"`

	// pointer_*
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	// resize_display
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`

	// redact_mode
	On bool `json:"on,omitempty"`

	// select
	Index int `json:"index,omitempty"`

	// set_crop (nil clears the crop) and add_redaction
	Rect *geometry.Rect `json:"rect,omitempty"`
}

// Apply dispatches cmd to the matching session operation
func (s *Session) Apply(cmd Command) error {
	p := geometry.Point{X: cmd.X, Y: cmd.Y}
	switch cmd.Op {
	case OpPointerDown:
		_, err := s.PointerDown(p)
		return err
	case OpPointerMove:
		s.PointerMove(p)
	case OpPointerUp:
		s.PointerUp(p)
	case OpCancel:
		s.Cancel()
	case OpResizeDisplay:
		return s.SetDisplaySize(cmd.Width, cmd.Height)
	case OpRedactMode:
		s.SetRedactMode(cmd.On)
	case OpSelect:
		return s.Select(cmd.Index)
	case OpDeselect:
		s.Deselect()
	case OpDeleteSelected:
		return s.DeleteSelected()
	case OpClearRedactions:
		return s.ClearRedactions()
	case OpSetCrop:
		return s.SetCrop(cmd.Rect)
	case OpAddRedaction:
		if cmd.Rect == nil {
			return fmt.Errorf("%w: add_redaction needs a rect", ErrInvalidCommand)
		}
		return s.AddRedaction(*cmd.Rect)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidCommand, cmd.Op)
	}
	return nil
}

// ApplyAll applies commands in order and stops at the first error, returning
// how many were applied
func (s *Session) ApplyAll(cmds []Command) (int, error) {
	for i, cmd := range cmds {
		if err := s.Apply(cmd); err != nil {
			return i, fmt.Errorf("command %d (%s): %w", i, cmd.Op, err)
		}
	}
	return len(cmds), nil
}
