package editor

import "github.com/zombor/receipt-crop/internal/geometry"

// HandleBox is a resize grip's hit square in display space
type HandleBox struct {
	Handle string               `json:"handle"`
	Rect   geometry.DisplayRect `json:"rect"`
}

// Box is one drawable box in display space
type Box struct {
	Target   Target               `json:"target"`
	Rect     geometry.DisplayRect `json:"rect"`
	Selected bool                 `json:"selected,omitempty"`
	Handles  []HandleBox          `json:"handles,omitempty"`
}

// Overlay is everything a UI needs to draw the editor at the current scale
type Overlay struct {
	ID         string                `json:"id"`
	Width      float64               `json:"width"`
	Height     float64               `json:"height"`
	Scale      geometry.Scale        `json:"scale"`
	State      State                 `json:"state"`
	RedactMode bool                  `json:"redact_mode"`
	Crop       Box                   `json:"crop"`
	Redactions []Box                 `json:"redactions"`
	Draft      *geometry.DisplayRect `json:"draft,omitempty"`
	Geometry   geometry.Geometry     `json:"geometry"`
}

// Overlay builds the display-space render model. Crop handles are always
// shown; redaction handles only on the selected box
func (s *Session) Overlay() Overlay {
	o := Overlay{
		ID:         s.id,
		Width:      s.displayW,
		Height:     s.displayH,
		Scale:      s.scale,
		State:      s.State(),
		RedactMode: s.redactMode,
		Redactions: make([]Box, len(s.redactions)),
		Geometry:   s.Geometry(),
	}

	crop := s.scale.RectToDisplay(s.rect(Target{Kind: TargetCrop}))
	o.Crop = Box{
		Target:  Target{Kind: TargetCrop},
		Rect:    crop,
		Handles: s.handleBoxes(crop),
	}

	for i, r := range s.redactions {
		box := Box{
			Target:   Target{Kind: TargetRedaction, Index: i},
			Rect:     s.scale.RectToDisplay(r),
			Selected: i == s.selected,
		}
		if box.Selected {
			box.Handles = s.handleBoxes(box.Rect)
		}
		o.Redactions[i] = box
	}

	if d, ok := s.Draft(); ok {
		o.Draft = &d
	}
	return o
}

func (s *Session) handleBoxes(box geometry.DisplayRect) []HandleBox {
	size := s.opts.HandleSize
	out := make([]HandleBox, 0, len(geometry.Handles))
	for _, h := range geometry.Handles {
		a := h.Anchor(box)
		out = append(out, HandleBox{
			Handle: h.String(),
			Rect:   geometry.DisplayRect{X: a.X - size/2, Y: a.Y - size/2, W: size, H: size},
		})
	}
	return out
}
