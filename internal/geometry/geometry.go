package geometry

import (
	"encoding/json"
	"fmt"
)

// Geometry is the persisted region state of one image: an optional crop
// (nil means the full image) and the redactions in z-order
type Geometry struct {
	Crop       *Rect
	Redactions []Rect
}

type geometryJSON struct {
	Crop       *Rect  `json:"crop"`
	Redactions []xywh `json:"redactions"`
}

// MarshalJSON writes the crop as {top,left,bottom,right} and the redactions
// as {x,y,w,h}
func (g Geometry) MarshalJSON() ([]byte, error) {
	out := geometryJSON{Crop: g.Crop, Redactions: make([]xywh, 0, len(g.Redactions))}
	for _, r := range g.Redactions {
		out.Redactions = append(out.Redactions, xywh{X: r.X(), Y: r.Y(), W: r.W(), H: r.H()})
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the form written by MarshalJSON. Redactions may use
// either rectangle form
func (g *Geometry) UnmarshalJSON(data []byte) error {
	var in struct {
		Crop       *Rect  `json:"crop"`
		Redactions []Rect `json:"redactions"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	g.Crop = in.Crop
	g.Redactions = in.Redactions
	return nil
}

// Clone returns a deep copy
func (g Geometry) Clone() Geometry {
	out := Geometry{Redactions: append([]Rect(nil), g.Redactions...)}
	if g.Crop != nil {
		c := *g.Crop
		out.Crop = &c
	}
	return out
}

// CropOrFull returns the crop, or the full frame when no crop is set
func (g Geometry) CropOrFull(size Size) Rect {
	if g.Crop == nil {
		return size.Bounds()
	}
	return *g.Crop
}

// Validate checks every rectangle against the image size
func (g Geometry) Validate(size Size) error {
	if g.Crop != nil {
		if err := g.Crop.Validate(size); err != nil {
			return fmt.Errorf("crop: %w", err)
		}
	}
	for i, r := range g.Redactions {
		if err := r.Validate(size); err != nil {
			return fmt.Errorf("redaction %d: %w", i, err)
		}
	}
	return nil
}
