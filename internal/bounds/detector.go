package bounds

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/zombor/receipt-crop/internal/geometry"
)

// ErrInvalidInput is returned for a pixel buffer whose length does not match
// its dimensions
var ErrInvalidInput = errors.New("invalid pixel buffer")

// Pixels is a decoded RGBA buffer, four samples per pixel, row-major
type Pixels struct {
	Width  int
	Height int
	Pix    []uint8
}

// FromImage copies img into an RGBA buffer
func FromImage(img image.Image) Pixels {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != b.Dx()*4 {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return Pixels{Width: b.Dx(), Height: b.Dy(), Pix: rgba.Pix}
}

// Options tune the detector
type Options struct {
	// Threshold is the channel value at or above which a pixel counts as
	// background when all of R, G and B reach it
	Threshold uint8
	// Padding is added around the detected box in original-image pixels
	Padding int
	// MaxDimension is the longest side of the working copy scanned by
	// DetectImage. Zero scans at full resolution
	MaxDimension int
}

// DefaultOptions returns the standard detector settings
func DefaultOptions() Options {
	return Options{
		Threshold:    235,
		Padding:      20,
		MaxDimension: 1000,
	}
}

// Detector finds the content bounds of receipt photos
type Detector struct {
	opts Options
}

// NewDetector creates a Detector. Out-of-range options fall back to defaults
func NewDetector(opts Options) *Detector {
	def := DefaultOptions()
	if opts.Threshold == 0 {
		opts.Threshold = def.Threshold
	}
	if opts.Padding < 0 {
		opts.Padding = def.Padding
	}
	if opts.MaxDimension < 0 {
		opts.MaxDimension = def.MaxDimension
	}
	return &Detector{opts: opts}
}

// Detect returns the tightest box around non-background pixels of p in p's
// own coordinate space. A buffer without content yields the full frame
func (d *Detector) Detect(p Pixels) (geometry.Rect, error) {
	return Detect(p, d.opts.Threshold)
}

// DetectImage scans a downscaled working copy of img and maps the result back
// into img's pixel space, padded and clamped to the image
func (d *Detector) DetectImage(img image.Image) (geometry.Rect, error) {
	b := img.Bounds()
	size := geometry.Size{W: b.Dx(), H: b.Dy()}
	if size.W <= 0 || size.H <= 0 {
		return geometry.Rect{}, fmt.Errorf("%w: empty image", ErrInvalidInput)
	}

	factor := 1.0
	if m := d.opts.MaxDimension; m > 0 && max(size.W, size.H) > m {
		factor = float64(m) / float64(max(size.W, size.H))
	}

	work := img
	if factor < 1 {
		w := max(int(math.Round(float64(size.W)*factor)), 1)
		h := max(int(math.Round(float64(size.H)*factor)), 1)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		work = dst
	}

	found, err := d.Detect(FromImage(work))
	if err != nil {
		return geometry.Rect{}, err
	}
	return Unscale(found, factor, work.Bounds().Dx(), work.Bounds().Dy(), size).Pad(d.opts.Padding).Clamp(size), nil
}

// Unscale maps a rect found on a working copy of workW x workH back into the
// original image. Edges round outwards so content is never clipped
func Unscale(r geometry.Rect, factor float64, workW, workH int, original geometry.Size) geometry.Rect {
	if factor >= 1 {
		return r
	}
	fx := float64(original.W) / float64(workW)
	fy := float64(original.H) / float64(workH)
	return geometry.Rect{
		Top:    int(math.Floor(float64(r.Top) * fy)),
		Left:   int(math.Floor(float64(r.Left) * fx)),
		Bottom: int(math.Ceil(float64(r.Bottom) * fy)),
		Right:  int(math.Ceil(float64(r.Right) * fx)),
	}
}

// Detect scans p for pixels with any of R, G, B below threshold. Top and
// bottom come from full-row scans; left and right are searched only within
// the rows [top, bottom)
func Detect(p Pixels, threshold uint8) (geometry.Rect, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return geometry.Rect{}, fmt.Errorf("%w: %dx%d", ErrInvalidInput, p.Width, p.Height)
	}
	if len(p.Pix) != p.Width*p.Height*4 {
		return geometry.Rect{}, fmt.Errorf("%w: %d samples for %dx%d", ErrInvalidInput, len(p.Pix), p.Width, p.Height)
	}

	full := geometry.Rect{Top: 0, Left: 0, Bottom: p.Height, Right: p.Width}

	content := func(x, y int) bool {
		i := (y*p.Width + x) * 4
		return p.Pix[i] < threshold || p.Pix[i+1] < threshold || p.Pix[i+2] < threshold
	}
	rowHasContent := func(y int) bool {
		for x := 0; x < p.Width; x++ {
			if content(x, y) {
				return true
			}
		}
		return false
	}
	colHasContent := func(x, top, bottom int) bool {
		for y := top; y < bottom; y++ {
			if content(x, y) {
				return true
			}
		}
		return false
	}

	top := -1
	for y := 0; y < p.Height; y++ {
		if rowHasContent(y) {
			top = y
			break
		}
	}
	if top < 0 {
		return full, nil
	}

	bottom := top + 1
	for y := p.Height - 1; y > top; y-- {
		if rowHasContent(y) {
			bottom = y + 1
			break
		}
	}

	left := 0
	for x := 0; x < p.Width; x++ {
		if colHasContent(x, top, bottom) {
			left = x
			break
		}
	}

	right := left + 1
	for x := p.Width - 1; x > left; x-- {
		if colHasContent(x, top, bottom) {
			right = x + 1
			break
		}
	}

	return geometry.Rect{Top: top, Left: left, Bottom: bottom, Right: right}, nil
}
