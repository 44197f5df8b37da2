package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-crop/internal/geometry"
)

// ContentTypeJPEG is the content type of every composited output
const ContentTypeJPEG = "image/jpeg"

// Options tune encoding and chunking
type Options struct {
	// Quality is the JPEG quality, 1-100
	Quality int
	// SplitRatio is the height/width above which the output is split in two
	SplitRatio float64
	// SteepSplitRatio is the height/width above which it is split in three
	SteepSplitRatio float64
	// Overlap is the fraction of a chunk's height shared with its neighbour
	Overlap float64
}

// DefaultOptions returns the standard compositor settings
func DefaultOptions() Options {
	return Options{
		Quality:         92,
		SplitRatio:      1.8,
		SteepSplitRatio: 3.2,
		Overlap:         0.15,
	}
}

// Validate clamps values to safe ranges
func (o *Options) Validate() {
	def := DefaultOptions()
	if o.Quality < 1 || o.Quality > 100 {
		o.Quality = def.Quality
	}
	if o.SplitRatio <= 0 {
		o.SplitRatio = def.SplitRatio
	}
	if o.SteepSplitRatio < o.SplitRatio {
		o.SteepSplitRatio = math.Max(def.SteepSplitRatio, o.SplitRatio)
	}
	if o.Overlap < 0 || o.Overlap >= 0.5 {
		o.Overlap = def.Overlap
	}
}

// Chunk is one encoded segment of the composited image, top to bottom
type Chunk struct {
	Index       int
	Rows        geometry.Rect // position within the composited image
	Data        []byte
	ContentType string
}

// Result is the output of compositing one image
type Result struct {
	Primary     []byte
	ContentType string
	Size        geometry.Size
	Chunks      []Chunk
	// Fallback is set when the source could not be decoded and the original
	// bytes are passed through as the only chunk
	Fallback bool
}

// Compositor bakes crop and redaction geometry into encoded rasters
type Compositor struct {
	opts Options
}

// NewCompositor creates a Compositor
func NewCompositor(opts Options) *Compositor {
	opts.Validate()
	return &Compositor{opts: opts}
}

// Options returns the effective settings
func (c *Compositor) Options() Options {
	return c.opts
}

// Render copies the crop region of src into a new buffer and fills every
// redaction, translated into the cropped space, with solid black
func (c *Compositor) Render(src image.Image, g geometry.Geometry) (*image.NRGBA, error) {
	b := src.Bounds()
	size := geometry.Size{W: b.Dx(), H: b.Dy()}
	crop := g.CropOrFull(size)
	if err := crop.Validate(size); err != nil {
		return nil, fmt.Errorf("crop: %w", err)
	}

	out := imaging.Crop(src, crop.ImageRect().Add(b.Min))
	black := image.NewUniform(color.Black)
	for _, r := range g.Redactions {
		// Fills outside the buffer are clipped by draw.Draw
		draw.Draw(out, r.Translate(-crop.Left, -crop.Top).ImageRect(), black, image.Point{}, draw.Src)
	}
	return out, nil
}

// Compose renders src with g and encodes the primary output plus its chunks
func (c *Compositor) Compose(ctx context.Context, src image.Image, g geometry.Geometry) (*Result, error) {
	out, err := c.Render(src, g)
	if err != nil {
		return nil, err
	}

	size := geometry.Size{W: out.Bounds().Dx(), H: out.Bounds().Dy()}
	primary, err := c.encode(out)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Primary:     primary,
		ContentType: ContentTypeJPEG,
		Size:        size,
	}

	plan := PlanChunks(size, c.opts)
	if len(plan) == 1 {
		res.Chunks = []Chunk{{Index: 0, Rows: plan[0], Data: primary, ContentType: ContentTypeJPEG}}
		return res, nil
	}

	res.Chunks = make([]Chunk, len(plan))
	grp, ctx := errgroup.WithContext(ctx)
	for i, rows := range plan {
		grp.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := c.encode(imaging.Crop(out, rows.ImageRect()))
			if err != nil {
				return err
			}
			res.Chunks[i] = Chunk{Index: i, Rows: rows, Data: data, ContentType: ContentTypeJPEG}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// ComposeData decodes data and composes it. An undecodable source is passed
// through unmodified as the single chunk
func (c *Compositor) ComposeData(ctx context.Context, data []byte, contentType string, g geometry.Geometry) (*Result, error) {
	src, err := Decode(data, contentType)
	if err != nil {
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			return nil, err
		}
		slog.Warn("Falling back to original image", "content_type", contentType, "error", err)
		return Passthrough(data, contentType), nil
	}
	return c.Compose(ctx, src, g)
}

// Passthrough wraps unmodified source bytes as a single-chunk result
func Passthrough(data []byte, contentType string) *Result {
	ct := NormalizeContentType(contentType)
	return &Result{
		Primary:     data,
		ContentType: ct,
		Chunks:      []Chunk{{Index: 0, Data: data, ContentType: ct}},
		Fallback:    true,
	}
}

func (c *Compositor) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(c.opts.Quality)); err != nil {
		return nil, &EncodeError{Err: err}
	}
	return buf.Bytes(), nil
}

// PlanChunks splits an image of the given size into 1, 2 or 3 vertically
// overlapping row bands that exactly cover its height
func PlanChunks(size geometry.Size, opts Options) []geometry.Rect {
	full := size.Bounds()
	if size.W <= 0 || size.H <= 0 {
		return []geometry.Rect{full}
	}

	ratio := float64(size.H) / float64(size.W)
	n := 1
	switch {
	case ratio > opts.SteepSplitRatio:
		n = 3
	case ratio > opts.SplitRatio:
		n = 2
	}
	if n == 1 {
		return []geometry.Rect{full}
	}

	chunkH := int(math.Ceil(float64(size.H) / (float64(n) - float64(n-1)*opts.Overlap)))
	chunkH = min(chunkH, size.H)
	bands := make([]geometry.Rect, n)
	for i := range bands {
		top := int(math.Round(float64(i) * float64(size.H-chunkH) / float64(n-1)))
		bands[i] = geometry.Rect{Top: top, Left: 0, Bottom: top + chunkH, Right: size.W}
	}
	return bands
}
