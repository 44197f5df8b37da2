package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-crop/internal/candidates"
	"github.com/zombor/receipt-crop/internal/raster"
)

// ErrScanFailed is returned when no chunk of an image could be scanned
var ErrScanFailed = errors.New("scanning failed")

// PipelineOptions bound the extraction calls
type PipelineOptions struct {
	// Timeout limits each chunk's scan. Zero means no limit
	Timeout time.Duration
	// Concurrency is the number of chunks scanned at once
	Concurrency int
}

// DefaultPipelineOptions returns the standard limits
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		Timeout:     90 * time.Second,
		Concurrency: 3,
	}
}

// Pipeline submits every chunk of a composited image to a Scanner and merges
// the results
type Pipeline struct {
	scanner Scanner
	opts    PipelineOptions
}

// NewPipeline creates a Pipeline
func NewPipeline(scanner Scanner, opts PipelineOptions) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Timeout < 0 {
		opts.Timeout = 0
	}
	return &Pipeline{scanner: scanner, opts: opts}
}

// Extract scans each chunk independently and returns the merged, normalised
// candidates in chunk order. Chunks that fail are logged and skipped; an
// error is returned only when every chunk fails
func (p *Pipeline) Extract(ctx context.Context, chunks []raster.Chunk) (*candidates.Candidates, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to scan")
	}

	results := make([]*candidates.Candidates, len(chunks))
	errs := make([]error, len(chunks))

	var grp errgroup.Group
	grp.SetLimit(p.opts.Concurrency)
	for i, chunk := range chunks {
		grp.Go(func() error {
			scanCtx := ctx
			if p.opts.Timeout > 0 {
				var cancel context.CancelFunc
				scanCtx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
				defer cancel()
			}

			c, err := p.scanner.ScanReceipt(scanCtx, chunk.Data, chunk.ContentType)
			if err != nil {
				slog.Warn("Failed to scan chunk", "chunk", chunk.Index, "error", err)
				errs[i] = fmt.Errorf("chunk %d: %w", chunk.Index, err)
				return nil
			}
			results[i] = c
			return nil
		})
	}
	_ = grp.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ok := false
	for _, c := range results {
		if c != nil {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, errors.Join(errs...))
	}

	return candidates.Normalize(candidates.Merge(results...)), nil
}
