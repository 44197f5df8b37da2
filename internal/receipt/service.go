package receipt

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-crop/internal/bounds"
	"github.com/zombor/receipt-crop/internal/editor"
	"github.com/zombor/receipt-crop/internal/geometry"
	"github.com/zombor/receipt-crop/internal/raster"
	"github.com/zombor/receipt-crop/internal/scanning"
)

// IDGenerator generates unique IDs for receipts and transactions
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Options configure the image pipeline behind the service
type Options struct {
	Bounds     bounds.Options
	Compositor raster.Options
	Pipeline   scanning.PipelineOptions
	Editor     editor.Options
}

// DefaultOptions returns the standard settings of every stage
func DefaultOptions() Options {
	return Options{
		Bounds:     bounds.DefaultOptions(),
		Compositor: raster.DefaultOptions(),
		Pipeline:   scanning.DefaultPipelineOptions(),
		Editor:     editor.DefaultOptions(),
	}
}

// Service handles receipt operations
type Service struct {
	db          DB
	storage     Storage
	pipeline    *scanning.Pipeline
	detector    *bounds.Detector
	compositor  *raster.Compositor
	editors     *editorRegistry
	locks       *receiptLocks
	editorOpts  editor.Options
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner scanning.Scanner, storage Storage, opts Options) *Service {
	return NewServiceWithDeps(db, scanner, storage, opts, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, opts Options, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		pipeline:    scanning.NewPipeline(scanner, opts.Pipeline),
		detector:    bounds.NewDetector(opts.Bounds),
		compositor:  raster.NewCompositor(opts.Compositor),
		editors:     newEditorRegistry(),
		locks:       newReceiptLocks(),
		editorOpts:  opts.Editor,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	filenameJunk   = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	ext = filenameJunk.ReplaceAllString(ext[min(len(ext), 1):], "")
	if ext != "" {
		ext = "." + ext
	}

	base = filenameJunk.ReplaceAllString(base, "")
	base = filenameSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Truncate to reasonable length (50 chars for base, plus extension)
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

func sizeOf(img image.Image) geometry.Size {
	b := img.Bounds()
	return geometry.Size{W: b.Dx(), H: b.Dy()}
}

// ProcessReceipt stores an upload, auto-crops it, extracts candidates from
// the composited chunks and saves the receipt
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType string) (*Receipt, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()
	contentType = raster.NormalizeContentType(contentType)

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	receipt := &Receipt{
		ID:          id,
		Filename:    savedPath,
		ContentType: contentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var result *raster.Result
	src, err := raster.Decode(data, contentType)
	if err != nil {
		slog.Warn("Failed to decode receipt, scanning original", "filename", filename, "content_type", contentType, "error", err)
		result = raster.Passthrough(data, contentType)
	} else {
		receipt.Size = sizeOf(src)
		receipt.Geometry.Crop = s.autoCrop(src)
		result, err = s.compositor.Compose(ctx, src, receipt.Geometry)
		if err != nil {
			s.storage.Delete(savedPath)
			return nil, fmt.Errorf("composing receipt: %w", err)
		}
	}

	if err := s.extract(ctx, receipt, result); err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"chunks", len(result.Chunks),
			"error", err,
		)
		// Clean up the saved file since scanning failed
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	if err := s.db.SaveReceipt(receipt); err != nil {
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Processed receipt", "id", id, "size", fmt.Sprintf("%dx%d", receipt.Size.W, receipt.Size.H), "chunks", len(result.Chunks))
	return receipt, nil
}

// autoCrop returns the detected content bounds, or nil for the full image
func (s *Service) autoCrop(src image.Image) *geometry.Rect {
	r, err := s.detector.DetectImage(src)
	if err != nil {
		slog.Warn("Failed to detect content bounds", "error", err)
		return nil
	}
	if r == sizeOf(src).Bounds() {
		return nil
	}
	return &r
}

// extract scans the chunks and applies the top candidate of each field
func (s *Service) extract(ctx context.Context, receipt *Receipt, result *raster.Result) error {
	found, err := s.pipeline.Extract(ctx, result.Chunks)
	if err != nil {
		return err
	}

	receipt.Candidates = *found
	receipt.Passthrough = result.Fallback

	receipt.Title = "Unknown Expense"
	if len(found.Merchant) > 0 {
		receipt.Title = found.Merchant[0]
	}
	receipt.Date = s.timeSource.Now()
	if len(found.Date) > 0 {
		if d, err := time.Parse("2006-01-02", found.Date[0]); err == nil {
			receipt.Date = d
		}
	}
	receipt.Amount = 0
	if len(found.Amount) > 0 {
		receipt.Amount = found.Amount[0]
	}
	receipt.Category = ""
	if len(found.Category) > 0 {
		receipt.Category = found.Category[0]
	}
	return nil
}

// loadOriginal returns a receipt and its stored file
func (s *Service) loadOriginal(id string) (*Receipt, []byte, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting receipt: %w", err)
	}
	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, nil, fmt.Errorf("getting receipt file: %w", err)
	}
	return receipt, data, nil
}

// decodeOriginal decodes a stored file for editing
func decodeOriginal(receipt *Receipt, data []byte) (image.Image, error) {
	src, err := raster.Decode(data, receipt.ContentType)
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w: %w", receipt.ID, ErrNotEditable, err)
	}
	return src, nil
}

// DetectBounds re-runs content detection on the stored original. Blank
// images yield the full frame
func (s *Service) DetectBounds(id string) (geometry.Rect, error) {
	receipt, data, err := s.loadOriginal(id)
	if err != nil {
		return geometry.Rect{}, err
	}
	src, err := decodeOriginal(receipt, data)
	if err != nil {
		return geometry.Rect{}, err
	}
	if crop := s.autoCrop(src); crop != nil {
		return *crop, nil
	}
	return sizeOf(src).Bounds(), nil
}

// OpenEditor starts an edit session seeded with the receipt's saved
// geometry. A session already open for the receipt is replaced
func (s *Service) OpenEditor(id string, displayW, displayH float64) (editor.Overlay, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return editor.Overlay{}, fmt.Errorf("getting receipt: %w", err)
	}
	if !receipt.Editable() {
		return editor.Overlay{}, fmt.Errorf("receipt %s: %w", id, ErrNotEditable)
	}

	session, err := editor.Open(receipt.Size, receipt.Geometry, displayW, displayH, s.editorOpts)
	if err != nil {
		return editor.Overlay{}, fmt.Errorf("opening editor: %w", err)
	}
	s.editors.open(id, session)
	slog.Info("Opened editor", "receipt", id, "session", session.ID())
	return session.Overlay(), nil
}

// Editor returns the render model of an open editor
func (s *Service) Editor(id string) (editor.Overlay, error) {
	var overlay editor.Overlay
	err := s.editors.with(id, func(session *editor.Session) error {
		overlay = session.Overlay()
		return nil
	})
	return overlay, err
}

// EditorCommand applies commands in order to an open editor and returns the
// resulting render model, also when a command fails
func (s *Service) EditorCommand(id string, cmds []editor.Command) (editor.Overlay, error) {
	var overlay editor.Overlay
	err := s.editors.with(id, func(session *editor.Session) error {
		_, err := session.ApplyAll(cmds)
		overlay = session.Overlay()
		return err
	})
	return overlay, err
}

// CommitEditor composites the session's geometry, re-extracts candidates and
// persists both, closing the editor. On failure the session stays open and
// uncommitted so the user can retry
func (s *Service) CommitEditor(ctx context.Context, id string) (*Receipt, error) {
	var out *Receipt
	err := s.editors.with(id, func(session *editor.Session) error {
		if session.Dragging() {
			return editor.ErrDragInProgress
		}
		g := session.Geometry()

		unlock := s.locks.lock(id)
		defer unlock()

		receipt, data, err := s.loadOriginal(id)
		if err != nil {
			return err
		}
		src, err := decodeOriginal(receipt, data)
		if err != nil {
			return err
		}

		result, err := s.compositor.Compose(ctx, src, g)
		if err != nil {
			slog.Error("Failed to composite receipt", "id", id, "error", err)
			return fmt.Errorf("composing receipt: %w", err)
		}
		if err := s.extract(ctx, receipt, result); err != nil {
			slog.Error("Failed to scan receipt", "id", id, "chunks", len(result.Chunks), "error", err)
			return fmt.Errorf("scanning receipt: %w", err)
		}

		receipt.Geometry = g
		receipt.UpdatedAt = s.timeSource.Now()
		if err := s.db.SaveReceipt(receipt); err != nil {
			return fmt.Errorf("saving receipt to database: %w", err)
		}
		if _, err := session.Commit(); err != nil {
			return err
		}

		s.editors.close(id, session.ID())
		out = receipt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DiscardEditor drops uncommitted edits and closes the editor, returning the
// last committed geometry
func (s *Service) DiscardEditor(id string) (geometry.Geometry, error) {
	var g geometry.Geometry
	err := s.editors.with(id, func(session *editor.Session) error {
		g = session.Discard()
		s.editors.close(id, session.ID())
		return nil
	})
	return g, err
}

// Rescan composites the saved geometry and re-extracts candidates
func (s *Service) Rescan(ctx context.Context, id string) (*Receipt, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	receipt, data, err := s.loadOriginal(id)
	if err != nil {
		return nil, err
	}

	result, err := s.compositor.ComposeData(ctx, data, receipt.ContentType, receipt.Geometry)
	if err != nil {
		return nil, fmt.Errorf("composing receipt: %w", err)
	}
	if err := s.extract(ctx, receipt, result); err != nil {
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	receipt.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	return receipt, nil
}

// Preview returns the composited image for the saved geometry
func (s *Service) Preview(ctx context.Context, id string) ([]byte, string, error) {
	receipt, data, err := s.loadOriginal(id)
	if err != nil {
		return nil, "", err
	}
	result, err := s.compositor.ComposeData(ctx, data, receipt.ContentType, receipt.Geometry)
	if err != nil {
		return nil, "", fmt.Errorf("composing receipt: %w", err)
	}
	return result.Primary, result.ContentType, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt, its file and any open editor. It waits
// for a commit or rescan already writing the receipt
func (s *Service) DeleteReceipt(id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	s.editors.close(id, "")

	if err := s.storage.Delete(receipt.Filename); err != nil {
		// Log error but continue with database deletion
		slog.Warn("Failed to delete file", "filename", receipt.Filename, "error", err)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the original file data for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, data, err := s.loadOriginal(id)
	if err != nil {
		return nil, "", err
	}
	return data, receipt.ContentType, nil
}

func pick[T any](field string, values []T, i int, fallback T) (T, error) {
	if i == 0 && len(values) == 0 {
		return fallback, nil
	}
	if i < 0 || i >= len(values) {
		var zero T
		return zero, fmt.Errorf("%w: %s %d of %d", ErrInvalidSelection, field, i, len(values))
	}
	return values[i], nil
}

// CreateTransaction turns the selected candidates of a receipt into a
// transaction and links the receipt to it
func (s *Service) CreateTransaction(receiptID string, sel Selection) (*Transaction, error) {
	unlock := s.locks.lock(receiptID)
	defer unlock()

	receipt, err := s.db.GetReceipt(receiptID)
	if err != nil {
		return nil, fmt.Errorf("getting receipt %s: %w", receiptID, err)
	}
	if receipt.TransactionID != "" {
		return nil, fmt.Errorf("receipt %s: %w", receiptID, ErrAlreadyLinked)
	}

	c := receipt.Candidates
	payee, err := pick("merchant", c.Merchant, sel.Merchant, receipt.Title)
	if err != nil {
		return nil, err
	}
	dateText, err := pick("date", c.Date, sel.Date, receipt.Date.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	date, err := time.Parse("2006-01-02", dateText)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q", ErrInvalidSelection, dateText)
	}
	amount, err := pick("amount", c.Amount, sel.Amount, receipt.Amount)
	if err != nil {
		return nil, err
	}
	category, err := pick("category", c.Category, sel.Category, receipt.Category)
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	transaction := &Transaction{
		ID:        s.idGenerator.Generate(),
		ReceiptID: receiptID,
		Payee:     payee,
		Date:      date,
		Amount:    amount,
		Category:  category,
		Memo:      sel.Memo,
		CreatedAt: now,
		UpdatedAt: now,
	}

	receipt.TransactionID = transaction.ID
	receipt.UpdatedAt = now
	if err := s.db.SaveTransaction(transaction, receipt); err != nil {
		return nil, fmt.Errorf("saving transaction: %w", err)
	}

	return transaction, nil
}

// GetTransaction retrieves a transaction by ID
func (s *Service) GetTransaction(id string) (*Transaction, error) {
	transaction, err := s.db.GetTransaction(id)
	if err != nil {
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	return transaction, nil
}

// GetTransactionWithReceipt retrieves a transaction with its receipt
func (s *Service) GetTransactionWithReceipt(id string) (*Transaction, *Receipt, error) {
	transaction, err := s.GetTransaction(id)
	if err != nil {
		return nil, nil, err
	}
	receipt, err := s.db.GetReceipt(transaction.ReceiptID)
	if err != nil {
		slog.Warn("Transaction receipt missing", "transaction", id, "receipt", transaction.ReceiptID, "error", err)
		return transaction, nil, nil
	}
	return transaction, receipt, nil
}

// ListTransactions returns all transactions
func (s *Service) ListTransactions() ([]*Transaction, error) {
	transactions, err := s.db.ListTransactions()
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return transactions, nil
}
