package scanning

import (
	"context"
	"errors"
	"fmt"

	"github.com/zombor/receipt-crop/internal/candidates"
)

// Scanner extracts ranked field candidates from one encoded image chunk
type Scanner interface {
	// ScanReceipt analyzes an image and returns its candidates
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*candidates.Candidates, error)
	// Close closes the scanner and releases resources
	Close() error
}

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipts
const receiptScanPrompt = `You are analyzing a receipt or invoice, or one horizontal section of a long receipt. Carefully read all text in the image and list every plausible value for the following fields, best guess first:

1. **merchant**: The store or business name, usually the largest text near the top. Examples: "Walmart", "CVS Pharmacy", "FamilyMart".

2. **date**: The transaction or invoice date, exactly as printed or converted to YYYY-MM-DD. Receipts may use slashes, dots, dashes or 年/月/日 markers.

3. **category**: Short spending categories that fit the purchase, such as "Groceries", "Pharmacy", "Dining", "Transport".

4. **amount**: The final total, grand total or amount due, as a number in the smallest currency unit shown on the receipt (e.g. 1280 for ¥1,280, 4275 for $42.75).

Return ONLY valid JSON in this exact format:
{
  "merchant": ["Store Name"],
  "date": ["YYYY-MM-DD"],
  "category": ["Category"],
  "amount": [0]
}

Important:
- Every field is an array, ordered from most to least likely
- Use an empty array when a field is not visible in this image
- Amounts must be numbers, not strings
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// ErrUnsupportedContent is returned by scanners that cannot read a content
// type, such as a PDF kept as-is because it could not be rasterized
var ErrUnsupportedContent = errors.New("unsupported content type")

// imageFormat returns the short format name genai and logs expect, e.g. "jpeg"
func imageFormat(contentType string) string {
	switch contentType {
	case pdfContentType:
		return "pdf"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/heic", "image/heif":
		return "heic"
	default:
		return "jpeg"
	}
}

const pdfContentType = "application/pdf"

// requireImage rejects content that is not a raster image
func requireImage(contentType string) error {
	if contentType == pdfContentType {
		return fmt.Errorf("%w: %s", ErrUnsupportedContent, contentType)
	}
	return nil
}
