package receipt

import (
	"errors"
	"time"

	"github.com/zombor/receipt-crop/internal/candidates"
	"github.com/zombor/receipt-crop/internal/geometry"
)

var (
	// ErrNotFound is returned for unknown receipts and transactions
	ErrNotFound = errors.New("not found")
	// ErrEditorNotOpen is returned for editor operations on a receipt without
	// an open editor
	ErrEditorNotOpen = errors.New("editor not open")
	// ErrNotEditable is returned when the stored image cannot be decoded, so
	// there is nothing to crop or redact
	ErrNotEditable = errors.New("receipt image cannot be edited")
	// ErrAlreadyLinked is returned when a receipt already has a transaction
	ErrAlreadyLinked = errors.New("receipt already has a transaction")
	// ErrInvalidSelection is returned for out-of-range candidate choices
	ErrInvalidSelection = errors.New("invalid candidate selection")
)

// Receipt represents an uploaded receipt image, its region geometry and the
// fields extracted from it
type Receipt struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Date        time.Time `json:"date"`
	Amount      int64     `json:"amount"` // Amount in minor currency units
	Category    string    `json:"category,omitempty"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`

	// Size is the natural size of the original image; zero when it could
	// not be decoded
	Size       geometry.Size         `json:"size"`
	Geometry   geometry.Geometry     `json:"geometry"`
	Candidates candidates.Candidates `json:"candidates"`
	// Passthrough is set when the last extraction used the unmodified file
	Passthrough bool `json:"passthrough,omitempty"`

	TransactionID string    `json:"transaction_id,omitempty"` // ID of the transaction created from this receipt
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Editable reports whether the original image was decoded
func (r *Receipt) Editable() bool {
	return r.Size.W > 0 && r.Size.H > 0
}

// Transaction is a financial record built from the chosen candidates of one
// receipt
type Transaction struct {
	ID        string    `json:"id"`
	ReceiptID string    `json:"receipt_id"`
	Payee     string    `json:"payee"`
	Date      time.Time `json:"date"`
	Amount    int64     `json:"amount"` // Amount in minor currency units
	Category  string    `json:"category,omitempty"`
	Memo      string    `json:"memo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Selection picks one candidate per field by index. Missing indices mean the
// top candidate
type Selection struct {
	Merchant int    `json:"merchant"`
	Date     int    `json:"date"`
	Amount   int    `json:"amount"`
	Category int    `json:"category"`
	Memo     string `json:"memo,omitempty"`
}
