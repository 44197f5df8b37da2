package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-crop/internal/editor"
	"github.com/zombor/receipt-crop/internal/geometry"
	"github.com/zombor/receipt-crop/internal/scanning"
)

// maxUploadSize handles high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes an error response as {"error": message}
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrEditorNotOpen):
		return http.StatusNotFound
	case errors.Is(err, editor.ErrDragInProgress), errors.Is(err, ErrAlreadyLinked):
		return http.StatusConflict
	case errors.Is(err, geometry.ErrInvalidGeometry),
		errors.Is(err, editor.ErrInvalidCommand),
		errors.Is(err, editor.ErrNoSelection),
		errors.Is(err, ErrInvalidSelection):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotEditable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scanning.ErrScanFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// serviceError logs and writes a service error
func serviceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	jsonError(w, err.Error(), code)
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// contentTypeFor guesses a content type from the file extension
func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleUploadReceipt handles receipt upload
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		jsonError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(header.Filename)
	}

	receipt, err := s.service.ProcessReceipt(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptFile returns the original file for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handlePreview returns the cropped and redacted image for a receipt
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.Preview(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id")); err != nil {
		serviceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDetectBounds re-runs content detection for a receipt
func (s *Server) handleDetectBounds(w http.ResponseWriter, r *http.Request) {
	rect, err := s.service.DetectBounds(r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]geometry.Rect{"crop": rect})
}

// handleRescan re-extracts candidates with the saved geometry
func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.Rescan(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleOpenEditor opens an edit session sized to the rendered image
func (s *Server) handleOpenEditor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	overlay, err := s.service.OpenEditor(r.PathValue("id"), req.Width, req.Height)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, overlay)
}

// handleGetEditor returns the editor render model
func (s *Server) handleGetEditor(w http.ResponseWriter, r *http.Request) {
	overlay, err := s.service.Editor(r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overlay)
}

// handleEditorCommands applies a batch of editor commands. A single command
// object is accepted as a batch of one
func (s *Server) handleEditorCommands(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var cmds []editor.Command
	if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "{") {
		var cmd editor.Command
		if err := json.Unmarshal(body, &cmd); err != nil {
			jsonError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		cmds = []editor.Command{cmd}
	} else if err := json.Unmarshal(body, &cmds); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	overlay, err := s.service.EditorCommand(r.PathValue("id"), cmds)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusNotFound {
			serviceError(w, r, err)
			return
		}
		setCORSHeaders(w)
		writeJSON(w, code, map[string]any{"error": err.Error(), "editor": overlay})
		return
	}
	writeJSON(w, http.StatusOK, overlay)
}

// handleCommitEditor bakes the session geometry in and re-extracts
func (s *Server) handleCommitEditor(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.CommitEditor(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleDiscardEditor closes the editor without committing
func (s *Server) handleDiscardEditor(w http.ResponseWriter, r *http.Request) {
	g, err := s.service.DiscardEditor(r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]geometry.Geometry{"geometry": g})
}

// handleListTransactions returns a list of all transactions
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	transactions, err := s.service.ListTransactions()
	if err != nil {
		serviceError(w, r, err)
		return
	}

	// Ensure we always return an array, not nil
	if transactions == nil {
		transactions = []*Transaction{}
	}
	writeJSON(w, http.StatusOK, transactions)
}

// handleCreateTransaction creates a transaction from a receipt's candidates
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiptID string `json:"receipt_id"`
		Selection
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ReceiptID == "" {
		jsonError(w, "receipt_id is required", http.StatusBadRequest)
		return
	}

	transaction, err := s.service.CreateTransaction(req.ReceiptID, req.Selection)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transaction)
}

// handleGetTransaction returns a transaction with its receipt
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	transaction, receipt, err := s.service.GetTransactionWithReceipt(r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transaction": transaction,
		"receipt":     receipt,
	})
}
