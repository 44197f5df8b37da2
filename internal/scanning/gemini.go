package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/receipt-crop/internal/candidates"
)

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// ScanReceipt analyzes a receipt chunk and extracts candidates
func (g *Gemini) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*candidates.Candidates, error) {
	parts := []genai.Part{
		contentPart(contentType, imageData),
		genai.Text(receiptScanPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	data, err := parseCandidatesJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}

	return data, nil
}

// contentPart wraps a chunk for the model. Gemini reads PDFs directly, so a
// document that could not be rasterized is sent as-is
func contentPart(contentType string, data []byte) genai.Part {
	if contentType == pdfContentType {
		return genai.Blob{MIMEType: pdfContentType, Data: data}
	}
	// genai.ImageData expects just the format suffix (e.g., "jpeg"), not the full MIME type
	return genai.ImageData(imageFormat(contentType), data)
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
