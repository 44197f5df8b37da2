package scanning

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/receipt-crop/internal/candidates"
)

// Tesseract implements the Scanner interface with local OCR and text
// heuristics. It needs no network but finds no categories
type Tesseract struct {
	languages []string
}

// NewTesseract creates a Tesseract scanner for the given languages,
// e.g. "eng", "jpn"
func NewTesseract(languages ...string) *Tesseract {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Tesseract{languages: languages}
}

// ScanReceipt runs OCR on a chunk and extracts candidates from the text
func (t *Tesseract) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*candidates.Candidates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := requireImage(contentType); err != nil {
		return nil, err
	}

	// gosseract clients are not safe for concurrent use; one per call
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("setting languages: %w", err)
	}
	if err := client.SetImageFromBytes(imageData); err != nil {
		return nil, fmt.Errorf("setting image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR: %w", err)
	}

	return candidatesFromText(text), nil
}

// Close is a no-op; clients are released after each scan
func (t *Tesseract) Close() error {
	return nil
}

var (
	datePattern   = regexp.MustCompile(`\d{2,4}\s*[/.\-年]\s*\d{1,2}\s*[/.\-月]\s*\d{1,4}日?`)
	amountPattern = regexp.MustCompile(`[-]?\d{1,3}(?:[,，]\d{3})+(?:\.\d+)?|[-]?\d+(?:\.\d+)?`)
	cents         = regexp.MustCompile(`\.\d{2}$`)
	totalPattern  = regexp.MustCompile(`(?i)grand\s*total|amount\s*due|total|合計|合计|お支払|税込`)
)

// candidatesFromText picks merchant, date and amount candidates out of OCR
// text. Lines naming a total rank their amounts first, largest first
func candidatesFromText(text string) *candidates.Candidates {
	c := &candidates.Candidates{}
	var totals, others []int64

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if len(c.Merchant) < 3 && hasLetters(line) && !datePattern.MatchString(line) && !totalPattern.MatchString(line) {
			c.Merchant = append(c.Merchant, line)
		}

		c.Date = append(c.Date, datePattern.FindAllString(line, -1)...)

		rest := datePattern.ReplaceAllString(line, " ")
		for _, m := range amountPattern.FindAllString(rest, -1) {
			digits := m
			// "42.75" is read as 4275 minor units
			if cents.MatchString(m) {
				digits = strings.Replace(m, ".", "", 1)
			}
			v, err := candidates.ParseAmount(digits)
			if err != nil || v <= 0 {
				continue
			}
			if totalPattern.MatchString(line) {
				totals = append(totals, v)
			} else if strings.ContainsAny(m, ".,，") {
				others = append(others, v)
			}
		}
	}

	slices.Sort(totals)
	slices.Reverse(totals)
	slices.Sort(others)
	slices.Reverse(others)
	c.Amount = append(totals, others...)
	return c
}

func hasLetters(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
