package scanning

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/receipt-crop/internal/candidates"
)

// rawCandidates accepts each field as a single value or an array
type rawCandidates struct {
	Merchant json.RawMessage `json:"merchant"`
	Title    json.RawMessage `json:"title"`
	Date     json.RawMessage `json:"date"`
	Category json.RawMessage `json:"category"`
	Amount   json.RawMessage `json:"amount"`
}

// parseCandidatesJSON parses a model response into candidates. The response
// may be wrapped in markdown fences or surrounding prose
func parseCandidatesJSON(text string) (*candidates.Candidates, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw rawCandidates
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	c := &candidates.Candidates{
		Merchant: stringList(raw.Merchant),
		Date:     stringList(raw.Date),
		Category: stringList(raw.Category),
	}
	// Older prompts answered with a single "title"
	if len(c.Merchant) == 0 {
		c.Merchant = stringList(raw.Title)
	}

	for _, v := range anyList(raw.Amount) {
		amount, err := candidates.ParseAmount(v)
		if err != nil {
			slog.Debug("Skipping amount candidate", "value", v, "error", err)
			continue
		}
		c.Amount = append(c.Amount, amount)
	}

	return c, nil
}

func anyList(raw json.RawMessage) []any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

func stringList(raw json.RawMessage) []string {
	var out []string
	for _, v := range anyList(raw) {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case float64:
			out = append(out, fmt.Sprint(t))
		}
	}
	return out
}
