package candidates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Candidates are the ranked field values extracted from a receipt. Index 0
// is the best guess for each field
type Candidates struct {
	Merchant []string `json:"merchant"`
	Date     []string `json:"date"`
	Category []string `json:"category"`
	// Amount is in minor currency units
	Amount []int64 `json:"amount"`
}

// Merge concatenates results in order, so candidates from earlier chunks keep
// their higher rank
func Merge(results ...*Candidates) *Candidates {
	out := &Candidates{}
	for _, c := range results {
		if c == nil {
			continue
		}
		out.Merchant = append(out.Merchant, c.Merchant...)
		out.Date = append(out.Date, c.Date...)
		out.Category = append(out.Category, c.Category...)
		out.Amount = append(out.Amount, c.Amount...)
	}
	return out
}

// Normalize canonicalises dates, drops unparseable ones and deduplicates every
// field while keeping rank order
func Normalize(c *Candidates) *Candidates {
	if c == nil {
		return &Candidates{}
	}
	dates := make([]string, 0, len(c.Date))
	for _, d := range c.Date {
		if n := NormalizeDate(d); n != "" {
			dates = append(dates, n)
		}
	}
	return &Candidates{
		Merchant: Dedupe(c.Merchant),
		Date:     Dedupe(dates),
		Category: Dedupe(c.Category),
		Amount:   DedupeAmounts(c.Amount),
	}
}

// Dedupe removes case- and whitespace-insensitive duplicates, keeping the
// first occurrence. Blank values are dropped
func Dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(strings.Join(strings.Fields(v), " "))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// DedupeAmounts removes repeated amounts, keeping the first occurrence
func DedupeAmounts(values []int64) []int64 {
	out := make([]int64, 0, len(values))
	seen := make(map[int64]bool, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

var dateSeparators = regexp.MustCompile(`[/.\-\s年月日]+`)

// NormalizeDate converts dates such as "2026/01/01", "26.1.1" or
// "2026年01月01日" into "2026-01-01". A four-digit part is the year wherever it
// appears and the remaining parts are month then day; otherwise the first
// part is the year. Two-digit years are prefixed with "20". Dates that are not
// on the calendar normalise to ""
func NormalizeDate(s string) string {
	var parts []string
	for _, p := range dateSeparators.Split(strings.TrimSpace(s), -1) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) != 3 {
		return ""
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return ""
		}
		nums[i] = n
	}

	yearIdx := 0
	for i, p := range parts {
		if len(p) == 4 {
			yearIdx = i
			break
		}
	}
	rest := make([]int, 0, 2)
	for i, n := range nums {
		if i != yearIdx {
			rest = append(rest, n)
		}
	}

	y := nums[yearIdx]
	switch len(parts[yearIdx]) {
	case 4:
	case 1, 2:
		y += 2000
	default:
		return ""
	}
	m, d := rest[0], rest[1]

	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return ""
	}
	return t.Format("2006-01-02")
}

var amountJunk = regexp.MustCompile(`[^0-9.\-]`)

// ParseAmount reads an amount such as "1,280", "¥1280" or 12.5 and rounds it
// to a whole number of minor units
func ParseAmount(v any) (int64, error) {
	var d decimal.Decimal
	switch t := v.(type) {
	case float64:
		d = decimal.NewFromFloat(t)
	case int:
		d = decimal.NewFromInt(int64(t))
	case int64:
		d = decimal.NewFromInt(t)
	case string:
		cleaned := amountJunk.ReplaceAllString(t, "")
		if cleaned == "" {
			return 0, fmt.Errorf("no digits in amount %q", t)
		}
		var err error
		d, err = decimal.NewFromString(cleaned)
		if err != nil {
			return 0, fmt.Errorf("parsing amount %q: %w", t, err)
		}
	default:
		return 0, fmt.Errorf("unsupported amount type %T", v)
	}
	return d.Round(0).IntPart(), nil
}
