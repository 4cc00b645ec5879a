package preprocess

import (
	"math"
	"strconv"
	"strings"
	"time"

	"datapulse/domain/dataset"
)

// missingTokens are raw strings normalized to an explicit missing value.
var missingTokens = map[string]bool{
	"":     true,
	"nan":  true,
	"null": true,
	"none": true,
	"na":   true,
	"n/a":  true,
}

// datetimeFormats are tried in order when parsing a cell as a date.
var datetimeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"2006-01",
}

// isMissingToken reports whether a raw cell should be treated as missing.
func isMissingToken(raw string) bool {
	return missingTokens[strings.ToLower(strings.TrimSpace(raw))]
}

// tryParseNumeric attempts to parse a raw cell as a float. Thousands
// separators, currency symbols, and percent signs are tolerated, in line
// with how messy exports actually arrive.
func tryParseNumeric(raw string) (float64, bool) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return 0, false
	}

	neg := false
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		clean = strings.TrimSuffix(strings.TrimPrefix(clean, "("), ")")
		neg = true
	}
	for _, sym := range []string{"$", "₹", "€", "£", "%"} {
		clean = strings.ReplaceAll(clean, sym, "")
	}
	clean = strings.ReplaceAll(clean, ",", "")
	clean = strings.TrimSpace(clean)
	if neg {
		clean = "-" + clean
	}

	val, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsInf(val, 0) || math.IsNaN(val) {
		return 0, false
	}
	return val, true
}

// tryParseDatetime attempts to parse a raw cell under the common date formats.
func tryParseDatetime(raw string) (time.Time, bool) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return time.Time{}, false
	}
	for _, format := range datetimeFormats {
		if t, err := time.Parse(format, clean); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// typeRatios counts how many non-missing cells of a column parse as each type.
type typeRatios struct {
	NonMissing   int
	NumericRatio float64
	DateRatio    float64
}

// analyzeColumn computes parse ratios for one raw column.
func analyzeColumn(raw []string) typeRatios {
	var r typeRatios
	numeric, date := 0, 0
	for _, cell := range raw {
		if isMissingToken(cell) {
			continue
		}
		r.NonMissing++
		if _, ok := tryParseNumeric(cell); ok {
			numeric++
		}
		if _, ok := tryParseDatetime(cell); ok {
			date++
		}
	}
	if r.NonMissing > 0 {
		r.NumericRatio = float64(numeric) / float64(r.NonMissing)
		r.DateRatio = float64(date) / float64(r.NonMissing)
	}
	return r
}

// inferType picks a column type from its parse ratios. A column is numeric if
// at least threshold of its non-missing values parse as numbers, datetime if
// at least threshold parse as dates; otherwise categorical. Numeric wins over
// datetime when both clear the bar (a column of plain years parses as both).
func inferType(r typeRatios, threshold float64) dataset.ValueType {
	if r.NonMissing == 0 {
		return dataset.ValueTypeCategorical
	}
	if r.NumericRatio >= threshold {
		return dataset.ValueTypeNumeric
	}
	if r.DateRatio >= threshold {
		return dataset.ValueTypeDatetime
	}
	return dataset.ValueTypeCategorical
}

// canonicalName normalizes a column header: trimmed, lowered, interior
// whitespace collapsed to underscores, punctuation dropped.
func canonicalName(name string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == ' ' || r == '\t' || r == '_' || r == '-':
			if !prevUnderscore && b.Len() > 0 {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
