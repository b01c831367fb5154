package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// Grouped amounts first (comma groups, then dot groups with a decimal
	// comma or several dot groups), then a plain digit run with an optional
	// decimal point or comma, then a bare fraction.
	pricePattern = regexp.MustCompile(
		`\d{1,3}(?:,\d{3})+(?:\.\d+)?` +
			`|\d{1,3}(?:\.\d{3})+,\d+` +
			`|\d{1,3}(?:\.\d{3}){2,}` +
			`|\d+(?:[.,]\d+)?` +
			`|\.\d+`)
	commaThousandsPattern = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d+)?$`)
	dotThousandsPattern   = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+,\d+$|^\d{1,3}(?:\.\d{3}){2,}$`)
)

// ExtractPrice returns the first number found in text, or 0 when there is none.
// "$1,234" yields 1234, "12,99" yields 12.99, "1.299,99" yields 1299.99 and
// ".99" yields 0.99. A single dot group such as "1.299" is read as a decimal.
func ExtractPrice(text string) float64 {
	match := pricePattern.FindString(text)
	if match == "" {
		return 0
	}
	return parseAmount(match)
}

// ExtractPriceFromSelection applies ExtractPrice to the text of the first
// element of sel. A nil or empty selection yields 0.
func ExtractPriceFromSelection(sel *goquery.Selection) float64 {
	if sel == nil || sel.Length() == 0 {
		return 0
	}
	return ExtractPrice(strings.TrimSpace(sel.First().Text()))
}

func parseAmount(s string) float64 {
	switch {
	case commaThousandsPattern.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case dotThousandsPattern.MatchString(s):
		s = strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
	default:
		s = strings.Replace(s, ",", ".", 1)
	}

	val, err := strconv.ParseFloat(s, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}
