package parser

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// NormalizePrice removes the currency symbol, including the "Â£" form left
// behind when UTF-8 text was decoded as Latin-1, and surrounding whitespace.
func NormalizePrice(price string) string {
	price = repairLatin1(strings.TrimSpace(price))
	price = strings.ReplaceAll(price, "Â£", "")
	price = strings.ReplaceAll(price, "£", "")
	return strings.TrimSpace(price)
}

// ParsePrice converts listing price text such as "£51.77" into a positive amount.
func ParsePrice(text string) (float64, error) {
	cleaned := NormalizePrice(text)
	if cleaned == "" {
		return 0, &PriceParseError{Text: text}
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, &PriceParseError{Text: text, Err: err}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return 0, &PriceParseError{Text: text}
	}
	return value, nil
}

// repairLatin1 undoes a UTF-8 to Latin-1 mis-decode. Text that does not
// round-trip into valid UTF-8 is returned unchanged.
func repairLatin1(s string) string {
	raw, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil || !utf8.ValidString(raw) {
		return s
	}
	return raw
}
