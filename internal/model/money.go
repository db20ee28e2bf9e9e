package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseCents converts decimal string amounts (major units) to cents.
// Use for processor APIs that return amounts like "99.00".
// Examples: "99.00" → 9900, "1234.56" → 123456, "" → 0
func ParseCents(s string) int64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d.Shift(2).Round(0).IntPart()
}

// ParseMinorUnits converts string amounts already in minor units to int64.
// Fractions are truncated.
// Examples: "8900" → 8900, "100.99" → 100, "" → 0
func ParseMinorUnits(s string) int64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d.IntPart()
}

// FormatCents renders cents as a major-unit string with two decimals.
// PayPal expects amounts in this form.
// Examples: 9900 → "99.00", 5 → "0.05", -150 → "-1.50"
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// zeroDecimalCurrencies have no minor unit; cents map 1:1 to the major unit
// when talking to processors.
var zeroDecimalCurrencies = map[string]bool{
	"jpy": true,
	"krw": true,
	"vnd": true,
	"clp": true,
}

// IsZeroDecimalCurrency reports whether the ISO currency has no minor unit.
func IsZeroDecimalCurrency(code string) bool {
	return zeroDecimalCurrencies[strings.ToLower(code)]
}
