package domain

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

// Monetary amounts travel as fixed-2-decimal strings ("12.34") but all
// arithmetic is done on integer cents to avoid float drift in large sums.

// ParseAmount converts a decimal string into cents. Fractions beyond two
// digits are rounded half away from zero ("0.005" -> 1).
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" {
		intPart = "0"
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	cents := whole * 100
	if fracPart != "" {
		for _, r := range fracPart {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("invalid amount %q", s)
			}
		}
		padded := (fracPart + "00")[:2]
		frac, _ := strconv.ParseInt(padded, 10, 64)
		cents += frac
		// Round on the third fractional digit if present.
		if len(fracPart) > 2 && fracPart[2] >= '5' {
			cents++
		}
	}

	if neg {
		cents = -cents
	}
	return cents, nil
}

// FormatCents renders cents as a fixed-2-decimal string.
func FormatCents(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	s := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	if neg {
		return "-" + s
	}
	return s
}

// CentsToFloat converts cents to a display float (report rows only).
func CentsToFloat(cents int64) float64 {
	return float64(cents) / 100
}

// NormalizeCurrency uppercases a currency code, validating it as ISO 4217
// when possible. Unknown codes pass through uppercased rather than failing
// the record.
func NormalizeCurrency(code string) string {
	code = strings.TrimSpace(code)
	if unit, err := currency.ParseISO(code); err == nil {
		return unit.String()
	}
	return strings.ToUpper(code)
}
