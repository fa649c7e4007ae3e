package cart

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/convocart/convocart/core"
)

// Catalog prices travel as decimal strings ("12.50"). Arithmetic happens in
// integer minor units to keep totals exact.

// ParseMinor converts a decimal price string to minor currency units.
func ParseMinor(price string) (int64, error) {
	price = strings.TrimSpace(price)
	if price == "" {
		return 0, nil
	}

	neg := false
	if strings.HasPrefix(price, "-") {
		neg = true
		price = price[1:]
	}

	whole := price
	frac := "00"
	if i := strings.Index(price, "."); i >= 0 {
		whole = price[:i]
		frac = price[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	switch len(frac) {
	case 0:
		frac = "00"
	case 1:
		frac += "0"
	case 2:
	default:
		frac = frac[:2]
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", price, core.ErrInvalidConfiguration)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", price, core.ErrInvalidConfiguration)
	}

	minor := w*100 + f
	if neg {
		minor = -minor
	}
	return minor, nil
}

// FormatMinor renders minor units as a two-decimal string.
func FormatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
