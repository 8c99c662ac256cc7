// Package money converts between decimal strings used on the wire and the
// integer minor units the ledger stores.
package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the number of minor-unit digits (cents).
const Scale = 2

var ErrMalformed = errors.New("malformed amount")

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Parse turns "12.5" into 1250. It rejects values with more precision than
// Scale and values outside int64. The sign is preserved; callers decide
// whether negatives are allowed.
func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	scaled := d.Shift(Scale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrMalformed, s, Scale)
	}
	if scaled.Abs().GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %q is out of range", ErrMalformed, s)
	}
	return scaled.IntPart(), nil
}

// Format renders minor units with exactly Scale decimals: 1250 -> "12.50".
func Format(minor int64) string {
	return decimal.New(minor, -Scale).StringFixed(Scale)
}
