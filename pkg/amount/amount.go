// Package amount converts between the settlement ledger's fixed-point
// decimal strings and integer minor units. All conversions are exact; no
// value ever passes through a float.
package amount

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LedgerPrecision is the number of decimal places of the settlement ledger's
// fixed-point amount fields.
const LedgerPrecision = 7

// ParseLedgerAmount converts a fixed-point decimal string such as
// "123.4567890" into integer minor units ("1234567890").
func ParseLedgerAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid ledger amount %q: %w", s, err)
	}

	minor := d.Shift(LedgerPrecision)
	if !minor.IsInteger() {
		return decimal.Zero, fmt.Errorf("ledger amount %q exceeds %d decimal places", s, LedgerPrecision)
	}
	return minor, nil
}

// FormatLedgerAmount converts integer minor units back into the ledger's
// fixed-point decimal string.
func FormatLedgerAmount(minor decimal.Decimal) (string, error) {
	if !minor.IsInteger() {
		return "", fmt.Errorf("minor units %s must be an integer", minor)
	}
	return minor.Shift(-LedgerPrecision).StringFixed(LedgerPrecision), nil
}

// CheckNonNegative rejects negative amounts.
func CheckNonNegative(d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("amount %s is negative", d)
	}
	return nil
}
