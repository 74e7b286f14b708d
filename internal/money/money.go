// Package money converts between the ledger's decimal major units and the
// integer minor units the payment gateway speaks.
package money

import "github.com/shopspring/decimal"

// ToMinor converts a major-unit amount to minor units (e.g. 100.00 -> 10000),
// rounding half away from zero like the gateway expects.
func ToMinor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromMinor converts minor units back to a major-unit decimal.
func FromMinor(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}

// WithinEpsilon reports whether a and b differ by at most eps.
func WithinEpsilon(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(eps)
}

// AbsDiffMinor returns |a-b| for two minor-unit amounts.
func AbsDiffMinor(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
