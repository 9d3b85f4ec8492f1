package models

import (
	"github.com/shopspring/decimal"
)

// Amount bounds applied after rounding to cents.
var (
	MinEntryAmount = decimal.NewFromInt(1)
	MaxEntryAmount = decimal.NewFromInt(10_000_000)
)

// NormalizeAmount rounds a raw amount to 2 decimal places and checks that
// its magnitude lies within [MinEntryAmount, MaxEntryAmount].
func NormalizeAmount(raw *decimal.Decimal) (decimal.Decimal, error) {
	if raw == nil {
		return decimal.Zero, NewValidationError("amount is required")
	}
	amount := raw.Round(2)
	abs := amount.Abs()
	if abs.LessThan(MinEntryAmount) {
		return decimal.Zero, NewValidationError("amount must be at least 1 in magnitude")
	}
	if abs.GreaterThan(MaxEntryAmount) {
		return decimal.Zero, NewValidationError("amount must not exceed 10,000,000 in magnitude")
	}
	return amount, nil
}
