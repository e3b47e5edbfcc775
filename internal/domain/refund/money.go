package refund

import (
	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits carried by every money field.
const AmountScale = 2

var (
	// ConsumedTolerance is the remaining balance at or below which an
	// instrument counts as fully consumed.
	ConsumedTolerance = decimal.NewFromFloat(0.001)

	// ReconcileTolerance is the allowed difference between the sum of line
	// items and the refund amount. Both sides carry two digits, so any
	// difference of a full minor unit is rejected.
	ReconcileTolerance = decimal.NewFromFloat(0.001)

	minorUnitFactor = decimal.NewFromInt(100)
)

// RoundAmount rounds a monetary amount to AmountScale fractional digits.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// ToMinorUnits converts an amount to the gateway's minor unit (e.g. paise or
// cents). The result is rounded to the nearest unit, never truncated.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnitFactor).Round(0).IntPart()
}

// FromMinorUnits converts a minor-unit integer back into a decimal amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(minorUnitFactor).Round(AmountScale)
}

// IsConsumed reports whether a remaining balance is small enough to treat as zero.
func IsConsumed(remaining decimal.Decimal) bool {
	return remaining.LessThanOrEqual(ConsumedTolerance)
}

// MinAmount returns the smaller of a and b.
func MinAmount(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// RefundStatusOf derives the cumulative refund status of anything that has a
// total and a sum of completed refunds against it.
func RefundStatusOf(total, refunded decimal.Decimal) SourceRefundStatus {
	switch {
	case refunded.IsPositive() && refunded.Add(ConsumedTolerance).GreaterThanOrEqual(total):
		return SourceRefundStatusFull
	case refunded.IsPositive():
		return SourceRefundStatusPartial
	default:
		return SourceRefundStatusNone
	}
}
