package ledger

import "github.com/shopspring/decimal"

// MoneyPlaces is the precision every stored amount is rounded to.
const MoneyPlaces = 2

// Epsilon is the smallest monetary difference treated as drift.
var Epsilon = decimal.New(1, -MoneyPlaces)

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to two decimals.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// WithinEpsilon reports whether a and b differ by no more than Epsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

func clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}
