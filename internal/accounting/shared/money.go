package shared

import "github.com/shopspring/decimal"

// DefaultEpsilon is the tolerance below which debit and credit totals are considered equal.
var DefaultEpsilon = decimal.New(1, -2)

// Round2 rounds an amount to currency precision.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// Balanced reports |debit - credit| < epsilon.
func Balanced(debit, credit, epsilon decimal.Decimal) bool {
	if epsilon.LessThanOrEqual(decimal.Zero) {
		epsilon = DefaultEpsilon
	}
	return debit.Sub(credit).Abs().LessThan(epsilon)
}
