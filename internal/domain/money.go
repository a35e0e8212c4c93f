package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ApplyPercent returns amount reduced by pct percent, rounded to the currency unit.
func ApplyPercent(amount int64, pct decimal.Decimal) int64 {
	return amount - PercentOf(amount, pct)
}

// PercentOf returns pct percent of amount, rounded half away from zero.
func PercentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}

// PointsFor is floor(amount / 10000) scaled by the tier multiplier, floored.
func PointsFor(amount int64, multiplier decimal.Decimal) int64 {
	if amount <= 0 {
		return 0
	}
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	base := decimal.NewFromInt(amount / PointUnit)
	return base.Mul(multiplier).Floor().IntPart()
}

const PointUnit = 10000
