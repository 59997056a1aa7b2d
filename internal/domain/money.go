package domain

import "github.com/shopspring/decimal"

// Monetary amounts are decimals rounded to 2 places at ledger boundaries;
// prices and quantities keep 4 places so weighted-average math does not
// accumulate drift across thousands of entries.
const (
	MoneyScale = 2
	PriceScale = 4
)

var (
	Zero    = decimal.Zero
	Hundred = decimal.NewFromInt(100)
)

// RoundMoney rounds an amount to ledger precision.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// RoundPrice rounds a price to quote precision.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(PriceScale)
}

// PercentOf returns base * percent / 100 at price precision.
func PercentOf(base, percent decimal.Decimal) decimal.Decimal {
	return base.Mul(percent).Div(Hundred)
}

// WeightedAvg returns the quantity-weighted average of an existing average
// cost and a new fill: (oldQty*oldAvg + qty*price) / (oldQty+qty).
func WeightedAvg(oldQty, oldAvg, qty, price decimal.Decimal) decimal.Decimal {
	total := oldQty.Add(qty)
	if total.IsZero() {
		return Zero
	}
	return RoundPrice(oldQty.Mul(oldAvg).Add(qty.Mul(price)).Div(total))
}
