package order

import "github.com/shopspring/decimal"

// DefaultFeeRate is the taker fee assumed when sizing buys.
const DefaultFeeRate = 0.0028

const unitPlaces = 8

// BuyUnits sizes a market buy: min(available, budget) / ask, less the fee,
// truncated to 8 decimals. A non-positive budget spends all of available.
func BuyUnits(availableKRW, budgetKRW, ask, feeRate float64) float64 {
	if ask <= 0 || availableKRW <= 0 {
		return 0
	}
	spend := availableKRW
	if budgetKRW > 0 && budgetKRW < spend {
		spend = budgetKRW
	}
	net := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(feeRate))
	units := decimal.NewFromFloat(spend).
		Div(decimal.NewFromFloat(ask)).
		Mul(net).
		Truncate(unitPlaces)
	return units.InexactFloat64()
}

// SellUnits is available*fraction truncated to 8 decimals; fraction is
// clamped to (0, 1].
func SellUnits(available, fraction float64) float64 {
	if available <= 0 || fraction <= 0 {
		return 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return decimal.NewFromFloat(available).
		Mul(decimal.NewFromFloat(fraction)).
		Truncate(unitPlaces).
		InexactFloat64()
}

func fmtKRW(v float64) string {
	return decimal.NewFromFloat(v).Round(2).String()
}

func fmtUnits(v float64) string {
	return decimal.NewFromFloat(v).Truncate(unitPlaces).String()
}
