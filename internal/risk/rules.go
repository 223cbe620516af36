package risk

import (
	"fmt"

	"tradebot/internal/state"
)

// Reason names why a sell was triggered.
type Reason string

const (
	ReasonTrailingStop Reason = "trailingStop"
	ReasonStopLoss     Reason = "stopLoss"
	ReasonProfitTarget Reason = "profitTarget"
	ReasonExitSignal   Reason = "exitSignalConditionMet"
	ReasonEntrySignal  Reason = "entrySignalConditionMet"
	ReasonUser         Reason = "addByUser"
)

// Immediate reasons bypass the split-sell throttle.
func (r Reason) Immediate() bool {
	return r == ReasonStopLoss || r == ReasonExitSignal
}

// trailingMinProfitPct keeps the trailing stop quiet until a position is
// meaningfully in profit.
const trailingMinProfitPct = 1.0

// Rules holds the exit thresholds applied on every tick.
type Rules struct {
	StopLossPct          float64 `json:"stopLossPct"`
	TrailingStopPct      float64 `json:"trailingStopPct"`
	TrailingStopFraction float64 `json:"trailingStopFraction"`
	ProfitTargetPct      float64 `json:"profitTargetPct"`
	ProfitTargetFraction float64 `json:"profitTargetFraction"`
}

// DefaultRules mirrors the production defaults.
func DefaultRules() Rules {
	return Rules{
		StopLossPct:          0.02,
		TrailingStopPct:      0.02,
		TrailingStopFraction: 1.0,
		ProfitTargetPct:      5,
		ProfitTargetFraction: 0.5,
	}
}

// Validate checks that percentages and fractions are in range.
func (r Rules) Validate() error {
	switch {
	case r.StopLossPct <= 0 || r.StopLossPct >= 1:
		return fmt.Errorf("stop loss pct %v out of (0,1)", r.StopLossPct)
	case r.TrailingStopPct <= 0 || r.TrailingStopPct >= 1:
		return fmt.Errorf("trailing stop pct %v out of (0,1)", r.TrailingStopPct)
	case r.TrailingStopFraction <= 0 || r.TrailingStopFraction > 1:
		return fmt.Errorf("trailing stop fraction %v out of (0,1]", r.TrailingStopFraction)
	case r.ProfitTargetPct <= 0:
		return fmt.Errorf("profit target pct %v must be positive", r.ProfitTargetPct)
	case r.ProfitTargetFraction <= 0 || r.ProfitTargetFraction > 1:
		return fmt.Errorf("profit target fraction %v out of (0,1]", r.ProfitTargetFraction)
	}
	return nil
}

// Decision is the single sell action chosen for a tick.
type Decision struct {
	Symbol    string  `json:"symbol"`
	Reason    Reason  `json:"reason"`
	Fraction  float64 `json:"fraction"`
	Price     float64 `json:"price"`
	ProfitPct float64 `json:"profitPct"`
}

// Evaluate updates the trailing bookkeeping and profit of pos for price
// and returns at most one sell decision. Checks run in order: trailing
// stop, stop loss, profit target.
func (r Rules) Evaluate(pos *state.Position, price float64) (Decision, bool) {
	pos.RaiseHigh(price, r.TrailingStopPct)
	profit := pos.ProfitPct(price)
	pos.Profit = profit

	d := Decision{Symbol: pos.Symbol, Price: price, ProfitPct: profit}
	switch {
	case price <= pos.TrailingStopPrice && profit > trailingMinProfitPct:
		d.Reason, d.Fraction = ReasonTrailingStop, r.TrailingStopFraction
	case price < pos.StopLossPrice:
		d.Reason, d.Fraction = ReasonStopLoss, 1.0
	case profit > r.ProfitTargetPct:
		d.Reason, d.Fraction = ReasonProfitTarget, r.ProfitTargetFraction
	default:
		return Decision{}, false
	}
	return d, true
}
