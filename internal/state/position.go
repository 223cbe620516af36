package state

import "time"

// Position is a currently held asset and the risk levels tracked for it.
type Position struct {
	Symbol            string    `json:"symbol"`
	Units             float64   `json:"units"`
	BuyPrice          float64   `json:"buyPrice"`
	StopLossPrice     float64   `json:"stopLossPrice"`
	HighestPrice      float64   `json:"highestPrice"`
	TrailingStopPrice float64   `json:"trailingStopPrice"`
	OrderID           string    `json:"orderId,omitempty"`
	Profit            float64   `json:"profit"`
	Reason            string    `json:"reason"`
	SplitSellCount    int       `json:"splitSellCount"`
	Priced            bool      `json:"priced"` // false while a buy is awaiting its fill price
	OpenedAt          time.Time `json:"openedAt"`
}

// ProfitPct returns (price-buy)/buy*100, or 0 for an unpriced position.
func (p Position) ProfitPct(price float64) float64 {
	if p.BuyPrice <= 0 {
		return 0
	}
	return (price - p.BuyPrice) / p.BuyPrice * 100
}

// Price fills in the cost basis and derived levels once the contract price is known.
func (p *Position) Price(buyPrice, stopLossPct, trailingPct float64) {
	p.BuyPrice = buyPrice
	p.StopLossPrice = buyPrice * (1 - stopLossPct)
	p.HighestPrice = buyPrice
	p.TrailingStopPrice = buyPrice * (1 - trailingPct)
	p.Priced = buyPrice > 0
}

// RaiseHigh records price as the new high and moves the trailing stop up.
// It reports whether anything changed; the stop never moves down.
func (p *Position) RaiseHigh(price, trailingPct float64) bool {
	if price <= p.HighestPrice {
		return false
	}
	p.HighestPrice = price
	if next := price * (1 - trailingPct); next > p.TrailingStopPrice {
		p.TrailingStopPrice = next
	}
	return true
}
