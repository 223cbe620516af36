// Package selection picks the trading universe: liquid KRW markets ranked
// by traded value, rise rate and a weighted indicator score.
package selection

import (
	"slices"
	"sort"

	market "tradebot/pkg/market/bithumb"
)

// Base chooses which ranking orders the result of Common.
type Base string

const (
	BaseValue Base = "value"
	BaseRise  Base = "rise"
)

// TopByValue returns up to limit symbols with the highest 24h traded value.
func TopByValue(tickers []market.Ticker, limit int) []string {
	ranked := slices.Clone(tickers)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].AccTradeValue24H > ranked[j].AccTradeValue24H })
	return symbols(ranked, limit)
}

// RiseRate is (close-open)/open, or 0 without an opening price.
func RiseRate(t market.Ticker) float64 {
	if t.OpeningPrice == 0 {
		return 0
	}
	return (t.ClosingPrice - t.OpeningPrice) / t.OpeningPrice
}

// TopByRiseRate returns up to limit symbols with the highest rise rate.
func TopByRiseRate(tickers []market.Ticker, limit int) []string {
	ranked := slices.Clone(tickers)
	sort.SliceStable(ranked, func(i, j int) bool { return RiseRate(ranked[i]) > RiseRate(ranked[j]) })
	return symbols(ranked, limit)
}

// Common keeps the symbols present in both lists, in the order of base.
func Common(byValue, byRise []string, base Base) []string {
	order, other := byValue, byRise
	if base == BaseRise {
		order, other = byRise, byValue
	}
	in := make(map[string]bool, len(other))
	for _, s := range other {
		in[s] = true
	}
	var out []string
	for _, s := range order {
		if in[s] {
			out = append(out, s)
		}
	}
	return out
}

// RisingAndGreen reports whether the last n candles close higher each bar
// and every bar after the first closes above its open.
func RisingAndGreen(candles []market.Candle, n int) bool {
	if n <= 0 || len(candles) < n {
		return false
	}
	recent := candles[len(candles)-n:]
	for i := 1; i < len(recent); i++ {
		if recent[i].Close <= recent[i-1].Close || recent[i].Close <= recent[i].Open {
			return false
		}
	}
	return true
}

// FilterRisingAndGreen keeps the symbols whose series pass RisingAndGreen.
func FilterRisingAndGreen(syms []string, series map[string][]market.Candle, n int) []string {
	var out []string
	for _, s := range syms {
		if RisingAndGreen(series[s], n) {
			out = append(out, s)
		}
	}
	return out
}

func symbols(tickers []market.Ticker, limit int) []string {
	if limit <= 0 || limit > len(tickers) {
		limit = len(tickers)
	}
	out := make([]string, 0, limit)
	for _, t := range tickers[:limit] {
		out = append(out, t.Symbol)
	}
	return out
}
