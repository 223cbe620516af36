package strategy

import (
	"time"

	market "tradebot/pkg/market/bithumb"
)

// Row is one bar of computed output.
type Row struct {
	Time    time.Time `json:"time"`
	Close   float64   `json:"close"`
	ATR     float64   `json:"atr,omitempty"`
	Signals SignalSet `json:"signals"`
}

// Strategy turns an OHLCV series (oldest first) into per-bar signals.
type Strategy interface {
	Name() string
	// MinBars is how much history the strategy needs to emit meaningful signals.
	MinBars() int
	Compute(candles []market.Candle) []Row
}

type columns struct {
	high, low, close, volume []float64
}

func split(candles []market.Candle) columns {
	c := columns{
		high:   make([]float64, len(candles)),
		low:    make([]float64, len(candles)),
		close:  make([]float64, len(candles)),
		volume: make([]float64, len(candles)),
	}
	for i, k := range candles {
		c.high[i] = k.High
		c.low[i] = k.Low
		c.close[i] = k.Close
		c.volume[i] = k.Volume
	}
	return c
}

func barTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
