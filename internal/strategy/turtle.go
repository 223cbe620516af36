package strategy

import (
	"math"

	"tradebot/internal/indicators"
	market "tradebot/pkg/market/bithumb"
)

// Turtle is a Donchian breakout filtered by a moving average trend and VWAP.
type Turtle struct {
	EntryLength int
	ExitLength  int
	ShortMA     int
	LongMA      int
	ATRWindow   int
	VWAPLength  int
}

// NewTurtle returns the classic 20/10 system with a 50/200 trend filter.
func NewTurtle() *Turtle {
	return &Turtle{
		EntryLength: 20,
		ExitLength:  10,
		ShortMA:     50,
		LongMA:      200,
		ATRWindow:   14,
		VWAPLength:  20,
	}
}

func (t *Turtle) Name() string { return "turtle" }

func (t *Turtle) MinBars() int { return t.LongMA }

func (t *Turtle) Compute(candles []market.Candle) []Row {
	c := split(candles)

	upper := indicators.Shift(indicators.RollingMax(c.high, t.EntryLength), 1)
	lower := indicators.Shift(indicators.RollingMin(c.low, t.EntryLength), 1)
	exitUpper := indicators.Shift(indicators.RollingMax(c.high, t.ExitLength), 1)
	exitLower := indicators.Shift(indicators.RollingMin(c.low, t.ExitLength), 1)
	shortMA := indicators.RollingMean(c.close, t.ShortMA)
	longMA := indicators.RollingMean(c.close, t.LongMA)
	vwap := indicators.VWAP(c.high, c.low, c.close, c.volume, t.VWAPLength)
	atr := indicators.ATR(c.high, c.low, c.close, t.ATRWindow)

	rows := make([]Row, len(candles))
	for i, k := range candles {
		var s SignalSet
		// NaN comparisons are false, so bars without enough history stay silent.
		if k.High > upper[i] && shortMA[i] > longMA[i] && k.Close > vwap[i] {
			s |= LongEntry
		}
		if k.Low < lower[i] {
			s |= ShortEntry
		}
		if k.Low < exitLower[i] {
			s |= LongExit
		}
		if k.High > exitUpper[i] {
			s |= ShortExit
		}
		rows[i] = Row{Time: barTime(k.Time), Close: k.Close, Signals: s}
		if !math.IsNaN(atr[i]) {
			rows[i].ATR = atr[i]
		}
	}
	return rows
}
