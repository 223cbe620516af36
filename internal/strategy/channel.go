package strategy

import (
	"tradebot/internal/indicators"
	market "tradebot/pkg/market/bithumb"
)

// ChannelBreakout fires when the close leaves the previous bar's high/low channel.
type ChannelBreakout struct {
	Length int
}

func NewChannelBreakout(length int) *ChannelBreakout {
	if length <= 0 {
		length = 5
	}
	return &ChannelBreakout{Length: length}
}

func (c *ChannelBreakout) Name() string { return "channel" }

func (c *ChannelBreakout) MinBars() int { return c.Length + 1 }

func (c *ChannelBreakout) Compute(candles []market.Candle) []Row {
	cols := split(candles)
	up := indicators.Shift(indicators.RollingMax(cols.high, c.Length), 1)
	down := indicators.Shift(indicators.RollingMin(cols.low, c.Length), 1)

	rows := make([]Row, len(candles))
	for i, k := range candles {
		var s SignalSet
		if k.Close > up[i] {
			s |= LongEntry
		}
		if k.Close < down[i] {
			s |= ShortEntry
		}
		rows[i] = Row{Time: barTime(k.Time), Close: k.Close, Signals: s}
	}
	return rows
}
