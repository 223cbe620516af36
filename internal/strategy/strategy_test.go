package strategy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	market "tradebot/pkg/market/bithumb"
)

func TestSignalSetString(t *testing.T) {
	assert.Equal(t, "No active signal.", None.String())
	assert.Equal(t, "Signal detected: long_entry", LongEntry.String())
	assert.Equal(t, "Signal detected: long_exit, short_entry", (ShortEntry | LongExit).String())
}

func TestParseSignalSetRoundTrip(t *testing.T) {
	for _, s := range []SignalSet{None, LongEntry, LongExit | ShortExit, LongEntry | LongExit | ShortEntry | ShortExit} {
		assert.Equal(t, s, ParseSignalSet(s.String()))
	}
	assert.Equal(t, ShortExit, ParseSignalSet("short_exit, bogus"))
}

func TestEntryExitClassification(t *testing.T) {
	tests := []struct {
		set   SignalSet
		entry bool
		exit  bool
	}{
		{LongEntry, true, false},
		{ShortExit, true, false},
		{LongExit, false, true},
		{ShortEntry, false, true},
		{LongEntry | LongExit, true, true},
		{None, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.set.String(), func(t *testing.T) {
			assert.Equal(t, tt.entry, tt.set.IsEntry())
			assert.Equal(t, tt.exit, tt.set.IsExit())
		})
	}
}

func TestDetermineStatus(t *testing.T) {
	assert.Equal(t, Status{}, DetermineStatus(nil))

	rows := []Row{{Signals: LongEntry}, {Signals: LongExit}, {Signals: None}}
	st := DetermineStatus(rows)
	assert.Equal(t, None, st.Latest)
	assert.Equal(t, LongExit, st.LastTrue)
	require.NotNil(t, st.LastTrueTime)

	raw, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"latest":"No active signal."`)
}

func flat(n int, price float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{Time: int64(i) * 3600_000, Open: price, Close: price, High: price + 1, Low: price - 1, Volume: 10}
	}
	return out
}

func TestChannelBreakout(t *testing.T) {
	candles := flat(10, 100)
	candles = append(candles, market.Candle{Time: 10 * 3600_000, Open: 100, Close: 105, High: 106, Low: 99, Volume: 10})

	rows := NewChannelBreakout(5).Compute(candles)
	require.Len(t, rows, 11)
	assert.Equal(t, LongEntry, rows[10].Signals)
	for _, r := range rows[:10] {
		assert.Equal(t, None, r.Signals)
	}
}

func TestTurtleShortEntryAndLongExitOnBreakdown(t *testing.T) {
	candles := flat(30, 100)
	candles = append(candles, market.Candle{Time: 30 * 3600_000, Open: 100, Close: 90, High: 100, Low: 88, Volume: 10})

	rows := NewTurtle().Compute(candles)
	last := rows[len(rows)-1].Signals
	assert.True(t, last.Has(ShortEntry))
	assert.True(t, last.Has(LongExit))
	assert.False(t, last.Has(LongEntry), "trend filter needs 200 bars")
	assert.InDelta(t, 2.0, rows[20].ATR, 1e-9)
}

func TestTurtleLongEntryWithTrend(t *testing.T) {
	// Slow uptrend so the 50 MA sits above the 200 MA and close stays above VWAP.
	candles := make([]market.Candle, 0, 221)
	for i := 0; i < 220; i++ {
		p := 100 + float64(i)*0.1
		candles = append(candles, market.Candle{Time: int64(i) * 3600_000, Open: p, Close: p, High: p + 0.5, Low: p - 0.5, Volume: 10})
	}
	p := 100 + 220*0.1
	candles = append(candles, market.Candle{Time: 220 * 3600_000, Open: p, Close: p + 3, High: p + 4, Low: p - 0.5, Volume: 10})

	rows := NewTurtle().Compute(candles)
	last := rows[len(rows)-1].Signals
	assert.True(t, last.Has(LongEntry))
	assert.True(t, last.IsEntry())
}

func TestEngineAnalyze(t *testing.T) {
	e := NewEngine(NewTurtle(), NewChannelBreakout(5))
	assert.Equal(t, "turtle", e.Active())
	assert.Equal(t, []string{"channel", "turtle"}, e.Names())
	assert.ErrorIs(t, e.Use("macd"), ErrUnknownStrategy)
	require.NoError(t, e.Use("channel"))

	candles := flat(30, 100)
	a, err := e.Analyze("BTC", candles)
	require.NoError(t, err)
	assert.Equal(t, "channel", a.Strategy)
	assert.Len(t, a.Recent, 20)
	assert.Equal(t, candles[29].Close, a.Recent[0].Close)
	assert.Equal(t, None, a.Latest)
}
