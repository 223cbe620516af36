package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/history"
	"tradebot/internal/risk"
	"tradebot/internal/strategy"
	market "tradebot/pkg/market/bithumb"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// barSignals fires the given signals on fixed bar indexes.
type barSignals map[int]strategy.SignalSet

func (barSignals) Name() string { return "bars" }
func (barSignals) MinBars() int { return 1 }

func (s barSignals) Compute(cs []market.Candle) []strategy.Row {
	rows := make([]strategy.Row, len(cs))
	for i, c := range cs {
		rows[i] = strategy.Row{Time: time.UnixMilli(c.Time), Close: c.Close, Signals: s[i]}
	}
	return rows
}

type seriesLoader map[string][]float64

func (l seriesLoader) Candlesticks(_ context.Context, symbol, _ string) ([]market.Candle, error) {
	closes, ok := l[symbol]
	if !ok {
		return nil, errors.New("no history")
	}
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{Time: t0.Add(time.Duration(i) * time.Hour).UnixMilli(), Open: c, High: c, Low: c, Close: c}
	}
	return out, nil
}

type tickerList []market.Ticker

func (t tickerList) Tickers(context.Context) ([]market.Ticker, error) { return t, nil }

type leg struct {
	Action history.Action
	Reason string
	Price  float64
	Units  float64
}

func legs(records []history.Record) []leg {
	out := make([]leg, 0, len(records))
	for _, r := range records {
		out = append(out, leg{Action: r.Action, Reason: r.Reason, Price: r.Price, Units: r.Units})
	}
	return out
}

func newRunner(t *testing.T, signals barSignals, closes []float64, splitLimit int) *Runner {
	t.Helper()
	r, err := New(Config{
		Loader:         seriesLoader{"BTC": closes},
		Strategies:     strategy.NewEngine(signals),
		Timeframe:      "1h",
		Rules:          risk.DefaultRules(),
		SplitSellLimit: splitLimit,
	})
	require.NoError(t, err)
	return r
}

func TestRunReplaysBars(t *testing.T) {
	const (
		entry = string(risk.ReasonEntrySignal)
		exit  = string(risk.ReasonExitSignal)
	)
	buy := func(price, units float64) leg { return leg{history.ActionBuy, entry, price, units} }
	sell := func(reason risk.Reason, price, units float64) leg {
		return leg{history.ActionSell, string(reason), price, units}
	}

	tests := []struct {
		name       string
		signals    barSignals
		closes     []float64
		splitLimit int
		want       []leg
		open       []Open
		sells      int
		wins       int
		totalPct   float64
	}{
		{
			name:     "entry then exit signal",
			signals:  barSignals{1: strategy.LongEntry, 3: strategy.LongExit},
			closes:   []float64{100, 100, 101, 102, 103},
			want:     []leg{buy(100, 1), {history.ActionSell, exit, 102, 1}},
			sells:    1,
			wins:     1,
			totalPct: 2,
		},
		{
			name:     "stop loss closes the position",
			signals:  barSignals{1: strategy.LongEntry},
			closes:   []float64{100, 100, 97, 97},
			want:     []leg{buy(100, 1), sell(risk.ReasonStopLoss, 97, 1)},
			sells:    1,
			totalPct: -3,
		},
		{
			name:       "profit target sells half then trailing stop the rest",
			signals:    barSignals{1: strategy.LongEntry},
			closes:     []float64{100, 100, 106, 103},
			splitLimit: 1,
			want: []leg{
				buy(100, 1),
				sell(risk.ReasonProfitTarget, 106, 0.5),
				sell(risk.ReasonTrailingStop, 103, 0.5),
			},
			sells:    2,
			wins:     2,
			totalPct: 9,
		},
		{
			name:       "split sell limit holds the remainder",
			signals:    barSignals{1: strategy.LongEntry},
			closes:     []float64{100, 100, 106, 107, 103},
			splitLimit: 0,
			want:       []leg{buy(100, 1), sell(risk.ReasonProfitTarget, 106, 0.5)},
			open:       []Open{{Symbol: "BTC", Units: 0.5, BuyPrice: 100, LastPrice: 103, ProfitPct: 3}},
			sells:      1,
			wins:       1,
			totalPct:   6,
		},
		{
			name:     "same entry signal does not reopen after an exit",
			signals:  barSignals{1: strategy.LongEntry, 2: strategy.LongEntry, 3: strategy.LongEntry},
			closes:   []float64{100, 100, 97, 99},
			want:     []leg{buy(100, 1), sell(risk.ReasonStopLoss, 97, 1), buy(99, 1)},
			open:     []Open{{Symbol: "BTC", Units: 1, BuyPrice: 99, LastPrice: 99}},
			sells:    1,
			totalPct: -3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRunner(t, tt.signals, tt.closes, tt.splitLimit)

			rep, err := r.Run(context.Background(), []string{"btc"})
			require.NoError(t, err)

			assert.Equal(t, "bars", rep.Strategy)
			assert.Equal(t, []string{"BTC"}, rep.Symbols)
			assert.Empty(t, rep.Skipped)
			assert.Equal(t, tt.want, legs(rep.Trades))
			require.Len(t, rep.Open, len(tt.open))
			for i, o := range tt.open {
				assert.Equal(t, o.Symbol, rep.Open[i].Symbol)
				assert.InDelta(t, o.Units, rep.Open[i].Units, 1e-9)
				assert.InDelta(t, o.BuyPrice, rep.Open[i].BuyPrice, 1e-9)
				assert.InDelta(t, o.ProfitPct, rep.Open[i].ProfitPct, 1e-9)
			}
			assert.Equal(t, tt.sells, rep.Summary.Sells)
			assert.Equal(t, tt.wins, rep.Summary.Wins)
			assert.Equal(t, tt.sells-tt.wins, rep.Summary.Losses)
			assert.InDelta(t, tt.totalPct, rep.Summary.TotalProfitPct, 1e-9)
		})
	}
}

func TestRunSummary(t *testing.T) {
	r, err := New(Config{
		Loader: seriesLoader{
			"AAA": {100, 100, 106, 103},
			"BBB": {50, 50, 48},
		},
		Strategies:     strategy.NewEngine(barSignals{1: strategy.LongEntry}),
		Rules:          risk.DefaultRules(),
		SplitSellLimit: 1,
	})
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), []string{"AAA", "BBB"})
	require.NoError(t, err)

	s := rep.Summary
	assert.Equal(t, 3, s.Sells)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 6, s.MaxProfitPct, 1e-9)
	assert.InDelta(t, -4, s.MinProfitPct, 1e-9)
	assert.InDelta(t, 4.5, s.AvgProfitPct, 1e-9)
	assert.InDelta(t, -4, s.AvgLossPct, 1e-9)
	// 0.5*6 + 0.5*3 - 1*2
	assert.InDelta(t, 2.5, s.RealizedPnL, 1e-9)

	for i := 1; i < len(rep.Trades); i++ {
		assert.False(t, rep.Trades[i].Time.Before(rep.Trades[i-1].Time), "trades are time ordered")
	}
}

func TestRunTradingWindow(t *testing.T) {
	r, err := New(Config{
		Loader:     seriesLoader{"BTC": {100, 100, 97, 97}},
		Strategies: strategy.NewEngine(barSignals{1: strategy.LongEntry}),
		Rules:      risk.DefaultRules(),
		From:       t0.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), []string{"BTC"})
	require.NoError(t, err)
	assert.Empty(t, rep.Trades)
}

func TestRunSkipsMissingHistory(t *testing.T) {
	r := newRunner(t, barSignals{1: strategy.LongEntry}, []float64{100, 100}, 0)

	rep, err := r.Run(context.Background(), []string{"BTC", "NOPE"})
	require.NoError(t, err)
	assert.Contains(t, rep.Skipped, "NOPE")
	assert.Equal(t, []Open{{Symbol: "BTC", Units: 1, BuyPrice: 100, LastPrice: 100}}, rep.Open)
}

func TestRunDefaultsToTopByValue(t *testing.T) {
	r, err := New(Config{
		Loader:     seriesLoader{"AAA": {1, 1}, "BBB": {1, 1}},
		Tickers:    tickerList{{Symbol: "AAA", AccTradeValue24H: 10}, {Symbol: "BBB", AccTradeValue24H: 20}},
		Strategies: strategy.NewEngine(barSignals{}),
		Rules:      risk.DefaultRules(),
	})
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"BBB", "AAA"}, rep.Symbols)

	r.cfg.Tickers = nil
	_, err = r.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSymbols)
}

func TestRunUnknownStrategy(t *testing.T) {
	r, err := New(Config{
		Loader:     seriesLoader{"BTC": {1}},
		Strategies: strategy.NewEngine(barSignals{}),
		Strategy:   "missing",
		Rules:      risk.DefaultRules(),
	})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), []string{"BTC"})
	assert.ErrorIs(t, err, strategy.ErrUnknownStrategy)
}

func TestNewValidatesRules(t *testing.T) {
	_, err := New(Config{
		Loader:     seriesLoader{},
		Strategies: strategy.NewEngine(barSignals{}),
		Rules:      risk.Rules{StopLossPct: 2},
	})
	assert.Error(t, err)
}
