package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/candles"
	"tradebot/internal/events"
	"tradebot/internal/history"
	"tradebot/internal/market"
	"tradebot/internal/order"
	"tradebot/internal/risk"
	"tradebot/internal/state"
	"tradebot/internal/strategy"
	"tradebot/pkg/config"
	bithumb "tradebot/pkg/market/bithumb"
)

// scriptedStrategy flags the last bar with latest and, when set, an earlier
// bar with earlier.
type scriptedStrategy struct {
	mu      sync.Mutex
	latest  strategy.SignalSet
	earlier strategy.SignalSet
	bars    int
}

func (s *scriptedStrategy) Name() string { return "scripted" }
func (s *scriptedStrategy) MinBars() int { return 1 }

func (s *scriptedStrategy) set(latest, earlier strategy.SignalSet) {
	s.mu.Lock()
	s.latest, s.earlier = latest, earlier
	s.mu.Unlock()
}

func (s *scriptedStrategy) Compute(cs []bithumb.Candle) []strategy.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = len(cs)
	rows := make([]strategy.Row, len(cs))
	for i, c := range cs {
		rows[i] = strategy.Row{Time: time.UnixMilli(c.Time), Close: c.Close}
	}
	if n := len(rows); n > 1 {
		rows[n-2].Signals = s.earlier
		rows[n-1].Signals = s.latest
	}
	return rows
}

func (s *scriptedStrategy) lastBars() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bars
}

// flatMarket quotes every known symbol at 100 with ten hourly candles.
type flatMarket struct {
	symbols map[string]bool
	loads   atomic.Int32
}

func (m *flatMarket) Orderbook(_ context.Context, symbol string) (bithumb.Orderbook, error) {
	return bithumb.Orderbook{
		Symbol: symbol,
		Bids:   []bithumb.OrderbookLevel{{Price: 99, Quantity: 10}},
		Asks:   []bithumb.OrderbookLevel{{Price: 101, Quantity: 10}},
	}, nil
}

func (m *flatMarket) Candlesticks(_ context.Context, symbol, _ string) ([]bithumb.Candle, error) {
	m.loads.Add(1)
	if !m.symbols[strings.ToUpper(symbol)] {
		return nil, errors.New("unknown symbol")
	}
	base := time.Now().Truncate(time.Hour).Add(-10 * time.Hour).UnixMilli()
	out := make([]bithumb.Candle, 10)
	for i := range out {
		out[i] = bithumb.Candle{Time: base + int64(i)*time.Hour.Milliseconds(), Open: 100, Close: 100, High: 101, Low: 99, Volume: 1}
	}
	return out, nil
}

type captureNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *captureNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
}

type botFixture struct {
	bot     *Bot
	md      *flatMarket
	gw      *order.DryRunGateway
	orch    *order.Orchestrator
	ledger  *state.Ledger
	history *history.Log
	strat   *scriptedStrategy
	bus     *events.Bus
	notes   *captureNotifier
}

func newBotFixture(t *testing.T, trading config.Trading, symbols ...string) *botFixture {
	t.Helper()
	md := &flatMarket{symbols: make(map[string]bool)}
	for _, s := range symbols {
		md.symbols[s] = true
	}
	if trading.Timeframe == "" {
		trading.Timeframe = "1h"
	}
	if trading.HoldingLimit == 0 {
		trading.HoldingLimit = 5
	}

	f := &botFixture{
		md:      md,
		gw:      order.NewDryRunGateway(md, 1_000_000, order.DryRunSimConfig{FeeRate: order.DefaultFeeRate}, nil),
		ledger:  state.NewLedger(),
		history: history.NewLog(nil),
		strat:   &scriptedStrategy{},
		bus:     events.NewBus(),
		notes:   &captureNotifier{},
	}
	feed := market.NewFeed(market.NewMockStream(map[string]float64{"BTC": 100}, 5*time.Millisecond, 0.001), f.bus, 2, nil)
	store, err := candles.NewStore(md, trading.Timeframe)
	require.NoError(t, err)

	f.orch = order.New(order.Config{
		Gateway:       f.gw,
		Ledger:        f.ledger,
		Bus:           f.bus,
		History:       f.history,
		Streams:       feed,
		Settings:      order.Settings{PerTradeKRW: 100_000, SplitSellLimit: 1},
		DetailTimeout: 200 * time.Millisecond,
	})
	monitor := risk.NewMonitor(f.bus, f.ledger, f.orch, risk.DefaultRules(), nil)
	f.bot = New(Config{
		Orchestrator: f.orch,
		Ledger:       f.ledger,
		Feed:         feed,
		Candles:      store,
		CandleSource: md,
		Risk:         monitor,
		Strategies:   strategy.NewEngine(f.strat, strategy.NewTurtle()),
		History:      f.history,
		Bus:          f.bus,
		Notifier:     f.notes,
		Trading:      trading,
		DryRun:       true,
	})
	return f
}

func (f *botFixture) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.orch.Wait(ctx))
}

func TestScanBuysOnEntrySignal(t *testing.T) {
	f := newBotFixture(t, config.Trading{InterestSymbols: []string{"btc"}}, "BTC")
	f.strat.set(strategy.LongEntry, strategy.None)

	f.bot.scan(context.Background())
	f.settle(t)

	pos, ok := f.ledger.Get("BTC")
	require.True(t, ok)
	assert.True(t, pos.Priced)
	assert.Equal(t, string(risk.ReasonEntrySignal), pos.Reason)
	assert.InDelta(t, 101, pos.BuyPrice, 1e-9)

	// still entry on the next scan, but the position is already held
	f.bot.scan(context.Background())
	f.settle(t)
	assert.Equal(t, 1, f.gw.Snapshot().Orders)
	assert.False(t, f.bot.Status().LastScan.IsZero())
}

func TestScanKeepsTickBuiltCandles(t *testing.T) {
	f := newBotFixture(t, config.Trading{InterestSymbols: []string{"ETH"}}, "ETH")

	f.bot.scan(context.Background())
	require.Equal(t, 10, f.strat.lastBars())

	now := time.Now().UnixMilli()
	require.True(t, f.bot.store.Update(bithumb.Tick{Symbol: "ETH", Time: now, Close: 104, Volume: 1}))

	f.bot.scan(context.Background())
	assert.Equal(t, 11, f.strat.lastBars(), "the tick candle reaches the next analysis")
	assert.Equal(t, int32(1), f.md.loads.Load(), "history is loaded once per timeframe")
	series := f.bot.store.Series("ETH")
	assert.InDelta(t, 104, series[len(series)-1].Close, 1e-9)
}

func TestScanRespectsHoldingLimit(t *testing.T) {
	f := newBotFixture(t, config.Trading{HoldingLimit: 1, InterestSymbols: []string{"ETH", "BTC"}}, "BTC", "ETH")
	f.strat.set(strategy.LongEntry, strategy.None)

	f.bot.scan(context.Background())
	f.settle(t)

	assert.Equal(t, []string{"BTC"}, f.ledger.Keys())
}

func TestScanSellsOnExitSignal(t *testing.T) {
	f := newBotFixture(t, config.Trading{}, "XRP")
	f.gw.Credit("XRP", 10)
	require.True(t, f.bot.AddHolding("XRP", 10, 100, 0).OK())
	f.strat.set(strategy.None, strategy.LongExit)

	f.bot.scan(context.Background())

	assert.False(t, f.ledger.Contains("XRP"))
	last, ok := f.history.Last("XRP")
	require.True(t, ok)
	assert.Equal(t, history.ActionSell, last.Action)
	assert.Equal(t, string(risk.ReasonExitSignal), last.Reason)
}

func TestScanSkipsEntryAlreadyExited(t *testing.T) {
	f := newBotFixture(t, config.Trading{InterestSymbols: []string{"BTC"}}, "BTC")
	f.strat.set(strategy.LongEntry, strategy.None)
	_, err := f.history.Append(context.Background(), history.Record{Symbol: "BTC", Action: history.ActionSell, Reason: "stopLoss", Price: 95, Units: 1})
	require.NoError(t, err)

	f.bot.scan(context.Background())
	f.settle(t)

	assert.False(t, f.ledger.Contains("BTC"))
	assert.Zero(t, f.gw.Snapshot().Orders)
}

func TestScanSkipsFailedSymbols(t *testing.T) {
	f := newBotFixture(t, config.Trading{InterestSymbols: []string{"BTC", "NOPE"}}, "BTC")
	f.strat.set(strategy.LongEntry, strategy.None)

	f.bot.scan(context.Background())
	f.settle(t)

	assert.Equal(t, []string{"BTC"}, f.ledger.Keys())
}

func TestRunStartsAndStopsScheduler(t *testing.T) {
	f := newBotFixture(t, config.Trading{}, "BTC")

	err := f.bot.Run(context.Background(), RunRequest{Timeframe: "2h"})
	assert.ErrorIs(t, err, ErrInvalid)

	require.NoError(t, f.bot.Run(context.Background(), RunRequest{Symbols: []string{"btc", " BTC "}, Timeframe: "1m", StopLossPct: 0.03}))
	assert.ErrorIs(t, f.bot.Run(context.Background(), RunRequest{}), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return !f.bot.Status().LastScan.IsZero() }, time.Second, 5*time.Millisecond)
	st := f.bot.Status()
	assert.True(t, st.Running)
	assert.Equal(t, "1m", st.Timeframe)
	assert.Equal(t, []string{"BTC"}, st.ActiveSymbols)
	assert.InDelta(t, 0.03, st.Rules.StopLossPct, 1e-9)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.bot.StopAll(ctx))
	assert.False(t, f.bot.Status().Running)

	f.notes.mu.Lock()
	defer f.notes.mu.Unlock()
	require.Len(t, f.notes.texts, 2)
}

func TestSchedulerLoop(t *testing.T) {
	var scans atomic.Int32
	s := NewScheduler(time.Hour, func(context.Context) { scans.Add(1) }, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	require.Eventually(t, func() bool { return scans.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Running())
	require.NoError(t, s.Stop(context.Background()))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return scans.Load() == 2 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestSchedulerSurvivesPanic(t *testing.T) {
	var scans atomic.Int32
	s := NewScheduler(time.Millisecond, func(context.Context) {
		if scans.Add(1) == 1 {
			panic("boom")
		}
	}, nil)
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return scans.Load() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestSchedulerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(time.Hour, func(context.Context) {}, nil)
	require.NoError(t, s.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, time.Millisecond)
}

func TestSettersValidate(t *testing.T) {
	f := newBotFixture(t, config.Trading{TopN: 7})

	assert.ErrorIs(t, f.bot.SetStopLoss(-1), ErrInvalid)
	require.NoError(t, f.bot.SetStopLoss(0.04))
	require.NoError(t, f.bot.SetTrailingStop(0.015, 0.5))
	assert.ErrorIs(t, f.bot.SetProfitTarget(5, 2), ErrInvalid)
	require.NoError(t, f.bot.SetProfitTarget(5, 0.25))
	assert.ErrorIs(t, f.bot.SetPerTradeKRW(0), ErrInvalid)
	require.NoError(t, f.bot.SetPerTradeKRW(50_000))
	assert.ErrorIs(t, f.bot.SetHoldingLimit(0), ErrInvalid)
	require.NoError(t, f.bot.SetHoldingLimit(2))
	assert.ErrorIs(t, f.bot.SetSplitSellLimit(-1), ErrInvalid)
	require.NoError(t, f.bot.SetSplitSellLimit(3))

	st := f.bot.Status()
	assert.InDelta(t, 0.04, st.Rules.StopLossPct, 1e-9)
	assert.InDelta(t, 0.015, st.Rules.TrailingStopPct, 1e-9)
	assert.InDelta(t, 0.25, st.Rules.ProfitTargetFraction, 1e-9)
	assert.InDelta(t, 50_000, st.Settings.PerTradeKRW, 1e-9)
	assert.Equal(t, 3, st.Settings.SplitSellLimit)
	assert.Equal(t, 2, st.HoldingLimit)
	assert.Equal(t, 7, st.TopN)
	assert.True(t, st.DryRun)
}

func TestInterestAndStopSymbol(t *testing.T) {
	f := newBotFixture(t, config.Trading{})

	f.bot.AddInterest("sol")
	assert.Equal(t, []string{"SOL"}, f.bot.Status().InterestSymbols)
	assert.True(t, f.bot.RemoveInterest("SOL"))
	assert.False(t, f.bot.RemoveInterest("SOL"))

	f.bot.AddInterest("ADA")
	require.NoError(t, f.bot.StopSymbol("ada"))
	assert.ErrorIs(t, f.bot.StopSymbol("ADA"), ErrNotActive)

	_, err := f.bot.Reselect(context.Background())
	assert.ErrorIs(t, err, ErrNoSelector)
}

func TestStopSymbolKeepsHeldStream(t *testing.T) {
	f := newBotFixture(t, config.Trading{InterestSymbols: []string{"BTC"}})
	require.True(t, f.bot.AddHolding("BTC", 1, 100, 0).OK())

	require.NoError(t, f.bot.StopSymbol("BTC"))
	assert.Equal(t, []string{"BTC"}, f.bot.Status().ActiveSymbols, "held symbols stay in the working set")
}

func TestTickConsumerUpdatesPrices(t *testing.T) {
	f := newBotFixture(t, config.Trading{}, "BTC")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.bot.Start(ctx)

	require.Eventually(t, func() bool {
		f.bus.Publish(events.EventPriceTick, bithumb.Tick{Symbol: "BTC", Time: time.Now().UnixMilli(), Close: 123, Volume: 2})
		return f.bot.Status().Prices["BTC"] == 123
	}, time.Second, 5*time.Millisecond)
	assert.Positive(t, f.bot.store.Len("BTC"))
}

func TestAnalyzeAndHistory(t *testing.T) {
	f := newBotFixture(t, config.Trading{}, "BTC")
	f.strat.set(strategy.LongEntry, strategy.None)

	a, err := f.bot.Analyze(context.Background(), "", "btc", "")
	require.NoError(t, err)
	assert.Equal(t, "BTC", a.Symbol)
	assert.Equal(t, "scripted", a.Strategy)
	assert.Equal(t, strategy.LongEntry, a.Latest)

	_, err = f.bot.Analyze(context.Background(), "nope", "BTC", "1h")
	assert.ErrorIs(t, err, strategy.ErrUnknownStrategy)
	_, err = f.bot.Analyze(context.Background(), "", "BTC", "7m")
	assert.ErrorIs(t, err, ErrInvalid)

	for i := 0; i < 3; i++ {
		_, err := f.history.Append(context.Background(), history.Record{Symbol: "BTC", Action: history.ActionBuy, Price: float64(100 + i), Units: 1})
		require.NoError(t, err)
	}
	recs, err := f.bot.History(context.Background(), "btc", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.InDelta(t, 102, recs[1].Price, 1e-9)
}
