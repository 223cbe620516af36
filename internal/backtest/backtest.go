// Package backtest replays candle history through the strategy signals and
// the exit rules the live bot uses, bar by bar, and reports the trades.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradebot/internal/candles"
	"tradebot/internal/history"
	"tradebot/internal/order"
	"tradebot/internal/risk"
	"tradebot/internal/selection"
	"tradebot/internal/state"
	"tradebot/internal/strategy"
)

// defaultUniverse is how many symbols by traded value are replayed when
// none are given.
const defaultUniverse = 100

const maxParallel = 4

var ErrNoSymbols = errors.New("no symbols to backtest")

type Config struct {
	Loader     candles.Loader
	Tickers    selection.TickerSource // used when Run gets no symbols
	Strategies *strategy.Engine
	Strategy   string // empty means the active strategy
	Timeframe  string
	Rules      risk.Rules

	SplitSellLimit int
	PerTradeKRW    float64 // zero buys a single unit per entry
	FeeRate        float64

	// From and To bound the bars that may trade; earlier bars still warm
	// up the indicators.
	From time.Time
	To   time.Time

	Log *zap.Logger
}

// Summary aggregates the closed trades of a run. Percentages are per sell.
type Summary struct {
	Sells          int     `json:"sells"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	TotalProfitPct float64 `json:"totalProfitPct"`
	MaxProfitPct   float64 `json:"maxProfitPct"`
	MinProfitPct   float64 `json:"minProfitPct"`
	AvgProfitPct   float64 `json:"avgProfitPct"`
	AvgLossPct     float64 `json:"avgLossPct"`
	RealizedPnL    float64 `json:"realizedPnl"`
	MaxDrawdown    float64 `json:"maxDrawdown"`
	WinRate        float64 `json:"winRate"`
}

// Open is a position still held after the last bar.
type Open struct {
	Symbol    string  `json:"symbol"`
	Units     float64 `json:"units"`
	BuyPrice  float64 `json:"buyPrice"`
	LastPrice float64 `json:"lastPrice"`
	ProfitPct float64 `json:"profitPct"`
}

type Report struct {
	Strategy  string            `json:"strategy"`
	Timeframe string            `json:"timeframe"`
	Symbols   []string          `json:"symbols"`
	Skipped   map[string]string `json:"skipped,omitempty"`
	Trades    []history.Record  `json:"trades"`
	Open      []Open            `json:"open,omitempty"`
	Summary   Summary           `json:"summary"`
}

type Runner struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config) (*Runner, error) {
	if cfg.Loader == nil || cfg.Strategies == nil {
		return nil, errors.New("backtest: loader and strategies are required")
	}
	if err := cfg.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	if cfg.Strategy == "" {
		cfg.Strategy = cfg.Strategies.Active()
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{cfg: cfg, log: log.With(zap.String("component", "backtest"))}, nil
}

// Run replays every symbol independently. Symbols whose history cannot be
// loaded are reported as skipped rather than failing the run.
func (r *Runner) Run(ctx context.Context, symbols []string) (Report, error) {
	symbols, err := r.universe(ctx, symbols)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		Strategy:  r.cfg.Strategy,
		Timeframe: r.cfg.Timeframe,
		Symbols:   symbols,
		Skipped:   make(map[string]string),
	}
	trades := history.NewLog(nil)
	tracker := risk.NewTracker()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, sym := range symbols {
		g.Go(func() error {
			open, err := r.replay(gctx, sym, trades, tracker)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, strategy.ErrUnknownStrategy):
				return err
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.log.Warn("skip symbol", zap.String("symbol", sym), zap.Error(err))
				rep.Skipped[sym] = err.Error()
			case open != nil:
				rep.Open = append(rep.Open, *open)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	for _, sym := range trades.Symbols() {
		rep.Trades = append(rep.Trades, trades.Symbol(sym)...)
	}
	sort.SliceStable(rep.Trades, func(i, j int) bool { return rep.Trades[i].Time.Before(rep.Trades[j].Time) })
	sort.Slice(rep.Open, func(i, j int) bool { return rep.Open[i].Symbol < rep.Open[j].Symbol })
	rep.Summary = summarize(rep.Trades, tracker.Snapshot())
	return rep, nil
}

func (r *Runner) universe(ctx context.Context, symbols []string) ([]string, error) {
	if len(symbols) > 0 {
		out := make([]string, 0, len(symbols))
		for _, s := range symbols {
			out = append(out, strings.ToUpper(strings.TrimSpace(s)))
		}
		return out, nil
	}
	if r.cfg.Tickers == nil {
		return nil, ErrNoSymbols
	}
	tickers, err := r.cfg.Tickers.Tickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tickers: %w", err)
	}
	top := selection.TopByValue(tickers, defaultUniverse)
	if len(top) == 0 {
		return nil, ErrNoSymbols
	}
	return top, nil
}

// replay walks one symbol's history. Exits are checked before entries on
// each bar, so a bar that closes a position cannot reopen it on the same
// signal.
func (r *Runner) replay(ctx context.Context, sym string, trades *history.Log, tracker *risk.Tracker) (*Open, error) {
	series, err := r.cfg.Loader.Candlesticks(ctx, sym, r.cfg.Timeframe)
	if err != nil {
		return nil, err
	}
	rows, err := r.cfg.Strategies.Rows(r.cfg.Strategy, series)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(series) {
		return nil, fmt.Errorf("strategy %s returned %d rows for %d bars", r.cfg.Strategy, len(rows), len(series))
	}

	rules := r.cfg.Rules
	var pos *state.Position
	for i, c := range series {
		at := time.UnixMilli(c.Time)
		if !r.tradable(at) {
			continue
		}
		st := strategy.DetermineStatus(rows[:i+1])
		price := c.Close

		if pos != nil {
			if d, ok := rules.Evaluate(pos, price); ok {
				if d.Reason.Immediate() || pos.SplitSellCount <= r.cfg.SplitSellLimit {
					pos = r.sell(ctx, pos, d.Fraction, string(d.Reason), price, at, trades, tracker)
				}
			}
		}
		if pos != nil && st.LastTrue.IsExit() {
			pos = r.sell(ctx, pos, 1, string(risk.ReasonExitSignal), price, at, trades, tracker)
		}
		if pos == nil && st.Latest.IsEntry() && !trades.ExitedSince(sym, *st.LastTrueTime) {
			pos = r.buy(ctx, sym, price, at, trades)
		}
	}

	if pos == nil || len(series) == 0 {
		return nil, nil
	}
	last := series[len(series)-1].Close
	return &Open{
		Symbol:    sym,
		Units:     pos.Units,
		BuyPrice:  pos.BuyPrice,
		LastPrice: last,
		ProfitPct: pos.ProfitPct(last),
	}, nil
}

func (r *Runner) tradable(t time.Time) bool {
	if !r.cfg.From.IsZero() && t.Before(r.cfg.From) {
		return false
	}
	if !r.cfg.To.IsZero() && t.After(r.cfg.To) {
		return false
	}
	return true
}

func (r *Runner) buy(ctx context.Context, sym string, price float64, at time.Time, trades *history.Log) *state.Position {
	units := 1.0
	if r.cfg.PerTradeKRW > 0 {
		units = order.BuyUnits(r.cfg.PerTradeKRW, r.cfg.PerTradeKRW, price, r.cfg.FeeRate)
	}
	if units <= 0 {
		return nil
	}
	pos := &state.Position{Symbol: sym, Units: units}
	pos.Price(price, r.cfg.Rules.StopLossPct, r.cfg.Rules.TrailingStopPct)
	_, _ = trades.Append(ctx, history.Record{
		Symbol: sym,
		Action: history.ActionBuy,
		Reason: string(risk.ReasonEntrySignal),
		Price:  price,
		Units:  units,
		Time:   at,
	})
	return pos
}

// sell closes fraction of pos and returns what is left, or nil once the
// position is gone.
func (r *Runner) sell(ctx context.Context, pos *state.Position, fraction float64, reason string, price float64, at time.Time, trades *history.Log, tracker *risk.Tracker) *state.Position {
	units := order.SellUnits(pos.Units, fraction)
	if units <= 0 {
		return pos
	}
	pnl := (price-pos.BuyPrice)*units - (price+pos.BuyPrice)*units*r.cfg.FeeRate
	tracker.Record(risk.TradeResult{Symbol: pos.Symbol, Units: units, Price: price, PnL: pnl, Time: at})
	_, _ = trades.Append(ctx, history.Record{
		Symbol:    pos.Symbol,
		Action:    history.ActionSell,
		Reason:    reason,
		Price:     price,
		Units:     units,
		ProfitPct: pos.ProfitPct(price),
		Time:      at,
	})

	rest := order.SellUnits(pos.Units, 1-fraction)
	if fraction >= 1 || rest <= 0 {
		return nil
	}
	pos.Units = rest
	pos.SplitSellCount++
	return pos
}

func summarize(trades []history.Record, m risk.Metrics) Summary {
	s := Summary{
		RealizedPnL: m.TotalRealizedPnL,
		MaxDrawdown: m.MaxDrawdown,
		WinRate:     m.WinRate,
	}
	var gains, losses float64
	s.MaxProfitPct, s.MinProfitPct = math.Inf(-1), math.Inf(1)
	for _, t := range trades {
		if t.Action != history.ActionSell {
			continue
		}
		s.Sells++
		s.TotalProfitPct += t.ProfitPct
		s.MaxProfitPct = math.Max(s.MaxProfitPct, t.ProfitPct)
		s.MinProfitPct = math.Min(s.MinProfitPct, t.ProfitPct)
		if t.ProfitPct > 0 {
			s.Wins++
			gains += t.ProfitPct
		} else {
			s.Losses++
			losses += t.ProfitPct
		}
	}
	if s.Sells == 0 {
		s.MaxProfitPct, s.MinProfitPct = 0, 0
		return s
	}
	if s.Wins > 0 {
		s.AvgProfitPct = gains / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLossPct = losses / float64(s.Losses)
	}
	return s
}
