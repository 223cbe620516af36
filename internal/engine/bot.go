package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradebot/internal/candles"
	"tradebot/internal/events"
	"tradebot/internal/history"
	"tradebot/internal/market"
	"tradebot/internal/monitor"
	"tradebot/internal/order"
	"tradebot/internal/risk"
	"tradebot/internal/selection"
	"tradebot/internal/state"
	"tradebot/internal/strategy"
	"tradebot/pkg/cache"
	"tradebot/pkg/config"
	"tradebot/pkg/i18n"
	bithumb "tradebot/pkg/market/bithumb"
)

var (
	ErrNotActive  = errors.New("symbol is not active")
	ErrNoSelector = errors.New("coin selection not configured")
	ErrInvalid    = errors.New("invalid setting")
)

// Archive serves trade history beyond the in-memory log.
type Archive interface {
	Load(ctx context.Context, symbol string, limit int) ([]history.Record, error)
}

// Config wires a Bot. Orchestrator, Ledger, Feed, Candles, Risk and
// Strategies are required.
type Config struct {
	Orchestrator *order.Orchestrator
	Ledger       *state.Ledger
	Feed         *market.Feed
	Candles      *candles.Store
	CandleSource candles.Loader
	Prices       *cache.PriceCache
	Risk         *risk.Monitor
	Strategies   *strategy.Engine
	Selector     *selection.Selector
	History      *history.Log
	Archive      Archive
	Tracker      *risk.Tracker
	Bus          *events.Bus
	Notifier     order.Notifier
	Metrics      *monitor.SystemMetrics
	Logger       *zap.Logger

	Trading     config.Trading
	DryRun      bool
	Concurrency int
}

// Bot is the trading core: it owns the ledger, the price feed, the
// position monitor, the orchestrator and the interval scheduler.
type Bot struct {
	orch     *order.Orchestrator
	ledger   *state.Ledger
	feed     *market.Feed
	store    *candles.Store
	source   candles.Loader
	prices   *cache.PriceCache
	risk     *risk.Monitor
	strat    *strategy.Engine
	selector *selection.Selector
	history  *history.Log
	archive  Archive
	tracker  *risk.Tracker
	bus      *events.Bus
	notifier order.Notifier
	metrics  *monitor.SystemMetrics
	log      *zap.Logger
	dryRun   bool
	workers  int

	mu           sync.RWMutex
	timeframe    string
	topN         int
	holdingLimit int
	symbols      []string // fixed by Run
	selected     []string // last selector ranking
	interest     map[string]bool
	lastScan     time.Time
	scheduler    *Scheduler
}

func New(cfg Config) *Bot {
	b := &Bot{
		orch:         cfg.Orchestrator,
		ledger:       cfg.Ledger,
		feed:         cfg.Feed,
		store:        cfg.Candles,
		source:       cfg.CandleSource,
		prices:       cfg.Prices,
		risk:         cfg.Risk,
		strat:        cfg.Strategies,
		selector:     cfg.Selector,
		history:      cfg.History,
		archive:      cfg.Archive,
		tracker:      cfg.Tracker,
		bus:          cfg.Bus,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		log:          cfg.Logger,
		dryRun:       cfg.DryRun,
		workers:      cfg.Concurrency,
		timeframe:    cfg.Trading.Timeframe,
		topN:         cfg.Trading.TopN,
		holdingLimit: cfg.Trading.HoldingLimit,
		interest:     make(map[string]bool),
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	b.log = b.log.Named("bot")
	if b.history == nil {
		b.history = history.NewLog(nil)
	}
	if b.tracker == nil {
		b.tracker = risk.NewTracker()
	}
	if b.prices == nil {
		b.prices = cache.NewPriceCache()
	}
	if b.metrics == nil {
		b.metrics = monitor.NewSystemMetrics()
	}
	if b.bus == nil {
		b.bus = events.NewBus()
	}
	if b.workers <= 0 {
		b.workers = 4
	}
	if b.timeframe == "" {
		b.timeframe = "1h"
	}
	for _, s := range cfg.Trading.InterestSymbols {
		b.interest[strings.ToUpper(s)] = true
	}
	return b
}

// Start brings up the feed, the position monitor and the tick consumer.
// Held positions start streaming immediately.
func (b *Bot) Start(ctx context.Context) {
	b.feed.Start(ctx)
	b.risk.Start(ctx)
	for _, sym := range b.ledger.Keys() {
		b.feed.Watch(sym)
	}

	ticks, unsub := b.bus.Subscribe(events.EventPriceTick, 256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ticks:
				if !ok {
					return
				}
				if tick, ok := msg.(bithumb.Tick); ok {
					b.store.Update(tick)
					b.prices.Set(tick.Symbol, tick.Close, tick.Volume)
				}
			}
		}
	}()
}

func (b *Bot) Buy(ctx context.Context, symbol, reason string) order.Result {
	timer := monitor.NewTimer(b.metrics.OrderLatency)
	defer timer.Stop()
	return b.track(b.orch.Buy(ctx, symbol, reason))
}

func (b *Bot) Sell(ctx context.Context, symbol string, fraction float64, reason string) order.Result {
	timer := monitor.NewTimer(b.metrics.OrderLatency)
	defer timer.Stop()
	return b.track(b.orch.Sell(ctx, symbol, fraction, reason))
}

func (b *Bot) AddHolding(symbol string, units, buyPrice float64, splitSellCount int) order.Result {
	return b.orch.AddHolding(symbol, units, buyPrice, splitSellCount)
}

func (b *Bot) RemoveHolding(symbol string) order.Result {
	return b.orch.RemoveHolding(symbol)
}

func (b *Bot) track(res order.Result) order.Result {
	if res.OK() {
		b.metrics.IncrementOrders()
	} else if res.Status != order.StatusPassed && res.Status != order.StatusInProgress {
		b.metrics.IncrementErrors()
	}
	return res
}

// Run starts the interval scheduler on timeframe.
func (b *Bot) Run(ctx context.Context, req RunRequest) error {
	tf := req.Timeframe
	if tf == "" {
		tf = b.Timeframe()
	}
	interval, err := candles.ParseTimeframe(tf)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := b.store.SetTimeframe(tf); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if req.StopLossPct > 0 {
		if err := b.SetStopLoss(req.StopLossPct); err != nil {
			return err
		}
	}

	b.mu.Lock()
	if b.scheduler != nil && b.scheduler.Running() {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.timeframe = tf
	b.symbols = upper(req.Symbols)
	b.scheduler = NewScheduler(interval, b.scan, b.log)
	sched := b.scheduler
	count := len(b.symbols)
	b.mu.Unlock()

	for _, sym := range b.ledger.Keys() {
		b.feed.Watch(sym)
	}
	if err := sched.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	b.log.Info("trading started", zap.String("timeframe", tf), zap.Strings("symbols", req.Symbols))
	b.notify(ctx, fmt.Sprintf(i18n.M().TradingStarted, count, tf))
	return nil
}

// StopAll halts the scheduler and closes every price stream.
func (b *Bot) StopAll(ctx context.Context) error {
	b.mu.RLock()
	sched := b.scheduler
	b.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	if sched != nil {
		g.Go(func() error { return sched.Stop(gctx) })
	}
	g.Go(func() error {
		b.feed.StopAll()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	b.log.Info("trading stopped")
	b.notify(ctx, i18n.M().TradingStopped)
	return nil
}

// StopSymbol drops symbol from the working set. A held symbol keeps its
// price stream so the position stays protected.
func (b *Bot) StopSymbol(symbol string) error {
	symbol = strings.ToUpper(symbol)
	b.mu.Lock()
	found := b.interest[symbol] || slices.Contains(b.symbols, symbol) || slices.Contains(b.selected, symbol)
	delete(b.interest, symbol)
	b.symbols = slices.DeleteFunc(b.symbols, func(s string) bool { return s == symbol })
	b.selected = slices.DeleteFunc(b.selected, func(s string) bool { return s == symbol })
	b.mu.Unlock()

	if !b.ledger.Contains(symbol) {
		found = found || b.feed.Watching(symbol)
		b.feed.Unwatch(symbol)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotActive, symbol)
	}
	return nil
}

// Reselect ranks the universe now and makes the result the working set.
func (b *Bot) Reselect(ctx context.Context) ([]string, error) {
	if b.selector == nil {
		return nil, ErrNoSelector
	}
	b.mu.RLock()
	n := b.topN
	b.mu.RUnlock()
	top, err := b.selector.Top(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("reselect: %w", err)
	}
	b.mu.Lock()
	b.symbols = nil
	b.selected = top
	b.mu.Unlock()
	b.log.Info("symbols reselected", zap.Strings("symbols", top))
	return top, nil
}

func (b *Bot) AddInterest(symbol string) {
	b.mu.Lock()
	b.interest[strings.ToUpper(symbol)] = true
	b.mu.Unlock()
}

func (b *Bot) RemoveInterest(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := b.interest[symbol]
	delete(b.interest, symbol)
	return ok
}

func (b *Bot) SetStopLoss(pct float64) error {
	r := b.risk.Rules()
	r.StopLossPct = pct
	return b.setRules(r)
}

func (b *Bot) SetTrailingStop(pct, fraction float64) error {
	r := b.risk.Rules()
	r.TrailingStopPct = pct
	r.TrailingStopFraction = fraction
	return b.setRules(r)
}

func (b *Bot) SetProfitTarget(pct, fraction float64) error {
	r := b.risk.Rules()
	r.ProfitTargetPct = pct
	r.ProfitTargetFraction = fraction
	return b.setRules(r)
}

func (b *Bot) setRules(r risk.Rules) error {
	if err := b.risk.SetRules(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	b.log.Info("risk rules updated", zap.Any("rules", r))
	return nil
}

func (b *Bot) SetPerTradeKRW(krw float64) error {
	if krw <= 0 {
		return fmt.Errorf("%w: per trade krw must be positive", ErrInvalid)
	}
	b.orch.UpdateSettings(func(s *order.Settings) { s.PerTradeKRW = krw })
	return nil
}

func (b *Bot) SetHoldingLimit(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: holding limit must be positive", ErrInvalid)
	}
	b.mu.Lock()
	b.holdingLimit = n
	b.mu.Unlock()
	return nil
}

func (b *Bot) SetSplitSellLimit(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: split sell limit must not be negative", ErrInvalid)
	}
	b.orch.UpdateSettings(func(s *order.Settings) { s.SplitSellLimit = n })
	return nil
}

func (b *Bot) Timeframe() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.timeframe
}

func (b *Bot) Status() Status {
	b.mu.RLock()
	st := Status{
		Timeframe:       b.timeframe,
		DryRun:          b.dryRun,
		HoldingLimit:    b.holdingLimit,
		TopN:            b.topN,
		LastScan:        b.lastScan,
		InterestSymbols: keys(b.interest),
	}
	sched := b.scheduler
	b.mu.RUnlock()

	st.Running = sched != nil && sched.Running()
	st.ActiveSymbols = b.workingSet()
	st.StreamingSymbols = b.feed.Active()
	st.HoldingCoins = b.ledger.Snapshot()
	st.InTradingProcessCoins = b.orch.Guard().Symbols()
	st.Settings = b.orch.Settings()
	st.Rules = b.risk.Rules()
	st.Performance = b.tracker.Snapshot()
	st.Prices = b.prices.Prices()
	st.System = b.metrics.GetSnapshot()
	st.ServerTime = time.Now()
	return st
}

// Analyze runs a strategy over fresh candles; empty name and timeframe
// mean the active strategy and the bot timeframe.
func (b *Bot) Analyze(ctx context.Context, strategyName, symbol, timeframe string) (strategy.Analysis, error) {
	symbol = strings.ToUpper(symbol)
	if timeframe == "" {
		timeframe = b.Timeframe()
	}
	if _, err := candles.ParseTimeframe(timeframe); err != nil {
		return strategy.Analysis{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if strategyName == "" {
		strategyName = b.strat.Active()
	}
	series, err := b.source.Candlesticks(ctx, symbol, timeframe)
	if err != nil {
		return strategy.Analysis{}, err
	}
	return b.strat.AnalyzeWith(strategyName, symbol, series)
}

// History returns up to limit records of symbol, oldest first.
func (b *Bot) History(ctx context.Context, symbol string, limit int) ([]history.Record, error) {
	if b.archive != nil {
		return b.archive.Load(ctx, strings.ToUpper(symbol), limit)
	}
	recs := b.history.Symbol(symbol)
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}

// workingSet is run symbols (or the selection) plus interest plus held.
func (b *Bot) workingSet() []string {
	b.mu.RLock()
	set := make(map[string]bool)
	base := b.symbols
	if len(base) == 0 {
		base = b.selected
	}
	for _, s := range base {
		set[s] = true
	}
	for s := range b.interest {
		set[s] = true
	}
	b.mu.RUnlock()
	for _, s := range b.ledger.Keys() {
		set[s] = true
	}
	return keys(set)
}

// scan is one scheduler iteration.
func (b *Bot) scan(ctx context.Context) {
	timer := monitor.NewTimer(b.metrics.ScanLatency)
	defer timer.Stop()

	b.mu.RLock()
	fixed := len(b.symbols) > 0
	n := b.topN
	tf := b.timeframe
	b.mu.RUnlock()
	if !fixed && b.selector != nil {
		if top, err := b.selector.Top(ctx, n); err != nil {
			b.log.Warn("selection failed, keeping previous ranking", zap.Error(err))
		} else {
			b.mu.Lock()
			b.selected = top
			b.mu.Unlock()
		}
	}

	symbols := b.workingSet()
	analyses := b.computeSignals(ctx, symbols, tf)
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return
		}
		if a, ok := analyses[sym]; ok {
			b.dispatch(ctx, sym, a)
		}
	}

	b.mu.Lock()
	b.lastScan = time.Now()
	b.mu.Unlock()
	b.log.Debug("scan complete", zap.Int("symbols", len(symbols)), zap.Int("analyzed", len(analyses)))
}

// computeSignals loads missing candle history and runs the active strategy for every
// symbol concurrently. Symbols that fail are logged and left out.
func (b *Bot) computeSignals(ctx context.Context, symbols []string, timeframe string) map[string]strategy.Analysis {
	out := make(map[string]strategy.Analysis, len(symbols))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, sym := range symbols {
		g.Go(func() error {
			if err := b.store.Ensure(gctx, sym, timeframe); err != nil {
				b.log.Warn("candles unavailable", zap.String("symbol", sym), zap.Error(err))
				return nil
			}
			a, err := b.strat.Analyze(sym, b.store.Series(sym))
			if err != nil {
				b.log.Warn("analysis failed", zap.String("symbol", sym), zap.Error(err))
				return nil
			}
			b.metrics.IncrementSignals()
			mu.Lock()
			out[sym] = a
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// dispatch acts on one symbol's signals: enter on the latest bar, exit on
// the last bar that had any signal.
func (b *Bot) dispatch(ctx context.Context, sym string, a strategy.Analysis) {
	held := b.ledger.Contains(sym)
	if b.orch.Guard().Busy(sym) {
		return
	}
	switch {
	case !held && a.Latest.IsEntry():
		b.mu.RLock()
		limit := b.holdingLimit
		b.mu.RUnlock()
		if b.ledger.Count() >= limit {
			b.log.Debug("entry skipped, holding limit reached", zap.String("symbol", sym), zap.Int("limit", limit))
			return
		}
		if a.LastTrueTime != nil && b.history.ExitedSince(sym, *a.LastTrueTime) {
			b.log.Debug("entry skipped, already exited on this signal", zap.String("symbol", sym))
			return
		}
		b.log.Info("entry signal", zap.String("symbol", sym), zap.Stringer("signals", a.Latest))
		b.notify(ctx, fmt.Sprintf(i18n.M().EntrySignal, sym, b.history.Format(sym)))
		b.Buy(ctx, sym, string(risk.ReasonEntrySignal))

	case held && a.LastTrue.IsExit():
		b.log.Info("exit signal", zap.String("symbol", sym), zap.Stringer("signals", a.LastTrue))
		b.notify(ctx, fmt.Sprintf(i18n.M().ExitSignal, sym, b.history.Format(sym)))
		b.Sell(ctx, sym, 1, string(risk.ReasonExitSignal))
	}
}

func (b *Bot) notify(ctx context.Context, text string) {
	if b.notifier != nil {
		b.notifier.Notify(ctx, text)
	}
}

func upper(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var _ Service = (*Bot)(nil)
