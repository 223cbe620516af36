package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"tradebot/internal/events"
	"tradebot/internal/history"
	"tradebot/internal/risk"
	"tradebot/internal/state"
	"tradebot/pkg/exchanges/common"
	"tradebot/pkg/i18n"
)

// Notifier delivers a best-effort text message.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Watcher starts and stops the price stream of a symbol.
type Watcher interface {
	Watch(symbol string)
	Unwatch(symbol string)
}

// Settings are the sizing knobs that can change at runtime.
type Settings struct {
	PerTradeKRW    float64 `json:"perTradeKRW"`
	SplitSellLimit int     `json:"splitSellLimit"`
	FeeRate        float64 `json:"feeRate"`
}

// Config wires an Orchestrator. Only Gateway and Ledger are required.
type Config struct {
	Gateway  Gateway
	Ledger   *state.Ledger
	Guard    *Guard
	Bus      *events.Bus
	History  *history.Log
	Tracker  *risk.Tracker
	Notifier Notifier
	Streams  Watcher
	// Rules supplies the stop-loss and trailing percentages used to price a fill.
	Rules    func() risk.Rules
	Settings Settings
	Logger   *zap.Logger

	// DetailTimeout bounds the order detail retries; default 20s.
	DetailTimeout time.Duration
}

// Orchestrator turns buy and sell intents into exchange orders and ledger
// changes. Every order for a symbol runs under the Guard.
type Orchestrator struct {
	gateway  Gateway
	ledger   *state.Ledger
	guard    *Guard
	bus      *events.Bus
	history  *history.Log
	tracker  *risk.Tracker
	notifier Notifier
	streams  Watcher
	rules    func() risk.Rules
	log      *zap.Logger

	detailTimeout time.Duration
	detailBackoff func() backoff.BackOff

	mu       sync.RWMutex
	settings Settings

	fills sync.WaitGroup
	now   func() time.Time
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		gateway:       cfg.Gateway,
		ledger:        cfg.Ledger,
		guard:         cfg.Guard,
		bus:           cfg.Bus,
		history:       cfg.History,
		tracker:       cfg.Tracker,
		notifier:      cfg.Notifier,
		streams:       cfg.Streams,
		rules:         cfg.Rules,
		log:           cfg.Logger,
		settings:      cfg.Settings,
		detailTimeout: cfg.DetailTimeout,
		now:           time.Now,
	}
	if o.guard == nil {
		o.guard = NewGuard()
	}
	if o.bus == nil {
		o.bus = events.NewBus()
	}
	if o.history == nil {
		o.history = history.NewLog(nil)
	}
	if o.tracker == nil {
		o.tracker = risk.NewTracker()
	}
	if o.rules == nil {
		o.rules = risk.DefaultRules
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	o.log = o.log.Named("orchestrator")
	if o.settings.FeeRate <= 0 {
		o.settings.FeeRate = DefaultFeeRate
	}
	if o.detailTimeout <= 0 {
		o.detailTimeout = 20 * time.Second
	}
	o.detailBackoff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 300 * time.Millisecond
		b.MaxInterval = 3 * time.Second
		return b
	}
	return o
}

func (o *Orchestrator) Guard() *Guard { return o.guard }

func (o *Orchestrator) Settings() Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings
}

// UpdateSettings applies fn to a copy of the settings and stores it.
func (o *Orchestrator) UpdateSettings(fn func(*Settings)) Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.settings
	fn(&s)
	o.settings = s
	return s
}

// Buy places a market buy for symbol sized from the per-trade budget.
// The position appears in the ledger as soon as the exchange accepts the
// order and is priced once the fill detail arrives.
func (o *Orchestrator) Buy(ctx context.Context, symbol, reason string) Result {
	symbol = strings.ToUpper(symbol)
	if !o.guard.TryAcquire(symbol) {
		return failed(symbol, StatusInProgress, fmt.Errorf("buy %s: %w", symbol, ErrInProgress))
	}
	defer o.guard.Release(symbol)

	if o.ledger.Contains(symbol) {
		return failed(symbol, "", fmt.Errorf("buy %s: %w", symbol, ErrHeld))
	}

	settings := o.Settings()
	bal, err := o.gateway.Balance(ctx, symbol)
	if err != nil {
		return o.rejectBuy(ctx, symbol, common.StatusOf(err), fmt.Errorf("balance %s: %w", symbol, err))
	}
	book, err := o.gateway.Orderbook(ctx, symbol)
	if err != nil {
		return o.rejectBuy(ctx, symbol, common.StatusOf(err), fmt.Errorf("orderbook %s: %w", symbol, err))
	}
	units := BuyUnits(bal.AvailableKRW, settings.PerTradeKRW, book.BestAsk(), settings.FeeRate)
	if units <= 0 {
		return o.rejectBuy(ctx, symbol, "", fmt.Errorf("%w: %s krw=%s ask=%s", ErrInsufficient, symbol, fmtKRW(bal.AvailableKRW), fmtKRW(book.BestAsk())))
	}

	ack, err := o.gateway.MarketBuy(ctx, symbol, units)
	if err == nil && (ack.Status != common.StatusOK || ack.OrderID == "") {
		err = &common.APIError{Status: ack.Status, Message: "order accepted without order id"}
	}
	if err != nil {
		status := ack.Status
		if status == "" {
			status = common.StatusOf(err)
		}
		return o.rejectBuy(ctx, symbol, status, fmt.Errorf("%w: buy %s: %w", ErrRejected, symbol, err))
	}

	placeholder := state.Position{
		Symbol:   symbol,
		Units:    units,
		OrderID:  ack.OrderID,
		Reason:   reason,
		OpenedAt: o.now(),
	}
	if err := o.ledger.Upsert(placeholder); err != nil {
		o.log.Error("ledger rejected placeholder", zap.String("symbol", symbol), zap.Error(err))
	}

	res := Result{
		Status:  common.StatusOK,
		Symbol:  symbol,
		OrderID: ack.OrderID,
		Units:   units,
		Message: fmt.Sprintf("buy %s success", symbol),
	}
	o.bus.Publish(events.EventOrderSubmitted, res)
	o.log.Info("buy submitted",
		zap.String("symbol", symbol),
		zap.String("order_id", ack.OrderID),
		zap.Float64("units", units),
		zap.String("reason", reason))
	o.notify(ctx, fmt.Sprintf(i18n.M().BuySubmitted, symbol, fmtUnits(units), reason, ack.OrderID))

	o.fills.Add(1)
	go o.resolveBuy(context.WithoutCancel(ctx), symbol, ack.OrderID, units, reason)
	return res
}

func (o *Orchestrator) rejectBuy(ctx context.Context, symbol, status string, err error) Result {
	res := failed(symbol, status, err)
	o.bus.Publish(events.EventOrderRejected, res)
	o.log.Warn("buy failed", zap.String("symbol", symbol), zap.String("status", res.Status), zap.Error(err))
	o.notify(ctx, fmt.Sprintf(i18n.M().BuyRejected, symbol, err.Error()))
	return res
}

// resolveBuy prices the placeholder once the contract detail is known.
// Without a contract the placeholder stays unpriced and the monitor skips it.
func (o *Orchestrator) resolveBuy(ctx context.Context, symbol, orderID string, units float64, reason string) {
	defer o.fills.Done()
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("fill resolver panic", zap.String("symbol", symbol), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	detail, err := o.fetchDetail(ctx, orderID, symbol)
	if err != nil {
		o.log.Error("buy fill detail unavailable, position left unpriced",
			zap.String("symbol", symbol), zap.String("order_id", orderID), zap.Error(err))
		o.notify(ctx, fmt.Sprintf(i18n.M().BuyFillMissing, symbol, orderID))
		o.record(ctx, history.Record{Symbol: symbol, Action: history.ActionBuy, Reason: reason, Units: units, OrderID: orderID})
		return
	}

	price := detail.AvgPrice()
	if filled := detail.FilledUnits(); filled > 0 {
		units = filled
	}
	rules := o.rules()
	var priced state.Position
	ok := o.ledger.Update(symbol, func(p *state.Position) {
		if p.OrderID != orderID {
			return
		}
		p.Units = units
		p.Price(price, rules.StopLossPct, rules.TrailingStopPct)
		priced = *p
	})
	if !ok || !priced.Priced {
		o.log.Warn("position changed before fill was priced", zap.String("symbol", symbol), zap.String("order_id", orderID))
		return
	}
	if o.streams != nil {
		o.streams.Watch(symbol)
	}

	o.record(ctx, history.Record{Symbol: symbol, Action: history.ActionBuy, Reason: reason, Price: price, Units: units, OrderID: orderID})
	o.bus.Publish(events.EventOrderFilled, Result{Status: common.StatusOK, Symbol: symbol, OrderID: orderID, Units: units, Price: price})
	o.bus.Publish(events.EventPositionOpened, priced)
	o.log.Info("buy filled",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Float64("units", units),
		zap.Float64("stop_loss", priced.StopLossPrice),
		zap.Float64("trailing_stop", priced.TrailingStopPrice))
	o.notify(ctx, fmt.Sprintf(i18n.M().BuyFilled, symbol, fmtKRW(price), fmtUnits(units),
		fmtKRW(priced.StopLossPrice), fmtKRW(priced.TrailingStopPrice)))
}

// Sell places a market sell of fraction of the available balance.
// Non-immediate reasons are throttled by the split-sell limit.
func (o *Orchestrator) Sell(ctx context.Context, symbol string, fraction float64, reason string) Result {
	symbol = strings.ToUpper(symbol)
	if fraction <= 0 {
		return failed(symbol, "", fmt.Errorf("sell %s: fraction %v must be positive", symbol, fraction))
	}
	if fraction > 1 {
		fraction = 1
	}
	if !o.guard.TryAcquire(symbol) {
		return failed(symbol, StatusInProgress, fmt.Errorf("sell %s: %w", symbol, ErrInProgress))
	}
	defer o.guard.Release(symbol)

	settings := o.Settings()
	pos, held := o.ledger.Get(symbol)
	if held && !risk.Reason(reason).Immediate() && pos.SplitSellCount > settings.SplitSellLimit {
		o.log.Info("sell passed, split sell limit reached",
			zap.String("symbol", symbol), zap.Int("split_sell_count", pos.SplitSellCount), zap.String("reason", reason))
		return Result{Status: StatusPassed, Symbol: symbol, Message: fmt.Sprintf(i18n.M().SellPassed, symbol)}
	}

	bal, err := o.gateway.Balance(ctx, symbol)
	if err != nil {
		return o.rejectSell(ctx, symbol, common.StatusOf(err), fmt.Errorf("balance %s: %w", symbol, err))
	}
	units := SellUnits(bal.AvailableCoin, fraction)
	if units <= 0 {
		return o.rejectSell(ctx, symbol, "", fmt.Errorf("%w: %s has no sellable units", ErrInsufficient, symbol))
	}

	ack, err := o.gateway.MarketSell(ctx, symbol, units)
	if err == nil && ack.Status != common.StatusOK {
		err = &common.APIError{Status: ack.Status}
	}
	if err != nil {
		status := ack.Status
		if status == "" {
			status = common.StatusOf(err)
		}
		return o.rejectSell(ctx, symbol, status, fmt.Errorf("%w: sell %s: %w", ErrRejected, symbol, err))
	}

	full := fraction >= 1
	if held {
		if full {
			o.ledger.Remove(symbol)
			if o.streams != nil {
				o.streams.Unwatch(symbol)
			}
		} else {
			o.ledger.Update(symbol, func(p *state.Position) {
				p.SplitSellCount++
				if rest := SellUnits(p.Units, 1-fraction); rest > 0 {
					p.Units = rest
				}
			})
		}
	}

	res := Result{
		Status:  common.StatusOK,
		Symbol:  symbol,
		OrderID: ack.OrderID,
		Units:   units,
		Message: fmt.Sprintf("sell %s success", symbol),
	}

	var fee float64
	if ack.OrderID != "" {
		detail, err := o.fetchDetail(ctx, ack.OrderID, symbol)
		if err != nil {
			o.log.Error("sell fill detail unavailable", zap.String("symbol", symbol), zap.String("order_id", ack.OrderID), zap.Error(err))
		} else {
			res.Price = detail.AvgPrice()
			for _, c := range detail.Contracts {
				fee += c.Fee
			}
		}
	}
	if held && res.Price > 0 {
		res.ProfitPct = pos.ProfitPct(res.Price)
		o.tracker.Record(risk.TradeResult{
			Symbol: symbol,
			Units:  units,
			Price:  res.Price,
			PnL:    (res.Price-pos.BuyPrice)*units - fee,
			Time:   o.now(),
		})
	}

	o.record(ctx, history.Record{
		Symbol:    symbol,
		Action:    history.ActionSell,
		Reason:    reason,
		Price:     res.Price,
		Units:     units,
		ProfitPct: res.ProfitPct,
		OrderID:   ack.OrderID,
	})
	o.bus.Publish(events.EventOrderFilled, res)
	if held && full {
		o.bus.Publish(events.EventPositionClosed, pos)
	}
	o.log.Info("sell filled",
		zap.String("symbol", symbol),
		zap.String("reason", reason),
		zap.Float64("units", units),
		zap.Float64("price", res.Price),
		zap.Float64("profit_pct", res.ProfitPct),
		zap.Bool("full", full))
	o.notify(ctx, fmt.Sprintf(i18n.M().SellFilled, symbol, fmtUnits(units), fmtKRW(res.Price), res.ProfitPct, reason))
	return res
}

func (o *Orchestrator) rejectSell(ctx context.Context, symbol, status string, err error) Result {
	res := failed(symbol, status, err)
	o.bus.Publish(events.EventOrderRejected, res)
	o.log.Warn("sell failed", zap.String("symbol", symbol), zap.String("status", res.Status), zap.Error(err))
	o.notify(ctx, fmt.Sprintf(i18n.M().SellRejected, symbol, err.Error()))
	return res
}

// ExecuteDecision lets the position monitor drive sells.
func (o *Orchestrator) ExecuteDecision(ctx context.Context, d risk.Decision) error {
	res := o.Sell(ctx, d.Symbol, d.Fraction, string(d.Reason))
	if errors.Is(res.Err, ErrInProgress) {
		return risk.ErrBusy
	}
	return res.Err
}

// AddHolding records a position bought outside the bot.
func (o *Orchestrator) AddHolding(symbol string, units, buyPrice float64, splitSellCount int) Result {
	symbol = strings.ToUpper(symbol)
	if !o.guard.TryAcquire(symbol) {
		return failed(symbol, StatusInProgress, fmt.Errorf("add holding %s: %w", symbol, ErrInProgress))
	}
	defer o.guard.Release(symbol)

	rules := o.rules()
	pos := state.Position{
		Symbol:         symbol,
		Units:          units,
		Reason:         string(risk.ReasonUser),
		SplitSellCount: splitSellCount,
		OpenedAt:       o.now(),
	}
	pos.Price(buyPrice, rules.StopLossPct, rules.TrailingStopPct)
	if err := o.ledger.Upsert(pos); err != nil {
		return failed(symbol, "", fmt.Errorf("add holding: %w", err))
	}
	if o.streams != nil {
		o.streams.Watch(symbol)
	}
	o.bus.Publish(events.EventPositionOpened, pos)
	o.log.Info("holding added", zap.String("symbol", symbol), zap.Float64("units", units), zap.Float64("buy_price", buyPrice))
	return Result{Status: common.StatusOK, Symbol: symbol, Units: units, Price: buyPrice, Message: fmt.Sprintf(i18n.M().HoldingAdded, symbol)}
}

// RemoveHolding forgets a position without trading. Removing twice is safe.
func (o *Orchestrator) RemoveHolding(symbol string) Result {
	symbol = strings.ToUpper(symbol)
	pos, held := o.ledger.Get(symbol)
	if !held || !o.ledger.Remove(symbol) {
		return Result{Status: StatusError, Symbol: symbol, Message: fmt.Sprintf(i18n.M().HoldingNotFound, symbol), Err: ErrNotHeld}
	}
	if o.streams != nil {
		o.streams.Unwatch(symbol)
	}
	o.bus.Publish(events.EventPositionClosed, pos)
	o.log.Info("holding removed", zap.String("symbol", symbol))
	return Result{Status: common.StatusOK, Symbol: symbol, Message: fmt.Sprintf(i18n.M().HoldingRemoved, symbol)}
}

// Wait blocks until pending buy fills are resolved or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.fills.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchDetail polls the order detail until it carries a contract.
func (o *Orchestrator) fetchDetail(ctx context.Context, orderID, symbol string) (common.OrderDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, o.detailTimeout)
	defer cancel()

	op := func() (common.OrderDetail, error) {
		d, err := o.gateway.OrderDetail(ctx, orderID, symbol)
		if err != nil {
			return d, err
		}
		if len(d.Contracts) == 0 || d.AvgPrice() <= 0 {
			return d, ErrNoContract
		}
		return d, nil
	}
	notify := func(err error, wait time.Duration) {
		o.log.Debug("order detail retry", zap.String("order_id", orderID), zap.Duration("backoff", wait), zap.Error(err))
	}
	d, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(o.detailBackoff()),
		backoff.WithMaxElapsedTime(o.detailTimeout),
		backoff.WithNotify(notify))
	if err != nil {
		return d, fmt.Errorf("order detail %s: %w", orderID, err)
	}
	return d, nil
}

func (o *Orchestrator) record(ctx context.Context, r history.Record) {
	saved, err := o.history.Append(ctx, r)
	if err != nil {
		o.log.Warn("history sink failed", zap.String("symbol", r.Symbol), zap.Error(err))
	}
	o.bus.Publish(events.EventTradeRecorded, saved)
}

func (o *Orchestrator) notify(ctx context.Context, text string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(ctx, text)
}
