package risk

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"tradebot/internal/events"
	"tradebot/internal/state"
	market "tradebot/pkg/market/bithumb"
)

// workerBuffer is how many ticks a symbol may queue while its previous
// tick is still being handled.
const workerBuffer = 64

// ErrBusy is returned by an Executor when the symbol already has an order in flight.
var ErrBusy = errors.New("symbol has an order in flight")

// Executor carries out a sell decision.
type Executor interface {
	ExecuteDecision(ctx context.Context, d Decision) error
}

// Monitor applies the exit rules to every price tick of a held symbol.
// Each held symbol gets its own worker, so a slow sell on one symbol never
// delays the checks of another.
type Monitor struct {
	bus      *events.Bus
	ledger   *state.Ledger
	executor Executor
	log      *zap.Logger

	mu    sync.RWMutex
	rules Rules

	wmu     sync.Mutex
	workers map[string]chan market.Tick
	dropped uint64
}

func NewMonitor(bus *events.Bus, ledger *state.Ledger, executor Executor, rules Rules, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		bus:      bus,
		ledger:   ledger,
		executor: executor,
		rules:    rules,
		log:      log.Named("position-monitor"),
		workers:  make(map[string]chan market.Tick),
	}
}

// Rules returns the thresholds in effect.
func (m *Monitor) Rules() Rules {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules
}

// SetRules swaps the thresholds; the next tick uses them.
func (m *Monitor) SetRules(r Rules) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.rules = r
	m.mu.Unlock()
	return nil
}

// Start consumes price ticks until ctx is done or the bus closes and
// hands each one to the worker of its symbol.
func (m *Monitor) Start(ctx context.Context) {
	stream, unsub := m.bus.Subscribe(events.EventPriceTick, 256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if tick, ok := msg.(market.Tick); ok {
					m.route(ctx, tick)
				}
			}
		}
	}()
}

// route queues tick for its symbol, starting a worker when none runs.
// It never blocks: when a queue is full the oldest tick is dropped.
func (m *Monitor) route(ctx context.Context, tick market.Tick) {
	if !m.ledger.Contains(tick.Symbol) {
		return
	}
	key := strings.ToUpper(tick.Symbol)

	m.wmu.Lock()
	defer m.wmu.Unlock()
	queue, ok := m.workers[key]
	if !ok {
		queue = make(chan market.Tick, workerBuffer)
		m.workers[key] = queue
		go m.work(ctx, key, queue)
	}
	select {
	case queue <- tick:
	default:
		// only this goroutine sends, so after one receive the send fits
		select {
		case <-queue:
		default:
		}
		queue <- tick
		m.dropped++
		m.log.Debug("tick queue full, dropped oldest", zap.String("symbol", key))
	}
}

// work handles the ticks of one symbol in order. It exits once the
// position is gone and nothing is queued.
func (m *Monitor) work(ctx context.Context, symbol string, queue chan market.Tick) {
	for {
		select {
		case <-ctx.Done():
			m.wmu.Lock()
			delete(m.workers, symbol)
			m.wmu.Unlock()
			return
		case tick := <-queue:
			m.safeHandle(ctx, tick)
			if m.ledger.Contains(symbol) {
				continue
			}
			m.wmu.Lock()
			if len(queue) == 0 {
				delete(m.workers, symbol)
				m.wmu.Unlock()
				return
			}
			m.wmu.Unlock()
		}
	}
}

// Workers lists the symbols that currently have a worker.
func (m *Monitor) Workers() []string {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	out := make([]string, 0, len(m.workers))
	for s := range m.workers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Dropped counts ticks discarded because a symbol's queue was full.
func (m *Monitor) Dropped() uint64 {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	return m.dropped
}

func (m *Monitor) safeHandle(ctx context.Context, tick market.Tick) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("tick handler panic", zap.String("symbol", tick.Symbol), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	m.HandleTick(ctx, tick)
}

// HandleTick evaluates one tick. It returns the decision that was
// dispatched, if any.
func (m *Monitor) HandleTick(ctx context.Context, tick market.Tick) (Decision, bool) {
	if tick.Close <= 0 {
		return Decision{}, false
	}
	rules := m.Rules()

	var (
		decision Decision
		fire     bool
	)
	held := m.ledger.Update(tick.Symbol, func(p *state.Position) {
		if !p.Priced {
			return
		}
		decision, fire = rules.Evaluate(p, tick.Close)
	})
	if !held || !fire {
		return Decision{}, false
	}

	m.log.Info("exit condition met",
		zap.String("symbol", decision.Symbol),
		zap.String("reason", string(decision.Reason)),
		zap.Float64("price", decision.Price),
		zap.Float64("profit_pct", decision.ProfitPct),
		zap.Float64("fraction", decision.Fraction))

	if err := m.executor.ExecuteDecision(ctx, decision); err != nil {
		if errors.Is(err, ErrBusy) {
			m.log.Debug("skip tick, order in flight", zap.String("symbol", decision.Symbol))
			return Decision{}, false
		}
		m.log.Warn("exit order failed", zap.String("symbol", decision.Symbol), zap.Error(err))
	}
	return decision, true
}
