package reconciliation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradebot/internal/order"
	"tradebot/internal/state"
	"tradebot/pkg/exchanges/common"
)

// unitTolerance absorbs float noise from 8-decimal truncation.
const unitTolerance = 1e-6

// Balances reports what the exchange actually holds.
type Balances interface {
	Balance(ctx context.Context, symbol string) (common.Balance, error)
}

// Holdings is the order side of the ledger: its guard and the way to drop
// a position without trading.
type Holdings interface {
	Guard() *order.Guard
	RemoveHolding(symbol string) order.Result
}

// Service periodically compares ledger units with exchange balances.
type Service struct {
	balances Balances
	ledger   *state.Ledger
	holdings Holdings
	notifier order.Notifier
	interval time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	autoSync bool
	last     Report
}

// Report is the outcome of one pass.
type Report struct {
	Timestamp time.Time      `json:"timestamp"`
	Checked   int            `json:"checked"`
	Diffs     []PositionDiff `json:"diffs"`
	Synced    int            `json:"synced"`
	Failed    []string       `json:"failed,omitempty"`
}

func (r Report) HasDiffs() bool { return len(r.Diffs) > 0 }

// PositionDiff is one symbol whose ledger units disagree with the exchange.
type PositionDiff struct {
	Symbol        string  `json:"symbol"`
	LocalUnits    float64 `json:"localUnits"`
	ExchangeUnits float64 `json:"exchangeUnits"`
	Difference    float64 `json:"difference"`
	Synced        bool    `json:"synced"`
}

// NewService builds a reconciler. notifier may be nil.
func NewService(balances Balances, ledger *state.Ledger, holdings Holdings, notifier order.Notifier, interval time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		balances: balances,
		ledger:   ledger,
		holdings: holdings,
		notifier: notifier,
		interval: interval,
		log:      log.Named("reconcile"),
		autoSync: true,
	}
}

func (s *Service) SetAutoSync(enabled bool) {
	s.mu.Lock()
	s.autoSync = enabled
	s.mu.Unlock()
	s.log.Info("auto-sync changed", zap.Bool("enabled", enabled))
}

// Last returns the most recent report.
func (s *Service) Last() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Start runs Reconcile every interval until ctx ends.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.handleReport(ctx, s.Reconcile(ctx))
			case <-ctx.Done():
				return
			}
		}
	}()
	s.log.Info("reconciliation started", zap.Duration("interval", s.interval))
}

// Reconcile checks every priced position. Symbols with an order in flight
// and buys still waiting for their fill are skipped. With auto-sync on, a
// position the exchange no longer holds is removed and any other mismatch
// takes the exchange units.
func (s *Service) Reconcile(ctx context.Context) Report {
	s.mu.Lock()
	autoSync := s.autoSync
	s.mu.Unlock()

	report := Report{Timestamp: time.Now()}
	guard := s.holdings.Guard()
	for _, pos := range s.ledger.Snapshot() {
		if !pos.Priced || !guard.TryAcquire(pos.Symbol) {
			continue
		}
		diff, err := s.check(ctx, pos, autoSync)
		guard.Release(pos.Symbol)

		report.Checked++
		if err != nil {
			s.log.Warn("balance lookup failed", zap.String("symbol", pos.Symbol), zap.Error(err))
			report.Failed = append(report.Failed, pos.Symbol)
			continue
		}
		if diff == nil {
			continue
		}
		if diff.Synced {
			report.Synced++
		}
		report.Diffs = append(report.Diffs, *diff)
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report
}

// check runs under the guard of pos.Symbol.
func (s *Service) check(ctx context.Context, pos state.Position, autoSync bool) (*PositionDiff, error) {
	bal, err := s.balances.Balance(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}
	if math.Abs(pos.Units-bal.AvailableCoin) <= unitTolerance {
		return nil, nil
	}

	diff := &PositionDiff{
		Symbol:        pos.Symbol,
		LocalUnits:    pos.Units,
		ExchangeUnits: bal.AvailableCoin,
		Difference:    pos.Units - bal.AvailableCoin,
	}
	if !autoSync {
		return diff, nil
	}
	if bal.AvailableCoin <= unitTolerance {
		diff.Synced = s.holdings.RemoveHolding(pos.Symbol).OK()
	} else {
		diff.Synced = s.ledger.Update(pos.Symbol, func(p *state.Position) { p.Units = bal.AvailableCoin })
	}
	if diff.Synced {
		s.log.Info("position synced",
			zap.String("symbol", pos.Symbol),
			zap.Float64("local", pos.Units),
			zap.Float64("exchange", bal.AvailableCoin))
	}
	return diff, nil
}

func (s *Service) handleReport(ctx context.Context, report Report) {
	if !report.HasDiffs() {
		s.log.Debug("positions match", zap.Int("checked", report.Checked))
		return
	}
	lines := make([]string, 0, len(report.Diffs)+1)
	lines = append(lines, "⚠️ Holdings differ from exchange balances")
	for _, d := range report.Diffs {
		mark := "not synced"
		if d.Synced {
			mark = "synced"
		}
		lines = append(lines, fmt.Sprintf("%s: local %.8f, exchange %.8f [%s]", d.Symbol, d.LocalUnits, d.ExchangeUnits, mark))
		s.log.Warn("position mismatch",
			zap.String("symbol", d.Symbol),
			zap.Float64("local", d.LocalUnits),
			zap.Float64("exchange", d.ExchangeUnits),
			zap.Bool("synced", d.Synced))
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, strings.Join(lines, "\n"))
	}
}
