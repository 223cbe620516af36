package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	market "tradebot/pkg/market/bithumb"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// recentRows is how many bars an Analysis carries back for display.
const recentRows = 20

// Analysis is the signal summary of one symbol.
type Analysis struct {
	Symbol   string `json:"ticker"`
	Strategy string `json:"strategy"`
	Status
	ATR    float64 `json:"atr"`
	Close  float64 `json:"close"`
	Recent []Row   `json:"data"` // newest first
}

// Engine holds the registered strategies and which one drives trading.
type Engine struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	active     string
}

// NewEngine registers ss; the first one becomes active.
func NewEngine(ss ...Strategy) *Engine {
	e := &Engine{strategies: make(map[string]Strategy)}
	for _, s := range ss {
		e.Register(s)
	}
	return e
}

// Register adds s, making it active if nothing is yet.
func (e *Engine) Register(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[s.Name()] = s
	if e.active == "" {
		e.active = s.Name()
	}
}

// Use switches the active strategy.
func (e *Engine) Use(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.strategies[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	e.active = name
	return nil
}

func (e *Engine) Active() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// Names lists registered strategies.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.strategies))
	for n := range e.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MinBars reports the history requirement of the active strategy.
func (e *Engine) MinBars() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.strategies[e.active]; ok {
		return s.MinBars()
	}
	return 0
}

// Analyze runs the active strategy over candles (oldest first).
func (e *Engine) Analyze(symbol string, candles []market.Candle) (Analysis, error) {
	return e.AnalyzeWith(e.Active(), symbol, candles)
}

// AnalyzeWith runs the named strategy.
func (e *Engine) AnalyzeWith(name, symbol string, candles []market.Candle) (Analysis, error) {
	e.mu.RLock()
	s, ok := e.strategies[name]
	e.mu.RUnlock()
	if !ok {
		return Analysis{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}

	rows := s.Compute(candles)
	a := Analysis{
		Symbol:   symbol,
		Strategy: name,
		Status:   DetermineStatus(rows),
	}
	if n := len(rows); n > 0 {
		a.ATR = rows[n-1].ATR
		a.Close = rows[n-1].Close
	}
	for i := len(rows) - 1; i >= 0 && len(a.Recent) < recentRows; i-- {
		a.Recent = append(a.Recent, rows[i])
	}
	return a, nil
}

// Rows runs the named strategy and returns every computed bar.
func (e *Engine) Rows(name string, candles []market.Candle) ([]Row, error) {
	e.mu.RLock()
	s, ok := e.strategies[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return s.Compute(candles), nil
}
