package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrInvalidUnits = errors.New("position units must be positive")
	ErrInvalidPrice = errors.New("position buy price must not be negative")
)

// Ledger keeps the authoritative in-memory view of held positions.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]Position
}

func NewLedger() *Ledger {
	return &Ledger{positions: make(map[string]Position)}
}

// Upsert inserts or replaces the position for its symbol.
func (l *Ledger) Upsert(p Position) error {
	p.Symbol = strings.ToUpper(p.Symbol)
	if p.Units <= 0 {
		return fmt.Errorf("%s: %w", p.Symbol, ErrInvalidUnits)
	}
	if p.BuyPrice < 0 {
		return fmt.Errorf("%s: %w", p.Symbol, ErrInvalidPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions[p.Symbol] = p
	return nil
}

// Get returns a copy of the position for symbol.
func (l *Ledger) Get(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[strings.ToUpper(symbol)]
	return p, ok
}

// Update applies fn to the stored position under the write lock.
// It returns false when symbol is not held.
func (l *Ledger) Update(symbol string, fn func(*Position)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := strings.ToUpper(symbol)
	p, ok := l.positions[key]
	if !ok {
		return false
	}
	fn(&p)
	l.positions[key] = p
	return true
}

// Remove deletes symbol and reports whether it was held.
func (l *Ledger) Remove(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := strings.ToUpper(symbol)
	_, ok := l.positions[key]
	delete(l.positions, key)
	return ok
}

func (l *Ledger) Contains(symbol string) bool {
	_, ok := l.Get(symbol)
	return ok
}

func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Keys returns held symbols in sorted order.
func (l *Ledger) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.positions))
	for k := range l.positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns all positions sorted by symbol.
func (l *Ledger) Snapshot() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Symbol < res[j].Symbol })
	return res
}
