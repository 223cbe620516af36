package order

import (
	"sort"
	"strings"
	"sync"
)

// Guard is the in-trading-process set: a symbol is a member while an order
// for it is being placed.
type Guard struct {
	mu      sync.Mutex
	symbols map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{symbols: make(map[string]struct{})}
}

// TryAcquire adds symbol and reports whether it was absent.
func (g *Guard) TryAcquire(symbol string) bool {
	key := strings.ToUpper(symbol)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.symbols[key]; busy {
		return false
	}
	g.symbols[key] = struct{}{}
	return true
}

func (g *Guard) Release(symbol string) {
	g.mu.Lock()
	delete(g.symbols, strings.ToUpper(symbol))
	g.mu.Unlock()
}

func (g *Guard) Busy(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.symbols[strings.ToUpper(symbol)]
	return busy
}

// Symbols lists the members, sorted.
func (g *Guard) Symbols() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.symbols))
	for s := range g.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
