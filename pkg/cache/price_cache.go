package cache

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const numShards = 16

// Quote is the last observed price of a symbol.
type Quote struct {
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PriceCache holds last prices, sharded to keep feed writers from
// contending with API readers.
type PriceCache struct {
	shards [numShards]*shard
	now    func() time.Time
}

type shard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

func NewPriceCache() *PriceCache {
	c := &PriceCache{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]Quote)}
	}
	return c
}

func (c *PriceCache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores price and volume for symbol.
func (c *PriceCache) Set(symbol string, price, volume float64) {
	key := strings.ToUpper(symbol)
	s := c.shardFor(key)
	s.mu.Lock()
	s.items[key] = Quote{Price: price, Volume: volume, UpdatedAt: c.now()}
	s.mu.Unlock()
}

// Get returns the cached quote for symbol.
func (c *PriceCache) Get(symbol string) (Quote, bool) {
	key := strings.ToUpper(symbol)
	s := c.shardFor(key)
	s.mu.RLock()
	q, ok := s.items[key]
	s.mu.RUnlock()
	return q, ok
}

// Price returns just the price and its age.
func (c *PriceCache) Price(symbol string) (float64, time.Duration, bool) {
	q, ok := c.Get(symbol)
	if !ok {
		return 0, 0, false
	}
	return q.Price, c.now().Sub(q.UpdatedAt), true
}

func (c *PriceCache) Delete(symbol string) {
	key := strings.ToUpper(symbol)
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns total items across all shards.
func (c *PriceCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Expire drops quotes older than maxAge and returns how many went.
func (c *PriceCache) Expire(maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for sym, q := range s.items {
			if q.UpdatedAt.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Retain keeps only the listed symbols.
func (c *PriceCache) Retain(symbols []string) int {
	keep := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		keep[strings.ToUpper(s)] = true
	}
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for sym := range s.items {
			if !keep[sym] {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Prices returns a symbol -> price snapshot.
func (c *PriceCache) Prices() map[string]float64 {
	out := make(map[string]float64)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, q := range s.items {
			out[sym] = q.Price
		}
		s.mu.RUnlock()
	}
	return out
}
