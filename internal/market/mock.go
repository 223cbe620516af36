package market

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"tradebot/internal/candles"
	"tradebot/pkg/cache"
	bithumb "tradebot/pkg/market/bithumb"
)

var ErrNoPrice = errors.New("no price for symbol")

// MockStream generates random-walk ticker streams for local development
// and dry runs without network access.
type MockStream struct {
	Interval   time.Duration
	Step       float64 // max fractional move per tick
	StartPrice float64

	mu   sync.Mutex
	last map[string]float64
	rng  *rand.Rand
}

func NewMockStream(start map[string]float64, interval time.Duration, step float64) *MockStream {
	m := &MockStream{
		Interval:   interval,
		Step:       step,
		StartPrice: 10_000,
		last:       make(map[string]float64),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if m.Interval <= 0 {
		m.Interval = time.Second
	}
	if m.Step <= 0 {
		m.Step = 0.005
	}
	for sym, p := range start {
		m.last[strings.ToUpper(sym)] = p
	}
	return m
}

// Last returns the latest generated price of symbol.
func (m *MockStream) Last(symbol string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.last[strings.ToUpper(symbol)]
	return p, ok
}

// Symbols lists every symbol the stream has priced.
func (m *MockStream) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.last))
	for s := range m.last {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *MockStream) next(symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.last[symbol]
	if !ok {
		p = m.StartPrice
	}
	p *= 1 + (m.rng.Float64()*2-1)*m.Step
	m.last[symbol] = p
	return p
}

// SubscribeTicker emits a tick every Interval until ctx ends or Stop is called.
func (m *MockStream) SubscribeTicker(ctx context.Context, symbol string) (*bithumb.Subscription, error) {
	symbol = strings.ToUpper(symbol)
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan bithumb.Tick, 16)
	sub := &bithumb.Subscription{Ticks: out, Stop: cancel}

	m.mu.Lock()
	if _, ok := m.last[symbol]; !ok {
		m.last[symbol] = m.StartPrice
	}
	m.mu.Unlock()

	go func() {
		defer close(out)
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				price := m.next(symbol)
				tick := bithumb.Tick{
					Symbol: symbol,
					Time:   now.UnixMilli(),
					Close:  price,
					High:   price,
					Low:    price,
					Open:   price,
					Volume: 1 + m.volume(),
				}
				select {
				case out <- tick:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return sub, nil
}

func (m *MockStream) volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() * 10
}

// MockMarket serves order books, candles and tickers from the last known
// prices so the dry-run gateway can trade without the public API.
type MockMarket struct {
	Prices *cache.PriceCache
	Stream *MockStream
	Spread float64
	Bars   int
}

func NewMockMarket(prices *cache.PriceCache, stream *MockStream) *MockMarket {
	return &MockMarket{Prices: prices, Stream: stream, Spread: 0.001, Bars: 300}
}

func (m *MockMarket) price(symbol string) (float64, error) {
	if m.Prices != nil {
		if q, ok := m.Prices.Get(symbol); ok && q.Price > 0 {
			return q.Price, nil
		}
	}
	if m.Stream != nil {
		if p, ok := m.Stream.Last(symbol); ok {
			return p, nil
		}
		return m.Stream.StartPrice, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
}

func (m *MockMarket) Orderbook(_ context.Context, symbol string) (bithumb.Orderbook, error) {
	p, err := m.price(symbol)
	if err != nil {
		return bithumb.Orderbook{}, err
	}
	return bithumb.Orderbook{
		Symbol:    strings.ToUpper(symbol),
		Timestamp: time.Now().UnixMilli(),
		Bids:      []bithumb.OrderbookLevel{{Price: p * (1 - m.Spread), Quantity: 1e6}},
		Asks:      []bithumb.OrderbookLevel{{Price: p * (1 + m.Spread), Quantity: 1e6}},
	}, nil
}

// Candlesticks synthesizes a deterministic walk per symbol that ends at
// the current price.
func (m *MockMarket) Candlesticks(_ context.Context, symbol, interval string) ([]bithumb.Candle, error) {
	bucket, err := candles.ParseTimeframe(interval)
	if err != nil {
		return nil, err
	}
	last, err := m.price(symbol)
	if err != nil {
		return nil, err
	}
	n := m.Bars
	if n <= 0 {
		n = 300
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToUpper(symbol) + interval))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	closes := make([]float64, n)
	closes[n-1] = last
	for i := n - 2; i >= 0; i-- {
		closes[i] = closes[i+1] / (1 + (rng.Float64()*2-1)*0.01)
	}

	step := bucket.Milliseconds()
	end := time.Now().UnixMilli()
	end -= end % step
	out := make([]bithumb.Candle, n)
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		out[i] = bithumb.Candle{
			Time:   end - int64(n-1-i)*step,
			Open:   open,
			Close:  c,
			High:   max(open, c) * (1 + rng.Float64()*0.003),
			Low:    min(open, c) * (1 - rng.Float64()*0.003),
			Volume: 10 + rng.Float64()*100,
		}
	}
	return out, nil
}

// Tickers reports a flat 24h summary for every symbol the stream knows.
func (m *MockMarket) Tickers(ctx context.Context) ([]bithumb.Ticker, error) {
	if m.Stream == nil {
		return nil, nil
	}
	var out []bithumb.Ticker
	for _, sym := range m.Stream.Symbols() {
		cs, err := m.Candlesticks(ctx, sym, "24h")
		if err != nil || len(cs) < 2 {
			continue
		}
		prev, cur := cs[len(cs)-2], cs[len(cs)-1]
		out = append(out, bithumb.Ticker{
			Symbol:           sym,
			OpeningPrice:     cur.Open,
			ClosingPrice:     cur.Close,
			MinPrice:         cur.Low,
			MaxPrice:         cur.High,
			PrevClosingPrice: prev.Close,
			UnitsTraded24H:   cur.Volume,
			AccTradeValue24H: cur.Volume * cur.Close,
			FluctateRate24H:  (cur.Close - prev.Close) / prev.Close * 100,
		})
	}
	return out, nil
}
