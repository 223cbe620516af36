package candles

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	market "tradebot/pkg/market/bithumb"
)

// Loader fetches candle history.
type Loader interface {
	Candlesticks(ctx context.Context, symbol, interval string) ([]market.Candle, error)
}

type series struct {
	timeframe string
	bucket    time.Duration
	candles   []market.Candle
	// loaded is set once loader history has been merged in.
	loaded bool
}

// Store keeps one growing OHLCV series per symbol. Series are never evicted;
// the process restarts with a fresh store.
type Store struct {
	mu        sync.RWMutex
	series    map[string]*series
	loader    Loader
	timeframe string
}

// NewStore uses timeframe for symbols that receive ticks before Initialize.
func NewStore(loader Loader, timeframe string) (*Store, error) {
	if _, err := ParseTimeframe(timeframe); err != nil {
		return nil, err
	}
	return &Store{series: make(map[string]*series), loader: loader, timeframe: timeframe}, nil
}

// SetTimeframe changes the interval used for symbols whose first tick
// arrives before any history is loaded.
func (s *Store) SetTimeframe(timeframe string) error {
	if _, err := ParseTimeframe(timeframe); err != nil {
		return err
	}
	s.mu.Lock()
	s.timeframe = timeframe
	s.mu.Unlock()
	return nil
}

// Initialize replaces the series for symbol with history from the loader.
func (s *Store) Initialize(ctx context.Context, symbol, timeframe string) error {
	return s.load(ctx, symbol, timeframe, false)
}

// Ensure loads history for symbol once per timeframe and is a no-op
// afterwards, so candles built from ticks keep growing the series. Tick
// candles newer than the loaded history are kept.
func (s *Store) Ensure(ctx context.Context, symbol, timeframe string) error {
	s.mu.RLock()
	ser, ok := s.series[strings.ToUpper(symbol)]
	ready := ok && ser.loaded && ser.timeframe == timeframe
	s.mu.RUnlock()
	if ready {
		return nil
	}
	return s.load(ctx, symbol, timeframe, true)
}

func (s *Store) load(ctx context.Context, symbol, timeframe string, keepTail bool) error {
	bucket, err := ParseTimeframe(timeframe)
	if err != nil {
		return err
	}
	if s.loader == nil {
		return fmt.Errorf("candle store: no loader configured")
	}
	history, err := s.loader.Candlesticks(ctx, symbol, timeframe)
	if err != nil {
		return fmt.Errorf("load %s %s candles: %w", symbol, timeframe, err)
	}

	key := strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := history
	if prev, ok := s.series[key]; ok && keepTail && prev.timeframe == timeframe {
		merged = appendNewer(history, prev.candles)
	}
	s.series[key] = &series{timeframe: timeframe, bucket: bucket, candles: merged, loaded: true}
	return nil
}

// appendNewer appends the candles of tail that start after the last one in base.
func appendNewer(base, tail []market.Candle) []market.Candle {
	out := make([]market.Candle, len(base), len(base)+len(tail))
	copy(out, base)
	var last int64 = -1
	if len(out) > 0 {
		last = out[len(out)-1].Time
	}
	for _, c := range tail {
		if c.Time > last {
			out = append(out, c)
			last = c.Time
		}
	}
	return out
}

// Update folds tick into the series: same bucket merges into the last
// candle, a later bucket appends. Ticks older than the last bucket are
// dropped. It returns true when a new candle was appended.
func (s *Store) Update(tick market.Tick) bool {
	key := strings.ToUpper(tick.Symbol)

	s.mu.Lock()
	defer s.mu.Unlock()
	ser, ok := s.series[key]
	if !ok {
		bucket, _ := ParseTimeframe(s.timeframe)
		ser = &series{timeframe: s.timeframe, bucket: bucket}
		s.series[key] = ser
	}

	start := tick.Time - tick.Time%ser.bucket.Milliseconds()
	n := len(ser.candles)
	if n > 0 {
		last := &ser.candles[n-1]
		switch {
		case start == last.Time:
			last.Close = tick.Close
			last.High = max(last.High, tick.Close)
			last.Low = min(last.Low, tick.Close)
			last.Volume += tick.Volume
			return false
		case start < last.Time:
			return false
		}
	}
	ser.candles = append(ser.candles, market.Candle{
		Time:   start,
		Open:   tick.Close,
		Close:  tick.Close,
		High:   tick.Close,
		Low:    tick.Close,
		Volume: tick.Volume,
	})
	return true
}

// Series returns a copy of the candles for symbol, oldest first.
func (s *Store) Series(symbol string) []market.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.series[strings.ToUpper(symbol)]
	if !ok {
		return nil
	}
	out := make([]market.Candle, len(ser.candles))
	copy(out, ser.candles)
	return out
}

// Timeframe reports the interval a symbol's series was built with.
func (s *Store) Timeframe(symbol string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.series[strings.ToUpper(symbol)]
	if !ok {
		return "", false
	}
	return ser.timeframe, true
}

// Len returns the number of candles held for symbol.
func (s *Store) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ser, ok := s.series[strings.ToUpper(symbol)]; ok {
		return len(ser.candles)
	}
	return 0
}
