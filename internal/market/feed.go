package market

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"tradebot/internal/events"
	bithumb "tradebot/pkg/market/bithumb"
)

// Subscriber opens a ticker stream for one symbol.
type Subscriber interface {
	SubscribeTicker(ctx context.Context, symbol string) (*bithumb.Subscription, error)
}

// Stream states published on events.EventStreamState.
const (
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
	StateAbandoned    = "abandoned"
	StateStopped      = "stopped"
)

// StreamState reports a change in one symbol's stream.
type StreamState struct {
	Symbol  string        `json:"symbol"`
	State   string        `json:"state"`
	Attempt int           `json:"attempt"`
	Wait    time.Duration `json:"wait,omitempty"`
	Err     string        `json:"error,omitempty"`
}

type stream struct {
	cancel context.CancelFunc
}

// Feed supervises one stream goroutine per watched symbol and publishes
// every tick on the bus. Dropped connections are retried with exponential
// backoff; after MaxRetry consecutive failures the symbol is abandoned.
type Feed struct {
	sub Subscriber
	bus *events.Bus
	log *zap.Logger

	MaxRetry   int
	NewBackOff func() backoff.BackOff

	mu      sync.Mutex
	base    context.Context
	streams map[string]*stream
	pending map[string]bool
	wg      sync.WaitGroup
}

func NewFeed(sub Subscriber, bus *events.Bus, maxRetry int, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		sub:      sub,
		bus:      bus,
		log:      log.Named("feed"),
		MaxRetry: maxRetry,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
		streams: make(map[string]*stream),
		pending: make(map[string]bool),
	}
}

// Start binds the feed to ctx and opens streams watched so far.
func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.base = ctx
	for sym := range f.pending {
		f.spawnLocked(sym)
	}
	clear(f.pending)
}

// Watch starts streaming symbol; watching twice is a no-op.
func (f *Feed) Watch(symbol string) {
	symbol = strings.ToUpper(symbol)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.streams[symbol]; ok {
		return
	}
	if f.base == nil {
		f.pending[symbol] = true
		return
	}
	f.spawnLocked(symbol)
}

func (f *Feed) spawnLocked(symbol string) {
	ctx, cancel := context.WithCancel(f.base)
	s := &stream{cancel: cancel}
	f.streams[symbol] = s
	f.wg.Add(1)
	go f.run(ctx, symbol, s)
}

// Unwatch stops the stream of symbol and closes its connection.
func (f *Feed) Unwatch(symbol string) {
	symbol = strings.ToUpper(symbol)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, symbol)
	if s, ok := f.streams[symbol]; ok {
		s.cancel()
		delete(f.streams, symbol)
	}
}

// Active lists watched symbols, sorted.
func (f *Feed) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.streams)+len(f.pending))
	for s := range f.streams {
		out = append(out, s)
	}
	for s := range f.pending {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (f *Feed) Watching(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.streams[symbol]
	return ok || f.pending[symbol]
}

// StopAll cancels every stream and waits for the goroutines to exit.
func (f *Feed) StopAll() {
	f.mu.Lock()
	for sym, s := range f.streams {
		s.cancel()
		delete(f.streams, sym)
	}
	clear(f.pending)
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Feed) run(ctx context.Context, symbol string, self *stream) {
	defer f.wg.Done()
	defer func() {
		f.mu.Lock()
		if f.streams[symbol] == self {
			delete(f.streams, symbol)
		}
		f.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("stream panic", zap.String("symbol", symbol), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	b := f.NewBackOff()
	failures := 0
	for {
		if ctx.Err() != nil {
			f.publish(StreamState{Symbol: symbol, State: StateStopped})
			return
		}

		received, err := f.session(ctx, symbol)
		if ctx.Err() != nil {
			f.publish(StreamState{Symbol: symbol, State: StateStopped})
			return
		}
		if received > 0 {
			failures = 0
			b.Reset()
		}
		failures++

		wait := b.NextBackOff()
		if (f.MaxRetry > 0 && failures > f.MaxRetry) || wait == backoff.Stop {
			f.log.Error("stream abandoned", zap.String("symbol", symbol), zap.Int("attempts", failures), zap.Error(err))
			f.publish(StreamState{Symbol: symbol, State: StateAbandoned, Attempt: failures, Err: errString(err)})
			return
		}
		f.log.Warn("stream lost, reconnecting",
			zap.String("symbol", symbol), zap.Int("attempt", failures), zap.Duration("wait", wait), zap.Error(err))
		f.publish(StreamState{Symbol: symbol, State: StateReconnecting, Attempt: failures, Wait: wait, Err: errString(err)})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// session runs one connection until it ends and returns how many ticks it delivered.
func (f *Feed) session(ctx context.Context, symbol string) (int, error) {
	sub, err := f.sub.SubscribeTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	defer sub.Stop()
	f.publish(StreamState{Symbol: symbol, State: StateConnected})
	f.log.Debug("stream connected", zap.String("symbol", symbol))

	n := 0
	for tick := range sub.Ticks {
		f.bus.Publish(events.EventPriceTick, tick)
		n++
	}
	if err := sub.Err(); err != nil {
		return n, err
	}
	return n, bithumb.ErrStreamClosed
}

func (f *Feed) publish(s StreamState) {
	if f.bus != nil {
		f.bus.Publish(events.EventStreamState, s)
	}
}

func errString(err error) string {
	if err == nil || errors.Is(err, context.Canceled) {
		return ""
	}
	return err.Error()
}
