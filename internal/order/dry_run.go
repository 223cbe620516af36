package order

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradebot/pkg/exchanges/common"
)

// Bithumb reports insufficient balance with this status.
const statusInsufficient = "5600"

var ErrUnknownOrder = errors.New("unknown order id")

type DryRunSimConfig struct {
	FeeRate             float64 // decimal, e.g. 0.0025 = 25 bps
	SlippageBps         float64 // basis points of adverse slippage applied on fills
	GatewayLatencyMinMs int     // simulated gateway latency lower bound
	GatewayLatencyMaxMs int     // simulated gateway latency upper bound
}

// DryRunGateway trades against an in-memory wallet priced from real (or
// mock) market data. Orders fill immediately at the best quote plus
// slippage and leave a contract behind for OrderDetail.
type DryRunGateway struct {
	MarketData

	cfg DryRunSimConfig
	log *zap.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	krw    float64
	coins  map[string]float64
	orders map[string]common.OrderDetail
}

// DryRunState is a point-in-time view of the simulated wallet.
type DryRunState struct {
	KRW    float64            `json:"krw"`
	Coins  map[string]float64 `json:"coins"`
	Orders int                `json:"orders"`
}

func NewDryRunGateway(md MarketData, initialKRW float64, cfg DryRunSimConfig, log *zap.Logger) *DryRunGateway {
	if cfg.GatewayLatencyMaxMs > 0 && cfg.GatewayLatencyMinMs > cfg.GatewayLatencyMaxMs {
		cfg.GatewayLatencyMinMs, cfg.GatewayLatencyMaxMs = cfg.GatewayLatencyMaxMs, cfg.GatewayLatencyMinMs
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DryRunGateway{
		MarketData: md,
		cfg:        cfg,
		log:        log.Named("dry_run"),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		krw:        initialKRW,
		coins:      make(map[string]float64),
		orders:     make(map[string]common.OrderDetail),
	}
}

func (d *DryRunGateway) Balance(ctx context.Context, symbol string) (common.Balance, error) {
	symbol = strings.ToUpper(symbol)
	d.mu.Lock()
	defer d.mu.Unlock()
	return common.Balance{Symbol: symbol, AvailableKRW: d.krw, AvailableCoin: d.coins[symbol]}, nil
}

// Credit adds coin units to the wallet, e.g. for holdings registered by hand.
func (d *DryRunGateway) Credit(symbol string, units float64) {
	d.mu.Lock()
	d.coins[strings.ToUpper(symbol)] += units
	d.mu.Unlock()
}

func (d *DryRunGateway) MarketBuy(ctx context.Context, symbol string, units float64) (common.OrderResult, error) {
	return d.fill(ctx, strings.ToUpper(symbol), common.SideBuy, units)
}

func (d *DryRunGateway) MarketSell(ctx context.Context, symbol string, units float64) (common.OrderResult, error) {
	return d.fill(ctx, strings.ToUpper(symbol), common.SideSell, units)
}

func (d *DryRunGateway) OrderDetail(ctx context.Context, orderID, symbol string) (common.OrderDetail, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	detail, ok := d.orders[orderID]
	if !ok {
		return common.OrderDetail{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return detail, nil
}

func (d *DryRunGateway) fill(ctx context.Context, symbol string, side common.Side, units float64) (common.OrderResult, error) {
	if units <= 0 {
		return common.OrderResult{}, fmt.Errorf("dry run %s %s: units must be positive", side, symbol)
	}
	if err := d.latency(ctx); err != nil {
		return common.OrderResult{}, err
	}
	book, err := d.Orderbook(ctx, symbol)
	if err != nil {
		return common.OrderResult{}, fmt.Errorf("dry run quote %s: %w", symbol, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var price float64
	noise := 0.0
	if d.cfg.SlippageBps > 0 {
		noise = d.rng.Float64() * d.cfg.SlippageBps / 10000.0
	}
	if side == common.SideBuy {
		price = book.BestAsk() * (1 + noise)
	} else if len(book.Bids) > 0 {
		price = book.Bids[0].Price * (1 - noise)
	}
	if price <= 0 {
		return common.OrderResult{}, fmt.Errorf("dry run %s: empty order book", symbol)
	}

	value := units * price
	fee := value * d.cfg.FeeRate
	switch side {
	case common.SideBuy:
		if value+fee > d.krw {
			return common.OrderResult{Status: statusInsufficient}, &common.APIError{
				Status:  statusInsufficient,
				Message: fmt.Sprintf("insufficient KRW: need %.2f, have %.2f", value+fee, d.krw),
			}
		}
		d.krw -= value + fee
		d.coins[symbol] += units
	case common.SideSell:
		if units > d.coins[symbol]+1e-12 {
			return common.OrderResult{Status: statusInsufficient}, &common.APIError{
				Status:  statusInsufficient,
				Message: fmt.Sprintf("insufficient %s: need %.8f, have %.8f", symbol, units, d.coins[symbol]),
			}
		}
		d.coins[symbol] -= units
		if d.coins[symbol] <= 1e-12 {
			delete(d.coins, symbol)
		}
		d.krw += value - fee
	}

	id := "DRY-" + uuid.NewString()
	d.orders[id] = common.OrderDetail{
		Status:  common.StatusOK,
		OrderID: id,
		Symbol:  symbol,
		Side:    side,
		Contracts: []common.Contract{{
			Price: price,
			Units: units,
			Fee:   fee,
			Time:  time.Now().UnixMilli(),
		}},
	}
	d.log.Info("simulated fill",
		zap.String("side", string(side)),
		zap.String("symbol", symbol),
		zap.Float64("units", units),
		zap.Float64("price", price),
		zap.Float64("krw", d.krw))
	return common.OrderResult{Status: common.StatusOK, OrderID: id}, nil
}

func (d *DryRunGateway) latency(ctx context.Context) error {
	minMs, maxMs := d.cfg.GatewayLatencyMinMs, d.cfg.GatewayLatencyMaxMs
	if maxMs <= 0 {
		return nil
	}
	if minMs < 0 {
		minMs = 0
	}
	delayMs := minMs
	d.mu.Lock()
	if span := maxMs - minMs; span > 0 {
		delayMs += d.rng.Intn(span + 1)
	}
	d.mu.Unlock()

	t := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot copies the wallet for inspection.
func (d *DryRunGateway) Snapshot() DryRunState {
	d.mu.Lock()
	defer d.mu.Unlock()
	coins := make(map[string]float64, len(d.coins))
	for k, v := range d.coins {
		coins[k] = v
	}
	return DryRunState{KRW: d.krw, Coins: coins, Orders: len(d.orders)}
}

// Holdings lists the coins with a positive simulated balance.
func (d *DryRunGateway) Holdings() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.coins))
	for k := range d.coins {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
