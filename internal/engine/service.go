// Package engine assembles the trading core behind one facade. The API
// layer talks to the bot only through Service.
package engine

import (
	"context"

	"tradebot/internal/history"
	"tradebot/internal/order"
	"tradebot/internal/strategy"
)

// Service is the operator surface of the trading bot.
type Service interface {
	// Trading intents
	Buy(ctx context.Context, symbol, reason string) order.Result
	Sell(ctx context.Context, symbol string, fraction float64, reason string) order.Result
	AddHolding(symbol string, units, buyPrice float64, splitSellCount int) order.Result
	RemoveHolding(symbol string) order.Result

	// Scheduler control
	Run(ctx context.Context, req RunRequest) error
	StopAll(ctx context.Context) error
	StopSymbol(symbol string) error
	Reselect(ctx context.Context) ([]string, error)
	AddInterest(symbol string)
	RemoveInterest(symbol string) bool

	// Tunables
	SetStopLoss(pct float64) error
	SetTrailingStop(pct, fraction float64) error
	SetProfitTarget(pct, fraction float64) error
	SetPerTradeKRW(krw float64) error
	SetHoldingLimit(n int) error
	SetSplitSellLimit(n int) error

	// Queries
	Status() Status
	Analyze(ctx context.Context, strategyName, symbol, timeframe string) (strategy.Analysis, error)
	History(ctx context.Context, symbol string, limit int) ([]history.Record, error)
}
