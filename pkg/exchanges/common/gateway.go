package common

import "context"

// Trader abstracts the authenticated side of a venue: balances, market
// orders and fill lookups.
type Trader interface {
	Balance(ctx context.Context, symbol string) (Balance, error)
	MarketBuy(ctx context.Context, symbol string, units float64) (OrderResult, error)
	MarketSell(ctx context.Context, symbol string, units float64) (OrderResult, error)
	OrderDetail(ctx context.Context, orderID, symbol string) (OrderDetail, error)
}
