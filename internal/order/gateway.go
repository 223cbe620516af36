package order

import (
	"context"

	"tradebot/pkg/exchanges/common"
	market "tradebot/pkg/market/bithumb"
)

// MarketData is the public half of the exchange gateway.
type MarketData interface {
	Orderbook(ctx context.Context, symbol string) (market.Orderbook, error)
	Candlesticks(ctx context.Context, symbol, interval string) ([]market.Candle, error)
}

// Gateway is everything the orchestrator needs from the exchange.
type Gateway interface {
	MarketData
	common.Trader
}

// LiveGateway joins the public REST client and the signed trading client.
type LiveGateway struct {
	MarketData
	common.Trader
}

func NewLiveGateway(md MarketData, trader common.Trader) *LiveGateway {
	return &LiveGateway{MarketData: md, Trader: trader}
}
