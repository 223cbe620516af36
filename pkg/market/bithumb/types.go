package market

// Candle is one OHLCV bar. Bithumb's wire order is [time, open, close, high, low, volume].
type Candle struct {
	Time   int64 // bucket open time (ms)
	Open   float64
	Close  float64
	High   float64
	Low    float64
	Volume float64
}

// Ticker is the 24h summary of one asset from /public/ticker/ALL_KRW.
type Ticker struct {
	Symbol           string
	OpeningPrice     float64
	ClosingPrice     float64
	MinPrice         float64
	MaxPrice         float64
	PrevClosingPrice float64
	UnitsTraded24H   float64
	AccTradeValue24H float64
	FluctateRate24H  float64
}

// OrderbookLevel is one price level of the book.
type OrderbookLevel struct {
	Price    float64
	Quantity float64
}

// Orderbook holds both sides, best level first.
type Orderbook struct {
	Symbol    string
	Timestamp int64
	Bids      []OrderbookLevel
	Asks      []OrderbookLevel
}

// BestAsk returns the lowest ask or 0 on an empty book.
func (o Orderbook) BestAsk() float64 {
	if len(o.Asks) == 0 {
		return 0
	}
	return o.Asks[0].Price
}

// Tick is a streamed ticker update.
type Tick struct {
	Symbol    string // base asset, e.g. "BTC"
	Time      int64  // ms
	Open      float64
	Close     float64
	High      float64
	Low       float64
	Volume    float64
	ChangePct float64
}
