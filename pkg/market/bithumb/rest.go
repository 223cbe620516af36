package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"tradebot/pkg/exchanges/common"
)

// Client wraps public REST access to Bithumb.
type Client struct {
	BaseURL         string
	PaymentCurrency string
	HTTPClient      *http.Client

	limiter   *common.RateLimiter
	bookCache *ristretto.Cache
	bookTTL   time.Duration
}

// NewClient builds a public REST client. Order books are cached for a short
// TTL so a burst of buy sizing calls does not hammer the endpoint.
func NewClient() (*Client, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("orderbook cache: %w", err)
	}
	return &Client{
		BaseURL:         "https://api.bithumb.com",
		PaymentCurrency: "KRW",
		HTTPClient:      &http.Client{Timeout: 10 * time.Second},
		limiter:         common.NewRateLimiter(100, 20),
		bookCache:       cache,
		bookTTL:         time.Second,
	}, nil
}

// Tickers fetches the 24h summary of every KRW-listed asset.
func (c *Client) Tickers(ctx context.Context) ([]Ticker, error) {
	var resp struct {
		Status  string                     `json:"status"`
		Message string                     `json:"message"`
		Data    map[string]json.RawMessage `json:"data"`
	}
	if err := c.get(ctx, "/public/ticker/ALL_"+c.PaymentCurrency, &resp); err != nil {
		return nil, err
	}
	if err := common.CheckStatus(resp.Status, resp.Message); err != nil {
		return nil, fmt.Errorf("tickers: %w", err)
	}

	out := make([]Ticker, 0, len(resp.Data))
	for symbol, raw := range resp.Data {
		// "date" sits next to the assets and is not an object.
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		out = append(out, Ticker{
			Symbol:           symbol,
			OpeningPrice:     toFloat(fields["opening_price"]),
			ClosingPrice:     toFloat(fields["closing_price"]),
			MinPrice:         toFloat(fields["min_price"]),
			MaxPrice:         toFloat(fields["max_price"]),
			PrevClosingPrice: toFloat(fields["prev_closing_price"]),
			UnitsTraded24H:   toFloat(fields["units_traded_24H"]),
			AccTradeValue24H: toFloat(fields["acc_trade_value_24H"]),
			FluctateRate24H:  toFloat(fields["fluctate_rate_24H"]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Orderbook returns the current book for symbol, served from cache when fresh.
func (c *Client) Orderbook(ctx context.Context, symbol string) (Orderbook, error) {
	symbol = strings.ToUpper(symbol)
	if v, ok := c.bookCache.Get(symbol); ok {
		return v.(Orderbook), nil
	}

	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Timestamp any              `json:"timestamp"`
			Bids      []map[string]any `json:"bids"`
			Asks      []map[string]any `json:"asks"`
		} `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/public/orderbook/%s_%s", symbol, c.PaymentCurrency), &resp); err != nil {
		return Orderbook{}, err
	}
	if err := common.CheckStatus(resp.Status, resp.Message); err != nil {
		return Orderbook{}, fmt.Errorf("orderbook %s: %w", symbol, err)
	}

	book := Orderbook{
		Symbol:    symbol,
		Timestamp: int64(toFloat(resp.Data.Timestamp)),
		Bids:      toLevels(resp.Data.Bids),
		Asks:      toLevels(resp.Data.Asks),
	}
	c.bookCache.SetWithTTL(symbol, book, 1, c.bookTTL)
	return book, nil
}

// Candlesticks fetches OHLCV history; interval is one of 1m,3m,5m,10m,30m,1h,6h,12h,24h.
func (c *Client) Candlesticks(ctx context.Context, symbol, interval string) ([]Candle, error) {
	symbol = strings.ToUpper(symbol)
	var resp struct {
		Status  string  `json:"status"`
		Message string  `json:"message"`
		Data    [][]any `json:"data"`
	}
	path := fmt.Sprintf("/public/candlestick/%s_%s/%s", symbol, c.PaymentCurrency, interval)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	if err := common.CheckStatus(resp.Status, resp.Message); err != nil {
		return nil, fmt.Errorf("candlestick %s %s: %w", symbol, interval, err)
	}
	return ParseCandles(resp.Data), nil
}

// ParseCandles converts Bithumb rows [ts, open, close, high, low, volume].
func ParseCandles(rows [][]any) []Candle {
	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, Candle{
			Time:   int64(toFloat(row[0])),
			Open:   toFloat(row[1]),
			Close:  toFloat(row[2]),
			High:   toFloat(row[3]),
			Low:    toFloat(row[4]),
			Volume: toFloat(row[5]),
		})
	}
	return candles
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("bithumb GET %s status %d", path, res.StatusCode)
	}
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	return dec.Decode(out)
}

func toLevels(rows []map[string]any) []OrderbookLevel {
	levels := make([]OrderbookLevel, 0, len(rows))
	for _, r := range rows {
		levels = append(levels, OrderbookLevel{Price: toFloat(r["price"]), Quantity: toFloat(r["quantity"])})
	}
	return levels
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	case float64:
		return t
	case int64:
		return float64(t)
	default:
		return 0
	}
}
