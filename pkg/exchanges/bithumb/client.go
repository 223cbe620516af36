package bithumb

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradebot/pkg/exchanges/common"
)

const defaultBaseURL = "https://api.bithumb.com"

// Config holds Bithumb credentials.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string // optional override, used by tests
	// PaymentCurrency is the quote asset; Bithumb spot only lists KRW pairs.
	PaymentCurrency string
}

// Client is the authenticated Bithumb REST client.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	now         func() time.Time
}

var _ common.Trader = (*Client)(nil)

func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	if cfg.PaymentCurrency == "" {
		cfg.PaymentCurrency = "KRW"
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Private endpoints allow roughly 15 requests per second.
		rateLimiter: common.NewRateLimiter(15, 5),
		now:         time.Now,
	}
}

// Balance returns the available KRW and coin amounts for symbol.
func (c *Client) Balance(ctx context.Context, symbol string) (common.Balance, error) {
	symbol = strings.ToUpper(symbol)
	params := url.Values{}
	params.Set("currency", symbol)

	var resp struct {
		envelope
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := c.doSigned(ctx, "/info/balance", params, &resp); err != nil {
		return common.Balance{}, fmt.Errorf("balance %s: %w", symbol, err)
	}

	return common.Balance{
		Symbol:        symbol,
		AvailableKRW:  rawFloat(resp.Data["available_krw"]),
		AvailableCoin: rawFloat(resp.Data["available_"+strings.ToLower(symbol)]),
	}, nil
}

// MarketBuy places a market buy for units of symbol.
func (c *Client) MarketBuy(ctx context.Context, symbol string, units float64) (common.OrderResult, error) {
	return c.marketOrder(ctx, "/trade/market_buy", symbol, units)
}

// MarketSell places a market sell for units of symbol.
func (c *Client) MarketSell(ctx context.Context, symbol string, units float64) (common.OrderResult, error) {
	return c.marketOrder(ctx, "/trade/market_sell", symbol, units)
}

func (c *Client) marketOrder(ctx context.Context, endpoint, symbol string, units float64) (common.OrderResult, error) {
	if units <= 0 {
		return common.OrderResult{}, fmt.Errorf("bithumb %s: units must be positive, got %v", endpoint, units)
	}
	params := url.Values{}
	params.Set("units", strconv.FormatFloat(units, 'f', -1, 64))
	params.Set("order_currency", strings.ToUpper(symbol))
	params.Set("payment_currency", c.cfg.PaymentCurrency)

	var resp struct {
		envelope
		OrderID string `json:"order_id"`
	}
	err := c.doSigned(ctx, endpoint, params, &resp)
	res := common.OrderResult{Status: resp.Status, OrderID: resp.OrderID}
	if err != nil {
		return res, err
	}
	if res.OrderID == "" {
		return res, fmt.Errorf("bithumb %s: success status without order id", endpoint)
	}
	return res, nil
}

// OrderDetail looks up the contracts (fills) of a placed order.
func (c *Client) OrderDetail(ctx context.Context, orderID, symbol string) (common.OrderDetail, error) {
	params := url.Values{}
	params.Set("order_id", orderID)
	params.Set("order_currency", strings.ToUpper(symbol))
	params.Set("payment_currency", c.cfg.PaymentCurrency)

	var resp struct {
		envelope
		Data struct {
			Type      string `json:"type"`
			Currency  string `json:"order_currency"`
			Contracts []struct {
				TransactionDate json.RawMessage `json:"transaction_date"`
				Price           json.RawMessage `json:"price"`
				Units           json.RawMessage `json:"units"`
				Fee             json.RawMessage `json:"fee"`
			} `json:"contract"`
		} `json:"data"`
	}
	err := c.doSigned(ctx, "/info/order_detail", params, &resp)
	detail := common.OrderDetail{Status: resp.Status, OrderID: orderID, Symbol: strings.ToUpper(symbol)}
	if err != nil {
		return detail, err
	}

	switch resp.Data.Type {
	case "bid":
		detail.Side = common.SideBuy
	case "ask":
		detail.Side = common.SideSell
	}
	for _, ct := range resp.Data.Contracts {
		detail.Contracts = append(detail.Contracts, common.Contract{
			Price: rawFloat(ct.Price),
			Units: rawFloat(ct.Units),
			Fee:   rawFloat(ct.Fee),
			Time:  int64(rawFloat(ct.TransactionDate)) / 1000, // microseconds on the wire
		})
	}
	return detail, nil
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// doSigned signs params for endpoint and POSTs them as a form body.
func (c *Client) doSigned(ctx context.Context, endpoint string, params url.Values, out any) error {
	if c.cfg.APIKey == "" || c.cfg.SecretKey == "" {
		return errors.New("bithumb: API key/secret required")
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	params.Set("endpoint", endpoint)
	encoded := params.Encode()
	nonce := strconv.FormatInt(c.now().UnixMilli(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Api-Key", c.cfg.APIKey)
	req.Header.Set("Api-Nonce", nonce)
	req.Header.Set("Api-Sign", sign(endpoint, encoded, nonce, c.cfg.SecretKey))

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return fmt.Errorf("bithumb POST %s status %d: %s", endpoint, res.StatusCode, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode bithumb %s response: %w", endpoint, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode bithumb %s response: %w", endpoint, err)
	}
	return common.CheckStatus(env.Status, env.Message)
}

// sign builds the Api-Sign header: base64(hex(HMAC-SHA512(endpoint \0 body \0 nonce))).
func sign(endpoint, encodedParams, nonce, secret string) string {
	payload := endpoint + "\x00" + encodedParams + "\x00" + nonce
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(mac.Sum(nil))))
}

// rawFloat decodes Bithumb's numeric fields, which arrive as either JSON
// strings or numbers.
func rawFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	s := strings.Trim(string(raw), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
