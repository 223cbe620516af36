package bithumb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/pkg/exchanges/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{APIKey: "key", SecretKey: "secret", BaseURL: srv.URL})
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestSignedRequestHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/info/balance", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("Api-Key"))
		assert.Equal(t, "1700000000000", r.Header.Get("Api-Nonce"))

		want := sign("/info/balance", r.PostForm.Encode(), "1700000000000", "secret")
		assert.Equal(t, want, r.Header.Get("Api-Sign"))
		assert.Equal(t, "/info/balance", r.PostForm.Get("endpoint"))
		assert.Equal(t, "XRP", r.PostForm.Get("currency"))

		_, _ = w.Write([]byte(`{"status":"0000","data":{"available_krw":"150000.5","available_xrp":"12.34"}}`))
	})

	bal, err := c.Balance(context.Background(), "xrp")
	require.NoError(t, err)
	assert.InDelta(t, 150000.5, bal.AvailableKRW, 1e-9)
	assert.InDelta(t, 12.34, bal.AvailableCoin, 1e-9)
}

func TestSignIsBase64OfHexDigest(t *testing.T) {
	params := url.Values{}
	params.Set("endpoint", "/info/balance")
	s := sign("/info/balance", params.Encode(), "1", "secret")
	// 64-byte SHA512 digest -> 128 hex chars -> 172 base64 chars.
	assert.Len(t, s, 172)
}

func TestMarketBuyRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"5600","message":"insufficient KRW"}`))
	})

	res, err := c.MarketBuy(context.Background(), "BTC", 0.001)
	require.Error(t, err)
	assert.Equal(t, "5600", res.Status)
	assert.Equal(t, "5600", common.StatusOf(err))
	assert.Empty(t, res.OrderID)
}

func TestMarketSellAccepted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/trade/market_sell", r.URL.Path)
		assert.Equal(t, "0.5", r.PostForm.Get("units"))
		assert.Equal(t, "KRW", r.PostForm.Get("payment_currency"))
		_, _ = w.Write([]byte(`{"status":"0000","order_id":"C0101000000001"}`))
	})

	res, err := c.MarketSell(context.Background(), "eth", 0.5)
	require.NoError(t, err)
	assert.Equal(t, common.StatusOK, res.Status)
	assert.Equal(t, "C0101000000001", res.OrderID)
}

func TestOrderDetailParsesContracts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0000","data":{"type":"bid","order_currency":"BTC","contract":[
			{"transaction_date":"1700000000000000","price":"100","units":"1","fee":"0.25"},
			{"transaction_date":"1700000001000000","price":"110","units":"3","fee":"0.75"}]}}`))
	})

	d, err := c.OrderDetail(context.Background(), "C1", "btc")
	require.NoError(t, err)
	assert.Equal(t, common.SideBuy, d.Side)
	require.Len(t, d.Contracts, 2)
	assert.Equal(t, int64(1700000000000), d.Contracts[0].Time)
	assert.InDelta(t, 107.5, d.AvgPrice(), 1e-9)
}

func TestMissingCredentials(t *testing.T) {
	c := New(Config{})
	_, err := c.Balance(context.Background(), "BTC")
	assert.Error(t, err)
}
