package coinbase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/metadata"
)

const productsBody = `[
	{"id":"ETH-BTC","base_currency":"ETH","quote_currency":"BTC","status":"online","trading_disabled":false},
	{"id":"BTC-USD","base_currency":"BTC","quote_currency":"USD","status":"online","trading_disabled":false},
	{"id":"LUNA-USD","base_currency":"LUNA","quote_currency":"USD","status":"delisted","trading_disabled":true},
	{"id":"HALT-USD","base_currency":"HALT","quote_currency":"USD","status":"online","trading_disabled":true},
	{"id":"BAD-USD","base_currency":"BAD","quote_currency":"USD","status":"online","trading_disabled":false}
]`

var tickers = map[string]string{
	"BTC-USD": `{"price":"60000.01","bid":"60000.00","ask":"60000.02","time":"2024-01-01T00:00:00Z"}`,
	"ETH-BTC": `{"price":"0.05","bid":"0.0499","ask":"0.0501","time":"2024-01-01T00:00:00Z"}`,
}

type testServer struct {
	*httptest.Server
	productCalls int32
	inFlight     int32
	maxInFlight  int32
}

func newTestServer(t *testing.T, failAll bool) *testServer {
	t.Helper()
	ts := &testServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ts.productCalls, 1)
		_, _ = w.Write([]byte(productsBody))
	})
	mux.HandleFunc("/products/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&ts.inFlight, 1)
		defer atomic.AddInt32(&ts.inFlight, -1)
		for {
			m := atomic.LoadInt32(&ts.maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&ts.maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)

		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/products/"), "/ticker")
		body, ok := tickers[id]
		if failAll || !ok {
			http.Error(w, `{"message":"NotFound"}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_FetchPairs(t *testing.T) {
	srv := newTestServer(t, false)
	c := NewClient(srv.URL, metadata.NewHTTPFetcher(2000), 2)
	assert.Equal(t, model.MarketCoinbase, c.Market())

	pairs, err := c.FetchPairs(context.Background())
	require.NoError(t, err)

	// 按 ID 排序，下线与暂停交易的交易对被过滤
	assert.Equal(t, []model.PairEdge{
		{Base: "BAD", Quote: "USD", Market: model.MarketCoinbase},
		{Base: "BTC", Quote: "USD", Market: model.MarketCoinbase},
		{Base: "ETH", Quote: "BTC", Market: model.MarketCoinbase},
	}, pairs)
}

func TestClient_FetchPricesSkipsFailedTickers(t *testing.T) {
	srv := newTestServer(t, false)
	c := NewClient(srv.URL, metadata.NewHTTPFetcher(2000), 2)

	prices, err := c.FetchPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&srv.productCalls))
	assert.Equal(t, map[string]string{
		"BTCUSD": "60000.01",
		"ETHBTC": "0.05",
	}, prices)
	assert.LessOrEqual(t, atomic.LoadInt32(&srv.maxInFlight), int32(2))

	// 交易对已缓存，不再请求 /products
	_, err = c.FetchPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&srv.productCalls))
}

func TestClient_FetchPricesAllFailed(t *testing.T) {
	srv := newTestServer(t, true)
	c := NewClient(srv.URL, metadata.NewHTTPFetcher(2000), 0)

	_, err := c.FetchPrices(context.Background())
	require.ErrorIs(t, err, ErrNoTicker)
}

func TestClient_FetchPricesCanceled(t *testing.T) {
	srv := newTestServer(t, false)
	c := NewClient(srv.URL, metadata.NewHTTPFetcher(2000), 1)
	_, err := c.FetchPairs(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.FetchPrices(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
