package binance

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/metadata"
	"market-depth-engine/internal/util/timeutil"
)

// REST Binance 现货 REST 客户端
// 提供深度快照（订单簿重建）以及交易对和最新价（USD 定价）
type REST struct {
	// baseURL 根地址，如 https://api.binance.com
	baseURL string
	// fetcher HTTP 获取器
	fetcher *metadata.HTTPFetcher
}

// NewREST 创建 REST 客户端
func NewREST(baseURL string, fetcher *metadata.HTTPFetcher) *REST {
	return &REST{baseURL: strings.TrimRight(baseURL, "/"), fetcher: fetcher}
}

// Market 市场名称
func (r *REST) Market() string {
	return model.MarketBinance
}

// FetchDepthSnapshot 拉取深度快照
// 参数 symbol: 交易对，如 ETHBTC
// 参数 limit: 档位数（1-5000）
func (r *REST) FetchDepthSnapshot(ctx context.Context, symbol string, limit int) (*model.SnapshotEvent, error) {
	q := url.Values{"symbol": {strings.ToUpper(symbol)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var snap DepthSnapshot
	if err := r.fetcher.GetJSON(ctx, r.baseURL, "/api/v3/depth", q, &snap); err != nil {
		return nil, fmt.Errorf("获取 Binance %s 深度快照失败: %w", symbol, err)
	}

	return &model.SnapshotEvent{
		Market:          model.MarketBinance,
		Pair:            strings.ToUpper(symbol),
		Bids:            snap.Bids,
		Asks:            snap.Asks,
		LastUpdateID:    snap.LastUpdateID,
		ArrivedAtUnixNs: timeutil.NowNano(),
	}, nil
}

// FetchPairs 获取可交易的交易对（status=TRADING）
func (r *REST) FetchPairs(ctx context.Context) ([]model.PairEdge, error) {
	var info ExchangeInfo
	if err := r.fetcher.GetJSON(ctx, r.baseURL, "/api/v3/exchangeInfo", nil, &info); err != nil {
		return nil, fmt.Errorf("获取 Binance 交易对失败: %w", err)
	}

	pairs := make([]model.PairEdge, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.BaseAsset == "" || s.QuoteAsset == "" {
			continue
		}
		pairs = append(pairs, model.PairEdge{
			Base:   strings.ToUpper(s.BaseAsset),
			Quote:  strings.ToUpper(s.QuoteAsset),
			Market: model.MarketBinance,
		})
	}
	return pairs, nil
}

// FetchPrices 获取全部交易对最新价
// 返回: 交易对键（Base+Quote，与 Binance symbol 一致）-> 价格字符串
func (r *REST) FetchPrices(ctx context.Context) (map[string]string, error) {
	var tickers []TickerPrice
	if err := r.fetcher.GetJSON(ctx, r.baseURL, "/api/v3/ticker/price", nil, &tickers); err != nil {
		return nil, fmt.Errorf("获取 Binance 最新价失败: %w", err)
	}

	prices := make(map[string]string, len(tickers))
	for _, t := range tickers {
		prices[strings.ToUpper(t.Symbol)] = t.Price
	}
	return prices, nil
}
