package kraken

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/metadata"
)

// ErrAPI Kraken 返回了非空 error 列表
var ErrAPI = errors.New("Kraken API 返回错误")

// Client Kraken REST 客户端
// Ticker 结果以 Kraken 交易对名称为 key，需要用 AssetPairs 建立的索引换算为 Base+Quote
type Client struct {
	// baseURL 根地址，如 https://api.kraken.com
	baseURL string
	// fetcher HTTP 获取器
	fetcher *metadata.HTTPFetcher

	// mu 保护 index
	mu sync.RWMutex
	// index Kraken 交易对名称 -> 标准化的交易对
	index map[string]model.PairEdge
}

// NewClient 创建 Kraken REST 客户端
func NewClient(baseURL string, fetcher *metadata.HTTPFetcher) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetcher: fetcher,
		index:   make(map[string]model.PairEdge),
	}
}

// Market 市场名称
func (c *Client) Market() string {
	return model.MarketKraken
}

// FetchPairs 获取在线交易对
// 使用 wsname 拆分资产并做别名标准化（XBT -> BTC），按 Kraken 名称排序保证顺序稳定
func (c *Client) FetchPairs(ctx context.Context) ([]model.PairEdge, error) {
	var resp Response[AssetPair]
	if err := c.fetcher.GetJSON(ctx, c.baseURL, "/0/public/AssetPairs", nil, &resp); err != nil {
		return nil, fmt.Errorf("获取 Kraken 交易对失败: %w", err)
	}
	if len(resp.Error) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAPI, strings.Join(resp.Error, "; "))
	}

	names := make([]string, 0, len(resp.Result))
	for name := range resp.Result {
		names = append(names, name)
	}
	sort.Strings(names)

	index := make(map[string]model.PairEdge, len(names))
	pairs := make([]model.PairEdge, 0, len(names))
	for _, name := range names {
		p := resp.Result[name]
		if p.Status != "" && p.Status != "online" {
			continue
		}
		edge, ok := metadata.EdgeFromSlashName(model.MarketKraken, p.WSName)
		if !ok {
			continue
		}
		index[name] = edge
		if p.Altname != "" {
			index[p.Altname] = edge
		}
		pairs = append(pairs, edge)
	}

	c.mu.Lock()
	c.index = index
	c.mu.Unlock()

	return pairs, nil
}

// FetchPrices 获取全部交易对最新成交价（c[0]）
// 返回: 交易对键（Base+Quote）-> 价格字符串；索引中不存在的交易对被忽略
// 尚未拉取过交易对时会先调用 FetchPairs
func (c *Client) FetchPrices(ctx context.Context) (map[string]string, error) {
	c.mu.RLock()
	empty := len(c.index) == 0
	c.mu.RUnlock()
	if empty {
		if _, err := c.FetchPairs(ctx); err != nil {
			return nil, err
		}
	}

	var resp Response[Ticker]
	if err := c.fetcher.GetJSON(ctx, c.baseURL, "/0/public/Ticker", nil, &resp); err != nil {
		return nil, fmt.Errorf("获取 Kraken 最新价失败: %w", err)
	}
	if len(resp.Error) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAPI, strings.Join(resp.Error, "; "))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	prices := make(map[string]string, len(resp.Result))
	for name, t := range resp.Result {
		edge, ok := c.index[name]
		if !ok || len(t.Close) == 0 {
			continue
		}
		prices[edge.Key()] = t.Close[0]
	}
	return prices, nil
}
