package coinbase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/metadata"
)

// ErrNoTicker 所有交易对的最新价都拉取失败
var ErrNoTicker = errors.New("Coinbase 没有可用的最新价")

// DefaultConcurrency 默认并发请求数
const DefaultConcurrency = 8

// product 已标准化的交易对
type product struct {
	id   string
	edge model.PairEdge
}

// Client Coinbase REST 客户端
// Coinbase 没有批量行情接口，最新价按交易对逐个请求，并发数受 concurrency 限制
type Client struct {
	// baseURL 根地址，如 https://api.exchange.coinbase.com
	baseURL string
	// fetcher HTTP 获取器
	fetcher *metadata.HTTPFetcher
	// concurrency 并发请求数
	concurrency int

	// mu 保护 products
	mu sync.RWMutex
	// products 最近一次拉取的在线交易对（按 ID 排序）
	products []product
}

// NewClient 创建 Coinbase REST 客户端
// 参数 concurrency: 拉取最新价的并发请求数，<= 0 时使用 DefaultConcurrency
func NewClient(baseURL string, fetcher *metadata.HTTPFetcher, concurrency int) *Client {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		fetcher:     fetcher,
		concurrency: concurrency,
	}
}

// Market 市场名称
func (c *Client) Market() string {
	return model.MarketCoinbase
}

// FetchPairs 获取在线且可交易的交易对
func (c *Client) FetchPairs(ctx context.Context) ([]model.PairEdge, error) {
	var resp []Product
	if err := c.fetcher.GetJSON(ctx, c.baseURL, "/products", nil, &resp); err != nil {
		return nil, fmt.Errorf("获取 Coinbase 交易对失败: %w", err)
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].ID < resp[j].ID })

	products := make([]product, 0, len(resp))
	pairs := make([]model.PairEdge, 0, len(resp))
	for _, p := range resp {
		if p.Status != "online" || p.TradingDisabled {
			continue
		}
		base, quote := metadata.NormalizeAsset(p.BaseCurrency), metadata.NormalizeAsset(p.QuoteCurrency)
		if base == "" || quote == "" || base == quote {
			continue
		}
		edge := model.PairEdge{Base: base, Quote: quote, Market: model.MarketCoinbase}
		products = append(products, product{id: p.ID, edge: edge})
		pairs = append(pairs, edge)
	}

	c.mu.Lock()
	c.products = products
	c.mu.Unlock()

	return pairs, nil
}

// FetchPrices 并发获取全部在线交易对的最新价
// 返回: 交易对键（Base+Quote）-> 价格字符串；单个交易对失败时跳过，全部失败时返回 ErrNoTicker
// 尚未拉取过交易对时会先调用 FetchPairs
func (c *Client) FetchPrices(ctx context.Context) (map[string]string, error) {
	c.mu.RLock()
	products := c.products
	c.mu.RUnlock()
	if len(products) == 0 {
		if _, err := c.FetchPairs(ctx); err != nil {
			return nil, err
		}
		c.mu.RLock()
		products = c.products
		c.mu.RUnlock()
	}
	if len(products) == 0 {
		return map[string]string{}, nil
	}

	var (
		mu      sync.Mutex
		prices  = make(map[string]string, len(products))
		lastErr error
	)
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, p := range products {
		if ctx.Err() != nil {
			break
		}
		p := p
		g.Go(func() error {
			var t Ticker
			err := c.fetcher.GetJSON(ctx, c.baseURL, "/products/"+url.PathEscape(p.id)+"/ticker", nil, &t)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = fmt.Errorf("%s: %w", p.id, err)
				return nil
			}
			if t.Price != "" {
				prices[p.edge.Key()] = t.Price
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(prices) == 0 && lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTicker, lastErr)
	}
	return prices, nil
}
