package metadata

import (
	"context"
	"sync"
	"time"

	"market-depth-engine/internal/core/model"
)

// PairLister 能列出交易对的交易所客户端
type PairLister interface {
	// Market 市场名称
	Market() string
	// FetchPairs 获取当前可交易的交易对
	FetchPairs(ctx context.Context) ([]model.PairEdge, error)
}

// PairCache 交易对列表缓存
// 交易对变化很慢，定价任务每轮只拉价格，交易对按 refresh 间隔刷新。
// 刷新失败时继续使用上一次成功的结果。
type PairCache struct {
	src     PairLister
	refresh time.Duration

	mu        sync.Mutex
	pairs     []model.PairEdge
	fetchedAt time.Time

	// now 时间源，测试可替换
	now func() time.Time
}

// NewPairCache 创建交易对缓存
// 参数 refresh: 刷新间隔
func NewPairCache(src PairLister, refresh time.Duration) *PairCache {
	return &PairCache{src: src, refresh: refresh, now: time.Now}
}

// Pairs 返回缓存的交易对；缓存为空或过期时先刷新
// 刷新失败且已有缓存时返回旧缓存和错误，调用方可以选择继续使用
func (c *PairCache) Pairs(ctx context.Context) ([]model.PairEdge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pairs != nil && c.now().Sub(c.fetchedAt) < c.refresh {
		return c.pairs, nil
	}

	pairs, err := c.src.FetchPairs(ctx)
	if err != nil {
		return c.pairs, err
	}
	c.pairs = pairs
	c.fetchedAt = c.now()
	return c.pairs, nil
}

// Invalidate 清空缓存，下一次 Pairs 调用强制刷新
func (c *PairCache) Invalidate() {
	c.mu.Lock()
	c.pairs = nil
	c.mu.Unlock()
}
