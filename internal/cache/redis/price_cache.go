package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"market-depth-engine/internal/core/model"
)

// 哈希字段
const (
	fieldPrice = "price"
	fieldTs    = "ts"
	fieldVia   = "via"
)

// PriceCache USD 价格缓存
// 每个资产一个哈希 {prefix}{asset}，字段 price（十进制字符串）、ts（纳秒）、via（market:BASE/QUOTE）。
type PriceCache struct {
	rdb    *redis.Client
	prefix string
	// ttl 过期时间，0 表示不过期；定价任务停止后旧价格会自动失效
	ttl time.Duration
}

// NewPriceCache 创建价格缓存
func NewPriceCache(c *Client, prefix string, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.rdb, prefix: prefix, ttl: ttl}
}

func (pc *PriceCache) key(asset string) string {
	return pc.prefix + asset
}

// WritePrices 用一个 pipeline 写入一轮定价结果
func (pc *PriceCache) WritePrices(ctx context.Context, ticks []model.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	pipe := pc.rdb.Pipeline()
	for _, t := range ticks {
		key := pc.key(t.Asset)
		pipe.HSet(ctx, key, priceFields(t))
		if pc.ttl > 0 {
			pipe.Expire(ctx, key, pc.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入 %d 个资产价格失败: %w", len(ticks), err)
	}
	return nil
}

func priceFields(t model.PriceTick) map[string]any {
	return map[string]any{
		fieldPrice: t.PriceUSD.String(),
		fieldTs:    strconv.FormatInt(t.TsUnixNs, 10),
		fieldVia:   formatVia(t.Via),
	}
}

// formatVia 编码为 market:BASE/QUOTE
func formatVia(e model.PairEdge) string {
	return e.Market + ":" + e.Base + "/" + e.Quote
}

