// Package model 定义行情引擎中使用的核心数据结构。
// 包含订单簿档位、订单簿状态、快照/增量事件、交易对边与价格记录等类型。
package model

import (
	"github.com/shopspring/decimal"
)

// 市场标识常量
const (
	// MarketBinance Binance 现货
	MarketBinance = "binance"
	// MarketKraken Kraken 现货
	MarketKraken = "kraken"
	// MarketCoinbase Coinbase Exchange 现货
	MarketCoinbase = "coinbase"
)

// Side 订单簿方向
type Side string

const (
	// SideBid 买盘，按价格降序
	SideBid Side = "bid"
	// SideAsk 卖盘，按价格升序
	SideAsk Side = "ask"
)

// Level 订单簿深度档位
// Size 为 0 的档位表示删除，不会被存储。
type Level struct {
	// Price 价格
	Price decimal.Decimal `json:"price"`
	// Size 数量
	Size decimal.Decimal `json:"size"`
}

// BookKey 订单簿标识（市场 + 交易对）
type BookKey struct {
	// Market 市场，如 binance
	Market string
	// Pair 交易对，如 BTCUSDT
	Pair string
}

// String 返回 market/pair 形式
func (k BookKey) String() string {
	return k.Market + "/" + k.Pair
}

// OrderBook 单个 (market, pair) 的订单簿状态
// 不变量：Bids 严格降序、Asks 严格升序，价格不重复，数量均为正。
type OrderBook struct {
	// Key 订单簿标识
	Key BookKey
	// Bids 买盘（价格降序）
	Bids []Level
	// Asks 卖盘（价格升序）
	Asks []Level
	// LastUpdateID 最后应用的更新 ID，0 表示未设置
	LastUpdateID int64
	// Stale 检测到序列缺口后置位，直到新快照到达
	Stale bool
	// UpdatedAtUnixNs 最后一次变更的本机时间（纳秒）
	UpdatedAtUnixNs int64
}

// Levels 获取指定方向的档位
func (b *OrderBook) Levels(side Side) []Level {
	if side == SideBid {
		return b.Bids
	}
	return b.Asks
}

// BestBid 买一价，买盘为空时 ok=false
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk 卖一价，卖盘为空时 ok=false
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// IsCrossed 判断是否交叉盘（买一价 >= 卖一价）
// 交叉盘属于可检测的异常，引擎不会自动修复。
func (b *OrderBook) IsCrossed() bool {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	return okBid && okAsk && bid.GreaterThanOrEqual(ask)
}

// Clone 创建 OrderBook 的深拷贝
func (b *OrderBook) Clone() *OrderBook {
	clone := *b
	if b.Bids != nil {
		clone.Bids = make([]Level, len(b.Bids))
		copy(clone.Bids, b.Bids)
	}
	if b.Asks != nil {
		clone.Asks = make([]Level, len(b.Asks))
		copy(clone.Asks, b.Asks)
	}
	return &clone
}
