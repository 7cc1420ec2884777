package model

import "github.com/shopspring/decimal"

// PairEdge 可交易的交易对
// 价格传播时视为无向边：price = 每 1 个 Base 可兑换的 Quote 数量。
type PairEdge struct {
	// Base 基础资产，如 ETH
	Base string `json:"base"`
	// Quote 计价资产，如 BTC
	Quote string `json:"quote"`
	// Market 所属市场
	Market string `json:"market"`
}

// Key 价格表中的键（Base+Quote），如 ETHBTC
func (p PairEdge) Key() string {
	return PairKey(p.Base, p.Quote)
}

// Other 返回边的另一端资产，asset 不在边上时返回空字符串
func (p PairEdge) Other(asset string) string {
	switch asset {
	case p.Base:
		return p.Quote
	case p.Quote:
		return p.Base
	}
	return ""
}

// PairKey 拼接交易对键
func PairKey(base, quote string) string {
	return base + quote
}

// PriceTick USD 价格记录
// 由价格图解析器产出，写入 JSONL / Redis。
type PriceTick struct {
	// Asset 资产符号
	Asset string `json:"asset"`
	// PriceUSD USD 价格（十进制字符串，避免浮点误差）
	PriceUSD decimal.Decimal `json:"price_usd"`
	// Via 最终定价所用的交易对边
	Via PairEdge `json:"via"`
	// TsUnixNs 计算时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
}

// DepthSample 订单簿容量价格采样
// 记录买一/卖一以及在不同累计数量下可成交的价格。
type DepthSample struct {
	// Market 市场
	Market string `json:"market"`
	// Pair 交易对
	Pair string `json:"pair"`
	// TsUnixNs 采样时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// BestBid 买一价，买盘为空时为 nil
	BestBid *decimal.Decimal `json:"best_bid,omitempty"`
	// BestAsk 卖一价，卖盘为空时为 nil
	BestAsk *decimal.Decimal `json:"best_ask,omitempty"`
	// BidAtCapacity 容量 -> 买盘价格
	BidAtCapacity map[string]decimal.Decimal `json:"bid_at_capacity,omitempty"`
	// AskAtCapacity 容量 -> 卖盘价格
	AskAtCapacity map[string]decimal.Decimal `json:"ask_at_capacity,omitempty"`
	// Stale 订单簿是否处于缺口待重建状态
	Stale bool `json:"stale"`
	// Crossed 是否交叉盘
	Crossed bool `json:"crossed"`
	// LastUpdateID 最后更新 ID
	LastUpdateID int64 `json:"last_update_id"`
	// Bids 截断后的买盘（未配置截断数量时为空）
	Bids []Level `json:"bids,omitempty"`
	// Asks 截断后的卖盘（未配置截断数量时为空）
	Asks []Level `json:"asks,omitempty"`
}
