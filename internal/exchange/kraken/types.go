// Package kraken 实现 Kraken 现货 REST 客户端（交易对与最新价）。
package kraken

// Response Kraken 公共 API 响应包装
// error 非空表示请求失败
type Response[T any] struct {
	// Error 错误列表，如 ["EQuery:Unknown asset pair"]
	Error []string `json:"error"`
	// Result 结果，key 为 Kraken 交易对名称
	Result map[string]T `json:"result"`
}

// AssetPair 交易对信息
// API: GET /0/public/AssetPairs
type AssetPair struct {
	// Altname 备用名称，如 XBTUSD
	Altname string `json:"altname"`
	// WSName WebSocket 名称，如 XBT/USD（用于拆分 base/quote）
	WSName string `json:"wsname"`
	// Base 基础资产内部代码，如 XXBT
	Base string `json:"base"`
	// Quote 计价资产内部代码，如 ZUSD
	Quote string `json:"quote"`
	// Status 状态: online, cancel_only, post_only, limit_only, reduce_only
	Status string `json:"status"`
}

// Ticker 行情
// API: GET /0/public/Ticker
type Ticker struct {
	// Ask 卖一 [price, whole lot volume, lot volume]
	Ask []string `json:"a"`
	// Bid 买一 [price, whole lot volume, lot volume]
	Bid []string `json:"b"`
	// Close 最新成交 [price, lot volume]
	Close []string `json:"c"`
}
