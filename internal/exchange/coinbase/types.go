// Package coinbase 实现 Coinbase Exchange 现货 REST 客户端（交易对与最新价）。
package coinbase

// Product 交易对信息
// API: GET /products
type Product struct {
	// ID 交易对 ID，如 BTC-USD
	ID string `json:"id"`
	// BaseCurrency 基础资产，如 BTC
	BaseCurrency string `json:"base_currency"`
	// QuoteCurrency 计价资产，如 USD
	QuoteCurrency string `json:"quote_currency"`
	// Status 状态: online, offline, internal, delisted
	Status string `json:"status"`
	// TradingDisabled 是否暂停交易
	TradingDisabled bool `json:"trading_disabled"`
}

// Ticker 单个交易对行情
// API: GET /products/{id}/ticker
type Ticker struct {
	// Price 最新成交价
	Price string `json:"price"`
	// Bid 买一价
	Bid string `json:"bid"`
	// Ask 卖一价
	Ask string `json:"ask"`
	// Time 成交时间（RFC3339）
	Time string `json:"time"`
}
