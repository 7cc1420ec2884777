// Package binance 定义 Binance 现货消息与 REST 响应类型。
package binance

// SubscribeRequest Binance WebSocket 订阅请求
type SubscribeRequest struct {
	// Method 订阅方法: SUBSCRIBE
	Method string `json:"method"`
	// Params 订阅参数列表，如 "btcusdt@depth@100ms"
	Params []string `json:"params"`
	// ID 请求 ID
	ID int64 `json:"id"`
}

// DepthUpdate Binance 增量深度推送（depthUpdate）
// 字段映射：
// - E: 事件时间（毫秒） -> DiffEvent.ExchTsUnixMs
// - s: Symbol（如 ETHBTC） -> DiffEvent.Pair
// - U: 本次首个更新 ID -> DiffEvent.FirstUpdateID
// - u: 本次最后更新 ID -> DiffEvent.FinalUpdateID
// - b / a: 变化的档位 [[price, qty], ...]，qty 为 0 表示删除
type DepthUpdate struct {
	// EventType 事件类型: depthUpdate
	EventType string `json:"e"`
	// EventTimeMs 事件时间（毫秒）
	EventTimeMs int64 `json:"E"`
	// Symbol 交易对（大写）
	Symbol string `json:"s"`
	// FirstUpdateID 首个更新 ID
	FirstUpdateID int64 `json:"U"`
	// FinalUpdateID 最后更新 ID
	FinalUpdateID int64 `json:"u"`
	// Bids 买盘变化
	Bids [][]string `json:"b"`
	// Asks 卖盘变化
	Asks [][]string `json:"a"`
}

// DepthSnapshot REST 深度快照
// API: GET /api/v3/depth?symbol=ETHBTC&limit=1000
type DepthSnapshot struct {
	// LastUpdateID 快照对应的更新 ID
	LastUpdateID int64 `json:"lastUpdateId"`
	// Bids 买盘档位
	Bids [][]string `json:"bids"`
	// Asks 卖盘档位
	Asks [][]string `json:"asks"`
}

// ExchangeInfo 交易规则
// API: GET /api/v3/exchangeInfo
type ExchangeInfo struct {
	// Symbols 交易对列表
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo 单个交易对
type SymbolInfo struct {
	// Symbol 交易对，如 ETHBTC
	Symbol string `json:"symbol"`
	// Status 状态: TRADING, BREAK, HALT
	Status string `json:"status"`
	// BaseAsset 基础资产
	BaseAsset string `json:"baseAsset"`
	// QuoteAsset 计价资产
	QuoteAsset string `json:"quoteAsset"`
}

// TickerPrice 最新价
// API: GET /api/v3/ticker/price
type TickerPrice struct {
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Price 最新成交价
	Price string `json:"price"`
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64
	// UpdatesPerSec 每秒更新次数
	UpdatesPerSec float64
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64
}
