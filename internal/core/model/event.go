package model

// SnapshotEvent 全量订单簿快照
// 档位为交易所原始字符串 [[price, size], ...]，由订单簿存储负责解析与校验。
type SnapshotEvent struct {
	// Market 市场
	Market string
	// Pair 交易对
	Pair string
	// Bids 买盘档位
	Bids [][]string
	// Asks 卖盘档位
	Asks [][]string
	// LastUpdateID 快照对应的更新 ID（Binance lastUpdateId），0 表示无
	LastUpdateID int64
	// ArrivedAtUnixNs 本机收到时间（纳秒）
	ArrivedAtUnixNs int64
}

// Key 获取订单簿标识
func (e *SnapshotEvent) Key() BookKey {
	return BookKey{Market: e.Market, Pair: e.Pair}
}

// DiffEvent 增量订单簿更新
// 数量为 0 的档位表示删除该价格。
type DiffEvent struct {
	// Market 市场
	Market string
	// Pair 交易对
	Pair string
	// BidChanges 买盘变更
	BidChanges [][]string
	// AskChanges 卖盘变更
	AskChanges [][]string
	// FirstUpdateID 本次事件第一条更新 ID（Binance U），0 表示无
	FirstUpdateID int64
	// FinalUpdateID 本次事件最后一条更新 ID（Binance u），0 表示无
	FinalUpdateID int64
	// ExchTsUnixMs 交易所事件时间（毫秒），0 表示无
	ExchTsUnixMs int64
	// ArrivedAtUnixNs 本机收到时间（纳秒）
	ArrivedAtUnixNs int64
}

// Key 获取订单簿标识
func (e *DiffEvent) Key() BookKey {
	return BookKey{Market: e.Market, Pair: e.Pair}
}

// HasSequence 是否携带序列号
func (e *DiffEvent) HasSequence() bool {
	return e.FinalUpdateID != 0
}
