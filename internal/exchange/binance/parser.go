package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/util/timeutil"
)

// Parser Binance 深度消息解析器
// 只做结构解析，档位数值的合法性由订单簿存储校验
type Parser struct {
	// symbols 已订阅的交易对（大写），用于过滤
	symbols map[string]struct{}
}

// NewParser 创建解析器
// 参数 symbols: 订阅的交易对，如 BTCUSDT
func NewParser(symbols []string) *Parser {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[strings.ToUpper(s)] = struct{}{}
	}
	return &Parser{symbols: set}
}

// Parse 解析 WebSocket 消息为 DiffEvent
// 订阅响应、其他事件和未订阅交易对返回空切片
func (p *Parser) Parse(data []byte) ([]*model.DiffEvent, error) {
	arrivedAt := timeutil.NowNano()

	var msg DepthUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 Binance 消息失败: %w", err)
	}

	if msg.EventType != "depthUpdate" {
		return nil, nil
	}

	pair := strings.ToUpper(msg.Symbol)
	if pair == "" {
		return nil, nil
	}
	if _, ok := p.symbols[pair]; !ok {
		return nil, nil
	}
	if msg.FinalUpdateID != 0 && msg.FirstUpdateID > msg.FinalUpdateID {
		return nil, fmt.Errorf("Binance %s 更新 ID 区间无效: U=%d u=%d", pair, msg.FirstUpdateID, msg.FinalUpdateID)
	}

	event := &model.DiffEvent{
		Market:          model.MarketBinance,
		Pair:            pair,
		BidChanges:      msg.Bids,
		AskChanges:      msg.Asks,
		FirstUpdateID:   msg.FirstUpdateID,
		FinalUpdateID:   msg.FinalUpdateID,
		ExchTsUnixMs:    msg.EventTimeMs,
		ArrivedAtUnixNs: arrivedAt,
	}

	return []*model.DiffEvent{event}, nil
}
