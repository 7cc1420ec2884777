package metadata

import (
	"strings"

	"market-depth-engine/internal/core/model"
)

// assetAliases 交易所私有资产代码 -> 通用代码
var assetAliases = map[string]string{
	"XBT": "BTC",
	"XDG": "DOGE",
}

// NormalizeAsset 标准化资产代码
// 去空白、转大写，并把交易所私有代码替换为通用代码（XBT -> BTC）
func NormalizeAsset(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if alias, ok := assetAliases[s]; ok {
		return alias
	}
	return s
}

// normalizeSymbol 标准化交易对格式
// 移除分隔符，转为大写
// 例如: BTC-USDT -> BTCUSDT, btc_usdt -> BTCUSDT
func normalizeSymbol(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "/", "")
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeSymbol 将用户输入的交易对转换为订单簿 key 使用的格式
func NormalizeSymbol(userInput string) string {
	return normalizeSymbol(userInput)
}

// EdgeFromSlashName 解析 "BASE/QUOTE" 形式的交易对名称（如 Kraken wsname "XBT/USD"）
// 两端资产都会经过 NormalizeAsset；格式不对时返回 false
func EdgeFromSlashName(market, name string) (model.PairEdge, bool) {
	base, quote, ok := strings.Cut(name, "/")
	if !ok {
		return model.PairEdge{}, false
	}
	base, quote = NormalizeAsset(base), NormalizeAsset(quote)
	if base == "" || quote == "" || base == quote {
		return model.PairEdge{}, false
	}
	return model.PairEdge{Base: base, Quote: quote, Market: market}, true
}
