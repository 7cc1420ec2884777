// Package pricegraph 根据多个市场的交易对价格推导每个资产的 USD 价格。
//
// 以 USD 等价币为起点，沿交易对边反复传播直到不动点：
// 第一轮直接使用与 USD 等价币成对的报价，之后每一轮用已定价资产为相邻资产定价。
// 无法连通到 USD 等价币的资产不会出现在结果中。
//
// 迭代顺序固定为：市场按输入切片顺序，交易对按列表顺序。
// 同一资产存在多条定价路径时，以该顺序中最后被评估的边为准。
package pricegraph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/util/fastparse"
)

// DefaultDivPrecision 除法结果至少保留的有效数字位数
const DefaultDivPrecision int32 = 24

// ErrInvalidPrice 边的价格不是正的有限数值，该边被跳过
var ErrInvalidPrice = errors.New("无效价格")

// DefaultUSDEquivalents 默认视为 1 USD 的资产
var DefaultUSDEquivalents = []string{
	"USDT", "USDC", "USDS", "DAI", "BUSD", "TUSD", "PAX", "GUSD",
	"USDN", "USDSB", "USD", "USDK", "USDP", "USDX",
}

// MarketPrices 单个市场的输入快照
type MarketPrices struct {
	// Market 市场
	Market string
	// Pairs 交易对列表（顺序即迭代顺序）
	Pairs []model.PairEdge
	// Prices 交易对键（Base+Quote）-> 价格字符串
	Prices map[string]string
}

// SkippedEdge 因价格无效被跳过的边
type SkippedEdge struct {
	Edge model.PairEdge `json:"edge"`
	// Raw 原始价格字符串
	Raw string `json:"raw"`
	Err error  `json:"-"`
}

// Result 解析结果
type Result struct {
	// Prices 资产 -> USD 价格（不含 USD 等价币本身）
	Prices map[string]decimal.Decimal
	// Sources 资产 -> 最终定价所用的边
	Sources map[string]model.PairEdge
	// Unresolved 无法连通到 USD 等价币的资产（已排序）
	Unresolved []string
	// Skipped 价格无效被跳过的边
	Skipped []SkippedEdge
	// Passes 传播轮数（不含首轮直接定价）
	Passes int
}

// Resolver 价格图解析器
// 无状态：每次调用基于入参独立计算，可被多个 goroutine 并发使用。
type Resolver struct {
	usd          map[string]struct{}
	divPrecision int32
}

// NewResolver 创建解析器
// 参数 usdEquivalents: USD 等价币列表，为空时使用 DefaultUSDEquivalents
// 参数 divPrecision: 除法结果保留的有效数字位数，<= 0 时使用 DefaultDivPrecision
func NewResolver(usdEquivalents []string, divPrecision int32) *Resolver {
	if len(usdEquivalents) == 0 {
		usdEquivalents = DefaultUSDEquivalents
	}
	if divPrecision <= 0 {
		divPrecision = DefaultDivPrecision
	}
	usd := make(map[string]struct{}, len(usdEquivalents))
	for _, a := range usdEquivalents {
		usd[a] = struct{}{}
	}
	return &Resolver{usd: usd, divPrecision: divPrecision}
}

// IsUSDEquivalent 判断资产是否视为 USD
func (r *Resolver) IsUSDEquivalent(asset string) bool {
	_, ok := r.usd[asset]
	return ok
}

// pricedEdge 带有效价格的边
type pricedEdge struct {
	edge  model.PairEdge
	price decimal.Decimal
}

// Resolve 计算所有可达资产的 USD 价格
// 输入为空时返回空结果；部分资产无法定价不是错误。
func (r *Resolver) Resolve(markets []MarketPrices) *Result {
	res := &Result{
		Prices:  make(map[string]decimal.Decimal),
		Sources: make(map[string]model.PairEdge),
	}

	edges := r.collectEdges(markets, res)
	if len(edges) == 0 {
		return res
	}

	// 首轮：与 USD 等价币直接成对
	for _, e := range edges {
		baseUSD, quoteUSD := r.IsUSDEquivalent(e.edge.Base), r.IsUSDEquivalent(e.edge.Quote)
		switch {
		case baseUSD && quoteUSD:
			// 两端都锚定 1 USD，不参与定价
		case quoteUSD:
			r.set(res, e.edge.Base, e.price, e.edge)
		case baseUSD:
			r.set(res, e.edge.Quote, r.inverse(e.price), e.edge)
		}
	}

	// 待定价资产按首次出现顺序排列
	var pending []string
	seen := make(map[string]struct{})
	for _, e := range edges {
		for _, a := range []string{e.edge.Base, e.edge.Quote} {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			if r.IsUSDEquivalent(a) {
				continue
			}
			if _, ok := res.Prices[a]; !ok {
				pending = append(pending, a)
			}
		}
	}

	// 传播直到不动点；每轮至少定价一个资产，否则终止
	for len(pending) > 0 {
		res.Passes++
		next := pending[:0:0]
		for _, asset := range pending {
			if !r.priceVia(res, asset, edges) {
				next = append(next, asset)
			}
		}
		if len(next) == len(pending) {
			break
		}
		pending = next
	}

	res.Unresolved = append([]string(nil), pending...)
	sort.Strings(res.Unresolved)
	return res
}

// priceVia 扫描与 asset 相连的全部边，使用最后一条另一端已定价的边为其定价
func (r *Resolver) priceVia(res *Result, asset string, edges []pricedEdge) bool {
	resolved := false
	for _, e := range edges {
		other := e.edge.Other(asset)
		if other == "" || other == asset {
			continue
		}
		otherPx, ok := res.Prices[other]
		if !ok {
			continue
		}
		if asset == e.edge.Base {
			// 1 asset = price 个 other
			r.set(res, asset, e.price.Mul(otherPx), e.edge)
		} else {
			// 1 other = price 个 asset
			r.set(res, asset, r.div(otherPx, e.price), e.edge)
		}
		resolved = true
	}
	return resolved
}

// collectEdges 按固定顺序收集有价格的边，无效价格记入 Skipped
func (r *Resolver) collectEdges(markets []MarketPrices, res *Result) []pricedEdge {
	var edges []pricedEdge
	for _, m := range markets {
		if m.Prices == nil {
			continue
		}
		for _, p := range m.Pairs {
			if p.Market == "" {
				p.Market = m.Market
			}
			raw, ok := m.Prices[p.Key()]
			if !ok {
				// 没有实时价格的交易对不构成边
				continue
			}
			px, err := parsePrice(raw)
			if err != nil {
				res.Skipped = append(res.Skipped, SkippedEdge{Edge: p, Raw: raw, Err: err})
				continue
			}
			edges = append(edges, pricedEdge{edge: p, price: px})
		}
	}
	return edges
}

func (r *Resolver) set(res *Result, asset string, px decimal.Decimal, via model.PairEdge) {
	if !px.IsPositive() {
		return
	}
	res.Prices[asset] = px
	res.Sources[asset] = via
}

func (r *Resolver) inverse(px decimal.Decimal) decimal.Decimal {
	return r.div(decimal.NewFromInt(1), px)
}

// div 计算 num/den，保留 divPrecision 位有效数字
// 小数位数随结果量级增加，极小的结果不会被舍入为 0
func (r *Resolver) div(num, den decimal.Decimal) decimal.Decimal {
	places := r.divPrecision - magnitude(num) + magnitude(den)
	if places < r.divPrecision {
		places = r.divPrecision
	}
	return num.DivRound(den, places)
}

// magnitude 最高有效位的十进制位置，1 <= |d| < 10 时为 1
func magnitude(d decimal.Decimal) int32 {
	return d.Exponent() + int32(fastparse.NumDigits(d))
}

func parsePrice(raw string) (decimal.Decimal, error) {
	px, err := fastparse.ParseDecimal(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	if !px.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: 价格必须为正数: %s", ErrInvalidPrice, raw)
	}
	return px, nil
}

// ResolveUSDPrices 使用给定 USD 等价币列表计算资产 USD 价格
func ResolveUSDPrices(markets []MarketPrices, usdEquivalents []string) map[string]decimal.Decimal {
	return NewResolver(usdEquivalents, DefaultDivPrecision).Resolve(markets).Prices
}
