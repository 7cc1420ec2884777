package pricegraph

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-depth-engine/internal/core/model"
)

func edge(market, base, quote string) model.PairEdge {
	return model.PairEdge{Base: base, Quote: quote, Market: market}
}

func assertPrice(t *testing.T, prices map[string]decimal.Decimal, asset, want string) {
	t.Helper()
	got, ok := prices[asset]
	require.True(t, ok, "%s 未定价", asset)
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s = %s, want %s", asset, got, want)
}

func TestResolve_TwoHop(t *testing.T) {
	markets := []MarketPrices{{
		Market: model.MarketBinance,
		Pairs:  []model.PairEdge{edge("", "ETH", "BTC"), edge("", "BTC", "USDT")},
		Prices: map[string]string{"ETHBTC": "0.05", "BTCUSDT": "60000"},
	}}

	res := NewResolver([]string{"USDT"}, 0).Resolve(markets)

	require.Len(t, res.Prices, 2)
	assertPrice(t, res.Prices, "BTC", "60000")
	assertPrice(t, res.Prices, "ETH", "3000")
	assert.Equal(t, "BTC", res.Sources["ETH"].Quote)
	assert.Equal(t, model.MarketBinance, res.Sources["ETH"].Market)
	assert.Empty(t, res.Unresolved)
	assert.Equal(t, 1, res.Passes)
}

func TestResolve_IsolatedPairOmitted(t *testing.T) {
	markets := []MarketPrices{{
		Market: "m",
		Pairs:  []model.PairEdge{edge("m", "XYZ", "ABC"), edge("m", "BTC", "USDT")},
		Prices: map[string]string{"XYZABC": "3", "BTCUSDT": "60000"},
	}}

	res := NewResolver([]string{"USDT"}, 0).Resolve(markets)

	assert.NotContains(t, res.Prices, "XYZ")
	assert.NotContains(t, res.Prices, "ABC")
	assert.Equal(t, []string{"ABC", "XYZ"}, res.Unresolved)
	assertPrice(t, res.Prices, "BTC", "60000")
}

func TestResolve_MultiHopFixedPoint(t *testing.T) {
	// A -> B -> C -> USDT，A 需要两轮传播
	markets := []MarketPrices{{
		Market: "m",
		Pairs:  []model.PairEdge{edge("m", "A", "B"), edge("m", "B", "C"), edge("m", "C", "USDT")},
		Prices: map[string]string{"AB": "0.5", "BC": "3", "CUSDT": "2"},
	}}

	res := NewResolver([]string{"USDT"}, 0).Resolve(markets)

	assertPrice(t, res.Prices, "C", "2")
	assertPrice(t, res.Prices, "B", "6")
	assertPrice(t, res.Prices, "A", "3")
	assert.Equal(t, 2, res.Passes)
}

func TestResolve_InverseDirections(t *testing.T) {
	markets := []MarketPrices{{
		Market: "m",
		Pairs: []model.PairEdge{
			edge("m", "USD", "EUR"),  // base 为 USD 等价币
			edge("m", "BTC", "USDT"), // quote 为 USD 等价币
			edge("m", "BTC", "FOO"),  // FOO 作为 quote 经 BTC 定价
		},
		Prices: map[string]string{"USDEUR": "0.5", "BTCUSDT": "60000", "BTCFOO": "30000"},
	}}

	res := NewResolver(nil, 0).Resolve(markets)

	assertPrice(t, res.Prices, "EUR", "2")
	assertPrice(t, res.Prices, "FOO", "2")
	assertPrice(t, res.Prices, "BTC", "60000")
	assert.NotContains(t, res.Prices, "USD")
	assert.NotContains(t, res.Prices, "USDT")
}

func TestResolve_TinyPricesKeepPrecision(t *testing.T) {
	markets := []MarketPrices{{
		Market: "m",
		Pairs: []model.PairEdge{
			edge("m", "USDT", "XYZ"),
			edge("m", "W", "XYZ"),
			edge("m", "USDT", "ABC"),
		},
		Prices: map[string]string{"USDTXYZ": "1e25", "WXYZ": "1000", "USDTABC": "3e30"},
	}}

	res := NewResolver([]string{"USDT"}, 0).Resolve(markets)

	// 倒数远小于 10^-24 时不能被舍入为 0
	assertPrice(t, res.Prices, "XYZ", "1e-25")
	assertPrice(t, res.Prices, "W", "1e-22")

	abc, ok := res.Prices["ABC"]
	require.True(t, ok)
	require.True(t, abc.IsPositive())
	back := abc.Mul(decimal.RequireFromString("3e30"))
	assert.True(t, back.Sub(decimal.NewFromInt(1)).Abs().LessThan(decimal.RequireFromString("1e-22")), "ABC*3e30 = %s", back)

	for asset, px := range res.Prices {
		assert.True(t, px.IsPositive(), "%s = %s", asset, px)
	}
}

func TestResolve_HugeExponentSkipped(t *testing.T) {
	markets := []MarketPrices{{
		Market: "m",
		Pairs:  []model.PairEdge{edge("m", "BIG", "USDT"), edge("m", "BTC", "USDT")},
		Prices: map[string]string{"BIGUSDT": "1e900000000", "BTCUSDT": "60000"},
	}}

	res := NewResolver([]string{"USDT"}, 0).Resolve(markets)

	assert.NotContains(t, res.Prices, "BIG")
	require.Len(t, res.Skipped, 1)
	assert.ErrorIs(t, res.Skipped[0].Err, ErrInvalidPrice)
	assertPrice(t, res.Prices, "BTC", "60000")
}

func TestResolve_InvalidPricesSkipped(t *testing.T) {
	markets := []MarketPrices{{
		Market: "m",
		Pairs: []model.PairEdge{
			edge("m", "AAA", "USDT"),
			edge("m", "BBB", "USDT"),
			edge("m", "CCC", "USDT"),
			edge("m", "DDD", "USDT"),
			edge("m", "EEE", "USDT"), // 无价格，直接忽略
			edge("m", "BTC", "USDT"),
		},
		Prices: map[string]string{
			"AAAUSDT": "0",
			"BBBUSDT": "-1",
			"CCCUSDT": "abc",
			"DDDUSDT": "NaN",
			"BTCUSDT": "60000",
		},
	}}

	res := NewResolver([]string{"USDT"}, 0).Resolve(markets)

	require.Len(t, res.Prices, 1)
	assertPrice(t, res.Prices, "BTC", "60000")
	require.Len(t, res.Skipped, 4)
	for _, s := range res.Skipped {
		assert.True(t, errors.Is(s.Err, ErrInvalidPrice), "%s: %v", s.Edge.Key(), s.Err)
	}
	assert.Empty(t, res.Unresolved)
}

func TestResolve_LastEdgeWins(t *testing.T) {
	markets := []MarketPrices{
		{
			Market: model.MarketBinance,
			Pairs:  []model.PairEdge{edge("", "BTC", "USDT")},
			Prices: map[string]string{"BTCUSDT": "60000"},
		},
		{
			Market: model.MarketKraken,
			Pairs:  []model.PairEdge{edge("", "BTC", "USD")},
			Prices: map[string]string{"BTCUSD": "60100"},
		},
	}

	res := NewResolver(nil, 0).Resolve(markets)
	assertPrice(t, res.Prices, "BTC", "60100")
	assert.Equal(t, model.MarketKraken, res.Sources["BTC"].Market)

	// 顺序反转后结果随之变化
	markets[0], markets[1] = markets[1], markets[0]
	res = NewResolver(nil, 0).Resolve(markets)
	assertPrice(t, res.Prices, "BTC", "60000")
}

func TestResolve_EmptyAndPegged(t *testing.T) {
	res := NewResolver(nil, 0).Resolve(nil)
	assert.Empty(t, res.Prices)
	assert.Empty(t, res.Unresolved)

	res = NewResolver(nil, 0).Resolve([]MarketPrices{{Market: "m"}})
	assert.Empty(t, res.Prices)

	// 两端都是 USD 等价币的边不参与定价
	res = NewResolver(nil, 0).Resolve([]MarketPrices{{
		Market: "m",
		Pairs:  []model.PairEdge{edge("m", "USDC", "USDT")},
		Prices: map[string]string{"USDCUSDT": "0.9998"},
	}})
	assert.Empty(t, res.Prices)
	assert.Empty(t, res.Unresolved)
}

func TestResolveUSDPrices(t *testing.T) {
	prices := ResolveUSDPrices([]MarketPrices{{
		Market: "m",
		Pairs:  []model.PairEdge{edge("m", "ETH", "BTC"), edge("m", "BTC", "USDT")},
		Prices: map[string]string{"ETHBTC": "0.05", "BTCUSDT": "60000"},
	}}, []string{"USDT"})

	assertPrice(t, prices, "ETH", "3000")
}

// chainMarkets 构造链 A0/USDT, A1/A0, ..., An/An-1，边按逆序排列以强制多轮传播
func chainMarkets(ratios []int) []MarketPrices {
	m := MarketPrices{Market: "m", Prices: make(map[string]string)}
	for i := len(ratios) - 1; i >= 0; i-- {
		base := fmt.Sprintf("A%d", i)
		quote := "USDT"
		if i > 0 {
			quote = fmt.Sprintf("A%d", i-1)
		}
		m.Pairs = append(m.Pairs, edge("m", base, quote))
		m.Prices[model.PairKey(base, quote)] = fmt.Sprint(ratios[i])
	}
	return []MarketPrices{m}
}

// **Feature: price-graph, Property 1: 链式传播到不动点且结果确定**
func TestResolve_Chain_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	ratios := gen.IntRange(1, 10).FlatMap(func(n interface{}) gopter.Gen {
		return gen.SliceOfN(n.(int), gen.IntRange(1, 50))
	}, reflect.TypeOf([]int{}))

	properties.Property("链上每个资产的价格等于沿路径的比例乘积", prop.ForAll(
		func(rs []int) bool {
			res := NewResolver([]string{"USDT"}, 0).Resolve(chainMarkets(rs))
			if len(res.Prices) != len(rs) || len(res.Unresolved) != 0 {
				return false
			}
			want := decimal.NewFromInt(1)
			for i, r := range rs {
				want = want.Mul(decimal.NewFromInt(int64(r)))
				if !res.Prices[fmt.Sprintf("A%d", i)].Equal(want) {
					return false
				}
			}
			return res.Passes <= len(rs)
		},
		ratios,
	))

	properties.Property("相同输入得到相同输出", prop.ForAll(
		func(rs []int) bool {
			in := chainMarkets(rs)
			a := NewResolver([]string{"USDT"}, 0).Resolve(in)
			b := NewResolver([]string{"USDT"}, 0).Resolve(in)
			if len(a.Prices) != len(b.Prices) {
				return false
			}
			for k, v := range a.Prices {
				if !b.Prices[k].Equal(v) || a.Sources[k] != b.Sources[k] {
					return false
				}
			}
			return true
		},
		ratios,
	))

	properties.TestingRun(t)
}
