package depth

import (
	"github.com/shopspring/decimal"

	"market-depth-engine/internal/core/model"
)

// Clip 截断档位，使累计数量不超过 maxCumulative
// 会使累计数量超限的那一档整体排除，不做部分截取
func Clip(levels []model.Level, maxCumulative decimal.Decimal) []model.Level {
	out := make([]model.Level, 0, len(levels))
	cum := decimal.Zero
	for _, l := range levels {
		cum = cum.Add(l.Size)
		if cum.GreaterThan(maxCumulative) {
			break
		}
		out = append(out, l)
	}
	return out
}

// Total 单边总数量
func Total(levels []model.Level) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Size)
	}
	return total
}

// SizeAtOrBetter 价格不劣于 price 的累计数量
// 买盘: 价格 >= price；卖盘: 价格 <= price
func SizeAtOrBetter(side model.Side, levels []model.Level, price decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		if !Better(side, price, l.Price) {
			total = total.Add(l.Size)
		}
	}
	return total
}

// SizeBeyond 价格严格劣于 price 的累计数量
// 买盘: 价格 < price；卖盘: 价格 > price
func SizeBeyond(side model.Side, levels []model.Level, price decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		if Better(side, price, l.Price) {
			total = total.Add(l.Size)
		}
	}
	return total
}

// PriceForCapacity 从最优价开始累计数量，返回累计量首次 >= target 的档位价格
// 全部档位累计仍不足时返回最差档位价格；target <= 0 时返回最优价
func PriceForCapacity(levels []model.Level, target decimal.Decimal) (decimal.Decimal, error) {
	if len(levels) == 0 {
		return decimal.Zero, ErrEmptySide
	}
	cum := decimal.Zero
	for _, l := range levels {
		cum = cum.Add(l.Size)
		if cum.GreaterThanOrEqual(target) {
			return l.Price, nil
		}
	}
	return levels[len(levels)-1].Price, nil
}
