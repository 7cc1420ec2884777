// Package depth 实现订单簿单边档位的纯函数算法。
// 买盘按价格降序、卖盘按价格升序；所有函数都不修改入参切片。
package depth

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/util/fastparse"
)

var (
	// ErrInvalidLevel 档位价格或数量不合法
	ErrInvalidLevel = errors.New("无效档位")
	// ErrEmptySide 该方向没有任何档位
	ErrEmptySide = errors.New("订单簿该方向为空")
)

// Better 判断在 side 方向上价格 a 是否严格优于 b
// 买盘价格越高越优，卖盘价格越低越优
func Better(side model.Side, a, b decimal.Decimal) bool {
	if side == model.SideBid {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// ParseLevels 解析交易所原始档位 [[price, size, ...], ...]
// 价格必须为正的有限数值；数量只校验格式，正负由调用方决定如何处理。
func ParseLevels(raw [][]string) ([]model.Level, error) {
	levels := make([]model.Level, 0, len(raw))
	for i, r := range raw {
		if len(r) < 2 {
			return nil, fmt.Errorf("%w: 第 %d 档字段不足: %v", ErrInvalidLevel, i, r)
		}
		px, err := fastparse.ParseDecimal(r[0])
		if err != nil {
			return nil, fmt.Errorf("%w: 第 %d 档价格: %v", ErrInvalidLevel, i, err)
		}
		if !px.IsPositive() {
			return nil, fmt.Errorf("%w: 第 %d 档价格必须为正数: %s", ErrInvalidLevel, i, r[0])
		}
		sz, err := fastparse.ParseDecimal(r[1])
		if err != nil {
			return nil, fmt.Errorf("%w: 第 %d 档数量: %v", ErrInvalidLevel, i, err)
		}
		levels = append(levels, model.Level{Price: px, Size: sz})
	}
	return levels, nil
}

// Normalize 将快照档位整理为满足不变量的有序切片
// 排序、去重（同价以最后一次出现为准）、丢弃数量 <= 0 的档位
func Normalize(side model.Side, levels []model.Level) []model.Level {
	tmp := make([]model.Level, len(levels))
	copy(tmp, levels)
	// 稳定排序保证同价档位保持输入顺序，便于取最后一个
	sort.SliceStable(tmp, func(i, j int) bool {
		return Better(side, tmp[i].Price, tmp[j].Price)
	})

	out := make([]model.Level, 0, len(tmp))
	for i := 0; i < len(tmp); i++ {
		if i+1 < len(tmp) && tmp[i+1].Price.Equal(tmp[i].Price) {
			continue
		}
		if tmp[i].Size.IsPositive() {
			out = append(out, tmp[i])
		}
	}
	return out
}

// ApplyChanges 将增量变更合并到有序档位
// 数量为 0 删除该价格（不存在则忽略），否则插入或替换。
// 任一变更数量为负时整体拒绝，原切片保持不变。
func ApplyChanges(side model.Side, levels, changes []model.Level) ([]model.Level, error) {
	for i, c := range changes {
		if c.Size.IsNegative() {
			return nil, fmt.Errorf("%w: 第 %d 条变更数量为负: %s", ErrInvalidLevel, i, c.Size)
		}
	}

	// 写时复制：读者持有的旧切片不受影响
	out := make([]model.Level, len(levels), len(levels)+len(changes))
	copy(out, levels)

	for _, c := range changes {
		idx := search(side, out, c.Price)
		found := idx < len(out) && out[idx].Price.Equal(c.Price)
		switch {
		case c.Size.IsZero() && found:
			out = append(out[:idx], out[idx+1:]...)
		case c.Size.IsZero():
			// 删除不存在的档位是幂等的空操作
		case found:
			out[idx] = c
		default:
			out = append(out, model.Level{})
			copy(out[idx+1:], out[idx:])
			out[idx] = c
		}
	}
	return out, nil
}

// search 返回 price 在有序档位中的插入位置
func search(side model.Side, levels []model.Level, price decimal.Decimal) int {
	return sort.Search(len(levels), func(i int) bool {
		return !Better(side, levels[i].Price, price)
	})
}

// CheckInvariant 校验单边档位不变量：严格有序、价格不重复、数量为正
func CheckInvariant(side model.Side, levels []model.Level) error {
	for i, l := range levels {
		if !l.Size.IsPositive() {
			return fmt.Errorf("%s 第 %d 档数量非正: %s", side, i, l.Size)
		}
		if i > 0 && !Better(side, levels[i-1].Price, l.Price) {
			return fmt.Errorf("%s 第 %d 档价格 %s 未严格排在 %s 之后", side, i, l.Price, levels[i-1].Price)
		}
	}
	return nil
}
