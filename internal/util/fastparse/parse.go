// Package fastparse 提供交易所字符串字段的解析函数。
// 价格和数量统一解析为 decimal.Decimal，避免浮点误差在多跳换算中累积。
package fastparse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// 数值范围
const (
	// MaxExponent 十进制指数绝对值上限
	MaxExponent = 64
	// MaxDigits 有效数字位数上限
	MaxDigits = 64
)

var (
	// ErrNotFinite 输入为 NaN 或 Infinity
	ErrNotFinite = errors.New("非有限数值")
	// ErrOutOfRange 指数或有效位数超出范围
	ErrOutOfRange = errors.New("数值超出范围")
)

// ParseDecimal 解析十进制数字字符串
// 拒绝空串、NaN、Inf、任何非数字内容，以及指数或位数超出范围的值
// （如 "1e900000000"，比较时会展开成上亿位的大整数）
// 参数 s: 待解析的字符串，如 "0.03423700"
func ParseDecimal(s string) (decimal.Decimal, error) {
	if isNonFinite(s) {
		return decimal.Zero, fmt.Errorf("%q: %w", s, ErrNotFinite)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("解析数值 %q 失败: %w", s, err)
	}
	if exp := d.Exponent(); exp > MaxExponent || exp < -MaxExponent {
		return decimal.Zero, fmt.Errorf("%q 指数 %d: %w", truncate(s), exp, ErrOutOfRange)
	}
	if n := NumDigits(d); n > MaxDigits {
		return decimal.Zero, fmt.Errorf("%q 有效位数 %d: %w", truncate(s), n, ErrOutOfRange)
	}
	return d, nil
}

// NumDigits 系数的十进制位数（不含符号），0 的位数为 1
func NumDigits(d decimal.Decimal) int {
	c := d.Coefficient()
	return len(c.Abs(c).String())
}

func isNonFinite(s string) bool {
	t := strings.TrimLeft(strings.ToLower(strings.TrimSpace(s)), "+-")
	return t == "nan" || t == "inf" || t == "infinity"
}

// truncate 错误信息里只保留输入的前 32 个字符
func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
