package store

import (
	"errors"
	"fmt"

	"market-depth-engine/internal/core/depth"
	"market-depth-engine/internal/core/model"
)

var (
	// ErrInvalidLevel 档位价格或数量不合法（非数字、NaN/Inf、负价格）
	ErrInvalidLevel = depth.ErrInvalidLevel
	// ErrNoBaseSnapshot 尚未收到快照就收到增量
	ErrNoBaseSnapshot = errors.New("缺少基础快照")
	// ErrSequenceGap 增量更新 ID 不连续，订单簿已标记为 stale
	ErrSequenceGap = errors.New("更新序列不连续")
	// ErrOutdatedUpdate 增量已被当前订单簿覆盖，未做任何修改
	ErrOutdatedUpdate = errors.New("过期的增量更新")
	// ErrEmptyBook 容量查询时该方向没有档位
	ErrEmptyBook = errors.New("订单簿为空")
)

// GapError 序列缺口详情
// 非致命：增量仍已应用，调用方应重新拉取快照。
type GapError struct {
	// Key 订单簿标识
	Key model.BookKey
	// ExpectedFirstID 期望的首个更新 ID（LastUpdateID+1）
	ExpectedFirstID int64
	// FirstID 实际收到的首个更新 ID
	FirstID int64
	// FinalID 实际收到的最后更新 ID
	FinalID int64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("%s: %s 期望首个 ID %d，收到 [%d, %d]",
		ErrSequenceGap.Error(), e.Key, e.ExpectedFirstID, e.FirstID, e.FinalID)
}

// Unwrap 使 errors.Is(err, ErrSequenceGap) 成立
func (e *GapError) Unwrap() error {
	return ErrSequenceGap
}
