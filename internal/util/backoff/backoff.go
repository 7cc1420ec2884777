// Package backoff 指数退避，用于行情 WebSocket 重连和深度快照重拉。
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// maxShift 防止 base<<attempt 溢出
const maxShift = 30

// Backoff 指数退避计算器（非并发安全，每条连接各持有一个）
type Backoff struct {
	// base 首次等待时间
	base time.Duration
	// max 等待时间上限（抖动前）
	max time.Duration
	// jitter 抖动比例，0.2 表示 ±20%
	jitter float64
	// attempt 连续失败次数
	attempt int
}

// New 创建退避计算器
// base 或 max 非正时回退到默认值（1s / 30s）
func New(base, max time.Duration, jitter float64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = 30 * time.Second
		if max < base {
			max = base
		}
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault 1s 起步，30s 封顶，±20% 抖动
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0.2)
}

// Next 返回下一次等待时间：min(base*2^attempt, max) 再叠加抖动
func (b *Backoff) Next() time.Duration {
	shift := b.attempt
	if shift > maxShift {
		shift = maxShift
	}
	delay := b.base << uint(shift)
	if delay > b.max || delay <= 0 {
		delay = b.max
	}
	if b.jitter > 0 {
		delay = time.Duration(float64(delay) * (1 + (rand.Float64()*2-1)*b.jitter))
	}
	b.attempt++
	return delay
}

// Wait 睡眠 Next() 时长，ctx 取消时提前返回 ctx.Err()
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reset 连接成功后清零
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 当前连续失败次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
