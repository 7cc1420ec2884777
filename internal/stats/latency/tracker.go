// Package latency 统计行情时延。
// 每个市场维护两个滚动窗口：
//   - feed lag：本地到达时间 - 交易所事件时间（含网络与时钟偏差）
//   - apply：写入订单簿完成时间 - 本地到达时间（本进程排队与处理耗时）
package latency

import (
	"sort"
	"sync"

	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/util/timeutil"
)

// Stats 单个市场的时延统计快照（毫秒）
type Stats struct {
	// Market 市场
	Market string `json:"market"`
	// Count 累计样本数（不受窗口大小限制）
	Count int64 `json:"count"`

	// FeedLagP50Ms 交易所事件到本地到达的 P50
	FeedLagP50Ms float64 `json:"feed_lag_p50_ms"`
	// FeedLagP90Ms 交易所事件到本地到达的 P90
	FeedLagP90Ms float64 `json:"feed_lag_p90_ms"`
	// FeedLagP99Ms 交易所事件到本地到达的 P99
	FeedLagP99Ms float64 `json:"feed_lag_p99_ms"`

	// ApplyP50Ms 本地到达到写入订单簿的 P50
	ApplyP50Ms float64 `json:"apply_p50_ms"`
	// ApplyP90Ms 本地到达到写入订单簿的 P90
	ApplyP90Ms float64 `json:"apply_p90_ms"`
	// ApplyP99Ms 本地到达到写入订单簿的 P99
	ApplyP99Ms float64 `json:"apply_p99_ms"`
}

// rollingWindow 固定容量环形缓冲
type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool

	mu sync.Mutex
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	if w.size <= 0 {
		return
	}

	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos = (w.pos + 1) % w.size
}

// quantiles 返回样本总数和窗口内的分位数（最近秩）
func (w *rollingWindow) quantiles(qs ...float64) (int64, []int64) {
	w.mu.Lock()
	count := w.count
	tmp := append([]int64(nil), w.buf...)
	w.mu.Unlock()

	values := make([]int64, len(qs))
	if len(tmp) == 0 {
		return count, values
	}
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	n := len(tmp)
	for i, q := range qs {
		switch {
		case q <= 0:
			values[i] = tmp[0]
		case q >= 1:
			values[i] = tmp[n-1]
		default:
			values[i] = tmp[int(float64(n-1)*q)]
		}
	}
	return count, values
}

type marketWindows struct {
	feed  *rollingWindow
	apply *rollingWindow
}

// Tracker 按市场统计时延
type Tracker struct {
	windowSize int

	mu      sync.RWMutex
	markets map[string]*marketWindows
}

// NewTracker 创建时延追踪器
// 参数 windowSize: 每个窗口保留的样本数
func NewTracker(windowSize int) *Tracker {
	return &Tracker{windowSize: windowSize, markets: make(map[string]*marketWindows)}
}

func (t *Tracker) windows(market string) *marketWindows {
	t.mu.RLock()
	w, ok := t.markets[market]
	t.mu.RUnlock()
	if ok {
		return w
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok = t.markets[market]; ok {
		return w
	}
	w = &marketWindows{feed: newRollingWindow(t.windowSize), apply: newRollingWindow(t.windowSize)}
	t.markets[market] = w
	return w
}

// ObserveDiff 记录一条已写入订单簿的增量
// 参数 appliedAtNs: 写入完成时间（纳秒）
// 交易所时间或到达时间缺失时对应的窗口不记录
func (t *Tracker) ObserveDiff(ev *model.DiffEvent, appliedAtNs int64) {
	if ev == nil || ev.Market == "" || ev.ArrivedAtUnixNs <= 0 {
		return
	}
	w := t.windows(ev.Market)
	if ev.ExchTsUnixMs > 0 {
		w.feed.add(ev.ArrivedAtUnixNs - timeutil.MsToNano(ev.ExchTsUnixMs))
	}
	if appliedAtNs > 0 {
		w.apply.add(appliedAtNs - ev.ArrivedAtUnixNs)
	}
}

// Stats 获取指定市场的统计快照，未知市场返回零值
func (t *Tracker) Stats(market string) Stats {
	t.mu.RLock()
	w, ok := t.markets[market]
	t.mu.RUnlock()
	if !ok {
		return Stats{Market: market}
	}

	count, feed := w.feed.quantiles(0.50, 0.90, 0.99)
	applyCount, apply := w.apply.quantiles(0.50, 0.90, 0.99)
	if applyCount > count {
		count = applyCount
	}

	return Stats{
		Market:       market,
		Count:        count,
		FeedLagP50Ms: nsToMs(feed[0]),
		FeedLagP90Ms: nsToMs(feed[1]),
		FeedLagP99Ms: nsToMs(feed[2]),
		ApplyP50Ms:   nsToMs(apply[0]),
		ApplyP90Ms:   nsToMs(apply[1]),
		ApplyP99Ms:   nsToMs(apply[2]),
	}
}

// Markets 已有样本的市场（已排序）
func (t *Tracker) Markets() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.markets))
	for m := range t.markets {
		out = append(out, m)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

func nsToMs(ns int64) float64 {
	return float64(ns) / 1_000_000.0
}
