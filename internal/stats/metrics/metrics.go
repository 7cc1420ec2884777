// Package metrics 使用 prometheus 暴露引擎运行指标。
// 每个 Metrics 持有独立的 Registry，避免与全局默认注册表冲突（测试中可创建多个实例）。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"market-depth-engine/internal/core/store"
	"market-depth-engine/internal/stats/latency"
)

const namespace = "mde"

// 标签名
const (
	labelMarket = "market"
	labelReason = "reason"
)

// 无效事件原因
const (
	// ReasonInvalidLevel 档位不合法
	ReasonInvalidLevel = "invalid_level"
	// ReasonNoSnapshot 缺少基础快照
	ReasonNoSnapshot = "no_snapshot"
	// ReasonBufferOverflow 同步期间缓冲溢出
	ReasonBufferOverflow = "buffer_overflow"
)

// Metrics 引擎指标集合
type Metrics struct {
	registry *prometheus.Registry

	// DiffsApplied 已应用增量数
	DiffsApplied *prometheus.CounterVec
	// SnapshotsApplied 已应用快照数
	SnapshotsApplied *prometheus.CounterVec
	// SequenceGaps 序列缺口数
	SequenceGaps *prometheus.CounterVec
	// OutdatedDropped 丢弃的过期增量数
	OutdatedDropped *prometheus.CounterVec
	// InvalidEvents 无效事件数（按原因）
	InvalidEvents *prometheus.CounterVec
	// Resyncs 重新拉取快照次数
	Resyncs *prometheus.CounterVec
	// WSReconnects WebSocket 重连次数
	WSReconnects *prometheus.GaugeVec
	// WSParseErrors WebSocket 解析错误数
	WSParseErrors *prometheus.GaugeVec

	// Books 订单簿数量
	Books prometheus.Gauge
	// StaleBooks stale 订单簿数量
	StaleBooks prometheus.Gauge
	// CrossedBooks 交叉盘数量
	CrossedBooks prometheus.Gauge
	// FeedLagP99 交易所到本地的 P99 时延（毫秒）
	FeedLagP99 *prometheus.GaugeVec

	// PricedAssets 已定价资产数
	PricedAssets prometheus.Gauge
	// UnresolvedAssets 未能定价的资产数
	UnresolvedAssets prometheus.Gauge
	// SkippedEdges 因价格无效被跳过的边数
	SkippedEdges prometheus.Gauge
	// SourceErrors 价格源拉取失败次数
	SourceErrors *prometheus.CounterVec
	// PricingDuration 单轮定价耗时
	PricingDuration prometheus.Histogram
}

// New 创建并注册全部指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		DiffsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "book", Name: "diffs_applied_total",
			Help: "Number of depth diffs applied to the order book store",
		}, []string{labelMarket}),
		SnapshotsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "book", Name: "snapshots_applied_total",
			Help: "Number of depth snapshots applied to the order book store",
		}, []string{labelMarket}),
		SequenceGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "book", Name: "sequence_gaps_total",
			Help: "Number of diffs whose first update id skipped ahead of the book",
		}, []string{labelMarket}),
		OutdatedDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "book", Name: "outdated_dropped_total",
			Help: "Number of diffs already covered by the book",
		}, []string{labelMarket}),
		InvalidEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "book", Name: "invalid_events_total",
			Help: "Number of rejected depth events by reason",
		}, []string{labelMarket, labelReason}),
		Resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "book", Name: "resyncs_total",
			Help: "Number of snapshot resyncs requested",
		}, []string{labelMarket}),
		WSReconnects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "reconnects",
			Help: "WebSocket reconnect count reported by the feed client",
		}, []string{labelMarket}),
		WSParseErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "parse_errors",
			Help: "WebSocket parse error count reported by the feed client",
		}, []string{labelMarket}),

		Books: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "book", Name: "books",
			Help: "Number of order books held in the store",
		}),
		StaleBooks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "book", Name: "stale_books",
			Help: "Number of order books waiting for a fresh snapshot",
		}),
		CrossedBooks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "book", Name: "crossed_books",
			Help: "Number of order books whose best bid is at or above the best ask",
		}),
		FeedLagP99: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "feed", Name: "lag_p99_ms",
			Help: "P99 of local arrival time minus exchange event time",
		}, []string{labelMarket}),

		PricedAssets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pricing", Name: "priced_assets",
			Help: "Number of assets with a USD price in the last round",
		}),
		UnresolvedAssets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pricing", Name: "unresolved_assets",
			Help: "Number of assets not reachable from a USD-equivalent in the last round",
		}),
		SkippedEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pricing", Name: "skipped_edges",
			Help: "Number of pair edges skipped for an invalid price in the last round",
		}),
		SourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pricing", Name: "source_errors_total",
			Help: "Number of failed pair or price fetches per market",
		}, []string{labelMarket}),
		PricingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pricing", Name: "round_seconds",
			Help:    "Duration of one pricing round",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.DiffsApplied, m.SnapshotsApplied, m.SequenceGaps, m.OutdatedDropped,
		m.InvalidEvents, m.Resyncs, m.WSReconnects, m.WSParseErrors,
		m.Books, m.StaleBooks, m.CrossedBooks, m.FeedLagP99,
		m.PricedAssets, m.UnresolvedAssets, m.SkippedEdges, m.SourceErrors, m.PricingDuration,
	)
	return m
}

// Registry 获取注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 获取 /metrics HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStore 用存储统计刷新订单簿相关的 gauge
func (m *Metrics) ObserveStore(st store.Stats) {
	m.Books.Set(float64(st.Books))
	m.StaleBooks.Set(float64(st.StaleBooks))
	m.CrossedBooks.Set(float64(st.CrossedBooks))
}

// ObservePricing 记录一轮定价结果
func (m *Metrics) ObservePricing(priced, unresolved, skipped int, took time.Duration) {
	m.PricedAssets.Set(float64(priced))
	m.UnresolvedAssets.Set(float64(unresolved))
	m.SkippedEdges.Set(float64(skipped))
	m.PricingDuration.Observe(took.Seconds())
}

// ObserveFeed 记录 WebSocket 客户端的连接指标
func (m *Metrics) ObserveFeed(market string, reconnects, parseErrors int64) {
	m.WSReconnects.WithLabelValues(market).Set(float64(reconnects))
	m.WSParseErrors.WithLabelValues(market).Set(float64(parseErrors))
}

// ObserveLatency 把各市场的 feed lag P99 写入 gauge
func (m *Metrics) ObserveLatency(tr *latency.Tracker) {
	for _, market := range tr.Markets() {
		m.FeedLagP99.WithLabelValues(market).Set(tr.Stats(market).FeedLagP99Ms)
	}
}
