// Package ingest 把交易所增量流写入订单簿存储。
// 每个行情源一个消费协程，按 Binance 本地订单簿流程维护每个交易对：
//  1. 缓冲增量，同时通过 REST 拉取快照；
//  2. 应用快照，丢弃 u <= lastUpdateId 的缓冲增量，按序重放其余增量；
//  3. 之后的增量直接写入；出现序列缺口或缺少快照时回到第 1 步。
//
// 交易对状态只在 Run 协程内访问，不需要加锁。
package ingest

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/core/store"
	"market-depth-engine/internal/stats/latency"
	"market-depth-engine/internal/stats/metrics"
	"market-depth-engine/internal/util/backoff"
	"market-depth-engine/internal/util/timeutil"
)

// 默认参数
const (
	// DefaultSnapshotLimit 快照档位数
	DefaultSnapshotLimit = 1000
	// DefaultPendingLimit 单个交易对同步期间最多缓冲的增量数
	DefaultPendingLimit = 10000
)

// SnapshotFetcher 快照获取接口（Binance REST 实现）
type SnapshotFetcher interface {
	FetchDepthSnapshot(ctx context.Context, symbol string, limit int) (*model.SnapshotEvent, error)
}

// Options 消费者参数
type Options struct {
	// Market 市场名称
	Market string
	// Pairs 启动时即拉取快照的交易对
	Pairs []string
	// SnapshotLimit 快照档位数
	SnapshotLimit int
	// PendingLimit 同步期间每个交易对的缓冲上限，超出时丢弃最旧的增量
	PendingLimit int
	// Metrics prometheus 指标（可选）
	Metrics *metrics.Metrics
	// Tracker 时延追踪器（可选）
	Tracker *latency.Tracker
	// NewBackoff 快照拉取失败时的退避策略（可选，默认 backoff.NewDefault）
	NewBackoff func() *backoff.Backoff
}

// pairState 单个交易对的同步状态
type pairState struct {
	// syncing 等待快照中，增量进入缓冲
	syncing bool
	// requested 已有快照拉取协程在运行
	requested bool
	// pending 同步期间缓冲的增量（到达顺序）
	pending []*model.DiffEvent
}

// snapshotResult 快照拉取结果
type snapshotResult struct {
	pair string
	ev   *model.SnapshotEvent
}

// Ingestor 单个行情源的订单簿消费者
type Ingestor struct {
	opts    Options
	store   *store.Store
	fetcher SnapshotFetcher
	logger  *zap.Logger

	// pairs 交易对状态，仅 Run 协程访问
	pairs map[string]*pairState
	// snapCh 快照拉取协程把结果交回 Run 协程
	snapCh chan snapshotResult
	// wg 快照拉取协程
	wg sync.WaitGroup
}

// New 创建消费者
func New(st *store.Store, fetcher SnapshotFetcher, opts Options, logger *zap.Logger) *Ingestor {
	if opts.SnapshotLimit <= 0 {
		opts.SnapshotLimit = DefaultSnapshotLimit
	}
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = DefaultPendingLimit
	}
	if opts.NewBackoff == nil {
		opts.NewBackoff = backoff.NewDefault
	}
	return &Ingestor{
		opts:    opts,
		store:   st,
		fetcher: fetcher,
		logger:  logger.Named("ingest").With(zap.String("market", opts.Market)),
		pairs:   make(map[string]*pairState),
		snapCh:  make(chan snapshotResult),
	}
}

// Run 消费增量直到 ctx 取消或 diffs 关闭
// 返回前等待所有快照拉取协程退出。
func (in *Ingestor) Run(ctx context.Context, diffs <-chan *model.DiffEvent) error {
	ctx, cancel := context.WithCancel(ctx)
	defer in.wg.Wait()
	defer cancel()

	for _, pair := range in.opts.Pairs {
		st := in.state(pair)
		in.requestSnapshot(ctx, pair, st)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-diffs:
			if !ok {
				in.logger.Info("增量通道已关闭，消费者退出")
				return nil
			}
			in.handleDiff(ctx, ev)
		case res := <-in.snapCh:
			in.handleSnapshot(ctx, res)
		}
	}
}

func (in *Ingestor) state(pair string) *pairState {
	st, ok := in.pairs[pair]
	if !ok {
		st = &pairState{syncing: true}
		in.pairs[pair] = st
	}
	return st
}

func (in *Ingestor) handleDiff(ctx context.Context, ev *model.DiffEvent) {
	if ev == nil || ev.Pair == "" {
		return
	}
	st := in.state(ev.Pair)
	if st.syncing {
		in.buffer(st, ev)
		in.requestSnapshot(ctx, ev.Pair, st)
		return
	}
	in.apply(ctx, st, ev)
}

// apply 写入单条增量并处理存储返回的错误
func (in *Ingestor) apply(ctx context.Context, st *pairState, ev *model.DiffEvent) {
	err := in.store.ApplyDiff(ev)

	var gapErr *store.GapError
	switch {
	case err == nil:
		in.observeApplied(ev)
	case errors.As(err, &gapErr):
		// 增量已应用，但订单簿已 stale，需要重新同步
		in.observeApplied(ev)
		in.count(func(m *metrics.Metrics) { m.SequenceGaps.WithLabelValues(in.opts.Market).Inc() })
		in.logger.Warn("序列缺口，重新拉取快照",
			zap.String("pair", ev.Pair),
			zap.Int64("expected_first_id", gapErr.ExpectedFirstID),
			zap.Int64("first_id", gapErr.FirstID),
			zap.Int64("final_id", gapErr.FinalID))
		in.resync(ctx, ev.Pair, st)
	case errors.Is(err, store.ErrOutdatedUpdate):
		in.count(func(m *metrics.Metrics) { m.OutdatedDropped.WithLabelValues(in.opts.Market).Inc() })
	case errors.Is(err, store.ErrNoBaseSnapshot):
		in.count(func(m *metrics.Metrics) {
			m.InvalidEvents.WithLabelValues(in.opts.Market, metrics.ReasonNoSnapshot).Inc()
		})
		in.resync(ctx, ev.Pair, st)
		in.buffer(st, ev)
	case errors.Is(err, store.ErrInvalidLevel):
		in.count(func(m *metrics.Metrics) {
			m.InvalidEvents.WithLabelValues(in.opts.Market, metrics.ReasonInvalidLevel).Inc()
		})
		in.logger.Warn("增量档位不合法，已丢弃", zap.String("pair", ev.Pair), zap.Error(err))
	default:
		in.logger.Error("应用增量失败", zap.String("pair", ev.Pair), zap.Error(err))
	}
}

// resync 进入同步状态并请求新快照，已缓冲的增量作废
func (in *Ingestor) resync(ctx context.Context, pair string, st *pairState) {
	st.syncing = true
	st.pending = nil
	in.count(func(m *metrics.Metrics) { m.Resyncs.WithLabelValues(in.opts.Market).Inc() })
	in.requestSnapshot(ctx, pair, st)
}

func (in *Ingestor) buffer(st *pairState, ev *model.DiffEvent) {
	if len(st.pending) >= in.opts.PendingLimit {
		// 丢弃最旧的增量；重放时若因此出现缺口会再次同步
		st.pending = st.pending[1:]
		in.count(func(m *metrics.Metrics) {
			m.InvalidEvents.WithLabelValues(in.opts.Market, metrics.ReasonBufferOverflow).Inc()
		})
	}
	st.pending = append(st.pending, ev)
}

// requestSnapshot 启动快照拉取协程（每个交易对同时最多一个）
func (in *Ingestor) requestSnapshot(ctx context.Context, pair string, st *pairState) {
	if st.requested {
		return
	}
	st.requested = true

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		in.fetchSnapshot(ctx, pair)
	}()
}

// fetchSnapshot 带退避地拉取快照，成功后交回 Run 协程
func (in *Ingestor) fetchSnapshot(ctx context.Context, pair string) {
	bo := in.opts.NewBackoff()
	for {
		snap, err := in.fetcher.FetchDepthSnapshot(ctx, pair, in.opts.SnapshotLimit)
		if err == nil {
			select {
			case in.snapCh <- snapshotResult{pair: pair, ev: snap}:
			case <-ctx.Done():
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		in.logger.Warn("拉取快照失败，稍后重试",
			zap.String("pair", pair),
			zap.Int("attempt", bo.Attempt()+1),
			zap.Error(err))
		if err := bo.Wait(ctx); err != nil {
			return
		}
	}
}

// handleSnapshot 应用快照并重放缓冲的增量
func (in *Ingestor) handleSnapshot(ctx context.Context, res snapshotResult) {
	st := in.state(res.pair)
	st.requested = false

	if err := in.store.ApplySnapshot(res.ev); err != nil {
		// 保持同步状态，下一条增量到达时会再次请求快照
		in.count(func(m *metrics.Metrics) {
			m.InvalidEvents.WithLabelValues(in.opts.Market, metrics.ReasonInvalidLevel).Inc()
		})
		in.logger.Error("应用快照失败", zap.String("pair", res.pair), zap.Error(err))
		return
	}
	in.count(func(m *metrics.Metrics) { m.SnapshotsApplied.WithLabelValues(in.opts.Market).Inc() })

	pending := st.pending
	st.pending = nil
	st.syncing = false

	lastID := res.ev.LastUpdateID
	replayed, dropped := 0, 0
	for i, ev := range pending {
		if st.syncing {
			// 重放中再次出现缺口，剩余增量留给下一次快照
			for _, rest := range pending[i:] {
				in.buffer(st, rest)
			}
			break
		}
		if ev.HasSequence() && ev.FinalUpdateID <= lastID {
			dropped++
			continue
		}
		in.apply(ctx, st, ev)
		replayed++
	}

	in.logger.Info("快照已应用",
		zap.String("pair", res.pair),
		zap.Int64("last_update_id", lastID),
		zap.Int("replayed", replayed),
		zap.Int("dropped", dropped))
}

func (in *Ingestor) observeApplied(ev *model.DiffEvent) {
	in.count(func(m *metrics.Metrics) { m.DiffsApplied.WithLabelValues(in.opts.Market).Inc() })
	if in.opts.Tracker != nil {
		in.opts.Tracker.ObserveDiff(ev, timeutil.NowNano())
	}
}

func (in *Ingestor) count(fn func(m *metrics.Metrics)) {
	if in.opts.Metrics != nil {
		fn(in.opts.Metrics)
	}
}
