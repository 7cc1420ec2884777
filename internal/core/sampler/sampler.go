// Package sampler 周期性记录订单簿的容量价格。
// 每个订单簿每次采样读取一份一致性拷贝，计算买一/卖一和各容量下的成交价格，
// 保留最近的采样历史，并写入输出端。
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"market-depth-engine/internal/config"
	"market-depth-engine/internal/core/depth"
	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/core/store"
	"market-depth-engine/internal/util/timeutil"
)

// DefaultHistorySize 每个订单簿保留的采样条数
const DefaultHistorySize = 3600

// Sink 采样输出端
type Sink interface {
	// WriteSamples 写入一轮采样（按订单簿 key 排序）
	WriteSamples(ctx context.Context, samples []model.DepthSample) error
}

// Sampler 订单簿采样器
type Sampler struct {
	store      *store.Store
	capacities []decimal.Decimal
	labels     []string
	clip       decimal.Decimal
	interval   time.Duration
	sinks      []Sink
	logger     *zap.Logger

	historySize int
	mu          sync.RWMutex
	history     map[model.BookKey][]model.DepthSample

	// now 时间源，测试可替换
	now func() int64
}

// New 创建采样器
// 参数 historySize: 每个订单簿保留的采样条数，<= 0 时使用默认值
func New(st *store.Store, cfg config.DepthConfig, sinks []Sink, historySize int, logger *zap.Logger) *Sampler {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	s := &Sampler{
		store:       st,
		clip:        decimal.NewFromFloat(cfg.ClipSize),
		interval:    time.Duration(cfg.SampleIntervalMs) * time.Millisecond,
		sinks:       sinks,
		logger:      logger.Named("sampler"),
		historySize: historySize,
		history:     make(map[model.BookKey][]model.DepthSample),
		now:         timeutil.NowNano,
	}
	for _, c := range cfg.Capacities {
		d := decimal.NewFromFloat(c)
		s.capacities = append(s.capacities, d)
		s.labels = append(s.labels, d.String())
	}
	return s
}

// Run 按采样间隔运行直到 ctx 取消
func (s *Sampler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("采样间隔必须 > 0: %s", s.interval)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}

// SampleOnce 对所有订单簿采样一次并写入输出端
func (s *Sampler) SampleOnce(ctx context.Context) []model.DepthSample {
	ts := s.now()
	keys := s.store.Keys()
	samples := make([]model.DepthSample, 0, len(keys))
	for _, k := range keys {
		book, ok := s.store.Book(k.Market, k.Pair)
		if !ok {
			continue
		}
		samples = append(samples, s.Sample(book, ts))
	}

	s.mu.Lock()
	for _, smp := range samples {
		k := model.BookKey{Market: smp.Market, Pair: smp.Pair}
		h := append(s.history[k], smp)
		if len(h) > s.historySize {
			h = h[len(h)-s.historySize:]
		}
		s.history[k] = h
	}
	s.mu.Unlock()

	for _, sink := range s.sinks {
		if err := sink.WriteSamples(ctx, samples); err != nil {
			s.logger.Warn("写入采样失败", zap.Error(err))
		}
	}
	return samples
}

// Sample 计算单个订单簿的采样记录
// 空的一侧不记录容量价格
func (s *Sampler) Sample(book *model.OrderBook, ts int64) model.DepthSample {
	smp := model.DepthSample{
		Market:       book.Key.Market,
		Pair:         book.Key.Pair,
		TsUnixNs:     ts,
		Stale:        book.Stale,
		Crossed:      book.IsCrossed(),
		LastUpdateID: book.LastUpdateID,
	}
	if px, ok := book.BestBid(); ok {
		smp.BestBid = &px
	}
	if px, ok := book.BestAsk(); ok {
		smp.BestAsk = &px
	}
	smp.BidAtCapacity = s.atCapacity(book.Bids)
	smp.AskAtCapacity = s.atCapacity(book.Asks)

	if s.clip.IsPositive() {
		smp.Bids = depth.Clip(book.Bids, s.clip)
		smp.Asks = depth.Clip(book.Asks, s.clip)
	}
	return smp
}

func (s *Sampler) atCapacity(levels []model.Level) map[string]decimal.Decimal {
	if len(s.capacities) == 0 || len(levels) == 0 {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(s.capacities))
	for i, c := range s.capacities {
		px, err := depth.PriceForCapacity(levels, c)
		if errors.Is(err, depth.ErrEmptySide) {
			return nil
		}
		out[s.labels[i]] = px
	}
	return out
}

// History 获取订单簿的采样历史（从旧到新）
func (s *Sampler) History(market, pair string) []model.DepthSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.DepthSample(nil), s.history[model.BookKey{Market: market, Pair: pair}]...)
}
