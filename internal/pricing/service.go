// Package pricing 周期性计算全部资产的 USD 价格。
// 每一轮并发拉取各市场的交易对（带缓存）和最新价，交给价格图解析器，
// 再把结果推送到各个输出端（JSONL、Redis）。
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"market-depth-engine/internal/config"
	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/core/pricegraph"
	"market-depth-engine/internal/metadata"
	"market-depth-engine/internal/stats/metrics"
	"market-depth-engine/internal/util/timeutil"
)

// ErrNoMarketData 本轮所有市场都拉取失败
var ErrNoMarketData = errors.New("没有可用的市场数据")

// Source 价格源（交易所 REST 客户端）
type Source interface {
	metadata.PairLister
	// FetchPrices 获取最新价，key 为 model.PairKey(base, quote)
	FetchPrices(ctx context.Context) (map[string]string, error)
}

// Sink 价格输出端
type Sink interface {
	// WritePrices 写入一轮定价结果（按资产排序）
	WritePrices(ctx context.Context, ticks []model.PriceTick) error
}

// Service 定价任务
type Service struct {
	cfg      config.PricingConfig
	sources  []Source
	caches   []*metadata.PairCache
	resolver *pricegraph.Resolver
	sinks    []Sink
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.RWMutex
	latest []model.PriceTick

	// now 时间源，测试可替换
	now func() int64
}

// NewService 创建定价任务
// 参数 usd: USD 等价币列表
// 参数 m: 指标（可选）
func NewService(cfg config.PricingConfig, usd []string, sources []Source, sinks []Sink, m *metrics.Metrics, logger *zap.Logger) *Service {
	refresh := time.Duration(cfg.PairsRefreshMs) * time.Millisecond
	caches := make([]*metadata.PairCache, len(sources))
	for i, src := range sources {
		caches[i] = metadata.NewPairCache(src, refresh)
	}
	return &Service{
		cfg:      cfg,
		sources:  sources,
		caches:   caches,
		resolver: pricegraph.NewResolver(usd, cfg.DivPrecision),
		sinks:    sinks,
		metrics:  m,
		logger:   logger.Named("pricing"),
		now:      timeutil.NowNano,
	}
}

// Run 立即执行一轮，之后按 IntervalMs 周期执行，直到 ctx 取消
// 单轮失败只记录日志，不会终止任务。
func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		return fmt.Errorf("定价间隔必须 > 0: %d", s.cfg.IntervalMs)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("本轮定价失败", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce 执行一轮定价
// 单个市场失败时跳过该市场继续计算；全部失败时返回 ErrNoMarketData。
func (s *Service) RunOnce(ctx context.Context) (*pricegraph.Result, error) {
	start := time.Now()

	markets := make([]*pricegraph.MarketPrices, len(s.sources))
	var g errgroup.Group
	for i := range s.sources {
		i := i
		g.Go(func() error {
			mp, err := s.fetchMarket(ctx, i)
			if err != nil {
				s.logger.Warn("拉取市场数据失败", zap.String("market", s.sources[i].Market()), zap.Error(err))
				if s.metrics != nil {
					s.metrics.SourceErrors.WithLabelValues(s.sources[i].Market()).Inc()
				}
				return nil
			}
			markets[i] = mp
			return nil
		})
	}
	_ = g.Wait()

	// 保持配置顺序，解析结果才是确定的
	input := make([]pricegraph.MarketPrices, 0, len(markets))
	for _, mp := range markets {
		if mp != nil {
			input = append(input, *mp)
		}
	}
	if len(input) == 0 {
		return nil, ErrNoMarketData
	}

	res := s.resolver.Resolve(input)
	ticks := s.toTicks(res)

	s.mu.Lock()
	s.latest = ticks
	s.mu.Unlock()

	for _, sk := range res.Skipped {
		s.logger.Debug("跳过无效价格",
			zap.String("market", sk.Edge.Market),
			zap.String("pair", sk.Edge.Key()),
			zap.String("raw", sk.Raw),
			zap.Error(sk.Err))
	}
	if len(res.Unresolved) > 0 {
		s.logger.Debug("无法定价的资产", zap.Strings("assets", res.Unresolved))
	}

	for _, sink := range s.sinks {
		if err := sink.WritePrices(ctx, ticks); err != nil {
			s.logger.Warn("写入价格失败", zap.Error(err))
		}
	}

	took := time.Since(start)
	if s.metrics != nil {
		s.metrics.ObservePricing(len(res.Prices), len(res.Unresolved), len(res.Skipped), took)
	}
	s.logger.Info("定价完成",
		zap.Int("markets", len(input)),
		zap.Int("priced", len(res.Prices)),
		zap.Int("unresolved", len(res.Unresolved)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("passes", res.Passes),
		zap.Duration("took", took))

	return res, nil
}

// fetchMarket 拉取单个市场的交易对和最新价
// 交易对刷新失败但有旧缓存时继续使用旧缓存
func (s *Service) fetchMarket(ctx context.Context, i int) (*pricegraph.MarketPrices, error) {
	src := s.sources[i]

	g, gctx := errgroup.WithContext(ctx)
	var pairs []model.PairEdge
	var prices map[string]string
	g.Go(func() error {
		p, err := s.caches[i].Pairs(gctx)
		if err != nil {
			if len(p) == 0 {
				return fmt.Errorf("获取交易对失败: %w", err)
			}
			s.logger.Warn("刷新交易对失败，使用缓存", zap.String("market", src.Market()), zap.Error(err))
		}
		pairs = p
		return nil
	})
	g.Go(func() error {
		p, err := src.FetchPrices(gctx)
		if err != nil {
			return fmt.Errorf("获取最新价失败: %w", err)
		}
		prices = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 交易对列表与最新价完全对不上，说明缓存已过时，下一轮强制刷新
	if len(pairs) > 0 && len(prices) > 0 && !anyPriced(pairs, prices) {
		s.logger.Warn("缓存的交易对没有任何最新价，下一轮重新拉取交易对",
			zap.String("market", src.Market()),
			zap.Int("pairs", len(pairs)),
			zap.Int("prices", len(prices)))
		s.caches[i].Invalidate()
	}

	return &pricegraph.MarketPrices{Market: src.Market(), Pairs: pairs, Prices: prices}, nil
}

func anyPriced(pairs []model.PairEdge, prices map[string]string) bool {
	for _, p := range pairs {
		if _, ok := prices[p.Key()]; ok {
			return true
		}
	}
	return false
}

func (s *Service) toTicks(res *pricegraph.Result) []model.PriceTick {
	assets := make([]string, 0, len(res.Prices))
	for a := range res.Prices {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	ts := s.now()
	ticks := make([]model.PriceTick, len(assets))
	for i, a := range assets {
		ticks[i] = model.PriceTick{Asset: a, PriceUSD: res.Prices[a], Via: res.Sources[a], TsUnixNs: ts}
	}
	return ticks
}

// Latest 最近一轮的定价结果（按资产排序）
func (s *Service) Latest() []model.PriceTick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.PriceTick(nil), s.latest...)
}
