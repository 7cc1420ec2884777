// Package main 是行情深度引擎的入口点。
// 引擎订阅 Binance 现货增量深度维护本地订单簿，按固定间隔采样容量价格，
// 并周期性地通过多个交易所的交易对图计算全部资产的 USD 价格。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"market-depth-engine/internal/cache/redis"
	"market-depth-engine/internal/config"
	"market-depth-engine/internal/core/ingest"
	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/core/sampler"
	"market-depth-engine/internal/core/store"
	"market-depth-engine/internal/exchange/binance"
	"market-depth-engine/internal/exchange/coinbase"
	"market-depth-engine/internal/exchange/kraken"
	"market-depth-engine/internal/metadata"
	"market-depth-engine/internal/output/jsonl"
	"market-depth-engine/internal/pricing"
	"market-depth-engine/internal/stats/latency"
	"market-depth-engine/internal/stats/metrics"
	"market-depth-engine/internal/util/timeutil"
)

// metricsSnapshot 周期写入 metrics.jsonl 的运行快照
type metricsSnapshot struct {
	// TsUnixNs 指标采集时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// Store 订单簿存储统计
	Store store.Stats `json:"store"`
	// Binance Binance 深度流连接指标
	Binance *binance.ConnectionMetrics `json:"binance,omitempty"`
	// Latency 各市场时延统计
	Latency []latency.Stats `json:"latency,omitempty"`
	// PricedAssets 最近一轮定价的资产数
	PricedAssets int `json:"priced_assets"`
	// RedisOK Redis 是否可用（未启用缓存时省略）
	RedisOK *bool `json:"redis_ok,omitempty"`
}

// engine 运行期组件
type engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	store   *store.Store
	tracker *latency.Tracker

	rest    *binance.REST
	feed    *binance.Client
	pricing *pricing.Service
	sampler *sampler.Sampler
	cache   *redis.Client

	pricesWriter  *jsonl.Writer
	samplesWriter *jsonl.Writer
	metricsWriter *jsonl.Writer
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel).With(zap.String("app", cfg.App.Name))
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	e, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("初始化失败", zap.Error(err))
		os.Exit(1)
	}

	if err := e.run(ctx); err != nil {
		logger.Error("引擎退出", zap.Error(err))
	}

	e.writeMetricsSnapshot()
	e.shutdown()
}

// build 按配置创建各组件，WebSocket 在这里完成连接与订阅
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	e := &engine{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		store:   store.New(),
		tracker: latency.NewTracker(10000),
	}
	e.metrics.Registry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var err error
	if e.pricesWriter, err = openWriter(cfg.Output.PricesEnabled, cfg.Output, "prices.jsonl"); err != nil {
		return nil, err
	}
	if e.samplesWriter, err = openWriter(cfg.Output.SamplesEnabled, cfg.Output, "depth_samples.jsonl"); err != nil {
		return nil, err
	}
	if e.metricsWriter, err = openWriter(cfg.Output.MetricsEnabled, cfg.Output, "metrics.jsonl"); err != nil {
		return nil, err
	}

	e.rest = binance.NewREST(cfg.Markets.Binance.RestURL, metadata.NewHTTPFetcher(cfg.Markets.Binance.TimeoutMs))

	if cfg.Feeds.Binance.Enabled {
		e.feed = binance.NewClient(&cfg.Feeds.Binance, logger)

		startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
		defer startCancel()
		if err := e.feed.Connect(startCtx); err != nil {
			return nil, fmt.Errorf("Binance 连接失败: %w", err)
		}
		if err := e.feed.Subscribe(); err != nil {
			return nil, fmt.Errorf("Binance 订阅失败: %w", err)
		}

		var sinks []sampler.Sink
		if e.samplesWriter != nil {
			sinks = append(sinks, jsonl.NewSampleSink(e.samplesWriter))
		}
		e.sampler = sampler.New(e.store, cfg.Depth, sinks, 0, logger)
	}

	if cfg.Pricing.Enabled {
		var sources []pricing.Source
		if cfg.Markets.Binance.Enabled {
			sources = append(sources, e.rest)
		}
		if cfg.Markets.Kraken.Enabled {
			sources = append(sources, kraken.NewClient(cfg.Markets.Kraken.RestURL, metadata.NewHTTPFetcher(cfg.Markets.Kraken.TimeoutMs)))
		}
		if cb := cfg.Markets.Coinbase; cb.Enabled {
			sources = append(sources, coinbase.NewClient(cb.RestURL, metadata.NewHTTPFetcher(cb.TimeoutMs), cb.Concurrency))
		}

		var sinks []pricing.Sink
		if e.pricesWriter != nil {
			sinks = append(sinks, jsonl.NewPriceSink(e.pricesWriter))
		}
		if cfg.Redis.Enabled() {
			// Redis 不可用时只记录告警，定价结果仍写入文件
			if e.cache, err = redis.New(ctx, cfg.Redis); err != nil {
				logger.Warn("Redis 不可用，跳过价格缓存", zap.Error(err))
			} else {
				ttl := time.Duration(cfg.Redis.TTLMs) * time.Millisecond
				sinks = append(sinks, redis.NewPriceCache(e.cache, cfg.Redis.KeyPrefix, ttl))
			}
		}

		e.pricing = pricing.NewService(cfg.Pricing, cfg.USDEquivalents, sources, sinks, e.metrics, logger)
	}

	logger.Info("组件初始化完成",
		zap.Bool("feed", e.feed != nil),
		zap.Strings("symbols", cfg.Feeds.Binance.Symbols),
		zap.Bool("pricing", e.pricing != nil),
		zap.Bool("redis", e.cache != nil),
		zap.Bool("metrics_http", cfg.Metrics.Enabled()))

	return e, nil
}

// run 启动所有长期运行的任务，直到 ctx 取消或任一任务异常退出
func (e *engine) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if e.feed != nil {
		g.Go(func() error {
			e.feed.Run(gctx)
			return nil
		})
		// 关闭连接以唤醒阻塞中的 ReadMessage
		g.Go(func() error {
			<-gctx.Done()
			return e.feed.Close()
		})

		ing := ingest.New(e.store, e.rest, ingest.Options{
			Market:        model.MarketBinance,
			Pairs:         e.feed.Symbols(),
			SnapshotLimit: e.cfg.Feeds.Binance.SnapshotLimit,
			PendingLimit:  e.cfg.Feeds.Binance.PendingLimit,
			Metrics:       e.metrics,
			Tracker:       e.tracker,
		}, e.logger)
		g.Go(func() error { return ignoreCanceled(ing.Run(gctx, e.feed.DiffCh())) })
		g.Go(func() error { return ignoreCanceled(e.sampler.Run(gctx)) })
	}

	if e.pricing != nil {
		g.Go(func() error { return ignoreCanceled(e.pricing.Run(gctx)) })
	}

	if e.cfg.Metrics.Enabled() {
		mux := http.NewServeMux()
		mux.Handle(e.cfg.Metrics.Path, e.metrics.Handler())
		if e.sampler != nil {
			mux.Handle("/depth/history", e.sampler.HistoryHandler())
		}
		srv := &http.Server{Addr: e.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			e.logger.Info("指标端点已启动", zap.String("listen", srv.Addr), zap.String("path", e.cfg.Metrics.Path))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("指标端点退出: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		e.observeLoop(gctx)
		return nil
	})

	return g.Wait()
}

// observeLoop 周期刷新 gauge 并写入 metrics.jsonl
func (e *engine) observeLoop(ctx context.Context) {
	intervalMs := e.cfg.Output.MetricsIntervalMs
	if intervalMs <= 0 {
		intervalMs = 10000
	}
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.writeMetricsSnapshot()
		}
	}
}

func (e *engine) writeMetricsSnapshot() {
	snap := metricsSnapshot{
		TsUnixNs: timeutil.NowNano(),
		Store:    e.store.Stats(),
	}
	e.metrics.ObserveStore(snap.Store)
	e.metrics.ObserveLatency(e.tracker)

	if e.feed != nil {
		cm := e.feed.Metrics()
		snap.Binance = &cm
		e.metrics.ObserveFeed(model.MarketBinance, cm.ReconnectCount, cm.ParseErrorCount)
	}
	for _, m := range e.tracker.Markets() {
		snap.Latency = append(snap.Latency, e.tracker.Stats(m))
	}
	if e.pricing != nil {
		snap.PricedAssets = len(e.pricing.Latest())
	}
	if e.cache != nil {
		pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := e.cache.Ping(pingCtx)
		cancel()
		ok := err == nil
		snap.RedisOK = &ok
		if err != nil {
			e.logger.Warn("Redis 健康检查失败", zap.Error(err))
		}
	}

	if e.metricsWriter != nil {
		if err := e.metricsWriter.Write(snap); err != nil {
			e.logger.Debug("写入指标快照失败", zap.Error(err))
		}
	}
}

// shutdown 关闭连接与输出（10s 超时）
func (e *engine) shutdown() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if e.feed != nil {
			_ = e.feed.Close()
		}
		if e.cache != nil {
			_ = e.cache.Close()
		}
		for _, w := range []*jsonl.Writer{e.pricesWriter, e.samplesWriter, e.metricsWriter} {
			if w != nil {
				_ = w.Close()
			}
		}
	}()

	select {
	case <-shutdownCtx.Done():
		e.logger.Warn("关闭超时，强制退出")
	case <-done:
		e.logger.Info("关闭完成")
	}
}

func openWriter(enabled bool, out config.OutputConfig, name string) (*jsonl.Writer, error) {
	if !enabled {
		return nil, nil
	}
	w, err := jsonl.NewWriter(filepath.Join(out.Dir, name), out.BufferSize)
	if err != nil {
		return nil, fmt.Errorf("创建 %s writer 失败: %w", name, err)
	}
	return w, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
