// Package binance 实现 Binance 现货增量深度 WebSocket 客户端和 REST 客户端。
// 连接地址: wss://stream.binance.com:9443/ws
// 订阅频道: <symbol>@depth@100ms
// 心跳机制: 协议层 ping/pong
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"market-depth-engine/internal/config"
	"market-depth-engine/internal/core/model"
	"market-depth-engine/internal/metadata"
	"market-depth-engine/internal/util/backoff"
	"market-depth-engine/internal/util/timeutil"
)

// Client Binance 增量深度 WebSocket 客户端
// 断线重连后增量会出现序列缺口，由下游按缺口重新拉取快照
type Client struct {
	// cfg 深度流配置
	cfg *config.DepthFeedConfig
	// symbols 订阅的交易对（大写）
	symbols []string
	// logger 日志记录器
	logger *zap.Logger
	// parser 消息解析器
	parser *Parser

	// conn WebSocket 连接
	conn *websocket.Conn
	// connMu 连接锁
	connMu sync.Mutex

	// diffCh 增量事件输出通道，Run 返回时关闭
	diffCh chan *model.DiffEvent

	// metrics 连接指标
	metrics ConnectionMetrics
	// metricsMu 指标锁
	metricsMu sync.RWMutex

	// lastMsgTime 最后消息时间（纳秒）
	lastMsgTime int64
	// updateCount 更新计数（用于计算 QPS）
	updateCount int64
	// dropped 通道满时丢弃的事件数
	dropped int64
	// backoff 重连退避
	backoff *backoff.Backoff
	// closed 是否已关闭
	closed int32

	// parseErrSampleCount 解析错误计数（用于采样日志）
	parseErrSampleCount uint64
	// lastParseErrLogNs 上次解析错误日志时间（纳秒）
	lastParseErrLogNs int64
}

// NewClient 创建 Binance 深度流客户端
// 参数 cfg: 深度流配置，交易对允许 btc-usdt、BTC/USDT 等写法
// 参数 logger: 日志记录器
func NewClient(cfg *config.DepthFeedConfig, logger *zap.Logger) *Client {
	symbols := make([]string, len(cfg.Symbols))
	for i, s := range cfg.Symbols {
		symbols[i] = metadata.NormalizeSymbol(s)
	}
	return &Client{
		cfg:     cfg,
		symbols: symbols,
		logger:  logger.Named("binance"),
		parser:  NewParser(symbols),
		diffCh:  make(chan *model.DiffEvent, 4096),
		backoff: backoff.NewDefault(),
	}
}

// Connect 建立 WebSocket 连接
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", "market-depth-engine/1.0")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("连接 Binance WebSocket 失败: %w", err)
	}

	readTimeout := time.Duration(c.readTimeoutMs()) * time.Millisecond
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		atomic.StoreInt64(&c.lastMsgTime, timeutil.NowNano())
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.conn = conn
	c.backoff.Reset()
	c.logger.Info("Binance WebSocket 连接成功", zap.String("url", c.cfg.URL))
	return nil
}

// Subscribe 订阅增量深度流
func (c *Client) Subscribe() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}

	params := make([]string, 0, len(c.symbols))
	for _, s := range c.symbols {
		// 订阅参数要求小写 symbol
		params = append(params, fmt.Sprintf("%s@depth@100ms", strings.ToLower(s)))
	}

	data, err := json.Marshal(SubscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1})
	if err != nil {
		return fmt.Errorf("序列化订阅请求失败: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}

	c.logger.Info("Binance 订阅请求已发送", zap.Strings("streams", params))
	return nil
}

// Run 启动客户端主循环，阻塞到 ctx 取消或 Close
// 未连接时会先按退避策略建立连接
func (c *Client) Run(ctx context.Context) {
	defer close(c.diffCh)
	go c.pingLoop(ctx)
	go c.metricsLoop(ctx)
	c.readLoop(ctx)
}

func (c *Client) readLoop(ctx context.Context) {
	readTimeout := time.Duration(c.readTimeoutMs()) * time.Millisecond
	for {
		if ctx.Err() != nil || atomic.LoadInt32(&c.closed) == 1 {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if atomic.LoadInt32(&c.closed) == 1 || ctx.Err() != nil {
				return
			}
			c.logger.Warn("读取 Binance 消息失败", zap.Error(err))
			c.incrementReconnectCount()
			c.reconnect(ctx)
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		atomic.StoreInt64(&c.lastMsgTime, timeutil.NowNano())

		events, err := c.parser.Parse(data)
		if err != nil {
			c.incrementParseErrorCount()
			c.maybeLogParseError(err, data)
			continue
		}

		for _, event := range events {
			atomic.AddInt64(&c.updateCount, 1)
			select {
			case c.diffCh <- event:
			default:
				// 丢弃会造成序列缺口，下游会重新拉快照
				if n := atomic.AddInt64(&c.dropped, 1); n%1000 == 1 {
					c.logger.Warn("Binance diffCh 已满，丢弃事件", zap.Int64("dropped", n))
				}
			}
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	intervalMs := c.cfg.PingIntervalMs
	if intervalMs <= 0 {
		intervalMs = c.readTimeoutMs() / 2
	}

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			c.connMu.Lock()
			conn := c.conn
			if conn == nil {
				c.connMu.Unlock()
				continue
			}
			err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			c.connMu.Unlock()
			if err != nil {
				c.logger.Warn("发送 Binance ping 失败", zap.Error(err))
			}
		}
	}
}

func (c *Client) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			count := atomic.LoadInt64(&c.updateCount)
			qps := float64(count - lastCount)
			lastCount = count

			lastMsg := atomic.LoadInt64(&c.lastMsgTime)
			var ageMs int64
			if lastMsg > 0 {
				ageMs = (timeutil.NowNano() - lastMsg) / 1_000_000
			}

			c.metricsMu.Lock()
			c.metrics.UpdatesPerSec = qps
			c.metrics.LastMessageAgeMs = ageMs
			c.metricsMu.Unlock()
		}
	}
}

func (c *Client) reconnect(ctx context.Context) {
	c.closeConn()

	c.logger.Info("Binance 准备重连", zap.Int("attempt", c.backoff.Attempt()+1))
	if err := c.backoff.Wait(ctx); err != nil {
		return
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("Binance 重连失败", zap.Error(err))
		return
	}
	if err := c.Subscribe(); err != nil {
		c.logger.Error("Binance 重新订阅失败", zap.Error(err))
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close 关闭客户端，Run 随后退出并关闭 DiffCh
func (c *Client) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	c.closeConn()
	c.logger.Info("Binance 客户端已关闭")
	return nil
}

// DiffCh 获取增量事件通道
func (c *Client) DiffCh() <-chan *model.DiffEvent {
	return c.diffCh
}

// Symbols 订阅的交易对
func (c *Client) Symbols() []string {
	return c.symbols
}

// Metrics 获取连接指标
func (c *Client) Metrics() ConnectionMetrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

func (c *Client) incrementReconnectCount() {
	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()
}

func (c *Client) incrementParseErrorCount() {
	c.metricsMu.Lock()
	c.metrics.ParseErrorCount++
	c.metricsMu.Unlock()
}

func (c *Client) readTimeoutMs() int {
	if c.cfg.ReadTimeoutMs > 0 {
		return c.cfg.ReadTimeoutMs
	}
	return 30000
}

// maybeLogParseError 采样记录解析错误原始消息
// 每 100 次错误记录 1 条，且至少间隔 1 分钟
func (c *Client) maybeLogParseError(err error, data []byte) {
	count := atomic.AddUint64(&c.parseErrSampleCount, 1)
	if count%100 != 1 {
		return
	}

	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&c.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&c.lastParseErrLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	c.logger.Warn("解析 Binance 消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
