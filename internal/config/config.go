// Package config 负责加载和验证 YAML 配置文件。
// 提供行情接入、订单簿采样、USD 定价以及各输出端的配置项；
// 部署相关的敏感项可以通过 .env / 环境变量覆盖。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 环境变量覆盖项
const (
	EnvLogLevel      = "MDE_LOG_LEVEL"
	EnvRedisAddr     = "MDE_REDIS_ADDR"
	EnvRedisPassword = "MDE_REDIS_PASSWORD"
	EnvRedisDB       = "MDE_REDIS_DB"
	EnvMetricsListen = "MDE_METRICS_LISTEN"
)

// DefaultUSDEquivalents 默认 USD 等价币列表
var DefaultUSDEquivalents = []string{
	"USDT", "USDC", "USDS", "DAI", "BUSD", "TUSD", "PAX", "GUSD",
	"USDN", "USDSB", "USD", "USDK", "USDP", "USDX",
}

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// USDEquivalents 视为 1 USD 的资产
	USDEquivalents []string `yaml:"usd_equivalents"`
	// Markets 各交易所 REST 配置（交易对与最新价）
	Markets MarketsConfig `yaml:"markets"`
	// Feeds 深度行情 WebSocket 配置
	Feeds FeedsConfig `yaml:"feeds"`
	// Depth 订单簿采样配置
	Depth DepthConfig `yaml:"depth"`
	// Pricing USD 定价任务配置
	Pricing PricingConfig `yaml:"pricing"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
	// Redis USD 价格缓存配置
	Redis RedisConfig `yaml:"redis"`
	// Metrics Prometheus 指标端点配置
	Metrics MetricsConfig `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// MarketsConfig 交易所 REST 配置
type MarketsConfig struct {
	// Binance Binance 现货
	Binance MarketConfig `yaml:"binance"`
	// Kraken Kraken 现货
	Kraken MarketConfig `yaml:"kraken"`
	// Coinbase Coinbase Exchange 现货
	Coinbase MarketConfig `yaml:"coinbase"`
}

// MarketConfig 单个交易所 REST 配置
type MarketConfig struct {
	// Enabled 是否参与 USD 定价
	Enabled bool `yaml:"enabled"`
	// RestURL REST API 根地址
	RestURL string `yaml:"rest_url"`
	// TimeoutMs HTTP 请求超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
	// Concurrency 按交易对拉取最新价时的并发请求数（Coinbase）
	Concurrency int `yaml:"concurrency"`
}

// FeedsConfig 深度行情配置
type FeedsConfig struct {
	// Binance Binance 增量深度流
	Binance DepthFeedConfig `yaml:"binance"`
}

// DepthFeedConfig 单个深度流配置
type DepthFeedConfig struct {
	// Enabled 是否订阅
	Enabled bool `yaml:"enabled"`
	// URL WebSocket 连接地址
	URL string `yaml:"url"`
	// Symbols 订阅的交易对，如 BTCUSDT
	Symbols []string `yaml:"symbols"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// ReadTimeoutMs 读取超时（毫秒）
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
	// SnapshotLimit REST 深度快照档位数
	SnapshotLimit int `yaml:"snapshot_limit"`
	// PendingLimit 等待快照期间每个交易对最多缓存的增量数
	PendingLimit int `yaml:"pending_limit"`
}

// DepthConfig 订单簿采样配置
type DepthConfig struct {
	// Capacities 容量价格采样点（基础资产数量）
	Capacities []float64 `yaml:"capacities"`
	// SampleIntervalMs 采样间隔（毫秒）
	SampleIntervalMs int `yaml:"sample_interval_ms"`
	// ClipSize 采样记录中保留的单边累计数量上限，0 表示不记录截断盘口
	ClipSize float64 `yaml:"clip_size"`
}

// PricingConfig USD 定价配置
type PricingConfig struct {
	// Enabled 是否运行定价任务
	Enabled bool `yaml:"enabled"`
	// IntervalMs 定价间隔（毫秒）
	IntervalMs int `yaml:"interval_ms"`
	// PairsRefreshMs 交易对列表刷新间隔（毫秒）
	PairsRefreshMs int `yaml:"pairs_refresh_ms"`
	// DivPrecision 除法保留小数位
	DivPrecision int32 `yaml:"div_precision"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// PricesEnabled 是否输出 USD 价格文件
	PricesEnabled bool `yaml:"prices_enabled"`
	// SamplesEnabled 是否输出深度采样文件
	SamplesEnabled bool `yaml:"samples_enabled"`
	// MetricsEnabled 是否输出指标文件
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// MetricsIntervalMs 指标输出间隔（毫秒）
	MetricsIntervalMs int `yaml:"metrics_interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// RedisConfig USD 价格缓存配置，Addr 为空时不启用
type RedisConfig struct {
	// Addr 地址，如 localhost:6379
	Addr string `yaml:"addr"`
	// Password 密码
	Password string `yaml:"password"`
	// DB 库编号
	DB int `yaml:"db"`
	// KeyPrefix 键前缀
	KeyPrefix string `yaml:"key_prefix"`
	// TTLMs 价格过期时间（毫秒），0 表示不过期
	TTLMs int `yaml:"ttl_ms"`
}

// Enabled 是否启用 Redis
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// MetricsConfig Prometheus 指标端点，Listen 为空时不启用
type MetricsConfig struct {
	// Listen 监听地址，如 :9100
	Listen string `yaml:"listen"`
	// Path HTTP 路径
	Path string `yaml:"path"`
}

// Enabled 是否启用指标端点
func (m MetricsConfig) Enabled() bool {
	return m.Listen != ""
}

// Load 从文件加载配置并验证
// 顺序：读取 YAML -> 环境变量覆盖（含 .env） -> 默认值 -> 验证
// 参数 path: 配置文件路径
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// .env 不存在时忽略
	_ = godotenv.Load()
	cfg.applyEnvOverrides()

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides 非空环境变量覆盖对应配置项
func (c *Config) applyEnvOverrides() {
	setStr(&c.App.LogLevel, EnvLogLevel)
	setStr(&c.Redis.Addr, EnvRedisAddr)
	setStr(&c.Redis.Password, EnvRedisPassword)
	setInt(&c.Redis.DB, EnvRedisDB)
	setStr(&c.Metrics.Listen, EnvMetricsListen)
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "market-depth-engine"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if len(c.USDEquivalents) == 0 {
		c.USDEquivalents = append([]string(nil), DefaultUSDEquivalents...)
	}
	for i, a := range c.USDEquivalents {
		c.USDEquivalents[i] = strings.ToUpper(strings.TrimSpace(a))
	}

	// REST 默认值
	if c.Markets.Binance.RestURL == "" {
		c.Markets.Binance.RestURL = "https://api.binance.com"
	}
	if c.Markets.Kraken.RestURL == "" {
		c.Markets.Kraken.RestURL = "https://api.kraken.com"
	}
	if c.Markets.Coinbase.RestURL == "" {
		c.Markets.Coinbase.RestURL = "https://api.exchange.coinbase.com"
	}
	for _, m := range []*MarketConfig{&c.Markets.Binance, &c.Markets.Kraken, &c.Markets.Coinbase} {
		if m.TimeoutMs == 0 {
			m.TimeoutMs = 10000 // 10 秒
		}
		if m.Concurrency == 0 {
			m.Concurrency = 8
		}
	}

	// 深度流默认值
	f := &c.Feeds.Binance
	if f.URL == "" {
		f.URL = "wss://stream.binance.com:9443/ws"
	}
	if f.PingIntervalMs == 0 {
		f.PingIntervalMs = 20000 // 20 秒
	}
	if f.ReadTimeoutMs == 0 {
		f.ReadTimeoutMs = 30000 // 30 秒
	}
	if f.SnapshotLimit == 0 {
		f.SnapshotLimit = 1000
	}
	if f.PendingLimit == 0 {
		f.PendingLimit = 10000
	}
	for i, s := range f.Symbols {
		f.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	// 采样默认值
	if len(c.Depth.Capacities) == 0 {
		c.Depth.Capacities = []float64{1, 10, 100}
	}
	if c.Depth.SampleIntervalMs == 0 {
		c.Depth.SampleIntervalMs = 1000 // 1 秒
	}

	// 定价默认值
	if c.Pricing.IntervalMs == 0 {
		c.Pricing.IntervalMs = 30000 // 30 秒
	}
	if c.Pricing.PairsRefreshMs == 0 {
		c.Pricing.PairsRefreshMs = 3600000 // 1 小时
	}
	if c.Pricing.DivPrecision == 0 {
		c.Pricing.DivPrecision = 24
	}

	// 输出默认值
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.MetricsIntervalMs == 0 {
		c.Output.MetricsIntervalMs = 10000 // 10 秒
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}

	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "usd_price:"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate 验证配置合法性
// 收集全部问题后一次性返回
func (c *Config) Validate() error {
	var errs []string

	// 日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(c.USDEquivalents) == 0 {
		errs = append(errs, "usd_equivalents: 至少需要一个 USD 等价币")
	}
	for i, a := range c.USDEquivalents {
		if a == "" {
			errs = append(errs, fmt.Sprintf("usd_equivalents[%d]: 资产不能为空", i))
		}
	}

	// 交易所 REST
	markets := []struct {
		name string
		cfg  MarketConfig
	}{{"binance", c.Markets.Binance}, {"kraken", c.Markets.Kraken}, {"coinbase", c.Markets.Coinbase}}
	for _, m := range markets {
		if m.cfg.Enabled && m.cfg.RestURL == "" {
			errs = append(errs, fmt.Sprintf("markets.%s.rest_url: REST 地址不能为空", m.name))
		}
		if m.cfg.TimeoutMs <= 0 {
			errs = append(errs, fmt.Sprintf("markets.%s.timeout_ms: 超时时间必须为正数", m.name))
		}
		if m.cfg.Concurrency <= 0 {
			errs = append(errs, fmt.Sprintf("markets.%s.concurrency: 并发数必须为正数", m.name))
		}
	}

	// 深度流
	f := c.Feeds.Binance
	if f.Enabled {
		if f.URL == "" {
			errs = append(errs, "feeds.binance.url: WebSocket 地址不能为空")
		}
		if len(f.Symbols) == 0 {
			errs = append(errs, "feeds.binance.symbols: 至少需要配置一个交易对")
		}
		for i, s := range f.Symbols {
			if s == "" {
				errs = append(errs, fmt.Sprintf("feeds.binance.symbols[%d]: 交易对不能为空", i))
			}
		}
	}
	if f.SnapshotLimit <= 0 || f.SnapshotLimit > 5000 {
		errs = append(errs, "feeds.binance.snapshot_limit: 快照档位数必须在 1-5000 之间")
	}
	if f.PendingLimit <= 0 {
		errs = append(errs, "feeds.binance.pending_limit: 缓存上限必须为正数")
	}

	// 采样
	for i, v := range c.Depth.Capacities {
		if v <= 0 {
			errs = append(errs, fmt.Sprintf("depth.capacities[%d]: 容量必须为正数，当前值: %g", i, v))
		}
	}
	if c.Depth.SampleIntervalMs <= 0 {
		errs = append(errs, "depth.sample_interval_ms: 采样间隔必须为正数")
	}
	if c.Depth.ClipSize < 0 {
		errs = append(errs, "depth.clip_size: 截断数量不能为负数")
	}

	// 定价
	if c.Pricing.IntervalMs <= 0 {
		errs = append(errs, "pricing.interval_ms: 定价间隔必须为正数")
	}
	if c.Pricing.PairsRefreshMs <= 0 {
		errs = append(errs, "pricing.pairs_refresh_ms: 交易对刷新间隔必须为正数")
	}
	if c.Pricing.DivPrecision <= 0 || c.Pricing.DivPrecision > 64 {
		errs = append(errs, "pricing.div_precision: 除法精度必须在 1-64 之间")
	}
	if c.Pricing.Enabled && !c.Markets.Binance.Enabled && !c.Markets.Kraken.Enabled && !c.Markets.Coinbase.Enabled {
		errs = append(errs, "pricing.enabled: 至少需要启用一个交易所")
	}

	// 输出
	if c.Output.BufferSize <= 0 {
		errs = append(errs, "output.buffer_size: 缓冲区大小必须为正数")
	}
	if c.Output.MetricsIntervalMs <= 0 {
		errs = append(errs, "output.metrics_interval_ms: 指标输出间隔必须为正数")
	}

	if c.Redis.TTLMs < 0 {
		errs = append(errs, "redis.ttl_ms: 过期时间不能为负数")
	}
	if c.Redis.DB < 0 {
		errs = append(errs, "redis.db: 库编号不能为负数")
	}
	if c.Metrics.Enabled() && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics.path: 路径必须以 / 开头，当前值: %s", c.Metrics.Path))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
