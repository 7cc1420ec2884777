// Package metadata 负责交易所 REST 请求、交易对元数据的标准化与缓存。
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrHTTPStatus 非 200 响应
var ErrHTTPStatus = errors.New("HTTP 状态码错误")

// userAgent 请求头标识
const userAgent = "market-depth-engine/1.0"

// HTTPFetcher HTTP JSON 获取器
// 各交易所 REST 客户端共用，负责超时、请求头和状态码检查
type HTTPFetcher struct {
	// client HTTP 客户端
	client *http.Client
}

// NewHTTPFetcher 创建 HTTP 获取器
// 参数 timeoutMs: HTTP 请求超时时间（毫秒）
func NewHTTPFetcher(timeoutMs int) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
	}
}

// GetJSON 发起 GET 请求并将响应体解析到 out
// 参数 base: 根地址，如 https://api.binance.com
// 参数 path: 路径，如 /api/v3/depth
// 参数 query: 查询参数，可为 nil
func (f *HTTPFetcher) GetJSON(ctx context.Context, base, path string, query url.Values, out any) error {
	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	body, err := f.doRequest(ctx, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应 %s 失败: %w", path, err)
	}
	return nil
}

// doRequest 执行 HTTP GET 请求
func (f *HTTPFetcher) doRequest(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		sample := body
		if len(sample) > 200 {
			sample = sample[:200]
		}
		return nil, fmt.Errorf("%w: %d %s", ErrHTTPStatus, resp.StatusCode, sample)
	}

	return body, nil
}
