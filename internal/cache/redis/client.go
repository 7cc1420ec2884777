// Package redis 使用 go-redis/v9 缓存最新的 USD 价格，供其他进程读取。
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"market-depth-engine/internal/config"
)

// Client go-redis 客户端包装
type Client struct {
	rdb *redis.Client
}

// New 创建客户端并 ping 一次确认可用
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("连接 Redis %s 失败: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping 检查连接
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.rdb.Close()
}
