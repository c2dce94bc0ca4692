package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sefisk/10minutemail/internal/config"
)

// RateLimiter 固定窗口计数器。
type RateLimiter interface {
	// Increment 递增 key 的窗口计数并返回当前值；窗口首个请求设置过期。
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Client Redis 限流计数实现。
type Client struct {
	rdb *goredis.Client
}

// NewClient 创建 Redis 客户端并验证连通性。
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Increment 固定窗口计数。
func (c *Client) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// Close 关闭连接。
func (c *Client) Close() error {
	return c.rdb.Close()
}

// MemoryRateLimiter 进程内回退实现，Redis 未配置时使用。
type MemoryRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*memBucket
}

type memBucket struct {
	count   int64
	expires time.Time
}

// NewMemoryRateLimiter 创建进程内限流计数器。
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{buckets: make(map[string]*memBucket)}
}

// Increment 进程内固定窗口计数。
func (m *MemoryRateLimiter) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[key]
	if !ok || now.After(b.expires) {
		b = &memBucket{expires: now.Add(window)}
		m.buckets[key] = b
	}
	b.count++
	return b.count, nil
}
