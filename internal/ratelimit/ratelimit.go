// Package ratelimit 提供基于 Redis 的固定窗口计数器。
//
// 计数键形如 <prefix>:<subject>:<windowStart unix>，窗口结束后键自动过期，
// 因此多实例部署与进程重启都不会丢失计数。
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter 是 Limiter 需要的最小 Redis 能力。
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Decision 描述一次计数后的结果。
type Decision struct {
	Allowed   bool
	Count     int64
	Remaining int
	ResetAt   time.Time
}

// Limiter 在固定窗口内对每个 subject 计数。
type Limiter struct {
	client Counter
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// Option 调整 Limiter 行为。
type Option func(*Limiter)

// WithClock 注入时钟，测试中用于跨越窗口边界。
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New 构造 Limiter；limit 为窗口内允许的最大次数。
func New(client Counter, prefix string, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow 为 subject 计数一次，并判断是否仍在限额内。
func (l *Limiter) Allow(ctx context.Context, subject string) (Decision, error) {
	start := l.now().UTC().Truncate(l.window)
	key := fmt.Sprintf("%s:%s:%d", l.prefix, subject, start.Unix())

	count, err := IncrWithTTL(ctx, l.client, key, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr %q: %w", key, err)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.limit),
		Count:     count,
		Remaining: remaining,
		ResetAt:   start.Add(l.window),
	}, nil
}

// IncrWithTTL 自增计数；首次创建时设置过期时间。
func IncrWithTTL(ctx context.Context, client Counter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}
