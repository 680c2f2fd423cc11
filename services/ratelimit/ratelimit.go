// Package ratelimit provides fixed-window core.RateLimiter implementations.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/darasa/core"
)

const keyPrefix = "ratelimit:"

type redisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

var _ core.RateLimiter = (*redisLimiter)(nil)

// NewRedisLimiter shares its counters between all API instances using the same Redis.
func NewRedisLimiter(client *redis.Client, conf core.RateLimitConfig) core.RateLimiter {
	return &redisLimiter{client: client, max: conf.MaxAttempts, window: conf.Window}
}

func (l *redisLimiter) Hit(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Incr(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, errors.Wrap(err, "counting attempt")
	}
	// first attempt opens the window
	if n == 1 {
		if err = l.client.Expire(ctx, keyPrefix+key, l.window).Err(); err != nil {
			return false, errors.Wrap(err, "opening window")
		}
	}
	return n <= int64(l.max), nil
}

func (l *redisLimiter) Reset(ctx context.Context, key string) error {
	return errors.Wrap(l.client.Del(ctx, keyPrefix+key).Err(), "resetting attempts")
}

type window struct {
	count   int
	expires time.Time
}

type memoryLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	windows map[string]*window
	now     func() time.Time
}

var _ core.RateLimiter = (*memoryLimiter)(nil)

// NewMemoryLimiter keeps counters in process, for single-instance deployments and tests.
func NewMemoryLimiter(conf core.RateLimitConfig) core.RateLimiter {
	return &memoryLimiter{
		max:     conf.MaxAttempts,
		window:  conf.Window,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (l *memoryLimiter) Hit(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.expires) {
		l.evict(now)
		w = &window{expires: now.Add(l.window)}
		l.windows[key] = w
	}
	w.count++
	return w.count <= l.max, nil
}

func (l *memoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
	return nil
}

// evict drops expired windows. l.mu must be held.
func (l *memoryLimiter) evict(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.expires) {
			delete(l.windows, k)
		}
	}
}
