package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// RedisStore implements the fixed-window counter on Redis so the limit
// holds across instances. INCR runs on every request, including denied
// ones; the window boundary is pinned by the TTL set on first increment.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Check(ctx context.Context, key string, cfg Config) (Result, error) {
	k := redisKeyPrefix + key

	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit incr failed: %w", err)
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, k, cfg.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("ratelimit expire failed: %w", err)
		}
	}

	ttl, err := s.client.PTTL(ctx, k).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit ttl lookup failed: %w", err)
	}
	if ttl < 0 {
		// Key exists without expiry (e.g. EXPIRE was lost); re-arm the window.
		ttl = cfg.Window
		if err := s.client.PExpire(ctx, k, cfg.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("ratelimit expire failed: %w", err)
		}
	}

	now := time.Now()
	resetAt := now.Add(ttl)
	remaining := cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if int(count) > cfg.MaxRequests {
		return Result{
			Allowed:           false,
			Remaining:         0,
			ResetAt:           resetAt,
			RetryAfterSeconds: retryAfterSeconds(resetAt, now),
		}, nil
	}
	return Result{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}
