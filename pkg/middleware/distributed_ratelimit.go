package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/usersync/pkg/storage/postgres"
)

// DistributedRateLimiter is a fixed window limiter backed by Redis so the
// limits hold across server instances
type DistributedRateLimiter struct {
	redis  *postgres.RedisClient
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *postgres.RedisClient, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Config returns the limiter's configuration
func (rl *DistributedRateLimiter) Config() *RateLimitConfig {
	return rl.config
}

// Allow increments the window counter for key
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Duration, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	client := rl.redis.GetClient()
	count, err := client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("redis error: %w", err)
	}
	// The first request anchors the window
	if count == 1 {
		if err := client.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return false, 0, 0, fmt.Errorf("redis error: %w", err)
		}
	}
	ttl := client.TTL(ctx, redisKey)

	reset := ttl.Val()
	if reset <= 0 {
		reset = rl.config.WindowDuration
	}

	limit := int64(rl.config.capacity())
	if count > limit {
		return false, 0, reset, nil
	}
	return true, int(limit - count), reset, nil
}

// Reset clears the counter for key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	_, err := rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key))
	return err
}
