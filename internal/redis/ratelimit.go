package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Limit  int // requests allowed per window
	Window time.Duration
	Prefix string // keyspace, e.g. "send"
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// slidingWindow trims entries older than the window (scores are unix millis)
// and admits ARGV[3] requests only if they fit under the limit. Returns the
// count before admission and 1 if admitted.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local n = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count + n > limit then
	return {count, 0}
end
for i = 1, n do
	redis.call('ZADD', key, now, ARGV[4 + i])
end
redis.call('PEXPIRE', key, window + 1000)
return {count, 1}
`)

// RateLimiter implements sliding window rate limiting using Redis sorted sets.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	if config.Prefix == "" {
		config.Prefix = "default"
	}
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
	}
}

// Allow checks if one more request for key fits in the window.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN checks and records n requests atomically.
func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	now := time.Now()
	redisKey := fmt.Sprintf("ratelimit:%s:%s", r.config.Prefix, key)

	args := []interface{}{now.UnixMilli(), r.config.Window.Milliseconds(), n, r.config.Limit}
	for i := 0; i < n; i++ {
		args = append(args, uuid.NewString())
	}

	vals, err := slidingWindow.Run(ctx, r.client.rdb, []string{redisKey}, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit script failed: %w", err)
	}

	count := int(vals[0])
	result := &RateLimitResult{
		Allowed: vals[1] == 1,
		ResetAt: now.Add(r.config.Window),
	}

	if !result.Allowed {
		r.logger.Debug("rate limit exceeded",
			zap.String("prefix", r.config.Prefix),
			zap.String("key", key),
			zap.Int("current", count),
			zap.Int("limit", r.config.Limit),
		)
		result.Remaining = max(0, r.config.Limit-count)
		return result, nil
	}

	result.Remaining = r.config.Limit - count - n
	return result, nil
}

// Limit returns the configured requests per window.
func (r *RateLimiter) Limit() int {
	return r.config.Limit
}
