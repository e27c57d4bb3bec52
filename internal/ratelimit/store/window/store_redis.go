package window

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"payguard/internal/ratelimit/models"
)

// Both scripts take KEYS[1]=state hash, ARGV = limit, window_ms, now_ms and
// return {allowed, remaining, retry_after_ms, reset_at_ms}.

var fixedWindowScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local state = redis.call('HMGET', KEYS[1], 'tokens', 'last')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil or now - last > window then
  tokens = limit
  last = now
end
local allowed = 0
local retry = 0
if tokens > 0 then
  tokens = tokens - 1
  last = now
  allowed = 1
else
  retry = last + window - now + 1
end
redis.call('HSET', KEYS[1], 'tokens', tokens, 'last', last)
redis.call('PEXPIRE', KEYS[1], window * 2)
return {allowed, tokens, retry, last + window}
`)

var tokenBucketScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local per_token = window / limit
local state = redis.call('HMGET', KEYS[1], 'tokens', 'last')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
  tokens = limit
  last = now
end
if now > last then
  tokens = math.min(limit, tokens + (now - last) / per_token)
  last = now
end
local allowed = 0
local retry = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry = math.ceil((1 - tokens) * per_token)
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'last', last)
redis.call('PEXPIRE', KEYS[1], window * 2)
return {allowed, math.floor(tokens), retry, now + math.ceil((limit - tokens) * per_token)}
`)

// RedisStore keeps limiter state in Redis so every instance shares one
// allowance per customer. Each check is a single atomic script call.
type RedisStore struct {
	client redis.Scripter
	script *redis.Script
	now    func() time.Time
}

// NewRedisStore builds a store for mode. Timestamps come from the caller's
// clock at millisecond resolution.
func NewRedisStore(client redis.Scripter, mode models.Mode, opts ...Option) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	c := applyOptions(opts)
	s := &RedisStore{client: client, now: c.now}
	switch mode {
	case models.ModeFixed:
		s.script = fixedWindowScript
	case models.ModeBucket:
		s.script = tokenBucketScript
	default:
		return nil, fmt.Errorf("unknown rate limit mode %q", mode)
	}
	return s, nil
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	vals, err := s.script.Run(ctx, s.client, []string{key}, limit, windowMs, s.now().UnixMilli()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("run limiter script: %w", err)
	}
	if len(vals) != 4 {
		return nil, fmt.Errorf("limiter script returned %d values", len(vals))
	}
	return &models.RateLimitResult{
		Allowed:    vals[0] == 1,
		Limit:      limit,
		Remaining:  int(vals[1]),
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
		ResetAt:    time.UnixMilli(vals[3]),
	}, nil
}

// Reset clears a customer's state.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	deleter, ok := s.client.(interface {
		Del(ctx context.Context, keys ...string) *redis.IntCmd
	})
	if !ok {
		return fmt.Errorf("redis client does not support DEL")
	}
	return deleter.Del(ctx, key).Err()
}
