package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills lazily from the stored timestamp, then takes one
// token if available. Returns 1 when admitted.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now_ms
end

local elapsed = now_ms - ts
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(capacity, tokens + (elapsed * capacity / window_ms))

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now_ms))
redis.call('PEXPIRE', KEYS[1], window_ms * 2)
return allowed
`)

// RedisLimiter shares buckets across processes through Redis.
type RedisLimiter struct {
	client redis.Cmdable
	cfg    Config
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.Cmdable, cfg Config) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("ratelimit: redis client required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &RedisLimiter{client: client, cfg: cfg, prefix: "ratelimit:", now: time.Now}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + key},
		l.cfg.Capacity,
		l.cfg.Window.Milliseconds(),
		l.now().UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis bucket %s: %w", key, err)
	}
	return res == 1, nil
}
