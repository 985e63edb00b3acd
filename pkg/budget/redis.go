package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = now (unix seconds, microsecond precision)
// ARGV[5] = ttl seconds
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return {allowed, tostring(tokens)}
`)

// RedisLimiter shares buckets between processes.
type RedisLimiter struct {
	client redis.Scripter
	policy Policy
	prefix string
	now    func() time.Time
}

// NewRedisLimiter connects to addr.
func NewRedisLimiter(addr, password string, db int, p Policy) *RedisLimiter {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisLimiterWithClient(rdb, p)
}

// NewRedisLimiterWithClient uses an existing client or cluster client.
func NewRedisLimiterWithClient(c redis.Scripter, p Policy) *RedisLimiter {
	return &RedisLimiter{client: c, policy: p, prefix: "briefgate:budget:", now: time.Now}
}

func (r *RedisLimiter) ttlSeconds() int {
	// long enough for an empty bucket to refill completely
	ttl := int(float64(r.policy.burst())/r.policy.perSecond()) + 1
	if ttl < 60 {
		ttl = 60
	}
	return ttl
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(r.now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, r.client, []string{r.prefix + key},
		r.policy.perSecond(), r.policy.burst(), 1, now, r.ttlSeconds()).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, errors.New("redis limiter: invalid response from lua script")
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}
