package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The bucket state lives in a hash so several recorder processes can share
// one limit. Timestamps come from the caller to keep the script deterministic.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
else
  local delta = math.max(0, now_ms - ts)
  tokens = math.min(burst, tokens + (delta / 1000.0) * rate)
end

local allowed = 0
local retry_ms = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
elseif rate > 0 then
  retry_ms = math.ceil(((cost - tokens) / rate) * 1000.0)
else
  retry_ms = 1000
end

redis.call("HSET", key, "tokens", tokens, "ts", now_ms)
redis.call("PEXPIRE", key, ttl_ms)
return {allowed, tostring(tokens), retry_ms}
`)

type RedisLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLimiter(rdb redis.UniversalClient, ttl time.Duration) *RedisLimiter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLimiter{rdb: rdb, prefix: "batchrec:", ttl: ttl}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, rule Rule) (Decision, error) {
	args := []any{time.Now().UnixMilli(), rule.RPS, rule.Burst, rule.cost(), r.ttl.Milliseconds()}
	res, err := tokenBucket.Run(ctx, r.rdb, []string{r.prefix + key}, args...).Result()
	if err != nil {
		return Decision{}, err
	}
	return parseBucketReply(res, rule)
}

func parseBucketReply(res any, rule Rule) (Decision, error) {
	arr, ok := res.([]any)
	if !ok || len(arr) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %T", res)
	}
	dec := Decision{
		Allowed:   toInt(arr[0]) == 1,
		Remaining: toFloat(arr[1]),
		LimitRPS:  rule.RPS,
		Burst:     rule.Burst,
	}
	if !dec.Allowed {
		secs := int((toInt(arr[2]) + 999) / 1000)
		if secs < 1 {
			secs = 1
		}
		dec.RetryAfterSeconds = secs
	}
	return dec, nil
}

func (r *RedisLimiter) Backend() string { return "redis" }

func (r *RedisLimiter) Close() error { return r.rdb.Close() }

func toInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

// Lua numbers come back truncated to integers, so the script returns the
// fractional token count as a string.
func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case string:
		var f float64
		if _, err := fmt.Sscan(t, &f); err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
