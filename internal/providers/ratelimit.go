package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua script for an atomic check-then-increment minute window. Plain
// GET / check / INCR races under concurrent workers.
const minuteLimitLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return {0, redis.call("PTTL", key)}
end
local new = redis.call("INCR", key)
if new == 1 then
    redis.call("EXPIRE", key, 60)
end
return {1, 0}
`

// RateLimiter enforces a per-minute call budget per key in Redis. It is
// shared by the LLM adapters so all workers draw from one credential budget.
type RateLimiter struct {
	redis     *redis.Client
	script    *redis.Script
	perMinute int
}

// NewRateLimiter creates a limiter. A nil Redis client disables limiting.
func NewRateLimiter(rdb *redis.Client, perMinute int) *RateLimiter {
	return &RateLimiter{
		redis:     rdb,
		script:    redis.NewScript(minuteLimitLuaScript),
		perMinute: perMinute,
	}
}

// Reserve takes one slot for the key. When the window is exhausted it
// returns a RateLimitedError carrying the time until the window resets.
// Redis being down fails open: the call proceeds.
func (rl *RateLimiter) Reserve(ctx context.Context, key string) error {
	if rl == nil || rl.redis == nil || rl.perMinute <= 0 {
		return nil
	}

	redisKey := fmt.Sprintf("ratelimit:%s:%s", key, time.Now().UTC().Format("200601021504"))
	res, err := rl.script.Run(ctx, rl.redis, []string{redisKey}, rl.perMinute).Int64Slice()
	if err != nil {
		return nil // fail open
	}
	if len(res) == 2 && res[0] == 0 {
		wait := time.Duration(res[1]) * time.Millisecond
		if wait <= 0 {
			wait = time.Minute
		}
		return &RateLimitedError{Provider: key, RetryAfter: wait}
	}
	return nil
}
