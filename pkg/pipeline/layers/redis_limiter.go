package layers

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// velocityBucketScript runs the token bucket atomically in Redis so every
// instance of the service shares one view of an agent's velocity.
// KEYS[1] = bucket key ("velocity:<agent>")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (burst)
// ARGV[3] = cost
// ARGV[4] = current unix timestamp (fractional seconds)
var velocityBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 120)

return {allowed, tokens}
`)

// RedisLimiterStore implements LimiterStore on Redis for multi-instance
// deployments. Buckets self-expire after two minutes of inactivity.
type RedisLimiterStore struct {
	client *redis.Client
}

func NewRedisLimiterStore(addr, password string, db int) *RedisLimiterStore {
	return &RedisLimiterStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *RedisLimiterStore) Allow(ctx context.Context, agentID string, limit BandLimit, cost int) (bool, error) {
	key := fmt.Sprintf("velocity:%s", agentID)
	perSec := float64(limit.PerMinute) / 60.0
	if perSec <= 0 {
		perSec = 1.0
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := velocityBucketScript.Run(ctx, s.client, []string{key}, perSec, limit.Burst, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis velocity limiter: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, fmt.Errorf("redis velocity limiter: unexpected script reply %T", res)
	}
	allowed, _ := vals[0].(int64)
	return allowed == 1, nil
}

// Close releases the underlying client.
func (s *RedisLimiterStore) Close() error { return s.client.Close() }
