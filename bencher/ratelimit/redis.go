package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"go.bencher.dev/core/bencher/ambient/skerr"
)

// slidingWindowScript implements the sliding-window counter atomically:
// trim anything older than the window, count what remains, admit the
// new request only if it still fits under limit.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)
	local current = redis.call('ZCARD', key)
	if current >= limit then
		return 0
	end
	redis.call('ZADD', key, now_ms, now_ms .. '-' .. redis.call('INCR', key .. ':seq'))
	redis.call('PEXPIRE', key, window_ms)
	redis.call('PEXPIRE', key .. ':seq', window_ms)
	return 1
`)

// RedisBackend is a Backend that shares its sliding-window counters
// across every process pointed at the same Redis instance.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an already-configured *redis.Client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Allow implements Backend.
func (b *RedisBackend) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := slidingWindowScript.Run(ctx, b.client, []string{key},
		time.Now().UnixMilli(), window.Milliseconds(), limit).Int()
	if err != nil {
		return false, skerr.Wrap(err)
	}
	return res == 1, nil
}
