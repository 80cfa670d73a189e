package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript checks and increments a counter atomically. The key is
// created on the first request of a window and expires when the window
// ends, so its TTL marks the window start.
const fixedWindowScript = `
local current = tonumber(redis.call("GET", KEYS[1]) or "-1")
local limit = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])

if current < 0 then
    redis.call("SET", KEYS[1], 1, "PX", windowMs)
    return 1
end
if current >= limit then
    return 0
end
redis.call("INCR", KEYS[1])
return 1
`

// RedisFixedWindow is a fixed-window limiter shared by every process that
// talks to the same Redis instance.
type RedisFixedWindow struct {
	client *redis.Client
	prefix string
	script *redis.Script
}

func NewRedisFixedWindow(client *redis.Client, prefix string) *RedisFixedWindow {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisFixedWindow{
		client: client,
		prefix: prefix,
		script: redis.NewScript(fixedWindowScript),
	}
}

// NewRedisFixedWindowFromURL connects to redisURL and verifies the
// connection before returning the limiter.
func NewRedisFixedWindowFromURL(ctx context.Context, redisURL string) (*RedisFixedWindow, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisFixedWindow(client, ""), nil
}

func (l *RedisFixedWindow) Allow(ctx context.Context, key string, window time.Duration, maxRequests int) (bool, error) {
	if maxRequests <= 0 {
		return false, nil
	}
	res, err := l.script.Run(ctx, l.client, []string{l.prefix + key}, maxRequests, window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return res == 1, nil
}

func (l *RedisFixedWindow) Close() error {
	return l.client.Close()
}
