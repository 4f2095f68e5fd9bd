package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript implements the same sliding-window-log algorithm as
// [localLimiter], but against a Redis sorted set shared by every replica:
// stale entries (older than the window) are trimmed, then a new entry is
// admitted if the remaining count is under the limit. On rejection it
// returns the score (epoch milliseconds) of the oldest surviving entry so
// the caller can compute how long to wait.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window)
    return -1
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return tonumber(oldest[2])
`

// redisLimiter is a [Limiter] backed by a shared Redis sorted set, used when
// Config.Redis.Addr is set so the LLM and Vocabulary clients' rate limits
// hold across replicas instead of per-process.
type redisLimiter struct {
	client *redis.Client
	key    string
	cfg    Config
	script *redis.Script
}

// NewRedis creates a [Limiter] backed by the given Redis client. name
// distinguishes this limiter's key from others sharing the same client
// (e.g. "llmclient", "vocabclient").
func NewRedis(client *redis.Client, name string, cfg Config) Limiter {
	cfg.setDefaults()
	return &redisLimiter{
		client: client,
		key:    fmtKey("bucket", name),
		cfg:    cfg,
		script: redis.NewScript(slidingWindowScript),
	}
}

func (l *redisLimiter) Wait(ctx context.Context) error {
	deadline := time.Now().Add(l.cfg.MaxWait)
	windowMs := l.cfg.Window.Milliseconds()

	for {
		nowMs := time.Now().UnixMilli()
		member := fmt.Sprintf("%d-%d", nowMs, rand.Int64())

		res, err := l.script.Run(ctx, l.client, []string{l.key},
			nowMs, windowMs, l.cfg.Requests, member).Result()
		if err != nil {
			return fmt.Errorf("ratelimit: redis eval: %w", err)
		}

		oldestMs, ok := res.(int64)
		if !ok {
			return fmt.Errorf("ratelimit: unexpected redis script reply type %T", res)
		}
		if oldestMs == -1 {
			// Script returns -1 on grant.
			return nil
		}

		wait := time.Duration(oldestMs+windowMs-nowMs) * time.Millisecond
		if wait < 0 {
			continue
		}
		if time.Now().Add(wait).After(deadline) {
			return ErrRateLimited
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
