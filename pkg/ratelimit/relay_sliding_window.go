// Package ratelimit provides a Redis-backed limiter shared by all API replicas.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps one sorted-set member per accepted request.
// It returns {1, remaining} when the request is accepted and {0, wait_ms}
// otherwise.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window_ms)
	local count = redis.call('ZCARD', key)

	if count < limit then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window_ms)
		return {1, limit - count - 1}
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local wait = window_ms
	if #oldest > 0 then
		wait = tonumber(oldest[2]) + window_ms - now
	end
	return {0, wait}
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// SlidingWindowLimiter limits requests per key over a rolling window.
type SlidingWindowLimiter struct {
	redis  redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewSlidingWindowLimiter(client redis.UniversalClient, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  client,
		limit:  limit,
		window: window,
		prefix: "relay:ratelimit:",
		now:    time.Now,
	}
}

func (l *SlidingWindowLimiter) Limit() int {
	return l.limit
}

func (l *SlidingWindowLimiter) Window() time.Duration {
	return l.window
}

// Allow records a request for key. Errors are returned with an allowing
// decision so callers can fail open.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	open := Decision{Allowed: true, Remaining: l.limit}
	if l.redis == nil || l.limit <= 0 {
		return open, nil
	}

	now := l.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, l.redis, []string{l.prefix + key},
		strconv.FormatInt(now, 10),
		l.window.Milliseconds(),
		l.limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return open, err
	}
	if len(res) != 2 {
		return open, fmt.Errorf("unexpected rate limit reply: %v", res)
	}

	if res[0] == 1 {
		return Decision{Allowed: true, Remaining: int(res[1])}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(res[1]) * time.Millisecond}, nil
}
