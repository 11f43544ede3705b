package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// The counter key expires with its window so abandoned keys never pile up.
const incrScript = `
local current = redis.call('INCR', KEYS[1])
if current == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`

type evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLimiter is a fixed-window counter shared through Redis, so overlapping
// invocations on different hosts draw from one budget.
type RedisLimiter struct {
	client evaler
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return newRedisLimiter(client, prefix, limit, window)
}

func newRedisLimiter(client evaler, prefix string, limit int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context) (bool, error) {
	key := l.key()
	count, err := l.client.Eval(ctx, incrScript, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit incr %s: %w", key, err)
	}
	return count <= int64(l.limit), nil
}

func (l *RedisLimiter) key() string {
	slot := l.now().UnixMilli() / l.window.Milliseconds()
	return fmt.Sprintf("%s:%d", l.prefix, slot)
}
