package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const counterTTL = 48 * time.Hour

var allowScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
	return {0, count}
end
count = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return {1, count}
`)

// RedisLimiter is a Limiter shared across service instances.
type RedisLimiter struct {
	rdb *redis.Client
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

func redisKey(keyID uuid.UUID, day time.Time) string {
	return "civicgrid:ratelimit:" + keyID.String() + ":" + DayKey(day)
}

func (l *RedisLimiter) Allow(ctx context.Context, keyID uuid.UUID, day time.Time, limit int) error {
	res, err := allowScript.Run(ctx, l.rdb, []string{redisKey(keyID, day)}, limit, int(counterTTL.Seconds())).Slice()
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if len(res) != 2 {
		return fmt.Errorf("rate limit check: unexpected script reply length %d", len(res))
	}
	flag, isInt := res[0].(int64)
	if !isInt {
		return fmt.Errorf("rate limit check: unexpected script reply flag %T", res[0])
	}
	if flag != 1 {
		count, _ := res[1].(int64)
		return fmt.Errorf("%w: %d queries used of %d", ErrRateLimitExceeded, count, limit)
	}
	return nil
}

func (l *RedisLimiter) Count(ctx context.Context, keyID uuid.UUID, day time.Time) (int64, error) {
	count, err := l.rdb.Get(ctx, redisKey(keyID, day)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit count: %w", err)
	}
	return count, nil
}
