package budget

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// entryTTL keeps yesterday's entry around for post-hoc inspection before
// Redis reclaims it.
const entryTTL = 48 * time.Hour

// Lua numbers round-trip through Redis replies as integers, so consumed
// epsilon travels as a string in both directions.
var reserveScript = redis.NewScript(`
local consumed = tonumber(redis.call('HGET', KEYS[1], 'eps') or '0')
local queries = tonumber(redis.call('HGET', KEYS[1], 'queries') or '0')
local eps = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
if consumed + eps > cap + 1e-9 then
	return {0, tostring(consumed), queries}
end
consumed = consumed + eps
redis.call('HSET', KEYS[1], 'eps', tostring(consumed))
redis.call('HINCRBY', KEYS[1], 'queries', 1)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return {1, tostring(consumed), queries + 1}
`)

var releaseScript = redis.NewScript(`
local consumed = tonumber(redis.call('HGET', KEYS[1], 'eps') or '0')
local eps = tonumber(ARGV[1])
consumed = consumed - eps
if consumed < 0 then
	consumed = 0
end
redis.call('HSET', KEYS[1], 'eps', tostring(consumed))
local queries = tonumber(redis.call('HGET', KEYS[1], 'queries') or '0')
if queries > 0 then
	redis.call('HINCRBY', KEYS[1], 'queries', -1)
end
return 1
`)

// RedisLedger is a Ledger shared across service instances. Reservation is a
// single Lua script, so the check and the consume execute as one step on the
// Redis side.
type RedisLedger struct {
	rdb *redis.Client
}

func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb}
}

func redisKey(keyID uuid.UUID, day time.Time) string {
	return "civicgrid:budget:" + keyID.String() + ":" + DayKey(day)
}

func (l *RedisLedger) Reserve(ctx context.Context, keyID uuid.UUID, day time.Time, epsilon, dailyCap float64) (Snapshot, error) {
	res, err := reserveScript.Run(ctx, l.rdb,
		[]string{redisKey(keyID, day)},
		strconv.FormatFloat(epsilon, 'f', -1, 64),
		strconv.FormatFloat(dailyCap, 'f', -1, 64),
		int(entryTTL.Seconds()),
	).Slice()
	if err != nil {
		return Snapshot{}, fmt.Errorf("budget reserve: %w", err)
	}
	ok, consumed, queries, err := parseReply(res)
	if err != nil {
		return Snapshot{}, fmt.Errorf("budget reserve: %w", err)
	}
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: consumed %.4f of %.4f, requested %.4f",
			ErrBudgetExceeded, consumed, dailyCap, epsilon)
	}
	return Snapshot{
		InstitutionKeyID: keyID,
		Date:             DayKey(day),
		EpsilonConsumed:  consumed,
		QueriesCount:     queries,
		RemainingEpsilon: remaining(dailyCap, consumed),
	}, nil
}

func (l *RedisLedger) Release(ctx context.Context, keyID uuid.UUID, day time.Time, epsilon float64) error {
	err := releaseScript.Run(ctx, l.rdb,
		[]string{redisKey(keyID, day)},
		strconv.FormatFloat(epsilon, 'f', -1, 64),
	).Err()
	if err != nil {
		return fmt.Errorf("budget release: %w", err)
	}
	return nil
}

func (l *RedisLedger) Snapshot(ctx context.Context, keyID uuid.UUID, day time.Time, dailyCap float64) (Snapshot, error) {
	vals, err := l.rdb.HGetAll(ctx, redisKey(keyID, day)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("budget snapshot: %w", err)
	}
	s := Snapshot{
		InstitutionKeyID: keyID,
		Date:             DayKey(day),
		RemainingEpsilon: dailyCap,
	}
	if raw, found := vals["eps"]; found {
		consumed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("budget snapshot: malformed eps %q", raw)
		}
		s.EpsilonConsumed = consumed
		s.RemainingEpsilon = remaining(dailyCap, consumed)
	}
	if raw, found := vals["queries"]; found {
		queries, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("budget snapshot: malformed queries %q", raw)
		}
		s.QueriesCount = queries
	}
	return s, nil
}

func parseReply(res []interface{}) (ok bool, consumed float64, queries int64, err error) {
	if len(res) != 3 {
		return false, 0, 0, fmt.Errorf("unexpected script reply length %d", len(res))
	}
	flag, isInt := res[0].(int64)
	if !isInt {
		return false, 0, 0, fmt.Errorf("unexpected script reply flag %T", res[0])
	}
	raw, isStr := res[1].(string)
	if !isStr {
		return false, 0, 0, fmt.Errorf("unexpected script reply consumed %T", res[1])
	}
	consumed, err = strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, 0, fmt.Errorf("malformed consumed %q", raw)
	}
	queries, isInt = res[2].(int64)
	if !isInt {
		return false, 0, 0, fmt.Errorf("unexpected script reply queries %T", res[2])
	}
	return flag == 1, consumed, queries, nil
}
