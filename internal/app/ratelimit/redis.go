package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/windrunne/6ix-app/internal/app/clock"
)

// redisWindowScript trims, checks, and records every window of one logical
// operation in a single atomic script. Scores are microseconds since the
// epoch; each key is trimmed only by the longest window that reads it, so
// an hourly and a daily quota can share one hit series.
//
// ARGV: now_us, member, maxwindow_us per key, then (keyIndex, limit,
// window_us) per quota. Reply: {1, remaining} or {0, quotaIndex, retry_us}.
var redisWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local member = ARGV[2]
local nkeys = #KEYS

for i = 1, nkeys do
  local maxw = tonumber(ARGV[2 + i])
  redis.call('ZREMRANGEBYSCORE', KEYS[i], 0, now - maxw - 1)
end

local base = 2 + nkeys
local nquotas = (#ARGV - base) / 3
local remaining = -1

for q = 0, nquotas - 1 do
  local ki = tonumber(ARGV[base + q*3 + 1])
  local limit = tonumber(ARGV[base + q*3 + 2])
  local win = tonumber(ARGV[base + q*3 + 3])
  local count = redis.call('ZCOUNT', KEYS[ki], now - win, '+inf')
  if count >= limit then
    local offset = count - limit
    local blocking = redis.call('ZRANGEBYSCORE', KEYS[ki], now - win, '+inf', 'WITHSCORES', 'LIMIT', offset, 1)
    local retry = tonumber(blocking[2]) + win - now
    return {0, q + 1, retry}
  end
  local headroom = limit - count - 1
  if remaining < 0 or headroom < remaining then
    remaining = headroom
  end
end

for i = 1, nkeys do
  local maxw = tonumber(ARGV[2 + i])
  redis.call('ZADD', KEYS[i], now, member)
  redis.call('PEXPIRE', KEYS[i], math.ceil(maxw / 1000))
end

return {1, remaining}
`)

// RedisLimiter is a sliding-window limiter backed by Redis sorted sets,
// for deployments where several processes share quotas.
type RedisLimiter struct {
	client redis.UniversalClient
	clock  clock.Clock
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a limiter over the given client. A nil clk
// defaults to the system clock.
func NewRedisLimiter(client redis.UniversalClient, clk clock.Clock) *RedisLimiter {
	if clk == nil {
		clk = clock.System()
	}
	return &RedisLimiter{client: client, clock: clk}
}

func (l *RedisLimiter) Allow(ctx context.Context, identity string, quotas ...Quota) (Decision, error) {
	if len(quotas) == 0 {
		return Decision{Allowed: true}, nil
	}

	keys, perKey := groupByKey(identity, quotas)

	redisKeys := make([]string, len(keys))
	keyIndex := make(map[string]int, len(keys))
	for i, k := range keys {
		redisKeys[i] = "rl:" + k
		keyIndex[k] = i + 1
	}

	now := l.clock.Now()
	args := make([]interface{}, 0, 2+len(keys)+3*len(quotas))
	args = append(args, now.UnixMicro(), uuid.NewString())
	for _, k := range keys {
		args = append(args, perKey[k].maxWindow.Microseconds())
	}
	for _, q := range quotas {
		args = append(args,
			keyIndex[windowKey(identity, q.Scope)],
			q.Limit,
			q.Window.Microseconds(),
		)
	}

	reply, err := redisWindowScript.Run(ctx, l.client, redisKeys, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis window check: %w", err)
	}
	if len(reply) < 2 {
		return Decision{}, fmt.Errorf("ratelimit: malformed script reply (%d values)", len(reply))
	}

	if reply[0] == 1 {
		return Decision{Allowed: true, Remaining: int(reply[1])}, nil
	}
	if len(reply) < 3 {
		return Decision{}, fmt.Errorf("ratelimit: malformed deny reply (%d values)", len(reply))
	}
	denied := quotas[reply[1]-1]
	return Decision{
		Scope:      denied.Scope,
		RetryAfter: time.Duration(reply[2]) * time.Microsecond,
	}, nil
}
