package ratelimiter

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript refills and consumes a bucket stored as a hash {tokens, refilled}.
// ARGV: capacity, refill rate, refill interval ms, tokens requested, now ms, ttl ms.
var consumeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local now = tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'refilled')
local tokens = tonumber(state[1])
local refilled = tonumber(state[2])
if tokens == nil or refilled == nil then
	tokens = capacity
	refilled = now
end

local intervals = math.floor((now - refilled) / interval)
local maxIntervals = math.floor(capacity / rate) + 1
if intervals > maxIntervals then
	intervals = maxIntervals
end
if intervals > 0 then
	tokens = math.min(tokens + intervals * rate, capacity)
	refilled = now
end

local remaining = tokens - requested
if remaining >= 0 then
	tokens = remaining
end

redis.call('HSET', KEYS[1], 'tokens', string.format('%.0f', tokens), 'refilled', string.format('%.0f', refilled))
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return {remaining, string.format('%.0f', refilled + interval)}
`)

// RedisStore keeps buckets in Redis so every API replica shares the same limits.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisKeyPrefix sets the key prefix. Defaults to "ratelimit".
func WithRedisKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisClock overrides the time source used to compute refills.
func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.Join(ErrStoreUnavailable, errors.New("redis client is nil"))
	}

	s := &RedisStore{client: client, prefix: "ratelimit", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

// ConsumeTokens atomically refills and consumes tokens for key.
func (s *RedisStore) ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (int, time.Time, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.key(key)},
		config.Capacity,
		config.RefillRate,
		config.RefillInterval.Milliseconds(),
		tokens,
		s.now().UnixMilli(),
		config.ttl().Milliseconds(),
	).Slice()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, time.Time{}, errors.Join(ErrContextCancelled, err)
		}
		return 0, time.Time{}, errors.Join(ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, ErrStoreUnavailable
	}

	remaining, ok := res[0].(int64)
	if !ok {
		return 0, time.Time{}, ErrStoreUnavailable
	}
	resetRaw, ok := res[1].(string)
	if !ok {
		return 0, time.Time{}, ErrStoreUnavailable
	}
	resetMs, err := strconv.ParseInt(resetRaw, 10, 64)
	if err != nil {
		return 0, time.Time{}, errors.Join(ErrStoreUnavailable, err)
	}

	return int(remaining), time.UnixMilli(resetMs), nil
}

// Reset deletes the bucket for key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
