// Package redis provides a Redis-backed implementation of store.Store.
//
// It wraps redis.UniversalClient, which supports Redis standalone,
// Redis Cluster, and Redis Sentinel out of the box.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//
// The compound operations (IncrWithLimit, TokenBucketTake, LeakyBucketTake)
// run as server-side Lua scripts. Two concurrent requests for the same key
// can never both observe the same counter value: the read-modify-write
// happens in one script invocation, not in client-side round-trips.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/quotagate/quotagate/store"
)

// Increments the counter if under the limit. The TTL is set only when the
// increment creates the key, so rolling increments do not extend the window.
var incrWithLimitScript = goredis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key) or '0')

if current < limit then
  local count = redis.call('INCR', key)
  if count == 1 then
    redis.call('EXPIRE', key, window)
  end
  return { 1, count, redis.call('TTL', key) }
end

return { 0, current, redis.call('TTL', key) }
`)

// Refills by elapsed time, takes one token when at least one whole token is
// available. Tokens are compared as reals and floored only for the reply.
var tokenBucketScript = goredis.NewScript(`
local tokens_key = KEYS[1] .. ':tokens'
local ts_key = KEYS[1] .. ':timestamp'
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(redis.call('GET', tokens_key) or capacity)
local last_refill = tonumber(redis.call('GET', ts_key) or now)

tokens = math.min(capacity, tokens + (now - last_refill) * refill_rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('SET', tokens_key, tostring(tokens), 'EX', 3600)
redis.call('SET', ts_key, tostring(now), 'EX', 3600)

return { allowed, math.floor(tokens) }
`)

// Drains the queue by elapsed time, then occupies a slot if below capacity.
// State is written only on admission; a rejected request must not consume
// the fractional leak progress of concurrent callers.
var leakyBucketScript = goredis.NewScript(`
local queue_key = KEYS[1] .. ':queue'
local leak_key = KEYS[1] .. ':last_leak'
local capacity = tonumber(ARGV[1])
local outflow_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local window = tonumber(ARGV[4])

local count = tonumber(redis.call('GET', queue_key) or '0')
local last_leak = tonumber(redis.call('GET', leak_key) or now)

local leaked = math.floor((now - last_leak) * outflow_rate)
count = math.max(0, count - leaked)

if count < capacity then
  count = count + 1
  redis.call('SET', queue_key, tostring(count), 'EX', window)
  redis.call('SET', leak_key, tostring(now), 'EX', window)
  return { 1, capacity - count }
end

return { 0, 0 }
`)

// Store implements store.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
}

// New creates a Redis-backed Store from any UniversalClient
// (standalone *redis.Client, *redis.ClusterClient, or *redis.Ring).
func New(client goredis.UniversalClient) *Store {
	return &Store{client: client}
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient {
	return s.client
}

func (s *Store) IncrWithLimit(ctx context.Context, key string, limit int64, window time.Duration) (store.IncrResult, error) {
	res, err := incrWithLimitScript.Run(ctx, s.client, []string{key},
		limit,
		int64(window.Seconds()),
	).Int64Slice()
	if err != nil {
		return store.IncrResult{}, unavailable(err)
	}

	ttl := time.Duration(res[2]) * time.Second
	if ttl < 0 {
		ttl = window
	}
	return store.IncrResult{
		Allowed: res[0] == 1,
		Count:   res[1],
		TTL:     ttl,
	}, nil
}

func (s *Store) TokenBucketTake(ctx context.Context, key string, capacity int64, refillRate, now float64) (store.BucketResult, error) {
	res, err := tokenBucketScript.Run(ctx, s.client, []string{key},
		capacity,
		refillRate,
		now,
	).Int64Slice()
	if err != nil {
		return store.BucketResult{}, unavailable(err)
	}
	return store.BucketResult{Allowed: res[0] == 1, Remaining: res[1]}, nil
}

func (s *Store) LeakyBucketTake(ctx context.Context, key string, capacity int64, outflowRate, now float64, window time.Duration) (store.BucketResult, error) {
	res, err := leakyBucketScript.Run(ctx, s.client, []string{key},
		capacity,
		outflowRate,
		now,
		int64(window.Seconds()),
	).Int64Slice()
	if err != nil {
		return store.BucketResult{}, unavailable(err)
	}
	return store.BucketResult{Allowed: res[0] == 1, Remaining: res[1]}, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", &store.ErrKeyNotFound{Key: key}
	}
	if err != nil {
		return "", unavailable(err)
	}
	return val, nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	// go-redis reports the no-TTL / no-key sentinels as raw -1 and -2.
	switch d {
	case -1:
		return -time.Second, nil
	case -2:
		return -2 * time.Second, nil
	}
	return d, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	err := s.client.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	err := s.client.ZRemRangeByScore(ctx, key,
		formatScore(min),
		formatScore(max),
	).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
