// Package store defines the backend storage contract for the rate-limiting
// engine.
//
// The Store interface abstracts the atomic operations the algorithm
// strategies need: scripted compound ops (counter increment with limit
// check, token bucket take, leaky bucket take), sorted-set primitives for
// the sliding window log, and plain counters with TTLs. The primary
// implementation is RedisStore (in store/redis), which executes the
// compound ops as server-side Lua scripts so each decision is a single
// atomic round-trip.
//
// A MemoryStore (in store/memory) implements the same contract under one
// mutex for testing and single-process deployments.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a failed or timed-out store round-trip. Callers
// decide the admission policy; the façade fails open on it.
var ErrUnavailable = errors.New("store: unavailable")

// IncrResult is the outcome of an IncrWithLimit call.
type IncrResult struct {
	// Allowed reports whether the counter was below the limit and was
	// incremented.
	Allowed bool
	// Count is the counter value after the call (unchanged when rejected).
	Count int64
	// TTL is the remaining lifetime of the counter's window.
	TTL time.Duration
}

// BucketResult is the outcome of a TokenBucketTake or LeakyBucketTake call.
type BucketResult struct {
	// Allowed reports whether a token was taken (or a queue slot acquired).
	Allowed bool
	// Remaining is the floored number of free tokens or queue slots left.
	Remaining int64
}

// Store abstracts the backend for rate limit state.
// Implementations must be safe for concurrent use, and every method must be
// atomic per key: no decision may observe a half-applied update.
type Store interface {
	// IncrWithLimit atomically increments the counter at key if its current
	// value is below limit. The window TTL is set only when the increment
	// creates the key, so later increments never extend the window.
	IncrWithLimit(ctx context.Context, key string, limit int64, window time.Duration) (IncrResult, error)

	// TokenBucketTake refills the bucket at key based on the elapsed time
	// since the last refill and takes one token if at least one is
	// available. State is kept under key+":tokens" and key+":timestamp"
	// with a one-hour TTL. now is epoch seconds.
	TokenBucketTake(ctx context.Context, key string, capacity int64, refillRate, now float64) (BucketResult, error)

	// LeakyBucketTake drains the queue at key at outflowRate based on the
	// elapsed time since the last leak and occupies one slot if the queue
	// is below capacity. State is kept under key+":queue" and
	// key+":last_leak" with TTL = window. now is epoch seconds.
	LeakyBucketTake(ctx context.Context, key string, capacity int64, outflowRate, now float64, window time.Duration) (BucketResult, error)

	// Get returns the string value for key, or ("", ErrKeyNotFound) if the
	// key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Incr atomically increments key by 1, creating it at 1 if absent.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining TTL for a key.
	// Returns -1s if the key has no TTL, -2s if the key doesn't exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) error

	// ZAdd adds a member with score to the sorted set at key.
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZRemRangeByScore removes sorted set members with scores in [min, max].
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error

	// ZCard returns the number of members in the sorted set at key.
	ZCard(ctx context.Context, key string) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}

// ErrKeyNotFound is returned by Get when the key doesn't exist.
type ErrKeyNotFound struct {
	Key string
}

func (e *ErrKeyNotFound) Error() string {
	return "store: key not found: " + e.Key
}
