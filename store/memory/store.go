// Package memory provides an in-memory implementation of store.Store.
//
// This is useful for testing and single-process deployments. Every
// operation, including the compound ones, runs under a single mutex, which
// gives the same per-key atomicity the Redis store gets from Lua scripts.
//
//	s := memory.New()
//	defer s.Close()
//
// The store takes its notion of time from an injectable clock so tests can
// drive TTL expiry deterministically.
package memory

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/quotagate/quotagate/internal/clock"
	"github.com/quotagate/quotagate/store"
)

// Store implements store.Store with in-memory state.
// All operations are thread-safe.
type Store struct {
	mu      sync.Mutex
	clk     clock.Clock
	data    map[string]entry
	sorted  map[string]*sortedSet
	closeCh chan struct{}
	closed  bool
}

type entry struct {
	value    string
	expireAt time.Time
}

type sortedSet struct {
	entries  []sortedEntry
	expireAt time.Time
}

type sortedEntry struct {
	score  float64
	member string
}

// Option configures the Store.
type Option func(*Store)

// WithClock sets the time source. Default: the system clock.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clk = c }
}

// New creates a new in-memory Store.
func New(opts ...Option) *Store {
	s := &Store{
		clk:     clock.New(),
		data:    make(map[string]entry),
		sorted:  make(map[string]*sortedSet),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.cleanupLoop()
	return s
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.closeCh:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	for k, e := range s.data {
		if !e.expireAt.IsZero() && now.After(e.expireAt) {
			delete(s.data, k)
		}
	}
	for k, set := range s.sorted {
		if !set.expireAt.IsZero() && now.After(set.expireAt) {
			delete(s.sorted, k)
		}
	}
}

func (s *Store) isExpired(e entry) bool {
	return !e.expireAt.IsZero() && s.clk.Now().After(e.expireAt)
}

// sortedLocked returns the live sorted set for key, dropping it if expired.
// Caller must hold s.mu.
func (s *Store) sortedLocked(key string) (*sortedSet, bool) {
	set, ok := s.sorted[key]
	if !ok {
		return nil, false
	}
	if !set.expireAt.IsZero() && s.clk.Now().After(set.expireAt) {
		delete(s.sorted, key)
		return nil, false
	}
	return set, true
}

// getLocked returns the live value for key, dropping it if expired.
// Caller must hold s.mu.
func (s *Store) getLocked(key string) (string, bool) {
	e, ok := s.data[key]
	if !ok || s.isExpired(e) {
		delete(s.data, key)
		return "", false
	}
	return e.value, true
}

func (s *Store) getFloatLocked(key string, fallback float64) float64 {
	raw, ok := s.getLocked(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}

func (s *Store) setLocked(key, value string, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expireAt = s.clk.Now().Add(ttl)
	}
	s.data[key] = e
}

func (s *Store) IncrWithLimit(_ context.Context, key string, limit int64, window time.Duration) (store.IncrResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	raw, ok := s.getLocked(key)
	if ok {
		current, _ = strconv.ParseInt(raw, 10, 64)
	}

	if current >= limit {
		return store.IncrResult{
			Allowed: false,
			Count:   current,
			TTL:     s.ttlLocked(key, window),
		}, nil
	}

	current++
	if ok {
		// Keep the existing window deadline; only a fresh key gets a TTL.
		e := s.data[key]
		e.value = strconv.FormatInt(current, 10)
		s.data[key] = e
	} else {
		s.setLocked(key, strconv.FormatInt(current, 10), window)
	}

	return store.IncrResult{
		Allowed: true,
		Count:   current,
		TTL:     s.ttlLocked(key, window),
	}, nil
}

func (s *Store) TokenBucketTake(_ context.Context, key string, capacity int64, refillRate, now float64) (store.BucketResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokensKey := key + ":tokens"
	tsKey := key + ":timestamp"

	tokens := s.getFloatLocked(tokensKey, float64(capacity))
	lastRefill := s.getFloatLocked(tsKey, now)

	tokens = math.Min(float64(capacity), tokens+(now-lastRefill)*refillRate)

	allowed := false
	if tokens >= 1 {
		tokens--
		allowed = true
	}

	s.setLocked(tokensKey, strconv.FormatFloat(tokens, 'f', -1, 64), time.Hour)
	s.setLocked(tsKey, strconv.FormatFloat(now, 'f', -1, 64), time.Hour)

	return store.BucketResult{
		Allowed:   allowed,
		Remaining: int64(math.Floor(tokens)),
	}, nil
}

func (s *Store) LeakyBucketTake(_ context.Context, key string, capacity int64, outflowRate, now float64, window time.Duration) (store.BucketResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queueKey := key + ":queue"
	leakKey := key + ":last_leak"

	count := int64(s.getFloatLocked(queueKey, 0))
	lastLeak := s.getFloatLocked(leakKey, now)

	leaked := int64(math.Floor((now - lastLeak) * outflowRate))
	if leaked > 0 {
		count -= leaked
		if count < 0 {
			count = 0
		}
	}

	if count >= capacity {
		return store.BucketResult{Allowed: false, Remaining: 0}, nil
	}

	count++
	s.setLocked(queueKey, strconv.FormatInt(count, 10), window)
	s.setLocked(leakKey, strconv.FormatFloat(now, 'f', -1, 64), window)

	return store.BucketResult{
		Allowed:   true,
		Remaining: capacity - count,
	}, nil
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, ok := s.getLocked(key)
	if !ok {
		return "", &store.ErrKeyNotFound{Key: key}
	}
	return val, nil
}

func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	raw, ok := s.getLocked(key)
	if ok {
		current, _ = strconv.ParseInt(raw, 10, 64)
	}
	current++
	if ok {
		e := s.data[key]
		e.value = strconv.FormatInt(current, 10)
		s.data[key] = e
	} else {
		s.setLocked(key, strconv.FormatInt(current, 10), 0)
	}
	return current, nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.data[key]; ok {
		e.expireAt = s.clk.Now().Add(ttl)
		s.data[key] = e
		return nil
	}
	if set, ok := s.sortedLocked(key); ok {
		set.expireAt = s.clk.Now().Add(ttl)
	}
	return nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttlRawLocked(key), nil
}

func (s *Store) ttlRawLocked(key string) time.Duration {
	if e, ok := s.data[key]; ok && !s.isExpired(e) {
		if e.expireAt.IsZero() {
			return -time.Second
		}
		return e.expireAt.Sub(s.clk.Now())
	}
	if set, ok := s.sortedLocked(key); ok {
		if set.expireAt.IsZero() {
			return -time.Second
		}
		return set.expireAt.Sub(s.clk.Now())
	}
	return -2 * time.Second
}

// ttlLocked is ttlRawLocked with a fallback for keys without a deadline.
func (s *Store) ttlLocked(key string, fallback time.Duration) time.Duration {
	if d := s.ttlRawLocked(key); d > 0 {
		return d
	}
	return fallback
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.data, k)
		delete(s.sorted, k)
	}
	return nil
}

func (s *Store) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sortedLocked(key)
	if !ok {
		set = &sortedSet{}
		s.sorted[key] = set
	}
	for i, e := range set.entries {
		if e.member == member {
			set.entries = append(set.entries[:i], set.entries[i+1:]...)
			break
		}
	}
	set.entries = append(set.entries, sortedEntry{score: score, member: member})
	sort.Slice(set.entries, func(i, j int) bool {
		return set.entries[i].score < set.entries[j].score
	})
	return nil
}

func (s *Store) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sortedLocked(key)
	if !ok {
		return nil
	}
	filtered := set.entries[:0]
	for _, e := range set.entries {
		if e.score < min || e.score > max {
			filtered = append(filtered, e)
		}
	}
	set.entries = filtered
	return nil
}

func (s *Store) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sortedLocked(key)
	if !ok {
		return 0, nil
	}
	return int64(len(set.entries)), nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	return nil
}
