package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type memoryBucket struct {
	tokens     int
	lastRefill time.Time
}

// MemoryStore keeps buckets in process memory. It suits a single admin API
// replica; replicas sharing limits need RedisStore.
//
// Buckets idle long enough to be full again are dropped lazily, so the store
// needs no background goroutine.
type MemoryStore struct {
	mu        sync.Mutex
	buckets   map[string]*memoryBucket
	now       func() time.Time
	lastSweep time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if now != nil {
			ms.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{buckets: make(map[string]*memoryBucket), now: time.Now}
	for _, opt := range opts {
		opt(ms)
	}
	ms.lastSweep = ms.now()
	return ms
}

func (ms *MemoryStore) ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (int, time.Time, error) {
	if ctx.Err() != nil {
		return 0, time.Time{}, ErrContextCancelled
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	ms.sweep(now, config.ttl())

	b, ok := ms.buckets[key]
	if !ok {
		b = &memoryBucket{tokens: config.Capacity, lastRefill: now}
		ms.buckets[key] = b
	}
	b.tokens, b.lastRefill = config.refill(b.tokens, b.lastRefill, now)

	resetAt := b.lastRefill.Add(config.RefillInterval)
	if b.tokens < tokens {
		return b.tokens - tokens, resetAt, nil
	}
	b.tokens -= tokens
	return b.tokens, resetAt, nil
}

func (ms *MemoryStore) Reset(_ context.Context, key string) error {
	ms.mu.Lock()
	delete(ms.buckets, key)
	ms.mu.Unlock()
	return nil
}

// Len reports how many buckets are held.
func (ms *MemoryStore) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.buckets)
}

// sweep runs at most once per ttl. Caller holds mu.
func (ms *MemoryStore) sweep(now time.Time, ttl time.Duration) {
	if now.Sub(ms.lastSweep) < ttl {
		return
	}
	ms.lastSweep = now
	for key, b := range ms.buckets {
		if now.Sub(b.lastRefill) >= ttl {
			delete(ms.buckets, key)
		}
	}
}
