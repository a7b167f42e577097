package ratelimiter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/ratelimiter"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNewBucket(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore()

	tests := []struct {
		name   string
		config ratelimiter.Config
	}{
		{"zero capacity", ratelimiter.Config{Capacity: 0, RefillRate: 1, RefillInterval: time.Second}},
		{"zero refill rate", ratelimiter.Config{Capacity: 1, RefillRate: 0, RefillInterval: time.Second}},
		{"zero interval", ratelimiter.Config{Capacity: 1, RefillRate: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ratelimiter.NewBucket(store, tt.config)
			assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
		})
	}
}

// storeFactories builds each store on a shared fake clock.
func storeFactories(t *testing.T) map[string]func(*fakeClock) ratelimiter.Store {
	t.Helper()
	return map[string]func(*fakeClock) ratelimiter.Store{
		"memory": func(clock *fakeClock) ratelimiter.Store {
			return ratelimiter.NewMemoryStore(ratelimiter.WithMemoryClock(clock.Now))
		},
		"redis": func(clock *fakeClock) ratelimiter.Store {
			store, err := ratelimiter.NewRedisStore(newRedisClient(t), ratelimiter.WithRedisClock(clock.Now))
			require.NoError(t, err)
			return store
		},
	}
}

func TestBucket(t *testing.T) {
	t.Parallel()

	config := ratelimiter.Config{Capacity: 3, RefillRate: 1, RefillInterval: time.Second}

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			t.Run("allows up to capacity then denies", func(t *testing.T) {
				t.Parallel()
				ctx := context.Background()
				clock := newFakeClock()
				limiter, err := ratelimiter.NewBucket(factory(clock), config)
				require.NoError(t, err)

				for i := range 3 {
					res, err := limiter.Allow(ctx, "token-a")
					require.NoError(t, err)
					assert.True(t, res.Allowed())
					assert.Equal(t, 2-i, res.Remaining)
					assert.Equal(t, 3, res.Limit)
				}

				res, err := limiter.Allow(ctx, "token-a")
				require.NoError(t, err)
				assert.False(t, res.Allowed())

				other, err := limiter.Allow(ctx, "token-b")
				require.NoError(t, err)
				assert.True(t, other.Allowed())
			})

			t.Run("denied requests do not consume", func(t *testing.T) {
				t.Parallel()
				ctx := context.Background()
				clock := newFakeClock()
				limiter, err := ratelimiter.NewBucket(factory(clock), config)
				require.NoError(t, err)

				_, err = limiter.AllowN(ctx, "k", 3)
				require.NoError(t, err)
				for range 5 {
					res, err := limiter.Allow(ctx, "k")
					require.NoError(t, err)
					assert.Equal(t, -1, res.Remaining)
				}

				clock.Advance(time.Second)
				res, err := limiter.Allow(ctx, "k")
				require.NoError(t, err)
				assert.True(t, res.Allowed())
				assert.Equal(t, 0, res.Remaining)
			})

			t.Run("refills up to capacity", func(t *testing.T) {
				t.Parallel()
				ctx := context.Background()
				clock := newFakeClock()
				limiter, err := ratelimiter.NewBucket(factory(clock), config)
				require.NoError(t, err)

				_, err = limiter.AllowN(ctx, "k", 3)
				require.NoError(t, err)

				clock.Advance(time.Hour)
				res, err := limiter.Status(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, 3, res.Remaining)
				assert.Equal(t, clock.Now().Add(time.Second).Unix(), res.ResetAt.Unix())
			})

			t.Run("reset restores the bucket", func(t *testing.T) {
				t.Parallel()
				ctx := context.Background()
				clock := newFakeClock()
				limiter, err := ratelimiter.NewBucket(factory(clock), config)
				require.NoError(t, err)

				_, err = limiter.AllowN(ctx, "k", 3)
				require.NoError(t, err)
				require.NoError(t, limiter.Reset(ctx, "k"))

				res, err := limiter.Status(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, 3, res.Remaining)
			})

			t.Run("rejects non-positive counts", func(t *testing.T) {
				t.Parallel()
				limiter, err := ratelimiter.NewBucket(factory(newFakeClock()), config)
				require.NoError(t, err)

				_, err = limiter.AllowN(context.Background(), "k", 0)
				assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)
			})
		})
	}
}

func TestMemoryStore_DropsIdleBuckets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clock := newFakeClock()
	store := ratelimiter.NewMemoryStore(ratelimiter.WithMemoryClock(clock.Now))
	limiter, err := ratelimiter.NewBucket(store, ratelimiter.Config{Capacity: 2, RefillRate: 1, RefillInterval: time.Second})
	require.NoError(t, err)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		_, err := limiter.Allow(ctx, ip)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.Len())

	// Three intervals later every bucket would be full again.
	clock.Advance(3 * time.Second)
	res, err := limiter.Allow(ctx, "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, 1, store.Len())
}

func TestResult_RetryAfter(t *testing.T) {
	t.Parallel()

	allowed := &ratelimiter.Result{Remaining: 0, ResetAt: time.Now().Add(time.Minute)}
	assert.Zero(t, allowed.RetryAfter())

	denied := &ratelimiter.Result{Remaining: -1, ResetAt: time.Now().Add(time.Minute)}
	assert.InDelta(t, time.Minute.Seconds(), denied.RetryAfter().Seconds(), 1)

	past := &ratelimiter.Result{Remaining: -1, ResetAt: time.Now().Add(-time.Minute)}
	assert.Zero(t, past.RetryAfter())
}
