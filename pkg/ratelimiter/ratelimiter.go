package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RateLimiter decides whether a key may spend tokens.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
	AllowN(ctx context.Context, key string, n int) (*Result, error)
}

// Bucket is a token bucket limiter over a Store.
type Bucket struct {
	store  Store
	config Config
}

// NewBucket validates config and returns a limiter backed by store.
func NewBucket(store Store, config Config) (*Bucket, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Bucket{store: store, config: config}, nil
}

func (b *Bucket) Allow(ctx context.Context, key string) (*Result, error) {
	return b.AllowN(ctx, key, 1)
}

func (b *Bucket) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTokenCount, n)
	}
	return b.consume(ctx, key, n)
}

// Status refills the bucket and reports it without spending tokens.
func (b *Bucket) Status(ctx context.Context, key string) (*Result, error) {
	return b.consume(ctx, key, 0)
}

func (b *Bucket) Reset(ctx context.Context, key string) error {
	return b.store.Reset(ctx, key)
}

func (b *Bucket) consume(ctx context.Context, key string, n int) (*Result, error) {
	remaining, resetAt, err := b.store.ConsumeTokens(ctx, key, n, b.config)
	if err != nil {
		return nil, err
	}
	return &Result{Limit: b.config.Capacity, Remaining: remaining, ResetAt: resetAt}, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capacity %d", c.Capacity))
	}
	if c.RefillRate <= 0 {
		errs = append(errs, fmt.Errorf("refill rate %d", c.RefillRate))
	}
	if c.RefillInterval <= 0 {
		errs = append(errs, fmt.Errorf("refill interval %s", c.RefillInterval))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// refill adds whole intervals elapsed since last, capped at capacity. The
// interval count is bounded so huge gaps cannot overflow.
func (c Config) refill(tokens int, last, now time.Time) (int, time.Time) {
	elapsed := int64(now.Sub(last) / c.RefillInterval)
	if elapsed <= 0 {
		return tokens, last
	}
	elapsed = min(elapsed, int64(c.Capacity/c.RefillRate+1))
	return min(tokens+int(elapsed)*c.RefillRate, c.Capacity), now
}
