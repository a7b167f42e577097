package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard runs a side effect at most once per job step.
//
// Jobs are delivered at least once, so a processor that sends an email or
// charges a card wraps that step in Once keyed by the job ID. The step is
// claimed before fn runs and released again if fn fails, so a crash inside fn
// leaves the step claimed until the TTL expires.
type Guard interface {
	Once(ctx context.Context, jobID, step string, fn func(context.Context) error) (executed bool, err error)
}

// DefaultGuardTTL is how long a claimed step is remembered.
const DefaultGuardTTL = 7 * 24 * time.Hour

// RedisGuard claims steps with SET NX.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisGuard creates a guard storing claims under prefix.
func NewRedisGuard(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisGuard {
	if prefix == "" {
		prefix = "jobkit"
	}
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	return &RedisGuard{client: client, prefix: prefix + ":guard", ttl: ttl}
}

func (g *RedisGuard) Once(ctx context.Context, jobID, step string, fn func(context.Context) error) (bool, error) {
	key := g.prefix + ":" + jobID + ":" + step

	claimed, err := g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, brokerError(err)
	}
	if !claimed {
		return false, nil
	}

	if err := fn(ctx); err != nil {
		// release with a fresh context so a cancelled job still frees the step
		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if delErr := g.client.Del(delCtx, key).Err(); delErr != nil {
			return true, errors.Join(err, brokerError(delErr))
		}
		return true, err
	}
	return true, nil
}

// MemoryGuard is an in-process Guard for tests and local development.
type MemoryGuard struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

// NewMemoryGuard creates an empty in-memory guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{claimed: make(map[string]struct{})}
}

func (g *MemoryGuard) Once(ctx context.Context, jobID, step string, fn func(context.Context) error) (bool, error) {
	key := jobID + ":" + step

	g.mu.Lock()
	if _, ok := g.claimed[key]; ok {
		g.mu.Unlock()
		return false, nil
	}
	g.claimed[key] = struct{}{}
	g.mu.Unlock()

	if err := fn(ctx); err != nil {
		g.mu.Lock()
		delete(g.claimed, key)
		g.mu.Unlock()
		return true, err
	}
	return true, nil
}
