// Package ratelimiter implements token bucket rate limiting for the admin API.
//
// A Bucket holds Capacity tokens and gains RefillRate tokens every
// RefillInterval. Each request takes one token; denied requests take none.
//
//	bucket, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{
//		Capacity:       60,
//		RefillRate:     1,
//		RefillInterval: time.Second,
//	})
//	router.Use(ratelimiter.Middleware(bucket, func(r *http.Request) string {
//		return clientip.FromContext(r.Context())
//	}))
//
// Middleware sets X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset,
// plus Retry-After when a request is denied. An empty key is not limited.
//
// MemoryStore is for a single process and lazily drops buckets that would
// be full again.
// RedisStore refills and consumes in one Lua script, so every jobsd replica
// shares the same buckets:
//
//	store, err := ratelimiter.NewRedisStore(client, ratelimiter.WithRedisKeyPrefix("jobkit:ratelimit"))
package ratelimiter
