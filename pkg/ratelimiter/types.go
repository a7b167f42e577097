package ratelimiter

import "time"

// Result contains the result of a rate limit check.
type Result struct {
	Limit     int       // Maximum tokens (bucket capacity)
	Remaining int       // Tokens remaining, negative when the request was denied
	ResetAt   time.Time // Time when tokens will be refilled
}

// Allowed returns whether the request is allowed based on remaining tokens.
func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// RetryAfter returns how long to wait before the next request.
// Returns 0 if the request was allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed() {
		return 0
	}
	return max(0, time.Until(r.ResetAt))
}

// Config defines the token bucket configuration.
type Config struct {
	// Capacity is the maximum tokens the bucket can hold (burst limit).
	Capacity int `env:"RATELIMIT_CAPACITY" envDefault:"60"`
	// RefillRate is the number of tokens added per refill interval.
	RefillRate int `env:"RATELIMIT_REFILL_RATE" envDefault:"1"`
	// RefillInterval is how often tokens are added.
	RefillInterval time.Duration `env:"RATELIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// ttl is how long an idle bucket must be kept before it would be full again anyway.
func (c Config) ttl() time.Duration {
	intervals := c.Capacity/c.RefillRate + 1
	return max(time.Second, time.Duration(intervals)*c.RefillInterval)
}
