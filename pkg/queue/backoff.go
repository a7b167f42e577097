package queue

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before the next attempt.
// attempt is the number of the attempt that just failed, starting at 1.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// BackoffFunc adapts a function to the Backoff interface.
type BackoffFunc func(attempt int) time.Duration

// Delay implements Backoff.
func (f BackoffFunc) Delay(attempt int) time.Duration { return f(attempt) }

// JitteredBackoff spreads the wrapped delay by +/- fraction.
type JitteredBackoff struct {
	base     Backoff
	fraction float64
}

// Delay implements Backoff.
func (b JitteredBackoff) Delay(attempt int) time.Duration {
	d := b.base.Delay(attempt)
	if d <= 0 || b.fraction <= 0 {
		return d
	}
	spread := float64(d) * b.fraction
	jittered := float64(d) + (rand.Float64()*2-1)*spread
	if jittered < 0 {
		return 0
	}
	if jittered >= math.MaxInt64 {
		return maxDelay
	}
	return time.Duration(jittered)
}

// FixedDelay always waits the same amount of time.
type FixedDelay struct {
	Interval time.Duration
}

// FixedBackoff returns a backoff that always waits d.
func FixedBackoff(d time.Duration) FixedDelay {
	return FixedDelay{Interval: d}
}

// Delay implements Backoff.
func (b FixedDelay) Delay(int) time.Duration { return b.Interval }

// WithJitter returns the backoff with +/- fraction random spread.
func (b FixedDelay) WithJitter(fraction float64) JitteredBackoff {
	return JitteredBackoff{base: b, fraction: fraction}
}

// Exponential doubles the delay on every attempt: min(base*2^(n-1), cap).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// ExponentialBackoff returns an exponential backoff capped at max.
// A non-positive max disables the cap.
func ExponentialBackoff(base, max time.Duration) Exponential {
	return Exponential{Base: base, Max: max}
}

// Delay implements Backoff.
func (b Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if d >= math.MaxInt64 {
		return capDelay(maxDelay, b.Max)
	}
	return capDelay(time.Duration(d), b.Max)
}

// WithJitter returns the backoff with +/- fraction random spread.
func (b Exponential) WithJitter(fraction float64) JitteredBackoff {
	return JitteredBackoff{base: b, fraction: fraction}
}

// Linear grows the delay by base on every attempt: min(n*base, cap).
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

// LinearBackoff returns a linear backoff capped at max.
func LinearBackoff(base, max time.Duration) Linear {
	return Linear{Base: base, Max: max}
}

// Delay implements Backoff.
func (b Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Base > 0 && int64(attempt) > int64(maxDelay/b.Base) {
		return capDelay(maxDelay, b.Max)
	}
	return capDelay(time.Duration(attempt)*b.Base, b.Max)
}

// WithJitter returns the backoff with +/- fraction random spread.
func (b Linear) WithJitter(fraction float64) JitteredBackoff {
	return JitteredBackoff{base: b, fraction: fraction}
}

// DefaultBackoff is exponential from 5s capped at 10m with 10% jitter.
func DefaultBackoff() Backoff {
	return ExponentialBackoff(5*time.Second, 10*time.Minute).WithJitter(0.1)
}

// maxDelay is where growing backoffs saturate instead of overflowing.
const maxDelay = time.Duration(math.MaxInt64)

func capDelay(d, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
