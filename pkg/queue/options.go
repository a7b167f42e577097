package queue

import (
	"log/slog"
	"time"
)

// EngineOption is a functional option for configuring an Engine
type EngineOption func(*engineOptions)

type engineOptions struct {
	logger        *slog.Logger
	reporter      ErrorReporter
	reportTimeout time.Duration
	pollInterval  time.Duration
	now           func() time.Time
}

// WithLogger sets the engine logger. Workers and the event pump inherit it.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithErrorReporter sets the reporter notified about terminal failures and stalls.
func WithErrorReporter(r ErrorReporter) EngineOption {
	return func(o *engineOptions) {
		if r != nil {
			o.reporter = r
		}
	}
}

// WithReportTimeout bounds a single error report.
func WithReportTimeout(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		if d > 0 {
			o.reportTimeout = d
		}
	}
}

// WithPollInterval sets how long an idle worker waits for the broker wake-up
// signal before trying again. Delayed jobs become visible at most this late.
func WithPollInterval(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithClock overrides the engine clock used for job timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(o *engineOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// EnqueueOption is a functional option for the Enqueue method
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority    Priority
	maxAttempts int
	delay       time.Duration
	scheduledAt *time.Time
	jobID       string
}

// WithPriority sets the priority for the job. Lower values are leased first.
func WithPriority(priority Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = priority
	}
}

// WithMaxAttempts overrides the queue's max attempts for one job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.maxAttempts = n
	}
}

// WithDelay delays the job; it joins priority ordering once the delay elapses.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithScheduledAt makes the job eligible at the given time.
func WithScheduledAt(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.scheduledAt = &t
	}
}

// WithJobID sets a caller supplied job ID. Enqueueing the same ID twice into
// one queue returns the existing job instead of creating a second one.
func WithJobID(id string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.jobID = id
	}
}

// ProcessorOption overrides queue settings for a registered processor.
type ProcessorOption func(*QueueConfig)

// WithConcurrency sets how many jobs the queue's worker runs at once.
func WithConcurrency(n int) ProcessorOption {
	return func(c *QueueConfig) {
		if n > 0 {
			c.Concurrency = n
		}
	}
}

// WithLeaseDuration sets how long a leased job stays owned without renewal.
func WithLeaseDuration(d time.Duration) ProcessorOption {
	return func(c *QueueConfig) {
		if d > 0 {
			c.LeaseDuration = d
		}
	}
}

// WithStalledInterval sets how often the worker looks for expired leases.
func WithStalledInterval(d time.Duration) ProcessorOption {
	return func(c *QueueConfig) {
		if d > 0 {
			c.StalledInterval = d
		}
	}
}

// WithJobTimeout bounds a single processor execution.
func WithJobTimeout(d time.Duration) ProcessorOption {
	return func(c *QueueConfig) {
		if d > 0 {
			c.JobTimeout = d
		}
	}
}

// WithBackoff sets the retry backoff for the queue.
func WithBackoff(b Backoff) ProcessorOption {
	return func(c *QueueConfig) {
		if b != nil {
			c.Backoff = b
		}
	}
}
