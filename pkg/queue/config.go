package queue

import (
	"fmt"
	"regexp"
	"time"
)

// Config holds the process-wide defaults for the job engine
type Config struct {
	KeyPrefix          string        `env:"QUEUE_KEY_PREFIX" envDefault:"jobkit"`
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	LeaseDuration      time.Duration `env:"QUEUE_LEASE_DURATION" envDefault:"30s"`
	StalledInterval    time.Duration `env:"QUEUE_STALLED_INTERVAL" envDefault:"30s"`
	ShutdownTimeout    time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	DefaultConcurrency int           `env:"QUEUE_DEFAULT_CONCURRENCY" envDefault:"5"`
	DefaultMaxAttempts int           `env:"QUEUE_DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
	BackoffBase        time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"5s"`
	BackoffMax         time.Duration `env:"QUEUE_BACKOFF_MAX" envDefault:"10m"`
	ReportTimeout      time.Duration `env:"QUEUE_REPORT_TIMEOUT" envDefault:"5s"`
}

// Queue defaults applied by QueueConfig.withDefaults.
const (
	DefaultConcurrency     = 5
	DefaultMaxAttempts     = 3
	DefaultLeaseDuration   = 30 * time.Second
	DefaultStalledInterval = 30 * time.Second
)

// QueueConfig configures one named queue.
type QueueConfig struct {
	Name             string
	Concurrency      int
	MaxAttempts      int
	DefaultPriority  Priority
	Backoff          Backoff
	LeaseDuration    time.Duration
	StalledInterval  time.Duration
	JobTimeout       time.Duration
	RemoveOnComplete Retention
	RemoveOnFail     Retention
}

// QueueConfig returns a queue config seeded from the process defaults.
func (c Config) QueueConfig(name string) QueueConfig {
	return QueueConfig{
		Name:            name,
		Concurrency:     c.DefaultConcurrency,
		MaxAttempts:     c.DefaultMaxAttempts,
		Backoff:         ExponentialBackoff(c.BackoffBase, c.BackoffMax).WithJitter(0.1),
		LeaseDuration:   c.LeaseDuration,
		StalledInterval: c.StalledInterval,
	}
}

// Queue names end up inside broker keys, so they are kept to a safe alphabet.
var queueNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.\-]{0,63}$`)

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.DefaultPriority == 0 {
		c.DefaultPriority = PriorityDefault
	}
	if c.Backoff == nil {
		c.Backoff = DefaultBackoff()
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	if c.StalledInterval <= 0 {
		c.StalledInterval = DefaultStalledInterval
	}
	return c
}

func (c QueueConfig) validate() error {
	if !queueNamePattern.MatchString(c.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidQueueName, c.Name)
	}
	if !c.DefaultPriority.Valid() {
		return ErrInvalidPriority
	}
	return nil
}
