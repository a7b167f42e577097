package monitor

import (
	"time"

	"github.com/dmitrymomot/jobkit/pkg/ratelimiter"
)

// Config holds monitoring thresholds and admin API settings.
type Config struct {
	AdminToken     string        `env:"MONITOR_ADMIN_TOKEN"`
	Window         time.Duration `env:"MONITOR_WINDOW" envDefault:"15m"`
	FailedWarning  int64         `env:"MONITOR_FAILED_WARNING" envDefault:"50"`
	FailedCritical int64         `env:"MONITOR_FAILED_CRITICAL" envDefault:"200"`
	WaitingStall   int64         `env:"MONITOR_WAITING_STALL" envDefault:"100"`
	StalledWarning int           `env:"MONITOR_STALLED_WARNING" envDefault:"10"`
	SampleSize     int           `env:"MONITOR_SAMPLE_SIZE" envDefault:"10"`
	TrustProxy     bool          `env:"MONITOR_TRUST_PROXY" envDefault:"false"`

	RateLimit ratelimiter.Config `envPrefix:"MONITOR_"`
}

// Defaults used when a Config field is zero.
const (
	DefaultWindow         = 15 * time.Minute
	DefaultFailedWarning  = 50
	DefaultFailedCritical = 200
	DefaultWaitingStall   = 100
	DefaultStalledWarning = 10
	DefaultSampleSize     = 10
	DefaultFailedLimit    = 50
	MaxFailedLimit        = 500

	// maxSamplesPerQueue bounds the performance window memory per queue.
	maxSamplesPerQueue = 10000
)

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.FailedWarning <= 0 {
		c.FailedWarning = DefaultFailedWarning
	}
	if c.FailedCritical <= 0 {
		c.FailedCritical = DefaultFailedCritical
	}
	if c.WaitingStall <= 0 {
		c.WaitingStall = DefaultWaitingStall
	}
	if c.StalledWarning <= 0 {
		c.StalledWarning = DefaultStalledWarning
	}
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.RateLimit.Capacity <= 0 {
		c.RateLimit.Capacity = 60
	}
	if c.RateLimit.RefillRate <= 0 {
		c.RateLimit.RefillRate = 1
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = time.Second
	}
	return c
}
