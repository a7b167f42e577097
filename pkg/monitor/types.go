package monitor

import (
	"time"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// HealthStatus is the health of a queue or of the whole engine.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

func (s HealthStatus) rank() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	}
	return 0
}

// worst returns the more severe of two statuses.
func worst(a, b HealthStatus) HealthStatus {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// QueueSummary is one queue's line in OverallStats.
type QueueSummary struct {
	Name         string       `json:"name"`
	Counts       queue.Counts `json:"counts"`
	Paused       bool         `json:"paused"`
	Concurrency  int          `json:"concurrency"`
	HasProcessor bool         `json:"has_processor"`
	LocalActive  int          `json:"local_active"`
}

// OverallStats sums counts over every registered queue.
type OverallStats struct {
	BrokerConnected bool           `json:"broker_connected"`
	Totals          queue.Counts   `json:"totals"`
	Queues          []QueueSummary `json:"queues"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// JobSamples holds a few jobs of each interesting state.
type JobSamples struct {
	Waiting []*queue.Job `json:"waiting"`
	Active  []*queue.Job `json:"active"`
	Failed  []*queue.Job `json:"failed"`
}

// QueueStats is the detailed view of one queue.
type QueueStats struct {
	QueueSummary
	MaxAttempts int        `json:"max_attempts"`
	Samples     JobSamples `json:"samples"`
}

// Performance is derived from lifecycle events seen in the sliding window.
type Performance struct {
	Queue               string        `json:"queue"`
	Window              time.Duration `json:"window"`
	Completed           int64         `json:"completed"`
	Failed              int64         `json:"failed"`
	Retried             int64         `json:"retried"`
	Stalled             int64         `json:"stalled"`
	AvgProcessingTime   time.Duration `json:"avg_processing_time"`
	SuccessRate         float64       `json:"success_rate"`
	ThroughputPerMinute float64       `json:"throughput_per_minute"`
}

// QueueHealth is the health verdict for one queue.
type QueueHealth struct {
	Queue   string       `json:"queue"`
	Status  HealthStatus `json:"status"`
	Issues  []string     `json:"issues,omitempty"`
	Counts  queue.Counts `json:"counts"`
	Paused  bool         `json:"paused"`
	Stalled int64        `json:"stalled"`
}

// Health is the overall verdict: the worst queue status, or critical when the
// broker cannot be reached.
type Health struct {
	Status          HealthStatus  `json:"status"`
	BrokerConnected bool          `json:"broker_connected"`
	BrokerError     string        `json:"broker_error,omitempty"`
	Queues          []QueueHealth `json:"queues"`
	CheckedAt       time.Time     `json:"checked_at"`
}

// Result is returned by every admin mutation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count,omitempty"`
}
