package queue

import (
	"context"
	"time"
)

// EnqueueBroker defines the broker operations needed to add jobs
type EnqueueBroker interface {
	// Add stores a new job. created is false when a job with the same ID
	// already exists in the queue; the existing job is left untouched.
	Add(ctx context.Context, job *Job) (created bool, err error)
}

// WorkerBroker defines the broker operations needed by workers
type WorkerBroker interface {
	// Lease promotes due delayed jobs and atomically leases the best waiting job.
	// Returns ErrNoJobAvailable when nothing is leasable or the queue is paused.
	Lease(ctx context.Context, queue, workerID string, lease time.Duration) (*Job, error)
	Complete(ctx context.Context, queue, jobID, workerID string, keep Retention) error
	// Fail records a failed attempt and returns the job's new state
	// (StateDelayed for a retry, StateFailed when attempts are exhausted).
	Fail(ctx context.Context, queue, jobID, workerID string, f Failure) (JobState, error)
	ExtendLease(ctx context.Context, queue, jobID, workerID string, lease time.Duration) error
	UpdateProgress(ctx context.Context, queue, jobID, workerID string, progress int) error
	// RequeueStalled recovers active jobs whose lease expired.
	RequeueStalled(ctx context.Context, queue string, keep Retention) ([]StalledJob, error)
	// WaitForJob blocks until the queue is signalled or the timeout elapses.
	WaitForJob(ctx context.Context, queue string, timeout time.Duration) error
	PublishEvent(ctx context.Context, ev Event) error
}

// AdminBroker defines the broker operations used for monitoring and administration
type AdminBroker interface {
	Pause(ctx context.Context, queue string) error
	Resume(ctx context.Context, queue string) error
	IsPaused(ctx context.Context, queue string) (bool, error)
	Counts(ctx context.Context, queue string) (Counts, error)
	Jobs(ctx context.Context, queue string, state JobState, offset, limit int) ([]*Job, error)
	Job(ctx context.Context, queue, jobID string) (*Job, error)
	// Retry moves a failed job back to waiting with attempts reset.
	// retried is false when the job is not in the failed state.
	Retry(ctx context.Context, queue, jobID string) (retried bool, err error)
	// Remove deletes a job in any state. Returns ErrJobNotFound for unknown jobs.
	Remove(ctx context.Context, queue, jobID string) error
	// Clean removes finished jobs older than olderThan, at most limit (0 = all).
	Clean(ctx context.Context, queue string, state JobState, olderThan time.Duration, limit int) (int, error)
	SubscribeEvents(ctx context.Context) (<-chan Event, error)
	Ping(ctx context.Context) error
}

// Broker is the complete durable store used by the engine
type Broker interface {
	EnqueueBroker
	WorkerBroker
	AdminBroker
}
