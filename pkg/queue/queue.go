package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// retryAllBatch is how many failed jobs RetryAll reads per round trip.
const retryAllBatch = 100

// Queue is a registered named queue. Queues are never destroyed; they are
// paused and resumed.
type Queue struct {
	cfg       QueueConfig
	broker    Broker
	processor processor
	worker    *Worker
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.cfg.Name }

// Config returns the effective queue configuration.
func (q *Queue) Config() QueueConfig { return q.cfg }

// HasProcessor reports whether a processor is registered for the queue.
func (q *Queue) HasProcessor() bool { return q.processor != nil }

// Worker returns the queue's worker, or nil when no processor is registered.
func (q *Queue) Worker() *Worker { return q.worker }

// Pause stops new leases. Jobs already running finish normally.
func (q *Queue) Pause(ctx context.Context) error {
	return q.broker.Pause(ctx, q.cfg.Name)
}

// Resume lets workers lease again.
func (q *Queue) Resume(ctx context.Context) error {
	return q.broker.Resume(ctx, q.cfg.Name)
}

func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	return q.broker.IsPaused(ctx, q.cfg.Name)
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	return q.broker.Counts(ctx, q.cfg.Name)
}

// Jobs lists jobs in state. Waiting jobs come in lease order, finished jobs
// newest first.
func (q *Queue) Jobs(ctx context.Context, state JobState, offset, limit int) ([]*Job, error) {
	return q.broker.Jobs(ctx, q.cfg.Name, state, offset, limit)
}

func (q *Queue) Job(ctx context.Context, jobID string) (*Job, error) {
	return q.broker.Job(ctx, q.cfg.Name, jobID)
}

// Retry moves a failed job back to waiting with its attempts reset.
// It returns false without error when the job is not failed.
func (q *Queue) Retry(ctx context.Context, jobID string) (bool, error) {
	return q.broker.Retry(ctx, q.cfg.Name, jobID)
}

// RetryAll retries every failed job and returns how many were retried.
func (q *Queue) RetryAll(ctx context.Context) (int, error) {
	total := 0
	for {
		jobs, err := q.broker.Jobs(ctx, q.cfg.Name, StateFailed, 0, retryAllBatch)
		if err != nil {
			return total, err
		}
		if len(jobs) == 0 {
			return total, nil
		}

		retried := 0
		for _, job := range jobs {
			ok, err := q.broker.Retry(ctx, q.cfg.Name, job.ID)
			if err != nil && !errors.Is(err, ErrJobNotFound) {
				return total, fmt.Errorf("retry job %s: %w", job.ID, err)
			}
			if ok {
				retried++
			}
		}
		total += retried

		if retried == 0 {
			return total, nil
		}
	}
}

// Remove deletes a job. Removing a waiting job is immediate; removing an
// active job only drops its record, the running processor finishes and its
// result is discarded.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	return q.broker.Remove(ctx, q.cfg.Name, jobID)
}

// Clean removes completed or failed jobs finished more than olderThan ago,
// at most limit of them (0 = no limit).
func (q *Queue) Clean(ctx context.Context, state JobState, olderThan time.Duration, limit int) (int, error) {
	return q.broker.Clean(ctx, q.cfg.Name, state, olderThan, limit)
}
