package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/jobkit/pkg/audit"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Audit actions recorded for admin mutations.
const (
	ActionRetryJob       = "job.retry"
	ActionRetryAll       = "queue.retry_all"
	ActionCleanCompleted = "queue.clean_completed"
	ActionCleanFailed    = "queue.clean_failed"
	ActionRemoveJob      = "job.remove"
	ActionPauseQueue     = "queue.pause"
	ActionResumeQueue    = "queue.resume"
)

// ErrAuditUnavailable is returned by AuditLog when no reader is attached.
var ErrAuditUnavailable = errors.New("audit log is not configured")

// RetryFailedJob moves a failed job back to waiting. Retrying a job that is
// not failed is a no-op reported with Success=false.
func (m *Monitor) RetryFailedJob(ctx context.Context, queueName, jobID string) (Result, error) {
	q, err := m.engine.Queue(queueName)
	if err != nil {
		return Result{}, err
	}

	ok, err := q.Retry(ctx, jobID)
	m.record(ctx, ActionRetryJob, err, audit.WithResource("job", jobID), audit.WithMetadata("queue", queueName))
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Message: fmt.Sprintf("job %s is not failed", jobID)}, nil
	}
	return Result{Success: true, Message: fmt.Sprintf("job %s queued for retry", jobID), Count: 1}, nil
}

// RetryAllFailedJobs retries every failed job of a queue.
func (m *Monitor) RetryAllFailedJobs(ctx context.Context, queueName string) (Result, error) {
	q, err := m.engine.Queue(queueName)
	if err != nil {
		return Result{}, err
	}

	n, err := q.RetryAll(ctx)
	m.record(ctx, ActionRetryAll, err, audit.WithResource("queue", queueName), audit.WithMetadata("count", n))
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, Message: fmt.Sprintf("%d failed jobs queued for retry", n), Count: n}, nil
}

// CleanCompletedJobs removes completed jobs finished more than olderThan ago.
func (m *Monitor) CleanCompletedJobs(ctx context.Context, queueName string, olderThan time.Duration) (Result, error) {
	return m.clean(ctx, ActionCleanCompleted, queueName, queue.StateCompleted, olderThan)
}

// CleanFailedJobs removes failed jobs finished more than olderThan ago.
func (m *Monitor) CleanFailedJobs(ctx context.Context, queueName string, olderThan time.Duration) (Result, error) {
	return m.clean(ctx, ActionCleanFailed, queueName, queue.StateFailed, olderThan)
}

func (m *Monitor) clean(ctx context.Context, action, queueName string, state queue.JobState, olderThan time.Duration) (Result, error) {
	q, err := m.engine.Queue(queueName)
	if err != nil {
		return Result{}, err
	}
	if olderThan < 0 {
		return Result{}, fmt.Errorf("%w: negative age", ErrInvalidParameter)
	}

	n, err := q.Clean(ctx, state, olderThan, 0)
	m.record(ctx, action, err,
		audit.WithResource("queue", queueName),
		audit.WithMetadata("older_than", olderThan.String()),
		audit.WithMetadata("count", n),
	)
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, Message: fmt.Sprintf("removed %d %s jobs", n, state), Count: n}, nil
}

// RemoveJob deletes a job in any state. Removing an active job drops its
// record and the running processor's result is discarded. A missing job is
// reported as queue.ErrJobNotFound.
func (m *Monitor) RemoveJob(ctx context.Context, queueName, jobID string) (Result, error) {
	q, err := m.engine.Queue(queueName)
	if err != nil {
		return Result{}, err
	}

	err = q.Remove(ctx, jobID)
	m.record(ctx, ActionRemoveJob, err, audit.WithResource("job", jobID), audit.WithMetadata("queue", queueName))
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, Message: fmt.Sprintf("job %s removed", jobID), Count: 1}, nil
}

// PauseQueue stops new leases on a queue. Pausing a paused queue succeeds.
func (m *Monitor) PauseQueue(ctx context.Context, queueName string) (Result, error) {
	q, err := m.engine.Queue(queueName)
	if err != nil {
		return Result{}, err
	}

	err = q.Pause(ctx)
	m.record(ctx, ActionPauseQueue, err, audit.WithResource("queue", queueName))
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, Message: fmt.Sprintf("queue %s paused", queueName)}, nil
}

// ResumeQueue lets workers lease from a queue again.
func (m *Monitor) ResumeQueue(ctx context.Context, queueName string) (Result, error) {
	q, err := m.engine.Queue(queueName)
	if err != nil {
		return Result{}, err
	}

	err = q.Resume(ctx)
	m.record(ctx, ActionResumeQueue, err, audit.WithResource("queue", queueName))
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, Message: fmt.Sprintf("queue %s resumed", queueName)}, nil
}

// AuditLog returns recorded admin actions matching criteria, newest first.
func (m *Monitor) AuditLog(ctx context.Context, criteria audit.Criteria) ([]audit.Event, error) {
	if m.auditReader == nil {
		return nil, ErrAuditUnavailable
	}
	return m.auditReader.Find(ctx, criteria)
}

// record writes the audit entry for a mutation. Audit failures are logged and
// never fail the mutation itself.
func (m *Monitor) record(ctx context.Context, action string, opErr error, opts ...audit.EventOption) {
	if m.auditor == nil {
		return
	}

	var err error
	if opErr != nil {
		err = m.auditor.LogError(ctx, action, opErr, opts...)
	} else {
		err = m.auditor.Log(ctx, action, opts...)
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to record audit event",
			logger.Event(action),
			logger.Error(err),
		)
	}
}
