package monitor

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// OverallStats sums counts over every registered queue.
// When the broker is unreachable it reports BrokerConnected=false with the
// queue list but no counts.
func (m *Monitor) OverallStats(ctx context.Context) (OverallStats, error) {
	stats := OverallStats{GeneratedAt: m.now()}
	queues := m.engine.Queues()

	if err := m.engine.Ping(ctx); err != nil {
		m.logger.WarnContext(ctx, "broker unreachable", logger.Error(err))
		for _, q := range queues {
			stats.Queues = append(stats.Queues, describe(q))
		}
		return stats, nil
	}
	stats.BrokerConnected = true

	stats.Queues = make([]QueueSummary, 0, len(queues))
	for _, q := range queues {
		summary, err := m.summarize(ctx, q)
		if err != nil {
			return OverallStats{}, err
		}
		stats.Totals = stats.Totals.Add(summary.Counts)
		stats.Queues = append(stats.Queues, summary)
	}
	return stats, nil
}

// QueueStats returns counts and a bounded sample of jobs for one queue.
func (m *Monitor) QueueStats(ctx context.Context, name string) (QueueStats, error) {
	q, err := m.engine.Queue(name)
	if err != nil {
		return QueueStats{}, err
	}

	summary, err := m.summarize(ctx, q)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{QueueSummary: summary, MaxAttempts: q.Config().MaxAttempts}

	for _, s := range []struct {
		state queue.JobState
		dst   *[]*queue.Job
	}{
		{queue.StateWaiting, &stats.Samples.Waiting},
		{queue.StateActive, &stats.Samples.Active},
		{queue.StateFailed, &stats.Samples.Failed},
	} {
		jobs, err := q.Jobs(ctx, s.state, 0, m.cfg.SampleSize)
		if err != nil {
			return QueueStats{}, fmt.Errorf("sample %s jobs: %w", s.state, err)
		}
		*s.dst = nonNil(jobs)
	}
	return stats, nil
}

// Performance reports figures derived from the sliding event window.
func (m *Monitor) Performance(name string) (Performance, error) {
	if _, err := m.engine.Queue(name); err != nil {
		return Performance{}, err
	}

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.win.prune(now)
	return m.win.performance(name, m.elapsed(now)), nil
}

// FailedJobs lists failed jobs across all queues, most recently failed first.
func (m *Monitor) FailedJobs(ctx context.Context, limit int) ([]*queue.Job, error) {
	if limit <= 0 {
		limit = DefaultFailedLimit
	}
	limit = min(limit, MaxFailedLimit)

	var failed []*queue.Job
	for _, q := range m.engine.Queues() {
		jobs, err := q.Jobs(ctx, queue.StateFailed, 0, limit)
		if err != nil {
			return nil, fmt.Errorf("list failed jobs of %s: %w", q.Name(), err)
		}
		failed = append(failed, jobs...)
	}

	slices.SortStableFunc(failed, func(a, b *queue.Job) int {
		return cmp.Compare(finishedAt(b), finishedAt(a))
	})
	if len(failed) > limit {
		failed = failed[:limit]
	}
	return nonNil(failed), nil
}

// ScheduledTriggers returns the scheduler's triggers, or an empty list when
// no scheduler was attached.
func (m *Monitor) ScheduledTriggers() []queue.TriggerStatus {
	if m.scheduler == nil {
		return []queue.TriggerStatus{}
	}
	return m.scheduler.Triggers()
}

func (m *Monitor) summarize(ctx context.Context, q *queue.Queue) (QueueSummary, error) {
	summary := describe(q)

	counts, err := q.Counts(ctx)
	if err != nil {
		return QueueSummary{}, fmt.Errorf("count jobs of %s: %w", q.Name(), err)
	}
	paused, err := q.IsPaused(ctx)
	if err != nil {
		return QueueSummary{}, fmt.Errorf("read pause state of %s: %w", q.Name(), err)
	}

	summary.Counts = counts
	summary.Paused = paused
	return summary, nil
}

func describe(q *queue.Queue) QueueSummary {
	s := QueueSummary{
		Name:         q.Name(),
		Concurrency:  q.Config().Concurrency,
		HasProcessor: q.HasProcessor(),
	}
	if w := q.Worker(); w != nil {
		s.LocalActive = w.Active()
	}
	return s
}

func nonNil(jobs []*queue.Job) []*queue.Job {
	if jobs == nil {
		return []*queue.Job{}
	}
	return jobs
}

func finishedAt(j *queue.Job) int64 {
	if j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.UnixNano()
}

// Jobs pages through one queue's jobs in the given state.
func (m *Monitor) Jobs(ctx context.Context, queueName string, state queue.JobState, offset, limit int) ([]*queue.Job, error) {
	q, err := m.engine.Queue(queueName)
	if err != nil {
		return nil, err
	}
	jobs, err := q.Jobs(ctx, state, offset, limit)
	if err != nil {
		return nil, err
	}
	return nonNil(jobs), nil
}

// Job returns a single job with its payload.
func (m *Monitor) Job(ctx context.Context, queueName, jobID string) (*queue.Job, error) {
	q, err := m.engine.Queue(queueName)
	if err != nil {
		return nil, err
	}
	return q.Job(ctx, jobID)
}

// parseState reads a job state filter, defaulting to waiting.
func parseState(raw string) (queue.JobState, error) {
	if raw == "" {
		return queue.StateWaiting, nil
	}
	state := queue.JobState(raw)
	if !state.Valid() {
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidParameter, raw)
	}
	return state, nil
}
