package monitor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/audit"
	"github.com/dmitrymomot/jobkit/pkg/monitor"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// MockAuditor is a mock implementation of monitor.Auditor
type MockAuditor struct {
	mock.Mock
}

func (m *MockAuditor) Log(ctx context.Context, action string, opts ...audit.EventOption) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

func (m *MockAuditor) LogError(ctx context.Context, action string, err error, opts ...audit.EventOption) error {
	args := m.Called(ctx, action, err)
	return args.Error(0)
}

func auditEvents(t *testing.T, storage *audit.MemoryStorage, action string) []audit.Event {
	t.Helper()

	events, err := storage.Query(context.Background(), audit.Criteria{Action: action})
	require.NoError(t, err)
	return events
}

func TestMonitor_RetryFailedJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	storage := audit.NewMemoryStorage()
	m := f.monitor(t, monitor.Config{}, monitor.WithAuditor(audit.NewLogger(storage)))
	ids := f.failReports(t, 1)

	res, err := m.RetryFailedJob(ctx, "reports", ids[0])
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Count)

	job, err := m.Job(ctx, "reports", ids[0])
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, job.State)

	// The job is waiting now, so a second retry changes nothing.
	res, err = m.RetryFailedJob(ctx, "reports", ids[0])
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not failed")

	_, err = m.RetryFailedJob(ctx, "reports", "missing")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	_, err = m.RetryFailedJob(ctx, "invoices", ids[0])
	assert.ErrorIs(t, err, queue.ErrUnknownQueue)

	events := auditEvents(t, storage, monitor.ActionRetryJob)
	require.Len(t, events, 3)
	var failures int
	for _, ev := range events {
		assert.Equal(t, "job", ev.Resource)
		assert.Equal(t, "reports", ev.Metadata["queue"])
		if ev.Result == audit.ResultError {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestMonitor_RetryAllFailedJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	storage := audit.NewMemoryStorage()
	m := f.monitor(t, monitor.Config{}, monitor.WithAuditor(audit.NewLogger(storage)))
	f.failReports(t, 3)

	res, err := m.RetryAllFailedJobs(ctx, "reports")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Count)

	res, err = m.RetryAllFailedJobs(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)

	assert.Len(t, auditEvents(t, storage, monitor.ActionRetryAll), 2)
}

func TestMonitor_Clean(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	storage := audit.NewMemoryStorage()
	m := f.monitor(t, monitor.Config{}, monitor.WithAuditor(audit.NewLogger(storage)))
	f.failReports(t, 2)

	res, err := m.CleanFailedJobs(ctx, "reports", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)

	f.clock.Advance(2 * time.Hour)
	res, err = m.CleanFailedJobs(ctx, "reports", time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Count)

	res, err = m.CleanCompletedJobs(ctx, "reports", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)

	_, err = m.CleanCompletedJobs(ctx, "reports", -time.Second)
	assert.ErrorIs(t, err, monitor.ErrInvalidParameter)

	assert.Len(t, auditEvents(t, storage, monitor.ActionCleanFailed), 2)
	assert.Len(t, auditEvents(t, storage, monitor.ActionCleanCompleted), 1)
}

func TestMonitor_RemoveJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	storage := audit.NewMemoryStorage()
	m := f.monitor(t, monitor.Config{}, monitor.WithAuditor(audit.NewLogger(storage)))
	ids := f.failReports(t, 1)

	res, err := m.RemoveJob(ctx, "reports", ids[0])
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = m.RemoveJob(ctx, "reports", ids[0])
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	events := auditEvents(t, storage, monitor.ActionRemoveJob)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ResultError, events[0].Result)
	assert.Equal(t, audit.ResultSuccess, events[1].Result)

	t.Run("active job", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		m := f.monitor(t, monitor.Config{})
		f.enqueueEmails(t, 1)

		job, err := f.broker.Lease(ctx, "emails", "w1", time.Minute)
		require.NoError(t, err)

		res, err := m.RemoveJob(ctx, "emails", job.ID)
		require.NoError(t, err)
		assert.True(t, res.Success)

		_, err = m.Job(ctx, "emails", job.ID)
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
		assert.ErrorIs(t, f.broker.Complete(ctx, "emails", job.ID, "w1", queue.Retention{}), queue.ErrLeaseLost)
	})
}

func TestMonitor_PauseResume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	m := f.monitor(t, monitor.Config{})

	for range 2 {
		res, err := m.PauseQueue(ctx, "emails")
		require.NoError(t, err)
		assert.True(t, res.Success)
	}
	stats, err := m.QueueStats(ctx, "emails")
	require.NoError(t, err)
	assert.True(t, stats.Paused)

	res, err := m.ResumeQueue(ctx, "emails")
	require.NoError(t, err)
	assert.True(t, res.Success)
	stats, err = m.QueueStats(ctx, "emails")
	require.NoError(t, err)
	assert.False(t, stats.Paused)

	_, err = m.PauseQueue(ctx, "invoices")
	assert.ErrorIs(t, err, queue.ErrUnknownQueue)
}

func TestMonitor_AuditFailureDoesNotFailMutation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	auditor := &MockAuditor{}
	auditor.On("Log", mock.Anything, monitor.ActionPauseQueue).Return(errors.New("audit store offline"))

	f := newFixture(t)
	m := f.monitor(t, monitor.Config{}, monitor.WithAuditor(auditor))

	res, err := m.PauseQueue(ctx, "emails")
	require.NoError(t, err)
	assert.True(t, res.Success)
	auditor.AssertExpectations(t)
}

func TestMonitor_AuditLog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	m := f.monitor(t, monitor.Config{})
	_, err := m.AuditLog(ctx, audit.Criteria{})
	assert.ErrorIs(t, err, monitor.ErrAuditUnavailable)

	storage := audit.NewMemoryStorage()
	m = f.monitor(t, monitor.Config{},
		monitor.WithAuditor(audit.NewLogger(storage)),
		monitor.WithAuditReader(audit.NewReader(storage)),
	)
	_, err = m.PauseQueue(ctx, "emails")
	require.NoError(t, err)

	events, err := m.AuditLog(ctx, audit.Criteria{Resource: "queue"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, monitor.ActionPauseQueue, events[0].Action)
	assert.Equal(t, "emails", events[0].ResourceID)
}
