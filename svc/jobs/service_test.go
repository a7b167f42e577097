package jobs_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/email"
	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/svc/jobs"
)

func TestRegisterQueues(t *testing.T) {
	t.Parallel()

	engine, _ := newJobsEngine(t)

	queues := engine.Queues()
	require.Len(t, queues, len(jobs.Queues))
	for _, spec := range jobs.Queues {
		q, err := engine.Queue(spec.Name)
		require.NoError(t, err)
		assert.Equal(t, spec.Concurrency, q.Config().Concurrency, spec.Name)
		assert.Equal(t, spec.MaxAttempts, q.Config().MaxAttempts, spec.Name)
		assert.Equal(t, spec.JobTimeout, q.Config().JobTimeout, spec.Name)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	t.Run("reports missing dependencies", func(t *testing.T) {
		t.Parallel()

		engine, _ := newJobsEngine(t)
		err := jobs.Register(engine, jobs.Config{}, jobs.Deps{})

		require.ErrorIs(t, err, jobs.ErrMissingDependency)
		for _, dep := range []string{"email sender", "file storage", "guard", "backup dumper"} {
			assert.Contains(t, err.Error(), dep)
		}
	})

	t.Run("processes enqueued jobs", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		broker := queue.NewMemoryBroker()
		engine, err := queue.NewEngine(broker,
			queue.WithLogger(discardLogger()),
			queue.WithPollInterval(10*time.Millisecond),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = engine.Close() })
		require.NoError(t, jobs.RegisterQueues(engine, queue.Config{}))

		sender := &MockEmailSender{}
		sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(p email.SendEmailParams) bool {
			return p.SendTo == "user@example.com" && strings.Contains(p.BodyHTML, "Welcome")
		})).Return(nil).Once()

		require.NoError(t, jobs.Register(engine, jobs.Config{}, jobs.Deps{
			Sender:  sender,
			Storage: newLocalStorage(t),
			Guard:   queue.NewMemoryGuard(),
			Dumper:  fakeDumper{out: "id\n1\n"},
			Logger:  discardLogger(),
		}))
		for _, q := range engine.Queues() {
			assert.True(t, q.HasProcessor(), q.Name())
		}

		require.NoError(t, engine.Start(ctx))
		t.Cleanup(func() { _ = engine.Stop() })

		emailID, err := engine.Enqueue(ctx, jobs.SendEmail{To: "user@example.com", Subject: "Hi", Template: "welcome"})
		require.NoError(t, err)
		backupID, err := engine.Enqueue(ctx, jobs.DatabaseBackup{Reason: "manual"})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			e, err := broker.Job(ctx, jobs.QueueEmail, emailID)
			if err != nil || e.State != queue.StateCompleted {
				return false
			}
			b, err := broker.Job(ctx, jobs.QueueBackups, backupID)
			return err == nil && b.State == queue.StateCompleted
		}, 2*time.Second, 10*time.Millisecond)

		sender.AssertExpectations(t)
	})

	t.Run("invalid payloads are rejected at enqueue", func(t *testing.T) {
		t.Parallel()

		engine, _ := newJobsEngine(t)
		_, err := engine.Enqueue(context.Background(), jobs.SendEmail{To: "nobody"})
		assert.ErrorIs(t, err, queue.ErrInvalidPayload)
	})
}
