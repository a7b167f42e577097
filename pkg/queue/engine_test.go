package queue_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/broadcast"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

func fastRetry() queue.ProcessorOption {
	return queue.WithBackoff(queue.FixedBackoff(time.Millisecond))
}

func waitForEvent(t *testing.T, sub broadcast.Subscriber[queue.Event], jobID string, tr queue.Transition) queue.Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-sub.Receive(context.Background()):
			require.True(t, ok, "subscriber closed")
			if msg.Data.JobID == jobID && msg.Data.Transition == tr {
				return msg.Data
			}
		case <-timeout:
			t.Fatalf("no %s event for job %s", tr, jobID)
			return queue.Event{}
		}
	}
}

func TestNewEngine(t *testing.T) {
	t.Parallel()

	_, err := queue.NewEngine(nil)
	assert.ErrorIs(t, err, queue.ErrBrokerNil)
}

func TestEngine_RegisterQueue(t *testing.T) {
	t.Parallel()

	t.Run("applies defaults", func(t *testing.T) {
		t.Parallel()
		engine := newTestEngine(t, queue.NewMemoryBroker())

		q, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails"})
		require.NoError(t, err)

		cfg := q.Config()
		assert.Equal(t, queue.DefaultConcurrency, cfg.Concurrency)
		assert.Equal(t, queue.DefaultMaxAttempts, cfg.MaxAttempts)
		assert.Equal(t, queue.PriorityDefault, cfg.DefaultPriority)
		assert.Equal(t, queue.DefaultLeaseDuration, cfg.LeaseDuration)
		assert.NotNil(t, cfg.Backoff)
		assert.False(t, q.HasProcessor())
		assert.Nil(t, q.Worker())
	})

	t.Run("rejects duplicates and bad names", func(t *testing.T) {
		t.Parallel()
		engine := newTestEngine(t, queue.NewMemoryBroker())

		_, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails"})
		require.NoError(t, err)

		_, err = engine.RegisterQueue(queue.QueueConfig{Name: "emails"})
		assert.ErrorIs(t, err, queue.ErrQueueAlreadyRegistered)

		_, err = engine.RegisterQueue(queue.QueueConfig{Name: "bad name!"})
		assert.ErrorIs(t, err, queue.ErrInvalidQueueName)

		_, err = engine.RegisterQueue(queue.QueueConfig{Name: "urgent", DefaultPriority: 500})
		assert.ErrorIs(t, err, queue.ErrInvalidPriority)
	})

	t.Run("queues are sorted by name", func(t *testing.T) {
		t.Parallel()
		engine := newTestEngine(t, queue.NewMemoryBroker())

		for _, name := range []string{"reports", "backups", "emails"} {
			_, err := engine.RegisterQueue(queue.QueueConfig{Name: name})
			require.NoError(t, err)
		}

		var names []string
		for _, q := range engine.Queues() {
			names = append(names, q.Name())
		}
		assert.Equal(t, []string{"backups", "emails", "reports"}, names)
	})
}

func TestRegisterProcessor(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, emailPayload, queue.Progress) error { return nil }

	t.Run("requires registered queue", func(t *testing.T) {
		t.Parallel()
		engine := newTestEngine(t, queue.NewMemoryBroker())

		err := queue.RegisterProcessor(engine, noop)
		assert.ErrorIs(t, err, queue.ErrUnknownQueue)
	})

	t.Run("one processor per queue", func(t *testing.T) {
		t.Parallel()
		engine := newTestEngine(t, queue.NewMemoryBroker())
		_, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails"})
		require.NoError(t, err)

		require.NoError(t, queue.RegisterProcessor(engine, noop, queue.WithConcurrency(10)))

		err = queue.RegisterProcessor(engine, func(context.Context, digestPayload, queue.Progress) error { return nil })
		assert.ErrorIs(t, err, queue.ErrProcessorAlreadyRegistered)

		q, err := engine.Queue("emails")
		require.NoError(t, err)
		assert.True(t, q.HasProcessor())
		assert.Equal(t, 10, q.Config().Concurrency)
		require.NotNil(t, q.Worker())
		assert.Equal(t, "emails", q.Worker().Queue())
	})

	t.Run("nil processor", func(t *testing.T) {
		t.Parallel()
		engine := newTestEngine(t, queue.NewMemoryBroker())

		err := queue.RegisterProcessor[emailPayload](engine, nil)
		assert.ErrorIs(t, err, queue.ErrProcessorNil)
	})
}

func TestEngine_Enqueue(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) (*queue.Engine, *queue.MemoryBroker) {
		t.Helper()
		broker := queue.NewMemoryBroker()
		engine := newTestEngine(t, broker)
		for _, name := range []string{"emails", "reports"} {
			_, err := engine.RegisterQueue(queue.QueueConfig{Name: name})
			require.NoError(t, err)
		}
		return engine, broker
	}

	t.Run("stores job with queue defaults", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		engine, broker := setup(t)

		id, err := engine.Enqueue(ctx, emailPayload{To: "user@example.com", Subject: "Welcome"})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		job, err := broker.Job(ctx, "emails", id)
		require.NoError(t, err)
		assert.Equal(t, queue.StateWaiting, job.State)
		assert.Equal(t, queue.PriorityDefault, job.Priority)
		assert.Equal(t, queue.DefaultMaxAttempts, job.MaxAttempts)
		assert.Equal(t, "queue_test.emailPayload", job.Name)
		assert.JSONEq(t, `{"to":"user@example.com","subject":"Welcome"}`, string(job.Payload))
	})

	t.Run("options override defaults", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		engine, broker := setup(t)

		id, err := engine.Enqueue(ctx, emailPayload{To: "vip@example.com"},
			queue.WithPriority(queue.PriorityCritical),
			queue.WithMaxAttempts(7),
			queue.WithDelay(time.Hour),
			queue.WithJobID("welcome-vip"))
		require.NoError(t, err)
		assert.Equal(t, "welcome-vip", id)

		job, err := broker.Job(ctx, "emails", id)
		require.NoError(t, err)
		assert.Equal(t, queue.StateDelayed, job.State)
		assert.Equal(t, queue.PriorityCritical, job.Priority)
		assert.Equal(t, 7, job.MaxAttempts)
	})

	t.Run("duplicate job id returns existing id", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		engine, broker := setup(t)

		first, err := engine.Enqueue(ctx, emailPayload{To: "a@example.com"}, queue.WithJobID("welcome-1"))
		require.NoError(t, err)
		second, err := engine.Enqueue(ctx, emailPayload{To: "b@example.com"}, queue.WithJobID("welcome-1"))
		require.NoError(t, err)
		assert.Equal(t, first, second)

		counts, err := broker.Counts(ctx, "emails")
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts.Waiting)

		job, err := broker.Job(ctx, "emails", "welcome-1")
		require.NoError(t, err)
		assert.Contains(t, string(job.Payload), "a@example.com")
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		engine, _ := setup(t)
		require.NoError(t, queue.RegisterProcessor(engine, func(context.Context, emailPayload, queue.Progress) error { return nil }))

		_, err := engine.Enqueue(ctx, nil)
		assert.ErrorIs(t, err, queue.ErrPayloadNil)

		_, err = engine.Enqueue(ctx, (*emailPayload)(nil))
		assert.ErrorIs(t, err, queue.ErrPayloadNil)

		_, err = engine.Enqueue(ctx, digestPayload{Day: "monday"})
		assert.ErrorIs(t, err, queue.ErrPayloadMismatch)

		_, err = engine.Enqueue(ctx, reportPayload{})
		assert.ErrorIs(t, err, queue.ErrInvalidPayload)

		_, err = engine.Enqueue(ctx, emailPayload{To: "x@example.com"}, queue.WithPriority(101))
		assert.ErrorIs(t, err, queue.ErrInvalidPriority)

		_, err = engine.Enqueue(ctx, emailPayload{To: "x@example.com"}, queue.WithMaxAttempts(0))
		assert.ErrorIs(t, err, queue.ErrInvalidMaxAttempts)
	})

	t.Run("unknown queue", func(t *testing.T) {
		t.Parallel()
		engine := newTestEngine(t, queue.NewMemoryBroker())

		_, err := engine.Enqueue(context.Background(), emailPayload{To: "x@example.com"})
		assert.ErrorIs(t, err, queue.ErrUnknownQueue)
	})

	t.Run("broker unavailable", func(t *testing.T) {
		t.Parallel()
		engine, broker := setup(t)
		broker.SetUnavailable(errors.New("connection refused"))

		_, err := engine.Enqueue(context.Background(), emailPayload{To: "x@example.com"})
		assert.ErrorIs(t, err, queue.ErrBrokerUnavailable)
		assert.ErrorIs(t, engine.Ping(context.Background()), queue.ErrBrokerUnavailable)
	})

	t.Run("concurrent with processor registration", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		engine, broker := setup(t)

		registered := make(chan error, 1)
		go func() {
			registered <- queue.RegisterProcessor(engine,
				func(context.Context, emailPayload, queue.Progress) error { return nil },
				queue.WithConcurrency(3))
		}()

		for range 50 {
			_, err := engine.Enqueue(ctx, emailPayload{To: "x@example.com"})
			require.NoError(t, err)
		}
		require.NoError(t, <-registered)

		counts, err := broker.Counts(ctx, "emails")
		require.NoError(t, err)
		assert.Equal(t, int64(50), counts.Waiting)
	})
}

func TestEngine_Start(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, queue.NewMemoryBroker())
	_, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails"})
	require.NoError(t, err)

	assert.ErrorIs(t, engine.Start(context.Background()), queue.ErrNoProcessors)

	require.NoError(t, queue.RegisterProcessor(engine, func(context.Context, emailPayload, queue.Progress) error { return nil }))
	require.NoError(t, engine.Start(context.Background()))
	assert.ErrorIs(t, engine.Start(context.Background()), queue.ErrAlreadyStarted)

	err = queue.RegisterProcessor(engine, func(context.Context, reportPayload, queue.Progress) error { return nil })
	assert.ErrorIs(t, err, queue.ErrAlreadyStarted)

	require.NoError(t, engine.Stop())
	require.NoError(t, engine.Stop())
}

func TestEngine_Processing(t *testing.T) {
	t.Parallel()

	t.Run("retries until success", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		broker := queue.NewMemoryBroker()
		engine := newTestEngine(t, broker)
		_, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails", MaxAttempts: 5})
		require.NoError(t, err)

		var calls atomic.Int32
		require.NoError(t, queue.RegisterProcessor(engine, func(ctx context.Context, p emailPayload, _ queue.Progress) error {
			if calls.Add(1) <= 2 {
				return errors.New("smtp timeout")
			}
			return nil
		}, fastRetry()))

		require.NoError(t, engine.Start(ctx))
		id, err := engine.Enqueue(ctx, emailPayload{To: "user@example.com"})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return jobState(broker, "emails", id) == queue.StateCompleted
		}, 3*time.Second, 10*time.Millisecond)

		job, err := broker.Job(ctx, "emails", id)
		require.NoError(t, err)
		assert.Equal(t, 3, job.Attempts)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("fails after max attempts and reports once", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		broker := queue.NewMemoryBroker()

		reports := make(chan queue.ErrorReport, 10)
		engine := newTestEngine(t, broker, queue.WithErrorReporter(
			queue.ErrorReporterFunc(func(_ context.Context, r queue.ErrorReport) error {
				reports <- r
				return nil
			}),
		))
		_, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails", MaxAttempts: 3})
		require.NoError(t, err)

		var calls atomic.Int32
		require.NoError(t, queue.RegisterProcessor(engine, func(context.Context, emailPayload, queue.Progress) error {
			calls.Add(1)
			return errors.New("smtp unavailable")
		}, fastRetry()))

		require.NoError(t, engine.Start(ctx))
		id, err := engine.Enqueue(ctx, emailPayload{To: "user@example.com"})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return jobState(broker, "emails", id) == queue.StateFailed
		}, 3*time.Second, 10*time.Millisecond)

		job, err := broker.Job(ctx, "emails", id)
		require.NoError(t, err)
		assert.Equal(t, 3, job.Attempts)
		assert.Equal(t, "smtp unavailable", job.LastError)
		assert.False(t, job.Permanent)

		require.NoError(t, engine.Stop())
		assert.Equal(t, int32(3), calls.Load())

		require.Len(t, reports, 1)
		r := <-reports
		assert.Equal(t, queue.ReportJobFailed, r.Kind)
		assert.Equal(t, id, r.JobID)
		assert.Equal(t, 3, r.Attempts)
		assert.Equal(t, 3, r.MaxAttempts)
	})

	t.Run("permanent errors are flagged", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		broker := queue.NewMemoryBroker()
		engine := newTestEngine(t, broker)
		_, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails", MaxAttempts: 2})
		require.NoError(t, err)

		require.NoError(t, queue.RegisterProcessor(engine, func(context.Context, emailPayload, queue.Progress) error {
			return queue.Permanent(errors.New("mailbox does not exist"))
		}, fastRetry()))

		require.NoError(t, engine.Start(ctx))
		id, err := engine.Enqueue(ctx, emailPayload{To: "nobody@example.com"})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return jobState(broker, "emails", id) == queue.StateFailed
		}, 3*time.Second, 10*time.Millisecond)

		job, err := broker.Job(ctx, "emails", id)
		require.NoError(t, err)
		assert.True(t, job.Permanent)
		assert.Equal(t, 2, job.Attempts)
		assert.Equal(t, "mailbox does not exist", job.LastError)
	})

	t.Run("panics fail the attempt", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		broker := queue.NewMemoryBroker()
		engine := newTestEngine(t, broker)
		_, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails", MaxAttempts: 1})
		require.NoError(t, err)

		require.NoError(t, queue.RegisterProcessor(engine, func(context.Context, emailPayload, queue.Progress) error {
			panic("template missing")
		}))

		require.NoError(t, engine.Start(ctx))
		id, err := engine.Enqueue(ctx, emailPayload{To: "user@example.com"})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return jobState(broker, "emails", id) == queue.StateFailed
		}, 3*time.Second, 10*time.Millisecond)

		job, err := broker.Job(ctx, "emails", id)
		require.NoError(t, err)
		assert.Contains(t, job.LastError, "template missing")
	})

	t.Run("processor sees job and reports progress", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		broker := queue.NewMemoryBroker()
		engine := newTestEngine(t, broker)
		_, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails"})
		require.NoError(t, err)

		sub, err := engine.Subscribe(ctx)
		require.NoError(t, err)

		seen := make(chan *queue.Job, 1)
		require.NoError(t, queue.RegisterProcessor(engine, func(ctx context.Context, p emailPayload, progress queue.Progress) error {
			job, ok := queue.JobFromContext(ctx)
			if ok {
				seen <- job
			}
			assert.Equal(t, "user@example.com", p.To)
			return progress.Update(ctx, 50)
		}))

		require.NoError(t, engine.Start(ctx))
		id, err := engine.Enqueue(ctx, emailPayload{To: "user@example.com"})
		require.NoError(t, err)

		waitForEvent(t, sub, id, queue.TransitionActive)
		ev := waitForEvent(t, sub, id, queue.TransitionProgress)
		assert.Equal(t, 50, ev.Progress)
		ev = waitForEvent(t, sub, id, queue.TransitionCompleted)
		assert.Equal(t, 1, ev.Attempt)

		select {
		case job := <-seen:
			assert.Equal(t, id, job.ID)
			assert.Equal(t, "emails", job.Queue)
		default:
			t.Fatal("job missing from processor context")
		}
	})

	t.Run("every lease gets its own token", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		broker := queue.NewMemoryBroker()
		engine := newTestEngine(t, broker)
		q, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails", Concurrency: 2})
		require.NoError(t, err)

		tokens := make(chan string, 2)
		require.NoError(t, queue.RegisterProcessor(engine, func(ctx context.Context, _ emailPayload, progress queue.Progress) error {
			job, _ := queue.JobFromContext(ctx)
			tokens <- job.WorkerID
			return progress.Update(ctx, 10)
		}))

		for range 2 {
			_, err := engine.Enqueue(ctx, emailPayload{To: "user@example.com"})
			require.NoError(t, err)
		}
		require.NoError(t, engine.Start(ctx))

		require.Eventually(t, func() bool {
			counts, err := broker.Counts(ctx, "emails")
			return err == nil && counts.Completed == 2
		}, 3*time.Second, 10*time.Millisecond)

		first, second := <-tokens, <-tokens
		prefix := q.Worker().ID() + ":"
		assert.True(t, strings.HasPrefix(first, prefix), first)
		assert.True(t, strings.HasPrefix(second, prefix), second)
		assert.NotEqual(t, first, second)
	})

	t.Run("pause and resume", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		broker := queue.NewMemoryBroker()
		engine := newTestEngine(t, broker)
		q, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails"})
		require.NoError(t, err)
		require.NoError(t, queue.RegisterProcessor(engine, func(context.Context, emailPayload, queue.Progress) error { return nil }))

		require.NoError(t, q.Pause(ctx))
		require.NoError(t, engine.Start(ctx))

		id, err := engine.Enqueue(ctx, emailPayload{To: "user@example.com"})
		require.NoError(t, err)

		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, queue.StateWaiting, jobState(broker, "emails", id))

		counts, err := q.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts.Paused)

		require.NoError(t, q.Resume(ctx))
		require.Eventually(t, func() bool {
			return jobState(broker, "emails", id) == queue.StateCompleted
		}, 3*time.Second, 10*time.Millisecond)
	})

	t.Run("processes waiting jobs by priority", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		broker := queue.NewMemoryBroker()
		engine := newTestEngine(t, broker)
		_, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails", Concurrency: 1})
		require.NoError(t, err)

		var mu sync.Mutex
		var order []string
		require.NoError(t, queue.RegisterProcessor(engine, func(_ context.Context, p emailPayload, _ queue.Progress) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, p.Subject)
			return nil
		}))

		for _, prio := range []queue.Priority{5, 1, 3} {
			_, err := engine.Enqueue(ctx, emailPayload{To: "user@example.com", Subject: fmt.Sprint(prio)}, queue.WithPriority(prio))
			require.NoError(t, err)
		}
		require.NoError(t, engine.Start(ctx))

		require.Eventually(t, func() bool {
			counts, err := broker.Counts(ctx, "emails")
			return err == nil && counts.Completed == 3
		}, 3*time.Second, 10*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"1", "3", "5"}, order)
	})

	t.Run("respects concurrency limit", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		broker := queue.NewMemoryBroker()
		engine := newTestEngine(t, broker)
		_, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails", Concurrency: 2})
		require.NoError(t, err)

		var running, peak atomic.Int32
		require.NoError(t, queue.RegisterProcessor(engine, func(context.Context, emailPayload, queue.Progress) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			running.Add(-1)
			return nil
		}))

		require.NoError(t, engine.Start(ctx))
		for range 6 {
			_, err := engine.Enqueue(ctx, emailPayload{To: "user@example.com"})
			require.NoError(t, err)
		}

		require.Eventually(t, func() bool {
			counts, err := broker.Counts(ctx, "emails")
			return err == nil && counts.Completed == 6
		}, 3*time.Second, 10*time.Millisecond)
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("stop waits for in-flight jobs", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		broker := queue.NewMemoryBroker()
		engine := newTestEngine(t, broker)
		_, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails"})
		require.NoError(t, err)

		started := make(chan struct{})
		release := make(chan struct{})
		require.NoError(t, queue.RegisterProcessor(engine, func(ctx context.Context, _ emailPayload, _ queue.Progress) error {
			close(started)
			<-release
			return ctx.Err()
		}))

		require.NoError(t, engine.Start(ctx))
		id, err := engine.Enqueue(ctx, emailPayload{To: "user@example.com"})
		require.NoError(t, err)
		<-started

		stopped := make(chan error, 1)
		go func() { stopped <- engine.Stop() }()

		select {
		case <-stopped:
			t.Fatal("stop returned while a job was running")
		case <-time.After(50 * time.Millisecond):
		}

		close(release)
		select {
		case err := <-stopped:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("stop did not return")
		}
		assert.Equal(t, queue.StateCompleted, jobState(broker, "emails", id))
	})
}

func TestWorker_CheckStalled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := queue.NewMemoryBroker()

	reports := make(chan queue.ErrorReport, 10)
	engine := newTestEngine(t, broker, queue.WithErrorReporter(
		queue.ErrorReporterFunc(func(_ context.Context, r queue.ErrorReport) error {
			reports <- r
			return nil
		}),
	))
	q, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails", MaxAttempts: 3})
	require.NoError(t, err)
	require.NoError(t, queue.RegisterProcessor(engine, func(context.Context, emailPayload, queue.Progress) error { return nil }))

	sub, err := engine.Subscribe(ctx)
	require.NoError(t, err)

	id, err := engine.Enqueue(ctx, emailPayload{To: "user@example.com"})
	require.NoError(t, err)

	// a worker that died mid-job
	_, err = broker.Lease(ctx, "emails", "crashed-worker", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	stalled, err := q.Worker().CheckStalled(ctx)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, id, stalled[0].ID)
	assert.Equal(t, queue.StateWaiting, stalled[0].State)

	stalled, err = q.Worker().CheckStalled(ctx)
	require.NoError(t, err)
	assert.Empty(t, stalled)

	ev := waitForEvent(t, sub, id, queue.TransitionStalled)
	assert.Equal(t, 1, ev.Attempt)

	require.NoError(t, engine.Start(ctx))
	require.Eventually(t, func() bool {
		return jobState(broker, "emails", id) == queue.StateCompleted
	}, 3*time.Second, 10*time.Millisecond)

	job, err := broker.Job(ctx, "emails", id)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)

	require.NoError(t, engine.Stop())
	require.Len(t, reports, 1)
	assert.Equal(t, queue.ReportJobStalled, (<-reports).Kind)
}
