package queue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func (emailPayload) QueueName() string { return "emails" }

// digestPayload targets the same queue as emailPayload with a different shape.
type digestPayload struct {
	Day string `json:"day"`
}

func (digestPayload) QueueName() string { return "emails" }

type reportPayload struct {
	Period string `json:"period"`
}

func (reportPayload) QueueName() string { return "reports" }

func (p reportPayload) Validate() error {
	if p.Period == "" {
		return errors.New("period is required")
	}
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRedisClient(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

type brokerFactory func(t *testing.T, now func() time.Time) queue.Broker

func brokerFactories() map[string]brokerFactory {
	return map[string]brokerFactory{
		"memory": func(t *testing.T, now func() time.Time) queue.Broker {
			b := queue.NewMemoryBroker(queue.WithMemoryClock(now))
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
		"redis": func(t *testing.T, now func() time.Time) queue.Broker {
			_, client := newRedisClient(t)
			b, err := queue.NewRedisBroker(client,
				queue.WithRedisClock(now),
				queue.WithRedisLogger(discardLogger()))
			require.NoError(t, err)
			return b
		},
	}
}

func addJob(t *testing.T, b queue.Broker, clock *testClock, id string, prio queue.Priority) *queue.Job {
	t.Helper()

	job := &queue.Job{
		ID:          id,
		Queue:       "emails",
		Name:        "queue_test.emailPayload",
		Payload:     []byte(`{"to":"user@example.com"}`),
		Priority:    prio,
		MaxAttempts: 3,
		CreatedAt:   clock.Now(),
		ScheduledAt: clock.Now(),
	}
	created, err := b.Add(context.Background(), job)
	require.NoError(t, err)
	require.True(t, created)
	return job
}

func newTestEngine(t *testing.T, b queue.Broker, opts ...queue.EngineOption) *queue.Engine {
	t.Helper()

	opts = append([]queue.EngineOption{
		queue.WithLogger(discardLogger()),
		queue.WithPollInterval(10 * time.Millisecond),
	}, opts...)

	engine, err := queue.NewEngine(b, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func jobState(b queue.Broker, queueName, id string) queue.JobState {
	job, err := b.Job(context.Background(), queueName, id)
	if err != nil {
		return ""
	}
	return job.State
}
