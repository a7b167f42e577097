package monitor_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/monitor"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

type reportPayload struct {
	Period string `json:"period"`
}

func (reportPayload) QueueName() string { return "reports" }

type emailPayload struct {
	To string `json:"to"`
}

func (emailPayload) QueueName() string { return "emails" }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
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

type fixture struct {
	engine *queue.Engine
	broker *queue.MemoryBroker
	clock  *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := newTestClock()
	broker := queue.NewMemoryBroker(queue.WithMemoryClock(clock.Now))
	engine, err := queue.NewEngine(broker,
		queue.WithLogger(discardLogger()),
		queue.WithPollInterval(10*time.Millisecond),
		queue.WithClock(clock.Now),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = engine.Close()
		_ = broker.Close()
	})

	for _, name := range []string{"reports", "emails"} {
		_, err := engine.RegisterQueue(queue.QueueConfig{Name: name})
		require.NoError(t, err)
	}
	return &fixture{engine: engine, broker: broker, clock: clock}
}

func (f *fixture) monitor(t *testing.T, cfg monitor.Config, opts ...monitor.Option) *monitor.Monitor {
	t.Helper()

	opts = append([]monitor.Option{
		monitor.WithLogger(discardLogger()),
		monitor.WithClock(f.clock.Now),
	}, opts...)
	m, err := monitor.New(f.engine, cfg, opts...)
	require.NoError(t, err)
	return m
}

// failReports enqueues n single-attempt report jobs and fails each of them,
// one second apart.
func (f *fixture) failReports(t *testing.T, n int) []string {
	t.Helper()
	ctx := context.Background()

	ids := make([]string, 0, n)
	for i := range n {
		id, err := f.engine.Enqueue(ctx, reportPayload{Period: fmt.Sprintf("2025-%02d", i+1)}, queue.WithMaxAttempts(1))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for range n {
		job, err := f.broker.Lease(ctx, "reports", "w1", time.Minute)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
		_, err = f.broker.Fail(ctx, "reports", job.ID, "w1", queue.Failure{Error: "renderer crashed"})
		require.NoError(t, err)
	}
	return ids
}

func (f *fixture) enqueueEmails(t *testing.T, n int) {
	t.Helper()

	for i := range n {
		_, err := f.engine.Enqueue(context.Background(), emailPayload{To: fmt.Sprintf("user%d@example.com", i)})
		require.NoError(t, err)
	}
}
