package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

func TestGuard(t *testing.T) {
	t.Parallel()

	guards := map[string]func(t *testing.T) queue.Guard{
		"memory": func(t *testing.T) queue.Guard { return queue.NewMemoryGuard() },
		"redis": func(t *testing.T) queue.Guard {
			_, client := newRedisClient(t)
			return queue.NewRedisGuard(client, "test", time.Hour)
		},
	}

	for name, newGuard := range guards {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			t.Run("runs a step once", func(t *testing.T) {
				t.Parallel()
				ctx := context.Background()
				g := newGuard(t)

				calls := 0
				step := func(context.Context) error { calls++; return nil }

				executed, err := g.Once(ctx, "job-1", "send-email", step)
				require.NoError(t, err)
				assert.True(t, executed)

				executed, err = g.Once(ctx, "job-1", "send-email", step)
				require.NoError(t, err)
				assert.False(t, executed)

				executed, err = g.Once(ctx, "job-1", "charge-card", step)
				require.NoError(t, err)
				assert.True(t, executed)

				executed, err = g.Once(ctx, "job-2", "send-email", step)
				require.NoError(t, err)
				assert.True(t, executed)

				assert.Equal(t, 3, calls)
			})

			t.Run("failed step can run again", func(t *testing.T) {
				t.Parallel()
				ctx := context.Background()
				g := newGuard(t)

				boom := errors.New("provider down")
				executed, err := g.Once(ctx, "job-1", "send-email", func(context.Context) error { return boom })
				assert.ErrorIs(t, err, boom)
				assert.True(t, executed)

				executed, err = g.Once(ctx, "job-1", "send-email", func(context.Context) error { return nil })
				require.NoError(t, err)
				assert.True(t, executed)
			})
		})
	}

	t.Run("redis claim expires", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		srv, client := newRedisClient(t)
		g := queue.NewRedisGuard(client, "test", time.Minute)

		_, err := g.Once(ctx, "job-1", "send-email", func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.True(t, srv.Exists("test:guard:job-1:send-email"))

		srv.FastForward(2 * time.Minute)

		executed, err := g.Once(ctx, "job-1", "send-email", func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.True(t, executed)
	})
}
