package audit_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/audit"
	"github.com/dmitrymomot/jobkit/pkg/pg"
)

// Runs against a real database when AUDIT_TEST_PG_URL is set.
func TestPostgresStorage(t *testing.T) {
	url := os.Getenv("AUDIT_TEST_PG_URL")
	if url == "" {
		t.Skip("AUDIT_TEST_PG_URL not set")
	}

	ctx := context.Background()
	cfg := pg.Config{
		ConnectionString: url,
		MaxOpenConns:     4,
		RetryAttempts:    1,
		RetryInterval:    time.Second,
		MigrationsTable:  "jobkit_migrations_test",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.MigrateFS(ctx, pool, audit.Migrations, audit.MigrationsDir, cfg, slog.Default()))

	storage := audit.NewPostgresStorage(pool)
	marker := "test-" + time.Now().Format("150405.000000")
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, storage.Store(ctx,
		audit.Event{ID: marker + "-1", Actor: marker, Action: "queue.pause", Resource: "queue", ResourceID: "email", Result: audit.ResultSuccess, CreatedAt: now},
		audit.Event{ID: marker + "-2", Actor: marker, Action: "job.retry", Resource: "job", ResourceID: "email/1", Result: audit.ResultSuccess,
			Metadata: map[string]any{"attempts": float64(3)}, CreatedAt: now.Add(time.Second)},
	))

	events, err := storage.Query(ctx, audit.Criteria{Actor: marker})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, marker+"-2", events[0].ID)
	assert.Equal(t, float64(3), events[0].Metadata["attempts"])
	assert.Nil(t, events[1].Metadata)

	n, err := storage.Count(ctx, audit.Criteria{Actor: marker, Resource: "queue"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = storage.DeleteBefore(ctx, time.Time{})
	assert.ErrorIs(t, err, audit.ErrEventValidation)
}
