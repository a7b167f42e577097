// Package audit records administrative actions taken against the job engine.
//
// Every mutation exposed by the admin API (retrying or removing jobs, cleaning
// queues, pausing and resuming) is written as an Event with the acting
// principal, the affected resource and the outcome.
//
// # Usage
//
//	storage := audit.NewPostgresStorage(pool)
//	async := audit.NewAsyncStorage(storage, audit.AsyncOptions{})
//	defer async.Close(ctx)
//
//	log := audit.NewLogger(async,
//	    audit.WithRequestIDExtractor(func(ctx context.Context) (string, bool) {
//	        id := requestid.FromContext(ctx)
//	        return id, id != ""
//	    }),
//	)
//
//	err := log.Log(ctx, "queue.pause", audit.WithResource("queue", "email"))
//
// Reading the trail back:
//
//	events, err := audit.NewReader(storage).Find(ctx, audit.Criteria{
//	    Resource: "queue",
//	    Limit:    50,
//	})
//
// # Storage
//
// PostgresStorage writes through pgx with COPY and reads with parameterized
// queries. Its schema ships as goose migrations in Migrations and is applied
// with pg.MigrateFS. MemoryStorage serves development and tests.
//
// AsyncStorage batches writes in the background. Store still waits for the
// batch containing its event, so errors reach the caller. When the buffer is
// full the write happens synchronously.
package audit
