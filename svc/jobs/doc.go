// Package jobs defines the application's background jobs: typed payloads,
// their processors, the queue table and the recurring triggers.
//
// Wiring a process:
//
//	engine, _ := queue.NewEngine(broker)
//	if err := jobs.RegisterQueues(engine, queueCfg); err != nil {
//		return err
//	}
//	if err := jobs.Register(engine, jobsCfg, jobs.Deps{
//		Sender:  sender,
//		Storage: storage,
//		Guard:   queue.NewRedisGuard(client, "jobkit", 24*time.Hour),
//		Dumper:  jobs.NewCopyDumper(pool, jobsCfg.BackupTables),
//	}); err != nil {
//		return err
//	}
//
// Producers enqueue payloads through the engine:
//
//	id, err := engine.Enqueue(ctx, jobs.SendEmail{
//		To:       "user@example.com",
//		Subject:  "Welcome",
//		Template: "welcome",
//	})
//
// Side effects that must not repeat on redelivery (sending an email) run
// inside queue.Guard.Once keyed by the job ID.
package jobs
