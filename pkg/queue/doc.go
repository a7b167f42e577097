// Package queue provides a background job engine backed by a shared broker.
//
// Jobs are JSON payloads enqueued into named queues. Each queue has at most one
// processor, bound to a single payload type, and a worker that leases jobs under
// a concurrency limit. Failed jobs are retried with backoff until their attempt
// budget runs out; jobs whose lease expires are detected as stalled and requeued.
//
// # Architecture
//
//  1. A Broker stores jobs and mediates leases. RedisBroker is the production
//     implementation; MemoryBroker serves tests and single-process setups.
//  2. An Engine owns registered queues, starts their workers and exposes the
//     lifecycle event bus fed by every process sharing the broker.
//  3. A Scheduler fires triggers on cron or wall-clock schedules, each evaluated
//     in its own time zone, and enqueues jobs through the Engine.
//  4. Guard gives processors at-most-once side effects across retries.
//
// # Usage
//
//	type WelcomeEmail struct {
//	    UserID string `json:"user_id"`
//	}
//
//	func (WelcomeEmail) QueueName() string { return "emails" }
//
//	broker, _ := queue.NewRedisBroker(client)
//	engine, _ := queue.NewEngine(broker, queue.WithLogger(log))
//
//	if _, err := engine.RegisterQueue(queue.QueueConfig{Name: "emails", Concurrency: 10}); err != nil {
//	    return err
//	}
//
//	err := queue.RegisterProcessor(engine, func(ctx context.Context, p WelcomeEmail, progress queue.Progress) error {
//	    return mailer.SendWelcome(ctx, p.UserID)
//	})
//
//	id, err := engine.Enqueue(ctx, WelcomeEmail{UserID: "42"}, queue.WithDelay(time.Minute))
//
// Periodic work:
//
//	sched, _ := queue.NewScheduler(engine)
//	_ = sched.AddCron("daily-report", "0 9 * * *", berlin, queue.StaticPayload(Report{}))
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(engine.Run(ctx))
//	g.Go(sched.Run(ctx))
//
// # Error handling
//
// Processors return an error to request a retry. Wrapping it with Permanent
// flags the job so operators can filter it in the failed set; it still consumes
// an attempt. Broker outages surface as ErrBrokerUnavailable.
package queue
