// Package monitor reports on and administers a job engine.
//
// A Monitor reads queue counts and job samples straight from the broker and
// derives performance figures (average processing time, success rate,
// throughput, stalls) from lifecycle events it consumes while Run is active.
// Health is evaluated per queue against Config thresholds; the overall status
// is the worst queue status, or critical when the broker is unreachable.
//
//	mon, err := monitor.New(engine, cfg,
//		monitor.WithScheduler(scheduler),
//		monitor.WithAuditor(audit.NewLogger(storage, audit.WithActorExtractor(monitor.ActorExtractor))),
//	)
//	g.Go(mon.Run(ctx))
//
// Admin mutations (retry, clean, remove, pause, resume) are idempotent and
// each one is written to the audit log when an Auditor is attached.
//
// # HTTP API
//
// NewHandler mounts a chi router under /jobs. Requests must carry
// "Authorization: Bearer <token>" and are rate limited per client IP.
// Read endpoints answer {"data": ..., "meta": ...} or {"error": {...}};
// mutations answer {"success": bool, "message": string, "count": n}.
// Unknown queues and malformed parameters give 400, unknown jobs 404, broker
// failures 500, and GET /jobs/health gives 503 while the status is critical.
package monitor
